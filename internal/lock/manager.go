// Package lock implements the lease-based lock manager used by the task
// queue and the pipeline orchestrator for per-resource mutual exclusion.
//
// Leases rather than blocking mutexes: holders are asynchronous and may
// crash, so every lock expires after its TTL and a periodic sweeper reclaims
// locks whose holders never released them. This trades strict mutual
// exclusion for availability.
package lock

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"quill/internal/logging"
	"quill/internal/services"
)

// Lock describes one live lease.
type Lock struct {
	Resource   string
	Holder     string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// Manager grants and releases named, time-leased locks. At most one live
// (non-expired) lock exists per resource key at any instant.
type Manager struct {
	mu    sync.Mutex
	locks map[string]Lock
	now   func() time.Time
}

// NewManager constructs an empty lock manager.
func NewManager() *Manager {
	return &Manager{
		locks: make(map[string]Lock),
		now:   time.Now,
	}
}

// Acquire grants a lease on resource to holder for ttl. Re-acquiring by the
// same holder succeeds and extends the lease. A live lock under a different
// holder fails with Conflict.
func (m *Manager) Acquire(resource, holder string, ttl time.Duration) (Lock, error) {
	if resource == "" || holder == "" {
		return Lock{}, services.NewError(services.KindInvalidState, "lock.acquire", "resource and holder must be set")
	}
	if ttl <= 0 {
		return Lock{}, services.NewError(services.KindInvalidState, "lock.acquire", "ttl must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if existing, ok := m.locks[resource]; ok && existing.ExpiresAt.After(now) && existing.Holder != holder {
		return Lock{}, services.NewError(services.KindConflict, "lock.acquire", "resource is locked by another holder").
			WithDetail("resource", resource).
			WithDetail("holder", existing.Holder)
	}

	granted := Lock{
		Resource:   resource,
		Holder:     holder,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	m.locks[resource] = granted
	return granted, nil
}

// Release drops the lease on resource. No-op unless held by holder.
func (m *Manager) Release(resource, holder string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.locks[resource]; ok && existing.Holder == holder {
		delete(m.locks, resource)
	}
}

// IsLocked reports whether a non-expired lock exists for resource.
func (m *Manager) IsLocked(resource string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.locks[resource]
	return ok && existing.ExpiresAt.After(m.now())
}

// Holder returns the current live lease for resource, if any.
func (m *Manager) Holder(resource string) (Lock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.locks[resource]
	if !ok || !existing.ExpiresAt.After(m.now()) {
		return Lock{}, false
	}
	return existing, true
}

// EvictAllExpired sweeps every expired lock and returns the count removed.
func (m *Manager) EvictAllExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	evicted := 0
	for resource, existing := range m.locks {
		if !existing.ExpiresAt.After(now) {
			delete(m.locks, resource)
			evicted++
		}
	}
	return evicted
}

// StartSweeper runs EvictAllExpired on an independent periodic timer so a
// crashed holder's lock is reclaimed without relying on the holder's own
// cleanup. It returns when ctx is cancelled.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "lock-sweeper")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := m.EvictAllExpired(); evicted > 0 {
				logger.Info("evicted expired locks", logging.Int("count", evicted))
			}
		}
	}
}
