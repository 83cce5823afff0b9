package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"quill/internal/config"
	"quill/internal/lock"
	"quill/internal/logging"
	"quill/internal/pipeline"
	"quill/internal/queue"
	"quill/internal/snapshot"
)

// snapshotPruneInterval is how often retention is applied to old snapshots.
const snapshotPruneInterval = 6 * time.Hour

// Daemon coordinates the background services and enforces single-instance
// execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	queue     *queue.Queue
	orch      *pipeline.Orchestrator
	locks     *lock.Manager
	snapshots *snapshot.Store

	lockPath string
	flk      *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running        bool
	QueuePaused    bool
	Tasks          map[queue.State]int
	Pipelines      int
	ActiveRuns     int
	QueueStatePath string
	LockFilePath   string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, q *queue.Queue, orch *pipeline.Orchestrator, locks *lock.Manager, snapshots *snapshot.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || q == nil || orch == nil || locks == nil || snapshots == nil || logger == nil {
		return nil, errors.New("daemon requires config, queue, orchestrator, locks, snapshots, and logger")
	}
	lockPath := cfg.LockFilePath()
	return &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		queue:     q,
		orch:      orch,
		locks:     locks,
		snapshots: snapshots,
		lockPath:  lockPath,
		flk:       flock.New(lockPath),
	}, nil
}

// Start acquires the single-instance lock, recovers persisted state, and
// launches the queue, the lease sweeper, and snapshot retention.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.flk.TryLock()
	if err != nil {
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	if !ok {
		return errors.New("another quill daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.queue.Initialize(runCtx); err != nil {
		d.teardownAfterStartFailure()
		return fmt.Errorf("initialize queue: %w", err)
	}
	if err := d.orch.Restore(runCtx); err != nil {
		d.teardownAfterStartFailure()
		return fmt.Errorf("restore pipelines: %w", err)
	}
	if err := d.queue.Start(runCtx); err != nil {
		d.teardownAfterStartFailure()
		return fmt.Errorf("start queue: %w", err)
	}

	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		d.locks.StartSweeper(runCtx, time.Duration(d.cfg.Workflow.LockSweepInterval)*time.Second, d.logger)
	}()
	go d.pruneSnapshots(runCtx)

	d.running.Store(true)
	d.logger.Info("quill daemon started", logging.String("lock", d.lockPath))
	return nil
}

func (d *Daemon) teardownAfterStartFailure() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	_ = d.flk.Unlock()
}

// Stop halts background processing and releases the daemon lock. Running
// tasks are left in their running state for recovery on the next start.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.queue.Stop()
	d.wg.Wait()
	if err := d.flk.Unlock(); err != nil {
		d.logger.Warn("release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("quill daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	d.orch.Close()
	return d.snapshots.Close()
}

// pruneSnapshots applies the snapshot retention policy on a slow timer.
func (d *Daemon) pruneSnapshots(ctx context.Context) {
	defer d.wg.Done()
	retention := time.Duration(d.cfg.Snapshots.RetentionDays) * 24 * time.Hour
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(snapshotPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-retention)
			pruned, err := d.snapshots.PruneOlderThan(ctx, cutoff)
			if err != nil {
				d.logger.Warn("prune snapshots", logging.Error(err))
				continue
			}
			if pruned > 0 {
				d.logger.Info("snapshots pruned", logging.Int64("count", pruned))
			}
		}
	}
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	pipelines := d.orch.List()
	active := 0
	for _, c := range pipelines {
		if !c.Stage.Terminal() {
			active++
		}
	}
	return Status{
		Running:        d.running.Load(),
		QueuePaused:    d.queue.Paused(),
		Tasks:          d.queue.Stats(),
		Pipelines:      len(pipelines),
		ActiveRuns:     active,
		QueueStatePath: d.cfg.QueueStatePath(),
		LockFilePath:   d.lockPath,
	}
}
