package daemon_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"quill/internal/config"
	"quill/internal/daemon"
	"quill/internal/lock"
	"quill/internal/logging"
	"quill/internal/pipeline"
	"quill/internal/queue"
	"quill/internal/retry"
	"quill/internal/snapshot"
	"quill/internal/storage"
	"quill/internal/testsupport"
)

type idleRunner struct{}

func (idleRunner) Execute(context.Context, *queue.Task) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

type fixture struct {
	daemon *daemon.Daemon
	queue  *queue.Queue
}

// newFixture wires a daemon with fresh dependencies on a shared config so
// tests can stand up competing instances.
func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	store := storage.NewStore()
	locks := lock.NewManager()
	q := queue.New(queue.Options{
		StatePath:          cfg.QueueStatePath(),
		PollInterval:       10 * time.Millisecond,
		MaxConcurrent:      2,
		LockTTL:            time.Minute,
		DefaultMaxAttempts: 3,
	}, store, locks, idleRunner{}, retry.NewPolicy(cfg.Retry), nil)
	orch := pipeline.New(cfg, q, pipeline.Collaborators{}, store, nil)

	snaps, err := snapshot.Open(cfg.SnapshotDBPath())
	if err != nil {
		t.Fatalf("snapshot.Open failed: %v", err)
	}

	d, err := daemon.New(cfg, q, orch, locks, snaps, logging.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return &fixture{daemon: d, queue: q}
}

func TestNewRequiresAllDependencies(t *testing.T) {
	if _, err := daemon.New(nil, nil, nil, nil, nil, nil); err == nil {
		t.Fatal("expected error for missing dependencies")
	}
}

func TestStartAndStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	f := newFixture(t, cfg)

	if err := f.daemon.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := f.daemon.Status()
	if !status.Running {
		t.Fatal("status must report running after start")
	}
	if status.LockFilePath != cfg.LockFilePath() {
		t.Fatalf("unexpected lock path: %s", status.LockFilePath)
	}

	if err := f.daemon.Start(context.Background()); err == nil {
		t.Fatal("second start of the same daemon must fail")
	}

	f.daemon.Stop()
	if f.daemon.Status().Running {
		t.Fatal("status must report stopped after stop")
	}
	// Stop is idempotent.
	f.daemon.Stop()
}

func TestSecondInstanceIsRefused(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first := newFixture(t, cfg)
	second := newFixture(t, cfg)

	if err := first.daemon.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := second.daemon.Start(context.Background()); err == nil {
		t.Fatal("a second instance on the same lock file must be refused")
	}

	first.daemon.Stop()
	if err := second.daemon.Start(context.Background()); err != nil {
		t.Fatalf("start after the first instance released the lock failed: %v", err)
	}
	second.daemon.Stop()
}

func TestStatusCountsQueueAndPipelines(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	f := newFixture(t, cfg)

	if err := f.queue.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if _, err := f.queue.Enqueue(queue.EnqueueParams{Resource: "node-1", Type: "classify"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := f.daemon.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := f.daemon.Status()
	if !status.QueuePaused {
		t.Fatal("status must report the paused queue")
	}
	if status.Tasks[queue.StatePending] != 1 {
		t.Fatalf("expected one pending task, got %v", status.Tasks)
	}
	if status.Pipelines != 0 || status.ActiveRuns != 0 {
		t.Fatalf("expected no pipelines, got %+v", status)
	}
	f.daemon.Stop()
}
