package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"quill/internal/config"
	"quill/internal/lock"
	"quill/internal/logging"
	"quill/internal/retry"
	"quill/internal/services"
	"quill/internal/storage"
)

// Runner executes one task. The queue owns scheduling, leases, retries, and
// persistence; the runner owns only the opaque step itself.
type Runner interface {
	Execute(ctx context.Context, task *Task) (json.RawMessage, error)
}

// Options describes queue construction parameters.
type Options struct {
	StatePath          string
	PollInterval       time.Duration
	MaxConcurrent      int
	LockTTL            time.Duration
	DefaultMaxAttempts int
	// ErrorRetryInterval is how long the dispatch loop backs off after a
	// claim is reverted because its durable write failed.
	ErrorRetryInterval time.Duration
}

// OptionsFromConfig maps application config onto queue options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		StatePath:          cfg.QueueStatePath(),
		PollInterval:       time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		MaxConcurrent:      cfg.Workflow.MaxConcurrent,
		LockTTL:            time.Duration(cfg.Workflow.LockTTLSeconds) * time.Second,
		DefaultMaxAttempts: cfg.Workflow.MaxAttempts,
		ErrorRetryInterval: time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
	}
}

// Queue is the durable task queue.
type Queue struct {
	opts   Options
	store  *storage.Store
	locks  *lock.Manager
	runner Runner
	retry  retry.Handler
	logger *slog.Logger

	mu           sync.Mutex
	tasks        []*Task
	byID         map[string]*Task
	paused       bool
	runningCount int

	subMu       sync.Mutex
	subscribers map[int]func(Event)
	nextSubID   int

	wake    chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New constructs a queue. Initialize must be called before Start.
func New(opts Options, store *storage.Store, locks *lock.Manager, runner Runner, retryHandler retry.Handler, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Queue{
		opts:        opts,
		store:       store,
		locks:       locks,
		runner:      runner,
		retry:       retryHandler,
		logger:      logging.NewComponentLogger(logger, "task-queue"),
		byID:        make(map[string]*Task),
		subscribers: make(map[int]func(Event)),
		wake:        make(chan struct{}, 1),
	}
}

// snapshot is the durable form of QueueState: the full ordered task list
// plus the paused flag, written atomically on every mutation.
type snapshot struct {
	Tasks  []*Task `json:"tasks"`
	Paused bool    `json:"paused"`
}

// Initialize loads the last durable snapshot and requeues any task found
// running back to pending: its executor died with the previous process.
// Must be called before Start.
func (q *Queue) Initialize(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	data, err := q.store.Read(q.opts.StatePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return services.WrapError(services.KindPersistenceFailure, "queue.initialize", "read queue snapshot", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return services.WrapError(services.KindPersistenceFailure, "queue.initialize", "decode queue snapshot", err)
	}

	requeued := 0
	now := time.Now().UTC()
	for _, task := range snap.Tasks {
		if task.State == StateRunning {
			task.State = StatePending
			task.NotBefore = nil
			task.UpdatedAt = now
			requeued++
		}
	}

	q.tasks = snap.Tasks
	q.paused = snap.Paused
	q.byID = make(map[string]*Task, len(snap.Tasks))
	for _, task := range snap.Tasks {
		q.byID[task.ID] = task
	}

	if requeued > 0 {
		q.logger.Info("requeued interrupted tasks", logging.Int("count", requeued))
		if err := q.persistLocked(); err != nil {
			return err
		}
	}
	return nil
}

// Start launches the dispatch loop.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return services.NewError(services.KindInvalidState, "queue.start", "dispatch loop already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.started = true
	q.wg.Add(1)
	go q.run(runCtx)
	return nil
}

// Stop halts the dispatch loop and waits for in-flight executions to settle.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	cancel := q.cancel
	q.started = false
	q.cancel = nil
	q.mu.Unlock()

	cancel()
	q.wg.Wait()
}

// EnqueueParams describes a new task.
type EnqueueParams struct {
	Resource    string
	Type        string
	PipelineID  string
	Payload     json.RawMessage
	MaxAttempts int
}

// Enqueue appends a pending task and persists the queue state. A live lock
// on the resource fails with Conflict: the resource is already busy, and
// callers must surface that rather than silently re-enqueue.
func (q *Queue) Enqueue(params EnqueueParams) (*Task, error) {
	if params.Resource == "" {
		return nil, services.NewError(services.KindInvalidState, "queue.enqueue", "resource must be set")
	}
	if params.Type == "" {
		return nil, services.NewError(services.KindInvalidState, "queue.enqueue", "task type must be set")
	}

	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.opts.DefaultMaxAttempts
	}

	now := time.Now().UTC()
	task := &Task{
		ID:          uuid.NewString(),
		Resource:    params.Resource,
		Type:        params.Type,
		State:       StatePending,
		MaxAttempts: maxAttempts,
		PipelineID:  params.PipelineID,
		Payload:     params.Payload,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	q.mu.Lock()
	// The lease check shares q.mu with claimNext; checking before taking
	// the lock would let a task slip past a lease granted in between.
	if q.locks.IsLocked(params.Resource) {
		q.mu.Unlock()
		return nil, services.NewError(services.KindConflict, "queue.enqueue", "resource is busy").
			WithDetail("resource", params.Resource)
	}
	q.tasks = append(q.tasks, task)
	q.byID[task.ID] = task
	err := q.persistLocked()
	added := task.Clone()
	q.mu.Unlock()

	if err != nil {
		return nil, err
	}

	q.publish(TaskAdded{Task: *added})
	q.wakeDispatch()
	return added, nil
}

// Get returns a copy of the task, or NotFound.
func (q *Queue) Get(id string) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.byID[id]
	if !ok {
		return nil, services.NewError(services.KindNotFound, "queue.get", "unknown task id").WithDetail("task_id", id)
	}
	return task.Clone(), nil
}

// List returns copies of all tasks in enqueue order.
func (q *Queue) List() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Task, 0, len(q.tasks))
	for _, task := range q.tasks {
		out = append(out, task.Clone())
	}
	return out
}

// Stats returns a count of tasks grouped by state.
func (q *Queue) Stats() map[State]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := make(map[State]int, 5)
	for _, task := range q.tasks {
		stats[task.State]++
	}
	return stats
}

// Cancel cancels a task. Pending tasks cancel immediately; running tasks are
// cancelled best-effort: the in-flight call cannot be interrupted, so only
// its post-completion state advancement is suppressed. Terminal tasks fail
// with InvalidState.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.byID[id]
	if !ok {
		return services.NewError(services.KindNotFound, "queue.cancel", "unknown task id").WithDetail("task_id", id)
	}
	if task.State.Terminal() {
		return services.NewError(services.KindInvalidState, "queue.cancel", "task already terminal").
			WithDetail("task_id", id).
			WithDetail("state", string(task.State))
	}

	switch task.State {
	case StatePending:
		task.State = StateCancelled
	case StateRunning:
		task.CancelRequested = true
	}
	task.UpdatedAt = time.Now().UTC()
	return q.persistLocked()
}

// Pause blocks new dispatch while in-flight tasks finish.
func (q *Queue) Pause() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = true
	return q.persistLocked()
}

// Resume re-enables dispatch.
func (q *Queue) Resume() error {
	q.mu.Lock()
	q.paused = false
	err := q.persistLocked()
	q.mu.Unlock()
	q.wakeDispatch()
	return err
}

// Paused reports whether dispatch is blocked.
func (q *Queue) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// Subscribe registers a listener for queue events and returns its
// unsubscribe function. Delivery is synchronous.
func (q *Queue) Subscribe(fn func(Event)) func() {
	q.subMu.Lock()
	defer q.subMu.Unlock()
	id := q.nextSubID
	q.nextSubID++
	q.subscribers[id] = fn
	return func() {
		q.subMu.Lock()
		defer q.subMu.Unlock()
		delete(q.subscribers, id)
	}
}

func (q *Queue) publish(ev Event) {
	q.subMu.Lock()
	listeners := make([]func(Event), 0, len(q.subscribers))
	for _, fn := range q.subscribers {
		listeners = append(listeners, fn)
	}
	q.subMu.Unlock()

	for _, fn := range listeners {
		q.deliver(fn, ev)
	}
}

func (q *Queue) deliver(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("queue listener panicked",
				logging.Any("panic", r),
				logging.String(logging.FieldEventType, "listener_panic"),
			)
		}
	}()
	fn(ev)
}

// persistLocked writes the full queue snapshot atomically. Callers hold q.mu,
// which also serializes the write chain: snapshots hit disk in mutation order.
func (q *Queue) persistLocked() error {
	data, err := json.Marshal(snapshot{Tasks: q.tasks, Paused: q.paused})
	if err != nil {
		return services.WrapError(services.KindPersistenceFailure, "queue.persist", "encode queue snapshot", err)
	}
	if err := q.store.AtomicWrite(q.opts.StatePath, data); err != nil {
		return services.WrapError(services.KindPersistenceFailure, "queue.persist", "write queue snapshot", err)
	}
	return nil
}

func (q *Queue) wakeDispatch() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
