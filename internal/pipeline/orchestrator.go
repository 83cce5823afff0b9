package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"quill/internal/config"
	"quill/internal/logging"
	"quill/internal/queue"
	"quill/internal/services"
	"quill/internal/storage"
	"quill/internal/vector"
)

// CancelledMessage is recorded on a context failed by an explicit Cancel.
const CancelledMessage = "cancelled by user"

// Notes is the document storage surface the orchestrator writes through.
type Notes interface {
	Resolve(path string) (string, error)
	TitleFromPath(path string) string
	ReadByPathIfExists(path string) (string, bool, error)
	EnsureDirForPath(path string) error
	WriteAtomic(path, content string) error
	DeleteByPathIfExists(path string) (bool, error)
}

// Index is the vector store surface used for semantic indexing.
type Index interface {
	Upsert(ctx context.Context, id, docType string, embedding []float32, metadata map[string]string) error
	Delete(ctx context.Context, id string) error
	Detect(ctx context.Context, nodeID, docType string, embedding []float32) ([]vector.Duplicate, error)
}

// Snapshots records rollback points before destructive writes.
type Snapshots interface {
	Create(ctx context.Context, path, previousContent, ownerID, nodeID string) (int64, error)
}

// Prompts reports whether a prompt template exists for a step.
type Prompts interface {
	Resolve(stepID string) error
}

// Probe reports whether the AI provider is usable before a run starts.
type Probe interface {
	Available() error
}

// Collaborators bundles the direct-call dependencies of the orchestrator.
type Collaborators struct {
	Notes     Notes
	Index     Index
	Snapshots Snapshots
	Prompts   Prompts
	Probe     Probe
}

// Orchestrator drives pipeline runs: it starts them, listens to queue
// settlement events, performs the direct side effects between queued
// steps, and enforces the confirmation gates.
type Orchestrator struct {
	queue      *queue.Queue
	deps       Collaborators
	store      *storage.Store
	statePath  string
	autoVerify bool
	logger     *slog.Logger
	now        func() time.Time

	reg *registry

	// persistMu serializes state snapshots so a slow write can never
	// land after, and clobber, a newer one.
	persistMu sync.Mutex

	subMu       sync.Mutex
	subscribers map[int]func(Event)
	nextSubID   int

	unsubscribe func()
}

// New wires an orchestrator to the queue and registers its event listener.
func New(cfg *config.Config, q *queue.Queue, deps Collaborators, store *storage.Store, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	o := &Orchestrator{
		queue:       q,
		deps:        deps,
		store:       store,
		statePath:   cfg.PipelineStatePath(),
		autoVerify:  cfg.Workflow.AutoVerify,
		logger:      logging.NewComponentLogger(logger, "pipeline"),
		now:         time.Now,
		reg:         newRegistry(),
		subscribers: make(map[int]func(Event)),
	}
	o.unsubscribe = q.Subscribe(o.handleQueueEvent)
	return o
}

// Close detaches the orchestrator from the queue event stream.
func (o *Orchestrator) Close() {
	if o.unsubscribe != nil {
		o.unsubscribe()
		o.unsubscribe = nil
	}
}

// Get returns a copy of the pipeline context.
func (o *Orchestrator) Get(pipelineID string) (*Context, error) {
	c, ok := o.reg.get(pipelineID)
	if !ok {
		return nil, services.NewError(services.KindNotFound, "pipeline.get",
			fmt.Sprintf("pipeline %s not found", pipelineID))
	}
	return c, nil
}

// List returns copies of all known pipeline contexts.
func (o *Orchestrator) List() []*Context {
	return o.reg.list()
}

// Cancel requests cancellation of every queued task belonging to the
// pipeline and force-transitions its context to failed.
func (o *Orchestrator) Cancel(pipelineID string) error {
	c, ok := o.reg.get(pipelineID)
	if !ok {
		return services.NewError(services.KindNotFound, "pipeline.cancel",
			fmt.Sprintf("pipeline %s not found", pipelineID))
	}
	if c.Stage.Terminal() {
		return services.NewError(services.KindInvalidState, "pipeline.cancel",
			fmt.Sprintf("pipeline %s is already %s", pipelineID, c.Stage))
	}
	for _, taskID := range o.reg.tasksFor(pipelineID) {
		if err := o.queue.Cancel(taskID); err != nil {
			o.logger.Warn("cancel task",
				logging.String(logging.FieldPipelineID, pipelineID),
				logging.String(logging.FieldTaskID, taskID),
				logging.Error(err))
		}
	}
	o.fail(pipelineID, errors.New(CancelledMessage))
	return nil
}

// Restore reloads persisted pipeline contexts after a restart. Contexts
// parked at review gates stay there; contexts whose queued step was
// requeued by the queue's own recovery resume when that task settles.
func (o *Orchestrator) Restore(ctx context.Context) error {
	data, err := o.store.Read(o.statePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return services.WrapError(services.KindPersistenceFailure, "pipeline.restore",
			"read pipeline state", err)
	}
	var st registryState
	if err := json.Unmarshal(data, &st); err != nil {
		return services.WrapError(services.KindPersistenceFailure, "pipeline.restore",
			"decode pipeline state", err)
	}
	o.reg.importState(st)
	o.logger.Info("pipeline state restored", logging.Int("pipelines", len(st.Contexts)))
	return nil
}

// Subscribe registers fn for orchestrator events and returns an
// unsubscribe function.
func (o *Orchestrator) Subscribe(fn func(Event)) func() {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	id := o.nextSubID
	o.nextSubID++
	o.subscribers[id] = fn
	return func() {
		o.subMu.Lock()
		defer o.subMu.Unlock()
		delete(o.subscribers, id)
	}
}

func (o *Orchestrator) publish(ev Event) {
	o.subMu.Lock()
	fns := make([]func(Event), 0, len(o.subscribers))
	for _, fn := range o.subscribers {
		fns = append(fns, fn)
	}
	o.subMu.Unlock()
	for _, fn := range fns {
		o.deliver(fn, ev)
	}
}

func (o *Orchestrator) deliver(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("pipeline subscriber panic", logging.Any("panic", r))
		}
	}()
	fn(ev)
}

func (o *Orchestrator) persist() {
	o.persistMu.Lock()
	defer o.persistMu.Unlock()
	st := o.reg.exportState()
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		o.logger.Error("encode pipeline state", logging.Error(err))
		return
	}
	if err := o.store.AtomicWrite(o.statePath, data); err != nil {
		o.logger.Error("persist pipeline state", logging.Error(err))
	}
}

// advance moves the context forward one or more stages, persists, and
// emits a StageChanged event. The transition is validated against the
// kind's graph; a rejected transition is a bug surfaced as an error.
func (o *Orchestrator) advance(pipelineID string, stage Stage) (*Context, error) {
	var transitionErr error
	c, ok := o.reg.update(pipelineID, func(c *Context) {
		if err := checkTransition(c.Kind, c.Stage, stage); err != nil {
			transitionErr = err
			return
		}
		c.Stage = stage
		c.UpdatedAt = o.now()
	})
	if !ok {
		return nil, services.NewError(services.KindNotFound, "pipeline.advance",
			fmt.Sprintf("pipeline %s not found", pipelineID))
	}
	if transitionErr != nil {
		return nil, transitionErr
	}
	o.persist()
	o.logger.Info("stage changed",
		logging.String(logging.FieldPipelineID, pipelineID),
		logging.String(logging.FieldKind, string(c.Kind)),
		logging.String(logging.FieldStage, string(stage)))
	o.publish(StageChanged{PipelineID: pipelineID, Kind: c.Kind, Stage: stage})
	return c, nil
}

// fail force-transitions the context to failed, releases its task
// bindings, and emits PipelineFailed. A context that already reached a
// terminal stage is left untouched: a run that completed stays completed
// no matter what settles afterwards.
func (o *Orchestrator) fail(pipelineID string, cause error) {
	terminal := false
	c, ok := o.reg.update(pipelineID, func(c *Context) {
		if c.Stage.Terminal() {
			terminal = true
			return
		}
		c.Stage = StageFailed
		if cause != nil {
			c.ErrorMessage = cause.Error()
		}
		c.UpdatedAt = o.now()
	})
	if !ok {
		return
	}
	if terminal {
		o.logger.Warn("failure reported for ended pipeline",
			logging.String(logging.FieldPipelineID, pipelineID),
			logging.String(logging.FieldStage, string(c.Stage)),
			logging.Error(cause))
		return
	}
	o.reg.release(pipelineID)
	o.persist()
	o.logger.Error("pipeline failed",
		logging.String(logging.FieldPipelineID, pipelineID),
		logging.String(logging.FieldKind, string(c.Kind)),
		logging.Error(cause))
	o.publish(PipelineFailed{PipelineID: pipelineID, Kind: c.Kind, Err: cause})
}

// complete marks the run finished and emits PipelineCompleted.
func (o *Orchestrator) complete(pipelineID string) {
	c, err := o.advance(pipelineID, StageCompleted)
	if err != nil {
		o.fail(pipelineID, err)
		return
	}
	o.reg.release(pipelineID)
	o.persist()
	o.publish(PipelineCompleted{PipelineID: pipelineID, Kind: c.Kind})
}

// enqueue submits a task for the pipeline and binds it for settlement
// routing.
func (o *Orchestrator) enqueue(params queue.EnqueueParams) (*queue.Task, error) {
	task, err := o.queue.Enqueue(params)
	if err != nil {
		return nil, err
	}
	o.reg.bind(task.ID, params.PipelineID)
	o.persist()
	return task, nil
}

// baseCtx annotates a fresh context for direct collaborator calls made
// from start operations and the queue-event listener, which run outside
// any caller request scope.
func (o *Orchestrator) baseCtx(pipelineID string) context.Context {
	return services.WithPipelineID(context.Background(), pipelineID)
}

func marshalPayload(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// Payload structs contain only strings and slices; this cannot
		// fail at runtime.
		panic(err)
	}
	return data
}
