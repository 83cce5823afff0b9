package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quill/internal/logging"
	"quill/internal/services"
)

// run is the cooperative dispatch loop. It claims the oldest pending task
// whose resource lease is free, subject to the pause flag and the global
// concurrency cap, and executes it on its own goroutine.
func (q *Queue) run(ctx context.Context) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := q.claimNext()
		if err != nil {
			// The claim was reverted because its durable write failed.
			// Back off before retrying the same disk.
			select {
			case <-ctx.Done():
				return
			case <-time.After(q.errorRetryInterval()):
			}
			continue
		}
		if task == nil {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
			case <-time.After(q.opts.PollInterval):
			}
			continue
		}

		q.wg.Add(1)
		go q.execute(ctx, task)
	}
}

func (q *Queue) errorRetryInterval() time.Duration {
	if q.opts.ErrorRetryInterval > 0 {
		return q.opts.ErrorRetryInterval
	}
	return q.opts.PollInterval
}

// claimNext picks the next dispatchable task, acquires its resource lease,
// and transitions it to running. Returns nil when nothing is dispatchable.
// A claim whose durable write fails is rolled back and reported, so a task
// never runs on state the snapshot does not show.
func (q *Queue) claimNext() (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.paused || q.runningCount >= q.opts.MaxConcurrent {
		return nil, nil
	}

	now := time.Now().UTC()
	for _, task := range q.tasks {
		if task.State != StatePending {
			continue
		}
		if task.NotBefore != nil && task.NotBefore.After(now) {
			continue
		}
		// The lease enforces strict FIFO per resource: a second same-key task
		// cannot acquire until the first releases.
		if _, err := q.locks.Acquire(task.Resource, task.ID, q.opts.LockTTL); err != nil {
			continue
		}

		task.State = StateRunning
		task.Attempt++
		task.NotBefore = nil
		task.UpdatedAt = now
		q.runningCount++
		if err := q.persistLocked(); err != nil {
			task.State = StatePending
			task.Attempt--
			q.runningCount--
			q.locks.Release(task.Resource, task.ID)
			q.logger.Error("failed to persist running transition", logging.Error(err))
			return nil, err
		}
		return task.Clone(), nil
	}
	return nil, nil
}

func (q *Queue) execute(ctx context.Context, task *Task) {
	defer q.wg.Done()

	runCtx := services.WithTaskID(services.WithPipelineID(ctx, task.PipelineID), task.ID)
	logger := logging.WithContext(runCtx, q.logger).With(
		logging.String(logging.FieldResource, task.Resource),
		logging.String("task_type", task.Type),
		logging.Int(logging.FieldAttempt, task.Attempt),
	)

	started := time.Now()
	logger.Info("task started", logging.String(logging.FieldEventType, "task_start"))

	result, runErr := q.runner.Execute(runCtx, task)

	// Shutdown mid-flight: leave the task running in the snapshot so the next
	// Initialize requeues it, and release the lease without emitting events.
	if runErr != nil && errors.Is(runErr, context.Canceled) && ctx.Err() != nil {
		q.mu.Lock()
		q.runningCount--
		q.mu.Unlock()
		q.locks.Release(task.Resource, task.ID)
		logger.Debug("task interrupted by shutdown")
		return
	}

	ev := q.settle(task.ID, result, runErr)
	q.locks.Release(task.Resource, task.ID)

	switch settled := ev.(type) {
	case TaskCompleted:
		logger.Info("task completed",
			logging.String(logging.FieldEventType, "task_complete"),
			logging.Duration("task_duration", time.Since(started)),
		)
		q.publish(settled)
	case TaskFailed:
		details := services.Details(settled.Err)
		logger.Error("task failed",
			logging.String(logging.FieldEventType, "task_failure"),
			logging.String(logging.FieldErrorKind, string(details.Kind)),
			logging.String(logging.FieldErrorCategory, details.Category),
			logging.Error(settled.Err),
		)
		q.publish(settled)
	case nil:
		// Retry re-queued or cancellation suppressed advancement.
	}

	q.wakeDispatch()
}

// settle applies the execution outcome to the canonical task record and
// returns the event to publish, if any.
func (q *Queue) settle(id string, result []byte, runErr error) Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.byID[id]
	if !ok {
		q.runningCount--
		return nil
	}

	now := time.Now().UTC()
	task.UpdatedAt = now
	q.runningCount--

	var ev Event
	switch {
	case task.CancelRequested:
		// Cancellation while running: suppress advancement, keep any partial
		// error history for inspection.
		task.State = StateCancelled

	case runErr == nil:
		task.State = StateCompleted
		task.Result = result
		ev = TaskCompleted{Task: *task.Clone()}

	default:
		details := services.Details(runErr)
		task.Errors = append(task.Errors, TaskError{
			Attempt:  task.Attempt,
			Kind:     string(details.Kind),
			Category: details.Category,
			Message:  runErr.Error(),
			At:       now,
		})

		classification := q.retry.Classify(runErr)
		if classification.Retryable && task.Attempt < task.MaxAttempts {
			task.State = StatePending
			if wait := q.retry.WaitTime(runErr, task.Attempt); wait > 0 {
				notBefore := now.Add(wait)
				task.NotBefore = &notBefore
			} else {
				task.NotBefore = nil
			}
			q.logger.Debug("task requeued for retry",
				logging.String(logging.FieldTaskID, task.ID),
				logging.Int(logging.FieldAttempt, task.Attempt),
				logging.Int("max_attempts", task.MaxAttempts),
				logging.String("strategy", string(classification.Strategy)),
			)
		} else {
			task.State = StateFailed
			message := fmt.Sprintf("task failed after %d attempt(s)", task.Attempt)
			terminal := services.WrapError(services.KindUpstreamFailure, "queue.execute", message, runErr).
				WithDetail("task_id", task.ID).
				WithDetail(services.DetailCategory, classification.Category)
			ev = TaskFailed{Task: *task.Clone(), Err: terminal}
		}
	}

	if err := q.persistLocked(); err != nil {
		q.logger.Error("failed to persist task settlement", logging.Error(err))
	}
	return ev
}
