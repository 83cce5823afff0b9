package queue

// Event is the closed union of queue notifications. Delivery is synchronous;
// subscriber panics are recovered and logged, never propagated.
type Event interface {
	queueEvent()
}

// TaskAdded is published when a task is appended to the queue.
type TaskAdded struct {
	Task Task
}

// TaskCompleted is published when a task reaches the completed state.
type TaskCompleted struct {
	Task Task
}

// TaskFailed is published when a task reaches the failed state after
// exhausting its attempts or hitting a non-retryable error.
type TaskFailed struct {
	Task Task
	Err  error
}

func (TaskAdded) queueEvent()     {}
func (TaskCompleted) queueEvent() {}
func (TaskFailed) queueEvent()    {}
