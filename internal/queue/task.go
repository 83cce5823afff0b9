package queue

import (
	"encoding/json"
	"time"
)

// State represents the lifecycle of a task.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// TaskError records one failed execution attempt.
type TaskError struct {
	Attempt  int       `json:"attempt"`
	Kind     string    `json:"kind,omitempty"`
	Category string    `json:"category,omitempty"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// Task is one queued unit of work. Payload and Result are opaque to the
// queue; their schemas belong to the task type's executor.
type Task struct {
	ID              string          `json:"id"`
	Resource        string          `json:"resource"`
	Type            string          `json:"type"`
	State           State           `json:"state"`
	Attempt         int             `json:"attempt"`
	MaxAttempts     int             `json:"max_attempts"`
	PipelineID      string          `json:"pipeline_id,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	Errors          []TaskError     `json:"errors,omitempty"`
	CancelRequested bool            `json:"cancel_requested,omitempty"`
	NotBefore       *time.Time      `json:"not_before,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Clone returns a deep copy safe to hand outside the queue's mutex.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), t.Payload...)
	}
	if t.Result != nil {
		cp.Result = append(json.RawMessage(nil), t.Result...)
	}
	if t.Errors != nil {
		cp.Errors = append([]TaskError(nil), t.Errors...)
	}
	if t.NotBefore != nil {
		nb := *t.NotBefore
		cp.NotBefore = &nb
	}
	return &cp
}

// ErrorHints returns the messages of prior failed attempts, oldest first.
// Structured retries feed these back into the next execution.
func (t *Task) ErrorHints() []string {
	if len(t.Errors) == 0 {
		return nil
	}
	hints := make([]string, 0, len(t.Errors))
	for _, taskErr := range t.Errors {
		hints = append(hints, taskErr.Message)
	}
	return hints
}

// LastError returns the most recent failure message, or empty.
func (t *Task) LastError() string {
	if len(t.Errors) == 0 {
		return ""
	}
	return t.Errors[len(t.Errors)-1].Message
}
