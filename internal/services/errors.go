package services

import (
	"errors"
	"sort"
	"strings"
)

// Kind classifies an engine failure for callers and for retry policy.
type Kind string

const (
	// KindInvalidState marks operations attempted outside the stage that permits them.
	KindInvalidState Kind = "invalid_state"
	// KindNotFound marks lookups of unknown pipeline or task identifiers.
	KindNotFound Kind = "not_found"
	// KindConflict marks lock contention, stale-content confirmation, or a
	// duplicate name/path detected before work starts.
	KindConflict Kind = "conflict"
	// KindPrerequisiteUnmet marks a missing execution backend or step template.
	KindPrerequisiteUnmet Kind = "prerequisite_unmet"
	// KindUpstreamFailure marks an external step that failed after exhausting
	// queue retries.
	KindUpstreamFailure Kind = "upstream_failure"
	// KindPersistenceFailure marks durable I/O failures.
	KindPersistenceFailure Kind = "persistence_failure"
)

// Error is the typed failure value returned across package boundaries.
type Error struct {
	Kind      Kind
	Operation string
	Message   string
	Details   map[string]string
	Cause     error
}

// Error renders the operation, message, and cause in wrap order.
func (e *Error) Error() string {
	parts := make([]string, 0, 3)
	if e.Operation != "" {
		parts = append(parts, e.Operation)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	joined := strings.Join(parts, ": ")
	if joined == "" {
		joined = string(e.Kind)
	}
	if e.Cause != nil {
		return joined + ": " + e.Cause.Error()
	}
	return joined
}

// Unwrap exposes the cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error { return e.Cause }

// NewError builds a typed error without a cause.
func NewError(kind Kind, operation, message string) *Error {
	return &Error{Kind: kind, Operation: operation, Message: message}
}

// WrapError builds a typed error around a cause.
func WrapError(kind Kind, operation, message string, cause error) *Error {
	return &Error{Kind: kind, Operation: operation, Message: message, Cause: cause}
}

// WithDetail attaches one structured detail and returns the same error so
// construction can chain.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string, 2)
	}
	e.Details[key] = value
	return e
}

// Detail returns one structured detail value, or empty when absent.
func (e *Error) Detail(key string) string {
	if e == nil || e.Details == nil {
		return ""
	}
	return e.Details[key]
}

// DetailKeys returns detail keys in stable order, mostly for log output.
func (e *Error) DetailKeys() []string {
	if e == nil || len(e.Details) == 0 {
		return nil
	}
	keys := make([]string, 0, len(e.Details))
	for key := range e.Details {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// KindOf extracts the Kind from an error chain. Untyped errors report
// KindUpstreamFailure so callers always see a member of the taxonomy.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindUpstreamFailure
}

// IsKind reports whether an error chain carries the given Kind.
func IsKind(err error, kind Kind) bool {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind == kind
	}
	return false
}

// IsConflict reports lock contention or stale-content failures.
func IsConflict(err error) bool { return IsKind(err, KindConflict) }

// IsNotFound reports unknown pipeline or task identifiers.
func IsNotFound(err error) bool { return IsKind(err, KindNotFound) }

// ErrorDetails is the flattened view of a typed error used by structured logs.
type ErrorDetails struct {
	Kind      Kind
	Operation string
	Message   string
	Category  string
	Cause     error
}

// Details flattens an error chain for logging. Untyped errors produce an
// upstream-failure view with the raw message.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	var typed *Error
	if errors.As(err, &typed) {
		return ErrorDetails{
			Kind:      typed.Kind,
			Operation: typed.Operation,
			Message:   typed.Message,
			Category:  typed.Detail(DetailCategory),
			Cause:     typed.Cause,
		}
	}
	return ErrorDetails{Kind: KindUpstreamFailure, Message: err.Error(), Cause: err}
}

// DetailCategory is the structured detail key carrying the failure category
// used by retry classification (auth, rate_limit, server, network, validation).
const DetailCategory = "category"

// Categorized builds an upstream failure tagged with a retry category.
func Categorized(operation, message, category string, cause error) *Error {
	return WrapError(KindUpstreamFailure, operation, message, cause).WithDetail(DetailCategory, category)
}
