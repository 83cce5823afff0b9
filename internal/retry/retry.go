// Package retry classifies task failures and computes backoff waits for the
// queue's retry loop.
//
// Classification is driven by the services error taxonomy plus the failure
// category collaborators attach (auth, rate_limit, server, network,
// validation). Retry lives entirely inside the queue boundary; pipelines
// never retry on their own.
package retry

import (
	"context"
	"errors"
	"math"
	"time"

	"quill/internal/config"
	"quill/internal/services"
)

// Strategy selects how a retryable failure is re-queued.
type Strategy string

const (
	// NoRetry terminates the task immediately regardless of remaining attempts.
	NoRetry Strategy = "no_retry"
	// ExponentialBackoff delays the next attempt by base × multiplier^(attempt-1).
	ExponentialBackoff Strategy = "exponential_backoff"
	// Structured re-queues with zero wait; the accumulated error history is
	// fed back into the next execution attempt as a hint.
	Structured Strategy = "structured"
)

// Classification describes how the queue should treat one failure.
type Classification struct {
	Category  string
	Strategy  Strategy
	Retryable bool
}

// Handler is the retry collaborator the queue consults on every failure.
type Handler interface {
	Classify(err error) Classification
	WaitTime(err error, attempt int) time.Duration
}

// Policy is the default Handler, tuned through config.
type Policy struct {
	baseDelay  time.Duration
	multiplier float64
	maxDelay   time.Duration
}

// NewPolicy builds the default retry policy from config.
func NewPolicy(cfg config.Retry) *Policy {
	return &Policy{
		baseDelay:  time.Duration(cfg.BaseDelayMS) * time.Millisecond,
		multiplier: cfg.Multiplier,
		maxDelay:   time.Duration(cfg.MaxDelayMS) * time.Millisecond,
	}
}

// Classify maps an error to a retry strategy.
//
// Auth and capability failures never retry: repeating the call cannot
// succeed until the operator intervenes. Validation failures re-queue
// immediately with a structured hint so the next attempt can correct
// course. Everything else backs off exponentially.
func (p *Policy) Classify(err error) Classification {
	if err == nil {
		return Classification{Strategy: NoRetry}
	}
	if errors.Is(err, context.Canceled) {
		return Classification{Category: "cancelled", Strategy: NoRetry}
	}

	details := services.Details(err)
	switch details.Kind {
	case services.KindConflict, services.KindInvalidState, services.KindNotFound, services.KindPrerequisiteUnmet:
		return Classification{Category: string(details.Kind), Strategy: NoRetry}
	}

	switch details.Category {
	case "auth", "capability", "client":
		return Classification{Category: details.Category, Strategy: NoRetry}
	case "validation":
		return Classification{Category: details.Category, Strategy: Structured, Retryable: true}
	default:
		return Classification{Category: details.Category, Strategy: ExponentialBackoff, Retryable: true}
	}
}

// WaitTime computes the delay before the next attempt. Attempt is 1-based
// and counts the execution that just failed.
func (p *Policy) WaitTime(err error, attempt int) time.Duration {
	classification := p.Classify(err)
	switch classification.Strategy {
	case ExponentialBackoff:
		if attempt < 1 {
			attempt = 1
		}
		delay := time.Duration(float64(p.baseDelay) * math.Pow(p.multiplier, float64(attempt-1)))
		if delay > p.maxDelay {
			delay = p.maxDelay
		}
		return delay
	default:
		return 0
	}
}
