package notifications

import (
	"context"
	"log/slog"
	"time"

	"quill/internal/logging"
	"quill/internal/pipeline"
)

const deliveryTimeout = 15 * time.Second

// ContextSource resolves pipeline contexts so notifications can name the
// document a run worked on.
type ContextSource interface {
	Get(pipelineID string) (*pipeline.Context, error)
}

// Listener adapts orchestrator events into push notifications. Delivery
// happens off the event goroutine; failures are logged, never propagated
// back into the pipeline.
func Listener(svc Service, src ContextSource, logger *slog.Logger) func(pipeline.Event) {
	if logger == nil {
		logger = logging.NewNop()
	}
	deliver := func(pipelineID string, send func(ctx context.Context) error) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
			defer cancel()
			if err := send(ctx); err != nil {
				logger.Warn("send notification",
					logging.String(logging.FieldPipelineID, pipelineID),
					logging.Error(err))
			}
		}()
	}

	return func(ev pipeline.Event) {
		switch e := ev.(type) {
		case pipeline.ConfirmationRequired:
			deliver(e.PipelineID, func(ctx context.Context) error {
				return svc.NotifyReviewPending(ctx, string(e.Kind), e.Preview.Title, e.Preview.TargetPath)
			})
		case pipeline.PipelineCompleted:
			title := subjectFor(src, e.PipelineID)
			deliver(e.PipelineID, func(ctx context.Context) error {
				return svc.NotifyRunCompleted(ctx, string(e.Kind), title)
			})
		case pipeline.PipelineFailed:
			reason := ""
			if e.Err != nil {
				reason = e.Err.Error()
			}
			deliver(e.PipelineID, func(ctx context.Context) error {
				return svc.NotifyRunFailed(ctx, string(e.Kind), reason)
			})
		}
	}
}

func subjectFor(src ContextSource, pipelineID string) string {
	if src == nil {
		return ""
	}
	c, err := src.Get(pipelineID)
	if err != nil {
		return ""
	}
	if c.Title != "" {
		return c.Title
	}
	return c.TargetPath
}
