// Package notifications pushes pipeline milestones to a ntfy topic.
//
// Runs park at review gates until a human confirms them, so the
// interesting moments are "a draft is waiting for you" and "the run
// finished". When no topic is configured every notification is a no-op.
package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"quill/internal/config"
)

const userAgent = "Quill-Go/0.1.0"

// Service is the notification surface exposed to the daemon.
type Service interface {
	NotifyReviewPending(ctx context.Context, kind, title, path string) error
	NotifyRunCompleted(ctx context.Context, kind, title string) error
	NotifyRunFailed(ctx context.Context, kind, reason string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notify.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notify.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyReviewPending(ctx context.Context, kind, title, path string) error {
	subject := strings.TrimSpace(title)
	if subject == "" {
		subject = strings.TrimSpace(path)
	}
	data := payload{
		title:    "Quill - Review Pending",
		message:  fmt.Sprintf("A %s run is waiting for review: %s", kind, subject),
		tags:     []string{"quill", "review", "pending"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRunCompleted(ctx context.Context, kind, title string) error {
	subject := strings.TrimSpace(title)
	message := fmt.Sprintf("%s run completed", kind)
	if subject != "" {
		message = fmt.Sprintf("%s: %s", message, subject)
	}
	data := payload{
		title:   "Quill - Run Complete",
		message: message,
		tags:    []string{"quill", "run", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRunFailed(ctx context.Context, kind, reason string) error {
	var builder strings.Builder
	builder.WriteString(kind)
	builder.WriteString(" run failed")
	if reason = strings.TrimSpace(reason); reason != "" {
		builder.WriteString(": ")
		builder.WriteString(reason)
	}
	data := payload{
		title:    "Quill - Run Failed",
		message:  builder.String(),
		tags:     []string{"quill", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Quill - Test",
		message:  "Notification system test",
		tags:     []string{"quill", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyReviewPending(context.Context, string, string, string) error { return nil }
func (noopService) NotifyRunCompleted(context.Context, string, string) error          { return nil }
func (noopService) NotifyRunFailed(context.Context, string, string) error             { return nil }
func (noopService) TestNotification(context.Context) error                            { return nil }
