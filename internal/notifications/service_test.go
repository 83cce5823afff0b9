package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"quill/internal/config"
	"quill/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notify.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyRunCompleted(context.Background(), "create", "Graph Theory"); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

type captured struct {
	title    string
	message  string
	tags     string
	priority string
}

func ntfyServer(t *testing.T, sink *[]captured) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		*sink = append(*sink, captured{
			title:    r.Header.Get("Title"),
			message:  string(body),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
		})
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server
}

func newNtfyService(t *testing.T, endpoint string) notifications.Service {
	t.Helper()
	cfg := config.Default()
	cfg.Notify.NtfyTopic = endpoint
	cfg.Notify.RequestTimeoutSeconds = 5
	return notifications.NewService(&cfg)
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	var requests []captured
	server := ntfyServer(t, &requests)
	svc := newNtfyService(t, server.URL)
	ctx := context.Background()

	if err := svc.NotifyReviewPending(ctx, "create", "Graph Theory", "/notes/graph-theory.md"); err != nil {
		t.Fatalf("NotifyReviewPending failed: %v", err)
	}
	if err := svc.NotifyRunCompleted(ctx, "amend", "Graph Theory"); err != nil {
		t.Fatalf("NotifyRunCompleted failed: %v", err)
	}
	if err := svc.NotifyRunFailed(ctx, "merge", "target changed during review"); err != nil {
		t.Fatalf("NotifyRunFailed failed: %v", err)
	}
	if err := svc.TestNotification(ctx); err != nil {
		t.Fatalf("TestNotification failed: %v", err)
	}

	if len(requests) != 4 {
		t.Fatalf("expected 4 requests, got %d", len(requests))
	}

	review := requests[0]
	if review.title != "Quill - Review Pending" {
		t.Fatalf("unexpected title: %q", review.title)
	}
	if review.message != "A create run is waiting for review: Graph Theory" {
		t.Fatalf("unexpected message: %q", review.message)
	}
	if review.tags != "quill,review,pending" || review.priority != "high" {
		t.Fatalf("unexpected headers: %+v", review)
	}

	completed := requests[1]
	if completed.message != "amend run completed: Graph Theory" {
		t.Fatalf("unexpected message: %q", completed.message)
	}
	if completed.priority != "" {
		t.Fatalf("completed notification must use default priority, got %q", completed.priority)
	}

	failed := requests[2]
	if failed.message != "merge run failed: target changed during review" {
		t.Fatalf("unexpected message: %q", failed.message)
	}
	if failed.tags != "quill,error,alert" || failed.priority != "high" {
		t.Fatalf("unexpected headers: %+v", failed)
	}
}

func TestReviewPendingFallsBackToPath(t *testing.T) {
	var requests []captured
	server := ntfyServer(t, &requests)
	svc := newNtfyService(t, server.URL)

	if err := svc.NotifyReviewPending(context.Background(), "amend", "", "/notes/graph-theory.md"); err != nil {
		t.Fatalf("NotifyReviewPending failed: %v", err)
	}
	if len(requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(requests))
	}
	if requests[0].message != "A amend run is waiting for review: /notes/graph-theory.md" {
		t.Fatalf("unexpected message: %q", requests[0].message)
	}
}

func TestNtfyServiceSurfacesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic quota exceeded", http.StatusTooManyRequests)
	}))
	t.Cleanup(server.Close)
	svc := newNtfyService(t, server.URL)

	if err := svc.TestNotification(context.Background()); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}
