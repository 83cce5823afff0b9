package services_test

import (
	"errors"
	"fmt"
	"testing"

	"quill/internal/services"
)

func TestErrorRendersOperationMessageAndCause(t *testing.T) {
	cause := errors.New("disk full")
	err := services.WrapError(services.KindPersistenceFailure, "queue.persist", "write snapshot", cause)
	want := "queue.persist: write snapshot: disk full"
	if err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to survive unwrapping")
	}
}

func TestKindOfSurfacesTaxonomy(t *testing.T) {
	err := services.NewError(services.KindConflict, "lock.acquire", "busy")
	wrapped := fmt.Errorf("outer: %w", err)

	if kind := services.KindOf(wrapped); kind != services.KindConflict {
		t.Fatalf("expected conflict kind through wrapping, got %s", kind)
	}
	if !services.IsConflict(wrapped) {
		t.Fatal("IsConflict must see through wrapping")
	}
	if kind := services.KindOf(errors.New("plain")); kind != services.KindUpstreamFailure {
		t.Fatalf("untyped errors must map to upstream_failure, got %s", kind)
	}
}

func TestWithDetailAndCategory(t *testing.T) {
	err := services.Categorized("provider.chat", "rate limited", "rate_limit", nil).
		WithDetail("status", "429")

	if got := err.Detail(services.DetailCategory); got != "rate_limit" {
		t.Fatalf("expected category detail, got %q", got)
	}
	keys := err.DetailKeys()
	if len(keys) != 2 || keys[0] != "category" || keys[1] != "status" {
		t.Fatalf("expected sorted detail keys, got %v", keys)
	}

	details := services.Details(err)
	if details.Kind != services.KindUpstreamFailure || details.Category != "rate_limit" {
		t.Fatalf("unexpected flattened details: %#v", details)
	}
}

func TestDetailsForUntypedError(t *testing.T) {
	plain := errors.New("boom")
	details := services.Details(plain)
	if details.Kind != services.KindUpstreamFailure || details.Message != "boom" {
		t.Fatalf("unexpected details for untyped error: %#v", details)
	}
}
