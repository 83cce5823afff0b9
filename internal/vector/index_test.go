package vector_test

import (
	"context"
	"testing"

	"quill/internal/services"
	"quill/internal/testsupport"
	"quill/internal/vector"
)

func openIndex(t *testing.T) *vector.Index {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	index, err := vector.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return index
}

func TestUpsertValidation(t *testing.T) {
	index := openIndex(t)
	ctx := context.Background()

	err := index.Upsert(ctx, "", "concept", []float32{1, 0, 0}, nil)
	if !services.IsKind(err, services.KindInvalidState) {
		t.Fatalf("expected InvalidState for empty id, got %v", err)
	}
	err = index.Upsert(ctx, "node-1", "concept", nil, nil)
	if !services.IsKind(err, services.KindInvalidState) {
		t.Fatalf("expected InvalidState for empty embedding, got %v", err)
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	index := openIndex(t)

	matches, err := index.Search(context.Background(), "concept", []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected no matches on an empty index, got %v", matches)
	}
}

func TestSearchRanksNearestFirst(t *testing.T) {
	index := openIndex(t)
	ctx := context.Background()

	docs := map[string][]float32{
		"graph-theory": {1, 0, 0},
		"graphs":       {0.99, 0.1, 0},
		"baking":       {0, 1, 0},
	}
	for id, embedding := range docs {
		if err := index.Upsert(ctx, id, "concept", embedding, map[string]string{"path": id + ".md"}); err != nil {
			t.Fatalf("Upsert %s failed: %v", id, err)
		}
	}

	matches, err := index.Search(ctx, "concept", []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].NodeID != "graph-theory" {
		t.Fatalf("expected the identical document first, got %s", matches[0].NodeID)
	}
	if matches[1].NodeID != "graphs" {
		t.Fatalf("expected the near neighbor second, got %s", matches[1].NodeID)
	}
	if matches[0].Score < matches[1].Score {
		t.Fatalf("scores out of order: %v", matches)
	}
}

func TestSearchFiltersByDocType(t *testing.T) {
	index := openIndex(t)
	ctx := context.Background()

	if err := index.Upsert(ctx, "concept-1", "concept", []float32{1, 0, 0}, nil); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := index.Upsert(ctx, "journal-1", "journal", []float32{1, 0, 0}, nil); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	matches, err := index.Search(ctx, "concept", []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 1 || matches[0].NodeID != "concept-1" {
		t.Fatalf("expected only concept documents, got %v", matches)
	}
}

func TestDetectExcludesSelfAndDistantNeighbors(t *testing.T) {
	index := openIndex(t)
	ctx := context.Background()

	if err := index.Upsert(ctx, "node-a", "concept", []float32{1, 0, 0}, nil); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := index.Upsert(ctx, "node-near", "concept", []float32{0.99, 0.1, 0}, nil); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := index.Upsert(ctx, "node-far", "concept", []float32{0, 1, 0}, nil); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	duplicates, err := index.Detect(ctx, "node-a", "concept", []float32{1, 0, 0})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(duplicates) != 1 {
		t.Fatalf("expected exactly one duplicate candidate, got %v", duplicates)
	}
	if duplicates[0].NodeID != "node-near" {
		t.Fatalf("expected the near neighbor flagged, got %s", duplicates[0].NodeID)
	}
}

func TestDeleteRemovesDocument(t *testing.T) {
	index := openIndex(t)
	ctx := context.Background()

	if err := index.Upsert(ctx, "node-a", "concept", []float32{1, 0, 0}, nil); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := index.Upsert(ctx, "node-b", "concept", []float32{0.99, 0.1, 0}, nil); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	if err := index.Delete(ctx, "node-b"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	matches, err := index.Search(ctx, "concept", []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 1 || matches[0].NodeID != "node-a" {
		t.Fatalf("deleted document still indexed: %v", matches)
	}

	// Empty id is a no-op.
	if err := index.Delete(ctx, ""); err != nil {
		t.Fatalf("Delete of empty id must be a no-op, got %v", err)
	}
}

func TestUpsertReplacesEmbedding(t *testing.T) {
	index := openIndex(t)
	ctx := context.Background()

	if err := index.Upsert(ctx, "node-a", "concept", []float32{0, 1, 0}, nil); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := index.Upsert(ctx, "node-a", "concept", []float32{1, 0, 0}, nil); err != nil {
		t.Fatalf("re-Upsert failed: %v", err)
	}

	matches, err := index.Search(ctx, "concept", []float32{1, 0, 0}, 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected one document, got %v", matches)
	}
	if matches[0].Score < 0.99 {
		t.Fatalf("embedding not replaced, similarity %v", matches[0].Score)
	}
}
