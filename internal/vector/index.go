// Package vector wraps the embedded chromem-go database as the concept
// vector index and duplicate detector.
//
// Embeddings are computed upstream (the embed task calls the provider); this
// package only stores and searches them, so the collection is created with
// an embedding func that refuses to run.
package vector

import (
	"context"
	"fmt"

	chromem "github.com/philippgille/chromem-go"

	"quill/internal/config"
	"quill/internal/services"
)

// Duplicate is one candidate duplicate returned by Detect.
type Duplicate struct {
	NodeID string
	Score  float64
}

// Index stores document embeddings and answers similarity queries.
type Index struct {
	db         *chromem.DB
	collection *chromem.Collection
	threshold  float64
	topK       int
}

// externalOnly is installed as the collection's embedding func; every
// operation supplies precomputed embeddings, so it must never be invoked.
func externalOnly(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("vector index stores external embeddings only")
}

// Open initializes the persistent index under cfg.Paths.VectorDir.
func Open(cfg *config.Config) (*Index, error) {
	db, err := chromem.NewPersistentDB(cfg.Paths.VectorDir, false)
	if err != nil {
		return nil, services.WrapError(services.KindPersistenceFailure, "vector.open", "open vector database", err)
	}
	collection, err := db.GetOrCreateCollection(cfg.Vector.Collection, nil, externalOnly)
	if err != nil {
		return nil, services.WrapError(services.KindPersistenceFailure, "vector.open", "open collection", err)
	}
	return &Index{
		db:         db,
		collection: collection,
		threshold:  cfg.Vector.DuplicateThreshold,
		topK:       cfg.Vector.SearchTopK,
	}, nil
}

// Upsert stores or replaces the embedding for a document.
func (x *Index) Upsert(ctx context.Context, id, docType string, embedding []float32, metadata map[string]string) error {
	if id == "" {
		return services.NewError(services.KindInvalidState, "vector.upsert", "document id must be set")
	}
	if len(embedding) == 0 {
		return services.NewError(services.KindInvalidState, "vector.upsert", "embedding must not be empty")
	}

	meta := map[string]string{"type": docType}
	for key, value := range metadata {
		meta[key] = value
	}
	doc := chromem.Document{ID: id, Metadata: meta, Embedding: embedding}
	if err := x.collection.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		return services.WrapError(services.KindPersistenceFailure, "vector.upsert", "store embedding", err).
			WithDetail("document_id", id)
	}
	return nil
}

// Delete removes a document from the index. Unknown ids are a no-op.
func (x *Index) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := x.collection.Delete(ctx, nil, nil, id); err != nil {
		return services.WrapError(services.KindPersistenceFailure, "vector.delete", "remove embedding", err).
			WithDetail("document_id", id)
	}
	return nil
}

// Search returns up to topK documents of docType nearest to embedding.
func (x *Index) Search(ctx context.Context, docType string, embedding []float32, topK int) ([]Duplicate, error) {
	if topK <= 0 {
		topK = x.topK
	}
	count := x.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}

	var where map[string]string
	if docType != "" {
		where = map[string]string{"type": docType}
	}
	results, err := x.collection.QueryEmbedding(ctx, embedding, topK, where, nil)
	if err != nil {
		return nil, services.WrapError(services.KindUpstreamFailure, "vector.search", "query collection", err)
	}

	matches := make([]Duplicate, 0, len(results))
	for _, result := range results {
		matches = append(matches, Duplicate{NodeID: result.ID, Score: float64(result.Similarity)})
	}
	return matches, nil
}

// Detect returns documents of docType whose similarity to embedding meets
// the configured duplicate threshold, excluding nodeID itself.
func (x *Index) Detect(ctx context.Context, nodeID, docType string, embedding []float32) ([]Duplicate, error) {
	matches, err := x.Search(ctx, docType, embedding, x.topK)
	if err != nil {
		return nil, err
	}
	duplicates := make([]Duplicate, 0, len(matches))
	for _, match := range matches {
		if match.NodeID == nodeID || match.Score < x.threshold {
			continue
		}
		duplicates = append(duplicates, match)
	}
	return duplicates, nil
}
