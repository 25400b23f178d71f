package retrieval

import (
	"context"

	"github.com/kalambet/docchat/internal/domain"
)

// NewChunk is a passage ready to be persisted with its embedding.
type NewChunk struct {
	Position  int
	Content   string
	Embedding []float32
}

// StoredChunk is a persisted passage. ID grows with insertion order and
// breaks ties between equally scored chunks.
type StoredChunk struct {
	ID         int64
	DocumentID string
	Position   int
	Content    string
	Embedding  []float32
}

// ChunkStore persists embedded chunks. Chunks are never updated: a
// document's chunk set is deleted and inserted again on re-ingestion.
type ChunkStore interface {
	// BulkInsert writes all chunks for documentID or none of them and
	// returns the number written.
	BulkInsert(ctx context.Context, documentID string, chunks []NewChunk) (int, error)

	// ScopeChunks returns the chunks of the given documents ordered by ID.
	// An empty scope returns an empty result. Backends are not required to
	// know ingestion state: callers pass only processed document ids, and a
	// backend may hide unprocessed documents on its own.
	ScopeChunks(ctx context.Context, documentIDs []string) ([]StoredChunk, error)

	DeleteDocumentChunks(ctx context.Context, documentID string) (int, error)
	CountDocumentChunks(ctx context.Context, documentID string) (int, error)
}

// validateBatch rejects empty content, empty vectors and mixed dimensions
// before anything is written.
func validateBatch(documentID string, chunks []NewChunk) error {
	if documentID == "" {
		return domain.Validationf("document id is required")
	}
	dim := 0
	for i, c := range chunks {
		if c.Content == "" {
			return domain.Validationf("chunk %d of document %s has empty content", i, documentID)
		}
		if len(c.Embedding) == 0 {
			return domain.Validationf("chunk %d of document %s has an empty embedding", i, documentID)
		}
		if dim == 0 {
			dim = len(c.Embedding)
		} else if len(c.Embedding) != dim {
			return domain.Validationf("chunk %d of document %s has dimension %d, want %d", i, documentID, len(c.Embedding), dim)
		}
	}
	return nil
}
