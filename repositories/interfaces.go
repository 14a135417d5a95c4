package repositories

import (
	"context"

	"github.com/upb/medbot/models"
)

// VectorIndex is a prebuilt, read-only nearest neighbour index over document chunks
type VectorIndex interface {
	// Search returns at most k documents whose relevance score is at least
	// threshold, sorted by descending score
	Search(ctx context.Context, vector []float32, k int, threshold float64) ([]models.ScoredDocument, error)

	// Health reports whether the index can serve queries
	Health(ctx context.Context) error

	// Backend returns the storage backend name (e.g., "sqlite")
	Backend() string

	// Close releases the underlying connection
	Close() error
}

// IndexedDocument is a document together with its stored embedding.
// Used to seed an index; the query path never writes.
type IndexedDocument struct {
	models.Document
	Embedding []float32
}
