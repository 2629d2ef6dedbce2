package types

import (
	"context"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/pkg/index"
)

// Core interfaces

// Embedder is an embedding provider with a stable identity. The same identity must be used
// to build an index and to query it.
type Embedder interface {
	embeddings.Embedder
	Name() string
}

// Searcher runs nearest-neighbour search over a built index.
type Searcher interface {
	Search(ctx context.Context, query []float32, k int) ([]models.ScoredChunk, error)
}

// IndexStore persists a built index and serves searches over the persisted copy.
type IndexStore interface {
	Searcher
	// Exists reports whether a persisted index is present. It is the build-vs-load signal.
	Exists(ctx context.Context) (bool, error)
	// Load makes the persisted index searchable.
	Load(ctx context.Context) error
	// Save persists ix and publishes it atomically.
	Save(ctx context.Context, ix *index.Index) error
	// Info describes the index currently served.
	Info() index.Info
	Close()
}

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, stop []string) (string, error)
}
