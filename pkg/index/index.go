// Package index holds chunk embeddings and answers exact cosine nearest-neighbour queries.
package index

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/xhad/docqa/internal/models"
)

// Entry pairs a chunk with its embedding.
type Entry struct {
	Vector []float32
	Chunk  models.Chunk
}

// Info describes an index without exposing its entries.
type Info struct {
	Embedder string `json:"embedder"`
	Dim      int    `json:"dim"`
	Count    int    `json:"count"`
}

// Index is an immutable flat vector index. It is safe for concurrent searches.
type Index struct {
	embedder string
	dim      int
	entries  []Entry
	norms    []float64
}

// New builds an index over entries in the given order. All vectors must share one
// dimension.
func New(embedder string, entries []Entry) (*Index, error) {
	ix := &Index{
		embedder: embedder,
		entries:  entries,
		norms:    make([]float64, len(entries)),
	}
	if len(entries) > 0 {
		ix.dim = len(entries[0].Vector)
		if ix.dim == 0 {
			return nil, fmt.Errorf("index entries have empty vectors")
		}
	}

	for i, e := range entries {
		if len(e.Vector) != ix.dim {
			return nil, &DimensionMismatchError{Want: ix.dim, Got: len(e.Vector)}
		}
		ix.norms[i] = vectorNorm(e.Vector)
	}

	return ix, nil
}

// Empty returns an index without entries.
func Empty(embedder string) *Index {
	return &Index{embedder: embedder}
}

func (ix *Index) Embedder() string { return ix.embedder }

func (ix *Index) Dim() int { return ix.dim }

func (ix *Index) Len() int { return len(ix.entries) }

// Entries returns the entries in insertion order. Callers must not modify them.
func (ix *Index) Entries() []Entry { return ix.entries }

func (ix *Index) Info() Info {
	return Info{Embedder: ix.embedder, Dim: ix.dim, Count: len(ix.entries)}
}

// Search returns at most k chunks by descending cosine similarity to query. Equal scores
// keep insertion order.
func (ix *Index) Search(ctx context.Context, query []float32, k int) ([]models.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 || len(ix.entries) == 0 {
		return []models.ScoredChunk{}, nil
	}
	if len(query) != ix.dim {
		return nil, &DimensionMismatchError{Want: ix.dim, Got: len(query)}
	}

	qnorm := vectorNorm(query)
	hits := make([]models.ScoredChunk, len(ix.entries))
	for i, e := range ix.entries {
		hits[i] = models.ScoredChunk{
			Chunk: e.Chunk,
			Score: cosine(query, e.Vector, qnorm, ix.norms[i]),
		}
	}

	slices.SortStableFunc(hits, func(a, b models.ScoredChunk) int {
		return cmp.Compare(b.Score, a.Score)
	})

	return hits[:min(k, len(hits))], nil
}

func cosine(a, b []float32, na, nb float64) float64 {
	if na == 0 || nb == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (na * nb)
}

func vectorNorm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}
