package index

import (
	"context"
	"sync/atomic"

	"github.com/xhad/docqa/internal/models"
)

// Handle publishes the current index to concurrent readers. A search sees either the
// previous or the next index, never a partially built one.
type Handle struct {
	current atomic.Pointer[Index]
}

// Swap publishes ix and returns the index it replaced.
func (h *Handle) Swap(ix *Index) *Index {
	return h.current.Swap(ix)
}

// Current returns the published index or nil.
func (h *Handle) Current() *Index {
	return h.current.Load()
}

func (h *Handle) Info() Info {
	if ix := h.Current(); ix != nil {
		return ix.Info()
	}
	return Info{}
}

// Search behaves as an empty index until something is published.
func (h *Handle) Search(ctx context.Context, query []float32, k int) ([]models.ScoredChunk, error) {
	ix := h.Current()
	if ix == nil {
		return []models.ScoredChunk{}, nil
	}
	return ix.Search(ctx, query, k)
}
