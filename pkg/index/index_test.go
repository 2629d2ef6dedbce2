package index_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/pkg/index"
)

func chunk(id string) models.Chunk {
	return models.Chunk{ID: id, Text: "text " + id, Metadata: models.Metadata{Filename: id + ".md"}}
}

func ids(hits []models.ScoredChunk) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Chunk.ID
	}
	return out
}

func testIndex(t *testing.T) *index.Index {
	t.Helper()
	ix, err := index.New("test", []index.Entry{
		{Vector: []float32{1, 0, 0}, Chunk: chunk("x")},
		{Vector: []float32{0, 1, 0}, Chunk: chunk("y")},
		{Vector: []float32{0.7, 0.7, 0}, Chunk: chunk("xy")},
		{Vector: []float32{0, 0, 1}, Chunk: chunk("z")},
	})
	require.NoError(t, err)
	return ix
}

func TestSearchOrdersByCosine(t *testing.T) {
	ix := testIndex(t)

	hits, err := ix.Search(context.Background(), []float32{2, 0.1, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "xy", "y"}, ids(hits))
	assert.InDelta(t, 0.9988, hits[0].Score, 1e-3)

	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
}

func TestSearchLimits(t *testing.T) {
	ix := testIndex(t)
	ctx := context.Background()

	for k := -1; k <= 6; k++ {
		hits, err := ix.Search(ctx, []float32{1, 1, 1}, k)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(hits), max(k, 0))
		assert.LessOrEqual(t, len(hits), ix.Len())
	}
}

func TestSearchTiesKeepInsertionOrder(t *testing.T) {
	ix, err := index.New("test", []index.Entry{
		{Vector: []float32{1, 0}, Chunk: chunk("first")},
		{Vector: []float32{0, 1}, Chunk: chunk("other")},
		{Vector: []float32{1, 0}, Chunk: chunk("second")},
		{Vector: []float32{2, 0}, Chunk: chunk("third")},
	})
	require.NoError(t, err)

	hits, err := ix.Search(context.Background(), []float32{1, 0}, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third", "other"}, ids(hits))
}

func TestSearchEmptyIndex(t *testing.T) {
	ix := index.Empty("test")

	hits, err := ix.Search(context.Background(), []float32{1, 2, 3}, 4)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Equal(t, index.Info{Embedder: "test"}, ix.Info())
}

func TestSearchDimensionMismatch(t *testing.T) {
	ix := testIndex(t)

	_, err := ix.Search(context.Background(), []float32{1, 0}, 2)

	var dimErr *index.DimensionMismatchError
	require.True(t, errors.As(err, &dimErr))
	assert.Equal(t, 3, dimErr.Want)
	assert.Equal(t, 2, dimErr.Got)
}

func TestSearchZeroQuery(t *testing.T) {
	ix := testIndex(t)

	hits, err := ix.Search(context.Background(), []float32{0, 0, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, ids(hits))
	assert.Zero(t, hits[0].Score)
}

func TestNewRejectsMixedDimensions(t *testing.T) {
	_, err := index.New("test", []index.Entry{
		{Vector: []float32{1, 0}, Chunk: chunk("a")},
		{Vector: []float32{1, 0, 0}, Chunk: chunk("b")},
	})

	var dimErr *index.DimensionMismatchError
	assert.True(t, errors.As(err, &dimErr))
}

func TestHandle(t *testing.T) {
	var h index.Handle
	ctx := context.Background()

	hits, err := h.Search(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Equal(t, index.Info{}, h.Info())

	ix := testIndex(t)
	assert.Nil(t, h.Swap(ix))
	assert.Same(t, ix, h.Current())
	assert.Equal(t, 4, h.Info().Count)

	hits, err = h.Search(ctx, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, ids(hits))
}

func TestHandleConcurrentSwap(t *testing.T) {
	var h index.Handle
	small, err := index.New("small", []index.Entry{{Vector: []float32{1, 0, 0}, Chunk: chunk("x")}})
	require.NoError(t, err)
	big := testIndex(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				hits, err := h.Search(context.Background(), []float32{1, 0, 0}, 10)
				assert.NoError(t, err)
				assert.Contains(t, []int{0, 1, 4}, len(hits))
			}
		}()
	}
	for j := 0; j < 200; j++ {
		if j%2 == 0 {
			h.Swap(small)
		} else {
			h.Swap(big)
		}
	}
	wg.Wait()
}
