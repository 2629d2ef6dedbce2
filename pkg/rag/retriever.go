// Package rag answers questions from retrieved document chunks.
package rag

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/internal/types"
	"github.com/xhad/docqa/pkg/logger"
)

const DefaultTopK = 4

type RetrieverConfig struct {
	TopK int
	// CacheTTL keeps query embeddings for repeated questions. Zero disables the cache.
	CacheTTL time.Duration
	Logger   *zap.Logger
}

// Retriever embeds a query with the build-time embedder and searches the index.
type Retriever struct {
	config   RetrieverConfig
	embedder types.Embedder
	searcher types.Searcher
	cache    *cache.Cache
	logger   *zap.Logger
}

func NewRetriever(embedder types.Embedder, searcher types.Searcher, config RetrieverConfig) *Retriever {
	if config.TopK <= 0 {
		config.TopK = DefaultTopK
	}

	r := &Retriever{
		config:   config,
		embedder: embedder,
		searcher: searcher,
		logger:   logger.OrNop(config.Logger).Named("retriever"),
	}
	if config.CacheTTL > 0 {
		r.cache = cache.New(config.CacheTTL, 2*config.CacheTTL)
	}
	return r
}

// Retrieve returns at most k chunks by descending similarity. k <= 0 uses the configured
// default.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]models.ScoredChunk, error) {
	if k <= 0 {
		k = r.config.TopK
	}

	vec, err := r.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	hits, err := r.searcher.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %w", err)
	}
	if len(hits) > k {
		hits = hits[:k]
	}

	r.logger.Debug("retrieved chunks", zap.String("query", query), zap.Int("k", k), zap.Int("hits", len(hits)))
	return hits, nil
}

func (r *Retriever) embed(ctx context.Context, query string) ([]float32, error) {
	key := r.embedder.Name() + "\x00" + query
	if r.cache != nil {
		if v, ok := r.cache.Get(key); ok {
			return v.([]float32), nil
		}
	}

	vec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	if r.cache != nil {
		r.cache.Set(key, vec, cache.DefaultExpiration)
	}
	return vec, nil
}
