package index

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/pkg/logger"
)

const (
	DefaultBatchSize = 32
	DefaultWorkers   = 4
)

// Embedder is the part of an embedding provider the builder needs.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
}

type BuildConfig struct {
	BatchSize int
	Workers   int
	// RateLimit caps embedding requests per second. Zero means unlimited.
	RateLimit float64
	// OnProgress is called with the number of embedded chunks after each batch.
	OnProgress func(done, total int)
	Logger     *zap.Logger
}

// Builder embeds chunks and assembles an Index.
type Builder struct {
	config   BuildConfig
	embedder Embedder
	limiter  *rate.Limiter
	logger   *zap.Logger
}

func NewBuilder(embedder Embedder, config BuildConfig) *Builder {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}

	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}

	return &Builder{
		config:   config,
		embedder: embedder,
		limiter:  limiter,
		logger:   logger.OrNop(config.Logger).Named("index"),
	}
}

// Build embeds every chunk and returns an index whose entries follow the chunk order.
func (b *Builder) Build(ctx context.Context, chunks []models.Chunk) (*Index, error) {
	name := b.embedder.Name()
	if len(chunks) == 0 {
		return Empty(name), nil
	}

	vectors := make([][]float32, len(chunks))

	var (
		mu   sync.Mutex
		done int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.config.Workers)

	for start := 0; start < len(chunks); start += b.config.BatchSize {
		end := min(start+b.config.BatchSize, len(chunks))
		batch := chunks[start:end]

		g.Go(func() error {
			if b.limiter != nil {
				if err := b.limiter.Wait(gctx); err != nil {
					return err
				}
			}

			texts := make([]string, len(batch))
			for i, c := range batch {
				texts[i] = c.Text
			}

			vecs, err := b.embedder.EmbedDocuments(gctx, texts)
			if err != nil {
				return fmt.Errorf("failed to embed chunks %d-%d: %w", start, end-1, err)
			}
			if len(vecs) != len(batch) {
				return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vecs), len(batch))
			}
			copy(vectors[start:end], vecs)

			mu.Lock()
			done += len(batch)
			if b.config.OnProgress != nil {
				b.config.OnProgress(done, len(chunks))
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	entries := make([]Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = Entry{Vector: vectors[i], Chunk: c}
	}

	ix, err := New(name, entries)
	if err != nil {
		return nil, err
	}

	b.logger.Info("built index",
		zap.String("embedder", name),
		zap.Int("chunks", ix.Len()),
		zap.Int("dim", ix.Dim()))
	return ix, nil
}

// EmbedderName identifies the embedder whose vectors this builder produces.
func (b *Builder) EmbedderName() string {
	return b.embedder.Name()
}
