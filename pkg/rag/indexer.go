package rag

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xhad/docqa/internal/types"
	"github.com/xhad/docqa/pkg/index"
	"github.com/xhad/docqa/pkg/loader"
	"github.com/xhad/docqa/pkg/logger"
	"github.com/xhad/docqa/pkg/processor"
)

// State of the served index.
type State int32

const (
	StateAbsent State = iota
	StateBuilding
	StateReady
)

func (s State) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateReady:
		return "ready"
	default:
		return "absent"
	}
}

// BuildStats summarises one rebuild.
type BuildStats struct {
	Documents int           `json:"documents"`
	Chunks    int           `json:"chunks"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration"`
}

type IndexerConfig struct {
	DocumentsDir string
	Logger       *zap.Logger
}

// Indexer rebuilds the index from the documents directory. Rebuilds are serialised and
// published through the store, so readers never see a partial index.
type Indexer struct {
	config    IndexerConfig
	loader    *loader.Loader
	processor processor.Processor
	builder   *index.Builder
	store     types.IndexStore
	logger    *zap.Logger

	mu    sync.Mutex
	state atomic.Int32
}

func NewIndexer(l *loader.Loader, p processor.Processor, b *index.Builder, store types.IndexStore, config IndexerConfig) *Indexer {
	return &Indexer{
		config:    config,
		loader:    l,
		processor: p,
		builder:   b,
		store:     store,
		logger:    logger.OrNop(config.Logger).Named("indexer"),
	}
}

func (ix *Indexer) State() State {
	return State(ix.state.Load())
}

// Rebuild loads, chunks, embeds and persists every document from scratch.
func (ix *Indexer) Rebuild(ctx context.Context) (BuildStats, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	previous := ix.State()
	ix.state.Store(int32(StateBuilding))
	stats, err := ix.rebuild(ctx)
	if err != nil {
		ix.state.Store(int32(previous))
		return stats, err
	}
	ix.state.Store(int32(StateReady))
	return stats, nil
}

func (ix *Indexer) rebuild(ctx context.Context) (BuildStats, error) {
	start := time.Now()

	res, err := ix.loader.LoadAll(ctx, ix.config.DocumentsDir)
	if err != nil {
		return BuildStats{}, fmt.Errorf("failed to load documents: %w", err)
	}

	chunks := ix.processor.Process(res.Documents)

	built, err := ix.builder.Build(ctx, chunks)
	if err != nil {
		return BuildStats{}, fmt.Errorf("failed to build index: %w", err)
	}

	if err := ix.store.Save(ctx, built); err != nil {
		return BuildStats{}, fmt.Errorf("failed to save index: %w", err)
	}

	stats := BuildStats{
		Documents: len(res.Documents),
		Chunks:    len(chunks),
		Skipped:   len(res.Skipped),
		Duration:  time.Since(start),
	}
	ix.logger.Info("rebuilt index",
		zap.String("dir", ix.config.DocumentsDir),
		zap.Int("documents", stats.Documents),
		zap.Int("chunks", stats.Chunks),
		zap.Int("skipped", stats.Skipped),
		zap.Duration("took", stats.Duration))
	return stats, nil
}

// Open serves the persisted index when one exists and builds it otherwise. It reports
// whether a rebuild ran.
func (ix *Indexer) Open(ctx context.Context) (bool, error) {
	exists, err := ix.store.Exists(ctx)
	if err != nil {
		return false, err
	}
	if !exists {
		ix.logger.Info("no persisted index, building")
		if _, err := ix.Rebuild(ctx); err != nil {
			return true, err
		}
		return true, nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.store.Load(ctx); err != nil {
		return false, err
	}
	ix.state.Store(int32(StateReady))

	if info := ix.store.Info(); info.Embedder != ix.builder.EmbedderName() {
		ix.logger.Warn("index was built with a different embedder, rebuild it to query reliably",
			zap.String("index_embedder", info.Embedder),
			zap.String("configured_embedder", ix.builder.EmbedderName()))
	}
	return false, nil
}
