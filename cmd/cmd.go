package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xhad/docqa/internal/types"
	"github.com/xhad/docqa/pkg/config"
	"github.com/xhad/docqa/pkg/index"
	"github.com/xhad/docqa/pkg/llm"
	"github.com/xhad/docqa/pkg/loader"
	"github.com/xhad/docqa/pkg/processor"
	"github.com/xhad/docqa/pkg/rag"
	"github.com/xhad/docqa/pkg/store"
)

// app holds the wired pipeline for one process.
type app struct {
	config  *config.Config
	logger  *zap.Logger
	store   types.IndexStore
	indexer *rag.Indexer
	engine  *rag.Engine
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger, onProgress func(done, total int)) (*app, error) {
	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Provider:  cfg.Embedder.Provider,
		Model:     cfg.Embedder.Model,
		BaseURL:   cfg.Embedder.BaseURL,
		Token:     cfg.LLM.Token,
		Dimension: cfg.Embedder.Dimension,
		BatchSize: cfg.Embedder.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	proc, err := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:    cfg.Processor.ChunkSize,
		ChunkOverlap: cfg.Processor.ChunkOverlap,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize processor: %w", err)
	}

	model, err := llm.NewChatModel(llm.ChatConfig{
		Provider: cfg.LLM.Provider,
		Model:    cfg.LLM.Model,
		BaseURL:  cfg.LLM.BaseURL,
		Token:    cfg.LLM.Token,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat model: %w", err)
	}

	generator, err := llm.NewGenerator(model, llm.GeneratorConfig{
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Stop:        cfg.LLM.Stop,
		Timeout:     cfg.LLM.Timeout,
		MaxRetries:  cfg.LLM.MaxRetries,
		Logger:      log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize generator: %w", err)
	}

	indexStore, err := newStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	indexer := rag.NewIndexer(
		loader.NewWithConfig(loader.LoaderConfig{
			MarkdownFormat: cfg.Documents.MarkdownFormat,
			Strict:         cfg.Documents.Strict,
			Logger:         log,
		}),
		proc,
		index.NewBuilder(embedder, index.BuildConfig{
			BatchSize:  cfg.Embedder.BatchSize,
			Workers:    cfg.Embedder.Workers,
			RateLimit:  cfg.Embedder.RateLimit,
			OnProgress: onProgress,
			Logger:     log,
		}),
		indexStore,
		rag.IndexerConfig{
			DocumentsDir: cfg.Documents.Dir,
			Logger:       log,
		},
	)

	retriever := rag.NewRetriever(embedder, indexStore, rag.RetrieverConfig{
		TopK:     cfg.Retriever.TopK,
		CacheTTL: cfg.Retriever.CacheTTL,
		Logger:   log,
	})

	engine, err := rag.NewEngine(retriever, generator, rag.EngineConfig{
		TopK:           cfg.Retriever.TopK,
		PromptTemplate: cfg.LLM.PromptTemplate,
		CitationOrder:  cfg.RAG.CitationOrder,
		MaxSources:     cfg.RAG.MaxSources,
		Logger:         log,
	})
	if err != nil {
		indexStore.Close()
		return nil, fmt.Errorf("failed to initialize engine: %w", err)
	}

	return &app{
		config:  cfg,
		logger:  log,
		store:   indexStore,
		indexer: indexer,
		engine:  engine,
	}, nil
}

func newStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (types.IndexStore, error) {
	switch cfg.VectorStore.Type {
	case "pgvector":
		vs, err := store.NewWithConfig(ctx, store.VectorStoreConfig{
			ConnString: cfg.Database.URL,
			TableName:  cfg.Database.TableName,
			Logger:     log,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize vector store: %w", err)
		}
		return vs, nil
	case "", "file":
		return index.NewFileStore(cfg.VectorStore.Path, log), nil
	default:
		return nil, fmt.Errorf("unknown vector store type %q", cfg.VectorStore.Type)
	}
}

func (a *app) Close() {
	a.store.Close()
}
