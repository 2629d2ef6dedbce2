package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/internal/types"
	"github.com/xhad/docqa/pkg/logger"
)

var ErrEmptyQuery = errors.New("query is empty")

type EngineConfig struct {
	TopK           int
	PromptTemplate string
	// Stop overrides the generator's stop sequences when non-nil.
	Stop          []string
	CitationOrder string
	MaxSources    int
	Logger        *zap.Logger
}

// Engine answers one question at a time: retrieve, prompt, generate, cite. It keeps no
// state between calls.
type Engine struct {
	config    EngineConfig
	retriever *Retriever
	generator types.Generator
	prompt    Prompt
	logger    *zap.Logger
}

func NewEngine(retriever *Retriever, generator types.Generator, config EngineConfig) (*Engine, error) {
	if retriever == nil || generator == nil {
		return nil, fmt.Errorf("retriever and generator are required")
	}

	switch config.CitationOrder {
	case "":
		config.CitationOrder = CitationOrderAnswer
	case CitationOrderAnswer, CitationOrderRetrieval:
	default:
		return nil, fmt.Errorf("unknown citation order %q", config.CitationOrder)
	}
	if config.MaxSources < 0 {
		return nil, fmt.Errorf("max sources cannot be negative")
	}

	prompt, err := NewPrompt(config.PromptTemplate)
	if err != nil {
		return nil, err
	}

	return &Engine{
		config:    config,
		retriever: retriever,
		generator: generator,
		prompt:    prompt,
		logger:    logger.OrNop(config.Logger).Named("engine"),
	}, nil
}

// Answer generates an answer to query from the retrieved context. Sources are the
// retrieved chunks ordered per CitationOrder.
func (e *Engine) Answer(ctx context.Context, query string) (*models.Answer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	start := time.Now()

	hits, err := e.retriever.Retrieve(ctx, query, e.config.TopK)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve context: %w", err)
	}

	text, err := e.generator.Generate(ctx, e.prompt.Render(query, hits), e.config.Stop)
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}
	text = strings.TrimSpace(text)

	answer := &models.Answer{
		Query:   query,
		Text:    text,
		Sources: Cite(hits, text, e.config.CitationOrder, e.config.MaxSources),
	}

	e.logger.Info("answered query",
		zap.Int("retrieved", len(hits)),
		zap.Int("sources", len(answer.Sources)),
		zap.Duration("took", time.Since(start)))
	return answer, nil
}
