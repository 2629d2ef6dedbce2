package rag_test

import (
	"context"
	"math"
	"sync"

	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/pkg/llm"
)

// vocabEmbedder counts vocabulary terms, so similarities are easy to reason about.
type vocabEmbedder struct {
	vocab []string

	mu      sync.Mutex
	queries int
}

func newVocabEmbedder(terms ...string) *vocabEmbedder {
	return &vocabEmbedder{vocab: terms}
}

func (e *vocabEmbedder) Name() string { return "vocab" }

func (e *vocabEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.embed(t)
	}
	return out, nil
}

func (e *vocabEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.queries++
	e.mu.Unlock()
	return e.embed(text), nil
}

func (e *vocabEmbedder) Queries() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queries
}

func (e *vocabEmbedder) embed(text string) []float32 {
	vec := make([]float32, len(e.vocab))
	for _, tok := range llm.Tokenize(text) {
		for i, term := range e.vocab {
			if tok == term {
				vec[i]++
			}
		}
	}
	var n float64
	for _, v := range vec {
		n += float64(v * v)
	}
	if n > 0 {
		for i := range vec {
			vec[i] /= float32(math.Sqrt(n))
		}
	}
	return vec
}

// fakeGenerator answers with a fixed text and records prompts.
type fakeGenerator struct {
	answer string
	err    error

	mu      sync.Mutex
	prompts []string
	stops   [][]string
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string, stop []string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	g.stops = append(g.stops, stop)
	if g.err != nil {
		return "", g.err
	}
	return g.answer, nil
}

func (g *fakeGenerator) LastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

// staticSearcher returns canned hits, ignoring the query.
type staticSearcher struct {
	hits []models.ScoredChunk
	err  error
}

func (s staticSearcher) Search(ctx context.Context, query []float32, k int) ([]models.ScoredChunk, error) {
	return s.hits, s.err
}

func hit(id, text string, score float64) models.ScoredChunk {
	return models.ScoredChunk{
		Chunk: models.Chunk{ID: id, Text: text, Metadata: models.Metadata{Filename: id + ".md"}},
		Score: score,
	}
}

func citationIDs(cs []models.Citation) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Chunk.ID
	}
	return out
}
