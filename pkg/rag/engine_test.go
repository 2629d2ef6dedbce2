package rag_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/pkg/index"
	"github.com/xhad/docqa/pkg/llm"
	"github.com/xhad/docqa/pkg/rag"
)

func TestRetrieverDefaultsAndLimits(t *testing.T) {
	var many []models.ScoredChunk
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		many = append(many, hit(id, id, 1))
	}
	r := rag.NewRetriever(newVocabEmbedder("x"), staticSearcher{hits: many}, rag.RetrieverConfig{})

	hits, err := r.Retrieve(context.Background(), "x", 0)
	require.NoError(t, err)
	assert.Len(t, hits, rag.DefaultTopK)

	hits, err = r.Retrieve(context.Background(), "x", 2)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestRetrieverCachesQueryEmbeddings(t *testing.T) {
	emb := newVocabEmbedder("x")
	r := rag.NewRetriever(emb, staticSearcher{}, rag.RetrieverConfig{CacheTTL: time.Minute})

	for i := 0; i < 3; i++ {
		_, err := r.Retrieve(context.Background(), "x marks the spot", 1)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, emb.Queries())

	_, err := r.Retrieve(context.Background(), "another question", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, emb.Queries())

	uncached := newVocabEmbedder("x")
	r = rag.NewRetriever(uncached, staticSearcher{}, rag.RetrieverConfig{})
	for i := 0; i < 2; i++ {
		_, err := r.Retrieve(context.Background(), "x", 1)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, uncached.Queries())
}

func TestRetrieverSearchError(t *testing.T) {
	r := rag.NewRetriever(newVocabEmbedder("x"), staticSearcher{err: &index.DimensionMismatchError{Want: 3, Got: 2}}, rag.RetrieverConfig{})

	_, err := r.Retrieve(context.Background(), "x", 1)
	var dimErr *index.DimensionMismatchError
	assert.True(t, errors.As(err, &dimErr))
}

func newEngine(t *testing.T, rcfg rag.RetrieverConfig, hits []models.ScoredChunk, gen *fakeGenerator, cfg rag.EngineConfig) *rag.Engine {
	t.Helper()
	r := rag.NewRetriever(newVocabEmbedder("model", "x", "ram"), staticSearcher{hits: hits}, rcfg)
	e, err := rag.NewEngine(r, gen, cfg)
	require.NoError(t, err)
	return e
}

func TestEngineAnswer(t *testing.T) {
	hits := []models.ScoredChunk{
		hit("p1", "Model Y has 12GB RAM", 0.9),
		hit("p0", "Model X has 8GB RAM", 0.8),
	}
	gen := &fakeGenerator{answer: "  Model X has 8GB RAM  "}
	e := newEngine(t, rag.RetrieverConfig{}, hits, gen, rag.EngineConfig{})

	answer, err := e.Answer(context.Background(), "How much RAM does the Model X have?")
	require.NoError(t, err)

	assert.Equal(t, "How much RAM does the Model X have?", answer.Query)
	assert.Equal(t, "Model X has 8GB RAM", answer.Text)
	assert.Equal(t, []string{"p0", "p1"}, citationIDs(answer.Sources))
	assert.Contains(t, gen.LastPrompt(), "Model Y has 12GB RAM\n\nModel X has 8GB RAM")
	assert.Contains(t, gen.LastPrompt(), "How much RAM does the Model X have?")
	assert.Nil(t, gen.stops[0], "generator stop sequences are used by default")

	turn := answer.Turn()
	assert.Equal(t, models.RoleAssistant, turn.Role)
	assert.Equal(t, answer.Sources, turn.Sources)
}

func TestEngineSourcesAreRetrievedChunks(t *testing.T) {
	hits := []models.ScoredChunk{
		hit("a", "alpha beta", 0.9),
		hit("b", "gamma delta", 0.8),
		hit("c", "alpha gamma", 0.7),
	}
	gen := &fakeGenerator{answer: "alpha gamma delta"}

	for _, order := range []string{rag.CitationOrderAnswer, rag.CitationOrderRetrieval} {
		e := newEngine(t, rag.RetrieverConfig{}, hits, gen, rag.EngineConfig{CitationOrder: order, MaxSources: 2})

		answer, err := e.Answer(context.Background(), "q")
		require.NoError(t, err)
		require.Len(t, answer.Sources, 2)

		retrieved := map[string]bool{"a": true, "b": true, "c": true}
		for _, s := range answer.Sources {
			assert.True(t, retrieved[s.Chunk.ID])
		}
		if order == rag.CitationOrderAnswer {
			assert.GreaterOrEqual(t, answer.Sources[0].TextSimilarity, answer.Sources[1].TextSimilarity)
		} else {
			assert.Equal(t, []string{"a", "b"}, citationIDs(answer.Sources))
		}
	}
}

func TestEngineEmptyIndex(t *testing.T) {
	gen := &fakeGenerator{answer: "I don't know."}
	r := rag.NewRetriever(newVocabEmbedder("x"), index.Empty("vocab"), rag.RetrieverConfig{})
	e, err := rag.NewEngine(r, gen, rag.EngineConfig{})
	require.NoError(t, err)

	answer, err := e.Answer(context.Background(), "anything?")
	require.NoError(t, err)
	assert.Equal(t, "I don't know.", answer.Text)
	assert.Empty(t, answer.Sources)
	assert.Contains(t, gen.LastPrompt(), rag.NoContext)
}

func TestEngineEmptyQuery(t *testing.T) {
	gen := &fakeGenerator{answer: "x"}
	e := newEngine(t, rag.RetrieverConfig{}, nil, gen, rag.EngineConfig{})

	_, err := e.Answer(context.Background(), "   ")
	assert.ErrorIs(t, err, rag.ErrEmptyQuery)
	assert.Empty(t, gen.prompts)
}

func TestEngineGenerationErrors(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(t *testing.T, err error)
	}{
		{
			name: "authentication",
			err:  &llm.AuthenticationError{Err: &llm.HTTPError{StatusCode: 401}},
			check: func(t *testing.T, err error) {
				var authErr *llm.AuthenticationError
				assert.True(t, errors.As(err, &authErr))
			},
		},
		{
			name: "generation",
			err:  &llm.GenerationError{Attempts: 4, Err: errors.New("upstream unavailable")},
			check: func(t *testing.T, err error) {
				var genErr *llm.GenerationError
				require.True(t, errors.As(err, &genErr))
				assert.Equal(t, 4, genErr.Attempts)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{err: tt.err}
			e := newEngine(t, rag.RetrieverConfig{}, []models.ScoredChunk{hit("a", "a", 1)}, gen, rag.EngineConfig{})

			answer, err := e.Answer(context.Background(), "q")
			assert.Nil(t, answer)
			tt.check(t, err)
		})
	}
}

func TestEngineStopOverride(t *testing.T) {
	gen := &fakeGenerator{answer: "x"}
	e := newEngine(t, rag.RetrieverConfig{}, nil, gen, rag.EngineConfig{Stop: []string{"\nQuestion:"}})

	_, err := e.Answer(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []string{"\nQuestion:"}, gen.stops[0])
}

func TestNewEngineValidation(t *testing.T) {
	r := rag.NewRetriever(newVocabEmbedder("x"), staticSearcher{}, rag.RetrieverConfig{})

	_, err := rag.NewEngine(r, &fakeGenerator{}, rag.EngineConfig{CitationOrder: "random"})
	assert.Error(t, err)
	_, err = rag.NewEngine(r, &fakeGenerator{}, rag.EngineConfig{PromptTemplate: "no placeholders"})
	assert.Error(t, err)
	_, err = rag.NewEngine(r, nil, rag.EngineConfig{})
	assert.Error(t, err)
}
