package rag_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/docqa/internal/testutil"
	"github.com/xhad/docqa/pkg/index"
	"github.com/xhad/docqa/pkg/loader"
	"github.com/xhad/docqa/pkg/processor"
	"github.com/xhad/docqa/pkg/rag"
)

type pipeline struct {
	embedder *vocabEmbedder
	store    *index.FileStore
	indexer  *rag.Indexer
}

func newPipeline(t *testing.T, docsDir, indexDir string) pipeline {
	t.Helper()

	emb := newVocabEmbedder("model", "x", "y", "8gb", "12gb", "ram", "battery")
	p, err := processor.NewWithConfig(processor.DefaultProcessorConfig())
	require.NoError(t, err)

	store := index.NewFileStore(indexDir, nil)
	indexer := rag.NewIndexer(
		loader.NewWithConfig(loader.LoaderConfig{}),
		p,
		index.NewBuilder(emb, index.BuildConfig{BatchSize: 1, Workers: 2}),
		store,
		rag.IndexerConfig{DocumentsDir: docsDir},
	)
	return pipeline{embedder: emb, store: store, indexer: indexer}
}

func TestPhoneScenario(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		answer string
		page   int
		label  string
	}{
		{name: "model x", query: "How much RAM does the Model X have?", answer: "Model X has 8GB RAM.", page: 0, label: "phone.pdf, page 1"},
		{name: "model y", query: "How much RAM does the Model Y have?", answer: "Model Y has 12GB RAM.", page: 1, label: "phone.pdf, page 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			docsDir := filepath.Join(root, "docs")
			testutil.WritePDF(t, filepath.Join(docsDir, "phone.pdf"), "Model X has 8GB RAM", "Model Y has 12GB RAM")

			pl := newPipeline(t, docsDir, filepath.Join(root, "vectorstore"))
			ctx := context.Background()

			built, err := pl.indexer.Open(ctx)
			require.NoError(t, err)
			assert.True(t, built)
			assert.Equal(t, rag.StateReady, pl.indexer.State())
			assert.Equal(t, 2, pl.store.Info().Count)

			r := rag.NewRetriever(pl.embedder, pl.store, rag.RetrieverConfig{})
			hits, err := r.Retrieve(ctx, tt.query, 2)
			require.NoError(t, err)
			require.Len(t, hits, 2)

			top := hits[0].Chunk
			require.NotNil(t, top.Metadata.Page)
			assert.Equal(t, "phone.pdf", top.Metadata.Filename)
			assert.Equal(t, tt.page, *top.Metadata.Page)
			assert.Greater(t, hits[0].Score, hits[1].Score)

			gen := &fakeGenerator{answer: tt.answer}
			e, err := rag.NewEngine(r, gen, rag.EngineConfig{TopK: 2})
			require.NoError(t, err)

			answer, err := e.Answer(ctx, tt.query)
			require.NoError(t, err)
			require.NotEmpty(t, answer.Sources)
			assert.Equal(t, tt.label, answer.Sources[0].Label())
			assert.Contains(t, gen.LastPrompt(), top.Text)
		})
	}
}

func TestOpenReusesPersistedIndex(t *testing.T) {
	root := t.TempDir()
	docsDir := filepath.Join(root, "docs")
	indexDir := filepath.Join(root, "vectorstore")
	testutil.WriteFile(t, filepath.Join(docsDir, "notes.md"), "Battery: the Model Y battery lasts two days.")

	first := newPipeline(t, docsDir, indexDir)
	built, err := first.indexer.Open(context.Background())
	require.NoError(t, err)
	assert.True(t, built)

	second := newPipeline(t, docsDir, indexDir)
	built, err = second.indexer.Open(context.Background())
	require.NoError(t, err)
	assert.False(t, built, "an existing index is loaded, not rebuilt")
	assert.Equal(t, first.store.Info(), second.store.Info())
}

func TestRebuildIsIdempotent(t *testing.T) {
	root := t.TempDir()
	docsDir := filepath.Join(root, "docs")
	testutil.WriteFile(t, filepath.Join(docsDir, "a.md"), "Model X has 8GB RAM and a battery.")
	testutil.WriteFile(t, filepath.Join(docsDir, "b.md"), "Model Y has 12GB RAM.")
	testutil.WriteFile(t, filepath.Join(docsDir, "c.md"), "Battery life of Model Y.")

	pl := newPipeline(t, docsDir, filepath.Join(root, "vectorstore"))
	r := rag.NewRetriever(pl.embedder, pl.store, rag.RetrieverConfig{})
	ctx := context.Background()

	var runs [][]string
	for i := 0; i < 2; i++ {
		stats, err := pl.indexer.Rebuild(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, stats.Documents)
		assert.Equal(t, 3, stats.Chunks)

		hits, err := r.Retrieve(ctx, "model y battery", 3)
		require.NoError(t, err)
		ids := make([]string, len(hits))
		for j, h := range hits {
			ids[j] = h.Chunk.ID
		}
		runs = append(runs, ids)
	}
	assert.Equal(t, runs[0], runs[1])
}

func TestEmptyDirectoryGivesEmptyIndex(t *testing.T) {
	root := t.TempDir()
	pl := newPipeline(t, filepath.Join(root, "missing"), filepath.Join(root, "vectorstore"))
	ctx := context.Background()

	stats, err := pl.indexer.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, rag.BuildStats{Duration: stats.Duration}, stats)

	hits, err := rag.NewRetriever(pl.embedder, pl.store, rag.RetrieverConfig{}).Retrieve(ctx, "model x", 4)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestRebuildCountsSkippedFiles(t *testing.T) {
	root := t.TempDir()
	docsDir := filepath.Join(root, "docs")
	testutil.WriteFile(t, filepath.Join(docsDir, "broken.pdf"), "not a pdf")
	testutil.WriteFile(t, filepath.Join(docsDir, "ok.md"), "Model X")

	pl := newPipeline(t, docsDir, filepath.Join(root, "vectorstore"))
	stats, err := pl.indexer.Rebuild(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, stats.Documents)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "absent", rag.StateAbsent.String())
	assert.Equal(t, "building", rag.StateBuilding.String())
	assert.Equal(t, "ready", rag.StateReady.String())
}
