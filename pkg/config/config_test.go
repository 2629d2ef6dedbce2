package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	// Create temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configData := `
documents:
  dir: "/srv/docs"
  markdown_format: html

processor:
  chunk_size: 800
  chunk_overlap: 0

embedder:
  provider: ollama
  model: "nomic-embed-text:latest"
  base_url: "http://localhost:11434"
  dimension: 768

vector_store:
  type: pgvector
  path: "/srv/vectorstore"

database:
  url: "postgres://localhost:5432/test"
  table_name: "test_docs"

llm:
  model: "mistralai/Mistral-7B-Instruct-v0.3"
  temperature: 0
  max_tokens: 256
  timeout: 15s
  stop: ["\nQuestion:"]

rag:
  citation_order: retrieval
  max_sources: 1
`
	err := os.WriteFile(configPath, []byte(configData), 0644)
	require.NoError(t, err)

	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "/srv/docs", config.Documents.Dir)
	assert.Equal(t, "html", config.Documents.MarkdownFormat)
	assert.Equal(t, 800, config.Processor.ChunkSize)
	assert.Equal(t, 0, config.Processor.ChunkOverlap)
	assert.Equal(t, "ollama", config.Embedder.Provider)
	assert.Equal(t, 768, config.Embedder.Dimension)
	assert.Equal(t, "pgvector", config.VectorStore.Type)
	assert.Equal(t, "test_docs", config.Database.TableName)
	assert.Equal(t, "mistralai/Mistral-7B-Instruct-v0.3", config.LLM.Model)
	assert.Equal(t, 0.0, config.LLM.Temperature)
	assert.Equal(t, 256, config.LLM.MaxTokens)
	assert.Equal(t, 15*time.Second, config.LLM.Timeout)
	assert.Equal(t, []string{"\nQuestion:"}, config.LLM.Stop)
	assert.Equal(t, "retrieval", config.RAG.CitationOrder)
	assert.Equal(t, 1, config.RAG.MaxSources)

	// untouched sections keep their defaults
	assert.Equal(t, "huggingface", config.LLM.Provider)
	assert.Equal(t, 4, config.Retriever.TopK)
	assert.Equal(t, 32, config.Embedder.BatchSize)
	assert.Empty(t, config.Validate())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDefaults(t *testing.T) {
	config := Default()

	assert.Equal(t, "data/docs", config.Documents.Dir)
	assert.Equal(t, 500, config.Processor.ChunkSize)
	assert.Equal(t, 100, config.Processor.ChunkOverlap)
	assert.Equal(t, "vectorstore", config.VectorStore.Path)
	assert.Equal(t, 4, config.Retriever.TopK)
	assert.Equal(t, 0.5, config.LLM.Temperature)
	assert.Equal(t, 512, config.LLM.MaxTokens)
	assert.Equal(t, "answer", config.RAG.CitationOrder)
	assert.Empty(t, config.Validate())
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		fields []string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name: "overlap not smaller than size",
			mutate: func(c *Config) {
				c.Processor.ChunkSize = 100
				c.Processor.ChunkOverlap = 100
			},
			fields: []string{"processor.chunk_overlap"},
		},
		{
			name: "invalid llm settings",
			mutate: func(c *Config) {
				c.LLM.BaseURL = "not a url"
				c.LLM.Temperature = 3.0
				c.LLM.MaxTokens = 0
			},
			fields: []string{"llm.base_url", "llm.temperature", "llm.max_tokens"},
		},
		{
			name: "unknown providers",
			mutate: func(c *Config) {
				c.Embedder.Provider = "word2vec"
				c.LLM.Provider = "gpt"
			},
			fields: []string{"embedder.provider", "llm.provider"},
		},
		{
			name: "pgvector without database url",
			mutate: func(c *Config) {
				c.VectorStore.Type = "pgvector"
			},
			fields: []string{"database.url"},
		},
		{
			name: "huggingface embedder without token",
			mutate: func(c *Config) {
				c.Embedder.Provider = "huggingface"
			},
			fields: []string{"llm.token"},
		},
		{
			name: "huggingface embedder with token",
			mutate: func(c *Config) {
				c.Embedder.Provider = "huggingface"
				c.LLM.Token = "hf_secret"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(config)

			errs := config.Validate()
			require.Len(t, errs, len(tt.fields))

			got := make([]string, 0, len(errs))
			for _, e := range errs {
				got = append(got, e.Field)
			}
			assert.ElementsMatch(t, tt.fields, got)
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv(TokenEnv, "hf_secret")
	t.Setenv("OLLAMA_BASE_URL", "http://env-ollama:11434")
	t.Setenv("DATABASE_URL", "postgres://env-db:5432/test")
	t.Setenv("DOCQA_DOCS_DIR", "/env/docs")

	config := Default()
	config.Embedder.Provider = "ollama"
	mergeWithEnv(config)

	assert.Equal(t, "hf_secret", config.LLM.Token)
	assert.Equal(t, "http://env-ollama:11434", config.Embedder.BaseURL)
	assert.Empty(t, config.LLM.BaseURL)
	assert.Equal(t, "postgres://env-db:5432/test", config.Database.URL)
	assert.Equal(t, "/env/docs", config.Documents.Dir)
}
