package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const TokenEnv = "HUGGINGFACEHUB_API_TOKEN"

type Config struct {
	Documents   DocumentsConfig   `yaml:"documents"`
	Processor   ProcessorConfig   `yaml:"processor"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Database    DatabaseConfig    `yaml:"database"`
	Retriever   RetrieverConfig   `yaml:"retriever"`
	LLM         LLMConfig         `yaml:"llm"`
	RAG         RAGConfig         `yaml:"rag"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
}

type DocumentsConfig struct {
	Dir            string `yaml:"dir" validate:"required"`
	MarkdownFormat string `yaml:"markdown_format" validate:"oneof=text html"`
	Strict         bool   `yaml:"strict"`
}

type ProcessorConfig struct {
	ChunkSize    int `yaml:"chunk_size" validate:"min=1"`
	ChunkOverlap int `yaml:"chunk_overlap" validate:"min=0,ltfield=ChunkSize"`
}

type EmbedderConfig struct {
	Provider  string  `yaml:"provider" validate:"oneof=hashing ollama huggingface"`
	// Model defaults per provider when empty
	Model     string  `yaml:"model"`
	BaseURL   string  `yaml:"base_url" validate:"omitempty,url"`
	Dimension int     `yaml:"dimension" validate:"min=1"`
	BatchSize int     `yaml:"batch_size" validate:"min=1"`
	Workers   int     `yaml:"workers" validate:"min=1"`
	RateLimit float64 `yaml:"rate_limit" validate:"min=0"`
}

type VectorStoreConfig struct {
	Type string `yaml:"type" validate:"oneof=file pgvector"`
	Path string `yaml:"path" validate:"required"`
}

type DatabaseConfig struct {
	URL       string `yaml:"url" validate:"omitempty,url"`
	TableName string `yaml:"table_name" validate:"required"`
}

type RetrieverConfig struct {
	TopK     int           `yaml:"top_k" validate:"min=1"`
	CacheTTL time.Duration `yaml:"cache_ttl" validate:"min=0"`
}

type LLMConfig struct {
	Provider       string        `yaml:"provider" validate:"oneof=huggingface ollama"`
	BaseURL        string        `yaml:"base_url" validate:"omitempty,url"`
	Model          string        `yaml:"model" validate:"required"`
	Token          string        `yaml:"token"`
	Temperature    float64       `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens      int           `yaml:"max_tokens" validate:"min=1,max=8192"`
	Stop           []string      `yaml:"stop"`
	Timeout        time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxRetries     int           `yaml:"max_retries" validate:"min=0,max=10"`
	PromptTemplate string        `yaml:"prompt_template"`
}

type RAGConfig struct {
	CitationOrder string `yaml:"citation_order" validate:"oneof=answer retrieval"`
	MaxSources    int    `yaml:"max_sources" validate:"min=0"`
}

type ServerConfig struct {
	Addr          string        `yaml:"addr" validate:"required"`
	Watch         bool          `yaml:"watch"`
	WatchDebounce time.Duration `yaml:"watch_debounce" validate:"min=0"`
	MaxUploadMB   int64         `yaml:"max_upload_mb" validate:"min=1"`
}

type LogConfig struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	File        string `yaml:"file"`
	Development bool   `yaml:"development"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/docqa/config.yaml"),
			"/etc/docqa/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Decode over the defaults so that explicit zero values in the file are kept
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	mergeWithEnv(config)

	return config, nil
}

func getDefaultConfig() *Config {
	config := Default()
	mergeWithEnv(config)
	return config
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Documents: DocumentsConfig{
			Dir:            "data/docs",
			MarkdownFormat: "text",
		},
		Processor: ProcessorConfig{
			ChunkSize:    500,
			ChunkOverlap: 100,
		},
		Embedder: EmbedderConfig{
			Provider:  "hashing",
			Dimension: 384,
			BatchSize: 32,
			Workers:   4,
		},
		VectorStore: VectorStoreConfig{
			Type: "file",
			Path: "vectorstore",
		},
		Database: DatabaseConfig{
			TableName: "documents",
		},
		Retriever: RetrieverConfig{
			TopK:     4,
			CacheTTL: 10 * time.Minute,
		},
		LLM: LLMConfig{
			Provider:    "huggingface",
			Model:       "meta-llama/Meta-Llama-3.1-8B-Instruct",
			Temperature: 0.5,
			MaxTokens:   512,
			Timeout:     60 * time.Second,
			MaxRetries:  3,
		},
		RAG: RAGConfig{
			CitationOrder: "answer",
		},
		Server: ServerConfig{
			Addr:          ":8080",
			WatchDebounce: 2 * time.Second,
			MaxUploadMB:   32,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func mergeWithEnv(config *Config) {
	if token := os.Getenv(TokenEnv); token != "" {
		config.LLM.Token = token
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		if config.Embedder.Provider == "ollama" {
			config.Embedder.BaseURL = baseURL
		}
		if config.LLM.Provider == "ollama" {
			config.LLM.BaseURL = baseURL
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if dir := os.Getenv("DOCQA_DOCS_DIR"); dir != "" {
		config.Documents.Dir = dir
	}
	if dir := os.Getenv("DOCQA_INDEX_DIR"); dir != "" {
		config.VectorStore.Path = dir
	}
}
