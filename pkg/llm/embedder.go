package llm

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	hfembeddings "github.com/tmc/langchaingo/embeddings/huggingface"
	hfllm "github.com/tmc/langchaingo/llms/huggingface"
	"github.com/tmc/langchaingo/llms/ollama"
)

const (
	EmbedderHashing     = "hashing"
	EmbedderOllama      = "ollama"
	EmbedderHuggingFace = "huggingface"

	DefaultHashingDimension          = 384
	DefaultEmbeddingModel            = "nomic-embed-text:latest"
	DefaultHuggingFaceEmbeddingModel = "sentence-transformers/all-MiniLM-L6-v2"
	DefaultEmbedBatchSize            = 32
)

// EmbedderConfig represents the configuration for an embedding provider.
type EmbedderConfig struct {
	Provider  string
	Model     string
	BaseURL   string // Ollama server or Hugging Face inference URL
	Token     string // Hugging Face only
	Dimension int    // hashing only
	BatchSize int
}

// Embedder is a langchaingo embedder with a stable identity. An index must be queried with
// the embedder that built it.
type Embedder struct {
	embeddings.Embedder
	name string
}

// NewNamedEmbedder gives any langchaingo embedder an identity.
func NewNamedEmbedder(e embeddings.Embedder, name string) *Embedder {
	return &Embedder{Embedder: e, name: name}
}

func (e *Embedder) Name() string {
	return e.name
}

// NewEmbedderWithConfig builds the configured embedding provider.
func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	switch config.Provider {
	case "", EmbedderHashing:
		h, err := NewHashingEmbedder(config.Dimension)
		if err != nil {
			return nil, err
		}
		return &Embedder{Embedder: h, name: h.Name()}, nil
	case EmbedderOllama:
		if config.Model == "" {
			config.Model = DefaultEmbeddingModel
		}
		if config.BaseURL == "" {
			config.BaseURL = DefaultOllamaURL
		}
		if config.BatchSize <= 0 {
			config.BatchSize = DefaultEmbedBatchSize
		}

		client, err := ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		emb, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(config.BatchSize))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		return &Embedder{Embedder: emb, name: EmbedderOllama + ":" + config.Model}, nil
	case EmbedderHuggingFace:
		if config.Model == "" {
			config.Model = DefaultHuggingFaceEmbeddingModel
		}
		if config.BatchSize <= 0 {
			config.BatchSize = DefaultEmbedBatchSize
		}

		opts := []hfllm.Option{hfllm.WithModel(config.Model), hfllm.WithToken(config.Token)}
		if config.BaseURL != "" {
			opts = append(opts, hfllm.WithURL(strings.TrimSuffix(config.BaseURL, "/")))
		}
		client, err := hfllm.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		emb, err := hfembeddings.NewHuggingface(
			hfembeddings.WithClient(*client),
			hfembeddings.WithModel(config.Model),
			hfembeddings.WithBatchSize(config.BatchSize),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		return &Embedder{Embedder: emb, name: EmbedderHuggingFace + ":" + config.Model}, nil
	default:
		return nil, fmt.Errorf("unknown embedder provider %q", config.Provider)
	}
}

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"does": {}, "for": {}, "from": {}, "has": {}, "have": {}, "how": {}, "in": {}, "is": {},
	"it": {}, "its": {}, "much": {}, "of": {}, "on": {}, "or": {}, "that": {}, "the": {},
	"this": {}, "to": {}, "was": {}, "what": {}, "which": {}, "with": {},
}

// HashingEmbedder is an offline bag-of-words embedder using signed feature hashing.
type HashingEmbedder struct {
	dim int
}

var _ embeddings.Embedder = (*HashingEmbedder)(nil)

func NewHashingEmbedder(dim int) (*HashingEmbedder, error) {
	if dim == 0 {
		dim = DefaultHashingDimension
	}
	if dim < 1 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", dim)
	}
	return &HashingEmbedder{dim: dim}, nil
}

func (h *HashingEmbedder) Name() string {
	return fmt.Sprintf("%s-%d", EmbedderHashing, h.dim)
}

func (h *HashingEmbedder) Dimension() int {
	return h.dim
}

func (h *HashingEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.embed(text)
	}
	return out, nil
}

func (h *HashingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.embed(text), nil
}

func (h *HashingEmbedder) embed(text string) []float32 {
	vec := make([]float32, h.dim)
	for _, tok := range Tokenize(text) {
		f := fnv.New32a()
		f.Write([]byte(tok))
		sum := f.Sum32()

		sign := float32(1)
		if sum&(1<<31) != 0 {
			sign = -1
		}
		vec[int(sum%uint32(h.dim))] += sign
	}
	return normalize(vec)
}

// Tokenize lowercases text and splits it into letter/digit runs without stopwords.
func Tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	tokens := raw[:0]
	for _, tok := range raw {
		if _, ok := stopwords[tok]; ok {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
