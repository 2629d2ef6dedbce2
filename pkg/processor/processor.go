package processor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/xhad/docqa/internal/models"
)

const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 100
)

var ErrInvalidConfig = errors.New("invalid processor config")

// chunkNamespace scopes chunk ids so equal documents produce equal ids across builds.
var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("docqa/chunk"))

// ProcessorConfig sizes are counted in characters (Unicode code points).
type ProcessorConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		ChunkSize:    DefaultChunkSize,
		ChunkOverlap: DefaultChunkOverlap,
	}
}

// Processor splits documents into overlapping fixed-size chunks.
type Processor struct {
	config ProcessorConfig
}

// NewWithConfig validates the window. A zero ChunkSize selects the default; a zero
// ChunkOverlap means no overlap.
func NewWithConfig(config ProcessorConfig) (Processor, error) {
	if config.ChunkSize == 0 {
		config.ChunkSize = DefaultChunkSize
	}
	if config.ChunkSize < 1 {
		return Processor{}, fmt.Errorf("%w: chunk size %d must be positive", ErrInvalidConfig, config.ChunkSize)
	}
	if config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		return Processor{}, fmt.Errorf("%w: chunk overlap %d must be in [0, %d)",
			ErrInvalidConfig, config.ChunkOverlap, config.ChunkSize)
	}

	return Processor{
		config: config,
	}, nil
}

func (p Processor) Config() ProcessorConfig {
	return p.config
}

// Process chunks every document in order. Chunk indexes restart at zero for each document.
// Documents with no visible text, such as blank PDF pages, are dropped.
func (p Processor) Process(docs []models.SourceDocument) []models.Chunk {
	var chunks []models.Chunk

	for _, doc := range docs {
		if strings.TrimSpace(doc.Text) == "" {
			continue
		}
		for i, text := range p.Split(doc.Text) {
			chunks = append(chunks, models.Chunk{
				ID:         ChunkID(doc.Metadata, i),
				Text:       text,
				Metadata:   doc.Metadata,
				ChunkIndex: i,
			})
		}
	}

	return chunks
}

// Split cuts text into windows of at most ChunkSize characters, each starting
// ChunkSize-ChunkOverlap characters after the previous one. Empty text yields no chunks.
func (p Processor) Split(text string) []string {
	if text == "" {
		return nil
	}

	runes := []rune(text)
	size := p.config.ChunkSize
	step := size - p.config.ChunkOverlap

	var chunks []string
	for start := 0; ; start += step {
		end := min(start+size, len(runes))
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}

	return chunks
}

// Join reverses Split for the given overlap.
func Join(chunks []string, overlap int) string {
	var b strings.Builder
	for i, chunk := range chunks {
		if i == 0 {
			b.WriteString(chunk)
			continue
		}
		b.WriteString(string([]rune(chunk)[overlap:]))
	}
	return b.String()
}

// ChunkID derives a stable chunk identity from its source position.
func ChunkID(meta models.Metadata, index int) string {
	page := "-"
	if meta.Page != nil {
		page = strconv.Itoa(*meta.Page)
	}
	key := meta.Filename + "|" + page + "|" + strconv.Itoa(index)
	return uuid.NewSHA1(chunkNamespace, []byte(key)).String()
}
