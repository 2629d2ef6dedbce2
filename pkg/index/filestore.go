package index

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/pkg/logger"
)

const (
	// FileName marks a persisted index inside the store directory.
	FileName = "index.faiss"

	fileVersion uint32 = 1
	maxDim             = 1 << 16
)

var fileMagic = [4]byte{'D', 'Q', 'I', 'X'}

// ErrCorrupt is wrapped by decode failures.
var ErrCorrupt = errors.New("corrupt index file")

type header struct {
	Magic      [4]byte
	Version    uint32
	Dim        uint32
	Count      uint32
	PayloadLen uint32
}

type payload struct {
	Embedder string         `json:"embedder"`
	Chunks   []models.Chunk `json:"chunks"`
}

// Encode writes ix as a header, a JSON payload and little-endian float32 vectors.
func Encode(w io.Writer, ix *Index) error {
	body, err := json.Marshal(payload{Embedder: ix.embedder, Chunks: chunksOf(ix.entries)})
	if err != nil {
		return fmt.Errorf("failed to encode index payload: %w", err)
	}

	h := header{
		Magic:      fileMagic,
		Version:    fileVersion,
		Dim:        uint32(ix.dim),
		Count:      uint32(len(ix.entries)),
		PayloadLen: uint32(len(body)),
	}
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return fmt.Errorf("failed to write index header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("failed to write index payload: %w", err)
	}
	for _, e := range ix.entries {
		if err := binary.Write(w, binary.LittleEndian, e.Vector); err != nil {
			return fmt.Errorf("failed to write index vectors: %w", err)
		}
	}
	return nil
}

// Decode reads an index written by Encode.
func Decode(r io.Reader) (*Index, error) {
	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}
	if h.Magic != fileMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorrupt, h.Magic[:])
	}
	if h.Version != fileVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, h.Version)
	}

	if h.Dim > maxDim || (h.Count > 0 && h.Dim == 0) {
		return nil, fmt.Errorf("%w: invalid dimension %d", ErrCorrupt, h.Dim)
	}

	body, err := io.ReadAll(io.LimitReader(r, int64(h.PayloadLen)))
	if err != nil || len(body) != int(h.PayloadLen) {
		return nil, fmt.Errorf("%w: truncated payload", ErrCorrupt)
	}
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrCorrupt, err)
	}
	if len(p.Chunks) != int(h.Count) {
		return nil, fmt.Errorf("%w: header counts %d chunks, payload has %d", ErrCorrupt, h.Count, len(p.Chunks))
	}

	entries := make([]Entry, h.Count)
	for i := range entries {
		vec := make([]float32, h.Dim)
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return nil, fmt.Errorf("%w: vector %d: %v", ErrCorrupt, i, err)
		}
		entries[i] = Entry{Vector: vec, Chunk: p.Chunks[i]}
	}

	var trailing [1]byte
	if n, _ := r.Read(trailing[:]); n > 0 {
		return nil, fmt.Errorf("%w: trailing data", ErrCorrupt)
	}

	for _, e := range entries {
		for _, x := range e.Vector {
			if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
				return nil, fmt.Errorf("%w: non-finite vector component", ErrCorrupt)
			}
		}
	}

	ix, err := New(p.Embedder, entries)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return ix, nil
}

func chunksOf(entries []Entry) []models.Chunk {
	chunks := make([]models.Chunk, len(entries))
	for i, e := range entries {
		chunks[i] = e.Chunk
	}
	return chunks
}

// FileStore persists an index as a single file in a directory and serves searches over
// the last saved or loaded copy.
type FileStore struct {
	dir    string
	handle Handle
	logger *zap.Logger
}

func NewFileStore(dir string, log *zap.Logger) *FileStore {
	return &FileStore{
		dir:    dir,
		logger: logger.OrNop(log).Named("filestore"),
	}
}

// Path is the location of the persisted index.
func (s *FileStore) Path() string {
	return filepath.Join(s.dir, FileName)
}

func (s *FileStore) Exists(ctx context.Context) (bool, error) {
	_, err := os.Stat(s.Path())
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat index: %w", err)
}

func (s *FileStore) Load(ctx context.Context) error {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &IndexNotFoundError{Path: s.Path(), Err: err}
		}
		return fmt.Errorf("failed to read index: %w", err)
	}

	ix, err := Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to load index %s: %w", s.Path(), err)
	}

	s.handle.Swap(ix)
	s.logger.Info("loaded index", zap.String("path", s.Path()), zap.String("embedder", ix.Embedder()), zap.Int("chunks", ix.Len()))
	return nil
}

// Save writes ix to a temporary file, syncs it and renames it over the index file, then
// serves it.
func (s *FileStore) Save(ctx context.Context, ix *Index) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".index-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp index: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	w := bufio.NewWriter(tmp)
	if err = Encode(w, ix); err != nil {
		return err
	}
	if err = w.Flush(); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync index: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close index: %w", err)
	}
	if err = os.Rename(tmp.Name(), s.Path()); err != nil {
		return fmt.Errorf("failed to publish index: %w", err)
	}
	syncDir(s.dir)

	s.handle.Swap(ix)
	s.logger.Info("saved index", zap.String("path", s.Path()), zap.Int("chunks", ix.Len()))
	return nil
}

func (s *FileStore) Search(ctx context.Context, query []float32, k int) ([]models.ScoredChunk, error) {
	return s.handle.Search(ctx, query, k)
}

func (s *FileStore) Info() Info {
	return s.handle.Info()
}

func (s *FileStore) Close() {}

// syncDir makes a rename durable where the platform allows it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
