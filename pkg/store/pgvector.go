package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/pkg/index"
	"github.com/xhad/docqa/pkg/logger"
)

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,50}$`)

type VectorStoreConfig struct {
	ConnString string
	TableName  string
	BatchSize  int
	Logger     *zap.Logger
}

// VectorStore keeps an index in a PostgreSQL table and searches it with pgvector.
// Each Save builds a fresh table and swaps it in within one transaction.
type VectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
	logger *zap.Logger

	mu   sync.RWMutex
	info index.Info
}

func NewWithConfig(ctx context.Context, config VectorStoreConfig) (*VectorStore, error) {
	if config.TableName == "" {
		config.TableName = "documents"
	}
	if !tableNamePattern.MatchString(config.TableName) {
		return nil, fmt.Errorf("invalid table name %q", config.TableName)
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &VectorStore{
		config: config,
		pool:   pool,
		logger: logger.OrNop(config.Logger).Named("pgvector"),
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *VectorStore) initialize(ctx context.Context) error {
	// Enable pgvector extension
	if _, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}
	return nil
}

func (vs *VectorStore) table() string {
	return pgx.Identifier{vs.config.TableName}.Sanitize()
}

func (vs *VectorStore) buildTable() string {
	return pgx.Identifier{vs.config.TableName + "_build"}.Sanitize()
}

func (vs *VectorStore) Exists(ctx context.Context) (bool, error) {
	var exists bool
	err := vs.pool.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", vs.config.TableName).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check index table: %w", err)
	}
	return exists, nil
}

// Load reads the dimension, size and embedder of the stored index.
func (vs *VectorStore) Load(ctx context.Context) error {
	exists, err := vs.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return &index.IndexNotFoundError{Path: "table " + vs.config.TableName}
	}

	var info index.Info
	var comment *string
	err = vs.pool.QueryRow(ctx, "SELECT obj_description(to_regclass($1), 'pg_class')", vs.config.TableName).Scan(&comment)
	if err != nil {
		return fmt.Errorf("failed to read index embedder: %w", err)
	}
	if comment != nil {
		info.Embedder = *comment
	}

	err = vs.pool.QueryRow(ctx, fmt.Sprintf(
		"SELECT count(*), COALESCE(max(vector_dims(embedding)), 0) FROM %s", vs.table())).Scan(&info.Count, &info.Dim)
	if err != nil {
		return fmt.Errorf("failed to read index size: %w", err)
	}

	vs.setInfo(info)
	vs.logger.Info("loaded index", zap.String("table", vs.config.TableName), zap.String("embedder", info.Embedder), zap.Int("chunks", info.Count))
	return nil
}

// Save replaces the stored index with ix. Readers see either the old or the new table.
func (vs *VectorStore) Save(ctx context.Context, ix *index.Index) error {
	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	vectorType := "vector"
	if ix.Dim() > 0 {
		vectorType = fmt.Sprintf("vector(%d)", ix.Dim())
	}

	stmts := []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s", vs.buildTable()),
		fmt.Sprintf(`
			CREATE TABLE %s (
				id TEXT NOT NULL,
				filename TEXT NOT NULL,
				page INTEGER,
				chunk_index INTEGER NOT NULL,
				ord INTEGER NOT NULL,
				content TEXT NOT NULL,
				embedding %s NOT NULL,
				metadata JSONB
			)`, vs.buildTable(), vectorType),
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to prepare index table: %w", err)
		}
	}

	insert := fmt.Sprintf(`
		INSERT INTO %s (id, filename, page, chunk_index, ord, content, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, vs.buildTable())

	entries := ix.Entries()
	for start := 0; start < len(entries); start += vs.config.BatchSize {
		end := min(start+vs.config.BatchSize, len(entries))

		batch := &pgx.Batch{}
		for i, e := range entries[start:end] {
			meta, err := json.Marshal(e.Chunk.Metadata)
			if err != nil {
				return fmt.Errorf("failed to encode metadata: %w", err)
			}
			batch.Queue(insert,
				e.Chunk.ID,
				e.Chunk.Metadata.Filename,
				e.Chunk.Metadata.Page,
				e.Chunk.ChunkIndex,
				start+i,
				sanitizeUTF8(e.Chunk.Text),
				pgvector.NewVector(e.Vector),
				meta,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert chunks: %w", err)
		}
	}

	stmts = []string{
		fmt.Sprintf("COMMENT ON TABLE %s IS %s", vs.buildTable(), quoteLiteral(ix.Embedder())),
		fmt.Sprintf("DROP TABLE IF EXISTS %s", vs.table()),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", vs.buildTable(), vs.table()),
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to publish index table: %w", err)
		}
	}

	// Commit transaction
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	vs.setInfo(ix.Info())
	vs.logger.Info("saved index", zap.String("table", vs.config.TableName), zap.Int("chunks", ix.Len()))
	return nil
}

// Search ranks rows by cosine distance; ties keep build order.
func (vs *VectorStore) Search(ctx context.Context, query []float32, k int) ([]models.ScoredChunk, error) {
	info := vs.Info()
	if k <= 0 || info.Count == 0 {
		return []models.ScoredChunk{}, nil
	}
	if len(query) != info.Dim {
		return nil, &index.DimensionMismatchError{Want: info.Dim, Got: len(query)}
	}

	sql := fmt.Sprintf(`
		SELECT id, filename, page, chunk_index, content, 1 - (embedding <=> $1) AS score
		FROM %s
		ORDER BY embedding <=> $1, ord
		LIMIT $2`, vs.table())

	rows, err := vs.pool.Query(ctx, sql, pgvector.NewVector(query), k)
	if err != nil {
		if isUndefinedTable(err) {
			return []models.ScoredChunk{}, nil
		}
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	hits := make([]models.ScoredChunk, 0, min(k, info.Count))
	for rows.Next() {
		var hit models.ScoredChunk
		var score *float64
		if err := rows.Scan(
			&hit.Chunk.ID,
			&hit.Chunk.Metadata.Filename,
			&hit.Chunk.Metadata.Page,
			&hit.Chunk.ChunkIndex,
			&hit.Chunk.Text,
			&score,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		// A zero vector has no cosine distance
		if score != nil {
			hit.Score = *score
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return hits, nil
}

func (vs *VectorStore) Info() index.Info {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return vs.info
}

func (vs *VectorStore) setInfo(info index.Info) {
	vs.mu.Lock()
	vs.info = info
	vs.mu.Unlock()
}

// Drop removes the index table. Used by tests and full resets.
func (vs *VectorStore) Drop(ctx context.Context) error {
	for _, t := range []string{vs.buildTable(), vs.table()} {
		if _, err := vs.pool.Exec(ctx, "DROP TABLE IF EXISTS "+t); err != nil {
			return fmt.Errorf("failed to drop index table: %w", err)
		}
	}
	vs.setInfo(index.Info{})
	return nil
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}

func isUndefinedTable(err error) bool {
	var pgErr interface{ SQLState() string }
	return errors.As(err, &pgErr) && pgErr.SQLState() == "42P01"
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// sanitizeUTF8 drops invalid bytes and NULs, which PostgreSQL text columns reject.
func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return strings.ReplaceAll(s, "\x00", "")
}
