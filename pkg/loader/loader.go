// Package loader turns a folder of PDF and Markdown files into source documents.
package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tmc/langchaingo/documentloaders"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.uber.org/zap"

	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/pkg/logger"
)

const (
	FormatText = "text"
	FormatHTML = "html"
)

// IngestionError reports a single file that could not be turned into documents.
type IngestionError struct {
	Path string
	Err  error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingest %s: %v", e.Path, e.Err)
}

func (e *IngestionError) Unwrap() error {
	return e.Err
}

type LoaderConfig struct {
	// MarkdownFormat is FormatText (rendered then stripped to text) or FormatHTML.
	MarkdownFormat string
	// Strict aborts the whole load on the first failing file instead of skipping it.
	Strict  bool
	OnError func(err *IngestionError)
	Logger  *zap.Logger
}

type Loader struct {
	config   LoaderConfig
	markdown goldmark.Markdown
	logger   *zap.Logger
}

func NewWithConfig(config LoaderConfig) *Loader {
	if config.MarkdownFormat == "" {
		config.MarkdownFormat = FormatText
	}

	return &Loader{
		config:   config,
		markdown: goldmark.New(goldmark.WithExtensions(extension.GFM)),
		logger:   logger.OrNop(config.Logger).Named("loader"),
	}
}

// Supported reports whether a file name has an extension the loader ingests.
func Supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf", ".md":
		return true
	}
	return false
}

// Result is the outcome of loading a directory.
type Result struct {
	Documents []models.SourceDocument
	// Skipped lists the files that failed to load when Strict is off.
	Skipped []*IngestionError
}

// Load reads every supported file directly inside dir, in lexical order. A missing
// directory yields no documents. Unreadable files are skipped unless Strict is set.
func (l *Loader) Load(ctx context.Context, dir string) ([]models.SourceDocument, error) {
	res, err := l.LoadAll(ctx, dir)
	if err != nil {
		return nil, err
	}
	return res.Documents, nil
}

// LoadAll is Load with the skipped files reported.
func (l *Loader) LoadAll(ctx context.Context, dir string) (Result, error) {
	var res Result

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			l.logger.Info("documents directory does not exist", zap.String("dir", dir))
			return res, nil
		}
		return res, fmt.Errorf("failed to read documents directory: %w", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if entry.IsDir() || !Supported(entry.Name()) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		fileDocs, err := l.LoadFile(ctx, path)
		if err != nil {
			var ingestErr *IngestionError
			if !errors.As(err, &ingestErr) {
				ingestErr = &IngestionError{Path: path, Err: err}
			}
			if l.config.Strict {
				return Result{}, ingestErr
			}
			l.logger.Warn("skipping document", zap.String("path", path), zap.Error(ingestErr.Err))
			if l.config.OnError != nil {
				l.config.OnError(ingestErr)
			}
			res.Skipped = append(res.Skipped, ingestErr)
			continue
		}
		res.Documents = append(res.Documents, fileDocs...)
	}

	l.logger.Debug("loaded documents",
		zap.String("dir", dir),
		zap.Int("documents", len(res.Documents)),
		zap.Int("skipped", len(res.Skipped)))
	return res, nil
}

// LoadFile extracts the documents of one file.
func (l *Loader) LoadFile(ctx context.Context, path string) ([]models.SourceDocument, error) {
	name := filepath.Base(path)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return l.loadPDF(ctx, path)
	case ".md":
		return l.loadMarkdown(path)
	default:
		return nil, &IngestionError{Path: path, Err: fmt.Errorf("unsupported extension %q", filepath.Ext(name))}
	}
}

func (l *Loader) loadPDF(ctx context.Context, path string) (docs []models.SourceDocument, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &IngestionError{Path: path, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, &IngestionError{Path: path, Err: err}
	}

	// The PDF parser panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			docs = nil
			err = &IngestionError{Path: path, Err: fmt.Errorf("malformed pdf: %v", r)}
		}
	}()

	pages, err := documentloaders.NewPDF(f, info.Size()).Load(ctx)
	if err != nil {
		return nil, &IngestionError{Path: path, Err: err}
	}

	name := filepath.Base(path)
	docs = make([]models.SourceDocument, 0, len(pages))
	for i, page := range pages {
		// The parser numbers pages from one
		number := i
		if n, ok := page.Metadata["page"].(int); ok && n > 0 {
			number = n - 1
		}
		docs = append(docs, models.SourceDocument{
			Text: page.PageContent,
			Metadata: models.Metadata{
				Filename: name,
				Page:     models.PageOf(number),
			},
		})
	}

	return docs, nil
}

func (l *Loader) loadMarkdown(path string) ([]models.SourceDocument, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, &IngestionError{Path: path, Err: err}
	}

	var html bytes.Buffer
	if err := l.markdown.Convert(source, &html); err != nil {
		return nil, &IngestionError{Path: path, Err: fmt.Errorf("render markdown: %w", err)}
	}

	text := html.String()
	if l.config.MarkdownFormat == FormatText {
		text, err = htmlToText(html.Bytes())
		if err != nil {
			return nil, &IngestionError{Path: path, Err: err}
		}
	}

	return []models.SourceDocument{{
		Text:     text,
		Metadata: models.Metadata{Filename: filepath.Base(path)},
	}}, nil
}

func htmlToText(html []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse rendered markdown: %w", err)
	}
	return strings.TrimSpace(doc.Text()), nil
}
