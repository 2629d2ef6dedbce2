package models

import (
	"fmt"
	"strings"
)

// Metadata identifies where a piece of text came from.
type Metadata struct {
	Filename string `json:"filename"`
	// Page is the zero-based PDF page. Nil for whole-file documents.
	Page *int `json:"page,omitempty"`
}

// Label renders the source for display, with a one-based page number.
func (m Metadata) Label() string {
	if m.Page == nil {
		return m.Filename
	}
	return fmt.Sprintf("%s, page %d", m.Filename, *m.Page+1)
}

// PageOf returns a pointer usable as Metadata.Page.
func PageOf(i int) *int {
	return &i
}

// SourceDocument is one text unit produced by the loader: a PDF page or a whole Markdown file.
type SourceDocument struct {
	Text     string
	Metadata Metadata
}

// Chunk is a bounded slice of a SourceDocument, the unit of embedding and retrieval.
type Chunk struct {
	ID         string   `json:"id"`
	Text       string   `json:"text"`
	Metadata   Metadata `json:"metadata"`
	ChunkIndex int      `json:"chunk_index"`
}

// ScoredChunk is a retrieval hit.
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// Citation is a retrieved chunk attached to an answer.
type Citation struct {
	Chunk Chunk `json:"chunk"`
	// Score is the retrieval similarity to the query.
	Score float64 `json:"score"`
	// TextSimilarity is the edit-distance ratio between the chunk and the answer text.
	TextSimilarity float64 `json:"text_similarity"`
}

// Label renders the citation source for display.
func (c Citation) Label() string {
	return c.Chunk.Metadata.Label()
}

// Snippet returns the first n characters of the chunk on a single line.
func (c Citation) Snippet(n int) string {
	text := strings.Join(strings.Fields(c.Chunk.Text), " ")
	runes := []rune(text)
	if n >= 0 && len(runes) > n {
		return string(runes[:n]) + "..."
	}
	return text
}

// Answer is the result of one ask call.
type Answer struct {
	Query   string     `json:"query"`
	Text    string     `json:"text"`
	Sources []Citation `json:"sources"`
}

// Role of a conversation participant.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is owned by the caller's session; the core only produces single turns.
type ConversationTurn struct {
	Role    Role       `json:"role"`
	Content string     `json:"content"`
	Sources []Citation `json:"sources,omitempty"`
}

// Turn converts the answer into an assistant turn.
func (a *Answer) Turn() ConversationTurn {
	return ConversationTurn{
		Role:    RoleAssistant,
		Content: a.Text,
		Sources: a.Sources,
	}
}
