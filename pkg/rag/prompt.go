package rag

import (
	"fmt"
	"strings"

	"github.com/xhad/docqa/internal/models"
)

const (
	contextPlaceholder  = "{context}"
	questionPlaceholder = "{question}"
)

// DefaultPromptTemplate is the classic stuff-documents question answering prompt.
const DefaultPromptTemplate = `Use the following pieces of context to answer the question at the end. If you don't know the answer, just say that you don't know, don't try to make up an answer.

{context}

Question: {question}
Helpful Answer:`

// NoContext stands in for the context when retrieval found nothing.
const NoContext = "No relevant context was found."

// Prompt renders a template with {context} and {question} placeholders.
type Prompt struct {
	template string
}

func NewPrompt(template string) (Prompt, error) {
	if template == "" {
		template = DefaultPromptTemplate
	}
	for _, p := range []string{contextPlaceholder, questionPlaceholder} {
		if !strings.Contains(template, p) {
			return Prompt{}, fmt.Errorf("prompt template is missing %s", p)
		}
	}
	return Prompt{template: template}, nil
}

// Render joins the retrieved chunk texts in retrieval order, separated by blank lines.
func (p Prompt) Render(question string, hits []models.ScoredChunk) string {
	docs := NoContext
	if len(hits) > 0 {
		texts := make([]string, len(hits))
		for i, h := range hits {
			texts[i] = h.Chunk.Text
		}
		docs = strings.Join(texts, "\n\n")
	}

	// One pass, so placeholders inside the question or the documents stay literal
	return strings.NewReplacer(
		contextPlaceholder, docs,
		questionPlaceholder, question,
	).Replace(p.template)
}
