package rag

import (
	"cmp"
	"slices"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/xhad/docqa/internal/models"
)

const (
	// CitationOrderAnswer sorts sources by textual similarity to the generated answer.
	CitationOrderAnswer = "answer"
	// CitationOrderRetrieval keeps the retriever's ranking.
	CitationOrderRetrieval = "retrieval"
)

// Similarity is the normalised edit-distance ratio 1 - dist/max(len) over runes. Two
// empty strings are identical.
func Similarity(a, b string) float64 {
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// Cite turns retrieval hits into citations for answer. Answer ordering is stable and
// descending by similarity; maxSources of zero keeps every source.
func Cite(hits []models.ScoredChunk, answer, order string, maxSources int) []models.Citation {
	citations := make([]models.Citation, len(hits))
	for i, h := range hits {
		citations[i] = models.Citation{
			Chunk:          h.Chunk,
			Score:          h.Score,
			TextSimilarity: Similarity(h.Chunk.Text, answer),
		}
	}

	if order != CitationOrderRetrieval {
		slices.SortStableFunc(citations, func(a, b models.Citation) int {
			return cmp.Compare(b.TextSimilarity, a.TextSimilarity)
		})
	}

	if maxSources > 0 && len(citations) > maxSources {
		citations = citations[:maxSources]
	}
	return citations
}
