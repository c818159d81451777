package reranker

import (
	"context"
	"strings"
	"unicode"
)

// SimpleReranker ranks documents by how many distinct query terms they
// contain, blended evenly with the retrieval score. It needs no model.
type SimpleReranker struct{}

// NewSimpleReranker creates a SimpleReranker.
func NewSimpleReranker() *SimpleReranker {
	return &SimpleReranker{}
}

// Rerank blends term overlap with the retrieval score. A query with no
// usable terms falls back to the retrieval score alone.
func (r *SimpleReranker) Rerank(ctx context.Context, query string, docs []Document, topK int) ([]ScoredDocument, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if len(docs) == 0 {
		return []ScoredDocument{}, nil
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	queryTokens := tokenize(query)
	scores := make([]float32, len(docs))
	for i, doc := range docs {
		if len(queryTokens) == 0 {
			scores[i] = doc.Score
			continue
		}
		overlap := termOverlap(queryTokens, tokenize(doc.Content))
		scores[i] = 0.5*doc.Score + 0.5*overlap
	}
	return rank(docs, scores, topK), nil
}

// Close is a no-op.
func (r *SimpleReranker) Close() error {
	return nil
}

// tokenize lowercases text and keeps alphanumeric terms longer than two
// characters that are not stopwords.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 2 && !stopwords[f] {
			out = append(out, f)
		}
	}
	return out
}

var stopwords = map[string]bool{
	"the": true, "and": true, "but": true, "for": true, "with": true, "from": true,
	"was": true, "are": true, "been": true, "being": true, "have": true, "has": true,
	"had": true, "does": true, "did": true, "will": true, "would": true, "could": true,
	"should": true, "may": true, "might": true, "can": true, "this": true, "that": true,
	"these": true, "those": true, "you": true, "she": true, "they": true, "what": true,
	"which": true, "who": true, "when": true, "where": true, "why": true, "how": true,
}

// termOverlap is the fraction of distinct query terms present in docTokens.
func termOverlap(queryTokens, docTokens []string) float32 {
	docSet := make(map[string]struct{}, len(docTokens))
	for _, t := range docTokens {
		docSet[t] = struct{}{}
	}
	distinct := make(map[string]struct{}, len(queryTokens))
	matches := 0
	for _, q := range queryTokens {
		if _, dup := distinct[q]; dup {
			continue
		}
		distinct[q] = struct{}{}
		if _, ok := docSet[q]; ok {
			matches++
		}
	}
	return float32(matches) / float32(len(distinct))
}
