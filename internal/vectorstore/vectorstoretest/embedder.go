// Package vectorstoretest provides a deterministic embedder for tests.
package vectorstoretest

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync/atomic"
	"unicode"
)

// HashEmbedder embeds text as a normalized bag of hashed lowercase words.
// Identical texts get identical vectors; texts sharing words score higher.
type HashEmbedder struct {
	Dim   int
	calls atomic.Int64
	// Err, when set, is returned from every call.
	Err error
}

// NewHashEmbedder returns an embedder producing dim-sized vectors.
func NewHashEmbedder(dim int) *HashEmbedder {
	return &HashEmbedder{Dim: dim}
}

// Calls returns the number of embed calls made so far.
func (e *HashEmbedder) Calls() int64 {
	return e.calls.Load()
}

func (e *HashEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if e.Err != nil {
		return nil, e.Err
	}
	if len(texts) == 0 {
		return nil, errors.New("no texts")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.embed(t)
	}
	return out, nil
}

func (e *HashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.Err != nil {
		return nil, e.Err
	}
	return e.embed(text), nil
}

func (e *HashEmbedder) embed(text string) []float32 {
	v := make([]float32, e.Dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[int(h.Sum32())%e.Dim] += 1
	}
	var sum float64
	for _, x := range v {
		sum += float64(x * x)
	}
	if sum == 0 {
		v[0] = 1
		return v
	}
	norm := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= norm
	}
	return v
}
