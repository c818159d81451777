// Package reranker reorders retrieved passages by relevance to a query.
//
// Backends:
//   - tei: cross-encoder scoring through a TEI /rerank endpoint (default)
//   - lexical: query term overlap, for offline use
package reranker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/docqa/internal/config"
	"go.uber.org/zap"
)

// DefaultTopK is the number of documents kept when topK is not positive.
const DefaultTopK = 3

var (
	ErrNilContext      = errors.New("context cannot be nil")
	ErrInvalidConfig   = errors.New("invalid reranker configuration")
	ErrUnknownProvider = errors.New("unknown reranker provider")
	ErrRerankFailed    = errors.New("rerank request failed")
)

// Document is a candidate passage.
type Document struct {
	ID       string
	Content  string
	Score    float32 // similarity from retrieval
	Metadata map[string]interface{}
}

// ScoredDocument is a reranked passage.
type ScoredDocument struct {
	Document
	RerankerScore float32
	OriginalRank  int // position in the input, 0-indexed
}

// Reranker reorders documents by relevance to query.
type Reranker interface {
	// Rerank returns at most topK documents sorted by RerankerScore,
	// descending. Documents with equal scores keep their input order. An
	// empty input returns an empty result without doing any work.
	Rerank(ctx context.Context, query string, docs []Document, topK int) ([]ScoredDocument, error)

	Close() error
}

// New creates the reranker selected by cfg.Provider. timeout bounds each
// call to a remote reranker.
func New(cfg config.RerankerConfig, timeout time.Duration, logger *zap.Logger) (Reranker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Provider {
	case "tei":
		return NewCrossEncoder(CrossEncoderConfig{BaseURL: cfg.BaseURL, Model: cfg.Model, Timeout: timeout}, logger)
	case "lexical":
		return NewSimpleReranker(), nil
	default:
		return nil, fmt.Errorf("%w: %q (supported: tei, lexical)", ErrUnknownProvider, cfg.Provider)
	}
}
