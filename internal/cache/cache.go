// Package cache answers questions from previously curated question/answer
// pairs when a new question is close enough to a stored one.
package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/docqa/internal/gateway"
	"github.com/fyrsmithlabs/docqa/internal/vectorstore"
	"github.com/fyrsmithlabs/docqa/internal/workspace"
	"go.uber.org/zap"
)

// DefaultThreshold is the minimum match percentage for a hit.
const DefaultThreshold = 80.0

// MetaAnswer is the metadata key holding the cached answer.
const MetaAnswer = "answer"

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrInvalidConfig = errors.New("invalid cache configuration")
)

// Index is the subset of the gateway the cache needs.
type Index interface {
	UpsertDocuments(ctx context.Context, kind workspace.Kind, ws string, docs []vectorstore.Document) ([]string, error)
	Search(ctx context.Context, kind workspace.Kind, ws, text string, k int) ([]gateway.Candidate, error)
	Metric() vectorstore.Metric
}

// Hit is a cache match.
type Hit struct {
	ID       string
	Question string
	Answer   string
	Percent  float64
}

// Cache is a per-workspace semantic question/answer cache.
type Cache struct {
	index     Index
	threshold float64
	logger    *zap.Logger
}

// New creates a Cache. A zero threshold means DefaultThreshold.
func New(index Index, threshold float64, logger *zap.Logger) (*Cache, error) {
	if index == nil {
		return nil, fmt.Errorf("%w: index is required", ErrInvalidConfig)
	}
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if threshold < 0 || threshold > 100 {
		return nil, fmt.Errorf("%w: threshold must be within [0, 100], got %v", ErrInvalidConfig, threshold)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{index: index, threshold: threshold, logger: logger}, nil
}

// Threshold returns the minimum match percentage.
func (c *Cache) Threshold() float64 {
	return c.threshold
}

// Lookup finds the stored question nearest to query. It reports a hit only
// when the match percentage reaches the threshold.
func (c *Cache) Lookup(ctx context.Context, ws, query string) (Hit, bool, error) {
	if strings.TrimSpace(query) == "" {
		return Hit{}, false, fmt.Errorf("%w: query is empty", ErrInvalidInput)
	}
	results, err := c.index.Search(ctx, workspace.KindCache, ws, query, 1)
	if err != nil {
		return Hit{}, false, fmt.Errorf("searching cache: %w", err)
	}
	if len(results) == 0 {
		return Hit{}, false, nil
	}

	top := results[0]
	pct := ScoreToPercent(c.index.Metric(), top.Score)
	c.logger.Debug("cache candidate",
		zap.String("id", top.ID),
		zap.Float32("score", top.Score),
		zap.Float64("percent", pct),
		zap.Float64("threshold", c.threshold),
	)
	if pct < c.threshold {
		return Hit{}, false, nil
	}

	answer, _ := top.Metadata[MetaAnswer].(string)
	return Hit{
		ID:       top.ID,
		Question: top.Text,
		Answer:   resolveNewlines(answer),
		Percent:  pct,
	}, true, nil
}

// Insert stores one question/answer pair. Inserting the same question again
// replaces its answer.
func (c *Cache) Insert(ctx context.Context, ws, question, answer string) error {
	doc, err := entry(question, answer)
	if err != nil {
		return err
	}
	_, err = c.index.UpsertDocuments(ctx, workspace.KindCache, ws, []vectorstore.Document{doc})
	if err != nil {
		return fmt.Errorf("inserting cache entry: %w", err)
	}
	return nil
}

// EntryID returns the deterministic identifier of a cached question.
func EntryID(question string) string {
	sum := sha1.Sum([]byte(question))
	return "qa_" + hex.EncodeToString(sum[:])[:16]
}

func entry(question, answer string) (vectorstore.Document, error) {
	if strings.TrimSpace(question) == "" {
		return vectorstore.Document{}, fmt.Errorf("%w: question is empty", ErrInvalidInput)
	}
	if strings.TrimSpace(answer) == "" {
		return vectorstore.Document{}, fmt.Errorf("%w: answer is empty", ErrInvalidInput)
	}
	return vectorstore.Document{
		ID:       EntryID(question),
		Content:  question,
		Metadata: map[string]interface{}{MetaAnswer: answer},
	}, nil
}

// resolveNewlines turns literal backslash-n sequences, common in CSV
// exports, into real newlines.
func resolveNewlines(s string) string {
	return strings.ReplaceAll(s, `\n`, "\n")
}
