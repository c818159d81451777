// Package vectorstore stores embedded documents in named collections and
// answers nearest-neighbour queries against them.
//
// Implementations:
//   - ChromemStore: embedded, persistent chromem-go database (default)
//   - QdrantStore: external Qdrant server over gRPC
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrInvalidConfig         = errors.New("invalid configuration")
	ErrUnknownProvider       = errors.New("unknown vector store provider")
	ErrEmptyDocuments        = errors.New("empty or nil documents")
	ErrConnectionFailed      = errors.New("failed to connect to Qdrant")
	ErrEmbeddingFailed       = errors.New("failed to generate embeddings")
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// Metric names the meaning of SearchResult.Score.
type Metric string

const (
	// MetricCosineSimilarity scores lie in [-1, 1], higher is closer.
	MetricCosineSimilarity Metric = "cosine_similarity"
	// MetricCosineDistance scores lie in [0, 2], lower is closer.
	MetricCosineDistance Metric = "cosine_distance"
	// MetricDot scores are raw inner products.
	MetricDot Metric = "dot"
	// MetricEuclidean scores are L2 distances, lower is closer.
	MetricEuclidean Metric = "euclidean"
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Document is a unit of text to embed and store. Storing a Document whose ID
// already exists in the collection replaces it.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]interface{}
}

// SearchResult is one hit of a similarity query.
type SearchResult struct {
	ID       string
	Content  string
	Score    float32
	Metadata map[string]interface{}
}

// Store is the interface for vector storage operations. Collections are
// created on first write; reading a collection that does not exist yields
// empty results rather than an error.
type Store interface {
	// Upsert embeds docs and writes them into collection, replacing any
	// documents with the same IDs.
	Upsert(ctx context.Context, collection string, docs []Document) ([]string, error)

	// Query returns up to k documents nearest to query, best first.
	Query(ctx context.Context, collection, query string, k int) ([]SearchResult, error)

	// ListIDs returns the IDs of every document in collection.
	ListIDs(ctx context.Context, collection string) ([]string, error)

	// Count returns the number of documents in collection.
	Count(ctx context.Context, collection string) (int, error)

	// ListCollections returns the names of all collections.
	ListCollections(ctx context.Context) ([]string, error)

	// Metric reports how Query scores are to be interpreted.
	Metric() Metric

	Close() error
}

// ValidateCollectionName checks name against ^[a-z0-9_]{1,64}$.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}
