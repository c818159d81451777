// Package gateway maps workspaces onto vector store collections. Every
// (workspace, embedding backend, model) triple gets its own collection, so
// data embedded by one backend is never queried with another's vectors.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fyrsmithlabs/docqa/internal/segmenter"
	"github.com/fyrsmithlabs/docqa/internal/vectorstore"
	"github.com/fyrsmithlabs/docqa/internal/workspace"
	"go.uber.org/zap"
)

var (
	ErrInvalidConfig = errors.New("invalid gateway configuration")
	ErrInvalidInput  = errors.New("invalid input")
)

// Candidate is one retrieved passage.
type Candidate struct {
	ID       string
	Text     string
	Metadata map[string]interface{}
	Score    float32
}

// Stats summarizes a workspace's evidence collection.
type Stats struct {
	Collection string
	Files      []string
	Chunks     int
}

// Config configures a Gateway.
type Config struct {
	Store    vectorstore.Store
	Registry *workspace.Registry
	// Backend and Model identify the embedding space.
	Backend string
	Model   string
	// Timeout bounds each store call, including the embedding it performs.
	Timeout time.Duration
	Logger  *zap.Logger
}

// Gateway reads and writes workspace collections.
type Gateway struct {
	store    vectorstore.Store
	registry *workspace.Registry
	backend  string
	model    string
	timeout  time.Duration
	locks    *keyedMutex
	logger   *zap.Logger
}

// New validates cfg and returns a Gateway.
func New(cfg Config) (*Gateway, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}
	if cfg.Backend == "" || cfg.Model == "" {
		return nil, fmt.Errorf("%w: embedding backend and model are required", ErrInvalidConfig)
	}
	if cfg.Registry == nil {
		reg, err := workspace.NewRegistry(nil, false)
		if err != nil {
			return nil, err
		}
		cfg.Registry = reg
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Gateway{
		store:    cfg.Store,
		registry: cfg.Registry,
		backend:  cfg.Backend,
		model:    cfg.Model,
		timeout:  cfg.Timeout,
		locks:    newKeyedMutex(),
		logger:   cfg.Logger,
	}, nil
}

// Metric reports how candidate scores are to be interpreted.
func (g *Gateway) Metric() vectorstore.Metric {
	return g.store.Metric()
}

// Collection resolves the collection name for kind in workspace ws.
func (g *Gateway) Collection(kind workspace.Kind, ws string) (string, error) {
	id, err := g.registry.Resolve(ws)
	if err != nil {
		return "", err
	}
	return workspace.CollectionName(kind, id, g.backend, g.model)
}

// Upsert stores chunks of fileName in the workspace's evidence collection
// under ids {normalized file}_{index}. Re-ingesting a file overwrites its
// chunks index for index.
func (g *Gateway) Upsert(ctx context.Context, chunks []segmenter.Chunk, fileName, ws string) ([]string, error) {
	if fileName == "" {
		return nil, fmt.Errorf("%w: file name is required", ErrInvalidInput)
	}
	if len(chunks) == 0 {
		return nil, nil
	}
	file := workspace.NormalizeFileName(fileName)
	docs := make([]vectorstore.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = vectorstore.Document{
			ID:       workspace.ChunkID(file, i),
			Content:  c.Text,
			Metadata: c.Metadata,
		}
	}
	return g.UpsertDocuments(ctx, workspace.KindDocs, ws, docs)
}

// UpsertDocuments writes docs into the kind collection of ws. Writers of the
// same document ID are serialized; the last one wins.
func (g *Gateway) UpsertDocuments(ctx context.Context, kind workspace.Kind, ws string, docs []vectorstore.Document) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	collection, err := g.Collection(kind, ws)
	if err != nil {
		return nil, err
	}

	keys := make([]string, len(docs))
	for i, d := range docs {
		keys[i] = collection + "/" + d.ID
	}
	unlock := g.locks.LockAll(keys)
	defer unlock()

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	ids, err := g.store.Upsert(ctx, collection, docs)
	if err != nil {
		return nil, fmt.Errorf("upserting into %s: %w", collection, err)
	}
	g.logger.Debug("upserted documents",
		zap.String("collection", collection),
		zap.Int("count", len(ids)),
	)
	return ids, nil
}

// Query returns the k evidence chunks nearest to text, best first.
func (g *Gateway) Query(ctx context.Context, text string, k int, ws string) ([]Candidate, error) {
	return g.Search(ctx, workspace.KindDocs, ws, text, k)
}

// Search returns the k documents of the kind collection nearest to text.
func (g *Gateway) Search(ctx context.Context, kind workspace.Kind, ws, text string, k int) ([]Candidate, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: query text is empty", ErrInvalidInput)
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidInput, k)
	}
	collection, err := g.Collection(kind, ws)
	if err != nil {
		return nil, err
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	results, err := g.store.Query(ctx, collection, text, k)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", collection, err)
	}
	out := make([]Candidate, len(results))
	for i, r := range results {
		out[i] = Candidate{ID: r.ID, Text: r.Content, Metadata: r.Metadata, Score: r.Score}
	}
	return out, nil
}

// Files returns the distinct file names ingested into ws, sorted.
func (g *Gateway) Files(ctx context.Context, ws string) ([]string, error) {
	st, err := g.Stats(ctx, ws)
	if err != nil {
		return nil, err
	}
	return st.Files, nil
}

// Stats lists the files of ws and counts its chunks.
func (g *Gateway) Stats(ctx context.Context, ws string) (Stats, error) {
	collection, err := g.Collection(workspace.KindDocs, ws)
	if err != nil {
		return Stats{}, err
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	ids, err := g.store.ListIDs(ctx, collection)
	if err != nil {
		return Stats{}, fmt.Errorf("listing %s: %w", collection, err)
	}
	seen := make(map[string]struct{}, len(ids))
	files := make([]string, 0)
	for _, id := range ids {
		f := workspace.FileFromChunkID(id)
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		files = append(files, f)
	}
	sort.Strings(files)
	return Stats{Collection: collection, Files: files, Chunks: len(ids)}, nil
}

func (g *Gateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}
