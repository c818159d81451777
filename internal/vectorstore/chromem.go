package vectorstore

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/fyrsmithlabs/docqa/internal/config"
	"github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("docqa.vectorstore.chromem")

// listProbe is the query text used to enumerate a collection. chromem search
// is exhaustive, so a query for every document returns all of them.
const listProbe = "document"

// ChromemConfig configures the embedded store.
type ChromemConfig struct {
	// Path is the directory holding the persistent database. A leading ~ is
	// expanded.
	Path string
	// Compress gzips the persisted documents.
	Compress bool
}

// ChromemStore implements Store on an embedded chromem-go database
// persisted to disk. Similarity is cosine over normalized vectors.
type ChromemStore struct {
	db       *chromem.DB
	embedder Embedder
	logger   *zap.Logger
}

// NewChromemStore opens (or creates) the database at cfg.Path.
func NewChromemStore(cfg ChromemConfig, embedder Embedder, logger *zap.Logger) (*ChromemStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: chromem path is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	path, err := config.ExpandPath(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	logger.Info("chromem store initialized", zap.String("path", path), zap.Bool("compress", cfg.Compress))
	return &ChromemStore{db: db, embedder: embedder, logger: logger}, nil
}

func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

// collection returns the named collection, or nil if it does not exist. The
// embedding func must be passed or chromem falls back to its OpenAI default.
func (s *ChromemStore) collection(name string) *chromem.Collection {
	return s.db.GetCollection(name, s.embeddingFunc())
}

func (s *ChromemStore) Upsert(ctx context.Context, collection string, docs []Document) (ids []string, err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Upsert")
	defer span.End()
	defer observe("chromem", "upsert")(&err)
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("document_count", len(docs)))

	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrEmptyDocuments
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		if d.ID == "" {
			return nil, fmt.Errorf("document at index %d has no ID", i)
		}
		texts[i] = d.Content
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	if len(vectors) != len(docs) {
		return nil, fmt.Errorf("%w: got %d vectors for %d documents", ErrEmbeddingFailed, len(vectors), len(docs))
	}

	coll, err := s.db.GetOrCreateCollection(collection, nil, s.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", collection, err)
	}

	cdocs := make([]chromem.Document, len(docs))
	ids = make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
		cdocs[i] = chromem.Document{
			ID:        d.ID,
			Content:   d.Content,
			Metadata:  metadataToStrings(d.Metadata),
			Embedding: vectors[i],
		}
	}
	// Embeddings are precomputed, so one worker is enough.
	if err := coll.AddDocuments(ctx, cdocs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("adding documents: %w", err)
	}

	s.logger.Debug("upserted documents", zap.String("collection", collection), zap.Int("count", len(docs)))
	return ids, nil
}

func (s *ChromemStore) Query(ctx context.Context, collection, query string, k int) (results []SearchResult, err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Query")
	defer span.End()
	defer observe("chromem", "query")(&err)
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("k", k))

	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	coll := s.collection(collection)
	if coll == nil {
		return []SearchResult{}, nil
	}
	// chromem requires nResults <= document count.
	n := coll.Count()
	if n == 0 {
		return []SearchResult{}, nil
	}
	if k > n {
		k = n
	}

	res, err := coll.Query(ctx, query, k, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", collection, err)
	}

	results = make([]SearchResult, len(res))
	for i, r := range res {
		results[i] = SearchResult{
			ID:       r.ID,
			Content:  r.Content,
			Score:    r.Similarity,
			Metadata: metadataFromStrings(r.Metadata),
		}
	}
	span.SetAttributes(attribute.Int("results_count", len(results)))
	return results, nil
}

func (s *ChromemStore) ListIDs(ctx context.Context, collection string) (ids []string, err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.ListIDs")
	defer span.End()
	defer observe("chromem", "list_ids")(&err)

	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	coll := s.collection(collection)
	if coll == nil || coll.Count() == 0 {
		return []string{}, nil
	}

	res, err := coll.Query(ctx, listProbe, coll.Count(), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("listing collection %s: %w", collection, err)
	}
	ids = make([]string, len(res))
	for i, r := range res {
		ids[i] = r.ID
	}
	return ids, nil
}

func (s *ChromemStore) Count(_ context.Context, collection string) (int, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return 0, err
	}
	coll := s.collection(collection)
	if coll == nil {
		return 0, nil
	}
	return coll.Count(), nil
}

func (s *ChromemStore) ListCollections(_ context.Context) ([]string, error) {
	all := s.db.ListCollections()
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	return names, nil
}

func (s *ChromemStore) Metric() Metric {
	return MetricCosineSimilarity
}

// Close is a no-op; chromem persists on every write.
func (s *ChromemStore) Close() error {
	return nil
}

// metadataToStrings flattens metadata into chromem's string map.
func metadataToStrings(metadata map[string]interface{}) map[string]string {
	if metadata == nil {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		switch val := v.(type) {
		case string:
			out[k] = val
		case int:
			out[k] = strconv.Itoa(val)
		case int64:
			out[k] = strconv.FormatInt(val, 10)
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(val)
		default:
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out
}

func metadataFromStrings(metadata map[string]string) map[string]interface{} {
	if metadata == nil {
		return nil
	}
	out := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}

var _ Store = (*ChromemStore)(nil)
