package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

var qdrantTracer = otel.Tracer("docqa.vectorstore.qdrant")

// Payload keys reserved by QdrantStore.
const (
	payloadContent = "content"
	payloadID      = "id"
)

// pointNamespace seeds the name-based UUIDs used as Qdrant point IDs.
var pointNamespace = uuid.MustParse("6f1c8c1e-6a3e-4e4f-9a0e-3f0f5b2d7c11")

// QdrantConfig configures the gRPC client.
type QdrantConfig struct {
	Host string
	// Port is the gRPC port (6334), not the REST port.
	Port   int
	UseTLS bool
	// MaxMessageSize is the maximum gRPC message size in bytes.
	MaxMessageSize int
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	return nil
}

// QdrantStore implements Store on a Qdrant server. Collections are created
// lazily with the dimension of the first batch written and cosine distance.
// Qdrant reports cosine similarity as the score.
type QdrantStore struct {
	client   *qdrant.Client
	embedder Embedder
	logger   *zap.Logger

	// known caches collections confirmed to exist.
	known sync.Map
	// createMu serializes collection creation.
	createMu sync.Mutex
}

// NewQdrantStore connects to Qdrant and performs a health check.
func NewQdrantStore(cfg QdrantConfig, embedder Embedder, logger *zap.Logger) (*QdrantStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = 50 * 1024 * 1024
	}
	if !cfg.UseTLS {
		logger.Warn("qdrant gRPC using plaintext (TLS disabled)", zap.String("host", cfg.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}

	logger.Info("qdrant store initialized", zap.String("host", cfg.Host), zap.Int("port", cfg.Port))
	return &QdrantStore{client: client, embedder: embedder, logger: logger}, nil
}

// PointID maps a document ID to a deterministic UUID so that re-upserting
// the same document replaces its point.
func PointID(collection, docID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(collection+"/"+docID)).String()
}

func (s *QdrantStore) exists(ctx context.Context, collection string) (bool, error) {
	if _, ok := s.known.Load(collection); ok {
		return true, nil
	}
	ok, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return false, fmt.Errorf("checking collection %s: %w", collection, err)
	}
	if ok {
		s.known.Store(collection, true)
	}
	return ok, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context, collection string, size int) error {
	s.createMu.Lock()
	defer s.createMu.Unlock()

	ok, err := s.exists(ctx, collection)
	if err != nil || ok {
		return err
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(size),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", collection, err)
	}
	s.known.Store(collection, true)
	s.logger.Info("created qdrant collection", zap.String("collection", collection), zap.Int("vector_size", size))
	return nil
}

func (s *QdrantStore) Upsert(ctx context.Context, collection string, docs []Document) (ids []string, err error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Upsert")
	defer span.End()
	defer observe("qdrant", "upsert")(&err)
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
	if len(vectors) != len(docs) || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("%w: got %d vectors for %d documents", ErrEmbeddingFailed, len(vectors), len(docs))
	}

	if err := s.ensureCollection(ctx, collection, len(vectors[0])); err != nil {
		span.RecordError(err)
		return nil, err
	}

	points := make([]*qdrant.PointStruct, len(docs))
	ids = make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(collection, d.ID)),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: toPayload(d),
		}
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("upserting points to collection %s: %w", collection, err)
	}
	return ids, nil
}

func (s *QdrantStore) Query(ctx context.Context, collection, query string, k int) (results []SearchResult, err error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Query")
	defer span.End()
	defer observe("qdrant", "query")(&err)
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

	ok, err := s.exists(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []SearchResult{}, nil
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching collection %s: %w", collection, err)
	}

	results = make([]SearchResult, len(points))
	for i, p := range points {
		results[i] = fromPayload(p.Payload)
		results[i].Score = p.Score
	}
	span.SetAttributes(attribute.Int("results_count", len(results)))
	return results, nil
}

func (s *QdrantStore) ListIDs(ctx context.Context, collection string) (ids []string, err error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.ListIDs")
	defer span.End()
	defer observe("qdrant", "list_ids")(&err)

	n, err := s.Count(ctx, collection)
	if err != nil || n == 0 {
		return []string{}, err
	}

	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: collection,
		Limit:          qdrant.PtrOf(uint32(n)),
		WithPayload:    qdrant.NewWithPayloadInclude(payloadID),
	})
	if err != nil {
		return nil, fmt.Errorf("scrolling collection %s: %w", collection, err)
	}
	ids = make([]string, 0, len(points))
	for _, p := range points {
		if v, ok := p.Payload[payloadID]; ok {
			ids = append(ids, v.GetStringValue())
		}
	}
	return ids, nil
}

func (s *QdrantStore) Count(ctx context.Context, collection string) (int, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return 0, err
	}
	ok, err := s.exists(ctx, collection)
	if err != nil || !ok {
		return 0, err
	}
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("counting collection %s: %w", collection, err)
	}
	return int(n), nil
}

func (s *QdrantStore) ListCollections(ctx context.Context) ([]string, error) {
	names, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	return names, nil
}

func (s *QdrantStore) Metric() Metric {
	return MetricCosineSimilarity
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// toPayload stores content and the document ID alongside scalar metadata.
// Values of other types are dropped.
func toPayload(d Document) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(d.Metadata)+2)
	for k, v := range d.Metadata {
		switch val := v.(type) {
		case string:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
		case int:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
		case int64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
		case float64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
		case bool:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
		}
	}
	payload[payloadContent] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: d.Content}}
	payload[payloadID] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: d.ID}}
	return payload
}

func fromPayload(payload map[string]*qdrant.Value) SearchResult {
	r := SearchResult{Metadata: make(map[string]interface{}, len(payload))}
	for k, v := range payload {
		switch val := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			switch k {
			case payloadContent:
				r.Content = val.StringValue
			case payloadID:
				r.ID = val.StringValue
			default:
				r.Metadata[k] = val.StringValue
			}
		case *qdrant.Value_IntegerValue:
			r.Metadata[k] = int(val.IntegerValue)
		case *qdrant.Value_DoubleValue:
			r.Metadata[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			r.Metadata[k] = val.BoolValue
		}
	}
	return r
}

var _ Store = (*QdrantStore)(nil)
