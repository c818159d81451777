package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/docqa/internal/embeddings"

// Metrics holds embedding instruments.
type Metrics struct {
	logger    *zap.Logger
	duration  metric.Float64Histogram
	batchSize metric.Int64Histogram
	errors    metric.Int64Counter
}

// NewMetrics registers embedding instruments on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	return newMetricsWithMeter(otel.Meter(instrumentationName), logger)
}

func newMetricsWithMeter(meter metric.Meter, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{logger: logger}

	var err error
	m.duration, err = meter.Float64Histogram(
		"docqa.embedding.duration_seconds",
		metric.WithDescription("Duration of embedding requests by backend, model and operation"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.batchSize, err = meter.Int64Histogram(
		"docqa.embedding.batch_size",
		metric.WithDescription("Number of texts per embedding request"),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 25, 50, 100, 250, 500),
	)
	if err != nil {
		logger.Warn("failed to create batch size histogram", zap.Error(err))
	}

	m.errors, err = meter.Int64Counter(
		"docqa.embedding.errors_total",
		metric.WithDescription("Failed embedding requests by backend, model and operation"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		logger.Warn("failed to create errors counter", zap.Error(err))
	}
	return m
}

// Record records one embedding request.
func (m *Metrics) Record(ctx context.Context, backend, model, operation string, d time.Duration, batch int, err error) {
	attrs := metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("model", model),
		attribute.String("operation", operation),
	)
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), attrs)
	}
	if batch > 0 && m.batchSize != nil {
		m.batchSize.Record(ctx, int64(batch), attrs)
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}

// instrumented wraps a Provider with metrics and debug logging.
type instrumented struct {
	Provider
	metrics *Metrics
	logger  *zap.Logger
}

// Instrument wraps p so every request is measured.
func Instrument(p Provider, logger *zap.Logger) Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &instrumented{Provider: p, metrics: NewMetrics(logger), logger: logger}
}

func (i *instrumented) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vectors, err := i.Provider.EmbedDocuments(ctx, texts)
	i.observe(ctx, "embed_documents", start, len(texts), err)
	return vectors, err
}

func (i *instrumented) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vector, err := i.Provider.EmbedQuery(ctx, text)
	i.observe(ctx, "embed_query", start, 1, err)
	return vector, err
}

func (i *instrumented) observe(ctx context.Context, op string, start time.Time, batch int, err error) {
	d := time.Since(start)
	i.metrics.Record(ctx, i.Backend(), i.Model(), op, d, batch, err)
	if err != nil {
		i.logger.Debug("embedding request failed",
			zap.String("operation", op),
			zap.Int("batch", batch),
			zap.Duration("duration", d),
			zap.Error(err),
		)
	}
}
