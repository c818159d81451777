package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultCrossEncoderModel is the cross-encoder served by default.
const DefaultCrossEncoderModel = "cross-encoder/ms-marco-MiniLM-L-6-v2"

// CrossEncoderConfig configures the TEI rerank client.
type CrossEncoderConfig struct {
	BaseURL string
	// Model is informational; TEI serves one model per instance.
	Model string
	// Timeout bounds each rerank request, including reading the response.
	Timeout time.Duration
}

// CrossEncoder scores (query, passage) pairs with a cross-encoder served by
// text-embeddings-inference.
type CrossEncoder struct {
	baseURL string
	model   string
	timeout time.Duration
	client  *http.Client
	logger  *zap.Logger
}

// NewCrossEncoder creates a CrossEncoder. No request is made until Rerank.
func NewCrossEncoder(cfg CrossEncoderConfig, logger *zap.Logger) (*CrossEncoder, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultCrossEncoderModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CrossEncoder{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		client:  &http.Client{},
		logger:  logger,
	}, nil
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Texts     []string `json:"texts"`
	RawScores bool     `json:"raw_scores"`
	Truncate  bool     `json:"truncate"`
}

type rerankResult struct {
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

// Rerank scores every document against query and keeps the best topK.
func (c *CrossEncoder) Rerank(ctx context.Context, query string, docs []Document, topK int) ([]ScoredDocument, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if len(docs) == 0 {
		return []ScoredDocument{}, nil
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	body, err := json.Marshal(rerankRequest{Query: query, Texts: texts, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRerankFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrRerankFailed, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var results []rerankResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %w", ErrRerankFailed, err)
	}

	scores := make([]float32, len(docs))
	seen := make([]bool, len(docs))
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(docs) {
			return nil, fmt.Errorf("%w: result index %d out of range", ErrRerankFailed, r.Index)
		}
		scores[r.Index] = r.Score
		seen[r.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("%w: no score for document %d", ErrRerankFailed, i)
		}
	}

	ranked := rank(docs, scores, topK)
	c.logger.Debug("reranked documents",
		zap.String("model", c.model),
		zap.Int("candidates", len(docs)),
		zap.Int("kept", len(ranked)),
		zap.Duration("duration", time.Since(start)),
	)
	return ranked, nil
}

// Close releases idle connections.
func (c *CrossEncoder) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// rank orders docs by scores, descending, keeping input order among ties,
// and returns the first topK.
func rank(docs []Document, scores []float32, topK int) []ScoredDocument {
	out := make([]ScoredDocument, len(docs))
	for i, d := range docs {
		out[i] = ScoredDocument{Document: d, RerankerScore: scores[i], OriginalRank: i}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RerankerScore > out[j].RerankerScore
	})
	if topK < len(out) {
		out = out[:topK]
	}
	return out
}
