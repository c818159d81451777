package embeddings

import (
	"context"
	"time"
)

type timeoutProvider struct {
	Provider
	timeout time.Duration
}

// WithTimeout bounds every embedding call made through p by d. A
// non-positive d returns p unchanged.
func WithTimeout(p Provider, d time.Duration) Provider {
	if d <= 0 {
		return p
	}
	return &timeoutProvider{Provider: p, timeout: d}
}

func (t *timeoutProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Provider.EmbedDocuments(ctx, texts)
}

func (t *timeoutProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Provider.EmbedQuery(ctx, text)
}
