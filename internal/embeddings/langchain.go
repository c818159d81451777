package embeddings

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/fyrsmithlabs/docqa/internal/config"
	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// langchainProvider adapts a langchaingo embedder to Provider.
type langchainProvider struct {
	embedder  lcembeddings.Embedder
	backend   string
	model     string
	dimension atomic.Int64
}

func newOllamaProvider(cfg config.EmbeddingsConfig) (*langchainProvider, error) {
	if cfg.BaseURL == "" || cfg.Model == "" {
		return nil, fmt.Errorf("%w: ollama requires base_url and model", ErrInvalidConfig)
	}
	llm, err := ollama.New(ollama.WithModel(cfg.Model), ollama.WithServerURL(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("creating ollama client: %w", err)
	}
	return newLangchainProvider(llm, "ollama", cfg.Model)
}

func newOpenAIProvider(cfg config.EmbeddingsConfig) (*langchainProvider, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("%w: openai embeddings require embeddings.api_key or OPENAI_API_KEY", ErrMissingCredentials)
	}
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey.Value()),
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}
	return newLangchainProvider(llm, "openai", cfg.Model)
}

func newLangchainProvider(client lcembeddings.EmbedderClient, backend, model string) (*langchainProvider, error) {
	emb, err := lcembeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("creating %s embedder: %w", backend, err)
	}
	p := &langchainProvider{embedder: emb, backend: backend, model: model}
	p.dimension.Store(int64(detectDimensionFromModel(model)))
	return p, nil
}

func (p *langchainProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	if len(vectors) > 0 {
		p.dimension.Store(int64(len(vectors[0])))
	}
	return vectors, nil
}

func (p *langchainProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vector, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	p.dimension.Store(int64(len(vector)))
	return vector, nil
}

func (p *langchainProvider) Backend() string { return p.backend }
func (p *langchainProvider) Model() string   { return p.model }
func (p *langchainProvider) Dimension() int  { return int(p.dimension.Load()) }
func (p *langchainProvider) Close() error    { return nil }
