// Package embeddings provides embedding generation via multiple backends.
//
// Backends:
//   - ollama: local Ollama server through langchaingo (default)
//   - openai: hosted OpenAI embeddings through langchaingo
//   - tei: HuggingFace text-embeddings-inference over HTTP
//   - fastembed: in-process ONNX models (requires cgo)
package embeddings

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/docqa/internal/config"
	"github.com/fyrsmithlabs/docqa/internal/vectorstore"
	"go.uber.org/zap"
)

var (
	ErrEmptyInput         = errors.New("empty or nil input texts")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrUnknownProvider    = errors.New("unknown embedding provider")
	ErrMissingCredentials = errors.New("missing credentials")
	ErrEmbeddingFailed    = errors.New("embedding generation failed")
)

// Provider is an embedding backend.
type Provider interface {
	vectorstore.Embedder
	// Backend returns the provider selector, e.g. "ollama".
	Backend() string
	// Model returns the embedding model name.
	Model() string
	// Dimension returns the vector size, or 0 if not known until the first call.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// NewProvider creates the backend selected by cfg.Provider. Missing
// credentials and unknown selectors fail here, before any request.
func NewProvider(cfg config.EmbeddingsConfig, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		p   Provider
		err error
	)
	switch cfg.Provider {
	case "ollama":
		p, err = newOllamaProvider(cfg)
	case "openai":
		p, err = newOpenAIProvider(cfg)
	case "tei":
		p, err = NewTEIProvider(TEIConfig{BaseURL: cfg.BaseURL, Model: cfg.Model, APIKey: cfg.APIKey.Value()})
	case "fastembed":
		p, err = NewFastEmbedProvider(FastEmbedConfig{Model: cfg.Model, CacheDir: cfg.CacheDir})
	default:
		return nil, fmt.Errorf("%w: %q (supported: ollama, openai, tei, fastembed)", ErrUnknownProvider, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("embedding provider ready",
		zap.String("provider", p.Backend()),
		zap.String("model", p.Model()),
		zap.Int("dimension", p.Dimension()),
	)
	return Instrument(p, logger), nil
}

// detectDimensionFromModel guesses the vector size from well-known model
// names. It returns 0 when the model is not recognised.
func detectDimensionFromModel(model string) int {
	if dim, ok := knownDimensions[model]; ok {
		return dim
	}
	return 0
}

var knownDimensions = map[string]int{
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"BAAI/bge-small-zh-v1.5":                 512,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
	"fast-bge-small-en-v1.5":                 384,
	"fast-bge-small-en":                      384,
	"fast-bge-base-en-v1.5":                  768,
	"fast-bge-base-en":                       768,
	"fast-bge-small-zh-v1.5":                 512,
	"fast-all-MiniLM-L6-v2":                  384,
	"nomic-embed-text":                       768,
	"nomic-embed-text:latest":                768,
	"mxbai-embed-large":                      1024,
	"text-embedding-3-small":                 1536,
	"text-embedding-3-large":                 3072,
	"text-embedding-ada-002":                 1536,
}
