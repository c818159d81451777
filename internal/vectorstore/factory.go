package vectorstore

import (
	"fmt"

	"github.com/fyrsmithlabs/docqa/internal/config"
	"go.uber.org/zap"
)

// NewStore creates the store selected by cfg.Provider:
//   - "chromem" (default): embedded, persisted under cfg.Path
//   - "qdrant": external server at cfg.QdrantHost:cfg.QdrantPort
func NewStore(cfg config.VectorStoreConfig, embedder Embedder, logger *zap.Logger) (Store, error) {
	switch cfg.Provider {
	case "chromem", "":
		return NewChromemStore(ChromemConfig{Path: cfg.Path, Compress: cfg.Compress}, embedder, logger)
	case "qdrant":
		return NewQdrantStore(QdrantConfig{
			Host:   cfg.QdrantHost,
			Port:   cfg.QdrantPort,
			UseTLS: cfg.QdrantTLS,
		}, embedder, logger)
	default:
		return nil, fmt.Errorf("%w: %q (supported: chromem, qdrant)", ErrUnknownProvider, cfg.Provider)
	}
}
