// Package config provides configuration loading for docqa.
//
// Configuration is built once at process start and passed by reference into
// the constructors of every component. No component reads the process
// environment on its own.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete docqa configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Log         LogConfig         `koanf:"log"`
	Workspace   WorkspaceConfig   `koanf:"workspace"`
	Workspaces  []string          `koanf:"workspaces"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Segmenter   SegmenterConfig   `koanf:"segmenter"`
	Cache       CacheConfig       `koanf:"cache"`
	Retrieval   RetrievalConfig   `koanf:"retrieval"`
	Reranker    RerankerConfig    `koanf:"reranker"`
	Generator   GeneratorConfig   `koanf:"generator"`
	Ingest      IngestConfig      `koanf:"ingest"`
	Timeouts    TimeoutsConfig    `koanf:"timeouts"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// IngestRoot restricts ingest paths to this directory when set.
	IngestRoot string `koanf:"ingest_root"`
}

// LogConfig selects the log level and encoder.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// WorkspaceConfig controls how unknown workspace names are treated.
type WorkspaceConfig struct {
	// Strict rejects workspaces that are not listed in Workspaces.
	Strict bool `koanf:"strict"`
}

// EmbeddingsConfig selects the embedding backend.
type EmbeddingsConfig struct {
	// Provider is one of "ollama", "openai", "tei" or "fastembed".
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	APIKey   Secret `koanf:"api_key"`
	// CacheDir is the model download directory for fastembed.
	CacheDir string `koanf:"cache_dir"`
}

// VectorStoreConfig selects and configures the vector store.
type VectorStoreConfig struct {
	// Provider is "chromem" (embedded, persistent) or "qdrant".
	Provider   string `koanf:"provider"`
	Path       string `koanf:"path"`
	Compress   bool   `koanf:"compress"`
	QdrantHost string `koanf:"qdrant_host"`
	QdrantPort int    `koanf:"qdrant_port"`
	QdrantTLS  bool   `koanf:"qdrant_tls"`
}

// SegmenterConfig controls document chunking.
type SegmenterConfig struct {
	ChunkSize    int `koanf:"chunk_size"`
	ChunkOverlap int `koanf:"chunk_overlap"`
}

// CacheConfig controls the semantic answer cache.
type CacheConfig struct {
	// Threshold is the minimum match percentage (0-100) for a cache hit.
	Threshold float64 `koanf:"threshold"`
}

// RetrievalConfig controls candidate retrieval and reranking depth.
type RetrievalConfig struct {
	Candidates int `koanf:"candidates"`
	TopK       int `koanf:"top_k"`
}

// RerankerConfig selects the reranking backend.
type RerankerConfig struct {
	// Provider is "tei" (cross-encoder service) or "lexical".
	Provider string `koanf:"provider"`
	BaseURL  string `koanf:"base_url"`
	Model    string `koanf:"model"`
}

// GeneratorConfig selects the answer generation backend.
type GeneratorConfig struct {
	// Provider is one of "ollama", "openai" or "anthropic".
	Provider    string  `koanf:"provider"`
	Model       string  `koanf:"model"`
	BaseURL     string  `koanf:"base_url"`
	APIKey      Secret  `koanf:"api_key"`
	Temperature float64 `koanf:"temperature"`
	// RateLimit is the maximum requests per second. Zero disables limiting.
	RateLimit float64 `koanf:"rate_limit"`
	Burst     int     `koanf:"burst"`
}

// IngestConfig controls ingestion parallelism.
type IngestConfig struct {
	Concurrency int `koanf:"concurrency"`
}

// TimeoutsConfig bounds every call to an external service.
type TimeoutsConfig struct {
	Embed    time.Duration `koanf:"embed"`
	Query    time.Duration `koanf:"query"`
	Rerank   time.Duration `koanf:"rerank"`
	Generate time.Duration `koanf:"generate"`
}

// TelemetryConfig controls OpenTelemetry trace and metric export.
type TelemetryConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Endpoint string `koanf:"endpoint"`
	// Protocol is "grpc" (default) or "http/protobuf".
	Protocol    string `koanf:"protocol"`
	Insecure    bool   `koanf:"insecure"`
	ServiceName string `koanf:"service_name"`
	// SampleRate is the fraction of root traces kept, 0-1.
	SampleRate      float64       `koanf:"sample_rate"`
	MetricsInterval time.Duration `koanf:"metrics_interval"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Default returns a Config populated with defaults only.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Validate checks structural constraints. Provider credentials are checked by
// the constructors that consume them, before any request is made.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Segmenter.ChunkSize <= 0 {
		return fmt.Errorf("segmenter chunk size must be positive, got %d", c.Segmenter.ChunkSize)
	}
	if c.Segmenter.ChunkOverlap < 0 || c.Segmenter.ChunkOverlap >= c.Segmenter.ChunkSize {
		return fmt.Errorf("segmenter chunk overlap %d must be in [0, %d)", c.Segmenter.ChunkOverlap, c.Segmenter.ChunkSize)
	}
	if c.Cache.Threshold < 0 || c.Cache.Threshold > 100 {
		return fmt.Errorf("cache threshold %.2f must be within 0-100", c.Cache.Threshold)
	}
	if c.Retrieval.Candidates <= 0 {
		return fmt.Errorf("retrieval candidates must be positive, got %d", c.Retrieval.Candidates)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Ingest.Concurrency <= 0 {
		return fmt.Errorf("ingest concurrency must be positive, got %d", c.Ingest.Concurrency)
	}
	if len(c.Workspaces) == 0 {
		return errors.New("at least one workspace must be configured")
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8501
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	if len(cfg.Workspaces) == 0 {
		cfg.Workspaces = []string{"Default Workspace"}
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "ollama"
	}
	if cfg.Embeddings.Model == "" {
		switch cfg.Embeddings.Provider {
		case "openai":
			cfg.Embeddings.Model = "text-embedding-3-small"
		case "tei", "fastembed":
			cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
		default:
			cfg.Embeddings.Model = "nomic-embed-text:latest"
		}
	}
	if cfg.Embeddings.BaseURL == "" {
		switch cfg.Embeddings.Provider {
		case "ollama":
			cfg.Embeddings.BaseURL = "http://localhost:11434"
		case "tei":
			cfg.Embeddings.BaseURL = "http://localhost:8080"
		}
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.Path == "" {
		cfg.VectorStore.Path = "~/.local/share/docqa/vectorstore"
	}
	if cfg.VectorStore.QdrantHost == "" {
		cfg.VectorStore.QdrantHost = "localhost"
	}
	if cfg.VectorStore.QdrantPort == 0 {
		cfg.VectorStore.QdrantPort = 6334
	}

	if cfg.Segmenter.ChunkSize == 0 {
		cfg.Segmenter.ChunkSize = 400
	}
	if cfg.Segmenter.ChunkOverlap == 0 {
		cfg.Segmenter.ChunkOverlap = 100
	}

	if cfg.Cache.Threshold == 0 {
		cfg.Cache.Threshold = 80
	}

	if cfg.Retrieval.Candidates == 0 {
		cfg.Retrieval.Candidates = 10
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 3
	}

	if cfg.Reranker.Provider == "" {
		cfg.Reranker.Provider = "tei"
	}
	if cfg.Reranker.BaseURL == "" {
		cfg.Reranker.BaseURL = "http://localhost:8081"
	}
	if cfg.Reranker.Model == "" {
		cfg.Reranker.Model = "cross-encoder/ms-marco-MiniLM-L-6-v2"
	}

	if cfg.Generator.Provider == "" {
		cfg.Generator.Provider = "ollama"
	}
	if cfg.Generator.Model == "" {
		switch cfg.Generator.Provider {
		case "openai":
			cfg.Generator.Model = "gpt-4o-mini"
		case "anthropic":
			cfg.Generator.Model = "claude-3-5-haiku-latest"
		default:
			cfg.Generator.Model = "llama3.2:3b"
		}
	}
	if cfg.Generator.BaseURL == "" && cfg.Generator.Provider == "ollama" {
		cfg.Generator.BaseURL = "http://localhost:11434"
	}
	if cfg.Generator.Burst == 0 {
		cfg.Generator.Burst = 1
	}

	if cfg.Ingest.Concurrency == 0 {
		cfg.Ingest.Concurrency = 4
	}

	if cfg.Timeouts.Embed == 0 {
		cfg.Timeouts.Embed = 30 * time.Second
	}
	if cfg.Timeouts.Query == 0 {
		cfg.Timeouts.Query = 30 * time.Second
	}
	if cfg.Timeouts.Rerank == 0 {
		cfg.Timeouts.Rerank = 30 * time.Second
	}
	if cfg.Timeouts.Generate == 0 {
		cfg.Timeouts.Generate = 5 * time.Minute
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "docqa"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 15 * time.Second
	}
	if cfg.Telemetry.ShutdownTimeout == 0 {
		cfg.Telemetry.ShutdownTimeout = 5 * time.Second
	}
}
