package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/docqa/internal/cache"
	"github.com/fyrsmithlabs/docqa/internal/config"
	"github.com/fyrsmithlabs/docqa/internal/embeddings"
	"github.com/fyrsmithlabs/docqa/internal/gateway"
	"github.com/fyrsmithlabs/docqa/internal/generator"
	"github.com/fyrsmithlabs/docqa/internal/logging"
	"github.com/fyrsmithlabs/docqa/internal/orchestrator"
	"github.com/fyrsmithlabs/docqa/internal/reranker"
	"github.com/fyrsmithlabs/docqa/internal/segmenter"
	"github.com/fyrsmithlabs/docqa/internal/telemetry"
	"github.com/fyrsmithlabs/docqa/internal/vectorstore"
	"github.com/fyrsmithlabs/docqa/internal/workspace"
	"go.uber.org/zap"
)

// app holds every wired component. Construction order follows the
// dependency graph: config, logging, telemetry, embeddings, registry,
// vector store, gateway, cache, segmenter, reranker, generator, pipeline.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	registry  *workspace.Registry
	embedder  embeddings.Provider
	store     vectorstore.Store
	gateway   *gateway.Gateway
	cache     *cache.Cache
	reranker  reranker.Reranker
	pipeline  *orchestrator.Orchestrator
}

// newApp loads configuration and builds the pipeline. Any configuration
// error is returned before a single external request is made.
func newApp(ctx context.Context, configPath string) (_ *app, err error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	logCfg, err := logging.FromAppConfig(cfg.Log)
	if err != nil {
		return nil, err
	}
	logCfg.Fields["version"] = version
	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	zl := logger.Underlying()

	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.telemetry, err = telemetry.New(ctx, cfg.Telemetry, version, zl.Named("telemetry"))
	if err != nil {
		return nil, err
	}

	provider, err := embeddings.NewProvider(cfg.Embeddings, zl.Named("embeddings"))
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}
	a.embedder = embeddings.WithTimeout(provider, cfg.Timeouts.Embed)

	a.registry, err = workspace.NewRegistry(cfg.Workspaces, cfg.Workspace.Strict,
		workspace.WithCollections(a.embedder.Backend(), a.embedder.Model()))
	if err != nil {
		return nil, fmt.Errorf("configuring workspaces: %w", err)
	}

	a.store, err = vectorstore.NewStore(cfg.VectorStore, a.embedder, zl.Named("vectorstore"))
	if err != nil {
		return nil, fmt.Errorf("creating vector store: %w", err)
	}

	a.gateway, err = gateway.New(gateway.Config{
		Store:    a.store,
		Registry: a.registry,
		Backend:  a.embedder.Backend(),
		Model:    a.embedder.Model(),
		Timeout:  cfg.Timeouts.Embed + cfg.Timeouts.Query,
		Logger:   zl.Named("gateway"),
	})
	if err != nil {
		return nil, err
	}

	a.cache, err = cache.New(a.gateway, cfg.Cache.Threshold, zl.Named("cache"))
	if err != nil {
		return nil, err
	}

	seg, err := segmenter.New(cfg.Segmenter, zl.Named("segmenter"))
	if err != nil {
		return nil, err
	}

	a.reranker, err = reranker.New(cfg.Reranker, cfg.Timeouts.Rerank, zl.Named("reranker"))
	if err != nil {
		return nil, fmt.Errorf("creating reranker: %w", err)
	}

	gen, err := generator.New(cfg.Generator, cfg.Timeouts.Generate, zl.Named("generator"))
	if err != nil {
		return nil, fmt.Errorf("creating generator: %w", err)
	}

	a.pipeline, err = orchestrator.New(orchestrator.Deps{
		Retriever: a.gateway,
		Cache:     a.cache,
		Segmenter: seg,
		Reranker:  a.reranker,
		Generator: gen,
		Logger:    logger.Named("pipeline"),
	}, orchestrator.Options{
		Candidates:  cfg.Retrieval.Candidates,
		TopK:        cfg.Retrieval.TopK,
		Concurrency: cfg.Ingest.Concurrency,
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "pipeline ready",
		zap.String("embeddings", a.embedder.Backend()+"/"+a.embedder.Model()),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("reranker", cfg.Reranker.Provider),
		zap.String("generator", gen.Provider()+"/"+gen.Model()),
		zap.Strings("workspaces", a.registry.Names()),
	)
	return a, nil
}

// close releases the reranker, the store, the embedder and telemetry, in
// reverse order of construction. It is safe on a partially built app.
func (a *app) close() error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.reranker != nil {
		if err := a.reranker.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing reranker: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing vector store: %w", err))
		}
	}
	if a.embedder != nil {
		if err := a.embedder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing embedder: %w", err))
		}
	}
	if err := a.telemetry.Shutdown(context.Background()); err != nil {
		errs = append(errs, fmt.Errorf("shutting down telemetry: %w", err))
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}
