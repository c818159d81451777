// Package http provides the HTTP API for docqa.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/docqa/internal/cache"
	"github.com/fyrsmithlabs/docqa/internal/gateway"
	"github.com/fyrsmithlabs/docqa/internal/logging"
	"github.com/fyrsmithlabs/docqa/internal/orchestrator"
	"github.com/fyrsmithlabs/docqa/internal/workspace"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pipeline answers questions and ingests documents.
type Pipeline interface {
	Ask(ctx context.Context, ws, question string) (*orchestrator.Answer, error)
	Ingest(ctx context.Context, ws string, mode orchestrator.Mode, files []orchestrator.File) (*orchestrator.IngestReport, error)
}

// Library reports what a workspace holds.
type Library interface {
	Stats(ctx context.Context, ws string) (gateway.Stats, error)
}

// Server provides HTTP endpoints for docqa.
type Server struct {
	echo     *echo.Echo
	pipeline Pipeline
	library  Library
	registry *workspace.Registry
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// IngestRoot, when set, is the only directory ingest paths may name.
	IngestRoot string
}

// NewServer creates a new HTTP server.
func NewServer(pipeline Pipeline, library Library, registry *workspace.Registry, logger *zap.Logger, cfg *Config) (*Server, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("pipeline cannot be nil")
	}
	if library == nil {
		return nil, fmt.Errorf("library cannot be nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("workspace registry cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8501,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), requestID)))

			err := next(c)
			if err != nil {
				// Commit the error response so the logged status is final.
				c.Error(err)
			}

			logger.Info("http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", requestID),
			)
			return nil
		}
	})

	s := &Server{
		echo:     e,
		pipeline: pipeline,
		library:  library,
		registry: registry,
		logger:   logger,
		config:   cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/workspaces", s.handleWorkspaces)
	v1.GET("/workspaces/:workspace/files", s.handleFiles)
	v1.POST("/workspaces/:workspace/ask", s.handleAsk)
	v1.POST("/workspaces/:workspace/ingest", s.handleIngest)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// httpError maps a pipeline error onto a status code. Only client errors
// carry the underlying message.
func (s *Server) httpError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, workspace.ErrUnknownWorkspace):
		status = http.StatusNotFound
	case errors.Is(err, workspace.ErrEmptyName),
		errors.Is(err, orchestrator.ErrInvalidInput),
		errors.Is(err, cache.ErrInvalidInput),
		errors.Is(err, gateway.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", c.Path()),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			zap.Error(err),
		)
		return echo.NewHTTPError(status, http.StatusText(status))
	}
	return echo.NewHTTPError(status, err.Error())
}

// Start starts the HTTP server. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
