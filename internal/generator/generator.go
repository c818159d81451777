// Package generator streams answers from a chat model given retrieved
// context and a question.
package generator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/docqa/internal/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	ErrInvalidConfig      = errors.New("invalid generator configuration")
	ErrMissingCredentials = errors.New("missing credentials")
	ErrUnknownProvider    = errors.New("unknown generator provider")
	ErrInvalidInput       = errors.New("invalid input")
	ErrGenerationFailed   = errors.New("generation failed")
)

// ChatModel is the part of llms.Model the generator uses.
type ChatModel interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// Options tune a Generator built around an existing model.
type Options struct {
	Provider    string
	Model       string
	Temperature float64
	// Timeout bounds a whole answer, from request to last token.
	Timeout time.Duration
	// Limiter, when set, throttles requests to the model.
	Limiter *rate.Limiter
	Logger  *zap.Logger
}

// Generator produces streamed answers.
type Generator struct {
	model ChatModel
	opts  Options
}

// New builds the chat model selected by cfg.Provider. Hosted providers
// without an API key fail here.
func New(cfg config.GeneratorConfig, timeout time.Duration, logger *zap.Logger) (*Generator, error) {
	var (
		model ChatModel
		err   error
	)
	switch cfg.Provider {
	case "ollama":
		if cfg.BaseURL == "" || cfg.Model == "" {
			return nil, fmt.Errorf("%w: ollama requires base_url and model", ErrInvalidConfig)
		}
		model, err = ollama.New(ollama.WithModel(cfg.Model), ollama.WithServerURL(cfg.BaseURL))
	case "openai":
		if !cfg.APIKey.IsSet() {
			return nil, fmt.Errorf("%w: openai requires generator.api_key or OPENAI_API_KEY", ErrMissingCredentials)
		}
		opts := []openai.Option{openai.WithToken(cfg.APIKey.Value()), openai.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(opts...)
	case "anthropic":
		if !cfg.APIKey.IsSet() {
			return nil, fmt.Errorf("%w: anthropic requires generator.api_key or ANTHROPIC_API_KEY", ErrMissingCredentials)
		}
		// The anthropic client always targets the public API endpoint.
		if cfg.BaseURL != "" {
			return nil, fmt.Errorf("%w: anthropic does not support base_url", ErrInvalidConfig)
		}
		model, err = anthropic.New(anthropic.WithToken(cfg.APIKey.Value()), anthropic.WithModel(cfg.Model))
	default:
		return nil, fmt.Errorf("%w: %q (supported: ollama, openai, anthropic)", ErrUnknownProvider, cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s client: %w", cfg.Provider, err)
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return NewWithModel(model, Options{
		Provider:    cfg.Provider,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		Timeout:     timeout,
		Limiter:     limiter,
		Logger:      logger,
	}), nil
}

// NewWithModel wraps an existing chat model.
func NewWithModel(model ChatModel, opts Options) *Generator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Generator{model: model, opts: opts}
}

// Provider returns the backend name.
func (g *Generator) Provider() string { return g.opts.Provider }

// Model returns the model name.
func (g *Generator) Model() string { return g.opts.Model }

// Generate starts answering question from context. Tokens are forwarded as
// the model emits them; the caller must drain or Close the stream.
func (g *Generator) Generate(ctx context.Context, evidence, question string) (*Stream, error) {
	if question == "" {
		return nil, fmt.Errorf("%w: question is empty", ErrInvalidInput)
	}
	if g.opts.Limiter != nil {
		if err := g.opts.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	var (
		genCtx context.Context
		cancel context.CancelFunc
	)
	if g.opts.Timeout > 0 {
		genCtx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
	} else {
		genCtx, cancel = context.WithCancel(ctx)
	}

	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, SystemPrompt),
		llms.TextParts(schema.ChatMessageTypeHuman, UserPrompt(evidence, question)),
	}

	s := newStream(cancel)
	go g.run(genCtx, s, messages)
	return s, nil
}

func (g *Generator) run(ctx context.Context, s *Stream, messages []llms.MessageContent) {
	start := time.Now()
	streamed := 0

	callOpts := []llms.CallOption{
		llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			streamed++
			return s.send(ctx, string(chunk))
		}),
	}
	if g.opts.Temperature > 0 {
		callOpts = append(callOpts, llms.WithTemperature(g.opts.Temperature))
	}

	resp, err := g.model.GenerateContent(ctx, messages, callOpts...)
	if err == nil && streamed == 0 && resp != nil && len(resp.Choices) > 0 && resp.Choices[0].Content != "" {
		// Some backends ignore the streaming callback.
		err = s.send(ctx, resp.Choices[0].Content)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		err = fmt.Errorf("%w: %w", ErrGenerationFailed, err)
		g.opts.Logger.Warn("generation failed",
			zap.String("provider", g.opts.Provider),
			zap.String("model", g.opts.Model),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
	} else {
		g.opts.Logger.Debug("generation finished",
			zap.String("provider", g.opts.Provider),
			zap.String("model", g.opts.Model),
			zap.Int("chunks", streamed),
			zap.Duration("duration", time.Since(start)),
		)
	}
	s.finish(err)
}
