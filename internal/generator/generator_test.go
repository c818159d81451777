package generator

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyrsmithlabs/docqa/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"golang.org/x/time/rate"
)

// fakeModel streams a fixed list of tokens.
type fakeModel struct {
	tokens   []string
	final    string
	err      error
	block    bool
	messages []llms.MessageContent
	opts     llms.CallOptions
	calls    atomic.Int32
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls.Add(1)
	f.messages = messages
	for _, o := range options {
		o(&f.opts)
	}
	for _, tok := range f.tokens {
		if f.opts.StreamingFunc != nil {
			if err := f.opts.StreamingFunc(ctx, []byte(tok)); err != nil {
				return nil, err
			}
		}
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.final}}}, nil
}

func textOf(t *testing.T, m llms.MessageContent) string {
	t.Helper()
	require.Len(t, m.Parts, 1)
	part, ok := m.Parts[0].(llms.TextContent)
	require.True(t, ok)
	return part.Text
}

func TestGenerate_StreamsTokens(t *testing.T) {
	model := &fakeModel{tokens: []string{"The ", "answer ", "is 42."}, final: "The answer is 42."}
	g := NewWithModel(model, Options{Provider: "fake", Model: "m", Temperature: 0.2})

	s, err := g.Generate(context.Background(), "ctx text", "What is it?")
	require.NoError(t, err)

	var got []string
	for s.Next() {
		got = append(got, s.Token())
	}
	require.NoError(t, s.Err())
	assert.Equal(t, []string{"The ", "answer ", "is 42."}, got, "streamed tokens are not repeated from the final response")

	require.Len(t, model.messages, 2)
	assert.Equal(t, schema.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, SystemPrompt, textOf(t, model.messages[0]))
	assert.Equal(t, schema.ChatMessageTypeHuman, model.messages[1].Role)
	assert.Equal(t, "Context: ctx text, Question: What is it?", textOf(t, model.messages[1]))
	assert.InDelta(t, 0.2, model.opts.Temperature, 1e-9)
}

func TestGenerate_NonStreamingBackend(t *testing.T) {
	g := NewWithModel(&fakeModel{final: "whole answer"}, Options{})

	s, err := g.Generate(context.Background(), "c", "q")
	require.NoError(t, err)
	text, err := s.Collect()
	require.NoError(t, err)
	assert.Equal(t, "whole answer", text)
}

func TestGenerate_TransportFailure(t *testing.T) {
	boom := errors.New("connection reset")
	g := NewWithModel(&fakeModel{tokens: []string{"partial"}, err: boom}, Options{})

	s, err := g.Generate(context.Background(), "c", "q")
	require.NoError(t, err)
	text, err := s.Collect()
	assert.Equal(t, "partial", text)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.ErrorIs(t, err, boom)
}

func TestGenerate_Timeout(t *testing.T) {
	g := NewWithModel(&fakeModel{block: true}, Options{Timeout: 20 * time.Millisecond})

	s, err := g.Generate(context.Background(), "c", "q")
	require.NoError(t, err)
	_, err = s.Collect()
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStream_CloseCancels(t *testing.T) {
	model := &fakeModel{tokens: make([]string, streamBuffer*4), block: true}
	for i := range model.tokens {
		model.tokens[i] = "x"
	}
	g := NewWithModel(model, Options{})

	s, err := g.Generate(context.Background(), "c", "q")
	require.NoError(t, err)
	require.True(t, s.Next())

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not stop the producer")
	}
	assert.ErrorIs(t, s.Err(), context.Canceled)
	assert.False(t, s.Next())
	s.Close()
}

func TestStream_OnEnd(t *testing.T) {
	t.Run("clean end", func(t *testing.T) {
		g := NewWithModel(&fakeModel{tokens: []string{"a", "b"}}, Options{})
		s, err := g.Generate(context.Background(), "c", "q")
		require.NoError(t, err)

		var calls int
		var got error = errors.New("unset")
		s.OnEnd(func(err error) {
			calls++
			got = err
		})
		_, err = s.Collect()
		require.NoError(t, err)
		s.Close()
		assert.False(t, s.Next())

		assert.Equal(t, 1, calls)
		assert.NoError(t, got)
	})

	t.Run("closed early", func(t *testing.T) {
		g := NewWithModel(&fakeModel{tokens: []string{"a"}, block: true}, Options{})
		s, err := g.Generate(context.Background(), "c", "q")
		require.NoError(t, err)

		var got error
		s.OnEnd(func(err error) { got = err })
		require.True(t, s.Next())
		s.Close()
		assert.ErrorIs(t, got, context.Canceled)
	})
}

func TestGenerate_EmptyQuestion(t *testing.T) {
	model := &fakeModel{}
	g := NewWithModel(model, Options{})
	_, err := g.Generate(context.Background(), "c", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Zero(t, model.calls.Load())
}

func TestGenerate_RateLimited(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	g := NewWithModel(&fakeModel{final: "ok"}, Options{Limiter: limiter})

	s, err := g.Generate(context.Background(), "c", "q")
	require.NoError(t, err)
	_, err = s.Collect()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.Generate(ctx, "c", "q")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "rate limiter"))
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.GeneratorConfig
		wantErr error
	}{
		{"unknown", config.GeneratorConfig{Provider: "llamacpp"}, ErrUnknownProvider},
		{"openai without key", config.GeneratorConfig{Provider: "openai", Model: "gpt-4o-mini"}, ErrMissingCredentials},
		{"anthropic without key", config.GeneratorConfig{Provider: "anthropic", Model: "claude-3-5-haiku-latest"}, ErrMissingCredentials},
		{"anthropic with base url", config.GeneratorConfig{Provider: "anthropic", Model: "claude-3-5-haiku-latest", APIKey: config.Secret("sk-ant-test"), BaseURL: "http://localhost:9000"}, ErrInvalidConfig},
		{"ollama without url", config.GeneratorConfig{Provider: "ollama", Model: "llama3.2:3b"}, ErrInvalidConfig},
		{"ollama", config.GeneratorConfig{Provider: "ollama", Model: "llama3.2:3b", BaseURL: "http://localhost:11434"}, nil},
		{"openai", config.GeneratorConfig{Provider: "openai", Model: "gpt-4o-mini", APIKey: config.Secret("sk-test"), RateLimit: 2}, nil},
		{"anthropic", config.GeneratorConfig{Provider: "anthropic", Model: "claude-3-5-haiku-latest", APIKey: config.Secret("sk-ant-test")}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := New(tt.cfg, time.Minute, nil)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.cfg.Provider, g.Provider())
			assert.Equal(t, tt.cfg.Model, g.Model())
			assert.Equal(t, tt.cfg.RateLimit > 0, g.opts.Limiter != nil)
		})
	}
}
