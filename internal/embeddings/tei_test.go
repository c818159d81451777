package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTEIServer(t *testing.T, handler http.HandlerFunc) *TEIProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := NewTEIProvider(TEIConfig{BaseURL: srv.URL + "/", Model: "BAAI/bge-small-en-v1.5"})
	require.NoError(t, err)
	return p
}

func TestNewTEIProvider_RequiresBaseURL(t *testing.T) {
	_, err := NewTEIProvider(TEIConfig{})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestTEIProvider_EmbedDocuments(t *testing.T) {
	var got teiRequest
	p := newTEIServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embed", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode([][]float32{{1, 0, 0}, {0, 1, 0}})
	})

	vectors, err := p.EmbedDocuments(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	assert.Len(t, vectors, 2)
	assert.True(t, got.Truncate)
	assert.Equal(t, []any{"alpha", "beta"}, got.Inputs)
	assert.Equal(t, 3, p.Dimension())
}

func TestTEIProvider_EmbedQuery(t *testing.T) {
	p := newTEIServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req teiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "what is go", req.Inputs)
		_ = json.NewEncoder(w).Encode([][]float32{{0.5, 0.5}})
	})

	vector, err := p.EmbedQuery(context.Background(), "what is go")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5}, vector)
}

func TestTEIProvider_Errors(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		p := newTEIServer(t, func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("server must not be called")
		})
		_, err := p.EmbedDocuments(context.Background(), nil)
		assert.ErrorIs(t, err, ErrEmptyInput)
		_, err = p.EmbedQuery(context.Background(), "")
		assert.ErrorIs(t, err, ErrEmptyInput)
	})

	t.Run("server error", func(t *testing.T) {
		p := newTEIServer(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model overloaded", http.StatusServiceUnavailable)
		})
		_, err := p.EmbedDocuments(context.Background(), []string{"a"})
		require.ErrorIs(t, err, ErrEmbeddingFailed)
		assert.Contains(t, err.Error(), "503")
		assert.Contains(t, err.Error(), "model overloaded")
	})

	t.Run("vector count mismatch", func(t *testing.T) {
		p := newTEIServer(t, func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode([][]float32{{1}})
		})
		_, err := p.EmbedDocuments(context.Background(), []string{"a", "b"})
		assert.ErrorIs(t, err, ErrEmbeddingFailed)
	})

	t.Run("bad json", func(t *testing.T) {
		p := newTEIServer(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("not json"))
		})
		_, err := p.EmbedQuery(context.Background(), "a")
		assert.ErrorIs(t, err, ErrEmbeddingFailed)
	})

	t.Run("cancelled context", func(t *testing.T) {
		p := newTEIServer(t, func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode([][]float32{{1}})
		})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := p.EmbedQuery(ctx, "a")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestTEIProvider_BearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer hf_secret", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode([][]float32{{1}})
	}))
	defer srv.Close()

	p, err := NewTEIProvider(TEIConfig{BaseURL: srv.URL, APIKey: "hf_secret"})
	require.NoError(t, err)
	_, err = p.EmbedQuery(context.Background(), "q")
	require.NoError(t, err)
}

func TestWithTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	tei, err := NewTEIProvider(TEIConfig{BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Same(t, Provider(tei), WithTimeout(tei, 0))

	p := WithTimeout(tei, 20*time.Millisecond)
	_, err = p.EmbedQuery(context.Background(), "slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
