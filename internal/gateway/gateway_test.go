package gateway

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/fyrsmithlabs/docqa/internal/segmenter"
	"github.com/fyrsmithlabs/docqa/internal/vectorstore"
	"github.com/fyrsmithlabs/docqa/internal/vectorstore/vectorstoretest"
	"github.com/fyrsmithlabs/docqa/internal/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) vectorstore.Store {
	t.Helper()
	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{Path: t.TempDir()}, vectorstoretest.NewHashEmbedder(64), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestGateway(t *testing.T, store vectorstore.Store, backend string) *Gateway {
	t.Helper()
	g, err := New(Config{Store: store, Backend: backend, Model: "test-model"})
	require.NoError(t, err)
	return g
}

func chunks(texts ...string) []segmenter.Chunk {
	out := make([]segmenter.Chunk, len(texts))
	for i, text := range texts {
		out[i] = segmenter.Chunk{Text: text, Metadata: map[string]any{"source": "doc", "page": i}}
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Backend: "ollama", Model: "m"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(Config{Store: newTestStore(t), Model: "m"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestGateway_UpsertAssignsChunkIDs(t *testing.T) {
	g := newTestGateway(t, newTestStore(t), "ollama")

	ids, err := g.Upsert(context.Background(), chunks("one", "two", "three"), "Annual Report-2024.pdf", "Default Workspace")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Annual_Report_2024_pdf_0",
		"Annual_Report_2024_pdf_1",
		"Annual_Report_2024_pdf_2",
	}, ids)
}

func TestGateway_UpsertNoChunks(t *testing.T) {
	g := newTestGateway(t, newTestStore(t), "ollama")

	ids, err := g.Upsert(context.Background(), nil, "empty.pdf", "ws")
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = g.Upsert(context.Background(), chunks("x"), "", "ws")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestGateway_SingleChunkQuery(t *testing.T) {
	g := newTestGateway(t, newTestStore(t), "ollama")
	ctx := context.Background()

	_, err := g.Upsert(ctx, chunks("Alpha. Beta. Gamma."), "greek.pdf", "ws")
	require.NoError(t, err)

	got, err := g.Query(ctx, "beta", 10, "ws")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "greek_pdf_0", got[0].ID)
	assert.Equal(t, "Alpha. Beta. Gamma.", got[0].Text)
}

func TestGateway_ReingestIsIdempotent(t *testing.T) {
	g := newTestGateway(t, newTestStore(t), "ollama")
	ctx := context.Background()

	first, err := g.Upsert(ctx, chunks("a b", "c d", "e f"), "manual.pdf", "ws")
	require.NoError(t, err)
	before, err := g.Stats(ctx, "ws")
	require.NoError(t, err)

	second, err := g.Upsert(ctx, chunks("a b", "c d", "e f"), "manual.pdf", "ws")
	require.NoError(t, err)
	after, err := g.Stats(ctx, "ws")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, before.Chunks, after.Chunks)
	assert.Equal(t, 3, after.Chunks)
}

func TestGateway_Files(t *testing.T) {
	g := newTestGateway(t, newTestStore(t), "ollama")
	ctx := context.Background()

	files, err := g.Files(ctx, "ws")
	require.NoError(t, err)
	assert.Empty(t, files, "unknown workspace has no files")

	_, err = g.Upsert(ctx, chunks("one", "two"), "zeta.pdf", "ws")
	require.NoError(t, err)
	_, err = g.Upsert(ctx, chunks("three"), "alpha notes.pdf", "ws")
	require.NoError(t, err)

	st, err := g.Stats(ctx, "ws")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha_notes_pdf", "zeta_pdf"}, st.Files)
	assert.Equal(t, 3, st.Chunks)
}

func TestGateway_WorkspaceIsolation(t *testing.T) {
	g := newTestGateway(t, newTestStore(t), "ollama")
	ctx := context.Background()

	_, err := g.Upsert(ctx, chunks("quarterly revenue grew"), "finance.pdf", "Finance")
	require.NoError(t, err)

	got, err := g.Query(ctx, "revenue", 10, "Legal")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGateway_BackendIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	a := newTestGateway(t, store, "ollama")
	b := newTestGateway(t, store, "openai")

	_, err := a.Upsert(ctx, chunks("shared text about cats"), "pets.pdf", "ws")
	require.NoError(t, err)

	got, err := b.Query(ctx, "cats", 10, "ws")
	require.NoError(t, err)
	assert.Empty(t, got, "a collection built by one backend is invisible to another")

	got, err = a.Query(ctx, "cats", 10, "ws")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	ca, err := a.Collection(workspace.KindDocs, "ws")
	require.NoError(t, err)
	cb, err := b.Collection(workspace.KindDocs, "ws")
	require.NoError(t, err)
	assert.NotEqual(t, ca, cb)
}

func TestGateway_StrictRegistry(t *testing.T) {
	reg, err := workspace.NewRegistry([]string{"Default Workspace"}, true)
	require.NoError(t, err)
	g, err := New(Config{Store: newTestStore(t), Registry: reg, Backend: "ollama", Model: "m"})
	require.NoError(t, err)

	_, err = g.Query(context.Background(), "q", 1, "Other")
	assert.ErrorIs(t, err, workspace.ErrUnknownWorkspace)

	_, err = g.Query(context.Background(), "q", 1, "default workspace")
	assert.NoError(t, err)
}

func TestGateway_QueryValidation(t *testing.T) {
	g := newTestGateway(t, newTestStore(t), "ollama")

	_, err := g.Query(context.Background(), "", 3, "ws")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = g.Query(context.Background(), "q", 0, "ws")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = g.Query(context.Background(), "q", 3, "   ")
	assert.ErrorIs(t, err, workspace.ErrEmptyName)
}

func TestGateway_ConcurrentUpsertSameFile(t *testing.T) {
	g := newTestGateway(t, newTestStore(t), "ollama")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := g.Upsert(ctx, chunks(fmt.Sprintf("version %d", i), "tail"), "race.pdf", "ws")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	st, err := g.Stats(ctx, "ws")
	require.NoError(t, err)
	assert.Equal(t, 2, st.Chunks)
	assert.Zero(t, g.locks.size(), "lock entries are released")
}

func TestKeyedMutex_OverlappingBatches(t *testing.T) {
	k := newKeyedMutex()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			keys := []string{"a", "b", "c"}
			if i%2 == 0 {
				keys = []string{"c", "b", "a", "a"}
			}
			unlock := k.LockAll(keys)
			counter++
			unlock()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Zero(t, k.size())
}
