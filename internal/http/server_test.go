package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/docqa/internal/cache"
	"github.com/fyrsmithlabs/docqa/internal/gateway"
	"github.com/fyrsmithlabs/docqa/internal/generator"
	"github.com/fyrsmithlabs/docqa/internal/orchestrator"
	"github.com/fyrsmithlabs/docqa/internal/reranker"
	"github.com/fyrsmithlabs/docqa/internal/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
)

type tokenModel struct {
	tokens []string
	err    error
}

func (m *tokenModel) GenerateContent(ctx context.Context, _ []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}
	for _, tok := range m.tokens {
		if err := opts.StreamingFunc(ctx, []byte(tok)); err != nil {
			return nil, err
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: strings.Join(m.tokens, "")}}}, nil
}

type fakePipeline struct {
	answer   *orchestrator.Answer
	model    *tokenModel
	err      error
	ws       string
	question string

	ingestMode  orchestrator.Mode
	ingestFiles []orchestrator.File
}

func (f *fakePipeline) Ask(ctx context.Context, ws, question string) (*orchestrator.Answer, error) {
	f.ws, f.question = ws, question
	if f.err != nil {
		return nil, f.err
	}
	if f.model == nil {
		return f.answer, nil
	}
	stream, err := generator.NewWithModel(f.model, generator.Options{}).Generate(ctx, "evidence", question)
	if err != nil {
		return nil, err
	}
	ans := *f.answer
	ans.Stream = stream
	return &ans, nil
}

func (f *fakePipeline) Ingest(_ context.Context, ws string, mode orchestrator.Mode, files []orchestrator.File) (*orchestrator.IngestReport, error) {
	f.ws, f.ingestMode, f.ingestFiles = ws, mode, files
	if f.err != nil {
		return nil, f.err
	}
	report := &orchestrator.IngestReport{Workspace: ws, Mode: mode}
	for _, file := range files {
		report.Files = append(report.Files, orchestrator.FileReport{Name: file.Name, Chunks: 1})
	}
	return report, nil
}

type fakeLibrary struct {
	stats gateway.Stats
	err   error
}

func (f *fakeLibrary) Stats(context.Context, string) (gateway.Stats, error) {
	return f.stats, f.err
}

func newTestServer(t *testing.T, p Pipeline, lib Library, cfg *Config) *Server {
	t.Helper()
	reg, err := workspace.NewRegistry([]string{"Default Workspace", "Finance"}, true)
	require.NoError(t, err)
	if lib == nil {
		lib = &fakeLibrary{}
	}
	s, err := NewServer(p, lib, reg, zap.NewNop(), cfg)
	require.NoError(t, err)
	return s
}

func do(t *testing.T, s *Server, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

type event struct {
	name string
	data string
}

func parseEvents(t *testing.T, body string) []event {
	t.Helper()
	var events []event
	var cur event
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			events = append(events, cur)
			cur = event{}
		}
	}
	require.NoError(t, sc.Err())
	return events
}

func TestNewServer_Validation(t *testing.T) {
	reg, err := workspace.NewRegistry([]string{"a"}, false)
	require.NoError(t, err)

	_, err = NewServer(nil, &fakeLibrary{}, reg, zap.NewNop(), nil)
	assert.Error(t, err)
	_, err = NewServer(&fakePipeline{}, nil, reg, zap.NewNop(), nil)
	assert.Error(t, err)
	_, err = NewServer(&fakePipeline{}, &fakeLibrary{}, nil, zap.NewNop(), nil)
	assert.Error(t, err)
	_, err = NewServer(&fakePipeline{}, &fakeLibrary{}, reg, nil, nil)
	assert.Error(t, err)

	s, err := NewServer(&fakePipeline{}, &fakeLibrary{}, reg, zap.NewNop(), nil)
	require.NoError(t, err)
	assert.Equal(t, 8501, s.config.Port)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, &fakePipeline{}, nil, nil)

	rec := do(t, s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = do(t, s, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestWorkspaces(t *testing.T) {
	s := newTestServer(t, &fakePipeline{}, nil, nil)

	rec := do(t, s, http.MethodGet, "/api/v1/workspaces", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp WorkspacesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []WorkspaceInfo{
		{Name: "Default Workspace", ID: "default_workspace"},
		{Name: "Finance", ID: "finance"},
	}, resp.Workspaces)
}

func TestFiles(t *testing.T) {
	lib := &fakeLibrary{stats: gateway.Stats{Collection: "docqa_docs_finance_chromem_abcd1234", Files: []string{"report_pdf"}, Chunks: 12}}
	s := newTestServer(t, &fakePipeline{}, lib, nil)

	rec := do(t, s, http.MethodGet, "/api/v1/workspaces/Finance/files", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp FilesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Finance", resp.Workspace)
	assert.Equal(t, []string{"report_pdf"}, resp.Files)
	assert.Equal(t, 12, resp.Chunks)

	lib.stats = gateway.Stats{}
	rec = do(t, s, http.MethodGet, "/api/v1/workspaces/Finance/files", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"files":[]`)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown workspace", fmt.Errorf("resolve: %w", workspace.ErrUnknownWorkspace), http.StatusNotFound},
		{"empty workspace name", workspace.ErrEmptyName, http.StatusBadRequest},
		{"orchestrator input", fmt.Errorf("%w: bad", orchestrator.ErrInvalidInput), http.StatusBadRequest},
		{"cache input", fmt.Errorf("%w: bad row", cache.ErrInvalidInput), http.StatusBadRequest},
		{"gateway input", gateway.ErrInvalidInput, http.StatusBadRequest},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"backend", errors.New("connection refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakePipeline{err: tt.err}, nil, nil)
			rec := do(t, s, http.MethodPost, "/api/v1/workspaces/Finance/ask", `{"question":"q"}`, nil)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusInternalServerError {
				assert.NotContains(t, rec.Body.String(), "connection refused")
			}
		})
	}
}

func TestAsk_RequiresQuestion(t *testing.T) {
	p := &fakePipeline{}
	s := newTestServer(t, p, nil, nil)

	rec := do(t, s, http.MethodPost, "/api/v1/workspaces/Finance/ask", `{"question":"   "}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, s, http.MethodPost, "/api/v1/workspaces/Finance/ask", `{not json`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, p.question)
}

func TestAsk_CachedIsSingleAnswerEvent(t *testing.T) {
	p := &fakePipeline{answer: &orchestrator.Answer{
		Outcome:  orchestrator.OutcomeCached,
		Text:     "line one\nline two",
		CacheHit: &cache.Hit{ID: "qa_1", Answer: "line one\nline two", Percent: 93.5},
	}}
	s := newTestServer(t, p, nil, nil)

	rec := do(t, s, http.MethodPost, "/api/v1/workspaces/Finance/ask", `{"question":"What is it?"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "Finance", p.ws)
	assert.Equal(t, "What is it?", p.question)

	events := parseEvents(t, rec.Body.String())
	require.Len(t, events, 2)
	assert.Equal(t, EventAnswer, events[0].name)
	assert.Equal(t, EventDone, events[1].name)

	var payload AnswerPayload
	require.NoError(t, json.Unmarshal([]byte(events[0].data), &payload))
	assert.Equal(t, orchestrator.OutcomeCached, payload.Outcome)
	assert.Equal(t, "line one\nline two", payload.Text)
	assert.InDelta(t, 93.5, payload.MatchPercent, 1e-9)
}

func TestAsk_NoEvidence(t *testing.T) {
	p := &fakePipeline{answer: &orchestrator.Answer{
		Outcome: orchestrator.OutcomeNoEvidence,
		Text:    orchestrator.NoEvidenceMessage,
	}}
	s := newTestServer(t, p, nil, nil)

	rec := do(t, s, http.MethodPost, "/api/v1/workspaces/Finance/ask", `{"question":"anything"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	events := parseEvents(t, rec.Body.String())
	require.Len(t, events, 2)
	var payload AnswerPayload
	require.NoError(t, json.Unmarshal([]byte(events[0].data), &payload))
	assert.Equal(t, orchestrator.NoEvidenceMessage, payload.Text)
}

func generatedAnswer() *orchestrator.Answer {
	return &orchestrator.Answer{
		Outcome: orchestrator.OutcomeGenerated,
		Relevant: []reranker.ScoredDocument{
			{Document: reranker.Document{ID: "report_pdf_3"}, RerankerScore: 0.9},
			{Document: reranker.Document{ID: "report_pdf_0"}, RerankerScore: 0.4},
		},
	}
}

func TestAsk_StreamsTokens(t *testing.T) {
	p := &fakePipeline{answer: generatedAnswer(), model: &tokenModel{tokens: []string{"The ", "answer\n", "is 42."}}}
	s := newTestServer(t, p, nil, nil)

	rec := do(t, s, http.MethodPost, "/api/v1/workspaces/Finance/ask", `{"question":"q"}`,
		map[string]string{"Accept": "text/event-stream"})
	require.Equal(t, http.StatusOK, rec.Code)

	events := parseEvents(t, rec.Body.String())
	require.Len(t, events, 5)
	assert.Equal(t, EventSources, events[0].name)

	var srcs []Source
	require.NoError(t, json.Unmarshal([]byte(events[0].data), &srcs))
	require.Len(t, srcs, 2)
	assert.Equal(t, "report_pdf", srcs[0].File)

	var got []string
	for _, ev := range events[1:4] {
		assert.Equal(t, EventToken, ev.name)
		var tok string
		require.NoError(t, json.Unmarshal([]byte(ev.data), &tok))
		got = append(got, tok)
	}
	assert.Equal(t, []string{"The ", "answer\n", "is 42."}, got)
	assert.Equal(t, EventDone, events[4].name)
}

func TestAsk_StreamFailureSendsErrorEvent(t *testing.T) {
	p := &fakePipeline{answer: generatedAnswer(), model: &tokenModel{tokens: []string{"partial"}, err: errors.New("model crashed")}}
	s := newTestServer(t, p, nil, nil)

	rec := do(t, s, http.MethodPost, "/api/v1/workspaces/Finance/ask", `{"question":"q"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	events := parseEvents(t, rec.Body.String())
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventError, last.name)
	assert.NotContains(t, last.data, "model crashed")
}

func TestAsk_JSON(t *testing.T) {
	p := &fakePipeline{answer: generatedAnswer(), model: &tokenModel{tokens: []string{"The ", "answer."}}}
	s := newTestServer(t, p, nil, nil)

	rec := do(t, s, http.MethodPost, "/api/v1/workspaces/Finance/ask", `{"question":"q"}`,
		map[string]string{"Accept": "application/json"})
	require.Equal(t, http.StatusOK, rec.Code)

	var payload AnswerPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, orchestrator.OutcomeGenerated, payload.Outcome)
	assert.Equal(t, "The answer.", payload.Text)
	assert.Len(t, payload.Sources, 2)
}

func TestIngest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "faq.csv"), []byte("question,answer\nq,a\n"), 0o600))

	p := &fakePipeline{}
	s := newTestServer(t, p, nil, nil)

	body := fmt.Sprintf(`{"mode":"cache","paths":[%q]}`, filepath.Join(dir, "faq.csv"))
	rec := do(t, s, http.MethodPost, "/api/v1/workspaces/Finance/ingest", body, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, orchestrator.ModeCache, p.ingestMode)
	require.Len(t, p.ingestFiles, 1)
	assert.Equal(t, "faq.csv", p.ingestFiles[0].Name)

	var report orchestrator.IngestReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "Finance", report.Workspace)
}

func TestIngest_BadRequests(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "doc.pdf"), []byte("%PDF"), 0o600))

	tests := []struct {
		name string
		body string
	}{
		{"unknown mode", `{"mode":"audio","paths":["doc.pdf"]}`},
		{"no paths", `{"mode":"evidence","paths":[]}`},
		{"missing file", `{"mode":"evidence","paths":["absent.pdf"]}`},
		{"escapes root", `{"mode":"evidence","paths":["../etc/passwd"]}`},
		{"absolute outside root", `{"mode":"evidence","paths":["/etc/passwd"]}`},
		{"malformed body", `{"mode":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePipeline{}
			s := newTestServer(t, p, nil, &Config{Host: "localhost", Port: 8501, IngestRoot: root})
			rec := do(t, s, http.MethodPost, "/api/v1/workspaces/Finance/ingest", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Nil(t, p.ingestFiles)
		})
	}
}

func TestIngest_RelativeToRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "doc.pdf"), []byte("%PDF"), 0o600))

	p := &fakePipeline{}
	s := newTestServer(t, p, nil, &Config{Host: "localhost", Port: 8501, IngestRoot: root})
	rec := do(t, s, http.MethodPost, "/api/v1/workspaces/Finance/ingest", `{"mode":"evidence","paths":["doc.pdf"]}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, p.ingestFiles, 1)
	assert.Equal(t, "doc.pdf", p.ingestFiles[0].Name)
}
