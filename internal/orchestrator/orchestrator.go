// Package orchestrator runs the question-answering pipeline
// (cache, retrieval, rerank, generation) and document ingestion for a
// workspace.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fyrsmithlabs/docqa/internal/cache"
	"github.com/fyrsmithlabs/docqa/internal/gateway"
	"github.com/fyrsmithlabs/docqa/internal/generator"
	"github.com/fyrsmithlabs/docqa/internal/logging"
	"github.com/fyrsmithlabs/docqa/internal/reranker"
	"github.com/fyrsmithlabs/docqa/internal/segmenter"
	"go.uber.org/zap"
)

// NoEvidenceMessage answers questions asked of a workspace with nothing
// relevant in it.
const NoEvidenceMessage = "No relevant evidence found in your workspace."

var (
	ErrInvalidConfig = errors.New("invalid orchestrator configuration")
	ErrInvalidInput  = errors.New("invalid input")
)

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Retriever stores and searches workspace evidence.
type Retriever interface {
	Upsert(ctx context.Context, chunks []segmenter.Chunk, fileName, ws string) ([]string, error)
	Query(ctx context.Context, text string, k int, ws string) ([]gateway.Candidate, error)
}

// Cache answers from curated question/answer pairs.
type Cache interface {
	Lookup(ctx context.Context, ws, query string) (cache.Hit, bool, error)
	InsertMany(ctx context.Context, ws string, entries []cache.Entry) (int, error)
}

// Segmenter turns PDFs into chunks.
type Segmenter interface {
	ExtractPDF(ctx context.Context, r io.ReaderAt, size int64, fileName string) ([]segmenter.Page, error)
	Split(pages []segmenter.Page) ([]segmenter.Chunk, error)
}

// Generator streams answers.
type Generator interface {
	Generate(ctx context.Context, evidence, question string) (*generator.Stream, error)
}

// Deps are the pipeline components.
type Deps struct {
	Retriever Retriever
	Cache     Cache
	Segmenter Segmenter
	Reranker  reranker.Reranker
	Generator Generator
	Logger    *logging.Logger
}

// Options tune the pipeline.
type Options struct {
	// Candidates is how many passages vector search returns.
	Candidates int
	// TopK is how many passages survive reranking.
	TopK int
	// Concurrency bounds how many files are ingested at once.
	Concurrency int
}

// Orchestrator coordinates the pipeline components.
type Orchestrator struct {
	retriever Retriever
	cache     Cache
	segmenter Segmenter
	reranker  reranker.Reranker
	generator Generator
	opts      Options
	logger    *logging.Logger
}

// New validates deps and applies option defaults.
func New(deps Deps, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Retriever == nil:
		return nil, fmt.Errorf("%w: retriever is required", ErrInvalidConfig)
	case deps.Cache == nil:
		return nil, fmt.Errorf("%w: cache is required", ErrInvalidConfig)
	case deps.Segmenter == nil:
		return nil, fmt.Errorf("%w: segmenter is required", ErrInvalidConfig)
	case deps.Reranker == nil:
		return nil, fmt.Errorf("%w: reranker is required", ErrInvalidConfig)
	case deps.Generator == nil:
		return nil, fmt.Errorf("%w: generator is required", ErrInvalidConfig)
	}
	if opts.Candidates <= 0 {
		opts.Candidates = 10
	}
	if opts.TopK <= 0 {
		opts.TopK = reranker.DefaultTopK
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	return &Orchestrator{
		retriever: deps.Retriever,
		cache:     deps.Cache,
		segmenter: deps.Segmenter,
		reranker:  deps.Reranker,
		generator: deps.Generator,
		opts:      opts,
		logger:    deps.Logger.Named("orchestrator"),
	}, nil
}

// Answer is the result of Ask. Text is set for cached and no-evidence
// answers; Stream is set for generated ones and must be drained or closed.
type Answer struct {
	Outcome    Outcome
	Text       string
	Stream     *generator.Stream
	CacheHit   *cache.Hit
	Candidates []gateway.Candidate
	Relevant   []reranker.ScoredDocument
	// Context is the evidence passed to the generator.
	Context string
	// Trace lists the states visited. For a generated answer it ends at
	// StateStreamOut until the stream has been read to a clean end.
	Trace []State
}

// Ask answers question from workspace ws.
func (o *Orchestrator) Ask(ctx context.Context, ws, question string) (ans *Answer, err error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, invalidInput("question is empty")
	}
	ctx = logging.WithWorkspace(ctx, ws)

	ans = &Answer{Trace: []State{StateStart}}
	defer func() {
		if err != nil {
			AsksTotal.WithLabelValues("error").Inc()
			return
		}
		AsksTotal.WithLabelValues(string(ans.Outcome)).Inc()
	}()

	ans.Trace = append(ans.Trace, StateCacheLookup)
	start := time.Now()
	hit, ok, cerr := o.cache.Lookup(ctx, ws, question)
	observeStage(StateCacheLookup, start)
	switch {
	case cerr != nil:
		CacheErrorsTotal.Inc()
		o.logger.Warn(ctx, "cache lookup failed, continuing without cache", zap.Error(cerr))
	case ok:
		ans.Trace = append(ans.Trace, StateReturnCached, StateDone)
		ans.Outcome = OutcomeCached
		ans.Text = hit.Answer
		ans.CacheHit = &hit
		o.logger.Info(ctx, "answered from cache", zap.String("entry", hit.ID), zap.Float64("percent", hit.Percent))
		return ans, nil
	}

	ans.Trace = append(ans.Trace, StateVectorQuery)
	start = time.Now()
	candidates, err := o.retriever.Query(ctx, question, o.opts.Candidates, ws)
	observeStage(StateVectorQuery, start)
	if err != nil {
		return nil, fmt.Errorf("querying evidence: %w", err)
	}
	ans.Candidates = candidates
	if len(candidates) == 0 {
		ans.Trace = append(ans.Trace, StateNoEvidence, StateDone)
		ans.Outcome = OutcomeNoEvidence
		ans.Text = NoEvidenceMessage
		o.logger.Info(ctx, "no evidence for question")
		return ans, nil
	}

	ans.Trace = append(ans.Trace, StateRerank)
	docs := make([]reranker.Document, len(candidates))
	for i, c := range candidates {
		docs[i] = reranker.Document{ID: c.ID, Content: c.Text, Score: c.Score, Metadata: c.Metadata}
	}
	start = time.Now()
	relevant, err := o.reranker.Rerank(ctx, question, docs, o.opts.TopK)
	observeStage(StateRerank, start)
	if err != nil {
		return nil, fmt.Errorf("reranking: %w", err)
	}
	ans.Relevant = relevant
	ans.Context = joinContext(relevant)

	ans.Trace = append(ans.Trace, StateGenerate)
	start = time.Now()
	stream, err := o.generator.Generate(ctx, ans.Context, question)
	observeStage(StateGenerate, start)
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}

	ans.Trace = append(ans.Trace, StateStreamOut)
	ans.Outcome = OutcomeGenerated
	ans.Stream = stream
	streamStart := time.Now()
	stream.OnEnd(func(serr error) {
		observeStage(StateStreamOut, streamStart)
		if serr == nil {
			ans.Trace = append(ans.Trace, StateDone)
		}
	})
	o.logger.Debug(ctx, "streaming generated answer",
		zap.Int("candidates", len(candidates)),
		zap.Int("relevant", len(relevant)),
	)
	return ans, nil
}

// joinContext concatenates reranked passages, best first.
func joinContext(docs []reranker.ScoredDocument) string {
	parts := make([]string, len(docs))
	for i, d := range docs {
		parts[i] = d.Content
	}
	return strings.Join(parts, "\n\n")
}
