// Package segmenter extracts text from PDF evidence and splits it into
// overlapping chunks for embedding.
package segmenter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fyrsmithlabs/docqa/internal/config"
	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
	"go.uber.org/zap"
)

// Metadata keys attached to every page and chunk.
const (
	MetaSource     = "source"
	MetaPage       = "page"
	MetaTotalPages = "total_pages"
)

// Separators are tried in order, from paragraph breaks down to single characters.
var Separators = []string{"\n\n", "\n", ".", "?", "!", " ", ""}

var ErrInvalidConfig = errors.New("invalid segmenter config")

// Page is the extracted text of one PDF page. Number is 0-based.
type Page struct {
	Source string
	Number int
	Total  int
	Text   string
}

// Chunk is a span of page text with its provenance.
type Chunk struct {
	Text     string
	Metadata map[string]any
}

// Segmenter splits extracted text into chunks.
type Segmenter struct {
	splitter textsplitter.RecursiveCharacter
	logger   *zap.Logger
}

// New creates a Segmenter. Overlap must be smaller than the chunk size.
func New(cfg config.SegmenterConfig, logger *zap.Logger) (*Segmenter, error) {
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, cfg.ChunkSize)
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("%w: chunk overlap %d must be in [0, %d)", ErrInvalidConfig, cfg.ChunkOverlap, cfg.ChunkSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Segmenter{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(cfg.ChunkSize),
			textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
			textsplitter.WithSeparators(Separators),
		),
		logger: logger,
	}, nil
}

// ExtractPDF reads the text of every page in r. Pages without text are kept
// so page numbering stays aligned with the document.
func (s *Segmenter) ExtractPDF(ctx context.Context, r io.ReaderAt, size int64, fileName string) ([]Page, error) {
	docs, err := documentloaders.NewPDF(r, size).Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("extracting %s: %w", fileName, err)
	}

	pages := make([]Page, 0, len(docs))
	for i, doc := range docs {
		p := Page{Source: fileName, Number: i, Total: len(docs), Text: doc.PageContent}
		// The loader numbers pages from 1.
		if n, ok := doc.Metadata[MetaPage].(int); ok {
			p.Number = n - 1
		}
		if n, ok := doc.Metadata[MetaTotalPages].(int); ok {
			p.Total = n
		}
		pages = append(pages, p)
	}
	s.logger.Debug("pdf extracted", zap.String("file", fileName), zap.Int("pages", len(pages)))
	return pages, nil
}

// Split chunks every page. Text with no extractable content yields no chunks.
func (s *Segmenter) Split(pages []Page) ([]Chunk, error) {
	docs := make([]schema.Document, 0, len(pages))
	for _, p := range pages {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		docs = append(docs, schema.Document{
			PageContent: p.Text,
			Metadata: map[string]any{
				MetaSource:     p.Source,
				MetaPage:       p.Number,
				MetaTotalPages: p.Total,
			},
		})
	}
	if len(docs) == 0 {
		return nil, nil
	}

	split, err := textsplitter.SplitDocuments(s.splitter, docs)
	if err != nil {
		return nil, fmt.Errorf("splitting documents: %w", err)
	}

	chunks := make([]Chunk, 0, len(split))
	for _, d := range split {
		if strings.TrimSpace(d.PageContent) == "" {
			continue
		}
		chunks = append(chunks, Chunk{Text: d.PageContent, Metadata: d.Metadata})
	}
	return chunks, nil
}

// SplitText chunks a single string with no page provenance.
func (s *Segmenter) SplitText(source, text string) ([]Chunk, error) {
	return s.Split([]Page{{Source: source, Total: 1, Text: text}})
}
