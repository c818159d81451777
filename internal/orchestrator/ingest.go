package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fyrsmithlabs/docqa/internal/cache"
	"github.com/fyrsmithlabs/docqa/internal/ignore"
	"github.com/fyrsmithlabs/docqa/internal/logging"
	"github.com/fyrsmithlabs/docqa/internal/segmenter"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// File is an uploaded document.
type File struct {
	Name string
	Data []byte
}

// ReadFile loads the file at path, named by its base name.
func ReadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return File{Name: filepath.Base(path), Data: data}, nil
}

// ReadFiles loads every path. A directory contributes its regular files,
// non-recursively, in name order, minus hidden files and those excluded by
// its .docqaignore.
func ReadFiles(paths []string) ([]File, error) {
	var files []File
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		if !info.IsDir() {
			f, err := ReadFile(p)
			if err != nil {
				return nil, err
			}
			files = append(files, f)
			continue
		}
		skip, err := ignore.Load(p)
		if err != nil {
			return nil, fmt.Errorf("reading directory %s: %w", p, err)
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("reading directory %s: %w", p, err)
		}
		for _, e := range entries {
			if !e.Type().IsRegular() || skip.Match(e.Name()) {
				continue
			}
			f, err := ReadFile(filepath.Join(p, e.Name()))
			if err != nil {
				return nil, err
			}
			files = append(files, f)
		}
	}
	return files, nil
}

func (f File) ext() string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(f.Name), "."))
}

// FileReport describes one ingested file.
type FileReport struct {
	Name string `json:"name"`
	// Chunks is the number of evidence chunks stored.
	Chunks int `json:"chunks,omitempty"`
	// Entries and SkippedRows describe a cache CSV.
	Entries     int `json:"entries,omitempty"`
	SkippedRows int `json:"skipped_rows,omitempty"`
}

// IngestReport summarizes an ingestion.
type IngestReport struct {
	Workspace string        `json:"workspace"`
	Mode      Mode          `json:"mode"`
	Files     []FileReport  `json:"files"`
	Ignored   []string      `json:"ignored,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Ingest stores files in workspace ws. Evidence mode accepts PDFs only and
// cache mode loads every CSV, ignoring other files. The batch is validated
// and every PDF is parsed before anything is written, so malformed input
// leaves the workspace untouched.
func (o *Orchestrator) Ingest(ctx context.Context, ws string, mode Mode, files []File) (*IngestReport, error) {
	start := time.Now()
	ctx = logging.WithWorkspace(ctx, ws)

	selected, ignored, err := selectFiles(mode, files)
	if err != nil {
		return nil, err
	}

	report := &IngestReport{Workspace: ws, Mode: mode, Ignored: ignored}
	switch mode {
	case ModeEvidence:
		report.Files, err = o.ingestEvidence(ctx, ws, selected)
	case ModeCache:
		report.Files, err = o.ingestCache(ctx, ws, selected)
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	IngestedFilesTotal.WithLabelValues(string(mode), result).Add(float64(len(selected)))
	if err != nil {
		return nil, err
	}

	report.Duration = time.Since(start)
	o.logger.Info(ctx, "ingestion complete",
		zap.String("mode", string(mode)),
		zap.Int("files", len(report.Files)),
		zap.Strings("ignored", ignored),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// selectFiles enforces the per-mode file rules.
func selectFiles(mode Mode, files []File) (selected []File, ignored []string, err error) {
	if len(files) == 0 {
		return nil, nil, invalidInput("no files to ingest")
	}
	for _, f := range files {
		if f.Name == "" {
			return nil, nil, invalidInput("file without a name")
		}
	}

	switch mode {
	case ModeEvidence:
		for _, f := range files {
			switch f.ext() {
			case "pdf":
				selected = append(selected, f)
			case "csv":
				return nil, nil, invalidInput("CSV files are only allowed for cache ingestion: %s", f.Name)
			default:
				return nil, nil, invalidInput("unsupported evidence file %s (only PDF)", f.Name)
			}
		}
		if len(selected) == 0 {
			return nil, nil, invalidInput("evidence ingestion requires at least one PDF")
		}
	case ModeCache:
		for _, f := range files {
			if f.ext() == "csv" {
				selected = append(selected, f)
			} else {
				ignored = append(ignored, f.Name)
			}
		}
		if len(selected) == 0 {
			return nil, nil, invalidInput("no CSV file found for cache ingestion")
		}
	default:
		return nil, nil, invalidInput("unknown ingest mode %q", mode)
	}
	return selected, ignored, nil
}

func (o *Orchestrator) ingestEvidence(ctx context.Context, ws string, files []File) ([]FileReport, error) {
	chunks := make([][]segmenter.Chunk, len(files))

	// Parse everything first.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Concurrency)
	for i, f := range files {
		g.Go(func() error {
			pages, err := o.segmenter.ExtractPDF(gctx, bytes.NewReader(f.Data), int64(len(f.Data)), f.Name)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidInput, err)
			}
			c, err := o.segmenter.Split(pages)
			if err != nil {
				return fmt.Errorf("segmenting %s: %w", f.Name, err)
			}
			if len(c) == 0 {
				o.logger.Warn(gctx, "no extractable text", zap.String("file", f.Name))
			}
			chunks[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	reports := make([]FileReport, len(files))
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Concurrency)
	for i, f := range files {
		g.Go(func() error {
			ids, err := o.retriever.Upsert(gctx, chunks[i], f.Name, ws)
			if err != nil {
				return fmt.Errorf("storing %s: %w", f.Name, err)
			}
			reports[i] = FileReport{Name: f.Name, Chunks: len(ids)}
			IngestedItemsTotal.WithLabelValues(string(ModeEvidence)).Add(float64(len(ids)))
			o.logger.Debug(gctx, "file ingested", zap.String("file", f.Name), zap.Int("chunks", len(ids)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

func (o *Orchestrator) ingestCache(ctx context.Context, ws string, files []File) ([]FileReport, error) {
	parsed := make([]cache.ParsedCSV, len(files))
	for i, f := range files {
		p, err := cache.ParseCSV(bytes.NewReader(f.Data))
		if err != nil {
			return nil, fmt.Errorf("%w: parsing %s: %w", ErrInvalidInput, f.Name, err)
		}
		parsed[i] = p
	}

	reports := make([]FileReport, 0, len(files))
	for i, f := range files {
		n, err := o.cache.InsertMany(ctx, ws, parsed[i].Entries)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", f.Name, err)
		}
		IngestedItemsTotal.WithLabelValues(string(ModeCache)).Add(float64(n))
		reports = append(reports, FileReport{Name: f.Name, Entries: n, SkippedRows: parsed[i].Skipped})
	}
	return reports, nil
}
