package cache

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fyrsmithlabs/docqa/internal/vectorstore"
	"github.com/fyrsmithlabs/docqa/internal/workspace"
	"go.uber.org/zap"
)

const csvBatchSize = 100

// Entry is a question/answer pair.
type Entry struct {
	Question string
	Answer   string
}

// ParsedCSV holds the usable rows of a cache CSV.
type ParsedCSV struct {
	Entries []Entry
	// Skipped counts rows missing a question or an answer.
	Skipped int
}

// ImportResult reports the outcome of a CSV import.
type ImportResult struct {
	Loaded  int
	Skipped int
}

// ParseCSV reads question/answer rows. The header must name a "question"
// and an "answer" column (case-insensitive). Rows missing either value are
// skipped. Questions repeated within the file keep the last answer, in the
// position of their first occurrence.
func ParseCSV(r io.Reader) (ParsedCSV, error) {
	var out ParsedCSV

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return out, fmt.Errorf("%w: csv is empty", ErrInvalidInput)
	}
	if err != nil {
		return out, fmt.Errorf("%w: reading csv header: %w", ErrInvalidInput, err)
	}
	qCol, aCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case "question":
			qCol = i
		case "answer":
			aCol = i
		}
	}
	if qCol < 0 || aCol < 0 {
		return out, fmt.Errorf("%w: csv header must contain question and answer columns, got %v", ErrInvalidInput, header)
	}

	index := make(map[string]int)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("%w: reading csv line %d: %w", ErrInvalidInput, line, err)
		}
		if qCol >= len(record) || aCol >= len(record) {
			out.Skipped++
			continue
		}
		e := Entry{Question: record[qCol], Answer: record[aCol]}
		if strings.TrimSpace(e.Question) == "" || strings.TrimSpace(e.Answer) == "" {
			out.Skipped++
			continue
		}
		if i, ok := index[e.Question]; ok {
			out.Entries[i] = e
			continue
		}
		index[e.Question] = len(out.Entries)
		out.Entries = append(out.Entries, e)
	}
	return out, nil
}

// LoadCSV imports question/answer rows from r and returns the number loaded.
func (c *Cache) LoadCSV(ctx context.Context, ws string, r io.Reader) (int, error) {
	res, err := c.ImportCSV(ctx, ws, r)
	return res.Loaded, err
}

// ImportCSV parses r and stores its entries.
func (c *Cache) ImportCSV(ctx context.Context, ws string, r io.Reader) (ImportResult, error) {
	parsed, err := ParseCSV(r)
	if err != nil {
		return ImportResult{}, err
	}
	n, err := c.InsertMany(ctx, ws, parsed.Entries)
	res := ImportResult{Loaded: n, Skipped: parsed.Skipped}
	if err != nil {
		return res, err
	}
	c.logger.Info("imported cache csv",
		zap.Int("loaded", res.Loaded),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

// InsertMany stores entries in batches and returns how many were stored.
func (c *Cache) InsertMany(ctx context.Context, ws string, entries []Entry) (int, error) {
	docs := make([]vectorstore.Document, 0, len(entries))
	for _, e := range entries {
		doc, err := entry(e.Question, e.Answer)
		if err != nil {
			return 0, err
		}
		docs = append(docs, doc)
	}

	stored := 0
	for start := 0; start < len(docs); start += csvBatchSize {
		end := min(start+csvBatchSize, len(docs))
		if _, err := c.index.UpsertDocuments(ctx, workspace.KindCache, ws, docs[start:end]); err != nil {
			return stored, fmt.Errorf("storing cache entries: %w", err)
		}
		stored += end - start
	}
	return stored, nil
}
