package segmenter

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/fyrsmithlabs/docqa/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSegmenter(t *testing.T) *Segmenter {
	t.Helper()
	s, err := New(config.SegmenterConfig{ChunkSize: 400, ChunkOverlap: 100}, nil)
	require.NoError(t, err)
	return s
}

func TestNew_RejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.SegmenterConfig
	}{
		{"zero size", config.SegmenterConfig{ChunkSize: 0, ChunkOverlap: 0}},
		{"overlap equals size", config.SegmenterConfig{ChunkSize: 100, ChunkOverlap: 100}},
		{"negative overlap", config.SegmenterConfig{ChunkSize: 100, ChunkOverlap: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, nil)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestSplitText_ShortDocumentIsOneChunk(t *testing.T) {
	s := newTestSegmenter(t)

	chunks, err := s.SplitText("abc.pdf", "Alpha. Beta. Gamma.")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Text, "Alpha. Beta. Gamma")
	assert.Equal(t, "abc.pdf", chunks[0].Metadata[MetaSource])
}

func TestSplit_EmptyTextYieldsNoChunks(t *testing.T) {
	s := newTestSegmenter(t)

	chunks, err := s.Split([]Page{
		{Source: "scan.pdf", Number: 0, Total: 2, Text: ""},
		{Source: "scan.pdf", Number: 1, Total: 2, Text: "  \n\n "},
	})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplit_CoversAllText(t *testing.T) {
	s := newTestSegmenter(t)

	var b strings.Builder
	var words []string
	for i := 0; i < 300; i++ {
		w := fmt.Sprintf("word%03d", i)
		words = append(words, w)
		b.WriteString(w)
		if i%12 == 11 {
			b.WriteString(".\n")
		} else {
			b.WriteString(" ")
		}
	}

	chunks, err := s.SplitText("long.pdf", b.String())
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), 400)
	}
	for _, w := range words {
		found := false
		for _, c := range chunks {
			if strings.Contains(c.Text, w) {
				found = true
				break
			}
		}
		assert.True(t, found, "word %s not covered by any chunk", w)
	}
}

func TestSplit_ConsecutiveChunksOverlap(t *testing.T) {
	s := newTestSegmenter(t)

	text := strings.Repeat("lorem ipsum dolor sit amet ", 60)
	chunks, err := s.SplitText("lorem.pdf", text)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i := 1; i < len(chunks); i++ {
		prev := strings.Fields(chunks[i-1].Text)
		tail := prev[len(prev)-1]
		assert.Contains(t, chunks[i].Text, tail)
	}
}

func TestSplit_CarriesPageMetadata(t *testing.T) {
	s := newTestSegmenter(t)

	chunks, err := s.Split([]Page{
		{Source: "r.pdf", Number: 0, Total: 2, Text: "First page text."},
		{Source: "r.pdf", Number: 1, Total: 2, Text: "Second page text."},
	})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 0, chunks[0].Metadata[MetaPage])
	assert.Equal(t, 1, chunks[1].Metadata[MetaPage])
	assert.Equal(t, 2, chunks[1].Metadata[MetaTotalPages])
}

func TestExtractPDF_InvalidInput(t *testing.T) {
	s := newTestSegmenter(t)

	data := []byte("this is not a pdf")
	_, err := s.ExtractPDF(context.Background(), bytes.NewReader(data), int64(len(data)), "bad.pdf")
	assert.Error(t, err)
}
