package ignore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected string
	}{
		{"empty line", "", ""},
		{"whitespace only", "   ", ""},
		{"comment", "# drafts", ""},
		{"negation skipped", "!keep.pdf", ""},
		{"extension glob", "*.bak", "*.bak"},
		{"anchored", "/draft.pdf", "draft.pdf"},
		{"double star prefix", "**/scan-*.pdf", "scan-*.pdf"},
		{"directory marker", "archive/", "archive"},
		{"crlf", "old.csv\r", "old.csv"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLine(tt.line))
		})
	}
}

func TestParse(t *testing.T) {
	m, err := Parse(strings.NewReader("# skip drafts\ndraft-*.pdf\n*.bak\n\n*.bak\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"draft-*.pdf", "*.bak"}, m.Patterns())

	assert.True(t, m.Match("draft-q3.pdf"))
	assert.True(t, m.Match("/data/reports/notes.bak"))
	assert.True(t, m.Match(".DS_Store"))
	assert.True(t, m.Match(FileName))
	assert.False(t, m.Match("report-q3.pdf"))
}

func TestParse_BadPattern(t *testing.T) {
	_, err := Parse(strings.NewReader("ok.pdf\n[unterminated\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	m, err := Load(dir)
	require.NoError(t, err)
	assert.Empty(t, m.Patterns())
	assert.False(t, m.Match("report.pdf"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("*.csv\n"), 0o600))
	m, err = Load(dir)
	require.NoError(t, err)
	assert.True(t, m.Match("faq.csv"))
	assert.False(t, m.Match("report.pdf"))
}
