// Package ignore reads gitignore-style exclusion lists for directory ingestion.
//
// A directory handed to ingestion may carry a .docqaignore file. Each
// non-blank, non-comment line is a glob matched against the base name of
// every file in that directory. Negation patterns are not supported.
package ignore

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FileName is the exclusion list looked up in each ingested directory.
const FileName = ".docqaignore"

// Matcher reports whether a file should be skipped.
type Matcher struct {
	patterns []string
}

// Load reads dir/.docqaignore. A missing file yields a matcher that only
// skips hidden files.
func Load(dir string) (*Matcher, error) {
	f, err := os.Open(filepath.Join(dir, FileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Matcher{}, nil
		}
		return nil, fmt.Errorf("opening %s: %w", FileName, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads patterns from r. Malformed globs are rejected.
func Parse(r io.Reader) (*Matcher, error) {
	var patterns []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		pattern := parseLine(scanner.Text())
		if pattern == "" || seen[pattern] {
			continue
		}
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("%s line %d: bad pattern %q: %w", FileName, lineNo, pattern, err)
		}
		seen[pattern] = true
		patterns = append(patterns, pattern)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", FileName, err)
	}
	return &Matcher{patterns: patterns}, nil
}

// parseLine returns the pattern on line, or "" for blanks, comments and
// negations.
func parseLine(line string) string {
	line = strings.TrimRight(line, " \t\r")
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
		return ""
	}
	// Only one directory level is read, so anchors and directory markers
	// reduce to the base name.
	line = strings.TrimPrefix(line, "/")
	line = strings.TrimPrefix(line, "**/")
	return strings.TrimSuffix(line, "/")
}

// Patterns returns the loaded patterns in file order.
func (m *Matcher) Patterns() []string {
	out := make([]string, len(m.patterns))
	copy(out, m.patterns)
	return out
}

// Match reports whether the file called name is excluded. Hidden files,
// including the ignore file itself, always are.
func (m *Matcher) Match(name string) bool {
	name = filepath.Base(name)
	if strings.HasPrefix(name, ".") {
		return true
	}
	for _, p := range m.patterns {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
	}
	return false
}
