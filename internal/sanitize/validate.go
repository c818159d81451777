// Package sanitize validates untrusted input that names server-local files.
package sanitize

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrEmptyPath indicates an empty path was provided.
	ErrEmptyPath = errors.New("path cannot be empty")

	// ErrPathTraversal indicates a path contains a ".." element or leaves
	// the allowed root.
	ErrPathTraversal = errors.New("path contains directory traversal")
)

// ValidatePath cleans path and returns it as an absolute path.
//
// A ".." element anywhere in path is rejected outright. When allowedRoot is
// set, relative paths are resolved against it and the result must stay
// inside it, also after following symlinks; otherwise relative paths resolve
// against the working directory.
func ValidatePath(path, allowedRoot string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", ErrEmptyPath
	}
	for _, elem := range strings.Split(filepath.ToSlash(path), "/") {
		if elem == ".." {
			return "", fmt.Errorf("%w: %q", ErrPathTraversal, path)
		}
	}

	if allowedRoot == "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to resolve path: %w", err)
		}
		return abs, nil
	}

	root, err := filepath.Abs(allowedRoot)
	if err != nil {
		return "", fmt.Errorf("failed to resolve allowed root: %w", err)
	}
	abs := filepath.Clean(path)
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, abs)
	}
	if !within(root, abs) || !within(resolveExisting(root), resolveExisting(abs)) {
		return "", fmt.Errorf("%w: %q escapes %s", ErrPathTraversal, path, root)
	}
	return abs, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// resolveExisting follows symlinks in the longest existing prefix of path
// and appends the part that does not exist yet.
func resolveExisting(path string) string {
	rest := ""
	for cur := path; ; {
		if resolved, err := filepath.EvalSymlinks(cur); err == nil {
			return filepath.Join(resolved, rest)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return path
		}
		rest = filepath.Join(filepath.Base(cur), rest)
		cur = parent
	}
}
