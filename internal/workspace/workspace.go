// Package workspace normalizes workspace and file names and derives the
// storage collection names that keep workspaces isolated from each other.
package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Kind is the type of data a collection holds.
type Kind string

const (
	// KindDocs holds evidence chunks.
	KindDocs Kind = "docs"
	// KindCache holds question/answer cache entries.
	KindCache Kind = "cache"
)

const (
	collectionPrefix = "docqa"
	maxCollectionLen = 64
	modelHashLen     = 8
	nameHashLen      = 8
)

var (
	ErrEmptyName          = errors.New("workspace name is empty")
	ErrUnknownWorkspace   = errors.New("unknown workspace")
	ErrWorkspaceCollision = errors.New("workspace names collide after normalization")
	ErrInvalidKind        = errors.New("invalid collection kind")
)

var (
	invalidIdentChars = regexp.MustCompile(`[^a-z0-9_]`)
	validCollection   = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)
	fileNameReplacer  = strings.NewReplacer("-", "_", ".", "_", " ", "_")
)

// Normalize lowercases and trims name, then replaces spaces with underscores.
func Normalize(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// Identifier reduces name to the collection-safe alphabet [a-z0-9_]. When
// characters outside that alphabet had to be replaced, a hash of the
// normalized name is appended so that distinct names stay distinct.
func Identifier(name string) (string, error) {
	n := Normalize(name)
	if n == "" {
		return "", ErrEmptyName
	}
	id := invalidIdentChars.ReplaceAllString(n, "_")
	if id != n {
		id += "_" + shortHash(n, nameHashLen)
	}
	return id, nil
}

func shortHash(s string, n int) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:n]
}

// NormalizeFileName replaces '-', '.' and ' ' with '_' so the name can prefix
// chunk identifiers.
func NormalizeFileName(name string) string {
	return fileNameReplacer.Replace(strings.TrimSpace(name))
}

// ChunkID returns the deterministic identifier of the idx'th chunk of a file.
func ChunkID(normalizedFile string, idx int) string {
	return fmt.Sprintf("%s_%d", normalizedFile, idx)
}

// FileFromChunkID recovers the normalized file name from a chunk identifier.
func FileFromChunkID(id string) string {
	i := strings.LastIndex(id, "_")
	if i < 0 {
		return id
	}
	return id[:i]
}

// ModelHash returns the first 8 hex chars of the SHA-256 of model.
func ModelHash(model string) string {
	return shortHash(model, modelHashLen)
}

// CollectionName returns docqa_{kind}_{workspace}_{backend}_{modelhash}.
// A workspace segment too long to fit in 64 characters is cut short and
// ends with a hash of the whole identifier.
func CollectionName(kind Kind, workspaceID, backend, model string) (string, error) {
	if kind != KindDocs && kind != KindCache {
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	if workspaceID == "" {
		return "", ErrEmptyName
	}
	be := invalidIdentChars.ReplaceAllString(strings.ToLower(backend), "_")
	suffix := "_" + be + "_" + ModelHash(model)
	head := collectionPrefix + "_" + string(kind) + "_"

	room := maxCollectionLen - len(head) - len(suffix)
	if room < 1 {
		return "", fmt.Errorf("backend name %q too long for a collection name", backend)
	}
	ws := workspaceID
	if len(ws) > room {
		keep := room - nameHashLen - 1
		if keep < 1 {
			return "", fmt.Errorf("backend name %q too long for a collection name", backend)
		}
		ws = ws[:keep] + "_" + shortHash(workspaceID, nameHashLen)
	}
	name := head + ws + suffix
	if !validCollection.MatchString(name) {
		return "", fmt.Errorf("derived collection name %q is invalid", name)
	}
	return name, nil
}

// Registry holds the configured workspaces keyed by identifier.
type Registry struct {
	names  []string
	byID   map[string]string
	strict bool
}

// RegistryOption configures NewRegistry.
type RegistryOption func(*registryOptions)

type registryOptions struct {
	backend string
	model   string
}

// WithCollections makes NewRegistry also reject names whose collections
// for backend and model would coincide.
func WithCollections(backend, model string) RegistryOption {
	return func(o *registryOptions) {
		o.backend = backend
		o.model = model
	}
}

// NewRegistry validates the configured names. Two names that reduce to the
// same identifier, or with WithCollections to the same collection, are
// rejected with ErrWorkspaceCollision.
func NewRegistry(names []string, strict bool, opts ...RegistryOption) (*Registry, error) {
	var o registryOptions
	for _, opt := range opts {
		opt(&o)
	}

	r := &Registry{byID: make(map[string]string, len(names)), strict: strict}
	collections := make(map[string]string)
	for _, name := range names {
		id, err := Identifier(name)
		if err != nil {
			return nil, fmt.Errorf("workspace %q: %w", name, err)
		}
		if prev, ok := r.byID[id]; ok {
			return nil, fmt.Errorf("%w: %q and %q both map to %q", ErrWorkspaceCollision, prev, name, id)
		}
		if o.backend != "" {
			for _, kind := range []Kind{KindDocs, KindCache} {
				coll, err := CollectionName(kind, id, o.backend, o.model)
				if err != nil {
					return nil, fmt.Errorf("workspace %q: %w", name, err)
				}
				if prev, ok := collections[coll]; ok {
					return nil, fmt.Errorf("%w: %q and %q both map to collection %q", ErrWorkspaceCollision, prev, name, coll)
				}
				collections[coll] = name
			}
		}
		r.byID[id] = name
		r.names = append(r.names, name)
	}
	return r, nil
}

// Resolve returns the identifier for name. In strict mode, names that are not
// configured are rejected; otherwise they are accepted as new workspaces.
func (r *Registry) Resolve(name string) (string, error) {
	id, err := Identifier(name)
	if err != nil {
		return "", err
	}
	if _, ok := r.byID[id]; !ok && r.strict {
		return "", fmt.Errorf("%w: %q", ErrUnknownWorkspace, name)
	}
	return id, nil
}

// Names returns the configured display names in configuration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// IDs returns the configured identifiers, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
