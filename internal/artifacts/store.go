// Package artifacts stores run artifacts as files under a single writable
// root, addressed by (category, path).
package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrInvalidJSON is returned when a write to a .json path carries content
// that does not parse as JSON.
var ErrInvalidJSON = errors.New("invalid_json")

// ErrInvalidPath is returned for paths that escape the artifact root or
// contain empty components.
var ErrInvalidPath = errors.New("invalid artifact path")

// ErrNotFound is returned when a read misses.
var ErrNotFound = errors.New("artifact not found")

// Artifact is a stored file as returned by reads: the root-relative path
// in slash form plus the content found there.
type Artifact struct {
	Path    string `json:"path"`
	Content []byte `json:"content"`
}

// Store writes and reads artifacts under one root directory.
type Store struct {
	mu   sync.Mutex
	root string
}

// NewStore creates the artifact root if needed.
func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("artifact root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the artifact root directory.
func (s *Store) Root() string {
	return s.root
}

// Write stores content at category/path. Paths ending in .json must carry
// parseable JSON or the write fails with ErrInvalidJSON. Files are written
// to a temp file and renamed into place.
func (s *Store) Write(ctx context.Context, category, path string, content []byte) error {
	full, _, err := s.resolve(category, path)
	if err != nil {
		return err
	}
	if strings.HasSuffix(path, ".json") && !json.Valid(content) {
		return fmt.Errorf("%w: %s/%s", ErrInvalidJSON, category, path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("place artifact: %w", err)
	}
	return nil
}

// Read returns the artifact stored at category/path, carrying its
// root-relative path alongside the content.
func (s *Store) Read(ctx context.Context, category, path string) (*Artifact, error) {
	full, rel, err := s.resolve(category, path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, category, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return &Artifact{Path: rel, Content: data}, nil
}

// ReadByPath is the canonical accessor taking a single
// "category/sub1/sub2/file.ext" path.
func (s *Store) ReadByPath(ctx context.Context, full string) (*Artifact, error) {
	category, rest, ok := strings.Cut(strings.TrimPrefix(full, "/"), "/")
	if !ok || category == "" || rest == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, full)
	}
	return s.Read(ctx, category, rest)
}

// List returns the relative paths stored under a category, sorted by
// filepath.WalkDir order.
func (s *Store) List(ctx context.Context, category string) ([]string, error) {
	dir, _, err := s.resolve(category, ".")
	if err != nil {
		return nil, err
	}
	var out []string
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	return out, nil
}

// resolve joins category and path under the root, rejecting any upward
// traversal out of the category directory. Returns the absolute file path
// and the root-relative path in slash form.
func (s *Store) resolve(category, path string) (string, string, error) {
	if category == "" || strings.ContainsAny(category, `/\`) || category == ".." {
		return "", "", fmt.Errorf("%w: bad category %q", ErrInvalidPath, category)
	}
	if path == "" {
		return "", "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	rel := filepath.Clean(filepath.Join(category, filepath.FromSlash(path)))
	if rel != category && !strings.HasPrefix(rel, category+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%w: %q escapes its category", ErrInvalidPath, path)
	}
	return filepath.Join(s.root, rel), filepath.ToSlash(rel), nil
}
