// Package resource provides stores that supply resource file contents to the
// runtime. Each store implements vm.ResourceLoader.
package resource

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound indicates that no store holds the requested resource.
var ErrNotFound = errors.New("resource not found")

// ErrEscapesRoot indicates a resource path that resolves outside its store.
var ErrEscapesRoot = errors.New("resource path escapes root")

// FileStore loads resources from files under a root directory.
type FileStore struct {
	root string
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve resource root %s: %w", dir, err)
	}
	return &FileStore{root: root}, nil
}

// Root returns the absolute root directory.
func (s *FileStore) Root() string {
	return s.root
}

// LoadResource reads the file at path relative to the root. Absolute paths
// and paths that climb out of the root are refused.
func (s *FileStore) LoadResource(path string) ([]byte, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading resource %s: %w", path, err)
	}
	return data, nil
}

func (s *FileStore) resolve(path string) (string, error) {
	// Resource paths use forward slashes regardless of platform.
	clean := filepath.Clean(filepath.FromSlash(path))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrEscapesRoot, path)
	}
	return filepath.Join(s.root, clean), nil
}

// Loader is the lookup every store implements. It matches vm.ResourceLoader.
type Loader interface {
	LoadResource(path string) ([]byte, error)
}

// Chain tries each loader in order and returns the first hit. A loader that
// reports ErrNotFound passes to the next; any other error stops the search.
type Chain []Loader

// LoadResource implements vm.ResourceLoader.
func (c Chain) LoadResource(path string) ([]byte, error) {
	for _, l := range c {
		data, err := l.LoadResource(path)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
}
