package filestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/natefinch/atomic"

	"github.com/starford/keloia/internal/apperr"
	"github.com/starford/keloia/internal/checksum"
)

// FS implements Client on the local file system. Version tokens are git
// blob ids of the file content, so they agree with the GitHub backend for
// identical data.
//
// The version check and the write happen under one mutex, which makes them
// atomic within the process only. Other processes writing the same tree race
// with it the same way two writers race on a remote store.
type FS struct {
	root string // absolute path to the data directory
	mu   sync.Mutex
}

// NewFS creates a new FS client rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("filestore: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("filestore: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("filestore: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute data directory.
func (f *FS) Root() string {
	return f.root
}

// safePath resolves a relative path against the root and rejects any
// result that escapes it.
func (f *FS) safePath(rel string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if rel == "" || cleaned == "." {
		return "", fmt.Errorf("%w: empty path", apperr.ErrInvalidInput)
	}
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("%w: absolute paths not allowed: %s", apperr.ErrInvalidInput, rel)
	}
	abs, err := filepath.Abs(filepath.Join(f.root, cleaned))
	if err != nil {
		return "", fmt.Errorf("filestore: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: path escapes data root: %s", apperr.ErrInvalidInput, rel)
	}
	return abs, nil
}

// current returns the content at abs and whether it exists.
func current(abs string) ([]byte, bool, error) {
	data, err := os.ReadFile(abs)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Read implements Client.
func (f *FS) Read(_ context.Context, path string) (*File, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return nil, err
	}
	data, ok, err := current(abs)
	if err != nil {
		return nil, &apperr.TransportError{Op: OpRead, Path: path, Err: err}
	}
	if !ok {
		return nil, fmt.Errorf("read %s: %w", path, apperr.ErrNotFound)
	}
	return &File{Path: path, Content: data, Version: checksum.GitBlob(data)}, nil
}

// Write implements Client. Content is written to a temp file and renamed
// into place.
func (f *FS) Write(_ context.Context, req WriteRequest) error {
	abs, err := f.safePath(req.Path)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	data, exists, err := current(abs)
	if err != nil {
		return &apperr.TransportError{Op: OpWrite, Path: req.Path, Err: err}
	}
	var version string
	if exists {
		version = checksum.GitBlob(data)
	}
	if err := checkWrite(req.Path, req.Version, version, exists); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return &apperr.TransportError{Op: OpWrite, Path: req.Path, Err: err}
	}
	if err := atomic.WriteFile(abs, bytes.NewReader(req.Content)); err != nil {
		return &apperr.TransportError{Op: OpWrite, Path: req.Path, Err: err}
	}
	return nil
}

// Remove implements Client.
func (f *FS) Remove(_ context.Context, req RemoveRequest) error {
	abs, err := f.safePath(req.Path)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	data, exists, err := current(abs)
	if err != nil {
		return &apperr.TransportError{Op: OpRemove, Path: req.Path, Err: err}
	}
	var version string
	if exists {
		version = checksum.GitBlob(data)
	}
	if err := checkRemove(req.Path, req.Version, version, exists); err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		return &apperr.TransportError{Op: OpRemove, Path: req.Path, Err: err}
	}
	return nil
}
