package filestore

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/starford/keloia/internal/apperr"
)

// Op names used by Memory hooks and call records.
const (
	OpRead   = "read"
	OpWrite  = "write"
	OpRemove = "remove"
)

// Call is one recorded backend invocation.
type Call struct {
	Op   string
	Path string
}

// Hook runs before each Memory operation. A non-nil error is returned to
// the caller instead of performing the operation.
type Hook func(ctx context.Context, op, path string) error

// Memory is an in-process Client with the same version semantics as the
// remote store. It records every call and supports fault injection.
type Memory struct {
	mu    sync.Mutex
	files map[string]memFile
	seq   int
	calls []Call
	hook  Hook
}

type memFile struct {
	content []byte
	version string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{files: make(map[string]memFile)}
}

// SetHook installs h; pass nil to remove it.
func (m *Memory) SetHook(h Hook) {
	m.mu.Lock()
	m.hook = h
	m.mu.Unlock()
}

// Calls returns a copy of all recorded calls.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// Mutations returns the recorded write and remove calls.
func (m *Memory) Mutations() []Call {
	var out []Call
	for _, c := range m.Calls() {
		if c.Op != OpRead {
			out = append(out, c)
		}
	}
	return out
}

// Put seeds path with content, bypassing version checks and call records.
func (m *Memory) Put(path string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = memFile{content: append([]byte(nil), content...), version: m.nextVersionLocked()}
}

// Has reports whether path exists.
func (m *Memory) Has(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[path]
	return ok
}

// Content returns the stored bytes of path, or nil.
func (m *Memory) Content(path string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.files[path].content...)
}

func (m *Memory) before(ctx context.Context, op, path string) error {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Op: op, Path: path})
	h := m.hook
	m.mu.Unlock()
	if h != nil {
		return h(ctx, op, path)
	}
	return nil
}

func (m *Memory) nextVersionLocked() string {
	m.seq++
	return "v" + strconv.Itoa(m.seq)
}

// Read implements Client.
func (m *Memory) Read(ctx context.Context, path string) (*File, error) {
	if err := m.before(ctx, OpRead, path); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", path, apperr.ErrNotFound)
	}
	return &File{Path: path, Content: append([]byte(nil), f.content...), Version: f.version}, nil
}

// Write implements Client.
func (m *Memory) Write(ctx context.Context, req WriteRequest) error {
	if err := m.before(ctx, OpWrite, req.Path); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, exists := m.files[req.Path]
	if err := checkWrite(req.Path, req.Version, cur.version, exists); err != nil {
		return err
	}
	m.files[req.Path] = memFile{content: append([]byte(nil), req.Content...), version: m.nextVersionLocked()}
	return nil
}

// Remove implements Client.
func (m *Memory) Remove(ctx context.Context, req RemoveRequest) error {
	if err := m.before(ctx, OpRemove, req.Path); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, exists := m.files[req.Path]
	if err := checkRemove(req.Path, req.Version, cur.version, exists); err != nil {
		return err
	}
	delete(m.files, req.Path)
	return nil
}

// checkWrite applies the store's optimistic-concurrency rules for a write.
func checkWrite(path, expected, current string, exists bool) error {
	switch {
	case expected == "" && exists:
		return &apperr.ConflictError{Path: path}
	case expected != "" && !exists:
		return fmt.Errorf("write %s: %w", path, apperr.ErrNotFound)
	case expected != "" && expected != current:
		return &apperr.ConflictError{Path: path, ExpectedVersion: expected}
	}
	return nil
}

// checkRemove applies the store's optimistic-concurrency rules for a remove.
func checkRemove(path, expected, current string, exists bool) error {
	if !exists {
		return fmt.Errorf("remove %s: %w", path, apperr.ErrNotFound)
	}
	if expected != current {
		return &apperr.ConflictError{Path: path, ExpectedVersion: expected}
	}
	return nil
}
