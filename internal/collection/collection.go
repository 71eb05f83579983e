// Package collection implements the ordering rules that keep an index file
// and its member records consistent on a version-tracked store.
//
// Create writes the record first and then appends to the index. Delete
// removes the index entry first and then the record. Every index mutation
// re-reads the index immediately before writing it and passes the fresh
// version token, so a concurrent index change surfaces as a conflict
// instead of being overwritten. Nothing is retried or rolled back.
package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/keloia/internal/apperr"
	"github.com/starford/keloia/internal/filestore"
	"github.com/starford/keloia/internal/models"
)

// Index is a typed JSON index file.
type Index[I any] struct {
	store  filestore.Client
	path   string
	schema string
}

// NewIndex binds the index at path, validated against schema on read.
func NewIndex[I any](store filestore.Client, path, schema string) *Index[I] {
	return &Index[I]{store: store, path: path, schema: schema}
}

// Path returns the store path of the index.
func (x *Index[I]) Path() string { return x.path }

// Load reads and decodes the index together with its version token.
func (x *Index[I]) Load(ctx context.Context) (*I, string, error) {
	f, err := x.store.Read(ctx, x.path)
	if err != nil {
		return nil, "", fmt.Errorf("read index %s: %w", x.path, err)
	}
	v := new(I)
	if err := models.Decode(x.schema, f.Content, v); err != nil {
		return nil, "", fmt.Errorf("decode index %s: %w", x.path, err)
	}
	return v, f.Version, nil
}

// Ensure creates the index holding v unless a file already exists at its
// path. It reports whether the index was created.
func (x *Index[I]) Ensure(ctx context.Context, v *I, message string) (bool, error) {
	data, err := models.Encode(v)
	if err != nil {
		return false, fmt.Errorf("encode index %s: %w", x.path, err)
	}
	err = x.store.Write(ctx, filestore.WriteRequest{Path: x.path, Content: data, Message: message})
	if errors.Is(err, apperr.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create index %s: %w", x.path, err)
	}
	return true, nil
}

// Update re-reads the index, applies mutate and writes the result with the
// version token just read. An error from mutate aborts before any write.
func (x *Index[I]) Update(ctx context.Context, message string, mutate func(*I) error) (*I, error) {
	v, version, err := x.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := mutate(v); err != nil {
		return nil, err
	}
	data, err := models.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("encode index %s: %w", x.path, err)
	}
	if err := x.store.Write(ctx, filestore.WriteRequest{
		Path:    x.path,
		Content: data,
		Version: version,
		Message: message,
	}); err != nil {
		return nil, fmt.Errorf("write index %s: %w", x.path, err)
	}
	return v, nil
}

// Set pairs an index with the records it owns.
type Set[I any] struct {
	Index  *Index[I]
	store  filestore.Client
	logger *slog.Logger
}

// NewSet returns a Set over index; records live on the same store.
func NewSet[I any](store filestore.Client, index *Index[I], logger *slog.Logger) *Set[I] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Set[I]{Index: index, store: store, logger: logger}
}

// CreateRequest describes a new member.
type CreateRequest[I any] struct {
	Path          string
	Content       []byte
	RecordMessage string
	IndexMessage  string
	// Register adds the member to the freshly read index.
	Register func(*I) error
}

// Create writes the record with "fail if exists" semantics and then
// registers it in the index. A record already at Path is reported as
// apperr.ErrUnindexedFile and left untouched. If the index write fails the
// record stays behind as an invisible orphan, which a later Create of the
// same path refuses to overwrite.
func (s *Set[I]) Create(ctx context.Context, req CreateRequest[I]) (*I, error) {
	err := s.store.Write(ctx, filestore.WriteRequest{
		Path:    req.Path,
		Content: req.Content,
		Message: req.RecordMessage,
	})
	switch {
	case errors.Is(err, apperr.ErrConflict):
		return nil, fmt.Errorf("%w: %s exists on the store but is not in the index", apperr.ErrUnindexedFile, req.Path)
	case err != nil:
		return nil, fmt.Errorf("write record %s: %w", req.Path, err)
	}
	return s.Index.Update(ctx, req.IndexMessage, req.Register)
}

// Replace overwrites the record at path with content, using the version
// token read immediately before the write. A missing record is re-created.
func (s *Set[I]) Replace(ctx context.Context, path string, content []byte, message string) error {
	version, err := filestore.Version(ctx, s.store, path)
	if err != nil {
		return fmt.Errorf("read record %s: %w", path, err)
	}
	if err := s.store.Write(ctx, filestore.WriteRequest{
		Path:    path,
		Content: content,
		Version: version,
		Message: message,
	}); err != nil {
		return fmt.Errorf("write record %s: %w", path, err)
	}
	return nil
}

// DeleteRequest describes removal of a member.
type DeleteRequest[I any] struct {
	Path          string
	RecordMessage string
	IndexMessage  string
	// Deregister removes the member from the freshly read index.
	Deregister func(*I) error
}

// DeleteResult reports the outcome of the best-effort record removal.
type DeleteResult struct {
	// RecordRemoved is false when the index entry is gone but the record
	// could not be removed and still occupies storage.
	RecordRemoved bool
}

// Delete deregisters the member from the index and then removes its record.
// Once the index write succeeds the member is gone for every reader, so a
// failure removing the record is logged and reported in the result rather
// than returned. An already missing record is not an error.
func (s *Set[I]) Delete(ctx context.Context, req DeleteRequest[I]) (DeleteResult, error) {
	if _, err := s.Index.Update(ctx, req.IndexMessage, req.Deregister); err != nil {
		return DeleteResult{}, err
	}

	version, err := filestore.Version(ctx, s.store, req.Path)
	if err != nil {
		s.logger.Warn("record left behind after index removal",
			slog.String("path", req.Path), slog.String("error", err.Error()))
		return DeleteResult{RecordRemoved: false}, nil
	}
	if version == "" {
		return DeleteResult{RecordRemoved: true}, nil
	}
	err = s.store.Remove(ctx, filestore.RemoveRequest{Path: req.Path, Version: version, Message: req.RecordMessage})
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		s.logger.Warn("record left behind after index removal",
			slog.String("path", req.Path), slog.String("error", err.Error()))
		return DeleteResult{RecordRemoved: false}, nil
	}
	return DeleteResult{RecordRemoved: true}, nil
}

// LoadRecord reads and decodes the JSON record at path.
func LoadRecord[R any](ctx context.Context, store filestore.Client, path, schema string) (*R, string, error) {
	f, err := store.Read(ctx, path)
	if err != nil {
		return nil, "", fmt.Errorf("read record %s: %w", path, err)
	}
	v := new(R)
	if err := models.Decode(schema, f.Content, v); err != nil {
		return nil, "", fmt.Errorf("decode record %s: %w", path, err)
	}
	return v, f.Version, nil
}
