// Package filestore defines the version-tracked file store contract and its
// backends: GitHub (Contents API and raw-read variants), local filesystem,
// local git working tree, SQLite, Redis and in-memory.
package filestore

import (
	"context"
	"errors"

	"github.com/starford/keloia/internal/apperr"
)

// File is the content of one stored path together with the version token
// the store requires to accept a write or remove of that same path.
type File struct {
	Path    string
	Content []byte
	Version string
}

// WriteRequest describes a create or update.
//
// An empty Version is a blind create: the store rejects it with a conflict
// when the path already exists. A non-empty Version must match the current
// token or the store answers with a conflict; if the path is missing the
// store answers with not found.
type WriteRequest struct {
	Path    string
	Content []byte
	Version string
	// Message is the commit message for backends that keep history.
	Message string
}

// RemoveRequest describes a delete guarded by the current version token.
type RemoveRequest struct {
	Path    string
	Version string
	Message string
}

// Client is the contract every backend satisfies. Failures are typed:
// apperr.ErrNotFound, *apperr.ConflictError and *apperr.TransportError.
type Client interface {
	// Read returns the file at path or apperr.ErrNotFound.
	Read(ctx context.Context, path string) (*File, error)
	// Write creates or updates path according to req.Version.
	Write(ctx context.Context, req WriteRequest) error
	// Remove deletes path if req.Version is current.
	Remove(ctx context.Context, req RemoveRequest) error
}

// ReadOptional is Read with not-found folded into a nil file.
func ReadOptional(ctx context.Context, c Client, path string) (*File, error) {
	f, err := c.Read(ctx, path)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	return f, err
}

// Version returns the current version token of path, or "" when it does not exist.
func Version(ctx context.Context, c Client, path string) (string, error) {
	f, err := ReadOptional(ctx, c, path)
	if err != nil || f == nil {
		return "", err
	}
	return f.Version, nil
}
