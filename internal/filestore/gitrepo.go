package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/starford/keloia/internal/apperr"
)

// Author identifies the committer of mutations made through GitRepo.
type Author struct {
	Name  string
	Email string
}

// GitRepo is an FS client over a git working tree that records every
// accepted write or remove as one commit. Version tokens are the same blob
// ids FS produces.
type GitRepo struct {
	fs     *FS
	repo   *gogit.Repository
	author Author
	mu     sync.Mutex
}

// NewGitRepo opens the repository at dir, initializing it when needed.
func NewGitRepo(dir string, author Author) (*GitRepo, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create repo dir: %w", err)
	}
	repo, err := gogit.PlainOpen(dir)
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		repo, err = gogit.PlainInit(dir, false)
	}
	if err != nil {
		return nil, fmt.Errorf("filestore: open git repo: %w", err)
	}
	fs, err := NewFS(dir)
	if err != nil {
		return nil, err
	}
	return &GitRepo{fs: fs, repo: repo, author: author}, nil
}

// Root returns the working tree directory.
func (g *GitRepo) Root() string {
	return g.fs.Root()
}

// Read implements Client. Reads come from the working tree.
func (g *GitRepo) Read(ctx context.Context, path string) (*File, error) {
	return g.fs.Read(ctx, path)
}

// Write implements Client.
func (g *GitRepo) Write(ctx context.Context, req WriteRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fs.Write(ctx, req); err != nil {
		return err
	}
	if err := g.commit(req.Path, req.Message, false); err != nil {
		// The working tree already holds the new content.
		return &apperr.TransportError{Op: OpWrite, Path: req.Path, Err: err}
	}
	return nil
}

// Remove implements Client.
func (g *GitRepo) Remove(ctx context.Context, req RemoveRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fs.Remove(ctx, req); err != nil {
		return err
	}
	if err := g.commit(req.Path, req.Message, true); err != nil {
		return &apperr.TransportError{Op: OpRemove, Path: req.Path, Err: err}
	}
	return nil
}

func (g *GitRepo) commit(path, msg string, removed bool) error {
	w, err := g.repo.Worktree()
	if err != nil {
		return fmt.Errorf("filestore: worktree: %w", err)
	}
	rel := filepath.ToSlash(filepath.Clean(filepath.FromSlash(path)))
	if removed {
		if _, err := w.Remove(rel); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("filestore: stage removal of %s: %w", path, err)
		}
	} else if _, err := w.Add(rel); err != nil {
		return fmt.Errorf("filestore: stage %s: %w", path, err)
	}

	status, err := w.Status()
	if err != nil {
		return fmt.Errorf("filestore: worktree status: %w", err)
	}
	if st := status.File(rel); st.Staging == gogit.Unmodified || st.Staging == gogit.Untracked {
		return nil
	}
	if msg == "" {
		msg = "update " + rel
	}
	now := time.Now()
	sig := &object.Signature{Name: g.author.Name, Email: g.author.Email, When: now}
	_, err = w.Commit(msg, &gogit.CommitOptions{Author: sig, Committer: sig})
	if err != nil && !errors.Is(err, gogit.ErrEmptyCommit) {
		return fmt.Errorf("filestore: commit %s: %w", path, err)
	}
	return nil
}

// CommitCount returns the number of commits reachable from HEAD. A repo
// with no commits yet counts zero.
func (g *GitRepo) CommitCount() (int, error) {
	iter, err := g.repo.Log(&gogit.LogOptions{})
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("filestore: git log: %w", err)
	}
	defer iter.Close()
	n := 0
	err = iter.ForEach(func(*object.Commit) error {
		n++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("filestore: walk history: %w", err)
	}
	return n, nil
}
