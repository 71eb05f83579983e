// Package docservice implements the Markdown document operations: list,
// windowed read, add, edit, delete and line-oriented search.
package docservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/starford/keloia/internal/apperr"
	"github.com/starford/keloia/internal/collection"
	"github.com/starford/keloia/internal/events"
	"github.com/starford/keloia/internal/filestore"
	"github.com/starford/keloia/internal/layout"
	"github.com/starford/keloia/internal/models"
)

// MaxSearchResults caps the number of hits a search returns.
const MaxSearchResults = 50

// snippetRadius is the number of characters kept on each side of a match start.
const snippetRadius = 75

var slugRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// ValidSlug reports whether slug is lowercase alphanumeric with internal hyphens.
func ValidSlug(slug string) bool { return slugRe.MatchString(slug) }

// SearchQuery selects documents and lines to match.
type SearchQuery struct {
	Pattern string
	// Slug narrows the search to one document when non-empty.
	Slug  string
	Regex bool
}

// SearchHit is one matching line.
type SearchHit struct {
	Slug       string `json:"slug"`
	Title      string `json:"title"`
	LineNumber int    `json:"lineNumber"`
	Snippet    string `json:"snippet"`
}

// EditResult is returned by Edit.
type EditResult struct {
	Slug    string `json:"slug"`
	Title   string `json:"title"`
	Updated bool   `json:"updated"`
}

// DeleteResult is returned by Delete.
type DeleteResult struct {
	Slug          string `json:"slug"`
	Deleted       bool   `json:"deleted"`
	RecordRemoved bool   `json:"recordRemoved"`
}

// Service coordinates document records and the docs index.
type Service struct {
	store    filestore.Client
	layout   layout.Layout
	docs     *collection.Set[models.DocsIndex]
	notifier events.Notifier
	logger   *slog.Logger
}

// NewService creates a document service. A nil notifier discards events.
func NewService(store filestore.Client, l layout.Layout, notifier events.Notifier, logger *slog.Logger) *Service {
	if notifier == nil {
		notifier = events.Nop
	}
	if logger == nil {
		logger = slog.Default()
	}
	idx := collection.NewIndex[models.DocsIndex](store, l.DocsIndex(), models.SchemaDocsIndex)
	return &Service{
		store:    store,
		layout:   l,
		docs:     collection.NewSet(store, idx, logger),
		notifier: notifier,
		logger:   logger,
	}
}

// List returns the index entries in index order.
func (s *Service) List(ctx context.Context) ([]models.DocEntry, error) {
	idx, _, err := s.docs.Index.Load(ctx)
	if err != nil {
		return nil, err
	}
	return nonNil(idx.Docs), nil
}

// Read returns the content of slug windowed to length characters starting at
// offset. A negative length reads to the end.
func (s *Service) Read(ctx context.Context, slug string, offset, length int) (string, error) {
	if offset < 0 {
		return "", fmt.Errorf("%w: offset must not be negative", apperr.ErrInvalidInput)
	}
	idx, _, err := s.docs.Index.Load(ctx)
	if err != nil {
		return "", err
	}
	if _, ok := idx.Find(slug); !ok {
		return "", unknownSlug(slug, idx)
	}
	f, err := s.store.Read(ctx, s.layout.Doc(slug))
	if errors.Is(err, apperr.ErrNotFound) {
		return "", fmt.Errorf("%w: file not found on the store for slug %q", apperr.ErrNotFound, slug)
	}
	if err != nil {
		return "", err
	}
	return window(string(f.Content), offset, length), nil
}

// Add creates a document and registers it in the index.
func (s *Service) Add(ctx context.Context, slug, title, content string) (*models.DocEntry, error) {
	if !ValidSlug(slug) {
		return nil, fmt.Errorf("%w: invalid slug format %q: slugs must be lowercase alphanumeric with internal hyphens only (e.g. \"my-doc\")",
			apperr.ErrInvalidInput, slug)
	}
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("%w: title is required", apperr.ErrInvalidInput)
	}
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", apperr.ErrInvalidInput)
	}

	idx, _, err := s.docs.Index.Load(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := idx.Find(slug); ok {
		return nil, duplicateSlug(slug)
	}

	entry := models.DocEntry{Slug: slug, Title: title}
	_, err = s.docs.Create(ctx, collection.CreateRequest[models.DocsIndex]{
		Path:          s.layout.Doc(slug),
		Content:       []byte(content),
		RecordMessage: "mcp: add doc " + slug,
		IndexMessage:  "mcp: update docs index for " + slug,
		Register: func(x *models.DocsIndex) error {
			if _, ok := x.Find(slug); ok {
				return duplicateSlug(slug)
			}
			x.Docs = append(x.Docs, entry)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("doc added", slog.String("slug", slug))
	s.notifier.Notify(events.Event{Type: events.DocCreated, ID: slug, Data: entry})
	return &entry, nil
}

// Edit replaces the content of slug and, when title is non-nil, updates the
// index entry's title as a second write.
func (s *Service) Edit(ctx context.Context, slug, content string, title *string) (*EditResult, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", apperr.ErrInvalidInput)
	}
	if title != nil && strings.TrimSpace(*title) == "" {
		return nil, fmt.Errorf("%w: title must not be empty", apperr.ErrInvalidInput)
	}
	idx, _, err := s.docs.Index.Load(ctx)
	if err != nil {
		return nil, err
	}
	entry, ok := idx.Find(slug)
	if !ok {
		return nil, unknownSlug(slug, idx)
	}

	if err := s.docs.Replace(ctx, s.layout.Doc(slug), []byte(content), "mcp: edit doc "+slug); err != nil {
		return nil, err
	}

	finalTitle := entry.Title
	if title != nil {
		_, err := s.docs.Index.Update(ctx, "mcp: update docs index title for "+slug, func(x *models.DocsIndex) error {
			for i := range x.Docs {
				if x.Docs[i].Slug == slug {
					x.Docs[i].Title = *title
					return nil
				}
			}
			return unknownSlug(slug, x)
		})
		if err != nil {
			return nil, err
		}
		finalTitle = *title
	}
	s.logger.Info("doc edited", slog.String("slug", slug))
	s.notifier.Notify(events.Event{Type: events.DocUpdated, ID: slug})
	return &EditResult{Slug: slug, Title: finalTitle, Updated: true}, nil
}

// Delete deregisters slug and then removes its file on a best-effort basis.
func (s *Service) Delete(ctx context.Context, slug string) (*DeleteResult, error) {
	idx, _, err := s.docs.Index.Load(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := idx.Find(slug); !ok {
		return nil, unknownSlug(slug, idx)
	}
	res, err := s.docs.Delete(ctx, collection.DeleteRequest[models.DocsIndex]{
		Path:          s.layout.Doc(slug),
		RecordMessage: "mcp: delete doc " + slug,
		IndexMessage:  "mcp: remove " + slug + " from docs index",
		Deregister: func(x *models.DocsIndex) error {
			for i, d := range x.Docs {
				if d.Slug == slug {
					x.Docs = append(x.Docs[:i], x.Docs[i+1:]...)
					return nil
				}
			}
			return unknownSlug(slug, x)
		},
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("doc deleted", slog.String("slug", slug), slog.Bool("record_removed", res.RecordRemoved))
	s.notifier.Notify(events.Event{Type: events.DocDeleted, ID: slug})
	return &DeleteResult{Slug: slug, Deleted: true, RecordRemoved: res.RecordRemoved}, nil
}

// Search scans document lines for q.Pattern, case-insensitively in both
// keyword and regex mode. Documents are fetched concurrently and scanned in
// index order; at most MaxSearchResults hits are returned.
func (s *Service) Search(ctx context.Context, q SearchQuery) ([]SearchHit, error) {
	if q.Pattern == "" {
		return nil, fmt.Errorf("%w: pattern is required", apperr.ErrInvalidInput)
	}
	expr := regexp.QuoteMeta(q.Pattern)
	if q.Regex {
		expr = q.Pattern
	}
	re, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid regex pattern %q", apperr.ErrInvalidInput, q.Pattern)
	}

	idx, _, err := s.docs.Index.Load(ctx)
	if err != nil {
		return nil, err
	}
	targets := idx.Docs
	if q.Slug != "" {
		entry, ok := idx.Find(q.Slug)
		if !ok {
			return nil, unknownSlug(q.Slug, idx)
		}
		targets = []models.DocEntry{entry}
	}

	contents := make([]*filestore.File, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range targets {
		g.Go(func() error {
			f, err := filestore.ReadOptional(gctx, s.store, s.layout.Doc(d.Slug))
			if err != nil {
				return err
			}
			contents[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	hits := []SearchHit{}
	for i, d := range targets {
		if contents[i] == nil {
			continue
		}
		for n, line := range strings.Split(string(contents[i].Content), "\n") {
			if len(hits) >= MaxSearchResults {
				return hits, nil
			}
			loc := re.FindStringIndex(line)
			if loc == nil {
				continue
			}
			hits = append(hits, SearchHit{
				Slug:       d.Slug,
				Title:      d.Title,
				LineNumber: n + 1,
				Snippet:    snippet(line, loc[0]),
			})
		}
	}
	return hits, nil
}

// snippet returns the characters of line within snippetRadius of the match
// starting at byte offset at.
func snippet(line string, at int) string {
	runes := []rune(line)
	start := utf8.RuneCountInString(line[:at])
	return string(runes[max(0, start-snippetRadius):min(len(runes), start+snippetRadius)])
}

func window(content string, offset, length int) string {
	runes := []rune(content)
	if offset >= len(runes) {
		return ""
	}
	end := len(runes)
	if length >= 0 && length < end-offset {
		end = offset + length
	}
	return string(runes[offset:end])
}

func unknownSlug(slug string, idx *models.DocsIndex) error {
	return fmt.Errorf("%w: no doc with slug %q. Available slugs: %s",
		apperr.ErrNotFound, slug, strings.Join(idx.Slugs(), ", "))
}

func duplicateSlug(slug string) error {
	return fmt.Errorf("%w: slug %q already exists in the index; edit the existing doc instead", apperr.ErrDuplicate, slug)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// EnsureIndex creates an empty docs index when none exists.
func (s *Service) EnsureIndex(ctx context.Context) (bool, error) {
	return s.docs.Index.Ensure(ctx, &models.DocsIndex{SchemaVersion: models.CurrentSchemaVersion, Docs: []models.DocEntry{}}, "init docs index")
}
