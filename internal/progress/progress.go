// Package progress implements the milestone operations. Completion percent
// is derived on every read and never stored.
package progress

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/starford/keloia/internal/apperr"
	"github.com/starford/keloia/internal/collection"
	"github.com/starford/keloia/internal/events"
	"github.com/starford/keloia/internal/filestore"
	"github.com/starford/keloia/internal/layout"
	"github.com/starford/keloia/internal/models"
)

// NextMilestoneID returns milestone-NN, one past the largest numeric suffix.
func NextMilestoneID(ids []string) string {
	return collection.NextID("milestone-", 2, ids)
}

// Patch lists the milestone fields to change; nil fields are left as they are.
type Patch struct {
	Status         *string
	TasksTotal     *int
	TasksCompleted *int
	Notes          *string
	// ClearNotes sets notes to null. It takes precedence over Notes.
	ClearNotes bool
}

func (p Patch) empty() bool {
	return p.Status == nil && p.TasksTotal == nil && p.TasksCompleted == nil && p.Notes == nil && !p.ClearNotes
}

// NewMilestone is the input of AddMilestone. An empty Status means pending.
type NewMilestone struct {
	Phase          int
	Title          string
	Status         string
	TasksTotal     int
	TasksCompleted int
	Notes          *string
}

// Service coordinates milestone records and the progress index.
type Service struct {
	store      filestore.Client
	layout     layout.Layout
	milestones *collection.Set[models.ProgressIndex]
	notifier   events.Notifier
	logger     *slog.Logger
}

// NewService creates a progress service. A nil notifier discards events.
func NewService(store filestore.Client, l layout.Layout, notifier events.Notifier, logger *slog.Logger) *Service {
	if notifier == nil {
		notifier = events.Nop
	}
	if logger == nil {
		logger = slog.Default()
	}
	idx := collection.NewIndex[models.ProgressIndex](store, l.ProgressIndex(), models.SchemaProgressIndex)
	return &Service{
		store:      store,
		layout:     l,
		milestones: collection.NewSet(store, idx, logger),
		notifier:   notifier,
		logger:     logger,
	}
}

// Milestones reads every indexed milestone concurrently, in index order.
// Milestones whose record is missing are skipped.
func (s *Service) Milestones(ctx context.Context) ([]models.MilestoneView, error) {
	idx, _, err := s.milestones.Index.Load(ctx)
	if err != nil {
		return nil, err
	}
	found := make([]*models.Milestone, len(idx.Milestones))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range idx.Milestones {
		g.Go(func() error {
			f, err := filestore.ReadOptional(gctx, s.store, s.layout.Milestone(id))
			if err != nil || f == nil {
				return err
			}
			var m models.Milestone
			if err := models.Decode(models.SchemaMilestone, f.Content, &m); err != nil {
				return fmt.Errorf("decode record %s: %w", f.Path, err)
			}
			found[i] = &m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := []models.MilestoneView{}
	for _, m := range found {
		if m != nil {
			out = append(out, m.View())
		}
	}
	return out, nil
}

// UpdateMilestone merges p into the milestone record. The index is not touched.
func (s *Service) UpdateMilestone(ctx context.Context, id string, p Patch) (*models.MilestoneView, error) {
	if err := validatePatch(p); err != nil {
		return nil, err
	}
	idx, _, err := s.milestones.Index.Load(ctx)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(idx.Milestones, id) {
		return nil, unknownMilestone(id, idx)
	}
	m, _, err := collection.LoadRecord[models.Milestone](ctx, s.store, s.layout.Milestone(id), models.SchemaMilestone)
	if err != nil {
		return nil, err
	}
	if p.Status != nil {
		m.Status = *p.Status
	}
	if p.TasksTotal != nil {
		m.TasksTotal = *p.TasksTotal
	}
	if p.TasksCompleted != nil {
		m.TasksCompleted = *p.TasksCompleted
	}
	switch {
	case p.ClearNotes:
		m.Notes = nil
	case p.Notes != nil:
		m.Notes = p.Notes
	}

	data, err := models.Encode(m)
	if err != nil {
		return nil, err
	}
	if err := s.milestones.Replace(ctx, s.layout.Milestone(id), data, "mcp: update "+id); err != nil {
		return nil, err
	}
	view := m.View()
	s.logger.Info("milestone updated", slog.String("id", id), slog.Int("percent", view.Percent))
	s.notifier.Notify(events.Event{Type: events.MilestoneUpdated, ID: id, Data: view})
	return &view, nil
}

// AddMilestone creates a milestone with the next free id and registers it.
func (s *Service) AddMilestone(ctx context.Context, in NewMilestone) (*models.MilestoneView, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", apperr.ErrInvalidInput)
	}
	if in.Status == "" {
		in.Status = models.StatusPending
	}
	if !models.ValidStatus(in.Status) {
		return nil, invalidStatus(in.Status)
	}
	if in.Phase < 0 || in.TasksTotal < 0 || in.TasksCompleted < 0 {
		return nil, fmt.Errorf("%w: phase and task counts must not be negative", apperr.ErrInvalidInput)
	}

	idx, _, err := s.milestones.Index.Load(ctx)
	if err != nil {
		return nil, err
	}
	m := models.Milestone{
		ID:             NextMilestoneID(idx.Milestones),
		Phase:          in.Phase,
		Title:          in.Title,
		Status:         in.Status,
		TasksTotal:     in.TasksTotal,
		TasksCompleted: in.TasksCompleted,
		Notes:          in.Notes,
	}
	data, err := models.Encode(m)
	if err != nil {
		return nil, err
	}
	_, err = s.milestones.Create(ctx, collection.CreateRequest[models.ProgressIndex]{
		Path:          s.layout.Milestone(m.ID),
		Content:       data,
		RecordMessage: "mcp: add milestone " + m.ID,
		IndexMessage:  "mcp: update progress index for " + m.ID,
		Register: func(x *models.ProgressIndex) error {
			if slices.Contains(x.Milestones, m.ID) {
				return fmt.Errorf("%w: milestone %q is already in the index", apperr.ErrDuplicate, m.ID)
			}
			x.Milestones = append(x.Milestones, m.ID)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	view := m.View()
	s.logger.Info("milestone added", slog.String("id", m.ID))
	s.notifier.Notify(events.Event{Type: events.MilestoneCreated, ID: m.ID, Data: view})
	return &view, nil
}

func validatePatch(p Patch) error {
	if p.empty() {
		return fmt.Errorf("%w: no fields to update", apperr.ErrInvalidInput)
	}
	if p.Status != nil && !models.ValidStatus(*p.Status) {
		return invalidStatus(*p.Status)
	}
	if p.TasksTotal != nil && *p.TasksTotal < 0 {
		return fmt.Errorf("%w: tasksTotal must not be negative", apperr.ErrInvalidInput)
	}
	if p.TasksCompleted != nil && *p.TasksCompleted < 0 {
		return fmt.Errorf("%w: tasksCompleted must not be negative", apperr.ErrInvalidInput)
	}
	return nil
}

func invalidStatus(s string) error {
	return fmt.Errorf("%w: invalid status %q, must be one of: %s", apperr.ErrInvalidInput, s, strings.Join(models.Statuses, ", "))
}

func unknownMilestone(id string, idx *models.ProgressIndex) error {
	return fmt.Errorf("%w: milestone %q. Known: %s", apperr.ErrNotFound, id, strings.Join(idx.Milestones, ", "))
}

// EnsureIndex creates an empty progress index when none exists.
func (s *Service) EnsureIndex(ctx context.Context) (bool, error) {
	return s.milestones.Index.Ensure(ctx, &models.ProgressIndex{SchemaVersion: models.CurrentSchemaVersion, Milestones: []string{}}, "init progress index")
}
