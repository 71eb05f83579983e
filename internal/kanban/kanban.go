// Package kanban implements the task board operations.
package kanban

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

// NextTaskID returns task-NNN where NNN is one more than the largest numeric
// suffix among ids, zero-padded to three digits. Ids without a numeric
// suffix count as zero. The result is not guarded against a concurrent
// create computing the same id in another process.
func NextTaskID(ids []string) string {
	return collection.NextID("task-", 3, ids)
}

// Column is one board column with its tasks in index order.
type Column struct {
	Column string        `json:"column"`
	Tasks  []models.Task `json:"tasks"`
}

// Board is the denormalized kanban board.
type Board struct {
	Columns []Column `json:"columns"`
}

// NewTask is the input of AddTask. An empty Column means Backlog.
type NewTask struct {
	Title       string
	Column      string
	Description *string
	Assignee    *string
}

// DeleteResult is returned by DeleteTask.
type DeleteResult struct {
	ID            string `json:"id"`
	Deleted       bool   `json:"deleted"`
	RecordRemoved bool   `json:"recordRemoved"`
}

// Service coordinates task records and the kanban index.
type Service struct {
	store    filestore.Client
	layout   layout.Layout
	tasks    *collection.Set[models.KanbanIndex]
	notifier events.Notifier
	logger   *slog.Logger
}

// NewService creates a kanban service. A nil notifier discards events.
func NewService(store filestore.Client, l layout.Layout, notifier events.Notifier, logger *slog.Logger) *Service {
	if notifier == nil {
		notifier = events.Nop
	}
	if logger == nil {
		logger = slog.Default()
	}
	idx := collection.NewIndex[models.KanbanIndex](store, l.KanbanIndex(), models.SchemaKanbanIndex)
	return &Service{
		store:    store,
		layout:   l,
		tasks:    collection.NewSet(store, idx, logger),
		notifier: notifier,
		logger:   logger,
	}
}

// Board reads every indexed task concurrently and groups them by the
// index's column order. Tasks whose record is missing are skipped.
func (s *Service) Board(ctx context.Context) (*Board, error) {
	idx, _, err := s.tasks.Index.Load(ctx)
	if err != nil {
		return nil, err
	}
	tasks := make([]*models.Task, len(idx.Tasks))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range idx.Tasks {
		g.Go(func() error {
			f, err := filestore.ReadOptional(gctx, s.store, s.layout.Task(id))
			if err != nil || f == nil {
				return err
			}
			var t models.Task
			if err := models.Decode(models.SchemaTask, f.Content, &t); err != nil {
				return fmt.Errorf("decode record %s: %w", f.Path, err)
			}
			tasks[i] = &t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	board := &Board{Columns: make([]Column, 0, len(idx.Columns))}
	for _, col := range idx.Columns {
		c := Column{Column: col, Tasks: []models.Task{}}
		for _, t := range tasks {
			if t != nil && t.Column == col {
				c.Tasks = append(c.Tasks, *t)
			}
		}
		board.Columns = append(board.Columns, c)
	}
	return board, nil
}

// AddTask creates a task with the next free id and registers it in the index.
func (s *Service) AddTask(ctx context.Context, in NewTask) (*models.Task, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", apperr.ErrInvalidInput)
	}
	if in.Column == "" {
		in.Column = models.ColumnBacklog
	}
	if !models.ValidColumn(in.Column) {
		return nil, invalidColumn(in.Column)
	}

	idx, _, err := s.tasks.Index.Load(ctx)
	if err != nil {
		return nil, err
	}
	task := models.Task{
		ID:          NextTaskID(idx.Tasks),
		Title:       in.Title,
		Column:      in.Column,
		Description: in.Description,
		Assignee:    in.Assignee,
	}
	data, err := models.Encode(task)
	if err != nil {
		return nil, err
	}
	_, err = s.tasks.Create(ctx, collection.CreateRequest[models.KanbanIndex]{
		Path:          s.layout.Task(task.ID),
		Content:       data,
		RecordMessage: "mcp: add task " + task.ID,
		IndexMessage:  "mcp: update kanban index for " + task.ID,
		Register: func(x *models.KanbanIndex) error {
			if slices.Contains(x.Tasks, task.ID) {
				return fmt.Errorf("%w: task %q is already in the index", apperr.ErrDuplicate, task.ID)
			}
			x.Tasks = append(x.Tasks, task.ID)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("task added", slog.String("id", task.ID), slog.String("column", task.Column))
	s.notifier.Notify(events.Event{Type: events.TaskCreated, ID: task.ID, Data: task})
	return &task, nil
}

// MoveTask sets the column of an indexed task. Only the task record is written.
func (s *Service) MoveTask(ctx context.Context, id, column string) (*models.Task, error) {
	if !models.ValidColumn(column) {
		return nil, invalidColumn(column)
	}
	idx, _, err := s.tasks.Index.Load(ctx)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(idx.Tasks, id) {
		return nil, unknownTask(id, idx)
	}
	task, _, err := collection.LoadRecord[models.Task](ctx, s.store, s.layout.Task(id), models.SchemaTask)
	if err != nil {
		return nil, err
	}
	task.Column = column
	data, err := models.Encode(task)
	if err != nil {
		return nil, err
	}
	if err := s.tasks.Replace(ctx, s.layout.Task(id), data, "mcp: move "+id+" to "+column); err != nil {
		return nil, err
	}
	s.logger.Info("task moved", slog.String("id", id), slog.String("column", column))
	s.notifier.Notify(events.Event{Type: events.TaskMoved, ID: id, Data: task})
	return task, nil
}

// DeleteTask removes id from the index and then deletes its record on a
// best-effort basis.
func (s *Service) DeleteTask(ctx context.Context, id string) (*DeleteResult, error) {
	idx, _, err := s.tasks.Index.Load(ctx)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(idx.Tasks, id) {
		return nil, unknownTask(id, idx)
	}
	res, err := s.tasks.Delete(ctx, collection.DeleteRequest[models.KanbanIndex]{
		Path:          s.layout.Task(id),
		RecordMessage: "mcp: delete task " + id,
		IndexMessage:  "mcp: remove " + id + " from kanban index",
		Deregister: func(x *models.KanbanIndex) error {
			i := slices.Index(x.Tasks, id)
			if i < 0 {
				return unknownTask(id, x)
			}
			x.Tasks = slices.Delete(x.Tasks, i, i+1)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("task deleted", slog.String("id", id), slog.Bool("record_removed", res.RecordRemoved))
	s.notifier.Notify(events.Event{Type: events.TaskDeleted, ID: id})
	return &DeleteResult{ID: id, Deleted: true, RecordRemoved: res.RecordRemoved}, nil
}

func invalidColumn(c string) error {
	return fmt.Errorf("%w: invalid column %q, must be one of: %s", apperr.ErrInvalidInput, c, strings.Join(models.Columns, ", "))
}

func unknownTask(id string, idx *models.KanbanIndex) error {
	return fmt.Errorf("%w: task %q. Known tasks: %s", apperr.ErrNotFound, id, strings.Join(idx.Tasks, ", "))
}

// EnsureIndex creates an empty kanban index when none exists.
func (s *Service) EnsureIndex(ctx context.Context) (bool, error) {
	return s.tasks.Index.Ensure(ctx, &models.KanbanIndex{SchemaVersion: models.CurrentSchemaVersion, Columns: slices.Clone(models.Columns), Tasks: []string{}}, "init kanban index")
}
