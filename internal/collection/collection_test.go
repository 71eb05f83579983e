package collection

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/starford/keloia/internal/apperr"
	"github.com/starford/keloia/internal/filestore"
	"github.com/starford/keloia/internal/models"
)

const indexPath = "kanban/index.json"

func newSet(t *testing.T) (*filestore.Memory, *Set[models.KanbanIndex]) {
	t.Helper()
	mem := filestore.NewMemory()
	mem.Put(indexPath, []byte(`{"schemaVersion":1,"columns":["Backlog","In Progress","Done"],"tasks":[]}`))
	idx := NewIndex[models.KanbanIndex](mem, indexPath, models.SchemaKanbanIndex)
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	return mem, NewSet(mem, idx, quiet)
}

func register(id string) func(*models.KanbanIndex) error {
	return func(x *models.KanbanIndex) error {
		x.Tasks = append(x.Tasks, id)
		return nil
	}
}

func deregister(id string) func(*models.KanbanIndex) error {
	return func(x *models.KanbanIndex) error {
		i := slices.Index(x.Tasks, id)
		if i < 0 {
			return apperr.ErrNotFound
		}
		x.Tasks = slices.Delete(x.Tasks, i, i+1)
		return nil
	}
}

func loadTasks(t *testing.T, s *Set[models.KanbanIndex]) []string {
	t.Helper()
	x, _, err := s.Index.Load(context.Background())
	require.NoError(t, err)
	return x.Tasks
}

func TestCreateWritesRecordThenIndex(t *testing.T) {
	mem, s := newSet(t)
	_, err := s.Create(context.Background(), CreateRequest[models.KanbanIndex]{
		Path:     "kanban/task-001.json",
		Content:  []byte(`{}`),
		Register: register("task-001"),
	})
	require.NoError(t, err)

	want := []filestore.Call{
		{Op: filestore.OpWrite, Path: "kanban/task-001.json"},
		{Op: filestore.OpWrite, Path: indexPath},
	}
	if diff := cmp.Diff(want, mem.Mutations()); diff != "" {
		t.Errorf("mutation order (-want +got):\n%s", diff)
	}
	require.Equal(t, []string{"task-001"}, loadTasks(t, s))
}

func TestCreateRefusesUnindexedRecord(t *testing.T) {
	mem, s := newSet(t)
	mem.Put("kanban/task-001.json", []byte(`{"orphan":true}`))

	_, err := s.Create(context.Background(), CreateRequest[models.KanbanIndex]{
		Path:     "kanban/task-001.json",
		Content:  []byte(`{}`),
		Register: register("task-001"),
	})
	require.ErrorIs(t, err, apperr.ErrUnindexedFile)
	require.Equal(t, `{"orphan":true}`, string(mem.Content("kanban/task-001.json")))
	require.Empty(t, loadTasks(t, s))
}

func TestCreateIndexConflictLeavesInvisibleOrphan(t *testing.T) {
	mem, s := newSet(t)
	mem.SetHook(func(_ context.Context, op, path string) error {
		if op == filestore.OpWrite && path == indexPath {
			return &apperr.ConflictError{Path: path, ExpectedVersion: "stale"}
		}
		return nil
	})

	_, err := s.Create(context.Background(), CreateRequest[models.KanbanIndex]{
		Path:     "kanban/task-001.json",
		Content:  []byte(`{}`),
		Register: register("task-001"),
	})
	require.ErrorIs(t, err, apperr.ErrConflict)
	require.True(t, apperr.Retryable(err))
	require.True(t, mem.Has("kanban/task-001.json"), "record written before index")

	// Re-running create must not silently overwrite the orphan.
	mem.SetHook(nil)
	_, err = s.Create(context.Background(), CreateRequest[models.KanbanIndex]{
		Path:     "kanban/task-001.json",
		Content:  []byte(`{"second":true}`),
		Register: register("task-001"),
	})
	require.ErrorIs(t, err, apperr.ErrUnindexedFile)
	require.Empty(t, loadTasks(t, s))
}

func TestIndexUpdateDetectsConcurrentChange(t *testing.T) {
	mem, s := newSet(t)
	ctx := context.Background()
	// Another process updates the index between our read and our write.
	mem.SetHook(func(_ context.Context, op, path string) error {
		if op == filestore.OpWrite && path == indexPath {
			mem.SetHook(nil)
			mem.Put(indexPath, []byte(`{"schemaVersion":1,"columns":[],"tasks":["task-009"]}`))
		}
		return nil
	})
	_, err := s.Index.Update(ctx, "", register("task-001"))
	require.ErrorIs(t, err, apperr.ErrConflict)
	require.Equal(t, []string{"task-009"}, loadTasks(t, s), "concurrent change must not be lost")
}

func TestMutateErrorAbortsBeforeWrite(t *testing.T) {
	mem, s := newSet(t)
	_, err := s.Index.Update(context.Background(), "", deregister("task-404"))
	require.ErrorIs(t, err, apperr.ErrNotFound)
	require.Empty(t, mem.Mutations())
}

func TestDeleteRemovesIndexThenRecord(t *testing.T) {
	mem, s := newSet(t)
	ctx := context.Background()
	_, err := s.Create(ctx, CreateRequest[models.KanbanIndex]{Path: "kanban/task-001.json", Content: []byte(`{}`), Register: register("task-001")})
	require.NoError(t, err)
	before := len(mem.Mutations())

	res, err := s.Delete(ctx, DeleteRequest[models.KanbanIndex]{Path: "kanban/task-001.json", Deregister: deregister("task-001")})
	require.NoError(t, err)
	require.True(t, res.RecordRemoved)

	want := []filestore.Call{
		{Op: filestore.OpWrite, Path: indexPath},
		{Op: filestore.OpRemove, Path: "kanban/task-001.json"},
	}
	if diff := cmp.Diff(want, mem.Mutations()[before:]); diff != "" {
		t.Errorf("mutation order (-want +got):\n%s", diff)
	}
	require.False(t, mem.Has("kanban/task-001.json"))
}

func TestDeleteRecordFailureIsBestEffort(t *testing.T) {
	mem, s := newSet(t)
	ctx := context.Background()
	_, err := s.Create(ctx, CreateRequest[models.KanbanIndex]{Path: "kanban/task-001.json", Content: []byte(`{}`), Register: register("task-001")})
	require.NoError(t, err)

	mem.SetHook(func(_ context.Context, op, _ string) error {
		if op == filestore.OpRemove {
			return &apperr.TransportError{Op: op, Status: 502, Err: errors.New("bad gateway")}
		}
		return nil
	})
	res, err := s.Delete(ctx, DeleteRequest[models.KanbanIndex]{Path: "kanban/task-001.json", Deregister: deregister("task-001")})
	require.NoError(t, err)
	require.False(t, res.RecordRemoved)
	require.Empty(t, loadTasks(t, s))
	require.True(t, mem.Has("kanban/task-001.json"))
}

func TestDeleteMissingRecordIsNotAnError(t *testing.T) {
	mem, s := newSet(t)
	mem.Put(indexPath, []byte(`{"schemaVersion":1,"columns":[],"tasks":["task-001"]}`))

	res, err := s.Delete(context.Background(), DeleteRequest[models.KanbanIndex]{Path: "kanban/task-001.json", Deregister: deregister("task-001")})
	require.NoError(t, err)
	require.True(t, res.RecordRemoved)
	for _, c := range mem.Mutations() {
		require.NotEqual(t, filestore.OpRemove, c.Op)
	}
}

func TestDeleteIndexFailureKeepsRecord(t *testing.T) {
	mem, s := newSet(t)
	ctx := context.Background()
	_, err := s.Create(ctx, CreateRequest[models.KanbanIndex]{Path: "kanban/task-001.json", Content: []byte(`{}`), Register: register("task-001")})
	require.NoError(t, err)

	mem.SetHook(func(_ context.Context, op, path string) error {
		if op == filestore.OpWrite && path == indexPath {
			return &apperr.TransportError{Op: op, Path: path, Err: errors.New("dial tcp: no route")}
		}
		return nil
	})
	_, err = s.Delete(ctx, DeleteRequest[models.KanbanIndex]{Path: "kanban/task-001.json", Deregister: deregister("task-001")})
	require.ErrorIs(t, err, apperr.ErrTransport)
	require.True(t, mem.Has("kanban/task-001.json"), "record must survive a failed index write")
}

func TestReplaceRecreatesMissingRecord(t *testing.T) {
	mem, s := newSet(t)
	ctx := context.Background()
	require.NoError(t, s.Replace(ctx, "docs/a.md", []byte("v1"), ""))
	require.NoError(t, s.Replace(ctx, "docs/a.md", []byte("v2"), ""))
	require.Equal(t, "v2", string(mem.Content("docs/a.md")))
}

func TestLoadRecordValidates(t *testing.T) {
	mem, _ := newSet(t)
	mem.Put("kanban/task-001.json", []byte(`{"id":"task-001","title":"x","column":"Someday"}`))
	_, _, err := LoadRecord[models.Task](context.Background(), mem, "kanban/task-001.json", models.SchemaTask)
	require.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestEnsureCreatesOnlyWhenMissing(t *testing.T) {
	mem := filestore.NewMemory()
	idx := NewIndex[models.KanbanIndex](mem, indexPath, models.SchemaKanbanIndex)
	ctx := context.Background()
	empty := &models.KanbanIndex{SchemaVersion: 1, Columns: models.Columns, Tasks: []string{}}

	created, err := idx.Ensure(ctx, empty, "init")
	require.NoError(t, err)
	require.True(t, created)

	_, err = idx.Update(ctx, "add", register("task-001"))
	require.NoError(t, err)

	created, err = idx.Ensure(ctx, empty, "init")
	require.NoError(t, err)
	require.False(t, created)
	x, _, err := idx.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"task-001"}, x.Tasks)
}
