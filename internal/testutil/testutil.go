// Package testutil provides shared test helpers for setting up seeded stores
// and the domain services on top of them.
package testutil

import (
	"io"
	"log/slog"
	"testing"

	"github.com/starford/keloia/internal/docservice"
	"github.com/starford/keloia/internal/events"
	"github.com/starford/keloia/internal/filestore"
	"github.com/starford/keloia/internal/kanban"
	"github.com/starford/keloia/internal/layout"
	"github.com/starford/keloia/internal/models"
	"github.com/starford/keloia/internal/progress"
)

// Layout is the data layout the helpers seed.
var Layout = layout.New("data")

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Put encodes v and stores it at path.
func Put(t *testing.T, mem *filestore.Memory, path string, v any) {
	t.Helper()
	data, err := models.Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	mem.Put(path, data)
}

// TestStore creates an in-memory store holding empty docs, kanban and
// progress indexes.
func TestStore(t *testing.T) *filestore.Memory {
	t.Helper()
	mem := filestore.NewMemory()
	Put(t, mem, Layout.DocsIndex(), models.DocsIndex{SchemaVersion: models.CurrentSchemaVersion, Docs: []models.DocEntry{}})
	Put(t, mem, Layout.KanbanIndex(), models.KanbanIndex{SchemaVersion: models.CurrentSchemaVersion, Columns: models.Columns, Tasks: []string{}})
	Put(t, mem, Layout.ProgressIndex(), models.ProgressIndex{SchemaVersion: models.CurrentSchemaVersion, Milestones: []string{}})
	return mem
}

// Services bundles the domain services built over one store.
type Services struct {
	Docs     *docservice.Service
	Kanban   *kanban.Service
	Progress *progress.Service
}

// TestServices builds the domain services over store, reporting events to n.
func TestServices(store filestore.Client, n events.Notifier) Services {
	logger := Logger()
	return Services{
		Docs:     docservice.NewService(store, Layout, n, logger),
		Kanban:   kanban.NewService(store, Layout, n, logger),
		Progress: progress.NewService(store, Layout, n, logger),
	}
}
