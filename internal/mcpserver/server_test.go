package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/starford/keloia/internal/apperr"
	"github.com/starford/keloia/internal/events"
	"github.com/starford/keloia/internal/filestore"
	"github.com/starford/keloia/internal/metrics"
	kt "github.com/starford/keloia/internal/testutil"
)

func testServer(t *testing.T) (*Server, *filestore.Memory, *metrics.Metrics) {
	t.Helper()
	mem := kt.TestStore(t)
	svc := kt.TestServices(mem, events.Nop)
	m := metrics.New()
	srv := New(Services{Docs: svc.Docs, Kanban: svc.Kanban, Progress: svc.Progress}, m, kt.Logger())
	return srv, mem, m
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	handlers := map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		"keloia_list_docs":       srv.listDocs,
		"keloia_read_doc":        srv.readDoc,
		"keloia_search_docs":     srv.searchDocs,
		"keloia_add_doc":         srv.addDoc,
		"keloia_edit_doc":        srv.editDoc,
		"keloia_delete_doc":      srv.deleteDoc,
		"keloia_get_kanban":      srv.getKanban,
		"keloia_add_task":        srv.addTask,
		"keloia_move_task":       srv.moveTask,
		"keloia_delete_task":     srv.deleteTask,
		"keloia_get_progress":    srv.getProgress,
		"keloia_update_progress": srv.updateProgress,
		"keloia_add_milestone":   srv.addMilestone,
	}
	h, ok := handlers[name]
	if !ok {
		t.Fatalf("unknown tool: %s", name)
	}
	result, err := h(ctx, req)
	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func decode(t *testing.T, r *mcp.CallToolResult, v any) {
	t.Helper()
	if r.IsError {
		t.Fatalf("unexpected error result: %s", resultText(r))
	}
	if err := json.Unmarshal([]byte(resultText(r)), v); err != nil {
		t.Fatalf("decode %q: %v", resultText(r), err)
	}
}

func TestAllToolsRegistered(t *testing.T) {
	srv, _, _ := testServer(t)
	tools := srv.MCPServer().ListTools()
	for _, name := range []string{
		"keloia_list_docs", "keloia_read_doc", "keloia_search_docs", "keloia_add_doc",
		"keloia_edit_doc", "keloia_delete_doc", "keloia_get_kanban", "keloia_add_task",
		"keloia_move_task", "keloia_delete_task", "keloia_get_progress",
		"keloia_update_progress", "keloia_add_milestone",
	} {
		if _, ok := tools[name]; !ok {
			t.Errorf("tool %s not registered", name)
		}
	}
}

func TestAddAndReadDoc(t *testing.T) {
	srv, _, _ := testServer(t)

	r := callTool(t, srv, "keloia_add_doc", map[string]any{
		"slug":    "intro",
		"title":   "Intro",
		"content": "# Intro\nHello world",
	})
	var entry struct{ Slug, Title string }
	decode(t, r, &entry)
	if entry.Slug != "intro" || entry.Title != "Intro" {
		t.Errorf("add result = %+v", entry)
	}

	r = callTool(t, srv, "keloia_read_doc", map[string]any{"slug": "intro"})
	if text := resultText(r); text != "# Intro\nHello world" {
		t.Errorf("read result = %q", text)
	}

	r = callTool(t, srv, "keloia_read_doc", map[string]any{"slug": "intro", "offset": float64(8), "max_tokens": float64(5)})
	if text := resultText(r); text != "Hello" {
		t.Errorf("windowed read = %q, want Hello", text)
	}

	r = callTool(t, srv, "keloia_list_docs", map[string]any{})
	var docs []struct{ Slug string }
	decode(t, r, &docs)
	if len(docs) != 1 || docs[0].Slug != "intro" {
		t.Errorf("list = %+v", docs)
	}
}

func TestReadDocUnknownSlug(t *testing.T) {
	srv, _, m := testServer(t)
	r := callTool(t, srv, "keloia_read_doc", map[string]any{"slug": "nope"})
	if !r.IsError {
		t.Fatal("expected error for unknown slug")
	}
	if !strings.Contains(resultText(r), "Available slugs") {
		t.Errorf("error text = %q", resultText(r))
	}
	if got := testutil.ToFloat64(m.ToolCalls.WithLabelValues("keloia_read_doc", metrics.OutcomeNotFound)); got != 1 {
		t.Errorf("not_found tool calls = %v, want 1", got)
	}
}

func TestMissingRequiredArgument(t *testing.T) {
	srv, mem, _ := testServer(t)
	r := callTool(t, srv, "keloia_add_doc", map[string]any{"slug": "x", "title": "X"})
	if !r.IsError {
		t.Fatal("expected error for missing content")
	}
	if len(mem.Mutations()) != 0 {
		t.Errorf("mutations = %d, want 0", len(mem.Mutations()))
	}
}

func TestEditSearchAndDeleteDoc(t *testing.T) {
	srv, _, _ := testServer(t)
	_ = callTool(t, srv, "keloia_add_doc", map[string]any{"slug": "guide", "title": "Guide", "content": "alpha"})

	r := callTool(t, srv, "keloia_edit_doc", map[string]any{"slug": "guide", "content": "line one\nBeta line", "title": "User Guide"})
	var edit struct {
		Title   string
		Updated bool
	}
	decode(t, r, &edit)
	if edit.Title != "User Guide" || !edit.Updated {
		t.Errorf("edit = %+v", edit)
	}

	r = callTool(t, srv, "keloia_search_docs", map[string]any{"pattern": "beta"})
	var hits []struct {
		Slug       string
		LineNumber int
	}
	decode(t, r, &hits)
	if len(hits) != 1 || hits[0].LineNumber != 2 {
		t.Errorf("hits = %+v", hits)
	}

	r = callTool(t, srv, "keloia_search_docs", map[string]any{"pattern": "(", "is_regex": true})
	if !r.IsError {
		t.Error("expected error for invalid regex")
	}

	r = callTool(t, srv, "keloia_delete_doc", map[string]any{"slug": "guide"})
	var del struct{ Deleted, RecordRemoved bool }
	decode(t, r, &del)
	if !del.Deleted || !del.RecordRemoved {
		t.Errorf("delete = %+v", del)
	}
}

func TestKanbanTools(t *testing.T) {
	srv, _, _ := testServer(t)

	r := callTool(t, srv, "keloia_add_task", map[string]any{"title": "Ship it", "assignee": "kim"})
	var task struct {
		ID, Column  string
		Assignee    *string
		Description *string
	}
	decode(t, r, &task)
	if task.ID != "task-001" || task.Column != "Backlog" || task.Assignee == nil || *task.Assignee != "kim" || task.Description != nil {
		t.Errorf("task = %+v", task)
	}

	r = callTool(t, srv, "keloia_move_task", map[string]any{"id": "task-001", "column": "Done"})
	decode(t, r, &task)
	if task.Column != "Done" {
		t.Errorf("moved column = %q", task.Column)
	}

	r = callTool(t, srv, "keloia_move_task", map[string]any{"id": "task-001", "column": "Later"})
	if !r.IsError {
		t.Error("expected error for invalid column")
	}

	r = callTool(t, srv, "keloia_get_kanban", map[string]any{})
	var board struct {
		Columns []struct {
			Column string
			Tasks  []struct{ ID string }
		}
	}
	decode(t, r, &board)
	if len(board.Columns) != 3 || len(board.Columns[2].Tasks) != 1 {
		t.Errorf("board = %+v", board)
	}

	r = callTool(t, srv, "keloia_delete_task", map[string]any{"id": "task-001"})
	if r.IsError {
		t.Errorf("delete failed: %s", resultText(r))
	}
}

func TestProgressTools(t *testing.T) {
	srv, mem, _ := testServer(t)

	r := callTool(t, srv, "keloia_add_milestone", map[string]any{
		"title": "MVP", "phase": float64(1), "tasksTotal": float64(4), "notes": "first cut",
	})
	var view struct {
		ID      string
		Percent int
		Notes   *string
	}
	decode(t, r, &view)
	if view.ID != "milestone-01" || view.Notes == nil {
		t.Fatalf("added = %+v", view)
	}

	r = callTool(t, srv, "keloia_update_progress", map[string]any{"id": "milestone-01", "tasksCompleted": float64(1)})
	decode(t, r, &view)
	if view.Percent != 25 || view.Notes == nil || *view.Notes != "first cut" {
		t.Errorf("updated = %+v", view)
	}

	r = callTool(t, srv, "keloia_update_progress", map[string]any{"id": "milestone-01", "notes": nil})
	decode(t, r, &view)
	if view.Notes != nil {
		t.Errorf("notes = %v, want cleared", *view.Notes)
	}
	if !strings.Contains(string(mem.Content(kt.Layout.Milestone("milestone-01"))), `"notes": null`) {
		t.Error("cleared notes not persisted as null")
	}

	r = callTool(t, srv, "keloia_update_progress", map[string]any{"id": "milestone-01", "tasksTotal": float64(2.5)})
	if !r.IsError {
		t.Error("expected error for fractional count")
	}

	r = callTool(t, srv, "keloia_get_progress", map[string]any{})
	var views []struct{ ID string }
	decode(t, r, &views)
	if len(views) != 1 {
		t.Errorf("milestones = %+v", views)
	}
}

func TestTransportErrorIsRetryableMessage(t *testing.T) {
	srv, mem, _ := testServer(t)
	mem.SetHook(func(_ context.Context, op, path string) error {
		return &apperr.TransportError{Op: op, Path: path, Status: 503, Err: errors.New("unavailable")}
	})
	r := callTool(t, srv, "keloia_list_docs", map[string]any{})
	if !r.IsError {
		t.Fatal("expected error result")
	}
	if !strings.Contains(resultText(r), "try again") {
		t.Errorf("error text = %q", resultText(r))
	}
}

func TestDocResource(t *testing.T) {
	srv, _, _ := testServer(t)
	_ = callTool(t, srv, "keloia_add_doc", map[string]any{"slug": "intro", "title": "Intro", "content": "hi"})

	req := mcp.ReadResourceRequest{}
	req.Params.URI = docURIPrefix + "intro"
	contents, err := srv.readDocResource(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if tc, ok := contents[0].(mcp.TextResourceContents); !ok || tc.Text != "hi" {
		t.Errorf("resource = %+v", contents)
	}
}

func TestReadDocHugeMaxTokens(t *testing.T) {
	srv, _, _ := testServer(t)
	_ = callTool(t, srv, "keloia_add_doc", map[string]any{"slug": "big", "title": "Big", "content": "0123456789abcdef"})

	r := callTool(t, srv, "keloia_read_doc", map[string]any{"slug": "big", "offset": float64(10), "max_tokens": float64(1 << 62)})
	if r.IsError || resultText(r) != "abcdef" {
		t.Errorf("read = %q (error %v), want abcdef", resultText(r), r.IsError)
	}

	r = callTool(t, srv, "keloia_read_doc", map[string]any{"slug": "big", "max_tokens": 1e20})
	if !r.IsError {
		t.Error("expected out of range error")
	}
}
