package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/keloia/internal/apperr"
	"github.com/starford/keloia/internal/docservice"
	"github.com/starford/keloia/internal/kanban"
	"github.com/starford/keloia/internal/progress"
)

func (s *Server) record(tool string, err error) {
	if s.metrics != nil {
		s.metrics.RecordTool(tool, err)
	}
}

// jsonResult renders v as indented JSON, or err as an error result.
func (s *Server) jsonResult(tool string, v any, err error) (*mcp.CallToolResult, error) {
	s.record(tool, err)
	if err != nil {
		return s.errorResult(tool, err), nil
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return s.errorResult(tool, err), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) errorResult(tool string, err error) *mcp.CallToolResult {
	s.logger.Warn("mcp: tool failed", slog.String("tool", tool), slog.String("error", err.Error()))
	return mcp.NewToolResultError(apperr.UserMessage(err))
}

func invalidArg(err error) error {
	return fmt.Errorf("%w: %s", apperr.ErrInvalidInput, err.Error())
}

// optionalString returns nil when key is absent or null.
func optionalString(req mcp.CallToolRequest, key string) (*string, error) {
	v, ok := req.GetArguments()[key]
	if !ok || v == nil {
		return nil, nil
	}
	str, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a string", apperr.ErrInvalidInput, key)
	}
	return &str, nil
}

// optionalInt returns nil when key is absent or null. JSON numbers arrive
// as float64 and must be whole.
func optionalInt(req mcp.CallToolRequest, key string) (*int, error) {
	v, ok := req.GetArguments()[key]
	if !ok || v == nil {
		return nil, nil
	}
	var n int
	switch x := v.(type) {
	case float64:
		if x >= math.MaxInt64 || x < math.MinInt64 {
			return nil, fmt.Errorf("%w: %s is out of range", apperr.ErrInvalidInput, key)
		}
		if x != float64(int(x)) {
			return nil, fmt.Errorf("%w: %s must be an integer", apperr.ErrInvalidInput, key)
		}
		n = int(x)
	case int:
		n = x
	case int64:
		n = int(x)
	default:
		return nil, fmt.Errorf("%w: %s must be a number", apperr.ErrInvalidInput, key)
	}
	return &n, nil
}

func (s *Server) listDocs(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docs, err := s.svc.Docs.List(ctx)
	return s.jsonResult("keloia_list_docs", docs, err)
}

func (s *Server) readDoc(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	const tool = "keloia_read_doc"
	slug, err := req.RequireString("slug")
	if err != nil {
		return s.jsonResult(tool, nil, invalidArg(err))
	}
	maxTokens, err := optionalInt(req, "max_tokens")
	if err != nil {
		return s.jsonResult(tool, nil, err)
	}
	offset, err := optionalInt(req, "offset")
	if err != nil {
		return s.jsonResult(tool, nil, err)
	}
	start, length := 0, -1
	if offset != nil {
		start = *offset
	}
	if maxTokens != nil {
		if *maxTokens < 0 {
			return s.jsonResult(tool, nil, fmt.Errorf("%w: max_tokens must not be negative", apperr.ErrInvalidInput))
		}
		length = *maxTokens
	}

	content, err := s.svc.Docs.Read(ctx, slug, start, length)
	s.record(tool, err)
	if err != nil {
		return s.errorResult(tool, err), nil
	}
	return mcp.NewToolResultText(content), nil
}

func (s *Server) searchDocs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	const tool = "keloia_search_docs"
	pattern, err := req.RequireString("pattern")
	if err != nil {
		return s.jsonResult(tool, nil, invalidArg(err))
	}
	hits, err := s.svc.Docs.Search(ctx, docservice.SearchQuery{
		Pattern: pattern,
		Slug:    req.GetString("slug", ""),
		Regex:   req.GetBool("is_regex", false),
	})
	return s.jsonResult(tool, hits, err)
}

func (s *Server) addDoc(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	const tool = "keloia_add_doc"
	slug, err := req.RequireString("slug")
	if err != nil {
		return s.jsonResult(tool, nil, invalidArg(err))
	}
	title, err := req.RequireString("title")
	if err != nil {
		return s.jsonResult(tool, nil, invalidArg(err))
	}
	content, err := req.RequireString("content")
	if err != nil {
		return s.jsonResult(tool, nil, invalidArg(err))
	}
	entry, err := s.svc.Docs.Add(ctx, slug, title, content)
	return s.jsonResult(tool, entry, err)
}

func (s *Server) editDoc(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	const tool = "keloia_edit_doc"
	slug, err := req.RequireString("slug")
	if err != nil {
		return s.jsonResult(tool, nil, invalidArg(err))
	}
	content, err := req.RequireString("content")
	if err != nil {
		return s.jsonResult(tool, nil, invalidArg(err))
	}
	title, err := optionalString(req, "title")
	if err != nil {
		return s.jsonResult(tool, nil, err)
	}
	res, err := s.svc.Docs.Edit(ctx, slug, content, title)
	return s.jsonResult(tool, res, err)
}

func (s *Server) deleteDoc(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	const tool = "keloia_delete_doc"
	slug, err := req.RequireString("slug")
	if err != nil {
		return s.jsonResult(tool, nil, invalidArg(err))
	}
	res, err := s.svc.Docs.Delete(ctx, slug)
	return s.jsonResult(tool, res, err)
}

func (s *Server) getKanban(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	board, err := s.svc.Kanban.Board(ctx)
	return s.jsonResult("keloia_get_kanban", board, err)
}

func (s *Server) addTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	const tool = "keloia_add_task"
	title, err := req.RequireString("title")
	if err != nil {
		return s.jsonResult(tool, nil, invalidArg(err))
	}
	in := kanban.NewTask{Title: title, Column: req.GetString("column", "")}
	if in.Description, err = optionalString(req, "description"); err != nil {
		return s.jsonResult(tool, nil, err)
	}
	if in.Assignee, err = optionalString(req, "assignee"); err != nil {
		return s.jsonResult(tool, nil, err)
	}
	task, err := s.svc.Kanban.AddTask(ctx, in)
	return s.jsonResult(tool, task, err)
}

func (s *Server) moveTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	const tool = "keloia_move_task"
	id, err := req.RequireString("id")
	if err != nil {
		return s.jsonResult(tool, nil, invalidArg(err))
	}
	column, err := req.RequireString("column")
	if err != nil {
		return s.jsonResult(tool, nil, invalidArg(err))
	}
	task, err := s.svc.Kanban.MoveTask(ctx, id, column)
	return s.jsonResult(tool, task, err)
}

func (s *Server) deleteTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	const tool = "keloia_delete_task"
	id, err := req.RequireString("id")
	if err != nil {
		return s.jsonResult(tool, nil, invalidArg(err))
	}
	res, err := s.svc.Kanban.DeleteTask(ctx, id)
	return s.jsonResult(tool, res, err)
}

func (s *Server) getProgress(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	views, err := s.svc.Progress.Milestones(ctx)
	return s.jsonResult("keloia_get_progress", views, err)
}

func (s *Server) updateProgress(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	const tool = "keloia_update_progress"
	id, err := req.RequireString("id")
	if err != nil {
		return s.jsonResult(tool, nil, invalidArg(err))
	}
	var p progress.Patch
	if p.Status, err = optionalString(req, "status"); err != nil {
		return s.jsonResult(tool, nil, err)
	}
	if p.TasksTotal, err = optionalInt(req, "tasksTotal"); err != nil {
		return s.jsonResult(tool, nil, err)
	}
	if p.TasksCompleted, err = optionalInt(req, "tasksCompleted"); err != nil {
		return s.jsonResult(tool, nil, err)
	}
	if v, ok := req.GetArguments()["notes"]; ok && v == nil {
		p.ClearNotes = true
	} else if p.Notes, err = optionalString(req, "notes"); err != nil {
		return s.jsonResult(tool, nil, err)
	}
	view, err := s.svc.Progress.UpdateMilestone(ctx, id, p)
	return s.jsonResult(tool, view, err)
}

func (s *Server) addMilestone(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	const tool = "keloia_add_milestone"
	title, err := req.RequireString("title")
	if err != nil {
		return s.jsonResult(tool, nil, invalidArg(err))
	}
	in := progress.NewMilestone{Title: title, Status: req.GetString("status", "")}
	for key, dst := range map[string]*int{
		"phase":          &in.Phase,
		"tasksTotal":     &in.TasksTotal,
		"tasksCompleted": &in.TasksCompleted,
	} {
		n, err := optionalInt(req, key)
		if err != nil {
			return s.jsonResult(tool, nil, err)
		}
		if n != nil {
			*dst = *n
		}
	}
	if in.Notes, err = optionalString(req, "notes"); err != nil {
		return s.jsonResult(tool, nil, err)
	}
	view, err := s.svc.Progress.AddMilestone(ctx, in)
	return s.jsonResult(tool, view, err)
}
