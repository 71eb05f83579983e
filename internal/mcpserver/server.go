// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes the keloia docs, kanban and progress operations as tools.
package mcpserver

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/keloia/internal/docservice"
	"github.com/starford/keloia/internal/kanban"
	"github.com/starford/keloia/internal/metrics"
	"github.com/starford/keloia/internal/models"
	"github.com/starford/keloia/internal/progress"
)

// Version is reported to MCP clients during initialization.
const Version = "1.0.0"

const docURIPrefix = "keloia://docs/"

// Services bundles the domain services the tools call into.
type Services struct {
	Docs     *docservice.Service
	Kanban   *kanban.Service
	Progress *progress.Service
}

// Server wraps the MCP server with the keloia tools.
type Server struct {
	mcp     *server.MCPServer
	svc     Services
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a new MCP server with all tools registered. m may be nil.
func New(svc Services, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{svc: svc, metrics: m, logger: logger}

	s.mcp = server.NewMCPServer(
		"keloia",
		Version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithRecovery(),
	)

	// Docs.
	s.mcp.AddTool(mcp.NewTool("keloia_list_docs",
		mcp.WithDescription("Lists all keloia documentation files with their slug and title. "+
			"Use this first to discover valid slugs for keloia_read_doc."),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.listDocs)

	s.mcp.AddTool(mcp.NewTool("keloia_read_doc",
		mcp.WithDescription("Reads the full markdown content of a keloia documentation file by its slug. "+
			"Supports optional pagination via max_tokens (character limit) and offset (character start position)."),
		mcp.WithString("slug", mcp.Required(), mcp.Description("Document slug (e.g. 'architecture')")),
		mcp.WithNumber("max_tokens", mcp.Description("Maximum characters to return")),
		mcp.WithNumber("offset", mcp.Description("Character offset to start from")),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.readDoc)

	s.mcp.AddTool(mcp.NewTool("keloia_search_docs",
		mcp.WithDescription("Searches keloia documentation content line by line. "+
			"Keyword mode is case-insensitive; set is_regex to treat pattern as a regular expression. "+
			"Returns at most 50 matches with line numbers and snippets."),
		mcp.WithString("pattern", mcp.Required(), mcp.Description("Keyword or regular expression")),
		mcp.WithString("slug", mcp.Description("Restrict the search to one document")),
		mcp.WithBoolean("is_regex", mcp.Description("Interpret pattern as a regular expression")),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.searchDocs)

	s.mcp.AddTool(mcp.NewTool("keloia_add_doc",
		mcp.WithDescription("Creates a new documentation file and registers it in the docs index."),
		mcp.WithString("slug", mcp.Required(), mcp.Description("Lowercase slug: letters, digits and inner hyphens")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Document title")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Markdown content")),
	), s.addDoc)

	s.mcp.AddTool(mcp.NewTool("keloia_edit_doc",
		mcp.WithDescription("Replaces the content of an existing document and optionally renames its title."),
		mcp.WithString("slug", mcp.Required(), mcp.Description("Document slug")),
		mcp.WithString("content", mcp.Required(), mcp.Description("New markdown content")),
		mcp.WithString("title", mcp.Description("New title; omit to keep the current one")),
	), s.editDoc)

	s.mcp.AddTool(mcp.NewTool("keloia_delete_doc",
		mcp.WithDescription("Removes a document from the docs index and deletes its file."),
		mcp.WithString("slug", mcp.Required(), mcp.Description("Document slug")),
		mcp.WithDestructiveHintAnnotation(true),
	), s.deleteDoc)

	// Kanban.
	s.mcp.AddTool(mcp.NewTool("keloia_get_kanban",
		mcp.WithDescription("Returns the kanban board with every column and its tasks "+
			"(id, title, column, description, assignee)."),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.getKanban)

	s.mcp.AddTool(mcp.NewTool("keloia_add_task",
		mcp.WithDescription("Creates a new task on the kanban board and returns it with its generated id. "+
			"Column defaults to Backlog."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Task title")),
		mcp.WithString("column", mcp.Enum(models.Columns...), mcp.DefaultString(models.ColumnBacklog),
			mcp.Description("Column to place the task in")),
		mcp.WithString("description", mcp.Description("Optional task description")),
		mcp.WithString("assignee", mcp.Description("Optional assignee name")),
	), s.addTask)

	s.mcp.AddTool(mcp.NewTool("keloia_move_task",
		mcp.WithDescription("Moves a kanban task to a different column and returns the updated task."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Task id (e.g. 'task-001')")),
		mcp.WithString("column", mcp.Required(), mcp.Enum(models.Columns...), mcp.Description("Target column")),
	), s.moveTask)

	s.mcp.AddTool(mcp.NewTool("keloia_delete_task",
		mcp.WithDescription("Removes a task from the kanban index and deletes its file."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Task id")),
		mcp.WithDestructiveHintAnnotation(true),
	), s.deleteTask)

	// Progress.
	s.mcp.AddTool(mcp.NewTool("keloia_get_progress",
		mcp.WithDescription("Returns all milestones with status, task counts and derived completion percent."),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.getProgress)

	s.mcp.AddTool(mcp.NewTool("keloia_update_progress",
		mcp.WithDescription("Updates fields of a milestone. Only the given fields change; "+
			"pass notes as null to clear them."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Milestone id (e.g. 'milestone-01')")),
		mcp.WithString("status", mcp.Enum(models.Statuses...), mcp.Description("New status")),
		mcp.WithNumber("tasksTotal", mcp.Min(0), mcp.Description("Total number of tasks")),
		mcp.WithNumber("tasksCompleted", mcp.Min(0), mcp.Description("Number of completed tasks")),
		mcp.WithString("notes", mcp.Description("Notes; null clears them")),
	), s.updateProgress)

	s.mcp.AddTool(mcp.NewTool("keloia_add_milestone",
		mcp.WithDescription("Creates a new milestone with the next free id and registers it."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Milestone title")),
		mcp.WithNumber("phase", mcp.Min(0), mcp.Description("Phase number")),
		mcp.WithString("status", mcp.Enum(models.Statuses...), mcp.DefaultString(models.StatusPending),
			mcp.Description("Initial status")),
		mcp.WithNumber("tasksTotal", mcp.Min(0), mcp.Description("Total number of tasks")),
		mcp.WithNumber("tasksCompleted", mcp.Min(0), mcp.Description("Number of completed tasks")),
		mcp.WithString("notes", mcp.Description("Optional notes")),
	), s.addMilestone)

	// Resource template: raw document content.
	s.mcp.AddResourceTemplate(
		mcp.NewResourceTemplate(docURIPrefix+"{slug}", "Document",
			mcp.WithTemplateDescription("Raw markdown content of a keloia document."),
			mcp.WithTemplateMIMEType("text/markdown"),
		),
		s.readDocResource,
	)

	return s
}

// ServeStdio serves MCP over r/w until ctx is cancelled or r is closed.
func (s *Server) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, r, w)
}

// HTTPHandler returns the streamable HTTP transport, to be mounted at path.
func (s *Server) HTTPHandler(path string) http.Handler {
	return server.NewStreamableHTTPServer(s.mcp, server.WithEndpointPath(path))
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) readDocResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	slug := strings.TrimPrefix(req.Params.URI, docURIPrefix)
	content, err := s.svc.Docs.Read(ctx, slug, 0, -1)
	s.record("resource_doc", err)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "text/markdown",
			Text:     content,
		},
	}, nil
}
