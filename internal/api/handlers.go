package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/keloia/internal/docservice"
	"github.com/starford/keloia/internal/kanban"
	"github.com/starford/keloia/internal/progress"
)

// Handler holds API route handlers.
type Handler struct {
	docs     *docservice.Service
	kanban   *kanban.Service
	progress *progress.Service
	logger   *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{docs: deps.Docs, kanban: deps.Kanban, progress: deps.Progress, logger: logger}
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, key string, def int) (int, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	return n, err == nil
}

// ListDocs handles GET /api/docs.
//
//	@Summary		List documents
//	@Tags			docs
//	@Produce		json
//	@Success		200	{object}	DocListResponse
//	@Security		BearerAuth
//	@Router			/docs [get]
func (h *Handler) ListDocs(w http.ResponseWriter, r *http.Request) {
	docs, err := h.docs.List(r.Context())
	if err != nil {
		h.writeError(w, r, "list docs", err)
		return
	}
	writeJSON(w, http.StatusOK, DocListResponse{Docs: docs})
}

// GetDoc handles GET /api/docs/{slug}.
//
//	@Summary		Read a document, optionally windowed
//	@Tags			docs
//	@Produce		json
//	@Param			slug	path		string	true	"Document slug"
//	@Param			offset	query		int		false	"Character offset"
//	@Param			length	query		int		false	"Maximum characters"
//	@Success		200		{object}	DocResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/docs/{slug} [get]
func (h *Handler) GetDoc(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	offset, ok := queryInt(r, "offset", 0)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("offset must be an integer"))
		return
	}
	length, ok := queryInt(r, "length", -1)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("length must be an integer"))
		return
	}
	content, err := h.docs.Read(r.Context(), slug, offset, length)
	if err != nil {
		h.writeError(w, r, "read doc", err)
		return
	}
	writeJSON(w, http.StatusOK, DocResponse{Slug: slug, Content: content})
}

// AddDoc handles POST /api/docs.
//
//	@Summary		Create a document
//	@Tags			docs
//	@Accept			json
//	@Produce		json
//	@Param			body	body		AddDocRequest	true	"Document to create"
//	@Success		201		{object}	models.DocEntry
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/docs [post]
func (h *Handler) AddDoc(w http.ResponseWriter, r *http.Request) {
	var req AddDocRequest
	if !decodeBody(w, r, &req) {
		return
	}
	entry, err := h.docs.Add(r.Context(), req.Slug, req.Title, req.Content)
	if err != nil {
		h.writeError(w, r, "add doc", err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// EditDoc handles PUT /api/docs/{slug}.
//
//	@Summary		Replace a document's content and optionally its title
//	@Tags			docs
//	@Accept			json
//	@Produce		json
//	@Param			slug	path		string			true	"Document slug"
//	@Param			body	body		EditDocRequest	true	"New content"
//	@Success		200		{object}	docservice.EditResult
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/docs/{slug} [put]
func (h *Handler) EditDoc(w http.ResponseWriter, r *http.Request) {
	var req EditDocRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.docs.Edit(r.Context(), chi.URLParam(r, "slug"), req.Content, req.Title)
	if err != nil {
		h.writeError(w, r, "edit doc", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DeleteDoc handles DELETE /api/docs/{slug}.
//
//	@Summary		Delete a document
//	@Tags			docs
//	@Produce		json
//	@Param			slug	path		string	true	"Document slug"
//	@Success		200		{object}	docservice.DeleteResult
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/docs/{slug} [delete]
func (h *Handler) DeleteDoc(w http.ResponseWriter, r *http.Request) {
	res, err := h.docs.Delete(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		h.writeError(w, r, "delete doc", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Search handles GET /api/search.
//
//	@Summary		Search document lines
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Keyword or pattern"
//	@Param			slug	query		string	false	"Restrict to one document"
//	@Param			regex	query		bool	false	"Treat q as a regular expression"
//	@Success		200		{object}	map[string][]docservice.SearchHit
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pattern := q.Get("q")
	if pattern == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	regex := false
	if v := q.Get("regex"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("regex must be a boolean"))
			return
		}
		regex = b
	}
	hits, err := h.docs.Search(r.Context(), docservice.SearchQuery{Pattern: pattern, Slug: q.Get("slug"), Regex: regex})
	if err != nil {
		h.writeError(w, r, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": hits,
	})
}

// Board handles GET /api/kanban.
//
//	@Summary		Get the kanban board
//	@Tags			kanban
//	@Produce		json
//	@Success		200	{object}	BoardResponse
//	@Security		BearerAuth
//	@Router			/kanban [get]
func (h *Handler) Board(w http.ResponseWriter, r *http.Request) {
	board, err := h.kanban.Board(r.Context())
	if err != nil {
		h.writeError(w, r, "get board", err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

// AddTask handles POST /api/kanban/tasks.
//
//	@Summary		Create a task
//	@Tags			kanban
//	@Accept			json
//	@Produce		json
//	@Param			body	body		AddTaskRequest	true	"Task to create"
//	@Success		201		{object}	models.Task
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/kanban/tasks [post]
func (h *Handler) AddTask(w http.ResponseWriter, r *http.Request) {
	var req AddTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}
	task, err := h.kanban.AddTask(r.Context(), kanban.NewTask{
		Title:       req.Title,
		Column:      req.Column,
		Description: req.Description,
		Assignee:    req.Assignee,
	})
	if err != nil {
		h.writeError(w, r, "add task", err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// MoveTask handles PATCH /api/kanban/tasks/{id}.
//
//	@Summary		Move a task to another column
//	@Tags			kanban
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Task id"
//	@Param			body	body		MoveTaskRequest	true	"Target column"
//	@Success		200		{object}	models.Task
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/kanban/tasks/{id} [patch]
func (h *Handler) MoveTask(w http.ResponseWriter, r *http.Request) {
	var req MoveTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}
	task, err := h.kanban.MoveTask(r.Context(), chi.URLParam(r, "id"), req.Column)
	if err != nil {
		h.writeError(w, r, "move task", err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// DeleteTask handles DELETE /api/kanban/tasks/{id}.
//
//	@Summary		Delete a task
//	@Tags			kanban
//	@Produce		json
//	@Param			id	path		string	true	"Task id"
//	@Success		200	{object}	kanban.DeleteResult
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/kanban/tasks/{id} [delete]
func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	res, err := h.kanban.DeleteTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "delete task", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Milestones handles GET /api/progress.
//
//	@Summary		List milestones with derived percent
//	@Tags			progress
//	@Produce		json
//	@Success		200	{object}	MilestoneListResponse
//	@Security		BearerAuth
//	@Router			/progress [get]
func (h *Handler) Milestones(w http.ResponseWriter, r *http.Request) {
	views, err := h.progress.Milestones(r.Context())
	if err != nil {
		h.writeError(w, r, "list milestones", err)
		return
	}
	writeJSON(w, http.StatusOK, MilestoneListResponse{Milestones: views})
}

// AddMilestone handles POST /api/progress.
//
//	@Summary		Create a milestone
//	@Tags			progress
//	@Accept			json
//	@Produce		json
//	@Param			body	body		AddMilestoneRequest	true	"Milestone to create"
//	@Success		201		{object}	models.MilestoneView
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/progress [post]
func (h *Handler) AddMilestone(w http.ResponseWriter, r *http.Request) {
	var req AddMilestoneRequest
	if !decodeBody(w, r, &req) {
		return
	}
	view, err := h.progress.AddMilestone(r.Context(), progress.NewMilestone{
		Phase:          req.Phase,
		Title:          req.Title,
		Status:         req.Status,
		TasksTotal:     req.TasksTotal,
		TasksCompleted: req.TasksCompleted,
		Notes:          req.Notes,
	})
	if err != nil {
		h.writeError(w, r, "add milestone", err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// UpdateMilestone handles PATCH /api/progress/{id}.
//
//	@Summary		Patch a milestone
//	@Tags			progress
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string					true	"Milestone id"
//	@Param			body	body		UpdateMilestoneRequest	true	"Fields to change"
//	@Success		200		{object}	models.MilestoneView
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/progress/{id} [patch]
func (h *Handler) UpdateMilestone(w http.ResponseWriter, r *http.Request) {
	var req UpdateMilestoneRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p := progress.Patch{Status: req.Status, TasksTotal: req.TasksTotal, TasksCompleted: req.TasksCompleted}
	switch {
	case len(req.Notes) == 0:
	case bytes.Equal(req.Notes, []byte("null")):
		p.ClearNotes = true
	default:
		var notes string
		if err := json.Unmarshal(req.Notes, &notes); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("notes must be a string or null"))
			return
		}
		p.Notes = &notes
	}
	view, err := h.progress.UpdateMilestone(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		h.writeError(w, r, "update milestone", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
