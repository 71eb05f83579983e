package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/keloia/internal/docservice"
	"github.com/starford/keloia/internal/kanban"
	"github.com/starford/keloia/internal/progress"
)

// Deps are the collaborators of the API router.
type Deps struct {
	Docs     *docservice.Service
	Kanban   *kanban.Service
	Progress *progress.Service
	Auth     AuthConfig
	// Events, if non-nil, is mounted at GET /events inside the auth group.
	Events http.Handler
	Logger *slog.Logger
}

// NewRouter creates a chi router with all API routes mounted.
func NewRouter(deps Deps) chi.Router {
	h := NewHandler(deps)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(deps.Auth))

	// Docs.
	r.Get("/docs", h.ListDocs)
	r.Post("/docs", h.AddDoc)
	r.Get("/docs/{slug}", h.GetDoc)
	r.Put("/docs/{slug}", h.EditDoc)
	r.Delete("/docs/{slug}", h.DeleteDoc)

	// Search.
	r.Get("/search", h.Search)

	// Kanban.
	r.Get("/kanban", h.Board)
	r.Post("/kanban/tasks", h.AddTask)
	r.Patch("/kanban/tasks/{id}", h.MoveTask)
	r.Delete("/kanban/tasks/{id}", h.DeleteTask)

	// Progress.
	r.Get("/progress", h.Milestones)
	r.Post("/progress", h.AddMilestone)
	r.Patch("/progress/{id}", h.UpdateMilestone)

	// SSE endpoint (protected by same auth middleware).
	if deps.Events != nil {
		r.Get("/events", deps.Events.ServeHTTP)
	}

	return r
}
