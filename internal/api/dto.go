package api

import (
	"encoding/json"

	"github.com/starford/keloia/internal/kanban"
	"github.com/starford/keloia/internal/models"
)

// AddDocRequest is the request body for creating a document.
type AddDocRequest struct {
	Slug    string `json:"slug" example:"architecture" validate:"required"`
	Title   string `json:"title" example:"Architecture" validate:"required"`
	Content string `json:"content" example:"# Architecture" validate:"required"`
}

// EditDocRequest is the request body for editing a document.
type EditDocRequest struct {
	Content string  `json:"content" example:"# Updated" validate:"required"`
	Title   *string `json:"title,omitempty" example:"New title"`
}

// DocResponse is a document read.
type DocResponse struct {
	Slug    string `json:"slug" validate:"required"`
	Content string `json:"content" validate:"required"`
}

// AddTaskRequest is the request body for creating a task.
type AddTaskRequest struct {
	Title       string  `json:"title" example:"Write docs" validate:"required"`
	Column      string  `json:"column,omitempty" example:"Backlog" enums:"Backlog,In Progress,Done"`
	Description *string `json:"description,omitempty"`
	Assignee    *string `json:"assignee,omitempty"`
}

// MoveTaskRequest is the request body for moving a task.
type MoveTaskRequest struct {
	Column string `json:"column" example:"Done" validate:"required"`
}

// AddMilestoneRequest is the request body for creating a milestone.
type AddMilestoneRequest struct {
	Phase          int     `json:"phase" example:"1"`
	Title          string  `json:"title" example:"MVP" validate:"required"`
	Status         string  `json:"status,omitempty" example:"pending" enums:"pending,in-progress,done"`
	TasksTotal     int     `json:"tasksTotal" example:"10"`
	TasksCompleted int     `json:"tasksCompleted" example:"0"`
	Notes          *string `json:"notes,omitempty"`
}

// UpdateMilestoneRequest is the request body for patching a milestone.
// An explicit "notes": null clears the notes.
type UpdateMilestoneRequest struct {
	Status         *string         `json:"status,omitempty"`
	TasksTotal     *int            `json:"tasksTotal,omitempty"`
	TasksCompleted *int            `json:"tasksCompleted,omitempty"`
	Notes          json.RawMessage `json:"notes,omitempty" swaggertype:"string"`
}

// DocListResponse wraps the document list.
type DocListResponse struct {
	Docs []models.DocEntry `json:"docs" validate:"required"`
}

// BoardResponse is the denormalized kanban board (aliased from the domain layer).
type BoardResponse = kanban.Board

// MilestoneListResponse wraps the milestone list.
type MilestoneListResponse struct {
	Milestones []models.MilestoneView `json:"milestones" validate:"required"`
}
