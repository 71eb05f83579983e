// Package models defines the persisted records and indexes of the docstore.
package models

import (
	"math"
	"slices"
)

// CurrentSchemaVersion is written into indexes created by this program.
const CurrentSchemaVersion = 1

// Kanban columns.
const (
	ColumnBacklog    = "Backlog"
	ColumnInProgress = "In Progress"
	ColumnDone       = "Done"
)

// Columns lists the valid task columns in board order.
var Columns = []string{ColumnBacklog, ColumnInProgress, ColumnDone}

// Milestone statuses.
const (
	StatusPending    = "pending"
	StatusInProgress = "in-progress"
	StatusDone       = "done"
)

// Statuses lists the valid milestone statuses.
var Statuses = []string{StatusPending, StatusInProgress, StatusDone}

// ValidColumn reports whether c is one of Columns.
func ValidColumn(c string) bool { return slices.Contains(Columns, c) }

// ValidStatus reports whether s is one of Statuses.
func ValidStatus(s string) bool { return slices.Contains(Statuses, s) }

// DocEntry is one document reference in the docs index.
type DocEntry struct {
	Slug  string `json:"slug"`
	Title string `json:"title"`
}

// DocsIndex is docs/index.json.
type DocsIndex struct {
	SchemaVersion int        `json:"schemaVersion"`
	Docs          []DocEntry `json:"docs"`
}

// Find returns the entry for slug.
func (x *DocsIndex) Find(slug string) (DocEntry, bool) {
	for _, d := range x.Docs {
		if d.Slug == slug {
			return d, true
		}
	}
	return DocEntry{}, false
}

// Slugs returns the slugs in index order.
func (x *DocsIndex) Slugs() []string {
	out := make([]string, len(x.Docs))
	for i, d := range x.Docs {
		out[i] = d.Slug
	}
	return out
}

// KanbanIndex is kanban/index.json.
type KanbanIndex struct {
	SchemaVersion int      `json:"schemaVersion"`
	Columns       []string `json:"columns"`
	Tasks         []string `json:"tasks"`
}

// Task is kanban/{id}.json.
type Task struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Column      string  `json:"column"`
	Description *string `json:"description"`
	Assignee    *string `json:"assignee"`
}

// ProgressIndex is progress/index.json.
type ProgressIndex struct {
	SchemaVersion int      `json:"schemaVersion"`
	Milestones    []string `json:"milestones"`
}

// Milestone is progress/{id}.json. Completion percent is never persisted.
type Milestone struct {
	ID             string  `json:"id"`
	Phase          int     `json:"phase"`
	Title          string  `json:"title"`
	Status         string  `json:"status"`
	TasksTotal     int     `json:"tasksTotal"`
	TasksCompleted int     `json:"tasksCompleted"`
	Notes          *string `json:"notes"`
}

// Percent returns round(100*completed/total), or 0 when total is 0.
func (m Milestone) Percent() int {
	if m.TasksTotal == 0 {
		return 0
	}
	return int(math.Round(100 * float64(m.TasksCompleted) / float64(m.TasksTotal)))
}

// MilestoneView is a milestone with its derived completion percent.
type MilestoneView struct {
	Milestone
	Percent int `json:"percent"`
}

// View derives the read model of m.
func (m Milestone) View() MilestoneView {
	return MilestoneView{Milestone: m, Percent: m.Percent()}
}
