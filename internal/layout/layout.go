// Package layout derives store paths for every collection from a data root.
package layout

import "path"

// DefaultRoot is the data root used when none is configured.
const DefaultRoot = "data"

// Layout resolves collection paths relative to Root.
type Layout struct {
	Root string
}

// New returns a Layout rooted at root; "." or "" place collections at the
// top of the store.
func New(root string) Layout {
	root = path.Clean("/" + root)[1:]
	return Layout{Root: root}
}

func (l Layout) join(elem ...string) string {
	if l.Root == "" {
		return path.Join(elem...)
	}
	return path.Join(append([]string{l.Root}, elem...)...)
}

func (l Layout) DocsIndex() string { return l.join("docs", "index.json") }
func (l Layout) Doc(slug string) string { return l.join("docs", slug+".md") }
func (l Layout) KanbanIndex() string { return l.join("kanban", "index.json") }
func (l Layout) Task(id string) string { return l.join("kanban", id+".json") }
func (l Layout) ProgressIndex() string { return l.join("progress", "index.json") }
func (l Layout) Milestone(id string) string { return l.join("progress", id+".json") }
func (l Layout) Dir(collection string) string { return l.join(collection) }
