// Package events defines the change notifications published after a
// successful mutation.
package events

import "sync"

// Event types.
const (
	DocCreated       = "doc.created"
	DocUpdated       = "doc.updated"
	DocDeleted       = "doc.deleted"
	TaskCreated      = "task.created"
	TaskMoved        = "task.moved"
	TaskDeleted      = "task.deleted"
	MilestoneCreated = "milestone.created"
	MilestoneUpdated = "milestone.updated"
	// StoreChanged is published by the filesystem watcher for edits made
	// outside this process.
	StoreChanged = "store.changed"
)

// Event describes one committed change.
type Event struct {
	Type string `json:"type"`
	// ID is the slug or identifier of the affected member, or a store path
	// for StoreChanged.
	ID   string `json:"id"`
	Data any    `json:"data,omitempty"`
}

// Notifier receives events. Implementations must not block the caller.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(e Event) { f(e) }

// Nop discards every event.
var Nop Notifier = NotifierFunc(func(Event) {})

// Multi fans an event out to several notifiers in order.
func Multi(ns ...Notifier) Notifier {
	return NotifierFunc(func(e Event) {
		for _, n := range ns {
			if n != nil {
				n.Notify(e)
			}
		}
	})
}

// Recorder collects events for inspection in tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []string {
	evs := r.Events()
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.Type
	}
	return out
}
