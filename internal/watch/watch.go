// Package watch turns out-of-band edits under a local store root into
// change events.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/keloia/internal/events"
)

// DefaultDebounce coalesces the bursts produced by atomic renames and editors.
const DefaultDebounce = 200 * time.Millisecond

// Change is the payload of a StoreChanged event.
type Change struct {
	Path string `json:"path"`
	Op   string `json:"op"`
}

// Watcher reports changed records (.json) and documents (.md) below Root.
type Watcher struct {
	Root     string
	Debounce time.Duration
	Notifier events.Notifier
	Logger   *slog.Logger
}

// Run watches until ctx is cancelled. New directories are added as they
// appear and .git is never watched.
func (w *Watcher) Run(ctx context.Context) error {
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := addDirsRecursive(fw, w.Root); err != nil {
		return err
	}
	logger.Info("watcher: started", slog.String("root", w.Root))

	pending := map[string]string{}
	var timer *time.Timer
	var fire <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
			fire = timer.C
			return
		}
		timer.Reset(debounce)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-fire:
			w.flush(pending, logger)
			clear(pending)

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if skipDir(info.Name()) {
						continue
					}
					if addErr := addDirsRecursive(fw, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
					continue
				}
			}
			if !tracked(ev.Name) {
				continue
			}
			rel, relErr := filepath.Rel(w.Root, ev.Name)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)
			switch {
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				pending[rel] = "removed"
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				pending[rel] = "written"
			default:
				continue
			}
			schedule()

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func (w *Watcher) flush(pending map[string]string, logger *slog.Logger) {
	paths := make([]string, 0, len(pending))
	for p := range pending {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	for _, p := range paths {
		op := pending[p]
		// A remove followed by a recreate inside one window is a write.
		if op == "removed" {
			if _, err := os.Stat(filepath.Join(w.Root, filepath.FromSlash(p))); err == nil {
				op = "written"
			}
		}
		logger.Debug("watcher: changed", slog.String("path", p), slog.String("op", op))
		if w.Notifier != nil {
			w.Notifier.Notify(events.Event{Type: events.StoreChanged, ID: p, Data: Change{Path: p, Op: op}})
		}
	}
}

// tracked reports whether name is a file kind the store writes.
func tracked(name string) bool {
	return strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".md")
}

func skipDir(name string) bool {
	return name == ".git"
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
