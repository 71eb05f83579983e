package watch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/starford/keloia/internal/events"
)

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func startWatcher(t *testing.T, root string) *events.Recorder {
	t.Helper()
	rec := &events.Recorder{}
	w := &Watcher{
		Root:     root,
		Debounce: 50 * time.Millisecond,
		Notifier: rec,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(100 * time.Millisecond)
	return rec
}

func changes(rec *events.Recorder) []Change {
	var out []Change
	for _, ev := range rec.Events() {
		if c, ok := ev.Data.(Change); ok && ev.Type == events.StoreChanged {
			out = append(out, c)
		}
	}
	return out
}

func TestWatcher_ReportsRecordAndDocWrites(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{"kanban", "docs"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	rec := startWatcher(t, root)

	_ = os.WriteFile(filepath.Join(root, "kanban", "task-001.json"), []byte(`{}`), 0o644)
	_ = os.WriteFile(filepath.Join(root, "docs", "intro.md"), []byte("# Intro"), 0o644)
	_ = os.WriteFile(filepath.Join(root, "notes.txt"), []byte("ignored"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		got := changes(rec)
		return slices.Contains(got, Change{Path: "kanban/task-001.json", Op: "written"}) &&
			slices.Contains(got, Change{Path: "docs/intro.md", Op: "written"})
	}, "record or doc write not reported")

	for _, c := range changes(rec) {
		if c.Path == "notes.txt" {
			t.Errorf("untracked file reported: %+v", c)
		}
	}
}

func TestWatcher_CoalescesBursts(t *testing.T) {
	root := t.TempDir()
	rec := startWatcher(t, root)

	p := filepath.Join(root, "index.json")
	for range 5 {
		_ = os.WriteFile(p, []byte(`{"a":1}`), 0o644)
	}

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return len(changes(rec)) > 0
	}, "burst not reported")
	time.Sleep(200 * time.Millisecond)

	if n := len(changes(rec)); n != 1 {
		t.Errorf("changes = %d, want 1 after debounce", n)
	}
}

func TestWatcher_NewDirAndRemove(t *testing.T) {
	root := t.TempDir()
	rec := startWatcher(t, root)

	dir := filepath.Join(root, "progress")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	p := filepath.Join(dir, "milestone-01.json")
	_ = os.WriteFile(p, []byte(`{}`), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return slices.Contains(changes(rec), Change{Path: "progress/milestone-01.json", Op: "written"})
	}, "write in new dir not reported")

	_ = os.Remove(p)
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return slices.Contains(changes(rec), Change{Path: "progress/milestone-01.json", Op: "removed"})
	}, "remove not reported")
}

func TestWatcher_SkipsGitDir(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	rec := startWatcher(t, root)

	_ = os.WriteFile(filepath.Join(root, ".git", "x.json"), []byte(`{}`), 0o644)
	_ = os.WriteFile(filepath.Join(root, "a.json"), []byte(`{}`), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return len(changes(rec)) > 0
	}, "write not reported")
	time.Sleep(150 * time.Millisecond)
	for _, c := range changes(rec) {
		if c.Path != "a.json" {
			t.Errorf("unexpected change %+v", c)
		}
	}
}
