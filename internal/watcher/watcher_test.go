package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

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

type recorder struct {
	mu      sync.Mutex
	batches [][]string
}

func (r *recorder) record(paths []string) {
	r.mu.Lock()
	r.batches = append(r.batches, paths)
	r.mu.Unlock()
}

func (r *recorder) seen(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.batches {
		for _, p := range b {
			if p == path {
				return true
			}
		}
	}
	return false
}

func start(t *testing.T, w *Watcher) *recorder {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	rec := &recorder{}
	go w.Run(ctx, rec.record) //nolint:errcheck
	time.Sleep(100 * time.Millisecond)
	return rec
}

func TestWatcher_ReportsMatchingChanges(t *testing.T) {
	dir := t.TempDir()
	rec := start(t, &Watcher{Root: dir, Debounce: 50 * time.Millisecond, Logger: quietLogger()})

	_ = os.WriteFile(filepath.Join(dir, "reqs.md"), []byte("# Reqs"), 0o644)
	_ = os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.seen("reqs.md")
	}, "reqs.md change not reported")
	if rec.seen("notes.txt") {
		t.Error("non-matching file should not be reported")
	}
}

func TestWatcher_Exclude(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "drafts"), 0o755); err != nil {
		t.Fatal(err)
	}
	rec := start(t, &Watcher{Root: dir, Exclude: []string{"drafts/**"}, Debounce: 50 * time.Millisecond, Logger: quietLogger()})

	_ = os.WriteFile(filepath.Join(dir, "drafts", "wip.md"), []byte("x"), 0o644)
	_ = os.WriteFile(filepath.Join(dir, "done.md"), []byte("x"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.seen("done.md")
	}, "done.md change not reported")
	if rec.seen("drafts/wip.md") {
		t.Error("excluded file should not be reported")
	}
}

func TestWatcher_DebouncesIntoOneBatch(t *testing.T) {
	dir := t.TempDir()
	rec := start(t, &Watcher{Root: dir, Debounce: 300 * time.Millisecond, Logger: quietLogger()})

	for _, name := range []string{"a.md", "b.md", "c.md"} {
		_ = os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644)
	}

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.seen("c.md")
	}, "changes not reported")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.batches) != 1 || len(rec.batches[0]) != 3 {
		t.Errorf("batches = %v, want one batch of 3", rec.batches)
	}
}

func TestWatcher_NewDirectoryWatched(t *testing.T) {
	dir := t.TempDir()
	rec := start(t, &Watcher{Root: dir, Debounce: 50 * time.Millisecond, Logger: quietLogger()})

	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	_ = os.WriteFile(filepath.Join(sub, "nested.md"), []byte("x"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.seen("sub/nested.md")
	}, "file in new directory not reported")
}
