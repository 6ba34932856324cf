package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/fsyio/fsy/pkg/fsy/definition"
	"github.com/fsyio/fsy/pkg/fsy/lock"
)

func waitForChange(t *testing.T, w *Watcher, timeout time.Duration) []ChangedTarget {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if changed := w.Poll(); len(changed) > 0 {
			return changed
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

func TestWatcher_DetectsLocalChange(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	log := definition.NewDefaultLogger()

	w, err := New(log, []string{dir}, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	target := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(target, []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	changed := waitForChange(t, w, 2*time.Second)
	if len(changed) == 0 {
		t.Fatalf("expected at least one ChangedTarget for %s", target)
	}
	if changed[0].BasePath != dir {
		t.Fatalf("expected BasePath %s, got %s", dir, changed[0].BasePath)
	}
}

func TestWatcher_SuppressesLockedPath(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	log := definition.NewDefaultLogger()

	w, err := New(log, []string{dir}, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	target := filepath.Join(dir, "download.bin")
	if err := lock.Acquire(target); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lock.Release(target)

	if err := os.WriteFile(target, []byte("data"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	// Give fsnotify a generous window; the path is locked, so no
	// ChangedTarget should ever be produced for it.
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		for _, c := range w.Poll() {
			if c.BasePath == dir && filepath.Join(dir, c.RelativePath) == target {
				t.Fatalf("expected locked path to be suppressed, got %+v", c)
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestWatcher_CloseIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	log := definition.NewDefaultLogger()

	w, err := New(log, []string{dir}, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
}
