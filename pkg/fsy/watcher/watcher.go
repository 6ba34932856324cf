// Package watcher implements the path watcher: a debounced filesystem
// observer that converts local mutations under a set of push paths into
// ChangedTarget records, suppressing changes that are really just an
// in-flight inbound download (the loop-avoidance lock).
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fsyio/fsy/pkg/fsy/definition"
	"github.com/fsyio/fsy/pkg/fsy/lock"
)

// ChangedTarget is produced by the watcher for every push path that
// changed, with the suffix after BasePath already trimmed.
type ChangedTarget struct {
	BasePath     string
	RelativePath string
}

// Watcher wraps an fsnotify watcher with per-path debouncing, mirroring
// original_source/src/path_watcher.rs's Debouncer: raw events are buffered
// and a single notification is emitted per path after debounce of
// quiescence on that path.
type Watcher struct {
	log       definition.Logger
	pushPaths []string
	debounce  time.Duration

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]time.Time
	closed  bool
}

// New creates a Watcher over pushPaths, not yet watching anything; call
// Start to register them.
func New(log definition.Logger, pushPaths []string, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		log:       log,
		pushPaths: append([]string(nil), pushPaths...),
		debounce:  debounce,
		fsw:       fsw,
		pending:   make(map[string]time.Time),
	}
	go w.collect()
	return w, nil
}

// collect runs for the lifetime of the watcher, buffering raw fsnotify
// events into the debounce window. It never blocks Poll.
func (w *Watcher) collect() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			// We care that something changed, not precisely what kind of
			// write/create/rename it was.
			if ev.Op == 0 {
				continue
			}
			w.mu.Lock()
			w.pending[ev.Name] = time.Now().Add(w.debounce)
			w.mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warnf("watcher: fsnotify error: %v", err)
		}
	}
}

// Start registers each push path for watching: recursive for a directory,
// non-recursive for a single file. Fails if a path does not exist.
func (w *Watcher) Start() error {
	for _, p := range w.pushPaths {
		info, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("watcher: push path %q: %w", p, err)
		}

		if info.IsDir() {
			if err := w.watchRecursive(p); err != nil {
				return err
			}
			continue
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("watcher: add %q: %w", p, err)
		}
	}
	return nil
}

func (w *Watcher) watchRecursive(root string) error {
	return filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("watcher: add %q: %w", p, err)
		}
		return nil
	})
}

// Poll is a non-blocking drain of every path whose debounce window has
// elapsed, mapped onto the registered push paths. A path currently locked
// by an in-flight download is suppressed here.
func (w *Watcher) Poll() []ChangedTarget {
	now := time.Now()

	w.mu.Lock()
	var ready []string
	for p, deadline := range w.pending {
		if now.After(deadline) || now.Equal(deadline) {
			ready = append(ready, p)
			delete(w.pending, p)
		}
	}
	w.mu.Unlock()

	var out []ChangedTarget
	for _, p := range ready {
		if lock.IsLocked(p) {
			continue
		}
		out = append(out, w.matchPushPaths(p)...)
	}
	return out
}

// matchPushPaths maps one changed filesystem path onto every registered
// base path it falls under, trimming by path components rather than string
// replacement so a base path cannot partially match a sibling's name.
func (w *Watcher) matchPushPaths(changed string) []ChangedTarget {
	var out []ChangedTarget
	for _, base := range w.pushPaths {
		if changed == base {
			out = append(out, ChangedTarget{BasePath: base, RelativePath: ""})
			continue
		}

		rel, err := filepath.Rel(base, changed)
		if err != nil {
			continue
		}
		if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		out = append(out, ChangedTarget{BasePath: base, RelativePath: filepath.ToSlash(rel)})
	}
	return out
}

// Close unregisters all paths. Idempotent.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	return w.fsw.Close()
}
