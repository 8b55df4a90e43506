// Package watcher provides debounced, recursive file system watching for a
// vault directory tree.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceDelay is the time to wait after the last event for a path before
// reporting it. Editors that save in several steps produce one Change.
const DebounceDelay = 100 * time.Millisecond

// Op describes what happened to a path.
type Op int

const (
	// Created means the path exists and was not seen before.
	Created Op = iota
	// Modified means the path exists.
	Modified
	// Removed means the path no longer exists.
	Removed
)

func (o Op) String() string {
	switch o {
	case Created:
		return "created"
	case Removed:
		return "removed"
	default:
		return "modified"
	}
}

// Change is one debounced change. Path is slash-separated and relative to
// the watched root. Dir is set when a whole directory went away, in which
// case every note below Path is gone.
type Change struct {
	Path string
	Op   Op
	Dir  bool
}

// Watcher watches a directory tree and reports note changes.
type Watcher struct {
	fsw      *fsnotify.Watcher
	root     string
	skip     func(rel string) bool
	callback func(Change)
	delay    time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer
	created map[string]bool
	dirs    map[string]bool
	stopped bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDelay overrides DebounceDelay.
func WithDelay(d time.Duration) Option {
	return func(w *Watcher) { w.delay = d }
}

// WithSkip excludes directories for which skip returns true. Hidden
// directories are always skipped.
func WithSkip(skip func(rel string) bool) Option {
	return func(w *Watcher) { w.skip = skip }
}

// New creates a Watcher for the tree under root. The callback is invoked
// once per path after its events settle.
func New(root string, callback func(Change), opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:      fsw,
		root:     root,
		callback: callback,
		delay:    DebounceDelay,
		timers:   make(map[string]*time.Timer),
		created:  make(map[string]bool),
		dirs:     make(map[string]bool),
	}
	for _, o := range opts {
		o(w)
	}
	if err := w.addTree(root, false); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Run starts the watch loop. It blocks until the context is canceled or the
// watcher is closed. Errors from the underlying watcher are passed to the
// optional errFn callback.
func (w *Watcher) Run(ctx context.Context, errFn func(error)) {
	for {
		select {
		case <-ctx.Done():
			w.stop()
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				w.stop()
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := w.handle(event); err != nil && errFn != nil {
				errFn(err)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				w.stop()
				return
			}
			if errFn != nil {
				errFn(err)
			}
		}
	}
}

// Close stops the underlying filesystem watcher. Pending changes are
// dropped.
func (w *Watcher) Close() error {
	w.stop()
	return w.fsw.Close()
}

func (w *Watcher) handle(event fsnotify.Event) error {
	rel, ok := w.rel(event.Name)
	if !ok || w.skipped(rel) {
		return nil
	}
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			return w.addTree(event.Name, true)
		}
	}
	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		w.mu.Lock()
		wasDir := w.dirs[rel]
		if wasDir {
			for d := range w.dirs {
				if d == rel || strings.HasPrefix(d, rel+"/") {
					delete(w.dirs, d)
				}
			}
		}
		w.mu.Unlock()
		if wasDir {
			w.emit(Change{Path: rel, Op: Removed, Dir: true})
			return nil
		}
	}
	if !IsNote(rel) {
		return nil
	}
	if event.Op&fsnotify.Create != 0 {
		w.mu.Lock()
		w.created[rel] = true
		w.mu.Unlock()
	}
	w.debounce(rel)
	return nil
}

// addTree watches dir and every non-skipped directory below it. When
// announce is set, notes found in the tree are reported as created.
func (w *Watcher) addTree(dir string, announce bool) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		rel, _ := w.rel(p)
		if d.IsDir() {
			if p != w.root && w.skipped(rel) {
				return filepath.SkipDir
			}
			if err := w.fsw.Add(p); err != nil {
				return err
			}
			w.mu.Lock()
			w.dirs[rel] = true
			w.mu.Unlock()
			return nil
		}
		if announce && IsNote(rel) {
			w.mu.Lock()
			w.created[rel] = true
			w.mu.Unlock()
			w.debounce(rel)
		}
		return nil
	})
}

func (w *Watcher) debounce(rel string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if t, ok := w.timers[rel]; ok {
		t.Stop()
	}
	w.timers[rel] = time.AfterFunc(w.delay, func() { w.fire(rel) })
}

func (w *Watcher) fire(rel string) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	delete(w.timers, rel)
	created := w.created[rel]
	delete(w.created, rel)
	w.mu.Unlock()

	op := Modified
	if _, err := os.Stat(filepath.Join(w.root, filepath.FromSlash(rel))); err != nil {
		op = Removed
	} else if created {
		op = Created
	}
	w.emit(Change{Path: rel, Op: op})
}

func (w *Watcher) emit(c Change) {
	w.mu.Lock()
	stopped := w.stopped
	w.mu.Unlock()
	if !stopped {
		w.callback(c)
	}
}

func (w *Watcher) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	for p, t := range w.timers {
		t.Stop()
		delete(w.timers, p)
	}
}

func (w *Watcher) rel(abs string) (string, bool) {
	r, err := filepath.Rel(w.root, abs)
	if err != nil || strings.HasPrefix(r, "..") {
		return "", false
	}
	if r == "." {
		return "", true
	}
	return filepath.ToSlash(r), true
}

// skipped reports whether rel lies in a hidden or excluded directory.
func (w *Watcher) skipped(rel string) bool {
	if rel == "" {
		return false
	}
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return w.skip != nil && w.skip(rel)
}

// IsNote reports whether rel names a markdown note.
func IsNote(rel string) bool {
	return strings.EqualFold(filepath.Ext(rel), ".md")
}
