// Package index maintains the in-memory task index of a vault: every task
// keyed by note path, plus secondary indexes by date, project and reference
// name. The index builds lazily and applies targeted updates per note.
package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/twiced-technology-gmbh/taskvault/internal/date"
	"github.com/twiced-technology-gmbh/taskvault/internal/events"
	"github.com/twiced-technology-gmbh/taskvault/internal/link"
	"github.com/twiced-technology-gmbh/taskvault/internal/task"
)

// slowBuild is the build duration above which a build is logged as anomalous.
const slowBuild = 2 * time.Second

// ErrClosed is returned by reads after Close.
var ErrClosed = errors.New("index closed")

// State is the build state of the index.
type State int

const (
	// Uninitialized means no usable data; the next read starts a build.
	Uninitialized State = iota
	// Building means a build is in flight; reads wait for it.
	Building
	// Ready means reads are served from memory.
	Ready
)

func (s State) String() string {
	switch s {
	case Building:
		return "building"
	case Ready:
		return "ready"
	default:
		return "uninitialized"
	}
}

// Publisher receives index events.
type Publisher interface {
	Publish(events.Event)
}

type build struct {
	done chan struct{}
	err  error
}

// Index is the task index. All methods are safe for concurrent use. Tasks
// returned by reads are shared and must not be modified.
type Index struct {
	src    Source
	logger *log.Logger
	bus    Publisher

	// applyMu orders targeted updates so they land in delivery order.
	applyMu sync.Mutex

	mu       sync.Mutex
	parser   *task.Parser
	state    State
	gen      uint64
	inflight *build
	queued   map[string]struct{}
	snap     *snapshot
	closed   bool
	builds   int
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger for build diagnostics.
func WithLogger(l *log.Logger) Option {
	return func(ix *Index) { ix.logger = l }
}

// WithPublisher sets where TaskUpdated and DataChanged events go.
func WithPublisher(p Publisher) Option {
	return func(ix *Index) { ix.bus = p }
}

// New returns an uninitialized Index reading notes from src.
func New(src Source, parser *task.Parser, opts ...Option) *Index {
	ix := &Index{
		src:    src,
		parser: parser,
		logger: log.New(io.Discard, "", 0),
		queued: make(map[string]struct{}),
		snap:   newSnapshot(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// State returns the current build state.
func (ix *Index) State() State {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.state
}

// Builds returns how many builds have been installed.
func (ix *Index) Builds() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.builds
}

// SetParser replaces the parser and schedules a full rebuild.
func (ix *Index) SetParser(p *task.Parser) {
	ix.mu.Lock()
	ix.parser = p
	ix.mu.Unlock()
	ix.InvalidateAll()
}

// Close releases the index. Later reads return ErrClosed.
func (ix *Index) Close() {
	ix.mu.Lock()
	ix.closed = true
	ix.snap = newSnapshot()
	ix.mu.Unlock()
}

// InvalidateAll discards the index contents. The next read rebuilds; a build
// in flight is marked stale and restarts.
func (ix *Index) InvalidateAll() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.gen++
	clear(ix.queued)
	if ix.state == Ready {
		ix.state = Uninitialized
	}
}

// ready blocks until the index is Ready and returns with ix.mu held.
func (ix *Index) ready(ctx context.Context) error {
	for {
		ix.mu.Lock()
		if ix.closed {
			ix.mu.Unlock()
			return ErrClosed
		}
		switch ix.state {
		case Ready:
			return nil
		case Uninitialized:
			ix.state = Building
			ix.inflight = &build{done: make(chan struct{})}
			go ix.build(ix.inflight)
		}
		b := ix.inflight
		ix.mu.Unlock()

		select {
		case <-b.done:
			if b.err != nil {
				return b.err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// build loads the vault and installs the result. It reruns while
// InvalidateAll calls make its result stale. Paths invalidated during the
// load are re-read into the new snapshot before it is installed, so no
// reader ever sees the build without them.
func (ix *Index) build(b *build) {
	ctx := context.Background()
	for {
		ix.mu.Lock()
		gen, parser := ix.gen, ix.parser
		ix.mu.Unlock()

		start := time.Now()
		snap, err := ix.load(ctx, parser)

		ix.mu.Lock()
		for err == nil && ix.gen == gen && len(ix.queued) > 0 {
			queued := make([]string, 0, len(ix.queued))
			for p := range ix.queued {
				queued = append(queued, p)
			}
			clear(ix.queued)
			ix.mu.Unlock()

			sort.Strings(queued)
			for _, p := range queued {
				after, warn, exists, rerr := ix.reread(ctx, parser, p)
				if rerr != nil {
					err = rerr
					break
				}
				snap.replace(p, after, warn, exists)
			}
			ix.mu.Lock()
		}
		elapsed := time.Since(start)

		if ix.gen != gen {
			ix.mu.Unlock()
			ix.logger.Printf("index: discarding stale build after %s", elapsed)
			continue
		}
		if ix.closed {
			err = ErrClosed
		}
		if err != nil {
			ix.state = Uninitialized
			clear(ix.queued)
			b.err = err
			close(b.done)
			ix.mu.Unlock()
			ix.logger.Printf("index: build failed: %v", err)
			return
		}
		ix.snap = snap
		ix.state = Ready
		ix.builds++
		close(b.done)
		ix.mu.Unlock()

		if elapsed > slowBuild {
			ix.logger.Printf("index: slow build: %s for %d notes", elapsed, snap.names.Len())
		}
		ix.publish(events.DataChanged{})
		return
	}
}

func (ix *Index) load(ctx context.Context, parser *task.Parser) (*snapshot, error) {
	paths, err := ix.src.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing notes: %w", err)
	}
	snap := newSnapshot()
	var found []*task.Task
	for _, p := range paths {
		data, err := ix.src.Read(ctx, p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		snap.names.Add(p)
		t, warn := parse(parser, p, data)
		if warn != nil {
			snap.warnings[p] = warn
		}
		if t != nil {
			found = append(found, t)
		}
	}
	// Project links resolve against the complete name table.
	for _, t := range found {
		snap.add(t)
	}
	return snap, nil
}

func parse(parser *task.Parser, p string, data []byte) (*task.Task, *task.ParseWarning) {
	t, err := parser.Parse(p, data)
	if err != nil {
		var warn *task.ParseWarning
		if errors.As(err, &warn) {
			return nil, warn
		}
		return nil, &task.ParseWarning{Path: p, Err: err}
	}
	return t, nil
}

// Invalidate re-reads one note and applies the difference. A note that no
// longer exists is removed. While a build is in flight the path is queued
// and folded into the build before it installs.
func (ix *Index) Invalidate(ctx context.Context, notePath string) error {
	ix.applyMu.Lock()
	defer ix.applyMu.Unlock()

	ix.mu.Lock()
	if ix.closed {
		ix.mu.Unlock()
		return ErrClosed
	}
	switch ix.state {
	case Uninitialized:
		ix.mu.Unlock()
		return nil
	case Building:
		ix.queued[notePath] = struct{}{}
		ix.mu.Unlock()
		return nil
	}
	parser := ix.parser
	ix.mu.Unlock()

	after, warn, exists, err := ix.reread(ctx, parser, notePath)
	if err != nil {
		return err
	}

	ix.mu.Lock()
	if ix.state != Ready {
		ix.queued[notePath] = struct{}{}
		ix.mu.Unlock()
		return nil
	}
	before, changed := ix.snap.replace(notePath, after, warn, exists)
	ix.mu.Unlock()

	if before != nil || after != nil {
		ix.publish(events.TaskUpdated{Path: notePath, Before: before, After: after})
	}
	ix.publish(events.DataChanged{Paths: changed})
	return nil
}

// reread reads and parses one note. A missing note yields exists false.
func (ix *Index) reread(ctx context.Context, parser *task.Parser, notePath string) (*task.Task, *task.ParseWarning, bool, error) {
	data, err := ix.src.Read(ctx, notePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, false, nil
		}
		return nil, nil, false, fmt.Errorf("reading %s: %w", notePath, err)
	}
	after, warn := parse(parser, notePath, data)
	return after, warn, true, nil
}

func (ix *Index) publish(ev events.Event) {
	if ix.bus != nil {
		ix.bus.Publish(ev)
	}
}

// Get returns the task at notePath.
func (ix *Index) Get(ctx context.Context, notePath string) (*task.Task, bool, error) {
	if err := ix.ready(ctx); err != nil {
		return nil, false, err
	}
	defer ix.mu.Unlock()
	t, ok := ix.snap.tasks[notePath]
	return t, ok, nil
}

// GetAll returns every task sorted by path.
func (ix *Index) GetAll(ctx context.Context) ([]*task.Task, error) {
	if err := ix.ready(ctx); err != nil {
		return nil, err
	}
	defer ix.mu.Unlock()
	out := make([]*task.Task, 0, len(ix.snap.tasks))
	for _, t := range ix.snap.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// TasksForDate returns the tasks that fall on d: non-recurring tasks due or
// scheduled on d and recurring tasks with an unskipped occurrence on d.
func (ix *Index) TasksForDate(ctx context.Context, d date.Date) ([]*task.Task, error) {
	if err := ix.ready(ctx); err != nil {
		return nil, err
	}
	defer ix.mu.Unlock()
	paths := make(set, len(ix.snap.byDate[d]))
	for p := range ix.snap.byDate[d] {
		paths[p] = struct{}{}
	}
	for p := range ix.snap.recurring {
		if ix.snap.tasks[p].IsOnDate(d) {
			paths[p] = struct{}{}
		}
	}
	return ix.snap.sortedTasks(paths), nil
}

// TasksForProject returns the tasks whose projects reference the same note
// as ref. When ref names no note, tasks naming the same missing note match.
func (ix *Index) TasksForProject(ctx context.Context, ref string) ([]*task.Task, link.Batch, error) {
	var batch link.Batch
	if err := ix.ready(ctx); err != nil {
		return nil, batch, err
	}
	defer ix.mu.Unlock()
	resolved, ok := ix.snap.names.Resolve(ref, "")
	batch.Add(ref, resolved, ok)
	key := ix.snap.projectKey(ref, "")
	if key == "" {
		return nil, batch, nil
	}
	return ix.snap.sortedTasks(ix.snap.byProject[key]), batch, nil
}

// Projects returns every project key in use with its task count. Unresolved
// projects are reported by name.
func (ix *Index) Projects(ctx context.Context) (map[string]int, error) {
	if err := ix.ready(ctx); err != nil {
		return nil, err
	}
	defer ix.mu.Unlock()
	out := make(map[string]int, len(ix.snap.byProject))
	for key, paths := range ix.snap.byProject {
		out[key] = len(paths)
	}
	return out, nil
}

// Notes returns every note path in the vault, tasks or not.
func (ix *Index) Notes(ctx context.Context) ([]string, error) {
	if err := ix.ready(ctx); err != nil {
		return nil, err
	}
	defer ix.mu.Unlock()
	return ix.snap.names.Paths(), nil
}

// Resolve resolves each raw reference relative to the note at from.
func (ix *Index) Resolve(ctx context.Context, from string, refs ...string) (link.Batch, error) {
	var batch link.Batch
	if err := ix.ready(ctx); err != nil {
		return batch, err
	}
	defer ix.mu.Unlock()
	for _, ref := range refs {
		p, ok := ix.snap.names.Resolve(ref, from)
		batch.Add(ref, p, ok)
	}
	return batch, nil
}

// Warnings returns the parse warnings of the current contents, by path.
func (ix *Index) Warnings(ctx context.Context) ([]*task.ParseWarning, error) {
	if err := ix.ready(ctx); err != nil {
		return nil, err
	}
	defer ix.mu.Unlock()
	out := make([]*task.ParseWarning, 0, len(ix.snap.warnings))
	for _, w := range ix.snap.warnings {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
