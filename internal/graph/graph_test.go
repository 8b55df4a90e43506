package graph

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twiced-technology-gmbh/taskvault/internal/config"
	"github.com/twiced-technology-gmbh/taskvault/internal/index"
	"github.com/twiced-technology-gmbh/taskvault/internal/link"
	"github.com/twiced-technology-gmbh/taskvault/internal/task"
)

type mapSource struct {
	mu     sync.Mutex
	notes  map[string]string
	onRead func(p string)
}

func (s *mapSource) List(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.notes))
	for p := range s.notes {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func (s *mapSource) Read(_ context.Context, p string) ([]byte, error) {
	if s.onRead != nil {
		s.onRead(p)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.notes[p]
	if !ok {
		return nil, fmt.Errorf("%s: %w", p, fs.ErrNotExist)
	}
	return []byte(c), nil
}

func (s *mapSource) set(p, c string) {
	s.mu.Lock()
	s.notes[p] = c
	s.mu.Unlock()
}

func (s *mapSource) remove(p string) {
	s.mu.Lock()
	delete(s.notes, p)
	s.mu.Unlock()
}

func note(status string, blockedBy, blocking []string) string {
	out := "---\ntags: [task]\nstatus: " + status + "\n"
	if len(blockedBy) > 0 {
		out += "blockedBy:\n"
		for _, b := range blockedBy {
			out += "  - \"" + b + "\"\n"
		}
	}
	if len(blocking) > 0 {
		out += "blocking:\n"
		for _, b := range blocking {
			out += "  - \"" + b + "\"\n"
		}
	}
	return out + "---\n"
}

type fixture struct {
	src *mapSource
	ix  *index.Index
	g   *Graph
}

func newFixture(notes map[string]string) *fixture {
	src := &mapSource{notes: notes}
	ix := index.New(src, task.NewParser(config.NewDefault("test")))
	return &fixture{src: src, ix: ix, g: New(ix)}
}

// update writes a note and applies it the way the engine does.
func (f *fixture) update(t *testing.T, p, content string) {
	t.Helper()
	if content == "" {
		f.src.remove(p)
	} else {
		f.src.set(p, content)
	}
	ctx := context.Background()
	require.NoError(t, f.ix.Invalidate(ctx, p))
	require.NoError(t, f.g.Invalidate(ctx, p))
}

// gatedTasks pauses the graph load while it resolves one task.
type gatedTasks struct {
	*index.Index
	at      string
	reached chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedTasks) Resolve(ctx context.Context, from string, refs ...string) (link.Batch, error) {
	if from == g.at {
		g.once.Do(func() {
			close(g.reached)
			<-g.release
		})
	}
	return g.Index.Resolve(ctx, from, refs...)
}

// pauseAt blocks the first call of fn for path p until release is closed.
func pauseAt(p string) (fn func(string), reached, release chan struct{}) {
	reached, release = make(chan struct{}), make(chan struct{})
	var once sync.Once
	return func(got string) {
		if got == p {
			once.Do(func() {
				close(reached)
				<-release
			})
		}
	}, reached, release
}

func paths(tasks []*task.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Path
	}
	return out
}

func TestForwardAndDerivedReverse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(map[string]string{
		"a.md": note("open", []string{"[[b]]", "[[missing]]"}, nil),
		"b.md": note("done", nil, nil),
		"c.md": note("open", nil, []string{"[[a]]"}),
	})

	blockers, err := f.g.BlockersOf(ctx, "a.md")
	require.NoError(t, err)
	assert.Equal(t, []string{"b.md", "c.md"}, paths(blockers), "blocking on c yields c -> a")

	dependents, err := f.g.BlockedByThis(ctx, "b.md")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.md"}, paths(dependents))

	unresolved, err := f.g.Unresolved(ctx, "a.md")
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Equal(t, "missing", unresolved[0].Name)

	cfg := config.NewDefault("test")
	isDone := func(t *task.Task) bool { return cfg.IsCompletedStatus(t.Status) }
	blocked, err := f.g.IsBlocked(ctx, "a.md", isDone)
	require.NoError(t, err)
	assert.True(t, blocked, "c is still open")

	f.update(t, "c.md", note("done", nil, []string{"[[a]]"}))
	blocked, err = f.g.IsBlocked(ctx, "a.md", isDone)
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestSymmetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(map[string]string{
		"a.md":      note("open", []string{"[[b]]", "[[c]]"}, nil),
		"b.md":      note("open", []string{"[[d]]"}, []string{"[[a]]"}),
		"c.md":      note("open", nil, []string{"[[d]]", "sub/e"}),
		"d.md":      note("open", nil, nil),
		"sub/e.md":  note("open", []string{"../a"}, nil),
		"notask.md": "# plain note\n",
	})
	f.update(t, "d.md", note("open", []string{"[[notask]]"}, nil))

	all, err := f.ix.GetAll(ctx)
	require.NoError(t, err)
	for _, x := range all {
		blockers, err := f.g.BlockerPaths(ctx, x.Path)
		require.NoError(t, err)
		for _, b := range blockers {
			dependents, err := f.g.DependentPaths(ctx, b)
			require.NoError(t, err)
			assert.Contains(t, dependents, x.Path, "%s blocked by %s", x.Path, b)
		}
		dependents, err := f.g.DependentPaths(ctx, x.Path)
		require.NoError(t, err)
		for _, d := range dependents {
			blockers, err := f.g.BlockerPaths(ctx, d)
			require.NoError(t, err)
			assert.Contains(t, blockers, x.Path, "%s blocking %s", x.Path, d)
		}
	}
}

func TestEdgeDeclaredTwiceSurvivesOneRemoval(t *testing.T) {
	ctx := context.Background()
	f := newFixture(map[string]string{
		"a.md": note("open", []string{"[[b]]"}, nil),
		"b.md": note("open", nil, []string{"[[a]]"}),
	})
	_, edges, err := f.g.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, edges)

	f.update(t, "b.md", note("open", nil, nil))
	blockers, err := f.g.BlockerPaths(ctx, "a.md")
	require.NoError(t, err)
	assert.Equal(t, []string{"b.md"}, blockers)

	f.update(t, "a.md", note("open", nil, nil))
	blockers, err = f.g.BlockerPaths(ctx, "a.md")
	require.NoError(t, err)
	assert.Empty(t, blockers)
	dependents, err := f.g.DependentPaths(ctx, "b.md")
	require.NoError(t, err)
	assert.Empty(t, dependents)
}

func TestTransitiveBlockersTerminatesOnCycles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(map[string]string{
		"a.md": note("open", []string{"[[b]]"}, nil),
		"b.md": note("open", []string{"[[c]]", "[[d]]"}, nil),
		"c.md": note("open", []string{"[[a]]"}, nil),
		"d.md": note("open", []string{"[[d]]"}, nil),
	})
	got, err := f.g.TransitiveBlockers(ctx, "a.md")
	require.NoError(t, err)
	assert.Equal(t, []string{"b.md", "c.md", "d.md"}, paths(got))

	blockers, err := f.g.BlockerPaths(ctx, "d.md")
	require.NoError(t, err)
	assert.Empty(t, blockers, "self references are ignored")
}

func TestCreatingNoteResolvesReferences(t *testing.T) {
	ctx := context.Background()
	f := newFixture(map[string]string{
		"a.md": note("open", []string{"[[later]]"}, nil),
	})
	unresolved, err := f.g.Unresolved(ctx, "a.md")
	require.NoError(t, err)
	require.Len(t, unresolved, 1)

	f.update(t, "work/later.md", note("open", nil, nil))
	blockers, err := f.g.BlockerPaths(ctx, "a.md")
	require.NoError(t, err)
	assert.Equal(t, []string{"work/later.md"}, blockers)
	unresolved, err = f.g.Unresolved(ctx, "a.md")
	require.NoError(t, err)
	assert.Empty(t, unresolved)

	f.update(t, "work/later.md", "")
	blockers, err = f.g.BlockerPaths(ctx, "a.md")
	require.NoError(t, err)
	assert.Empty(t, blockers)
	all, err := f.g.AllUnresolved(ctx)
	require.NoError(t, err)
	assert.Len(t, all["a.md"], 1)
}

func TestArenaReusesFreedSlots(t *testing.T) {
	ctx := context.Background()
	f := newFixture(map[string]string{
		"a.md": note("open", []string{"[[b]]"}, nil),
		"b.md": note("open", nil, nil),
	})
	nodes, _, err := f.g.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, nodes)

	f.update(t, "a.md", "")
	f.update(t, "b.md", "")
	nodes, edges, err := f.g.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, nodes)
	assert.Zero(t, edges)

	f.update(t, "c.md", note("open", []string{"[[d]]"}, nil))
	f.update(t, "d.md", note("open", nil, nil))
	f.g.mu.Lock()
	slots := len(f.g.nodes)
	f.g.mu.Unlock()
	assert.Equal(t, 2, slots, "freed slots are reused")
}

func TestChangeDuringIndexBuildReachesGraph(t *testing.T) {
	ctx := context.Background()
	f := newFixture(map[string]string{
		"a.md": note("open", nil, nil),
		"b.md": note("open", nil, nil),
		"z.md": note("open", nil, nil),
	})
	hook, reached, release := pauseAt("z.md")
	f.src.onRead = hook

	got := make(chan []string)
	go func() {
		blockers, err := f.g.BlockerPaths(ctx, "a.md")
		assert.NoError(t, err)
		got <- blockers
	}()

	// The build has read a.md and is paused on z.md.
	<-reached
	assert.Equal(t, index.Building, f.ix.State())
	f.update(t, "a.md", note("open", []string{"[[b]]"}, nil))
	close(release)

	assert.Equal(t, []string{"b.md"}, <-got)
	blockers, err := f.g.BlockerPaths(ctx, "a.md")
	require.NoError(t, err)
	assert.Equal(t, []string{"b.md"}, blockers)
}

func TestChangeDuringGraphLoadIsRecomputed(t *testing.T) {
	ctx := context.Background()
	src := &mapSource{notes: map[string]string{
		"a.md": note("open", nil, nil),
		"b.md": note("open", nil, nil),
		"z.md": note("open", nil, nil),
	}}
	ix := index.New(src, task.NewParser(config.NewDefault("test")))
	_, err := ix.GetAll(ctx)
	require.NoError(t, err)
	tasks := &gatedTasks{Index: ix, at: "z.md", reached: make(chan struct{}), release: make(chan struct{})}
	g := New(tasks)

	got := make(chan []string)
	go func() {
		blockers, err := g.BlockerPaths(ctx, "a.md")
		assert.NoError(t, err)
		got <- blockers
	}()

	// The load took its task list before a.md changed.
	<-tasks.reached
	src.set("a.md", note("open", []string{"[[b]]"}, nil))
	require.NoError(t, ix.Invalidate(ctx, "a.md"))
	require.NoError(t, g.Invalidate(ctx, "a.md"))
	close(tasks.release)

	assert.Equal(t, []string{"b.md"}, <-got)
	blockers, err := g.BlockerPaths(ctx, "a.md")
	require.NoError(t, err)
	assert.Equal(t, []string{"b.md"}, blockers)
}
