// Package graph maintains the blocked-by dependency graph between tasks.
//
// Edges are contributed by owner tasks: an owner's blocked_by entries give
// owner→target edges and its blocking entries give target→owner edges. The
// graph stores only this forward direction, refcounted so an edge declared
// from both ends survives the removal of either declaration. The reverse
// (blocking) view is derived from the forward adjacency on read.
package graph

import (
	"cmp"
	"context"
	"io"
	"log"
	"slices"
	"sync"

	"github.com/twiced-technology-gmbh/taskvault/internal/link"
	"github.com/twiced-technology-gmbh/taskvault/internal/task"
)

// Tasks is the task store the graph is derived from.
type Tasks interface {
	Get(ctx context.Context, notePath string) (*task.Task, bool, error)
	GetAll(ctx context.Context) ([]*task.Task, error)
	Resolve(ctx context.Context, from string, refs ...string) (link.Batch, error)
}

type node struct {
	path string
	out  map[int]int // target node -> refcount
	in   int         // sum of incoming refcounts
	live bool
}

type edge struct{ from, to int }

// Graph is the dependency graph. All methods are safe for concurrent use.
type Graph struct {
	tasks  Tasks
	logger *log.Logger

	// buildMu serializes full loads and targeted recomputes.
	buildMu sync.Mutex

	mu         sync.Mutex
	built      bool
	gen        uint64
	loading    bool
	pending    map[string]struct{} // invalidated while loading
	nodes      []node
	index      map[string]int
	free       []int
	contrib    map[string][]edge
	unresolved map[string][]link.Unresolved
	refs       map[string]map[string]struct{} // reference base-name key -> owners
	ownerRefs  map[string][]string

	reverse map[int][]int // derived; nil when stale
}

// Option configures a Graph.
type Option func(*Graph)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(g *Graph) { g.logger = l }
}

// New returns a Graph over tasks. It loads lazily on first read.
func New(tasks Tasks, opts ...Option) *Graph {
	g := &Graph{tasks: tasks, logger: log.New(io.Discard, "", 0), pending: make(map[string]struct{})}
	g.reset()
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Graph) reset() {
	g.built = false
	g.nodes = nil
	g.index = make(map[string]int)
	g.free = nil
	g.contrib = make(map[string][]edge)
	g.unresolved = make(map[string][]link.Unresolved)
	g.refs = make(map[string]map[string]struct{})
	g.ownerRefs = make(map[string][]string)
	g.reverse = nil
}

// resolution is an owner's resolved references, computed off-lock.
type resolution struct {
	owner    string
	exists   bool
	blocked  link.Batch
	blocking link.Batch
	refs     []string
}

func (g *Graph) resolve(ctx context.Context, t *task.Task) (resolution, error) {
	r := resolution{owner: t.Path, exists: true}
	var err error
	if r.blocked, err = g.tasks.Resolve(ctx, t.Path, task.DependencyRefs(t.BlockedBy)...); err != nil {
		return r, err
	}
	if r.blocking, err = g.tasks.Resolve(ctx, t.Path, task.DependencyRefs(t.Blocking)...); err != nil {
		return r, err
	}
	for _, d := range append(slices.Clone(t.BlockedBy), t.Blocking...) {
		if k := link.NameKey(d.UID); k != "" {
			r.refs = append(r.refs, k)
		}
	}
	return r, nil
}

// ensure loads the graph if needed. Paths invalidated while the load reads
// the task store are recomputed before ensure returns.
func (g *Graph) ensure(ctx context.Context) error {
	g.mu.Lock()
	built := g.built
	g.mu.Unlock()
	if built {
		return nil
	}

	g.buildMu.Lock()
	defer g.buildMu.Unlock()
	for {
		g.mu.Lock()
		if g.built {
			g.mu.Unlock()
			return nil
		}
		gen := g.gen
		g.loading = true
		clear(g.pending)
		g.mu.Unlock()

		res, err := g.load(ctx)

		g.mu.Lock()
		if err != nil {
			g.loading = false
			clear(g.pending)
			g.mu.Unlock()
			return err
		}
		if g.gen != gen {
			g.mu.Unlock()
			continue
		}
		g.reset()
		for _, r := range res {
			g.apply(r)
		}
		g.built = true
		g.loading = false
		pending := make([]string, 0, len(g.pending))
		for p := range g.pending {
			pending = append(pending, p)
		}
		clear(g.pending)
		g.logger.Printf("graph: loaded %d tasks, %d with unresolved references", len(res), len(g.unresolved))
		g.mu.Unlock()

		if len(pending) == 0 {
			return nil
		}
		slices.Sort(pending)
		return g.recompute(ctx, pending)
	}
}

func (g *Graph) load(ctx context.Context) ([]resolution, error) {
	all, err := g.tasks.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	res := make([]resolution, 0, len(all))
	for _, t := range all {
		r, err := g.resolve(ctx, t)
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, nil
}

// InvalidateAll drops the graph; the next read reloads it.
func (g *Graph) InvalidateAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gen++
	g.reset()
}

// Invalidate recomputes the contributions of the task at notePath and of
// every task whose references name it, so creating, renaming or deleting a
// note re-resolves exactly the edges that could point at it.
func (g *Graph) Invalidate(ctx context.Context, notePath string) error {
	g.mu.Lock()
	if !g.built {
		if g.loading {
			g.pending[notePath] = struct{}{}
		}
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	g.buildMu.Lock()
	defer g.buildMu.Unlock()
	return g.recompute(ctx, []string{notePath})
}

// recompute re-resolves the owners affected by paths. buildMu must be held.
func (g *Graph) recompute(ctx context.Context, paths []string) error {
	g.mu.Lock()
	if !g.built {
		g.mu.Unlock()
		return nil
	}
	owners := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		owners[p] = struct{}{}
		for o := range g.refs[link.BaseKey(p)] {
			owners[o] = struct{}{}
		}
	}
	g.mu.Unlock()

	list := make([]string, 0, len(owners))
	for o := range owners {
		list = append(list, o)
	}
	slices.Sort(list)
	res := make([]resolution, 0, len(list))
	for _, o := range list {
		t, ok, err := g.tasks.Get(ctx, o)
		if err != nil {
			return err
		}
		if !ok {
			res = append(res, resolution{owner: o})
			continue
		}
		r, err := g.resolve(ctx, t)
		if err != nil {
			return err
		}
		res = append(res, r)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.built {
		return nil
	}
	for _, r := range res {
		g.retract(r.owner)
		if r.exists {
			g.apply(r)
		}
	}
	return nil
}

func (g *Graph) node(p string) int {
	if id, ok := g.index[p]; ok {
		return id
	}
	n := node{path: p, out: make(map[int]int), live: true}
	var id int
	if k := len(g.free); k > 0 {
		id = g.free[k-1]
		g.free = g.free[:k-1]
		g.nodes[id] = n
	} else {
		id = len(g.nodes)
		g.nodes = append(g.nodes, n)
	}
	g.index[p] = id
	return id
}

// release frees a node slot once nothing refers to it.
func (g *Graph) release(id int) {
	n := &g.nodes[id]
	if !n.live || len(n.out) > 0 || n.in > 0 {
		return
	}
	if _, owns := g.contrib[n.path]; owns {
		return
	}
	delete(g.index, n.path)
	*n = node{}
	g.free = append(g.free, id)
}

func (g *Graph) link(from, to int) {
	g.nodes[from].out[to]++
	g.nodes[to].in++
	g.reverse = nil
}

func (g *Graph) unlink(from, to int) {
	n := &g.nodes[from]
	n.out[to]--
	if n.out[to] <= 0 {
		delete(n.out, to)
	}
	g.nodes[to].in--
	g.reverse = nil
}

func (g *Graph) apply(r resolution) {
	owner := g.node(r.owner)
	var edges []edge
	for _, res := range r.blocked.Resolved {
		if res.Path == r.owner {
			continue
		}
		e := edge{from: owner, to: g.node(res.Path)}
		g.link(e.from, e.to)
		edges = append(edges, e)
	}
	for _, res := range r.blocking.Resolved {
		if res.Path == r.owner {
			continue
		}
		e := edge{from: g.node(res.Path), to: owner}
		g.link(e.from, e.to)
		edges = append(edges, e)
	}
	g.contrib[r.owner] = edges

	var missing []link.Unresolved
	missing = append(missing, r.blocked.Unresolved...)
	missing = append(missing, r.blocking.Unresolved...)
	if len(missing) > 0 {
		g.unresolved[r.owner] = missing
	}

	for _, k := range r.refs {
		s := g.refs[k]
		if s == nil {
			s = make(map[string]struct{})
			g.refs[k] = s
		}
		s[r.owner] = struct{}{}
	}
	g.ownerRefs[r.owner] = r.refs
}

func (g *Graph) retract(owner string) {
	edges, ok := g.contrib[owner]
	delete(g.contrib, owner)
	delete(g.unresolved, owner)
	for _, k := range g.ownerRefs[owner] {
		delete(g.refs[k], owner)
		if len(g.refs[k]) == 0 {
			delete(g.refs, k)
		}
	}
	delete(g.ownerRefs, owner)
	if !ok {
		return
	}
	touched := make([]int, 0, 2*len(edges)+1)
	for _, e := range edges {
		g.unlink(e.from, e.to)
		touched = append(touched, e.from, e.to)
	}
	if id, ok := g.index[owner]; ok {
		touched = append(touched, id)
	}
	for _, id := range touched {
		g.release(id)
	}
}

func (g *Graph) reverseView() map[int][]int {
	if g.reverse != nil {
		return g.reverse
	}
	rev := make(map[int][]int)
	for from := range g.nodes {
		for to := range g.nodes[from].out {
			rev[to] = append(rev[to], from)
		}
	}
	g.reverse = rev
	return rev
}

func (g *Graph) pathsOf(ids []int) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = g.nodes[id].path
	}
	slices.Sort(out)
	return out
}

// BlockerPaths returns the paths notePath is directly blocked by.
func (g *Graph) BlockerPaths(ctx context.Context, notePath string) ([]string, error) {
	if err := g.ensure(ctx); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.index[notePath]
	if !ok {
		return nil, nil
	}
	ids := make([]int, 0, len(g.nodes[id].out))
	for to := range g.nodes[id].out {
		ids = append(ids, to)
	}
	return g.pathsOf(ids), nil
}

// DependentPaths returns the paths directly blocked by notePath.
func (g *Graph) DependentPaths(ctx context.Context, notePath string) ([]string, error) {
	if err := g.ensure(ctx); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.index[notePath]
	if !ok {
		return nil, nil
	}
	return g.pathsOf(g.reverseView()[id]), nil
}

// BlockersOf returns the tasks notePath is directly blocked by. Targets that
// are notes but not tasks are omitted.
func (g *Graph) BlockersOf(ctx context.Context, notePath string) ([]*task.Task, error) {
	paths, err := g.BlockerPaths(ctx, notePath)
	if err != nil {
		return nil, err
	}
	return g.lookup(ctx, paths)
}

// BlockedByThis returns the tasks directly blocked by notePath.
func (g *Graph) BlockedByThis(ctx context.Context, notePath string) ([]*task.Task, error) {
	paths, err := g.DependentPaths(ctx, notePath)
	if err != nil {
		return nil, err
	}
	return g.lookup(ctx, paths)
}

// TransitiveBlockers returns every task notePath transitively depends on, in
// breadth-first order. Cycles terminate; the start task is never included.
func (g *Graph) TransitiveBlockers(ctx context.Context, notePath string) ([]*task.Task, error) {
	if err := g.ensure(ctx); err != nil {
		return nil, err
	}
	g.mu.Lock()
	var order []string
	if start, ok := g.index[notePath]; ok {
		visited := map[int]struct{}{start: {}}
		queue := []int{start}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			next := make([]int, 0, len(g.nodes[cur].out))
			for to := range g.nodes[cur].out {
				next = append(next, to)
			}
			// Stable order within one level.
			slices.SortFunc(next, func(a, b int) int {
				return cmp.Compare(g.nodes[a].path, g.nodes[b].path)
			})
			for _, to := range next {
				if _, seen := visited[to]; seen {
					continue
				}
				visited[to] = struct{}{}
				queue = append(queue, to)
				order = append(order, g.nodes[to].path)
			}
		}
	}
	g.mu.Unlock()
	return g.lookup(ctx, order)
}

// IsBlocked reports whether any direct blocker of notePath is not done.
func (g *Graph) IsBlocked(ctx context.Context, notePath string, isDone func(*task.Task) bool) (bool, error) {
	blockers, err := g.BlockersOf(ctx, notePath)
	if err != nil {
		return false, err
	}
	for _, b := range blockers {
		if !isDone(b) {
			return true, nil
		}
	}
	return false, nil
}

// Unresolved returns the dependency references of notePath that name no note.
func (g *Graph) Unresolved(ctx context.Context, notePath string) ([]link.Unresolved, error) {
	if err := g.ensure(ctx); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.unresolved[notePath]), nil
}

// AllUnresolved returns every owner's unresolved references.
func (g *Graph) AllUnresolved(ctx context.Context) (map[string][]link.Unresolved, error) {
	if err := g.ensure(ctx); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string][]link.Unresolved, len(g.unresolved))
	for k, v := range g.unresolved {
		out[k] = slices.Clone(v)
	}
	return out, nil
}

// Size returns the number of live nodes and distinct edges.
func (g *Graph) Size(ctx context.Context) (nodes, edges int, err error) {
	if err := g.ensure(ctx); err != nil {
		return 0, 0, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.nodes {
		if g.nodes[i].live {
			nodes++
			edges += len(g.nodes[i].out)
		}
	}
	return nodes, edges, nil
}

func (g *Graph) lookup(ctx context.Context, paths []string) ([]*task.Task, error) {
	out := make([]*task.Task, 0, len(paths))
	for _, p := range paths {
		t, ok, err := g.tasks.Get(ctx, p)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, t)
		}
	}
	return out, nil
}
