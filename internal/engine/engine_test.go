package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twiced-technology-gmbh/taskvault/internal/clierr"
	"github.com/twiced-technology-gmbh/taskvault/internal/config"
	"github.com/twiced-technology-gmbh/taskvault/internal/date"
	"github.com/twiced-technology-gmbh/taskvault/internal/events"
	"github.com/twiced-technology-gmbh/taskvault/internal/query"
	"github.com/twiced-technology-gmbh/taskvault/internal/watcher"
)

type clock struct{ ns atomic.Int64 }

func newClock(t time.Time) *clock {
	c := &clock{}
	c.set(t)
	return c
}

func (c *clock) now() time.Time  { return time.Unix(0, c.ns.Load()).Local() }
func (c *clock) set(t time.Time) { c.ns.Store(t.UnixNano()) }

type recorder struct {
	mu  sync.Mutex
	got []events.Event
}

func (r *recorder) handle(env events.Envelope) {
	r.mu.Lock()
	r.got = append(r.got, env.Event)
	r.mu.Unlock()
}

func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.got))
	for i, ev := range r.got {
		out[i] = ev.Kind()
	}
	return out
}

func (r *recorder) find(kind string) events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.got {
		if ev.Kind() == kind {
			return ev
		}
	}
	return nil
}

var june10 = time.Date(2024, 6, 10, 9, 30, 0, 0, time.Local)

type vault struct {
	root string
	cfg  *config.Config
	clk  *clock
	e    *Engine
}

func newVault(t *testing.T, notes map[string]string, opts ...Option) *vault {
	t.Helper()
	root := t.TempDir()
	cfg, err := config.Init(root, "test")
	require.NoError(t, err)
	v := &vault{root: root, cfg: cfg, clk: newClock(june10)}
	for rel, content := range notes {
		v.write(t, rel, content)
	}
	opts = append([]Option{WithClock(v.clk.now), WithTick(time.Millisecond)}, opts...)
	v.e = New(cfg, opts...)
	require.NoError(t, v.e.Init(context.Background()))
	t.Cleanup(func() { _ = v.e.Destroy() })
	return v
}

func (v *vault) write(t *testing.T, rel, content string) {
	t.Helper()
	abs := filepath.Join(v.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o750))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o600))
}

func (v *vault) read(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(v.root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func TestLifecycle(t *testing.T) {
	root := t.TempDir()
	cfg, err := config.Init(root, "test")
	require.NoError(t, err)
	e := New(cfg)
	ctx := context.Background()

	assert.Equal(t, Stopped, e.State())
	_, err = e.Tasks(ctx)
	assert.True(t, clierr.Is(err, clierr.EngineStopped))

	require.NoError(t, e.Init(ctx))
	assert.Equal(t, Running, e.State())
	assert.Error(t, e.Init(ctx), "already running")

	tasks, err := e.Tasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	require.NoError(t, e.Destroy())
	require.NoError(t, e.Destroy())
	assert.Equal(t, Stopped, e.State())
	_, err = e.Complete(ctx, "a.md", date.Date{})
	assert.True(t, clierr.Is(err, clierr.EngineStopped))
}

func TestCompleteWritesNoteAndPublishes(t *testing.T) {
	v := newVault(t, map[string]string{
		"a.md": "---\ntitle: Ship it\ntags: [task]\nstatus: open\nowner: sam\n---\nBody text\n",
	})
	ctx := context.Background()
	_, err := v.e.Tasks(ctx)
	require.NoError(t, err)

	rec := &recorder{}
	unsub, err := v.e.Subscribe(rec.handle)
	require.NoError(t, err)
	defer unsub()

	got, err := v.e.Complete(ctx, "a.md", date.Date{})
	require.NoError(t, err)
	assert.Equal(t, "done", got.Status)
	require.NotNil(t, got.CompletedDate)
	assert.Equal(t, "2024-06-10", got.CompletedDate.String())

	content := v.read(t, "a.md")
	assert.Contains(t, content, "status: done")
	assert.Contains(t, content, "owner: sam")
	assert.Contains(t, content, "Body text")

	ev, ok := rec.find(events.KindTaskUpdated).(events.TaskUpdated)
	require.True(t, ok)
	assert.Equal(t, "updated", ev.Action())
	assert.Equal(t, "open", ev.Before.Status)
	assert.Eventually(t, func() bool { return rec.find(events.KindDataChanged) != nil },
		time.Second, 5*time.Millisecond)

	_, err = v.e.Complete(ctx, "missing.md", date.Date{})
	assert.True(t, clierr.Is(err, clierr.TaskNotFound))
}

func TestRecurringCompleteAndSkip(t *testing.T) {
	v := newVault(t, map[string]string{
		"water.md": "---\ntags: [task]\nrecurrence: \"DTSTART:20240603;FREQ=WEEKLY\"\nscheduled: 2024-06-10\n---\n",
		"plain.md": "---\ntags: [task]\n---\n",
	})
	ctx := context.Background()

	got, err := v.e.Complete(ctx, "water.md", date.Date{})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-06-10"}, got.CompleteInstances)
	assert.Equal(t, "2024-06-17", got.Scheduled.String(), "maintain offset moves scheduled")

	res, err := v.e.Query(ctx, &query.Query{Filter: query.AllOf(query.Cond("completed", query.OpIsChecked, nil))})
	require.NoError(t, err)
	require.Len(t, res.Tasks, 1)
	assert.Equal(t, "water.md", res.Tasks[0].Path)

	got, err = v.e.Skip(ctx, "water.md", date.MustParse("2024-06-24"))
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-06-24"}, got.SkippedInstances)
	got, err = v.e.Unskip(ctx, "water.md", date.MustParse("2024-06-24"))
	require.NoError(t, err)
	assert.Empty(t, got.SkippedInstances)

	got, err = v.e.Uncomplete(ctx, "water.md", date.Date{})
	require.NoError(t, err)
	assert.Empty(t, got.CompleteInstances)

	_, err = v.e.Skip(ctx, "plain.md", date.Date{})
	assert.True(t, clierr.Is(err, clierr.NotRecurring))
}

func TestTimers(t *testing.T) {
	v := newVault(t, map[string]string{"a.md": "---\ntags: [task]\n---\n"})
	ctx := context.Background()

	got, err := v.e.StartTimer(ctx, "a.md", "focus")
	require.NoError(t, err)
	require.NotNil(t, got.ActiveEntry())

	_, err = v.e.StartTimer(ctx, "a.md", "again")
	assert.True(t, clierr.Is(err, clierr.TimerRunning))

	v.clk.set(june10.Add(25 * time.Minute))
	got, err = v.e.StopTimer(ctx, "a.md")
	require.NoError(t, err)
	assert.Nil(t, got.ActiveEntry())
	assert.Equal(t, 25*time.Minute, got.TimeTracked(v.clk.now()))

	_, err = v.e.StopTimer(ctx, "a.md")
	assert.True(t, clierr.Is(err, clierr.TimerNotRunning))
}

func TestApplyAndRename(t *testing.T) {
	v := newVault(t, map[string]string{
		"a.md": "---\ntags: [task]\nblockedBy: [\"[[b]]\"]\n---\n",
	})
	ctx := context.Background()
	deps, err := v.e.Deps(ctx, "a.md", false)
	require.NoError(t, err)
	require.Len(t, deps.Unresolved, 1)

	v.write(t, "work/b.md", "---\ntags: [task]\nstatus: open\n---\n")
	require.NoError(t, v.e.Apply(ctx, watcher.Change{Path: "work/b.md", Op: watcher.Created}))
	deps, err = v.e.Deps(ctx, "a.md", false)
	require.NoError(t, err)
	require.Len(t, deps.BlockedBy, 1)
	assert.Equal(t, "work/b.md", deps.BlockedBy[0].Path)
	assert.True(t, deps.Blocked)

	require.NoError(t, os.MkdirAll(filepath.Join(v.root, "done"), 0o750))
	require.NoError(t, os.Rename(filepath.Join(v.root, "work", "b.md"), filepath.Join(v.root, "done", "b.md")))
	require.NoError(t, v.e.Rename(ctx, "work/b.md", "done/b.md"))
	deps, err = v.e.Deps(ctx, "a.md", false)
	require.NoError(t, err)
	require.Len(t, deps.BlockedBy, 1)
	assert.Equal(t, "done/b.md", deps.BlockedBy[0].Path)

	require.NoError(t, os.RemoveAll(filepath.Join(v.root, "done")))
	require.NoError(t, v.e.Apply(ctx, watcher.Change{Path: "done", Op: watcher.Removed, Dir: true}))
	_, err = v.e.Task(ctx, "done/b.md")
	assert.True(t, clierr.Is(err, clierr.TaskNotFound))
	deps, err = v.e.Deps(ctx, "a.md", false)
	require.NoError(t, err)
	assert.Empty(t, deps.BlockedBy)
	assert.False(t, deps.Blocked)
}

func TestBlockedRelationsFollowCompletion(t *testing.T) {
	v := newVault(t, map[string]string{
		"a.md": "---\ntags: [task]\nblockedBy: [\"[[b]]\"]\n---\n",
		"b.md": "---\ntags: [task]\n---\n",
		"c.md": "---\ntags: [task]\nblocking: [\"[[a]]\"]\nstatus: done\n---\n",
	})
	ctx := context.Background()
	blocked := &query.Query{Filter: query.AllOf(query.Cond("blocked", query.OpIsChecked, nil))}
	blocking := &query.Query{Filter: query.AllOf(query.Cond("blocking", query.OpIsChecked, nil))}

	res, err := v.e.Query(ctx, blocked)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.md"}, paths(res))
	res, err = v.e.Query(ctx, blocking)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.md"}, paths(res))

	_, err = v.e.Complete(ctx, "b.md", date.Date{})
	require.NoError(t, err)
	res, err = v.e.Query(ctx, blocked)
	require.NoError(t, err)
	assert.Empty(t, res.Tasks)

	sum, err := v.e.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.TotalTasks)
	assert.Zero(t, sum.Blocked)
}

func paths(res *query.Result) []string {
	out := make([]string, len(res.Tasks))
	for i, t := range res.Tasks {
		out[i] = t.Path
	}
	return out
}

func TestAgenda(t *testing.T) {
	v := newVault(t, map[string]string{
		"late.md":   "---\ntags: [task]\ndue: 2024-06-07\n---\n",
		"today.md":  "---\ntags: [task]\nscheduled: 2024-06-10\n---\n",
		"friday.md": "---\ntags: [task]\ndue: 2024-06-14\n---\n",
		"daily.md":  "---\ntags: [task]\nrecurrence: \"DTSTART:20240601;FREQ=DAILY\"\n---\n",
	})
	a, err := v.e.Agenda(context.Background(), date.Date{}, 5)
	require.NoError(t, err)
	require.Len(t, a.Days, 5)
	assert.Equal(t, "2024-06-10", a.From.String())
	require.Len(t, a.Overdue, 1)
	assert.Equal(t, "late.md", a.Overdue[0].Path)

	day := func(i int) []string {
		var out []string
		for _, t := range a.Days[i].Tasks {
			out = append(out, t.Path)
		}
		return out
	}
	assert.ElementsMatch(t, []string{"today.md", "daily.md"}, day(0))
	assert.Equal(t, []string{"daily.md"}, day(1))
	assert.ElementsMatch(t, []string{"friday.md", "daily.md"}, day(4))
}

func TestDateRollover(t *testing.T) {
	v := newVault(t, nil, WithRolloverInterval(5*time.Millisecond))
	rec := &recorder{}
	unsub, err := v.e.Subscribe(rec.handle)
	require.NoError(t, err)
	defer unsub()

	v.clk.set(june10.Add(24 * time.Hour))
	require.Eventually(t, func() bool { return rec.find(events.KindDateRolledOver) != nil },
		time.Second, 5*time.Millisecond)
	ev := rec.find(events.KindDateRolledOver).(events.DateRolledOver)
	assert.Equal(t, "2024-06-10", ev.From.String())
	assert.Equal(t, "2024-06-11", ev.To.String())
	assert.Equal(t, "2024-06-11", v.e.Today().String())

	time.Sleep(30 * time.Millisecond)
	n := 0
	for _, k := range rec.kinds() {
		if k == events.KindDateRolledOver {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestSetConfigRederivesTasks(t *testing.T) {
	v := newVault(t, map[string]string{
		"a.md": "---\ntags: [task]\n---\n",
		"b.md": "---\ntags: [todo]\n---\n",
	})
	ctx := context.Background()
	tasks, err := v.e.Tasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	cfg := config.NewDefault("test")
	cfg.SetDir(v.cfg.Dir())
	cfg.Identification.Tag = "todo"
	require.NoError(t, v.e.SetConfig(cfg))

	tasks, err = v.e.Tasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "b.md", tasks[0].Path)
}

func TestWatchAppliesChanges(t *testing.T) {
	v := newVault(t, nil, WithWatch(true))
	ctx := context.Background()
	_, err := v.e.Tasks(ctx)
	require.NoError(t, err)

	v.write(t, "inbox/new.md", "---\ntags: [task]\ntitle: From disk\n---\n")
	require.Eventually(t, func() bool {
		got, err := v.e.Task(ctx, "inbox/new.md")
		return err == nil && got.Title == "From disk"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestJournalRecordsEvents(t *testing.T) {
	root := t.TempDir()
	cfg, err := config.Init(root, "test")
	require.NoError(t, err)
	cfg.Journal = true
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.md"), []byte("---\ntags: [task]\n---\n"), 0o600))

	e := New(cfg, WithTick(time.Millisecond))
	ctx := context.Background()
	require.NoError(t, e.Init(ctx))
	_, err = e.Complete(ctx, "a.md", date.Date{})
	require.NoError(t, err)
	j := e.Journal()
	require.NotNil(t, j)
	require.NoError(t, e.Destroy())

	entries, err := j.Tail(10)
	require.NoError(t, err)
	var kinds []string
	for _, en := range entries {
		kinds = append(kinds, en.Kind)
	}
	assert.Contains(t, kinds, events.KindTaskUpdated)
	assert.Contains(t, kinds, events.KindDataChanged)
}

func TestResolveWarningsAndDoctor(t *testing.T) {
	v := newVault(t, map[string]string{
		"work/report.md": "---\ntitle: Report\ntags: [task]\nblocked_by: ['[[ghost]]']\n---\n",
		"broken.md":      "---\ntitle: [unclosed\n---\n",
		"plain.md":       "no frontmatter\n",
	})
	ctx := context.Background()

	for _, ref := range []string{"work/report.md", "report", "[[Report]]", "Report.md"} {
		p, ok, err := v.e.Resolve(ctx, ref)
		require.NoError(t, err)
		assert.True(t, ok, ref)
		assert.Equal(t, "work/report.md", p, ref)
	}
	_, ok, err := v.e.Resolve(ctx, "nowhere")
	require.NoError(t, err)
	assert.False(t, ok)

	warnings, err := v.e.Warnings(ctx)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, "broken.md", warnings[0].Path)

	r, err := v.e.Doctor(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Tasks)
	assert.Equal(t, 3, r.Notes)
	assert.Len(t, r.Warnings, 1)
	require.Contains(t, r.Unresolved, "work/report.md")
	assert.Equal(t, "ghost", r.Unresolved["work/report.md"][0].Name)
}

func TestSubscribersSeeUpdatedGraph(t *testing.T) {
	v := newVault(t, map[string]string{
		"a.md": "---\ntags: [task]\n---\n",
		"b.md": "---\ntags: [task]\n---\n",
	})
	ctx := context.Background()
	_, err := v.e.Deps(ctx, "a.md", false)
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []string
	unsubscribe, err := v.e.Subscribe(func(env events.Envelope) {
		u, ok := env.Event.(events.TaskUpdated)
		if !ok || u.Path != "a.md" {
			return
		}
		deps, err := v.e.Deps(ctx, "a.md", false)
		if !assert.NoError(t, err) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		for _, d := range deps.BlockedBy {
			seen = append(seen, d.Path)
		}
	})
	require.NoError(t, err)
	defer unsubscribe()

	v.write(t, "a.md", "---\ntags: [task]\nblockedBy: [\"[[b]]\"]\n---\n")
	require.NoError(t, v.e.Apply(ctx, watcher.Change{Path: "a.md", Op: watcher.Modified}))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"b.md"}, seen, "TaskUpdated is delivered after the graph update")
}
