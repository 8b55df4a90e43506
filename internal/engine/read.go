package engine

import (
	"context"

	"github.com/twiced-technology-gmbh/taskvault/internal/config"
	"github.com/twiced-technology-gmbh/taskvault/internal/date"
	"github.com/twiced-technology-gmbh/taskvault/internal/link"
	"github.com/twiced-technology-gmbh/taskvault/internal/query"
	"github.com/twiced-technology-gmbh/taskvault/internal/task"
)

// Day is one agenda day.
type Day struct {
	Date  date.Date    `json:"date"`
	Tasks []*task.Task `json:"tasks"`
}

// Agenda lists the tasks on each of days consecutive dates from from.
type Agenda struct {
	From    date.Date    `json:"from"`
	Overdue []*task.Task `json:"overdue,omitempty"`
	Days    []Day        `json:"days"`
}

// Deps describes a task's dependency neighbourhood.
type Deps struct {
	Task       *task.Task        `json:"task"`
	BlockedBy  []*task.Task      `json:"blocked_by"`
	Blocking   []*task.Task      `json:"blocking"`
	Unresolved []link.Unresolved `json:"unresolved,omitempty"`
	Blocked    bool              `json:"blocked"`
}

// Report is the result of a vault health check.
type Report struct {
	Tasks      int                          `json:"tasks"`
	Notes      int                          `json:"notes"`
	Edges      int                          `json:"edges"`
	Warnings   []*task.ParseWarning         `json:"warnings,omitempty"`
	Unresolved map[string][]link.Unresolved `json:"unresolved,omitempty"`
}

var agendaSort = []query.SortKey{
	{Field: query.PropScheduled},
	{Field: query.PropPriority, Desc: true},
}

// Task returns the task at notePath.
func (e *Engine) Task(ctx context.Context, notePath string) (*task.Task, error) {
	if _, _, err := e.running(); err != nil {
		return nil, err
	}
	t, ok, err := e.ix.Get(ctx, notePath)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, task.NotFound(notePath)
	}
	return t, nil
}

// Tasks returns every task sorted by path.
func (e *Engine) Tasks(ctx context.Context) ([]*task.Task, error) {
	if _, _, err := e.running(); err != nil {
		return nil, err
	}
	return e.ix.GetAll(ctx)
}

// Env returns an evaluation environment for the current tasks, with
// dependency relations filled in from the graph.
func (e *Engine) Env(ctx context.Context) (*query.Env, []*task.Task, error) {
	cfg, today, err := e.running()
	if err != nil {
		return nil, nil, err
	}
	tasks, err := e.ix.GetAll(ctx)
	if err != nil {
		return nil, nil, err
	}
	rel, err := e.relations(ctx, tasks, isDone(cfg, today))
	if err != nil {
		return nil, nil, err
	}
	return &query.Env{Config: cfg, Today: today, Now: e.now(), Relations: rel}, tasks, nil
}

// Query runs q over every task.
func (e *Engine) Query(ctx context.Context, q *query.Query) (*query.Result, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	env, tasks, err := e.Env(ctx)
	if err != nil {
		return nil, err
	}
	return q.Run(tasks, env)
}

// Summary counts tasks per status and priority.
func (e *Engine) Summary(ctx context.Context) (query.Overview, error) {
	env, tasks, err := e.Env(ctx)
	if err != nil {
		return query.Overview{}, err
	}
	return query.Summary(tasks, env), nil
}

// Agenda lists the tasks falling on each day in [from, from+days). A zero
// from means today. Unfinished tasks overdue as of from are listed
// separately.
func (e *Engine) Agenda(ctx context.Context, from date.Date, days int) (*Agenda, error) {
	env, tasks, err := e.Env(ctx)
	if err != nil {
		return nil, err
	}
	if from.IsZero() {
		from = env.Today
	}
	if days <= 0 {
		days = env.Config.AgendaDays()
	}
	at := *env
	at.Today = from
	out := &Agenda{From: from}
	for _, t := range tasks {
		if query.IsOverdue(t, &at) {
			out.Overdue = append(out.Overdue, t)
		}
	}
	query.Sort(out.Overdue, []query.SortKey{{Field: query.PropDue}}, &at)

	for i := range days {
		d := from.AddDays(i)
		onDay, err := e.ix.TasksForDate(ctx, d)
		if err != nil {
			return nil, err
		}
		query.Sort(onDay, agendaSort, &at)
		out.Days = append(out.Days, Day{Date: d, Tasks: onDay})
	}
	return out, nil
}

// Project returns the tasks that belong to the project note ref.
func (e *Engine) Project(ctx context.Context, ref string) ([]*task.Task, link.Batch, error) {
	if _, _, err := e.running(); err != nil {
		return nil, link.Batch{}, err
	}
	return e.ix.TasksForProject(ctx, ref)
}

// Projects returns every referenced project with its task count.
func (e *Engine) Projects(ctx context.Context) (map[string]int, error) {
	if _, _, err := e.running(); err != nil {
		return nil, err
	}
	return e.ix.Projects(ctx)
}

// Deps returns the blockers and dependents of the task at notePath. With
// transitive set, BlockedBy holds every task reachable through blocked-by
// edges.
func (e *Engine) Deps(ctx context.Context, notePath string, transitive bool) (*Deps, error) {
	cfg, today, err := e.running()
	if err != nil {
		return nil, err
	}
	t, err := e.Task(ctx, notePath)
	if err != nil {
		return nil, err
	}
	out := &Deps{Task: t}
	if transitive {
		out.BlockedBy, err = e.g.TransitiveBlockers(ctx, notePath)
	} else {
		out.BlockedBy, err = e.g.BlockersOf(ctx, notePath)
	}
	if err != nil {
		return nil, err
	}
	if out.Blocking, err = e.g.BlockedByThis(ctx, notePath); err != nil {
		return nil, err
	}
	if out.Unresolved, err = e.g.Unresolved(ctx, notePath); err != nil {
		return nil, err
	}
	if out.Blocked, err = e.g.IsBlocked(ctx, notePath, isDone(cfg, today)); err != nil {
		return nil, err
	}
	return out, nil
}

// Resolve maps a note reference ("work/report.md", "report", "[[Report]]")
// to a vault-relative path.
func (e *Engine) Resolve(ctx context.Context, ref string) (string, bool, error) {
	if _, _, err := e.running(); err != nil {
		return "", false, err
	}
	b, err := e.ix.Resolve(ctx, "", ref)
	if err != nil || len(b.Resolved) == 0 {
		return "", false, err
	}
	return b.Resolved[0].Path, true, nil
}

// Warnings returns the notes whose frontmatter could not be read.
func (e *Engine) Warnings(ctx context.Context) ([]*task.ParseWarning, error) {
	if _, _, err := e.running(); err != nil {
		return nil, err
	}
	return e.ix.Warnings(ctx)
}

// Doctor reports parse warnings and unresolved references.
func (e *Engine) Doctor(ctx context.Context) (*Report, error) {
	if _, _, err := e.running(); err != nil {
		return nil, err
	}
	tasks, err := e.ix.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	notes, err := e.ix.Notes(ctx)
	if err != nil {
		return nil, err
	}
	warnings, err := e.ix.Warnings(ctx)
	if err != nil {
		return nil, err
	}
	unresolved, err := e.g.AllUnresolved(ctx)
	if err != nil {
		return nil, err
	}
	_, edges, err := e.g.Size(ctx)
	if err != nil {
		return nil, err
	}
	return &Report{
		Tasks:      len(tasks),
		Notes:      len(notes),
		Edges:      edges,
		Warnings:   warnings,
		Unresolved: unresolved,
	}, nil
}

// relations derives blocked and blocking flags. A task is blocked while any
// blocker task is unfinished, and blocking while it is an unfinished
// blocker of an unfinished task.
func (e *Engine) relations(ctx context.Context, tasks []*task.Task, done func(*task.Task) bool) (query.Relations, error) {
	rel := query.Relations{
		Blocked:   make(map[string]bool),
		Blocking:  make(map[string]bool),
		BlockedBy: make(map[string][]string),
	}
	byPath := make(map[string]*task.Task, len(tasks))
	for _, t := range tasks {
		byPath[t.Path] = t
	}
	for _, t := range tasks {
		blockers, err := e.g.BlockerPaths(ctx, t.Path)
		if err != nil {
			return rel, err
		}
		if len(blockers) == 0 {
			continue
		}
		rel.BlockedBy[t.Path] = blockers
		for _, b := range blockers {
			bt, ok := byPath[b]
			if !ok || done(bt) {
				continue
			}
			rel.Blocked[t.Path] = true
			if !done(t) {
				rel.Blocking[b] = true
			}
		}
	}
	return rel, nil
}

// isDone reports whether a task no longer blocks others: a completed status,
// or today's occurrence completed for recurring tasks.
func isDone(cfg *config.Config, today date.Date) func(*task.Task) bool {
	return func(t *task.Task) bool {
		if t.IsRecurring() {
			return t.IsCompleteForDate(today)
		}
		return cfg.IsCompletedStatus(t.Status)
	}
}
