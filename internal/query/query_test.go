package query

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twiced-technology-gmbh/taskvault/internal/clierr"
	"github.com/twiced-technology-gmbh/taskvault/internal/config"
	"github.com/twiced-technology-gmbh/taskvault/internal/date"
	"github.com/twiced-technology-gmbh/taskvault/internal/recurrence"
	"github.com/twiced-technology-gmbh/taskvault/internal/task"
)

var today = date.MustParse("2024-06-10")

func testEnv() *Env {
	cfg := config.NewDefault("test")
	cfg.CustomFields = []config.CustomField{
		{Key: "effort", Type: config.FieldNumber},
		{Key: "reviewed", Type: config.FieldBoolean},
		{Key: "launch", Type: config.FieldDate},
	}
	return &Env{
		Config: cfg,
		Today:  today,
		Now:    time.Date(2024, 6, 10, 12, 0, 0, 0, time.Local),
	}
}

func stamp(s string) *date.Stamp {
	st, err := date.ParseStamp(s)
	if err != nil {
		panic(err)
	}
	return &st
}

func mk(p, title, status, priority, due string) *task.Task {
	t := &task.Task{Path: p, Title: title, Status: status, Priority: priority}
	if due != "" {
		t.Due = stamp(due)
	}
	return t
}

func titles(tasks []*task.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Title
	}
	return out
}

func TestOverdueAndNotDone(t *testing.T) {
	env := testEnv()
	tasks := []*task.Task{
		mk("a.md", "done early", "done", "normal", "2024-06-01"),
		mk("b.md", "done late", "done", "normal", "2024-06-20"),
		mk("c.md", "overdue", "open", "normal", "2024-06-09"),
		mk("d.md", "upcoming", "open", "normal", "2024-06-11"),
		mk("e.md", "someday", "open", "normal", ""),
	}
	g := AllOf(Cond("status", "!=", "done"), Cond("due", "<=", "today"))

	got := Filter(tasks, g, env)
	assert.Equal(t, []string{"overdue"}, titles(got))
}

func TestConditionMatch(t *testing.T) {
	env := testEnv()
	x := mk("work/x.md", "Write report", "in-progress", "high", "2024-06-12")
	x.Scheduled = stamp("2024-06-10T09:00")
	x.Tags = []string{"task", "work"}
	x.Contexts = []string{"office"}
	x.Projects = []string{"[[Roof|the roof]]"}
	x.TimeEstimate = 90
	x.BlockedBy = []task.Dependency{{UID: "[[y]]"}}
	start := time.Date(2024, 6, 10, 11, 0, 0, 0, time.Local)
	x.TimeEntries = []task.TimeEntry{{Start: start}}
	x.Custom = map[string]any{"effort": 3, "reviewed": "true", "launch": "2024-07-01", "owner": "sam"}
	env.Relations = Relations{
		Blocked:   map[string]bool{"work/x.md": true},
		BlockedBy: map[string][]string{"work/x.md": {"y.md"}},
	}

	tests := []struct {
		prop, op string
		value    any
		want     bool
	}{
		{"title", OpContains, "REPORT", true},
		{"title", OpIs, "write report", true},
		{"path", OpContains, "work/", true},
		{"status", OpIsNot, "done", true},
		{"status", OpIsBefore, "done", true},
		{"priority", OpIsOnOrAfter, "normal", true},
		{"priority", OpIsLessThan, "normal", false},
		{"priority", OpIsGreaterThan, "bogus", false},
		{"due", OpIsBefore, "in 3 days", true},
		{"due", OpIs, "2024-06-12", true},
		{"due", OpIsAfter, "next friday", false},
		{"due", OpIs, "not a date", false},
		{"scheduled", OpIs, "today", true},
		{"completedDate", OpIsEmpty, nil, true},
		{"completedDate", OpIs, "today", false},
		{"completedDate", OpIsNot, "today", true},
		{"tags", OpContains, "wor", true},
		{"tags", OpIs, "work", true},
		{"tags", OpDoesNotContain, "home", true},
		{"contexts", OpIs, "office", true},
		{"projects", OpIs, "[[roof]]", true},
		{"projects", OpContains, "roo", true},
		{"blocked", OpIsChecked, nil, true},
		{"blocking", OpIsChecked, nil, false},
		{"blocking", OpIsNotChecked, nil, true},
		{"blockedBy", OpContains, "y.md", true},
		{"archived", OpIs, "false", true},
		{"recurring", OpIsNotChecked, nil, true},
		{"completed", OpIsChecked, nil, false},
		{"timeEstimate", OpIsGreaterThan, 60, true},
		{"timeEstimate", OpIsLessThanOrEq, "90", true},
		{"timeEstimate", OpIsGreaterThan, "lots", false},
		{"timeTracked", OpIsGreaterThanOrEq, 60, true},
		{"user:effort", OpIsGreaterThan, 2, true},
		{"effort", OpIs, "3", true},
		{"reviewed", OpIsChecked, nil, true},
		{"launch", OpIsAfter, "2024-06-30", true},
		{"owner", OpIs, "Sam", true},
		{"user:missing", OpIsEmpty, nil, true},
		{"nonexistent", OpIsEmpty, nil, false},
		{"nonexistent", OpIsNot, "x", false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s %s %v", tt.prop, tt.op, tt.value), func(t *testing.T) {
			c := Condition{Property: tt.prop, Operator: tt.op, Value: tt.value}
			assert.Equal(t, tt.want, c.Match(x, env))
		})
	}
}

func TestGroupShortCircuits(t *testing.T) {
	env := testEnv()
	x := mk("x.md", "x", "open", "high", "")

	assert.True(t, AnyOf(Cond("priority", OpIs, "high"), Cond("nope", OpIs, "y")).Match(x, env))
	assert.False(t, AllOf(Cond("priority", OpIs, "low"), Cond("status", OpIs, "open")).Match(x, env))
	assert.True(t, AllOf().Match(x, env), "empty and")
	assert.True(t, AnyOf().Match(x, env), "empty or")
	assert.True(t, (*Group)(nil).Match(x, env))
}

func TestCompletedUsesTodayForRecurring(t *testing.T) {
	env := testEnv()
	rule, err := recurrence.Parse("DTSTART:20240603;FREQ=WEEKLY")
	require.NoError(t, err)
	r := mk("r.md", "weekly", "open", "normal", "")
	r.Recurrence = rule.String()
	r.Rule = rule
	r.CompleteInstances = []string{"2024-06-10"}

	c := Condition{Property: "completed", Operator: OpIsChecked}
	assert.True(t, c.Match(r, env))
	env.Today = today.AddDays(7)
	assert.False(t, c.Match(r, env))
}

func TestSortDeterminism(t *testing.T) {
	env := testEnv()
	build := func() []*task.Task {
		return []*task.Task{
			mk("j.md", "Juniper", "open", "low", ""),
			mk("b.md", "Birch", "open", "high", ""),
			mk("a2.md", "Alder", "open", "normal", ""),
			mk("h.md", "Hazel", "open", "none", ""),
			mk("a1.md", "Alder", "open", "normal", ""),
			mk("c.md", "Cedar", "open", "high", ""),
			mk("e.md", "Elm", "open", "", ""),
			mk("f.md", "Fir", "open", "low", ""),
			mk("g.md", "Ginkgo", "open", "normal", ""),
			mk("d.md", "Dogwood", "open", "high", ""),
		}
	}
	keys, err := ParseSort("priority")
	require.NoError(t, err)
	require.Equal(t, []SortKey{{Field: "priority", Desc: true}}, keys)

	first, second := build(), build()
	Sort(first, keys, env)
	Sort(second, keys, env)

	paths := func(ts []*task.Task) []string {
		out := make([]string, len(ts))
		for i, x := range ts {
			out[i] = x.Path
		}
		return out
	}
	want := []string{"b.md", "c.md", "d.md", "a1.md", "a2.md", "g.md", "f.md", "j.md", "h.md", "e.md"}
	assert.Equal(t, want, paths(first))
	assert.Equal(t, paths(first), paths(second))
}

func TestSortMissingValuesLast(t *testing.T) {
	env := testEnv()
	tasks := []*task.Task{
		mk("a.md", "no due", "open", "normal", ""),
		mk("b.md", "late", "open", "normal", "2024-06-20"),
		mk("c.md", "early", "open", "normal", "2024-06-01"),
		mk("d.md", "timed", "open", "normal", "2024-06-01T08:00"),
	}
	for _, spec := range []string{"due", "due:desc"} {
		keys, err := ParseSort(spec)
		require.NoError(t, err)
		Sort(tasks, keys, env)
		assert.Equal(t, "no due", tasks[len(tasks)-1].Title, spec)
	}
	keys, _ := ParseSort("due:asc")
	Sort(tasks, keys, env)
	assert.Equal(t, []string{"early", "timed", "late", "no due"}, titles(tasks))
}

func TestParseSortErrors(t *testing.T) {
	for _, s := range []string{"colour", "due:sideways", "user:"} {
		_, err := ParseSort(s)
		assert.True(t, clierr.Is(err, clierr.InvalidSort), s)
	}
	keys, err := ParseSort("status, user:effort:desc , ")
	require.NoError(t, err)
	assert.Equal(t, []SortKey{{Field: "status"}, {Field: "user:effort", Desc: true}}, keys)
}

func TestBucket(t *testing.T) {
	tests := []struct {
		due  string
		want string
	}{
		{"2024-06-09", BucketOverdue},
		{"2024-06-10", BucketToday},
		{"2024-06-11", BucketTomorrow},
		{"2024-06-12", BucketNextSevenDays},
		{"2024-06-17", BucketNextSevenDays},
		{"2024-06-18", BucketLater},
		{"2024-08-01", BucketLater},
	}
	for _, tt := range tests {
		d := date.MustParse(tt.due)
		assert.Equal(t, tt.want, Bucket(&d, today), tt.due)
	}
	assert.Equal(t, BucketNone, Bucket(nil, today))
}

func TestGroupByDue(t *testing.T) {
	env := testEnv()
	rule, err := recurrence.Parse("DTSTART:20240603;FREQ=WEEKLY")
	require.NoError(t, err)
	r := mk("r.md", "weekly", "open", "normal", "2024-06-03")
	r.Rule = rule
	r.CompleteInstances = []string{"2024-06-10"}

	tasks := []*task.Task{
		mk("a.md", "later", "open", "normal", "2024-08-01"),
		mk("b.md", "overdue", "open", "normal", "2024-06-09"),
		mk("c.md", "today", "open", "normal", "2024-06-10T15:00"),
		mk("d.md", "none", "open", "normal", ""),
		mk("e.md", "week", "open", "normal", "2024-06-17"),
		r,
	}
	sections, err := GroupTasks(tasks, GroupDue, "", env)
	require.NoError(t, err)

	got := map[string][]string{}
	var order []string
	for _, s := range sections {
		order = append(order, s.Key)
		got[s.Key] = titles(s.Tasks)
	}
	assert.Equal(t, []string{BucketOverdue, BucketToday, BucketNextSevenDays, BucketLater, BucketNone}, order)
	assert.Equal(t, []string{"week", "weekly"}, got[BucketNextSevenDays], "recurring task uses its next open occurrence")
	assert.Equal(t, "Overdue", sections[0].Label)
}

func TestGroupOrdering(t *testing.T) {
	env := testEnv()
	a := mk("a.md", "a", "done", "low", "")
	a.Tags = []string{"task", "home"}
	b := mk("b.md", "b", "open", "high", "")
	b.Tags = []string{"task", "work", "home"}
	c := mk("c.md", "c", "waiting", "urgent", "")

	sections, err := GroupTasks([]*task.Task{a, b, c}, GroupStatus, "", env)
	require.NoError(t, err)
	assert.Equal(t, []string{"open", "done", "waiting"}, sectionKeys(sections), "config order, unknown after")

	sections, err = GroupTasks([]*task.Task{a, b, c}, GroupPriority, "", env)
	require.NoError(t, err)
	assert.Equal(t, []string{"high", "low", "urgent"}, sectionKeys(sections), "weight descending")

	sections, err = GroupTasks([]*task.Task{a, b, c}, GroupTag, GroupStatus, env)
	require.NoError(t, err)
	assert.Equal(t, []string{"home", "task", "work", ""}, sectionKeys(sections), "alphabetical, empty last")
	assert.Equal(t, []string{"a", "b"}, titles(sections[0].Tasks))
	assert.Equal(t, []string{"open", "done"}, sectionKeys(sections[0].Subsections))
	assert.Equal(t, "(none)", sections[3].Label)

	_, err = GroupTasks(nil, "colour", "", env)
	assert.True(t, clierr.Is(err, clierr.InvalidGroupBy))
}

func sectionKeys(sections []Section) []string {
	out := make([]string, len(sections))
	for i, s := range sections {
		out[i] = s.Key
	}
	return out
}

func TestSummary(t *testing.T) {
	env := testEnv()
	tasks := []*task.Task{
		mk("a.md", "a", "open", "high", "2024-06-01"),
		mk("b.md", "b", "done", "high", "2024-06-01"),
		mk("c.md", "c", "in-progress", "low", ""),
		mk("d.md", "d", "open", "normal", "2024-06-30"),
	}
	env.Relations.Blocked = map[string]bool{"c.md": true}

	ov := Summary(tasks, env)
	assert.Equal(t, "test", ov.VaultName)
	assert.Equal(t, 4, ov.TotalTasks)
	assert.Equal(t, 1, ov.Overdue)
	assert.Equal(t, 1, ov.Blocked)

	counts := map[string]StatusSummary{}
	for _, s := range ov.Statuses {
		counts[s.Status] = s
	}
	assert.Equal(t, 2, counts["open"].Count)
	assert.Equal(t, 1, counts["open"].Overdue)
	assert.Equal(t, 1, counts["in-progress"].Blocked)
	assert.Equal(t, []PriorityCount{{"high", 2}, {"normal", 1}, {"low", 1}, {"none", 0}}, ov.Priorities)
}

func TestQueryRun(t *testing.T) {
	env := testEnv()
	tasks := []*task.Task{
		mk("a.md", "a", "open", "low", ""),
		mk("b.md", "b", "open", "high", ""),
		mk("c.md", "c", "done", "high", ""),
		mk("d.md", "d", "open", "normal", ""),
	}
	q := &Query{
		Filter:  AllOf(Cond("status", OpIs, "open")),
		Sort:    []SortKey{{Field: "priority", Desc: true}},
		GroupBy: GroupPriority,
		Limit:   2,
	}
	res, err := q.Run(tasks, env)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "d"}, titles(res.Tasks))
	assert.Equal(t, []string{"high", "normal"}, sectionKeys(res.Sections))
	assert.Equal(t, "a", tasks[0].Title, "input untouched")

	bad := &Query{Filter: AllOf(Cond("status", "??", "x"))}
	_, err = bad.Run(tasks, env)
	assert.True(t, clierr.Is(err, clierr.FilterUnavailable))
}
