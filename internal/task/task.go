// Package task handles task notes: the Task model, parsing note frontmatter
// into tasks, and writing task fields back into notes.
package task

import (
	"slices"
	"time"

	"github.com/twiced-technology-gmbh/taskvault/internal/date"
	"github.com/twiced-technology-gmbh/taskvault/internal/recurrence"
)

// maxSkippedOccurrences bounds the search for the next unfinished occurrence.
const maxSkippedOccurrences = 1000

// Task represents a task parsed from a note's frontmatter.
type Task struct {
	Path              string           `json:"path"`
	Title             string           `json:"title"`
	Status            string           `json:"status"`
	Priority          string           `json:"priority"`
	Due               *date.Stamp      `json:"due,omitempty"`
	Scheduled         *date.Stamp      `json:"scheduled,omitempty"`
	Recurrence        string           `json:"recurrence,omitempty"`
	Rule              *recurrence.Rule `json:"-"`
	RecurrenceAnchor  string           `json:"recurrence_anchor,omitempty"`
	CompleteInstances []string         `json:"complete_instances,omitempty"`
	SkippedInstances  []string         `json:"skipped_instances,omitempty"`
	TimeEntries       []TimeEntry      `json:"time_entries,omitempty"`
	Projects          []string         `json:"projects,omitempty"`
	Contexts          []string         `json:"contexts,omitempty"`
	Tags              []string         `json:"tags,omitempty"`
	BlockedBy         []Dependency     `json:"blocked_by,omitempty"`
	Blocking          []Dependency     `json:"blocking,omitempty"`
	Archived          bool             `json:"archived,omitempty"`
	TimeEstimate      int              `json:"time_estimate,omitempty"`
	CompletedDate     *date.Date       `json:"completed_date,omitempty"`
	DateCreated       *date.Stamp      `json:"date_created,omitempty"`
	DateModified      *date.Stamp      `json:"date_modified,omitempty"`
	Custom            map[string]any   `json:"custom,omitempty"`

	// Body is the markdown content below the frontmatter.
	Body string `json:"body,omitempty"`
}

// TimeEntry is one tracked work session. End is nil while the session runs.
type TimeEntry struct {
	Start       time.Time  `json:"start"`
	End         *time.Time `json:"end,omitempty"`
	Description string     `json:"description,omitempty"`
}

// Duration returns the length of the entry, measuring open entries up to now.
func (e TimeEntry) Duration(now time.Time) time.Duration {
	end := now
	if e.End != nil {
		end = *e.End
	}
	if end.Before(e.Start) {
		return 0
	}
	return end.Sub(e.Start)
}

// Dependency is one blocked-by or blocking reference. UID is the raw
// reference text; it is resolved to a path by the dependency graph.
type Dependency struct {
	UID     string `json:"uid"`
	RelType string `json:"reltype,omitempty"`
	Gap     string `json:"gap,omitempty"`
}

// IsRecurring reports whether the task has a valid recurrence rule.
func (t *Task) IsRecurring() bool {
	return t.Rule != nil
}

// Anchor returns the date a recurring task counts occurrences from: the
// rule's DTSTART, else scheduled, else due, else the creation date.
func (t *Task) Anchor() date.Date {
	switch {
	case t.Rule != nil && !t.Rule.Start.IsZero():
		return t.Rule.Start
	case t.Scheduled != nil:
		return t.Scheduled.Date
	case t.Due != nil:
		return t.Due.Date
	case t.DateCreated != nil:
		return t.DateCreated.Date
	}
	return date.Date{}
}

// OccursOn reports whether a recurring task has an occurrence on d.
func (t *Task) OccursOn(d date.Date) bool {
	return recurrence.OccursOn(t.Rule, d, t.Anchor())
}

// IsCompleteForDate reports whether the occurrence on d is complete.
func (t *Task) IsCompleteForDate(d date.Date) bool {
	_, ok := slices.BinarySearch(t.CompleteInstances, d.String())
	return ok
}

// IsSkippedForDate reports whether the occurrence on d was skipped.
func (t *Task) IsSkippedForDate(d date.Date) bool {
	_, ok := slices.BinarySearch(t.SkippedInstances, d.String())
	return ok
}

// IsOnDate reports whether the task belongs to day d: recurring tasks by an
// unskipped occurrence, other tasks by their due or scheduled date.
func (t *Task) IsOnDate(d date.Date) bool {
	if t.IsRecurring() {
		return t.OccursOn(d) && !t.IsSkippedForDate(d)
	}
	return (t.Due != nil && t.Due.Date.Equal(d)) || (t.Scheduled != nil && t.Scheduled.Date.Equal(d))
}

// NextOccurrence returns the first occurrence on or after from that is
// neither complete nor skipped.
func (t *Task) NextOccurrence(from date.Date) (date.Date, bool) {
	if !t.IsRecurring() {
		return date.Date{}, false
	}
	cur := from.AddDays(-1)
	for range maxSkippedOccurrences {
		next, ok := recurrence.Next(t.Rule, cur, t.Anchor())
		if !ok {
			return date.Date{}, false
		}
		if !t.IsCompleteForDate(next) && !t.IsSkippedForDate(next) {
			return next, true
		}
		cur = next
	}
	return date.Date{}, false
}

// Dates returns the calendar dates the task is filed under in date indexes:
// the due and scheduled dates, deduplicated.
func (t *Task) Dates() []date.Date {
	var out []date.Date
	if t.Due != nil {
		out = append(out, t.Due.Date)
	}
	if t.Scheduled != nil && (t.Due == nil || !t.Scheduled.Date.Equal(t.Due.Date)) {
		out = append(out, t.Scheduled.Date)
	}
	return out
}

// ActiveEntry returns the open time entry, or nil.
func (t *Task) ActiveEntry() *TimeEntry {
	for i := range t.TimeEntries {
		if t.TimeEntries[i].End == nil {
			return &t.TimeEntries[i]
		}
	}
	return nil
}

// TimeTracked returns the total tracked time, counting an open entry up to now.
func (t *Task) TimeTracked(now time.Time) time.Duration {
	var total time.Duration
	for _, e := range t.TimeEntries {
		total += e.Duration(now)
	}
	return total
}

// DependencyRefs returns the raw references of deps.
func DependencyRefs(deps []Dependency) []string {
	refs := make([]string, len(deps))
	for i, d := range deps {
		refs[i] = d.UID
	}
	return refs
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	c := *t
	c.Due = clonePtr(t.Due)
	c.Scheduled = clonePtr(t.Scheduled)
	c.CompletedDate = clonePtr(t.CompletedDate)
	c.DateCreated = clonePtr(t.DateCreated)
	c.DateModified = clonePtr(t.DateModified)
	if t.Rule != nil {
		c.Rule = t.Rule.WithStart(t.Rule.Start)
	}
	c.CompleteInstances = slices.Clone(t.CompleteInstances)
	c.SkippedInstances = slices.Clone(t.SkippedInstances)
	c.TimeEntries = make([]TimeEntry, len(t.TimeEntries))
	for i, e := range t.TimeEntries {
		c.TimeEntries[i] = TimeEntry{Start: e.Start, End: clonePtr(e.End), Description: e.Description}
	}
	if t.TimeEntries == nil {
		c.TimeEntries = nil
	}
	c.Projects = slices.Clone(t.Projects)
	c.Contexts = slices.Clone(t.Contexts)
	c.Tags = slices.Clone(t.Tags)
	c.BlockedBy = slices.Clone(t.BlockedBy)
	c.Blocking = slices.Clone(t.Blocking)
	if t.Custom != nil {
		c.Custom = make(map[string]any, len(t.Custom))
		for k, v := range t.Custom {
			c.Custom[k] = v
		}
	}
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
