package task

import (
	"slices"
	"time"

	"github.com/twiced-technology-gmbh/taskvault/internal/clierr"
	"github.com/twiced-technology-gmbh/taskvault/internal/config"
	"github.com/twiced-technology-gmbh/taskvault/internal/date"
)

// CompleteInstance marks the occurrence on d complete and clears any skip
// for that day. Reports whether anything changed.
func (t *Task) CompleteInstance(d date.Date) bool {
	key := d.String()
	var added, removed bool
	t.CompleteInstances, added = insertSorted(t.CompleteInstances, key)
	t.SkippedInstances, removed = removeSorted(t.SkippedInstances, key)
	return added || removed
}

// UncompleteInstance removes d from the complete set.
func (t *Task) UncompleteInstance(d date.Date) bool {
	var removed bool
	t.CompleteInstances, removed = removeSorted(t.CompleteInstances, d.String())
	return removed
}

// SkipInstance marks the occurrence on d skipped and clears any completion
// for that day.
func (t *Task) SkipInstance(d date.Date) bool {
	key := d.String()
	var added, removed bool
	t.SkippedInstances, added = insertSorted(t.SkippedInstances, key)
	t.CompleteInstances, removed = removeSorted(t.CompleteInstances, key)
	return added || removed
}

// UnskipInstance removes d from the skipped set.
func (t *Task) UnskipInstance(d date.Date) bool {
	var removed bool
	t.SkippedInstances, removed = removeSorted(t.SkippedInstances, d.String())
	return removed
}

// Complete completes t for day d and returns the fields that changed.
// Completing the same day twice changes nothing the second time.
//
// Non-recurring tasks move to the first completed status and record d as
// the completion date. Recurring tasks record d in complete_instances; with
// a completion anchor the rule restarts at d, and with maintain_offset the
// scheduled date moves to the next unfinished occurrence, carrying the due
// date along at its original distance.
func Complete(t *Task, d date.Date, cfg *config.Config) []Field {
	if !t.IsRecurring() {
		if cfg.IsCompletedStatus(t.Status) && t.CompletedDate != nil {
			return nil
		}
		t.Status = cfg.FirstCompletedStatus()
		done := d
		t.CompletedDate = &done
		return []Field{FieldStatus, FieldCompletedDate}
	}

	if t.IsCompleteForDate(d) {
		return nil
	}
	changed := []Field{FieldCompleteInstances, FieldSkippedInstances}
	if t.RecurrenceAnchor == config.AnchorCompletion {
		t.Rule = t.Rule.WithStart(d)
		t.Recurrence = t.Rule.String()
		changed = append(changed, FieldRecurrence)
	} else if cfg.Recurrence.MaintainOffset && t.Rule.Start.IsZero() {
		// Pin the pattern before moving the dates it would otherwise count from.
		if anchor := t.Anchor(); !anchor.IsZero() {
			t.Rule = t.Rule.WithStart(anchor)
			t.Recurrence = t.Rule.String()
			changed = append(changed, FieldRecurrence)
		}
	}
	t.CompleteInstance(d)

	if cfg.Recurrence.MaintainOffset || t.RecurrenceAnchor == config.AnchorCompletion {
		changed = append(changed, advanceDates(t, d)...)
	}
	return changed
}

// advanceDates moves scheduled (and due) to the first unfinished occurrence
// after d. Dates already past d are left alone, so completing a missed
// occurrence never moves the schedule backwards.
func advanceDates(t *Task, d date.Date) []Field {
	if t.Scheduled != nil && t.Scheduled.Date.After(d) {
		return nil
	}
	if t.Scheduled == nil && t.Due != nil && t.Due.Date.After(d) {
		return nil
	}
	next, ok := t.NextOccurrence(d.AddDays(1))
	if !ok {
		return nil
	}
	var changed []Field
	switch {
	case t.Scheduled != nil:
		offset := 0
		hasDue := t.Due != nil
		if hasDue {
			offset = t.Scheduled.Date.DaysUntil(t.Due.Date)
		}
		t.Scheduled = &date.Stamp{Date: next, Clock: t.Scheduled.Clock}
		changed = append(changed, FieldScheduled)
		if hasDue {
			t.Due = &date.Stamp{Date: next.AddDays(offset), Clock: t.Due.Clock}
			changed = append(changed, FieldDue)
		}
	case t.Due != nil:
		t.Due = &date.Stamp{Date: next, Clock: t.Due.Clock}
		changed = append(changed, FieldDue)
	default:
		t.Scheduled = &date.Stamp{Date: next}
		changed = append(changed, FieldScheduled)
	}
	return changed
}

// Uncomplete reverses Complete for day d.
func Uncomplete(t *Task, d date.Date, cfg *config.Config) []Field {
	if t.IsRecurring() {
		if !t.UncompleteInstance(d) {
			return nil
		}
		return []Field{FieldCompleteInstances}
	}
	if !cfg.IsCompletedStatus(t.Status) && t.CompletedDate == nil {
		return nil
	}
	if cfg.IsCompletedStatus(t.Status) {
		t.Status = cfg.Defaults.Status
	}
	t.CompletedDate = nil
	return []Field{FieldStatus, FieldCompletedDate}
}

// Skip marks the occurrence on d skipped. Only recurring tasks can be skipped.
func Skip(t *Task, d date.Date) ([]Field, error) {
	if !t.IsRecurring() {
		return nil, notRecurring(t)
	}
	if !t.SkipInstance(d) {
		return nil, nil
	}
	return []Field{FieldSkippedInstances, FieldCompleteInstances}, nil
}

// Unskip removes the skip for d.
func Unskip(t *Task, d date.Date) ([]Field, error) {
	if !t.IsRecurring() {
		return nil, notRecurring(t)
	}
	if !t.UnskipInstance(d) {
		return nil, nil
	}
	return []Field{FieldSkippedInstances}, nil
}

// StartTimer opens a new time entry. At most one entry may be open.
func StartTimer(t *Task, now time.Time, description string) ([]Field, error) {
	if active := t.ActiveEntry(); active != nil {
		return nil, clierr.Newf(clierr.TimerRunning, "timer already running on %q since %s",
			t.Path, active.Start.Format(time.Kitchen)).
			WithDetails(map[string]any{"path": t.Path, "start": active.Start})
	}
	t.TimeEntries = append(t.TimeEntries, TimeEntry{Start: now, Description: description})
	return []Field{FieldTimeEntries}, nil
}

// StopTimer closes the open time entry.
func StopTimer(t *Task, now time.Time) ([]Field, error) {
	active := t.ActiveEntry()
	if active == nil {
		return nil, clierr.Newf(clierr.TimerNotRunning, "no timer running on %q", t.Path).
			WithDetails(map[string]any{"path": t.Path})
	}
	end := now
	active.End = &end
	return []Field{FieldTimeEntries}, nil
}

func notRecurring(t *Task) error {
	return clierr.Newf(clierr.NotRecurring, "task %q does not recur", t.Path).
		WithDetails(map[string]any{"path": t.Path})
}

func insertSorted(list []string, key string) ([]string, bool) {
	i, found := slices.BinarySearch(list, key)
	if found {
		return list, false
	}
	return slices.Insert(list, i, key), true
}

func removeSorted(list []string, key string) ([]string, bool) {
	i, found := slices.BinarySearch(list, key)
	if !found {
		return list, false
	}
	list = slices.Delete(list, i, i+1)
	if len(list) == 0 {
		return nil, true
	}
	return list, true
}
