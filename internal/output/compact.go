package output

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/twiced-technology-gmbh/taskvault/internal/engine"
	"github.com/twiced-technology-gmbh/taskvault/internal/query"
	"github.com/twiced-technology-gmbh/taskvault/internal/task"
)

// TaskCompact renders a list of tasks in one-line-per-record compact format.
func TaskCompact(w io.Writer, tasks []*task.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(os.Stderr, "No tasks found.")
		return
	}

	for _, t := range tasks {
		fmt.Fprintln(w, formatTaskLine(t))
	}
}

// SectionsCompact renders grouped results with an indented line per task.
func SectionsCompact(w io.Writer, sections []query.Section) {
	for _, s := range sections {
		fmt.Fprintf(w, "%s (%d)\n", s.Label, len(s.Tasks))
		if len(s.Subsections) == 0 {
			for _, t := range s.Tasks {
				fmt.Fprintln(w, "  "+formatTaskLine(t))
			}
			continue
		}
		for _, sub := range s.Subsections {
			fmt.Fprintf(w, "  %s (%d)\n", sub.Label, len(sub.Tasks))
			for _, t := range sub.Tasks {
				fmt.Fprintln(w, "    "+formatTaskLine(t))
			}
		}
	}
}

// TaskDetailCompact renders a single task with detail in compact format.
func TaskDetailCompact(w io.Writer, t *task.Task, now time.Time) {
	line := formatTaskLine(t)
	if t.TimeEstimate > 0 {
		line += " est:" + strconv.Itoa(t.TimeEstimate) + "m"
	}
	if len(t.TimeEntries) > 0 {
		line += " tracked:" + strconv.Itoa(int(t.TimeTracked(now).Minutes())) + "m"
	}
	fmt.Fprintln(w, line)

	var meta []string
	if t.Recurrence != "" {
		meta = append(meta, "rrule:"+t.Recurrence)
	}
	if len(t.Projects) > 0 {
		meta = append(meta, "projects:"+strings.Join(t.Projects, ","))
	}
	if refs := task.DependencyRefs(t.BlockedBy); len(refs) > 0 {
		meta = append(meta, "blocked-by:"+strings.Join(refs, ","))
	}
	if t.CompletedDate != nil {
		meta = append(meta, "completed:"+t.CompletedDate.String())
	}
	if len(meta) > 0 {
		fmt.Fprintln(w, "  "+strings.Join(meta, " "))
	}

	if t.Body != "" {
		for _, bodyLine := range strings.Split(strings.TrimRight(t.Body, "\n"), "\n") {
			fmt.Fprintln(w, "  "+bodyLine)
		}
	}
}

// OverviewCompact renders a vault summary in compact format.
func OverviewCompact(w io.Writer, s query.Overview) {
	fmt.Fprintf(w, "%s (%d tasks, %d overdue, %d blocked)\n", s.VaultName, s.TotalTasks, s.Overdue, s.Blocked)

	for _, ss := range s.Statuses {
		line := "  " + ss.Status + ": " + strconv.Itoa(ss.Count)
		var annotations []string
		if ss.Blocked > 0 {
			annotations = append(annotations, strconv.Itoa(ss.Blocked)+" blocked")
		}
		if ss.Overdue > 0 {
			annotations = append(annotations, strconv.Itoa(ss.Overdue)+" overdue")
		}
		if len(annotations) > 0 {
			line += " (" + strings.Join(annotations, ", ") + ")"
		}
		fmt.Fprintln(w, line)
	}

	if len(s.Priorities) > 0 {
		parts := make([]string, 0, len(s.Priorities))
		for _, pc := range s.Priorities {
			parts = append(parts, pc.Priority+"="+strconv.Itoa(pc.Count))
		}
		fmt.Fprintln(w, "Priority: "+strings.Join(parts, " "))
	}
}

// AgendaCompact renders an agenda with one line per task occurrence.
func AgendaCompact(w io.Writer, a *engine.Agenda) {
	for _, t := range a.Overdue {
		fmt.Fprintln(w, "overdue "+formatTaskLine(t))
	}
	for _, d := range a.Days {
		for _, t := range d.Tasks {
			mark := " "
			if doneOn(t, d.Date) {
				mark = "x"
			}
			fmt.Fprintf(w, "%s [%s] %s\n", d.Date, mark, formatTaskLine(t))
		}
	}
}

// DepsCompact renders dependencies as "<relation> <path>" lines.
func DepsCompact(w io.Writer, d *engine.Deps) {
	fmt.Fprintf(w, "%s blocked:%t\n", d.Task.Path, d.Blocked)
	for _, t := range d.BlockedBy {
		fmt.Fprintln(w, "  blocked-by "+t.Path)
	}
	for _, t := range d.Blocking {
		fmt.Fprintln(w, "  blocking "+t.Path)
	}
	for _, u := range d.Unresolved {
		fmt.Fprintln(w, "  unresolved "+u.Raw)
	}
}

// ReportCompact renders a doctor report with one line per problem.
func ReportCompact(w io.Writer, r *engine.Report) {
	fmt.Fprintf(w, "notes:%d tasks:%d edges:%d\n", r.Notes, r.Tasks, r.Edges)
	for _, pw := range r.Warnings {
		fmt.Fprintf(w, "warning %s: %v\n", pw.Path, pw.Err)
	}
	for _, p := range sortedKeys(r.Unresolved) {
		for _, u := range r.Unresolved[p] {
			fmt.Fprintf(w, "unresolved %s: %s\n", p, u.Raw)
		}
	}
}

// formatTaskLine builds the one-line representation of a task.
func formatTaskLine(t *task.Task) string {
	line := t.Path + " [" + t.Status + "/" + t.Priority + "] " + t.Title

	if t.Recurrence != "" {
		line += " (recurring)"
	}
	if len(t.Tags) > 0 {
		line += " (" + strings.Join(t.Tags, ", ") + ")"
	}
	if t.Due != nil {
		line += " due:" + t.Due.String()
	}
	if t.Scheduled != nil {
		line += " scheduled:" + t.Scheduled.String()
	}

	return line
}
