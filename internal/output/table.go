package output

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/twiced-technology-gmbh/taskvault/internal/config"
	"github.com/twiced-technology-gmbh/taskvault/internal/date"
	"github.com/twiced-technology-gmbh/taskvault/internal/engine"
	"github.com/twiced-technology-gmbh/taskvault/internal/query"
	"github.com/twiced-technology-gmbh/taskvault/internal/task"
)

const (
	maxTitleW = 50
	maxTagsW  = 30
	maxPathW  = 40
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("244"))
	titleStyle   = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	overdueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	tagStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("110"))
	pathStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("66"))

	statusStyles   = stylesFor(config.DefaultStatuses, func(s config.StatusConfig) (string, string) { return s.Value, s.Color })
	priorityStyles = stylesFor(config.DefaultPriorities, func(p config.PriorityConfig) (string, string) { return p.Value, p.Color })

	completed = map[string]bool{"done": true}
	colorOff  bool
)

func stylesFor[T any](items []T, kv func(T) (string, string)) map[string]lipgloss.Style {
	out := make(map[string]lipgloss.Style, len(items))
	for _, it := range items {
		value, color := kv(it)
		if color != "" {
			out[value] = lipgloss.NewStyle().Foreground(lipgloss.Color(color))
		}
	}
	return out
}

// SetPalette takes status and priority colours from the vault config.
// Styles stay off after DisableColor.
func SetPalette(cfg *config.Config) {
	if !colorOff {
		statusStyles = stylesFor(cfg.Statuses, func(s config.StatusConfig) (string, string) { return s.Value, s.Color })
		priorityStyles = stylesFor(cfg.Priorities, func(p config.PriorityConfig) (string, string) { return p.Value, p.Color })
	}
	completed = make(map[string]bool)
	for _, s := range cfg.Statuses {
		if s.Completed {
			completed[s.Value] = true
		}
	}
}

// DisableColor strips all styling from table output.
func DisableColor() {
	colorOff = true
	lipgloss.SetColorProfile(termenv.Ascii)
	headerStyle = lipgloss.NewStyle()
	titleStyle = lipgloss.NewStyle()
	dimStyle = lipgloss.NewStyle()
	overdueStyle = lipgloss.NewStyle()
	tagStyle = lipgloss.NewStyle()
	pathStyle = lipgloss.NewStyle()
	statusStyles = map[string]lipgloss.Style{}
	priorityStyles = map[string]lipgloss.Style{}
	markdownStyle = "notty"
}

// TaskTable renders a list of tasks as a formatted table.
func TaskTable(w io.Writer, tasks []*task.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(os.Stderr, "No tasks found.")
		return
	}

	const pad = 2
	statusW, prioW, titleW, dueW, schedW, tagsW := 8, 10, 7, 12, 11, 6
	for _, t := range tasks {
		statusW = max(statusW, len(t.Status)+pad)
		prioW = max(prioW, len(t.Priority)+pad)
		titleW = max(titleW, min(lipgloss.Width(titleText(t))+pad, maxTitleW))
		dueW = max(dueW, len(stampText(t.Due))+pad)
		schedW = max(schedW, len(stampText(t.Scheduled))+pad)
		tagsW = max(tagsW, min(len(strings.Join(t.Tags, ","))+pad, maxTagsW))
	}

	header := fmt.Sprintf("%-*s %-*s %-*s %-*s %-*s %-*s %s",
		statusW, "STATUS", prioW, "PRIORITY", titleW, "TITLE",
		dueW, "DUE", schedW, "SCHEDULED", tagsW, "TAGS", "PATH")
	fmt.Fprintln(w, headerStyle.Render(header))

	for _, t := range tasks {
		tags := strings.Join(t.Tags, ",")
		if tags == "" {
			tags = dimStyle.Render("--")
		} else {
			tags = tagStyle.Render(truncate(tags, maxTagsW-pad))
		}
		row := fmt.Sprintf("%s %s %s %s %s %s %s",
			padRight(styledValue(t.Status, statusStyles), statusW),
			padRight(styledValue(t.Priority, priorityStyles), prioW),
			padRight(truncate(titleText(t), maxTitleW-pad), titleW),
			padRight(dashIfEmpty(stampText(t.Due)), dueW),
			padRight(dashIfEmpty(stampText(t.Scheduled)), schedW),
			padRight(tags, tagsW),
			pathStyle.Render(truncate(t.Path, maxPathW)))
		fmt.Fprintln(w, strings.TrimRight(row, " "))
	}
}

// SectionsTable renders grouped query results, one heading per section.
func SectionsTable(w io.Writer, sections []query.Section) {
	if len(sections) == 0 {
		fmt.Fprintln(os.Stderr, "No tasks found.")
		return
	}
	for i, s := range sections {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%s (%d)", s.Label, len(s.Tasks))))
		if len(s.Subsections) == 0 {
			TaskTable(w, s.Tasks)
			continue
		}
		for _, sub := range s.Subsections {
			fmt.Fprintln(w, "  "+headerStyle.Render(fmt.Sprintf("%s (%d)", sub.Label, len(sub.Tasks))))
			TaskTable(w, sub.Tasks)
		}
	}
}

// TaskDetail renders a single task with full detail. The body is rendered as
// markdown; it is printed raw when rendering fails.
func TaskDetail(w io.Writer, t *task.Task, now time.Time) {
	fmt.Fprintln(w, titleStyle.Render(t.Title))
	fmt.Fprintln(w, strings.Repeat("─", max(lipgloss.Width(t.Title), 1)))

	printField(w, "Path", pathStyle.Render(t.Path))
	printField(w, "Status", styledValue(t.Status, statusStyles))
	printField(w, "Priority", styledValue(t.Priority, priorityStyles))
	printField(w, "Due", dashIfEmpty(stampText(t.Due)))
	printField(w, "Scheduled", dashIfEmpty(stampText(t.Scheduled)))
	if t.Recurrence != "" {
		rule := t.Recurrence
		if !t.IsRecurring() {
			rule += " " + overdueStyle.Render("(invalid)")
		}
		printField(w, "Recurrence", rule)
		if next, ok := t.NextOccurrence(date.Of(now)); ok {
			printField(w, "Next", next.String())
		}
		if len(t.CompleteInstances) > 0 {
			printField(w, "Completed on", strings.Join(t.CompleteInstances, ", "))
		}
		if len(t.SkippedInstances) > 0 {
			printField(w, "Skipped on", strings.Join(t.SkippedInstances, ", "))
		}
	}
	printList(w, "Contexts", t.Contexts)
	printList(w, "Projects", t.Projects)
	printList(w, "Tags", t.Tags)
	printList(w, "Blocked by", task.DependencyRefs(t.BlockedBy))
	printList(w, "Blocking", task.DependencyRefs(t.Blocking))
	if t.TimeEstimate > 0 {
		printField(w, "Estimate", FormatDuration(time.Duration(t.TimeEstimate)*time.Minute))
	}
	if len(t.TimeEntries) > 0 {
		tracked := FormatDuration(t.TimeTracked(now))
		if t.ActiveEntry() != nil {
			tracked += " " + overdueStyle.Render("(running)")
		}
		printField(w, "Tracked", tracked)
	}
	if t.CompletedDate != nil {
		printField(w, "Completed", t.CompletedDate.String())
	}
	if t.DateCreated != nil {
		printField(w, "Created", t.DateCreated.String())
	}
	if t.DateModified != nil {
		printField(w, "Modified", t.DateModified.String())
	}
	if t.Archived {
		printField(w, "Archived", "yes")
	}
	for _, k := range sortedKeys(t.Custom) {
		printField(w, k, fmt.Sprint(t.Custom[k]))
	}

	if strings.TrimSpace(t.Body) == "" {
		return
	}
	fmt.Fprintln(w)
	body, err := Markdown(t.Body)
	if err != nil {
		body = t.Body
	}
	fmt.Fprintln(w, body)
}

// OverviewTable renders a vault summary as a formatted dashboard.
func OverviewTable(w io.Writer, s query.Overview) {
	fmt.Fprintln(w, titleStyle.Render(s.VaultName))
	fmt.Fprintf(w, "Total: %d tasks", s.TotalTasks)
	if s.Overdue > 0 {
		fmt.Fprint(w, ", "+overdueStyle.Render(strconv.Itoa(s.Overdue)+" overdue"))
	}
	fmt.Fprintf(w, ", %d blocked, %d recurring, %d archived\n\n", s.Blocked, s.Recurring, s.Archived)

	const colW = 16
	header := fmt.Sprintf("%-*s %6s %8s %8s", colW, "STATUS", "COUNT", "BLOCKED", "OVERDUE")
	fmt.Fprintln(w, headerStyle.Render(header))
	for _, ss := range s.Statuses {
		fmt.Fprintf(w, "%s %6d %8d %8d\n",
			padRight(styledValue(ss.Status, statusStyles), colW),
			ss.Count, ss.Blocked, ss.Overdue)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%-*s %6s", colW, "PRIORITY", "COUNT")))
	for _, pc := range s.Priorities {
		fmt.Fprintf(w, "%s %6d\n",
			padRight(styledValue(pc.Priority, priorityStyles), colW), pc.Count)
	}
}

// AgendaTable renders an agenda: overdue tasks first, then one block per day.
func AgendaTable(w io.Writer, a *engine.Agenda) {
	if len(a.Overdue) > 0 {
		fmt.Fprintln(w, overdueStyle.Render(fmt.Sprintf("Overdue (%d)", len(a.Overdue))))
		for _, t := range a.Overdue {
			fmt.Fprintln(w, agendaLine(t, a.From, true))
		}
		fmt.Fprintln(w)
	}
	for i, d := range a.Days {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, titleStyle.Render(d.Date.In(time.Local).Format("Mon 2006-01-02")))
		if len(d.Tasks) == 0 {
			fmt.Fprintln(w, dimStyle.Render("  (nothing)"))
			continue
		}
		for _, t := range d.Tasks {
			fmt.Fprintln(w, agendaLine(t, d.Date, false))
		}
	}
}

func agendaLine(t *task.Task, day date.Date, overdue bool) string {
	box := "[ ]"
	if doneOn(t, day) {
		box = "[x]"
	}
	line := "  " + box + " " + titleText(t)
	if t.Priority != "" {
		line += " " + styledValue(t.Priority, priorityStyles)
	}
	if overdue && t.Due != nil {
		line += " " + overdueStyle.Render("due "+t.Due.String())
	} else if t.Scheduled != nil && t.Scheduled.HasTime() && t.Scheduled.Date.Equal(day) {
		line += " " + dimStyle.Render(t.Scheduled.Clock)
	}
	return line + "  " + pathStyle.Render(t.Path)
}

// DepsTable renders the dependency neighbourhood of a task.
func DepsTable(w io.Writer, d *engine.Deps) {
	fmt.Fprintln(w, titleStyle.Render(d.Task.Title)+"  "+pathStyle.Render(d.Task.Path))
	if d.Blocked {
		printField(w, "Blocked", overdueStyle.Render("yes"))
	} else {
		printField(w, "Blocked", "no")
	}
	depList(w, "Blocked by", d.BlockedBy)
	depList(w, "Blocking", d.Blocking)
	if len(d.Unresolved) > 0 {
		fmt.Fprintln(w, headerStyle.Render("Unresolved"))
		for _, u := range d.Unresolved {
			fmt.Fprintln(w, "  "+overdueStyle.Render(u.Raw))
		}
	}
}

func depList(w io.Writer, label string, tasks []*task.Task) {
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%s (%d)", label, len(tasks))))
	for _, t := range tasks {
		fmt.Fprintf(w, "  %s %s  %s\n",
			padRight(styledValue(t.Status, statusStyles), 14), //nolint:mnd // status column width
			t.Title, pathStyle.Render(t.Path))
	}
}

// ReportTable renders a doctor report.
func ReportTable(w io.Writer, r *engine.Report) {
	fmt.Fprintf(w, "%d notes, %d tasks, %d dependency edges\n", r.Notes, r.Tasks, r.Edges)
	if len(r.Warnings) == 0 && len(r.Unresolved) == 0 {
		fmt.Fprintln(w, "No problems found.")
		return
	}
	if len(r.Warnings) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Unreadable frontmatter (%d)", len(r.Warnings))))
		for _, pw := range r.Warnings {
			fmt.Fprintf(w, "  %s: %v\n", pathStyle.Render(pw.Path), pw.Err)
		}
	}
	if len(r.Unresolved) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Unresolved references (%d notes)", len(r.Unresolved))))
		for _, p := range sortedKeys(r.Unresolved) {
			raws := make([]string, len(r.Unresolved[p]))
			for i, u := range r.Unresolved[p] {
				raws[i] = u.Raw
			}
			fmt.Fprintf(w, "  %s: %s\n", pathStyle.Render(p), strings.Join(raws, ", "))
		}
	}
}

// ProjectsTable renders project task counts. Keys starting with "?" are
// projects whose note does not exist.
func ProjectsTable(w io.Writer, projects map[string]int) {
	if len(projects) == 0 {
		fmt.Fprintln(os.Stderr, "No projects found.")
		return
	}
	names := sortedKeys(projects)
	width := len("PROJECT")
	for _, n := range names {
		width = max(width, len(n))
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%-*s %6s", width, "PROJECT", "TASKS")))
	for _, n := range names {
		if name, ok := strings.CutPrefix(n, "?"); ok {
			fmt.Fprintf(w, "%s %6d %s\n", padRight(name, width), projects[n], dimStyle.Render("(no note)"))
			continue
		}
		fmt.Fprintf(w, "%s %6d\n", padRight(pathStyle.Render(n), width), projects[n])
	}
}

// Messagef prints a simple formatted message line.
func Messagef(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, format+"\n", args...)
}

func printField(w io.Writer, label, value string) {
	fmt.Fprintf(w, "  %-13s %s\n", label+":", value)
}

func printList(w io.Writer, label string, values []string) {
	if len(values) > 0 {
		printField(w, label, tagStyle.Render(strings.Join(values, ", ")))
	}
}

// FormatDuration renders a duration as human-readable "Xd Yh" or "Xh Ym".
func FormatDuration(d time.Duration) string {
	const hoursPerDay = 24
	days := int(d.Hours()) / hoursPerDay
	hours := int(d.Hours()) % hoursPerDay
	if days > 0 {
		return strconv.Itoa(days) + "d " + strconv.Itoa(hours) + "h"
	}
	minutes := int(d.Minutes()) % 60 //nolint:mnd // 60 minutes per hour
	return strconv.Itoa(hours) + "h " + strconv.Itoa(minutes) + "m"
}

func titleText(t *task.Task) string {
	if t.Recurrence != "" {
		return t.Title + " ↻"
	}
	return t.Title
}

func stampText(s *date.Stamp) string {
	if s == nil {
		return ""
	}
	return s.String()
}

// doneOn reports whether t counts as finished on day.
func doneOn(t *task.Task, day date.Date) bool {
	if t.IsRecurring() {
		return t.IsCompleteForDate(day)
	}
	return completed[t.Status]
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// padRight pads s with spaces to the given visible width, accounting for ANSI
// escape codes that are invisible but consume bytes.
func padRight(s string, width int) string {
	visible := lipgloss.Width(s)
	if visible >= width {
		return s
	}
	return s + strings.Repeat(" ", width-visible)
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

func dashIfEmpty(s string) string {
	if s == "" {
		return dimStyle.Render("--")
	}
	return s
}

// styledValue renders s using a matching style from the map, or returns s unchanged.
func styledValue(s string, styles map[string]lipgloss.Style) string {
	if st, ok := styles[s]; ok {
		return st.Render(s)
	}
	return s
}
