// Package tui implements a terminal agenda for taskvault vaults.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/twiced-technology-gmbh/taskvault/internal/config"
	"github.com/twiced-technology-gmbh/taskvault/internal/date"
	"github.com/twiced-technology-gmbh/taskvault/internal/engine"
	"github.com/twiced-technology-gmbh/taskvault/internal/events"
	"github.com/twiced-technology-gmbh/taskvault/internal/task"
)

// Source is the part of the engine the agenda reads from and writes to.
type Source interface {
	Config() *config.Config
	Today() date.Date
	Agenda(ctx context.Context, from date.Date, days int) (*engine.Agenda, error)
	Complete(ctx context.Context, notePath string, on date.Date) (*task.Task, error)
	Uncomplete(ctx context.Context, notePath string, on date.Date) (*task.Task, error)
	Skip(ctx context.Context, notePath string, on date.Date) (*task.Task, error)
}

// ReloadMsg asks the agenda to query the engine again.
type ReloadMsg struct{}

// DateMsg reports a change of the local date.
type DateMsg struct{ To date.Date }

type loadedMsg struct {
	agenda *engine.Agenda
	err    error
}

type mutatedMsg struct{ err error }

// Forward returns a bus handler that turns engine events into agenda
// messages and hands them to send, typically (*tea.Program).Send.
func Forward(send func(tea.Msg)) events.Handler {
	return func(env events.Envelope) {
		switch ev := env.Event.(type) {
		case events.DataChanged:
			send(ReloadMsg{})
		case events.DateRolledOver:
			send(DateMsg{To: ev.To})
		}
	}
}

// row is one selectable agenda line.
type row struct {
	t       *task.Task
	day     date.Date
	overdue bool
	line    int
}

// Agenda is the top-level bubbletea model.
type Agenda struct {
	src    Source
	from   date.Date
	days   int
	follow bool // from tracks today

	agenda *engine.Agenda
	rows   []row
	cursor int
	err    error

	vp     viewport.Model
	help   help.Model
	keys   keyMap
	width  int
	height int
}

// NewAgenda creates an agenda starting today and covering days days.
func NewAgenda(src Source, days int) *Agenda {
	return &Agenda{
		src:    src,
		from:   src.Today(),
		days:   days,
		follow: true,
		vp:     viewport.New(0, 0),
		help:   help.New(),
		keys:   defaultKeys(),
	}
}

// From returns the first day shown.
func (a *Agenda) From() date.Date { return a.from }

// Init implements tea.Model.
func (a *Agenda) Init() tea.Cmd {
	return a.load()
}

// Update implements tea.Model.
func (a *Agenda) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)
	case tea.WindowSizeMsg:
		a.width, a.height = msg.Width, msg.Height
		a.layout()
		return a, nil
	case ReloadMsg:
		return a, a.load()
	case DateMsg:
		if a.follow {
			a.from = msg.To
		}
		return a, a.load()
	case loadedMsg:
		if msg.err != nil {
			a.setErr(msg.err)
			return a, nil
		}
		if !msg.agenda.From.Equal(a.from) {
			return a, nil // stale
		}
		a.setErr(nil)
		a.setAgenda(msg.agenda)
		return a, nil
	case mutatedMsg:
		if msg.err != nil {
			a.setErr(msg.err)
			return a, nil
		}
		return a, a.load()
	}
	var cmd tea.Cmd
	a.vp, cmd = a.vp.Update(msg)
	return a, cmd
}

func (a *Agenda) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, a.keys.Quit):
		return a, tea.Quit
	case key.Matches(msg, a.keys.Up):
		a.move(-1)
	case key.Matches(msg, a.keys.Down):
		a.move(1)
	case key.Matches(msg, a.keys.Prev):
		return a, a.shift(-1)
	case key.Matches(msg, a.keys.Next):
		return a, a.shift(1)
	case key.Matches(msg, a.keys.Today):
		a.from, a.follow = a.src.Today(), true
		return a, a.load()
	case key.Matches(msg, a.keys.Toggle):
		return a, a.toggle()
	case key.Matches(msg, a.keys.Skip):
		return a, a.skip()
	case key.Matches(msg, a.keys.Reload):
		return a, a.load()
	case key.Matches(msg, a.keys.Help):
		a.help.ShowAll = !a.help.ShowAll
		a.layout()
	}
	return a, nil
}

func (a *Agenda) load() tea.Cmd {
	src, from, days := a.src, a.from, a.days
	return func() tea.Msg {
		ag, err := src.Agenda(context.Background(), from, days)
		return loadedMsg{agenda: ag, err: err}
	}
}

func (a *Agenda) shift(n int) tea.Cmd {
	a.from = a.from.AddDays(n)
	a.follow = a.from.Equal(a.src.Today())
	return a.load()
}

func (a *Agenda) move(n int) {
	if len(a.rows) == 0 {
		return
	}
	a.cursor = max(0, min(len(a.rows)-1, a.cursor+n))
	a.render()
}

// Selected returns the task under the cursor and the day it is listed on.
func (a *Agenda) Selected() (*task.Task, date.Date, bool) {
	if a.cursor >= len(a.rows) {
		return nil, date.Date{}, false
	}
	r := a.rows[a.cursor]
	return r.t, r.day, true
}

func (a *Agenda) toggle() tea.Cmd {
	t, day, ok := a.Selected()
	if !ok {
		return nil
	}
	op := a.src.Complete
	if a.doneOn(t, day) {
		op = a.src.Uncomplete
	}
	return mutate(op, t.Path, day)
}

func (a *Agenda) skip() tea.Cmd {
	t, day, ok := a.Selected()
	if !ok || !t.IsRecurring() {
		return nil
	}
	return mutate(a.src.Skip, t.Path, day)
}

func mutate(op func(context.Context, string, date.Date) (*task.Task, error), notePath string, day date.Date) tea.Cmd {
	return func() tea.Msg {
		_, err := op(context.Background(), notePath, day)
		return mutatedMsg{err: err}
	}
}

func (a *Agenda) doneOn(t *task.Task, day date.Date) bool {
	if t.IsRecurring() {
		return t.IsCompleteForDate(day)
	}
	return a.src.Config().IsCompletedStatus(t.Status)
}

// setAgenda installs a freshly loaded agenda, keeping the cursor on the
// same task and day when it is still listed.
func (a *Agenda) setAgenda(ag *engine.Agenda) {
	var prevPath string
	var prevDay date.Date
	if t, d, ok := a.Selected(); ok {
		prevPath, prevDay = t.Path, d
	}
	a.agenda = ag
	a.rows = a.rows[:0]
	for _, t := range ag.Overdue {
		a.rows = append(a.rows, row{t: t, day: ag.From, overdue: true})
	}
	for _, d := range ag.Days {
		for _, t := range d.Tasks {
			a.rows = append(a.rows, row{t: t, day: d.Date})
		}
	}
	a.cursor = min(a.cursor, max(len(a.rows)-1, 0))
	for i, r := range a.rows {
		if r.t.Path == prevPath && r.day.Equal(prevDay) {
			a.cursor = i
			break
		}
	}
	a.render()
}

func (a *Agenda) setErr(err error) {
	if (a.err == nil) != (err == nil) {
		a.err = err
		a.layout()
		return
	}
	a.err = err
}

func (a *Agenda) layout() {
	a.vp.Width = a.width
	a.help.Width = a.width
	chrome := 1 + lipgloss.Height(a.help.View(a.keys))
	if a.err != nil {
		chrome++
	}
	a.vp.Height = max(a.height-chrome, 1)
	a.render()
}

// render rebuilds the viewport content and scrolls the cursor into view.
func (a *Agenda) render() {
	if a.agenda == nil {
		return
	}
	var lines []string
	ri := 0
	emit := func(day date.Date, overdue bool) {
		for ; ri < len(a.rows) && a.rows[ri].overdue == overdue && a.rows[ri].day.Equal(day); ri++ {
			a.rows[ri].line = len(lines)
			lines = append(lines, a.renderRow(ri))
		}
	}
	if len(a.agenda.Overdue) > 0 {
		lines = append(lines, overdueStyle.Render(fmt.Sprintf("Overdue (%d)", len(a.agenda.Overdue))))
		emit(a.agenda.From, true)
		lines = append(lines, "")
	}
	today := a.src.Today()
	for _, d := range a.agenda.Days {
		heading := d.Date.In(time.Local).Format("Mon Jan 2")
		style := dayStyle
		if d.Date.Equal(today) {
			heading += "  today"
			style = todayStyle
		}
		lines = append(lines, style.Render(heading))
		if len(d.Tasks) == 0 {
			lines = append(lines, dimStyle.Render("  nothing scheduled"))
		}
		emit(d.Date, false)
		lines = append(lines, "")
	}
	a.vp.SetContent(strings.Join(lines, "\n"))

	if a.cursor < len(a.rows) && a.vp.Height > 0 {
		line := a.rows[a.cursor].line
		switch {
		case line < a.vp.YOffset:
			a.vp.SetYOffset(line)
		case line >= a.vp.YOffset+a.vp.Height:
			a.vp.SetYOffset(line - a.vp.Height + 1)
		}
	}
}

func (a *Agenda) renderRow(i int) string {
	r := a.rows[i]
	box := "[ ]"
	if a.doneOn(r.t, r.day) {
		box = "[x]"
	}
	text := box + " " + r.t.Title
	if r.t.IsRecurring() {
		text += " ↻"
	}
	if r.overdue && r.t.Due != nil {
		text += " " + dimStyle.Render("due "+r.t.Due.String())
	} else if r.t.Scheduled != nil && r.t.Scheduled.HasTime() && r.t.Scheduled.Date.Equal(r.day) {
		text = r.t.Scheduled.Clock + " " + text
	}
	if c := a.src.Config().Priority(r.t.Priority); c != nil && c.Color != "" {
		text += " " + lipgloss.NewStyle().Foreground(lipgloss.Color(c.Color)).Render("●")
	}
	width := max(a.width-2, 10) //nolint:mnd // cursor gutter and minimum width
	text = truncate(text, width)
	if i == a.cursor {
		return selectedStyle.Render("> " + text)
	}
	return "  " + text
}

// View implements tea.Model.
func (a *Agenda) View() string {
	if a.width == 0 {
		return "Loading..."
	}
	name := a.src.Config().Vault.Name
	header := headerStyle.Render(truncate(fmt.Sprintf(" %s · from %s · %d days", name, a.from, a.days), a.width))

	var b strings.Builder
	b.WriteString(header + "\n")
	if a.agenda == nil && a.err == nil {
		b.WriteString(dimStyle.Render("Loading...") + "\n")
	} else {
		b.WriteString(a.vp.View() + "\n")
	}
	if a.err != nil {
		b.WriteString(errorStyle.Render(truncate("Error: "+a.err.Error(), a.width)) + "\n")
	}
	b.WriteString(statusBarStyle.Render(a.help.View(a.keys)))
	return b.String()
}

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62"))

	dayStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	todayStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("226"))

	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	overdueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)

	statusBarStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func truncate(s string, maxLen int) string {
	if maxLen < 4 { //nolint:mnd // minimum length for truncation
		maxLen = 4
	}
	if lipgloss.Width(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	target := min(maxLen-3, len(runes)) //nolint:mnd // room for "..."
	for target > 0 && lipgloss.Width(string(runes[:target])) > maxLen-3 {
		target--
	}
	return string(runes[:target]) + "..."
}
