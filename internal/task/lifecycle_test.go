package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twiced-technology-gmbh/taskvault/internal/clierr"
	"github.com/twiced-technology-gmbh/taskvault/internal/config"
	"github.com/twiced-technology-gmbh/taskvault/internal/date"
)

func mustParse(t *testing.T, cfg *config.Config, content string) *Task {
	t.Helper()
	got, err := NewParser(cfg).Parse("t.md", []byte(content))
	require.NoError(t, err)
	require.NotNil(t, got)
	return got
}

func TestCompleteNonRecurring(t *testing.T) {
	cfg := config.NewDefault("test")
	tk := mustParse(t, cfg, "---\ntags: [task]\nstatus: open\n---\n")
	d := date.MustParse("2024-06-10")

	fields := Complete(tk, d, cfg)
	assert.Equal(t, []Field{FieldStatus, FieldCompletedDate}, fields)
	assert.Equal(t, "done", tk.Status)
	require.NotNil(t, tk.CompletedDate)
	assert.Equal(t, "2024-06-10", tk.CompletedDate.String())

	assert.Nil(t, Complete(tk, d, cfg), "second completion is a no-op")

	fields = Uncomplete(tk, d, cfg)
	assert.Equal(t, []Field{FieldStatus, FieldCompletedDate}, fields)
	assert.Equal(t, cfg.Defaults.Status, tk.Status)
	assert.Nil(t, tk.CompletedDate)
	assert.Nil(t, Uncomplete(tk, d, cfg))
}

func TestCompleteRecurringIsIdempotent(t *testing.T) {
	cfg := config.NewDefault("test")
	cfg.Recurrence.MaintainOffset = false
	tk := mustParse(t, cfg, "---\ntags: [task]\nrecurrence: daily\nscheduled: 2024-06-01\n---\n")
	d := date.MustParse("2024-06-05")

	require.NotEmpty(t, Complete(tk, d, cfg))
	first := append([]string(nil), tk.CompleteInstances...)
	assert.Nil(t, Complete(tk, d, cfg))
	assert.Equal(t, first, tk.CompleteInstances)
	assert.Equal(t, []string{"2024-06-05"}, tk.CompleteInstances)
	assert.Equal(t, "open", tk.Status, "recurring tasks keep their status")
	assert.Equal(t, "2024-06-01", tk.Scheduled.String(), "dates stay without maintain_offset")
}

func TestCompleteMaintainsOffset(t *testing.T) {
	cfg := config.NewDefault("test")
	tk := mustParse(t, cfg, "---\ntags: [task]\nrecurrence: weekly\nscheduled: 2024-06-10T09:00\ndue: 2024-06-12\n---\n")

	fields := Complete(tk, date.MustParse("2024-06-10"), cfg)
	assert.Contains(t, fields, FieldScheduled)
	assert.Contains(t, fields, FieldDue)
	assert.Contains(t, fields, FieldRecurrence)
	assert.Equal(t, "DTSTART:20240610;FREQ=WEEKLY", tk.Recurrence)
	assert.Equal(t, "2024-06-17T09:00", tk.Scheduled.String())
	assert.Equal(t, "2024-06-19", tk.Due.String())

	// The pinned start keeps the pattern on Mondays after scheduled moved.
	assert.True(t, tk.OccursOn(date.MustParse("2024-06-24")))
	assert.False(t, tk.OccursOn(date.MustParse("2024-06-19")))
}

func TestCompleteMissedOccurrenceKeepsSchedule(t *testing.T) {
	cfg := config.NewDefault("test")
	tk := mustParse(t, cfg, "---\ntags: [task]\nrecurrence: DTSTART:20240603;FREQ=WEEKLY\nscheduled: 2024-06-17\n---\n")

	Complete(tk, date.MustParse("2024-06-03"), cfg)
	assert.Equal(t, "2024-06-17", tk.Scheduled.String())
	assert.True(t, tk.IsCompleteForDate(date.MustParse("2024-06-03")))
}

func TestCompleteWithCompletionAnchor(t *testing.T) {
	cfg := config.NewDefault("test")
	cfg.Recurrence.MaintainOffset = false
	tk := mustParse(t, cfg, "---\ntags: [task]\nrecurrence: FREQ=DAILY;INTERVAL=3\nrecurrence_anchor: completion\nscheduled: 2024-06-01\n---\n")

	Complete(tk, date.MustParse("2024-06-05"), cfg)
	assert.Equal(t, "DTSTART:20240605;FREQ=DAILY;INTERVAL=3", tk.Recurrence)
	assert.Equal(t, "2024-06-08", tk.Scheduled.String())
}

func TestSkipAndCompleteStayDisjoint(t *testing.T) {
	cfg := config.NewDefault("test")
	cfg.Recurrence.MaintainOffset = false
	tk := mustParse(t, cfg, "---\ntags: [task]\nrecurrence: daily\nscheduled: 2024-06-01\n---\n")
	d := date.MustParse("2024-06-04")

	Complete(tk, d, cfg)
	fields, err := Skip(tk, d)
	require.NoError(t, err)
	assert.NotEmpty(t, fields)
	assert.True(t, tk.IsSkippedForDate(d))
	assert.False(t, tk.IsCompleteForDate(d))

	fields, err = Skip(tk, d)
	require.NoError(t, err)
	assert.Nil(t, fields)

	fields, err = Unskip(tk, d)
	require.NoError(t, err)
	assert.Equal(t, []Field{FieldSkippedInstances}, fields)
	assert.Nil(t, tk.SkippedInstances)

	next, ok := tk.NextOccurrence(date.MustParse("2024-06-01"))
	require.True(t, ok)
	assert.Equal(t, "2024-06-01", next.String())
}

func TestSkipRequiresRecurrence(t *testing.T) {
	cfg := config.NewDefault("test")
	tk := mustParse(t, cfg, "---\ntags: [task]\n---\n")
	_, err := Skip(tk, date.MustParse("2024-06-04"))
	assert.True(t, clierr.Is(err, clierr.NotRecurring))
	_, err = Unskip(tk, date.MustParse("2024-06-04"))
	assert.True(t, clierr.Is(err, clierr.NotRecurring))
}

func TestTimers(t *testing.T) {
	cfg := config.NewDefault("test")
	tk := mustParse(t, cfg, "---\ntags: [task]\n---\n")
	start := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)

	_, err := StopTimer(tk, start)
	assert.True(t, clierr.Is(err, clierr.TimerNotRunning))

	_, err = StartTimer(tk, start, "draft")
	require.NoError(t, err)
	_, err = StartTimer(tk, start.Add(time.Minute), "again")
	assert.True(t, clierr.Is(err, clierr.TimerRunning))

	_, err = StopTimer(tk, start.Add(25*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, tk.ActiveEntry())
	require.Len(t, tk.TimeEntries, 1)
	assert.Equal(t, "draft", tk.TimeEntries[0].Description)
	assert.Equal(t, 25*time.Minute, tk.TimeTracked(start.Add(time.Hour)))
}

func TestCloneIsDeep(t *testing.T) {
	cfg := config.NewDefault("test")
	tk := mustParse(t, cfg, "---\ntags: [task]\nrecurrence: daily\nscheduled: 2024-06-01\ncomplete_instances: [2024-06-02]\n---\n")
	c := tk.Clone()
	c.CompleteInstance(date.MustParse("2024-06-03"))
	c.Scheduled.Date = date.MustParse("2025-01-01")
	c.Tags[0] = "changed"

	assert.Equal(t, []string{"2024-06-02"}, tk.CompleteInstances)
	assert.Equal(t, "2024-06-01", tk.Scheduled.String())
	assert.Equal(t, "task", tk.Tags[0])
}
