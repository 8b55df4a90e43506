package task

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twiced-technology-gmbh/taskvault/internal/config"
	"github.com/twiced-technology-gmbh/taskvault/internal/date"
)

func newParser(mutate ...func(*config.Config)) *Parser {
	cfg := config.NewDefault("test")
	for _, m := range mutate {
		m(cfg)
	}
	return NewParser(cfg)
}

const fullNote = `---
title: Write report
status: in-progress
priority: high
tags: [task, "#work/reports"]
due: 2024-06-12
scheduled: 2024-06-10T09:30
contexts: ["@office", "@office"]
projects: ["[[Quarterly]]"]
blockedBy:
  - "[[Collect numbers]]"
  - uid: "[[Get approval]]"
    reltype: FINISHTOSTART
    gap: P1D
timeEstimate: 90
dateCreated: 2024-06-01T08:00:00Z
effort: 3
reviewed: yes
owner: sam
---

# Report

Body text.
`

func TestParseFullNote(t *testing.T) {
	p := newParser(func(c *config.Config) {
		c.CustomFields = []config.CustomField{{Key: "effort", Type: config.FieldNumber}, {Key: "reviewed", Type: config.FieldBoolean}}
	})
	got, err := p.Parse("tasks/report.md", []byte(fullNote))
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "tasks/report.md", got.Path)
	assert.Equal(t, "Write report", got.Title)
	assert.Equal(t, "in-progress", got.Status)
	assert.Equal(t, "high", got.Priority)
	assert.Equal(t, []string{"task", "work/reports"}, got.Tags)
	assert.Equal(t, "2024-06-12", got.Due.String())
	assert.Equal(t, "2024-06-10T09:30", got.Scheduled.String())
	assert.Equal(t, []string{"@office"}, got.Contexts)
	assert.Equal(t, []string{"[[Quarterly]]"}, got.Projects)
	assert.Equal(t, []Dependency{
		{UID: "[[Collect numbers]]"},
		{UID: "[[Get approval]]", RelType: "FINISHTOSTART", Gap: "P1D"},
	}, got.BlockedBy)
	assert.Equal(t, 90, got.TimeEstimate)
	assert.Equal(t, 3.0, got.Custom["effort"])
	assert.Equal(t, true, got.Custom["reviewed"])
	assert.Equal(t, "sam", got.Custom["owner"])
	assert.Equal(t, "# Report\n\nBody text.\n", got.Body)
	assert.False(t, got.IsRecurring())
}

func TestParseNotATask(t *testing.T) {
	p := newParser()
	for name, content := range map[string]string{
		"no frontmatter": "# Just a note\n",
		"unclosed":       "---\ntags: [task]\n",
		"no tag":         "---\ntitle: idea\ntags: [idea]\n---\n",
		"empty":          "---\n---\nbody\n",
	} {
		got, err := p.Parse("n.md", []byte(content))
		assert.NoError(t, err, name)
		assert.Nil(t, got, name)
	}
}

func TestParseMalformedYAMLIsWarning(t *testing.T) {
	got, err := newParser().Parse("bad.md", []byte("---\ntags: [task\ntitle: x\n---\n"))
	assert.Nil(t, got)
	var warn *ParseWarning
	require.True(t, errors.As(err, &warn))
	assert.Equal(t, "bad.md", warn.Path)
}

func TestIdentificationBySubTag(t *testing.T) {
	got, err := newParser().Parse("a.md", []byte("---\ntags: [\"#Task/home\"]\n---\n"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a", got.Title, "title falls back to file name")
	assert.Equal(t, config.DefaultStatus, got.Status)
	assert.Equal(t, config.DefaultPriority, got.Priority)

	got, _ = newParser().Parse("b.md", []byte("---\ntags: [taskforce]\n---\n"))
	assert.Nil(t, got)
}

func TestIdentificationByProperty(t *testing.T) {
	byValue := newParser(func(c *config.Config) {
		c.Identification = config.Identification{Method: config.IdentifyByProperty, Property: "type", Value: "Task"}
	})
	got, _ := byValue.Parse("a.md", []byte("---\ntype: task\n---\n"))
	assert.NotNil(t, got)
	got, _ = byValue.Parse("b.md", []byte("---\ntype: note\n---\n"))
	assert.Nil(t, got)

	truthy := newParser(func(c *config.Config) {
		c.Identification = config.Identification{Method: config.IdentifyByProperty, Property: "isTask"}
	})
	got, _ = truthy.Parse("c.md", []byte("---\nisTask: true\n---\n"))
	assert.NotNil(t, got)
	got, _ = truthy.Parse("d.md", []byte("---\nisTask: false\n---\n"))
	assert.Nil(t, got)
}

func TestFieldMapping(t *testing.T) {
	p := newParser(func(c *config.Config) {
		c.Fields.Due = "deadline"
		c.Fields.Title = "name"
	})
	got, err := p.Parse("a.md", []byte("---\ntags: [task]\nname: Renamed\ndeadline: 2024-07-01\ndue: 2020-01-01\n---\n"))
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)
	assert.Equal(t, "2024-07-01", got.Due.String())
	assert.Equal(t, "2020-01-01", got.Custom["due"], "unmapped keys are kept as custom values")
}

func TestTolerantValues(t *testing.T) {
	got, err := newParser().Parse("a.md", []byte(`---
tags: task
status: waiting-on-vendor
due: next tuesday-ish
contexts: "@phone"
timeEstimate: lots
recurrence: FREQ=SOMETIMES
---
`))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "waiting-on-vendor", got.Status, "unknown status is kept")
	assert.Nil(t, got.Due, "unparsable date is absent")
	assert.Equal(t, []string{"@phone"}, got.Contexts, "scalar becomes a list")
	assert.Zero(t, got.TimeEstimate)
	assert.Equal(t, "FREQ=SOMETIMES", got.Recurrence, "raw rule is kept")
	assert.Nil(t, got.Rule)
}

func TestInstancesAreDisjoint(t *testing.T) {
	got, err := newParser().Parse("a.md", []byte(`---
tags: [task]
recurrence: daily
scheduled: 2024-06-01
complete_instances: [2024-06-03, 2024-06-01, 2024-06-03, garbage]
skipped_instances: [2024-06-03, 2024-06-02]
---
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-06-01", "2024-06-03"}, got.CompleteInstances)
	assert.Equal(t, []string{"2024-06-02"}, got.SkippedInstances)
	assert.True(t, got.IsCompleteForDate(date.MustParse("2024-06-03")))
	assert.False(t, got.IsSkippedForDate(date.MustParse("2024-06-03")))
}

func TestTimeEntriesKeepLastOpen(t *testing.T) {
	got, err := newParser().Parse("a.md", []byte(`---
tags: [task]
timeEntries:
  - startTime: 2024-06-10T09:00:00Z
  - startTime: 2024-06-10T10:00:00Z
    endTime: 2024-06-10T10:30:00Z
    description: review
  - startTime: 2024-06-10T11:00:00Z
---
`))
	require.NoError(t, err)
	require.Len(t, got.TimeEntries, 2)
	assert.Equal(t, "review", got.TimeEntries[0].Description)
	require.NotNil(t, got.ActiveEntry())
	assert.Equal(t, 11, got.ActiveEntry().Start.UTC().Hour())

	now := time.Date(2024, 6, 10, 11, 15, 0, 0, time.UTC)
	assert.Equal(t, 45*time.Minute, got.TimeTracked(now))
}

func TestArchived(t *testing.T) {
	got, _ := newParser().Parse("a.md", []byte("---\ntags: [task, archived]\n---\n"))
	assert.True(t, got.Archived)
	got, _ = newParser().Parse("b.md", []byte("---\ntags: [task]\narchived: true\n---\n"))
	assert.True(t, got.Archived)
	got, _ = newParser().Parse("c.md", []byte("---\ntags: [task]\n---\n"))
	assert.False(t, got.Archived)
}

func TestAnchorFallbacks(t *testing.T) {
	p := newParser()
	got, _ := p.Parse("a.md", []byte("---\ntags: [task]\nrecurrence: DTSTART:20240601;FREQ=DAILY\nscheduled: 2024-06-05\n---\n"))
	assert.Equal(t, "2024-06-01", got.Anchor().String())

	got, _ = p.Parse("b.md", []byte("---\ntags: [task]\nrecurrence: daily\ndue: 2024-06-07\n---\n"))
	assert.Equal(t, "2024-06-07", got.Anchor().String())

	got, _ = p.Parse("c.md", []byte("---\ntags: [task]\nrecurrence: daily\ndateCreated: 2024-06-02T10:00:00\n---\n"))
	assert.Equal(t, "2024-06-02", got.Anchor().String())
}

func TestIsOnDate(t *testing.T) {
	p := newParser()
	plain, _ := p.Parse("a.md", []byte("---\ntags: [task]\ndue: 2024-06-12\nscheduled: 2024-06-10\n---\n"))
	assert.True(t, plain.IsOnDate(date.MustParse("2024-06-10")))
	assert.True(t, plain.IsOnDate(date.MustParse("2024-06-12")))
	assert.False(t, plain.IsOnDate(date.MustParse("2024-06-11")))
	assert.Len(t, plain.Dates(), 2)

	// A recurring task ignores due/scheduled and skipped occurrences.
	rec, _ := p.Parse("b.md", []byte("---\ntags: [task]\nrecurrence: FREQ=WEEKLY;BYDAY=MO,WE\nscheduled: 2024-06-10\ndue: 2024-06-11\nskipped_instances: [2024-06-17]\n---\n"))
	assert.True(t, rec.IsOnDate(date.MustParse("2024-06-12")))
	assert.False(t, rec.IsOnDate(date.MustParse("2024-06-11")))
	assert.False(t, rec.IsOnDate(date.MustParse("2024-06-17")))
}
