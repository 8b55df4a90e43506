package query

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twiced-technology-gmbh/taskvault/internal/config"
	"github.com/twiced-technology-gmbh/taskvault/internal/task"
)

func customEnv() *Env {
	env := testEnv()
	env.Config.CustomFields = append(env.Config.CustomFields,
		config.CustomField{Key: "owner", Type: config.FieldText},
		config.CustomField{Key: "labels", Type: config.FieldList},
	)
	return env
}

func parseNote(t *testing.T, env *Env, notePath, frontmatter string) *task.Task {
	t.Helper()
	tk, err := task.NewParser(env.Config).Parse(notePath, []byte("---\ntags: [task]\n"+frontmatter+"---\n"))
	require.NoError(t, err)
	return tk
}

func notePaths(tasks []*task.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Path
	}
	return out
}

func TestParsedCustomFieldsMatch(t *testing.T) {
	env := customEnv()
	x := parseNote(t, env, "x.md", `effort: 3
reviewed: true
launch: 2024-07-01
owner: Sam
labels: [red, blue]
stars: 4
seen: 2024-05-01
mood: [calm]
`)

	tests := []struct {
		prop, op string
		value    any
		want     bool
	}{
		{"launch", OpIsAfter, "2024-06-30", true},
		{"launch", OpIsOnOrBefore, "2024-07-01", true},
		{"launch", OpIs, "2024-07-01", true},
		{"launch", OpIsNotEmpty, nil, true},
		{"user:launch", OpIsBefore, "2024-06-30", false},
		{"effort", OpIsGreaterThan, 2, true},
		{"effort", OpIs, "3", true},
		{"reviewed", OpIsChecked, nil, true},
		{"owner", OpIs, "sam", true},
		{"owner", OpContains, "am", true},
		{"labels", OpIs, "red", true},
		{"labels", OpContains, "blu", true},
		{"labels", OpDoesNotContain, "green", true},
		{"stars", OpIsGreaterThanOrEq, 4, true},
		{"seen", OpIsBefore, "2024-06-01", true},
		{"mood", OpIs, "calm", true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s %s %v", tt.prop, tt.op, tt.value), func(t *testing.T) {
			c := Condition{Property: tt.prop, Operator: tt.op, Value: tt.value}
			assert.Equal(t, tt.want, c.Match(x, env))
		})
	}
}

func TestSortAndGroupByParsedDateField(t *testing.T) {
	env := customEnv()
	tasks := []*task.Task{
		parseNote(t, env, "a.md", "launch: 2024-08-01\n"),
		parseNote(t, env, "b.md", ""),
		parseNote(t, env, "c.md", "launch: 2024-07-01\n"),
	}

	keys, err := ParseSort("user:launch")
	require.NoError(t, err)
	Sort(tasks, keys, env)
	assert.Equal(t, []string{"c.md", "a.md", "b.md"}, notePaths(tasks))

	keys, err = ParseSort("user:launch:desc")
	require.NoError(t, err)
	Sort(tasks, keys, env)
	assert.Equal(t, []string{"a.md", "c.md", "b.md"}, notePaths(tasks), "missing values stay last")

	sections, err := GroupTasks(tasks, "user:launch", "", env)
	require.NoError(t, err)
	require.Len(t, sections, 3)
	assert.Equal(t, "2024-07-01", sections[0].Key)
	assert.Equal(t, "2024-08-01", sections[1].Key)
	assert.Equal(t, noneLabel, sections[2].Label)
	assert.Equal(t, []string{"b.md"}, notePaths(sections[2].Tasks))
}

func TestParsedListFieldGroupsPerValue(t *testing.T) {
	env := customEnv()
	tasks := []*task.Task{
		parseNote(t, env, "a.md", "labels: [red, blue]\n"),
		parseNote(t, env, "b.md", "labels: red\n"),
	}

	sections, err := GroupTasks(tasks, "user:labels", "", env)
	require.NoError(t, err)
	require.Len(t, sections, 2)
	assert.Equal(t, "blue", sections[0].Key)
	assert.Equal(t, []string{"a.md"}, notePaths(sections[0].Tasks))
	assert.Equal(t, "red", sections[1].Key)
	assert.Equal(t, []string{"a.md", "b.md"}, notePaths(sections[1].Tasks))
}
