package query

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twiced-technology-gmbh/taskvault/internal/clierr"
)

func TestParseWhere(t *testing.T) {
	tests := []struct {
		expr string
		want Condition
	}{
		{"status != done", Condition{Property: "status", Operator: OpIsNot, Value: "done"}},
		{"due<=today", Condition{Property: "due", Operator: OpIsOnOrBefore, Value: "today"}},
		{"tags ~ work", Condition{Property: "tags", Operator: OpContains, Value: "work"}},
		{`title = "Buy milk"`, Condition{Property: "title", Operator: OpIs, Value: "Buy milk"}},
		{"timeEstimate is-greater-than 30", Condition{Property: "timeEstimate", Operator: OpIsGreaterThan, Value: "30"}},
		{"user:effort >= 2", Condition{Property: "user:effort", Operator: OpIsOnOrAfter, Value: "2"}},
		{"due is-empty", Condition{Property: "due", Operator: OpIsEmpty}},
		{"archived is-checked", Condition{Property: "archived", Operator: OpIsChecked}},
		{"due is-before in 3 days", Condition{Property: "due", Operator: OpIsBefore, Value: "in 3 days"}},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := ParseWhere(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseWhereErrors(t *testing.T) {
	for _, expr := range []string{"", "status", "status is-like done", "due is-before"} {
		_, err := ParseWhere(expr)
		assert.True(t, clierr.Is(err, clierr.FilterUnavailable), "%q: %v", expr, err)
	}
}

func TestDecodeFilterYAML(t *testing.T) {
	data := []byte(`
conjunction: and
children:
  - property: status
    operator: is-not
    value: done
  - conjunction: or
    children:
      - property: tags
        operator: contains
        value: work
      - property: priority
        operator: is
        value: high
`)
	g, err := DecodeFilter(data)
	require.NoError(t, err)
	require.Len(t, g.Children, 2)
	assert.Equal(t, "status", g.Children[0].Condition.Property)
	require.NotNil(t, g.Children[1].Group)
	assert.Equal(t, Or, g.Children[1].Group.Conjunction)
	assert.Len(t, g.Children[1].Group.Children, 2)
}

func TestDecodeFilterJSONRoundTrip(t *testing.T) {
	g := AllOf(Cond("status", OpIsNot, "done"), Sub(AnyOf(Cond("due", OpIsEmpty, nil))))
	data, err := json.Marshal(g)
	require.NoError(t, err)

	back, err := DecodeFilter(data)
	require.NoError(t, err)
	assert.Equal(t, g, back)
}

func TestDecodeFilterBareCondition(t *testing.T) {
	g, err := DecodeFilter([]byte(`{property: status, operator: "=", value: open}`))
	require.NoError(t, err)
	assert.Equal(t, And, g.Conjunction)
	require.Len(t, g.Children, 1)
	assert.Equal(t, "=", g.Children[0].Condition.Operator)
}

func TestValidateReportsLocation(t *testing.T) {
	tests := []struct {
		name string
		g    *Group
		at   string
	}{
		{"bad conjunction", &Group{Conjunction: "xor"}, "filter"},
		{"unknown operator", AllOf(Cond("status", "resembles", "x")), "filter.children[0]"},
		{"missing value", AllOf(Cond("x", OpIs, "y"), Sub(AnyOf(Cond("due", OpIsBefore, nil)))), "filter.children[1].children[0]"},
		{"empty property", AllOf(Cond(" ", OpIsEmpty, nil)), "filter.children[0]"},
		{"empty node", AllOf(Node{}), "filter.children[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.g.Validate()
			require.Error(t, err)
			var ce *clierr.Error
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, clierr.FilterUnavailable, ce.Code)
			assert.Equal(t, tt.at, ce.Details["at"])
		})
	}
}
