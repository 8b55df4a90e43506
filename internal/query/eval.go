package query

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/twiced-technology-gmbh/taskvault/internal/config"
	"github.com/twiced-technology-gmbh/taskvault/internal/date"
	"github.com/twiced-technology-gmbh/taskvault/internal/link"
	"github.com/twiced-technology-gmbh/taskvault/internal/task"
)

// Built-in property names.
const (
	PropTitle         = "title"
	PropPath          = "path"
	PropStatus        = "status"
	PropPriority      = "priority"
	PropDue           = "due"
	PropScheduled     = "scheduled"
	PropCompletedDate = "completedDate"
	PropDateCreated   = "dateCreated"
	PropDateModified  = "dateModified"
	PropContexts      = "contexts"
	PropProjects      = "projects"
	PropTags          = "tags"
	PropArchived      = "archived"
	PropCompleted     = "completed"
	PropRecurring     = "recurring"
	PropBlocked       = "blocked"
	PropBlocking      = "blocking"
	PropBlockedBy     = "blockedBy"
	PropTimeEstimate  = "timeEstimate"
	PropTimeTracked   = "timeTracked"
)

const userPrefix = "user:"

// Relations carries dependency facts computed from the graph, keyed by task
// path. A nil Relations means no task is blocked or blocking.
type Relations struct {
	Blocked   map[string]bool
	Blocking  map[string]bool
	BlockedBy map[string][]string
}

// Env is everything evaluation needs beyond the task itself.
type Env struct {
	Config    *config.Config
	Today     date.Date
	Now       time.Time
	Relations Relations
}

// Match reports whether t satisfies the tree. A nil tree matches everything.
func (g *Group) Match(t *task.Task, env *Env) bool {
	if g == nil {
		return true
	}
	if strings.EqualFold(g.Conjunction, Or) {
		for _, n := range g.Children {
			if n.match(t, env) {
				return true
			}
		}
		return len(g.Children) == 0
	}
	for _, n := range g.Children {
		if !n.match(t, env) {
			return false
		}
	}
	return true
}

func (n Node) match(t *task.Task, env *Env) bool {
	switch {
	case n.Group != nil:
		return n.Group.Match(t, env)
	case n.Condition != nil:
		return n.Condition.Match(t, env)
	}
	return false
}

// Match evaluates the condition against t. Properties that cannot be
// resolved and values that cannot be compared yield false.
func (c *Condition) Match(t *task.Task, env *Env) bool {
	v, known := resolve(t, c.Property, env)
	if !known {
		return false
	}
	op := CanonicalOperator(c.Operator)

	switch op {
	case OpIsEmpty:
		return isEmpty(v)
	case OpIsNotEmpty:
		return !isEmpty(v)
	case OpIsChecked:
		b, ok := v.(bool)
		return ok && b
	case OpIsNotChecked:
		b, ok := v.(bool)
		return !ok || !b
	}

	if isEmpty(v) {
		// An absent value differs from everything and contains nothing.
		return op == OpIsNot || op == OpDoesNotContain
	}

	switch op {
	case OpIs:
		return equals(v, c.Value, env)
	case OpIsNot:
		return !equals(v, c.Value, env)
	case OpContains:
		return contains(v, c.Value)
	case OpDoesNotContain:
		return !contains(v, c.Value)
	}

	cmp, ok := compare(c.Property, v, c.Value, env)
	if !ok {
		return false
	}
	switch op {
	case OpIsBefore, OpIsLessThan:
		return cmp < 0
	case OpIsAfter, OpIsGreaterThan:
		return cmp > 0
	case OpIsOnOrBefore, OpIsLessThanOrEq:
		return cmp <= 0
	case OpIsOnOrAfter, OpIsGreaterThanOrEq:
		return cmp >= 0
	}
	return false
}

// resolve returns the typed value of prop on t. Values are nil, string,
// []string, float64, bool or date.Date. The second result is false when the
// property is unknown.
func resolve(t *task.Task, prop string, env *Env) (any, bool) {
	switch prop {
	case PropTitle:
		return t.Title, true
	case PropPath:
		return t.Path, true
	case PropStatus:
		return t.Status, true
	case PropPriority:
		return t.Priority, true
	case PropDue:
		return stampDate(t.Due), true
	case PropScheduled:
		return stampDate(t.Scheduled), true
	case PropCompletedDate:
		if t.CompletedDate == nil {
			return nil, true
		}
		return *t.CompletedDate, true
	case PropDateCreated:
		return stampDate(t.DateCreated), true
	case PropDateModified:
		return stampDate(t.DateModified), true
	case PropContexts:
		return t.Contexts, true
	case PropProjects:
		return targets(t.Projects), true
	case PropTags:
		return t.Tags, true
	case PropArchived:
		return t.Archived, true
	case PropCompleted:
		return isCompleted(t, env), true
	case PropRecurring:
		return t.IsRecurring(), true
	case PropBlocked:
		return env.Relations.Blocked[t.Path], true
	case PropBlocking:
		return env.Relations.Blocking[t.Path], true
	case PropBlockedBy:
		if paths, ok := env.Relations.BlockedBy[t.Path]; ok {
			return paths, true
		}
		return targets(task.DependencyRefs(t.BlockedBy)), true
	case PropTimeEstimate:
		if t.TimeEstimate <= 0 {
			return nil, true
		}
		return float64(t.TimeEstimate), true
	case PropTimeTracked:
		return math.Floor(t.TimeTracked(env.Now).Minutes()), true
	}

	key, explicit := strings.CutPrefix(prop, userPrefix)
	var field *config.CustomField
	if env.Config != nil {
		field = env.Config.CustomField(key)
	}
	raw, present := t.Custom[key]
	if !explicit && field == nil && !present {
		return nil, false
	}
	typ := ""
	if field != nil {
		typ = field.Type
	}
	return customValue(raw, typ), true
}

func isCompleted(t *task.Task, env *Env) bool {
	if t.IsRecurring() {
		return t.IsCompleteForDate(env.Today)
	}
	return env.Config != nil && env.Config.IsCompletedStatus(t.Status)
}

func stampDate(s *date.Stamp) any {
	if s == nil {
		return nil
	}
	return s.Date
}

// targets strips link syntax so list membership tests can use plain names.
func targets(refs []string) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		if tg := link.Target(r); tg != "" {
			out = append(out, tg)
		}
	}
	return out
}

// customValue coerces a raw frontmatter value according to the declared
// field type, inferring one when the field is undeclared.
func customValue(raw any, typ string) any {
	if raw == nil {
		return nil
	}
	switch typ {
	case config.FieldText:
		return fmt.Sprint(raw)
	case config.FieldNumber:
		f, ok := toFloat(raw)
		if !ok {
			return nil
		}
		return f
	case config.FieldBoolean:
		b, ok := toBool(raw)
		if !ok {
			return nil
		}
		return b
	case config.FieldDate:
		d, ok := storedDate(raw)
		if !ok {
			return nil
		}
		return d
	case config.FieldList:
		return toList(raw)
	}

	switch v := raw.(type) {
	case bool:
		return v
	case int, int64, uint64, float64:
		f, _ := toFloat(v)
		return f
	case []string:
		return v
	case []any:
		return toList(v)
	case date.Date:
		return v
	case time.Time:
		return date.Of(v)
	case string:
		if st, err := date.ParseStamp(v); err == nil {
			return st.Date
		}
		return v
	}
	return fmt.Sprint(raw)
}

func toList(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if e != nil {
				out = append(out, fmt.Sprint(e))
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return []string{fmt.Sprint(raw)}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		p, err := strconv.ParseBool(strings.TrimSpace(b))
		return p, err == nil
	}
	return false, false
}

// storedDate reads a date kept in frontmatter. Unlike toDate it accepts no
// relative expressions.
func storedDate(v any) (date.Date, bool) {
	switch d := v.(type) {
	case date.Date:
		return d, true
	case time.Time:
		return date.Of(d), true
	case string:
		st, err := date.ParseStamp(d)
		if err != nil {
			return date.Date{}, false
		}
		return st.Date, true
	}
	return date.Date{}, false
}

func toDate(v any, today date.Date) (date.Date, bool) {
	switch d := v.(type) {
	case date.Date:
		return d, true
	case time.Time:
		return date.Of(d), true
	case string:
		p, err := date.ParseRelative(d, today)
		return p, err == nil
	}
	return date.Date{}, false
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []string:
		return len(x) == 0
	}
	return false
}

func equals(v, want any, env *Env) bool {
	switch x := v.(type) {
	case string:
		return strings.EqualFold(x, fmt.Sprint(want))
	case []string:
		w := link.Target(fmt.Sprint(want))
		for _, e := range x {
			if strings.EqualFold(e, w) {
				return true
			}
		}
		return false
	case float64:
		f, ok := toFloat(want)
		return ok && f == x
	case bool:
		b, ok := toBool(want)
		return ok && b == x
	case date.Date:
		d, ok := toDate(want, env.Today)
		return ok && d.Equal(x)
	}
	return false
}

func contains(v, want any) bool {
	w := strings.ToLower(fmt.Sprint(want))
	switch x := v.(type) {
	case string:
		return strings.Contains(strings.ToLower(x), w)
	case []string:
		w = strings.ToLower(link.Target(w))
		for _, e := range x {
			if strings.Contains(strings.ToLower(e), w) {
				return true
			}
		}
	}
	return false
}

// compare orders v against want. Priorities compare by weight and statuses
// by configured position.
func compare(prop string, v, want any, env *Env) (int, bool) {
	switch x := v.(type) {
	case string:
		if env.Config != nil {
			switch prop {
			case PropPriority:
				a, okA := env.Config.PriorityWeight(x)
				b, okB := env.Config.PriorityWeight(fmt.Sprint(want))
				return cmpInt(a, b), okA && okB
			case PropStatus:
				a, b := env.Config.StatusIndex(x), env.Config.StatusIndex(fmt.Sprint(want))
				return cmpInt(a, b), a >= 0 && b >= 0
			}
		}
		return strings.Compare(strings.ToLower(x), strings.ToLower(fmt.Sprint(want))), true
	case float64:
		f, ok := toFloat(want)
		if !ok {
			return 0, false
		}
		switch {
		case x < f:
			return -1, true
		case x > f:
			return 1, true
		}
		return 0, true
	case date.Date:
		d, ok := toDate(want, env.Today)
		if !ok {
			return 0, false
		}
		return x.Compare(d), true
	}
	return 0, false
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
