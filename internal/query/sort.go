package query

import (
	"cmp"
	"slices"
	"strings"

	"github.com/twiced-technology-gmbh/taskvault/internal/clierr"
	"github.com/twiced-technology-gmbh/taskvault/internal/date"
	"github.com/twiced-technology-gmbh/taskvault/internal/task"
)

// SortKey is one level of a multi-key sort.
type SortKey struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

func (k SortKey) String() string {
	if k.Desc {
		return k.Field + ":desc"
	}
	return k.Field + ":asc"
}

var sortFields = []string{
	PropPriority, PropStatus, PropDue, PropScheduled, PropTitle, PropPath,
	PropDateCreated, PropDateModified, PropCompletedDate, PropTimeEstimate, PropTimeTracked,
}

// SortFields returns the built-in sort keys; "user:<key>" is accepted too.
func SortFields() []string {
	return slices.Clone(sortFields)
}

// ParseSort parses a comma-separated list of "field[:asc|desc]". Priority
// defaults to descending, everything else to ascending.
func ParseSort(s string) ([]SortKey, error) {
	var keys []SortKey
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		field, dir := part, ""
		if i := strings.LastIndexByte(part, ':'); i >= 0 {
			switch d := strings.ToLower(part[i+1:]); d {
			case "asc", "desc":
				field, dir = part[:i], d
			}
		}
		k := SortKey{Field: field, Desc: field == PropPriority}
		if dir != "" {
			k.Desc = dir == "desc"
		}
		if err := k.Validate(); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// Validate checks that the key names a sortable field.
func (k SortKey) Validate() error {
	if strings.HasPrefix(k.Field, userPrefix) && len(k.Field) > len(userPrefix) {
		return nil
	}
	if slices.Contains(sortFields, k.Field) {
		return nil
	}
	return clierr.Newf(clierr.InvalidSort, "invalid sort field %q", k.Field).
		WithDetails(map[string]any{"valid": SortFields()})
}

// Sort orders tasks in place by keys. Missing values sort last in either
// direction, and ties break by title then path.
func Sort(tasks []*task.Task, keys []SortKey, env *Env) {
	slices.SortStableFunc(tasks, func(a, b *task.Task) int {
		for _, k := range keys {
			if c := compareBy(a, b, k, env); c != 0 {
				return c
			}
		}
		if c := cmp.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title)); c != 0 {
			return c
		}
		return cmp.Compare(a.Path, b.Path)
	})
}

// sortValue is a comparable projection of a task field. ok is false when
// the task has no value for the field.
type sortValue struct {
	ok  bool
	num float64
	str string
}

func compareBy(a, b *task.Task, k SortKey, env *Env) int {
	va, vb := sortValueOf(a, k.Field, env), sortValueOf(b, k.Field, env)
	switch {
	case !va.ok && !vb.ok:
		return 0
	case !va.ok:
		return 1
	case !vb.ok:
		return -1
	}
	c := cmp.Compare(va.num, vb.num)
	if c == 0 {
		c = cmp.Compare(va.str, vb.str)
	}
	if k.Desc {
		return -c
	}
	return c
}

func sortValueOf(t *task.Task, field string, env *Env) sortValue {
	switch field {
	case PropPriority:
		if env.Config == nil {
			return sortValue{ok: t.Priority != "", str: t.Priority}
		}
		w, ok := env.Config.PriorityWeight(t.Priority)
		return sortValue{ok: ok, num: float64(w)}
	case PropStatus:
		if env.Config == nil {
			return sortValue{ok: t.Status != "", str: t.Status}
		}
		i := env.Config.StatusIndex(t.Status)
		return sortValue{ok: i >= 0, num: float64(i)}
	case PropDue:
		return stampValue(t.Due)
	case PropScheduled:
		return stampValue(t.Scheduled)
	case PropDateCreated:
		return stampValue(t.DateCreated)
	case PropDateModified:
		return stampValue(t.DateModified)
	case PropCompletedDate:
		if t.CompletedDate == nil {
			return sortValue{}
		}
		return sortValue{ok: true, str: t.CompletedDate.String()}
	case PropTitle:
		return sortValue{ok: t.Title != "", str: strings.ToLower(t.Title)}
	case PropPath:
		return sortValue{ok: true, str: t.Path}
	case PropTimeEstimate:
		return sortValue{ok: t.TimeEstimate > 0, num: float64(t.TimeEstimate)}
	case PropTimeTracked:
		return sortValue{ok: len(t.TimeEntries) > 0, num: t.TimeTracked(env.Now).Minutes()}
	}

	v, _ := resolve(t, field, env)
	switch x := v.(type) {
	case float64:
		return sortValue{ok: true, num: x}
	case bool:
		if x {
			return sortValue{ok: true, num: 1}
		}
		return sortValue{ok: true}
	case date.Date:
		return sortValue{ok: true, str: x.String()}
	case string:
		return sortValue{ok: x != "", str: strings.ToLower(x)}
	case []string:
		if len(x) == 0 {
			return sortValue{}
		}
		return sortValue{ok: true, str: strings.ToLower(strings.Join(x, ","))}
	}
	return sortValue{}
}

// stampValue sorts by the ISO text: all-day stamps precede timed stamps on
// the same day.
func stampValue(s *date.Stamp) sortValue {
	if s == nil {
		return sortValue{}
	}
	return sortValue{ok: true, str: s.String()}
}
