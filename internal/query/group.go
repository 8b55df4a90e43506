package query

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/twiced-technology-gmbh/taskvault/internal/clierr"
	"github.com/twiced-technology-gmbh/taskvault/internal/date"
	"github.com/twiced-technology-gmbh/taskvault/internal/task"
)

// Group keys.
const (
	GroupStatus    = "status"
	GroupPriority  = "priority"
	GroupContext   = "context"
	GroupProject   = "project"
	GroupDue       = "due"
	GroupScheduled = "scheduled"
	GroupTag       = "tag"
	GroupNone      = "none"
)

// Date buckets, in display order.
const (
	BucketOverdue       = "overdue"
	BucketToday         = "today"
	BucketTomorrow      = "tomorrow"
	BucketNextSevenDays = "next-seven-days"
	BucketLater         = "later"
	BucketNone          = "none"
)

var bucketOrder = []string{
	BucketOverdue, BucketToday, BucketTomorrow, BucketNextSevenDays, BucketLater, BucketNone,
}

var bucketLabels = map[string]string{
	BucketOverdue:       "Overdue",
	BucketToday:         "Today",
	BucketTomorrow:      "Tomorrow",
	BucketNextSevenDays: "Next seven days",
	BucketLater:         "Later",
	BucketNone:          "No date",
}

const (
	allKey    = "all"
	noneLabel = "(none)"
)

// Section is one group of a grouped result.
type Section struct {
	Key         string       `json:"key"`
	Label       string       `json:"label"`
	Tasks       []*task.Task `json:"tasks"`
	Subsections []Section    `json:"subsections,omitempty"`
}

// GroupKeys returns the built-in group keys; "user:<key>" is accepted too.
func GroupKeys() []string {
	return []string{GroupStatus, GroupPriority, GroupContext, GroupProject, GroupDue, GroupScheduled, GroupTag, GroupNone}
}

// ValidateGroupBy checks a group key. The empty key means no grouping.
func ValidateGroupBy(key string) error {
	if key == "" || slices.Contains(GroupKeys(), key) {
		return nil
	}
	if strings.HasPrefix(key, userPrefix) && len(key) > len(userPrefix) {
		return nil
	}
	return clierr.Newf(clierr.InvalidGroupBy, "invalid group-by field %q", key).
		WithDetails(map[string]any{"valid": GroupKeys()})
}

// Bucket classifies d by calendar comparison with today. A nil d is "none".
func Bucket(d *date.Date, today date.Date) string {
	if d == nil || d.IsZero() {
		return BucketNone
	}
	switch n := today.DaysUntil(*d); {
	case n < 0:
		return BucketOverdue
	case n == 0:
		return BucketToday
	case n == 1:
		return BucketTomorrow
	case n <= 7:
		return BucketNextSevenDays
	default:
		return BucketLater
	}
}

// GroupTasks splits tasks into sections by key, and each section by subKey
// when it is set. Task order inside a section follows the input order.
func GroupTasks(tasks []*task.Task, key, subKey string, env *Env) ([]Section, error) {
	if err := ValidateGroupBy(key); err != nil {
		return nil, err
	}
	if err := ValidateGroupBy(subKey); err != nil {
		return nil, err
	}
	sections := group(tasks, key, env)
	if subKey != "" {
		for i := range sections {
			sections[i].Subsections = group(sections[i].Tasks, subKey, env)
		}
	}
	return sections, nil
}

func group(tasks []*task.Task, key string, env *Env) []Section {
	if key == "" || key == GroupNone {
		return []Section{{Key: allKey, Label: "All", Tasks: tasks}}
	}
	members := make(map[string][]*task.Task)
	for _, t := range tasks {
		for _, k := range groupValues(t, key, env) {
			members[k] = append(members[k], t)
		}
	}
	keys := make([]string, 0, len(members))
	for k := range members {
		keys = append(keys, k)
	}
	sortGroupKeys(keys, key, env)

	out := make([]Section, 0, len(keys))
	for _, k := range keys {
		out = append(out, Section{Key: k, Label: groupLabel(k, key, env), Tasks: members[k]})
	}
	return out
}

func groupValues(t *task.Task, key string, env *Env) []string {
	var vals []string
	switch key {
	case GroupStatus:
		vals = []string{t.Status}
	case GroupPriority:
		vals = []string{t.Priority}
	case GroupContext:
		vals = t.Contexts
	case GroupProject:
		vals = targets(t.Projects)
	case GroupTag:
		vals = t.Tags
	case GroupDue:
		return []string{Bucket(bucketDate(t, t.Due, env), env.Today)}
	case GroupScheduled:
		return []string{Bucket(bucketDate(t, t.Scheduled, env), env.Today)}
	default:
		v, _ := resolve(t, key, env)
		switch x := v.(type) {
		case nil:
		case []string:
			vals = x
		case date.Date:
			vals = []string{x.String()}
		default:
			vals = []string{fmt.Sprint(x)}
		}
	}
	vals = dedupe(vals)
	if len(vals) == 0 {
		return []string{""}
	}
	return vals
}

// bucketDate is the date a task is bucketed by: the next unfinished
// occurrence for recurring tasks, the field's date otherwise.
func bucketDate(t *task.Task, s *date.Stamp, env *Env) *date.Date {
	if t.IsRecurring() {
		next, ok := t.NextOccurrence(env.Today)
		if !ok {
			return nil
		}
		return &next
	}
	if s == nil {
		return nil
	}
	d := s.Date
	return &d
}

func dedupe(vals []string) []string {
	seen := make(map[string]bool, len(vals))
	out := vals[:0:0]
	for _, v := range vals {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func sortGroupKeys(keys []string, key string, env *Env) {
	var rank func(string) (int, bool)
	switch key {
	case GroupDue, GroupScheduled:
		rank = func(k string) (int, bool) { return slices.Index(bucketOrder, k), true }
	case GroupStatus:
		if env.Config != nil {
			rank = func(k string) (int, bool) {
				i := env.Config.StatusIndex(k)
				return i, i >= 0
			}
		}
	case GroupPriority:
		if env.Config != nil {
			rank = func(k string) (int, bool) {
				w, ok := env.Config.PriorityWeight(k)
				return -w, ok
			}
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if rank != nil {
			ri, okI := rank(keys[i])
			rj, okJ := rank(keys[j])
			if okI != okJ {
				return okI
			}
			if ri != rj {
				return ri < rj
			}
		}
		return alphaLess(keys[i], keys[j])
	})
}

// alphaLess orders case-insensitively with the empty key last.
func alphaLess(a, b string) bool {
	if (a == "") != (b == "") {
		return b == ""
	}
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if la != lb {
		return la < lb
	}
	return a < b
}

func groupLabel(k, key string, env *Env) string {
	switch key {
	case GroupDue, GroupScheduled:
		return bucketLabels[k]
	}
	if k == "" {
		return noneLabel
	}
	if env.Config != nil {
		switch key {
		case GroupStatus:
			if s := env.Config.Status(k); s != nil && s.Label != "" {
				return s.Label
			}
		case GroupPriority:
			if p := env.Config.Priority(k); p != nil && p.Label != "" {
				return p.Label
			}
		}
	}
	return k
}
