package query

import (
	"github.com/twiced-technology-gmbh/taskvault/internal/task"
)

// Query selects, orders and groups tasks.
type Query struct {
	Filter     *Group    `json:"filter,omitempty"`
	Sort       []SortKey `json:"sort,omitempty"`
	GroupBy    string    `json:"group_by,omitempty"`
	SubgroupBy string    `json:"subgroup_by,omitempty"`
	Limit      int       `json:"limit,omitempty"`
}

// Result is the outcome of Run. Sections is nil when the query is not
// grouped.
type Result struct {
	Tasks    []*task.Task `json:"tasks"`
	Sections []Section    `json:"sections,omitempty"`
}

// Validate checks the filter tree, sort keys and group keys.
func (q *Query) Validate() error {
	if err := q.Filter.Validate(); err != nil {
		return err
	}
	for _, k := range q.Sort {
		if err := k.Validate(); err != nil {
			return err
		}
	}
	if err := ValidateGroupBy(q.GroupBy); err != nil {
		return err
	}
	return ValidateGroupBy(q.SubgroupBy)
}

// Run filters, sorts, limits and groups tasks. The input slice is not
// modified.
func (q *Query) Run(tasks []*task.Task, env *Env) (*Result, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	matched := Filter(tasks, q.Filter, env)
	Sort(matched, q.Sort, env)
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	res := &Result{Tasks: matched}
	if q.GroupBy != "" {
		sections, err := GroupTasks(matched, q.GroupBy, q.SubgroupBy, env)
		if err != nil {
			return nil, err
		}
		res.Sections = sections
	}
	return res, nil
}

// Filter returns the tasks matching g, in input order.
func Filter(tasks []*task.Task, g *Group, env *Env) []*task.Task {
	out := make([]*task.Task, 0, len(tasks))
	for _, t := range tasks {
		if g.Match(t, env) {
			out = append(out, t)
		}
	}
	return out
}
