package query

import (
	"github.com/twiced-technology-gmbh/taskvault/internal/task"
)

// StatusSummary holds metrics for a single status.
type StatusSummary struct {
	Status  string `json:"status"`
	Count   int    `json:"count"`
	Blocked int    `json:"blocked"`
	Overdue int    `json:"overdue"`
}

// PriorityCount holds a count for a priority level.
type PriorityCount struct {
	Priority string `json:"priority"`
	Count    int    `json:"count"`
}

// Overview is the aggregate vault summary.
type Overview struct {
	VaultName  string          `json:"vault_name"`
	TotalTasks int             `json:"total_tasks"`
	Overdue    int             `json:"overdue"`
	Blocked    int             `json:"blocked"`
	Archived   int             `json:"archived"`
	Recurring  int             `json:"recurring"`
	Statuses   []StatusSummary `json:"statuses"`
	Priorities []PriorityCount `json:"priorities"`
}

// IsOverdue reports whether a non-recurring, unfinished task was due before
// today.
func IsOverdue(t *task.Task, env *Env) bool {
	if t.IsRecurring() || t.Due == nil {
		return false
	}
	if env.Config != nil && env.Config.IsCompletedStatus(t.Status) {
		return false
	}
	return t.Due.Date.Before(env.Today)
}

// Summary counts tasks per configured status and priority. Tasks with a
// status or priority outside the configuration count only toward the totals.
func Summary(tasks []*task.Task, env *Env) Overview {
	cfg := env.Config
	ov := Overview{TotalTasks: len(tasks)}
	statusMap := make(map[string]*StatusSummary)
	prioMap := make(map[string]int)
	if cfg != nil {
		ov.VaultName = cfg.Vault.Name
		ov.Statuses = make([]StatusSummary, len(cfg.Statuses))
		for i, s := range cfg.Statuses {
			ov.Statuses[i].Status = s.Value
			statusMap[s.Value] = &ov.Statuses[i]
		}
	}

	for _, t := range tasks {
		blocked := env.Relations.Blocked[t.Path]
		overdue := IsOverdue(t, env)
		if blocked {
			ov.Blocked++
		}
		if overdue {
			ov.Overdue++
		}
		if t.Archived {
			ov.Archived++
		}
		if t.IsRecurring() {
			ov.Recurring++
		}
		if ss, ok := statusMap[t.Status]; ok {
			ss.Count++
			if blocked {
				ss.Blocked++
			}
			if overdue {
				ss.Overdue++
			}
		}
		prioMap[t.Priority]++
	}

	if cfg != nil {
		ov.Priorities = make([]PriorityCount, 0, len(cfg.Priorities))
		for _, p := range cfg.Priorities {
			ov.Priorities = append(ov.Priorities, PriorityCount{Priority: p.Value, Count: prioMap[p.Value]})
		}
	}
	return ov
}
