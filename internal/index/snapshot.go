package index

import (
	"sort"

	"github.com/twiced-technology-gmbh/taskvault/internal/date"
	"github.com/twiced-technology-gmbh/taskvault/internal/link"
	"github.com/twiced-technology-gmbh/taskvault/internal/task"
)

const unresolvedPrefix = "?"

type set map[string]struct{}

func (s set) sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// snapshot holds the primary map and every secondary index. A build fills a
// fresh snapshot off-lock; targeted updates mutate the live one under lock.
type snapshot struct {
	tasks    map[string]*task.Task
	names    *link.Names
	warnings map[string]*task.ParseWarning

	byDate    map[date.Date]set
	recurring set
	byProject map[string]set // resolved path, or "?"+name key when unresolved
	projects  map[string][]string
	refNames  map[string]set // reference base-name key -> referencing task paths
}

func newSnapshot() *snapshot {
	return &snapshot{
		tasks:     make(map[string]*task.Task),
		names:     link.NewNames(),
		warnings:  make(map[string]*task.ParseWarning),
		byDate:    make(map[date.Date]set),
		recurring: make(set),
		byProject: make(map[string]set),
		projects:  make(map[string][]string),
		refNames:  make(map[string]set),
	}
}

func addTo[K comparable](m map[K]set, key K, v string) {
	s := m[key]
	if s == nil {
		s = make(set)
		m[key] = s
	}
	s[v] = struct{}{}
}

func removeFrom[K comparable](m map[K]set, key K, v string) {
	s := m[key]
	delete(s, v)
	if len(s) == 0 {
		delete(m, key)
	}
}

// add files t under all secondary indexes.
func (s *snapshot) add(t *task.Task) {
	s.tasks[t.Path] = t
	if t.IsRecurring() {
		s.recurring[t.Path] = struct{}{}
	} else {
		for _, d := range t.Dates() {
			addTo(s.byDate, d, t.Path)
		}
	}
	for _, ref := range t.Projects {
		if k := link.NameKey(ref); k != "" {
			addTo(s.refNames, k, t.Path)
		}
	}
	s.linkProjects(t)
}

// remove drops the contribution of the task at p.
func (s *snapshot) remove(p string) {
	t, ok := s.tasks[p]
	if !ok {
		return
	}
	delete(s.tasks, p)
	delete(s.recurring, p)
	for _, d := range t.Dates() {
		removeFrom(s.byDate, d, p)
	}
	for _, ref := range t.Projects {
		if k := link.NameKey(ref); k != "" {
			removeFrom(s.refNames, k, p)
		}
	}
	s.unlinkProjects(p)
}

func (s *snapshot) linkProjects(t *task.Task) {
	keys := make([]string, 0, len(t.Projects))
	for _, ref := range t.Projects {
		key := s.projectKey(ref, t.Path)
		if key == "" {
			continue
		}
		addTo(s.byProject, key, t.Path)
		keys = append(keys, key)
	}
	if len(keys) > 0 {
		s.projects[t.Path] = keys
	}
}

func (s *snapshot) unlinkProjects(p string) {
	for _, key := range s.projects[p] {
		removeFrom(s.byProject, key, p)
	}
	delete(s.projects, p)
}

func (s *snapshot) projectKey(ref, from string) string {
	if resolved, ok := s.names.Resolve(ref, from); ok {
		return resolved
	}
	if k := link.Key(link.Target(ref)); k != "" {
		return unresolvedPrefix + k
	}
	return ""
}

// replace swaps the entry for notePath with the result of re-reading it. It
// returns the previous task and every path whose data changed.
func (s *snapshot) replace(notePath string, after *task.Task, warn *task.ParseWarning, exists bool) (*task.Task, []string) {
	before := s.tasks[notePath]
	s.remove(notePath)
	delete(s.warnings, notePath)
	if warn != nil {
		s.warnings[notePath] = warn
	}

	hadName := s.names.Has(notePath)
	if exists {
		s.names.Add(notePath)
	} else {
		s.names.Remove(notePath)
	}
	if after != nil {
		s.add(after)
	}
	changed := []string{notePath}
	if hadName != exists {
		for _, p := range s.relink(link.BaseKey(notePath)) {
			if p != notePath {
				changed = append(changed, p)
			}
		}
	}
	return before, changed
}

// relink re-resolves the project references of every task that names
// baseKey and returns their paths.
func (s *snapshot) relink(baseKey string) []string {
	var touched []string
	for p := range s.refNames[baseKey] {
		t := s.tasks[p]
		if t == nil {
			continue
		}
		s.unlinkProjects(p)
		s.linkProjects(t)
		touched = append(touched, p)
	}
	sort.Strings(touched)
	return touched
}

func (s *snapshot) sortedTasks(paths set) []*task.Task {
	out := make([]*task.Task, 0, len(paths))
	for _, p := range paths.sorted() {
		if t := s.tasks[p]; t != nil {
			out = append(out, t)
		}
	}
	return out
}
