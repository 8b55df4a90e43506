// Package events carries typed change notifications from the task engine to
// its consumers.
package events

import (
	"github.com/twiced-technology-gmbh/taskvault/internal/date"
	"github.com/twiced-technology-gmbh/taskvault/internal/task"
)

// Event is implemented by the event types in this package only.
type Event interface {
	Kind() string
	event()
}

// DataChanged signals that the task set changed. Paths lists the notes
// involved; it is empty after a full rebuild.
type DataChanged struct {
	Paths []string `json:"paths,omitempty"`
}

// TaskUpdated is published for every applied change to a single task.
// Before is nil on creation and After is nil on removal.
type TaskUpdated struct {
	Path   string     `json:"path"`
	Before *task.Task `json:"before,omitempty"`
	After  *task.Task `json:"after,omitempty"`
}

// DateRolledOver is published when the local calendar date changes while
// the engine runs.
type DateRolledOver struct {
	From date.Date `json:"from"`
	To   date.Date `json:"to"`
}

// Event kinds.
const (
	KindDataChanged    = "data-changed"
	KindTaskUpdated    = "task-updated"
	KindDateRolledOver = "date-rolled-over"
)

func (DataChanged) Kind() string    { return KindDataChanged }
func (TaskUpdated) Kind() string    { return KindTaskUpdated }
func (DateRolledOver) Kind() string { return KindDateRolledOver }

func (DataChanged) event()    {}
func (TaskUpdated) event()    {}
func (DateRolledOver) event() {}

// Action describes what a TaskUpdated did to its task.
func (e TaskUpdated) Action() string {
	switch {
	case e.Before == nil && e.After != nil:
		return "created"
	case e.Before != nil && e.After == nil:
		return "removed"
	default:
		return "updated"
	}
}
