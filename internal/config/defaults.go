// Package config handles vault configuration.
package config

const (
	// DefaultDir is the directory inside the vault root holding taskvault files.
	DefaultDir = ".taskvault"
	// DefaultStatus is the status assumed for tasks without one.
	DefaultStatus = "open"
	// DefaultPriority is the priority assumed for tasks without one.
	DefaultPriority = "normal"
	// DefaultTaskTag identifies task notes when identification.method is "tag".
	DefaultTaskTag = "task"
	// DefaultArchiveTag marks a task as archived.
	DefaultArchiveTag = "archived"
	// DefaultAgendaDays is the number of days shown by the agenda view.
	DefaultAgendaDays = 7

	// ConfigFileName is the name of the config file within the taskvault directory.
	ConfigFileName = "config.yml"
	// JournalFileName is the event journal written when journaling is enabled.
	JournalFileName = "events.jsonl"

	// CurrentVersion is the current config schema version.
	CurrentVersion = 3

	// IdentifyByTag and IdentifyByProperty are the identification methods.
	IdentifyByTag      = "tag"
	IdentifyByProperty = "property"

	// AnchorScheduled and AnchorCompletion are the recurrence anchors.
	AnchorScheduled  = "scheduled"
	AnchorCompletion = "completion"
)

// Field types for custom fields.
const (
	FieldText    = "text"
	FieldNumber  = "number"
	FieldBoolean = "boolean"
	FieldDate    = "date"
	FieldList    = "list"
)

// Default slice values for a new vault (slices cannot be const).
var (
	DefaultStatuses = []StatusConfig{
		{Value: "none", Label: "None", Color: "242"},
		{Value: "open", Label: "Open", Color: "75"},
		{Value: "in-progress", Label: "In progress", Color: "214"},
		{Value: "done", Label: "Done", Completed: true, Color: "34"},
	}

	DefaultPriorities = []PriorityConfig{
		{Value: "high", Label: "High", Weight: 3, Color: "196"},
		{Value: "normal", Label: "Normal", Weight: 2, Color: "214"},
		{Value: "low", Label: "Low", Weight: 1, Color: "75"},
		{Value: "none", Label: "None", Weight: 0, Color: "242"},
	}
)

// DefaultFieldMapping returns the property names used when a vault does not
// override them.
func DefaultFieldMapping() FieldMapping {
	return FieldMapping{
		Title:             "title",
		Status:            "status",
		Priority:          "priority",
		Due:               "due",
		Scheduled:         "scheduled",
		Contexts:          "contexts",
		Projects:          "projects",
		Tags:              "tags",
		TimeEstimate:      "timeEstimate",
		CompletedDate:     "completedDate",
		DateCreated:       "dateCreated",
		DateModified:      "dateModified",
		Recurrence:        "recurrence",
		RecurrenceAnchor:  "recurrence_anchor",
		CompleteInstances: "complete_instances",
		SkippedInstances:  "skipped_instances",
		TimeEntries:       "timeEntries",
		BlockedBy:         "blockedBy",
		Blocking:          "blocking",
		Archived:          "archived",
	}
}
