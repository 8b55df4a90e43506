package config

import "fmt"

// migrate upgrades a config from its current version to CurrentVersion.
// Each migration function transforms the config one version forward.
// Returns nil if no migration is needed (already at current version).
// Returns an error if the config version is newer than what this binary supports.
func migrate(cfg *Config) error {
	if cfg.Version == CurrentVersion {
		return nil
	}
	if cfg.Version > CurrentVersion {
		return fmt.Errorf(
			"%w: config version %d is newer than supported version %d (upgrade taskvault)",
			ErrInvalid, cfg.Version, CurrentVersion,
		)
	}
	if cfg.Version < 1 {
		return fmt.Errorf("%w: config version %d is invalid", ErrInvalid, cfg.Version)
	}

	// Apply migrations sequentially: v1→v2, v2→v3, etc.
	for cfg.Version < CurrentVersion {
		fn, ok := migrations[cfg.Version]
		if !ok {
			return fmt.Errorf("%w: no migration path from version %d", ErrInvalid, cfg.Version)
		}
		if err := fn(cfg); err != nil {
			return fmt.Errorf("migrating config from v%d: %w", cfg.Version, err)
		}
	}

	return nil
}

// migrations maps each version to the function that migrates it to the next version.
// The migration function must increment cfg.Version after a successful migration.
var migrations = map[int]func(*Config) error{
	1: migrateV1ToV2,
	2: migrateV2ToV3,
}

// migrateV1ToV2 adds identification, the field mapping and the archive tag.
// v1 configs always identified tasks by the "task" tag and used the default
// property names, so any missing mapping entry falls back to its default.
func migrateV1ToV2(cfg *Config) error { //nolint:unparam // signature must match migrations map type
	if cfg.Identification.Method == "" {
		cfg.Identification = Identification{Method: IdentifyByTag, Tag: DefaultTaskTag}
	}
	cfg.Fields = cfg.Fields.withDefaults()
	if cfg.ArchiveTag == "" {
		cfg.ArchiveTag = DefaultArchiveTag
	}
	cfg.Version = 2
	return nil
}

// migrateV2ToV3 introduces priority weights and completed flags on statuses.
// Priorities listed as plain strings get weights by position, first highest.
// If no status is flagged completed, "done" (or the last status) becomes completed.
func migrateV2ToV3(cfg *Config) error { //nolint:unparam // signature must match migrations map type
	weighted := false
	for _, p := range cfg.Priorities {
		if p.Weight != 0 {
			weighted = true
			break
		}
	}
	if !weighted {
		for i := range cfg.Priorities {
			cfg.Priorities[i].Weight = len(cfg.Priorities) - 1 - i
		}
	}

	if cfg.FirstCompletedStatus() == "" && len(cfg.Statuses) > 0 {
		idx := cfg.StatusIndex("done")
		if idx < 0 {
			idx = len(cfg.Statuses) - 1
		}
		cfg.Statuses[idx].Completed = true
	}

	if cfg.Recurrence.DefaultAnchor == "" {
		cfg.Recurrence.DefaultAnchor = AnchorScheduled
	}
	cfg.Version = 3
	return nil
}

// withDefaults fills empty mapping entries with their default property names.
func (m FieldMapping) withDefaults() FieldMapping {
	d := DefaultFieldMapping()
	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	fill(&m.Title, d.Title)
	fill(&m.Status, d.Status)
	fill(&m.Priority, d.Priority)
	fill(&m.Due, d.Due)
	fill(&m.Scheduled, d.Scheduled)
	fill(&m.Contexts, d.Contexts)
	fill(&m.Projects, d.Projects)
	fill(&m.Tags, d.Tags)
	fill(&m.TimeEstimate, d.TimeEstimate)
	fill(&m.CompletedDate, d.CompletedDate)
	fill(&m.DateCreated, d.DateCreated)
	fill(&m.DateModified, d.DateModified)
	fill(&m.Recurrence, d.Recurrence)
	fill(&m.RecurrenceAnchor, d.RecurrenceAnchor)
	fill(&m.CompleteInstances, d.CompleteInstances)
	fill(&m.SkippedInstances, d.SkippedInstances)
	fill(&m.TimeEntries, d.TimeEntries)
	fill(&m.BlockedBy, d.BlockedBy)
	fill(&m.Blocking, d.Blocking)
	fill(&m.Archived, d.Archived)
	return m
}
