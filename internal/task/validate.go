package task

import (
	"github.com/twiced-technology-gmbh/taskvault/internal/clierr"
	"github.com/twiced-technology-gmbh/taskvault/internal/config"
)

// ValidateStatus checks that a status is configured for the vault.
func ValidateStatus(status string, cfg *config.Config) error {
	if cfg.Status(status) != nil {
		return nil
	}
	return clierr.Newf(clierr.InvalidStatus, "invalid status %q", status).
		WithDetails(map[string]any{
			"status":  status,
			"allowed": cfg.StatusValues(),
		})
}

// ValidateDate returns a CLIError for invalid date input.
func ValidateDate(field, input string, err error) *clierr.Error {
	return clierr.Newf(clierr.InvalidDate, "invalid %s date: %v", field, err).
		WithDetails(map[string]any{
			"field": field,
			"input": input,
		})
}

// NotFound returns a CLIError for a path that names no task.
func NotFound(notePath string) *clierr.Error {
	return clierr.Newf(clierr.TaskNotFound, "task not found: %s", notePath).
		WithDetails(map[string]any{"path": notePath})
}
