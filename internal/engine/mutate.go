package engine

import (
	"context"

	"github.com/twiced-technology-gmbh/taskvault/internal/clierr"
	"github.com/twiced-technology-gmbh/taskvault/internal/config"
	"github.com/twiced-technology-gmbh/taskvault/internal/date"
	"github.com/twiced-technology-gmbh/taskvault/internal/task"
)

// mutation edits a task in memory and reports the fields it changed.
type mutation func(t *task.Task, cfg *config.Config, on date.Date) ([]task.Field, error)

// Complete marks the task done for on. A zero on means today. Recurring
// tasks record the occurrence; other tasks move to the first completed
// status.
func (e *Engine) Complete(ctx context.Context, notePath string, on date.Date) (*task.Task, error) {
	return e.mutate(ctx, notePath, on, func(t *task.Task, cfg *config.Config, d date.Date) ([]task.Field, error) {
		return task.Complete(t, d, cfg), nil
	})
}

// Uncomplete reverses Complete.
func (e *Engine) Uncomplete(ctx context.Context, notePath string, on date.Date) (*task.Task, error) {
	return e.mutate(ctx, notePath, on, func(t *task.Task, cfg *config.Config, d date.Date) ([]task.Field, error) {
		return task.Uncomplete(t, d, cfg), nil
	})
}

// Skip marks the occurrence on a recurring task's date as skipped.
func (e *Engine) Skip(ctx context.Context, notePath string, on date.Date) (*task.Task, error) {
	return e.mutate(ctx, notePath, on, func(t *task.Task, _ *config.Config, d date.Date) ([]task.Field, error) {
		return task.Skip(t, d)
	})
}

// Unskip reverses Skip.
func (e *Engine) Unskip(ctx context.Context, notePath string, on date.Date) (*task.Task, error) {
	return e.mutate(ctx, notePath, on, func(t *task.Task, _ *config.Config, d date.Date) ([]task.Field, error) {
		return task.Unskip(t, d)
	})
}

// StartTimer opens a time entry on the task.
func (e *Engine) StartTimer(ctx context.Context, notePath, description string) (*task.Task, error) {
	return e.mutate(ctx, notePath, date.Date{}, func(t *task.Task, _ *config.Config, _ date.Date) ([]task.Field, error) {
		return task.StartTimer(t, e.now(), description)
	})
}

// StopTimer closes the task's open time entry.
func (e *Engine) StopTimer(ctx context.Context, notePath string) (*task.Task, error) {
	return e.mutate(ctx, notePath, date.Date{}, func(t *task.Task, _ *config.Config, _ date.Date) ([]task.Field, error) {
		return task.StopTimer(t, e.now())
	})
}

// mutate applies fn to the note's current frontmatter, writes the changed
// fields back, and refreshes the index and graph from disk. It returns the
// task as indexed after the write.
func (e *Engine) mutate(ctx context.Context, notePath string, on date.Date, fn mutation) (*task.Task, error) {
	cfg, today, err := e.running()
	if err != nil {
		return nil, err
	}
	if on.IsZero() {
		on = today
	}
	e.mu.Lock()
	store := e.store
	e.mu.Unlock()

	err = store.UpdateNote(ctx, notePath, func(fm *task.Frontmatter) error {
		t, err := fm.Task()
		if err != nil {
			return err
		}
		if t == nil {
			return clierr.Newf(clierr.TaskNotFound, "%q is not a task", notePath).
				WithDetails(map[string]any{"path": notePath})
		}
		fields, err := fn(t, cfg, on)
		if err != nil {
			return err
		}
		return fm.Write(t, fields...)
	})
	if err != nil {
		return nil, err
	}
	if err := e.refresh(ctx, notePath); err != nil {
		return nil, err
	}
	t, ok, err := e.ix.Get(ctx, notePath)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, clierr.Newf(clierr.TaskNotFound, "%q is no longer a task", notePath)
	}
	return t, nil
}
