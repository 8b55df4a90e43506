package cmd

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/twiced-technology-gmbh/taskvault/internal/engine"
	"github.com/twiced-technology-gmbh/taskvault/internal/output"
	"github.com/twiced-technology-gmbh/taskvault/internal/task"
)

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Track time spent on tasks",
	Long: `Starts and stops time entries stored in a task's time_entries property.
A task has at most one running entry.`,
}

var trackStartCmd = &cobra.Command{
	Use:   "start NOTE",
	Short: "Start a time entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrackStart,
}

var trackStopCmd = &cobra.Command{
	Use:   "stop NOTE",
	Short: "Stop the running time entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrackStop,
}

func init() {
	trackStartCmd.Flags().StringP("desc", "m", "", "description for the entry")
	trackCmd.AddCommand(trackStartCmd)
	trackCmd.AddCommand(trackStopCmd)
	rootCmd.AddCommand(trackCmd)
}

func runTrackStart(cmd *cobra.Command, args []string) error {
	desc, _ := cmd.Flags().GetString("desc")
	t, err := withNote(cmd.Context(), args[0], func(ctx context.Context, eng *engine.Engine, p string) (*task.Task, error) {
		return eng.StartTimer(ctx, p, desc)
	})
	if err != nil {
		return err
	}
	if outputFormat() == output.FormatJSON {
		return output.JSON(os.Stdout, t)
	}
	output.Messagef(os.Stdout, "Started timer on %s", t.Path)
	return nil
}

func runTrackStop(cmd *cobra.Command, args []string) error {
	t, err := withNote(cmd.Context(), args[0], func(ctx context.Context, eng *engine.Engine, p string) (*task.Task, error) {
		return eng.StopTimer(ctx, p)
	})
	if err != nil {
		return err
	}
	if outputFormat() == output.FormatJSON {
		return output.JSON(os.Stdout, t)
	}
	var last time.Duration
	if n := len(t.TimeEntries); n > 0 {
		last = t.TimeEntries[n-1].Duration(time.Now())
	}
	output.Messagef(os.Stdout, "Stopped timer on %s after %s (total %s)",
		t.Path, output.FormatDuration(last), output.FormatDuration(t.TimeTracked(time.Now())))
	return nil
}

// withNote opens the engine, resolves ref and runs fn on the note path.
func withNote(ctx context.Context, ref string,
	fn func(context.Context, *engine.Engine, string) (*task.Task, error),
) (*task.Task, error) {
	eng, err := openEngine(ctx)
	if err != nil {
		return nil, err
	}
	defer eng.Destroy() //nolint:errcheck // writes are flushed per note

	p, err := notePath(ctx, eng, ref)
	if err != nil {
		return nil, err
	}
	return fn(ctx, eng, p)
}
