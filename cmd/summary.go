package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/twiced-technology-gmbh/taskvault/internal/engine"
	"github.com/twiced-technology-gmbh/taskvault/internal/events"
	"github.com/twiced-technology-gmbh/taskvault/internal/output"
)

var summaryCmd = &cobra.Command{
	Use:     "summary",
	Aliases: []string{"status"},
	Short:   "Show vault summary",
	Long: `Displays task counts per status with blocked and overdue counts, and the
priority distribution.

Use --watch to keep the display live-updating. The summary re-renders
whenever notes change on disk or the date rolls over. Press Ctrl+C to stop.`,
	Args: cobra.NoArgs,
	RunE: runSummary,
}

func init() {
	summaryCmd.Flags().BoolP("watch", "w", false, "live-update the summary on note changes")
	rootCmd.AddCommand(summaryCmd)
}

func runSummary(cmd *cobra.Command, _ []string) error {
	watch, _ := cmd.Flags().GetBool("watch")

	eng, err := openEngine(cmd.Context(), engine.WithWatch(watch))
	if err != nil {
		return err
	}
	defer eng.Destroy() //nolint:errcheck // read-only command

	if !watch {
		warnings, err := eng.Warnings(cmd.Context())
		if err != nil {
			return err
		}
		printWarnings(warnings)
		return renderSummary(cmd.Context(), eng)
	}
	return watchSummary(cmd.Context(), eng)
}

func renderSummary(ctx context.Context, eng *engine.Engine) error {
	summary, err := eng.Summary(ctx)
	if err != nil {
		return err
	}

	switch outputFormat() {
	case output.FormatJSON:
		return output.JSON(os.Stdout, summary)
	case output.FormatCompact:
		output.OverviewCompact(os.Stdout, summary)
	default:
		output.OverviewTable(os.Stdout, summary)
	}
	return nil
}

// watchSummary re-renders on every data change or date rollover until ctx
// is cancelled.
func watchSummary(ctx context.Context, eng *engine.Engine) error {
	changed := make(chan struct{}, 1)
	unsubscribe, err := eng.Subscribe(func(env events.Envelope) {
		switch env.Event.(type) {
		case events.DataChanged, events.DateRolledOver:
			select {
			case changed <- struct{}{}:
			default:
			}
		}
	})
	if err != nil {
		return err
	}
	defer unsubscribe()

	screen := termenv.NewOutput(os.Stdout)
	redraw := func() {
		screen.ClearScreen()
		if err := renderSummary(ctx, eng); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: rendering summary: %v\n", err)
		}
	}

	redraw()
	fmt.Fprintln(os.Stderr, "Watching for changes... (Ctrl+C to stop)")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
			redraw()
		}
	}
}
