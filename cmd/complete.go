package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/twiced-technology-gmbh/taskvault/internal/clierr"
	"github.com/twiced-technology-gmbh/taskvault/internal/date"
	"github.com/twiced-technology-gmbh/taskvault/internal/engine"
	"github.com/twiced-technology-gmbh/taskvault/internal/output"
	"github.com/twiced-technology-gmbh/taskvault/internal/task"
)

// instanceOp is an engine mutation applied to one date of a task.
type instanceOp func(e *engine.Engine, ctx context.Context, notePath string, on date.Date) (*task.Task, error)

// instanceCommand builds complete, uncomplete, skip and unskip. They share
// arguments and output and differ only in the engine call.
func instanceCommand(use, short, long, verb string, op instanceOp) *cobra.Command {
	c := &cobra.Command{
		Use:   use + " NOTE...",
		Short: short,
		Long:  long,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstance(cmd, args, verb, op)
		},
	}
	c.Flags().StringP("date", "d", "", "occurrence date for recurring tasks (default today)")
	return c
}

func init() {
	rootCmd.AddCommand(
		instanceCommand("complete", "Mark tasks done",
			`Marks each task done. A recurring task records the occurrence on --date
(default today) instead of changing its status. A one-off task moves to the
first completed status and gets a completed date.`,
			"Completed", (*engine.Engine).Complete),
		instanceCommand("uncomplete", "Reopen tasks",
			`Reverses complete: removes the occurrence from a recurring task, or moves a
one-off task back to the default status and clears its completed date.`,
			"Reopened", (*engine.Engine).Uncomplete),
		instanceCommand("skip", "Skip an occurrence of recurring tasks",
			`Marks the occurrence on --date (default today) as skipped. Only recurring
tasks can be skipped.`,
			"Skipped", (*engine.Engine).Skip),
		instanceCommand("unskip", "Restore a skipped occurrence",
			`Removes the occurrence on --date (default today) from the skipped list.`,
			"Restored", (*engine.Engine).Unskip),
	)
}

func runInstance(cmd *cobra.Command, args []string, verb string, op instanceOp) error {
	ctx := cmd.Context()
	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Destroy() //nolint:errcheck // writes are flushed per note

	dateFlag, _ := cmd.Flags().GetString("date")
	on, err := parseDay(eng, "occurrence", dateFlag)
	if err != nil {
		return err
	}

	// Single note: plain output and the error itself.
	if len(args) == 1 {
		p, err := notePath(ctx, eng, args[0])
		if err != nil {
			return err
		}
		t, err := op(eng, ctx, p, on)
		if err != nil {
			return err
		}
		if outputFormat() == output.FormatJSON {
			return output.JSON(os.Stdout, t)
		}
		output.Messagef(os.Stdout, "%s %s%s", verb, t.Path, occurrenceSuffix(t, on))
		return nil
	}

	return runBatch(args, func(arg string) error {
		p, err := notePath(ctx, eng, arg)
		if err != nil {
			return err
		}
		_, err = op(eng, ctx, p, on)
		return err
	})
}

func occurrenceSuffix(t *task.Task, on date.Date) string {
	if !t.IsRecurring() {
		return ""
	}
	return " for " + on.String()
}

// runBatch executes fn for each note and collects results. Returns a
// SilentError with exit code 1 if any operation failed (after outputting
// results).
func runBatch(refs []string, fn func(string) error) error {
	results := make([]output.BatchResult, 0, len(refs))
	anyFailed := false

	for _, ref := range refs {
		err := fn(ref)
		if err == nil {
			results = append(results, output.BatchResult{Path: ref, OK: true})
			continue
		}
		anyFailed = true
		var cliErr *clierr.Error
		if errors.As(err, &cliErr) {
			results = append(results, output.BatchResult{Path: ref, Error: cliErr.Message, Code: cliErr.Code})
		} else {
			results = append(results, output.BatchResult{Path: ref, Error: err.Error()})
		}
	}

	if outputFormat() == output.FormatJSON {
		if err := output.JSON(os.Stdout, results); err != nil {
			return err
		}
	} else {
		var succeeded int
		for _, r := range results {
			if r.OK {
				succeeded++
			} else {
				fmt.Fprintf(os.Stderr, "Error: %s: %s\n", r.Path, r.Error)
			}
		}
		output.Messagef(os.Stdout, "Completed %d/%d operations", succeeded, len(refs))
	}

	if anyFailed {
		return &clierr.SilentError{Code: 1}
	}
	return nil
}
