package cmd

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/twiced-technology-gmbh/taskvault/internal/output"
)

var showCmd = &cobra.Command{
	Use:   "show NOTE",
	Short: "Show task details",
	Long: `Displays every field of a single task including its rendered markdown body.
NOTE may be a path or a note name.`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

var depsCmd = &cobra.Command{
	Use:   "deps NOTE",
	Short: "Show what blocks a task and what it blocks",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeps,
}

func init() {
	depsCmd.Flags().BoolP("transitive", "t", false, "follow blocked-by links through the whole chain")
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(depsCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	eng, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer eng.Destroy() //nolint:errcheck // read-only command

	p, err := notePath(cmd.Context(), eng, args[0])
	if err != nil {
		return err
	}
	t, err := eng.Task(cmd.Context(), p)
	if err != nil {
		return err
	}

	switch outputFormat() {
	case output.FormatJSON:
		return output.JSON(os.Stdout, t)
	case output.FormatCompact:
		output.TaskDetailCompact(os.Stdout, t, time.Now())
	default:
		output.TaskDetail(os.Stdout, t, time.Now())
	}
	return nil
}

func runDeps(cmd *cobra.Command, args []string) error {
	eng, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer eng.Destroy() //nolint:errcheck // read-only command

	p, err := notePath(cmd.Context(), eng, args[0])
	if err != nil {
		return err
	}
	transitive, _ := cmd.Flags().GetBool("transitive")
	deps, err := eng.Deps(cmd.Context(), p, transitive)
	if err != nil {
		return err
	}

	switch outputFormat() {
	case output.FormatJSON:
		return output.JSON(os.Stdout, deps)
	case output.FormatCompact:
		output.DepsCompact(os.Stdout, deps)
	default:
		output.DepsTable(os.Stdout, deps)
	}
	return nil
}
