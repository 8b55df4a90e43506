package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/twiced-technology-gmbh/taskvault/internal/output"
	"github.com/twiced-technology-gmbh/taskvault/internal/task"
)

var projectCmd = &cobra.Command{
	Use:   "project REF",
	Short: "List the tasks of a project",
	Long: `Lists the tasks whose projects property links to REF. REF may be a note
path, a note name or a [[wikilink]].`,
	Args: cobra.ExactArgs(1),
	RunE: runProject,
}

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List referenced projects with task counts",
	Args:  cobra.NoArgs,
	RunE:  runProjects,
}

func init() {
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(projectsCmd)
}

func runProject(cmd *cobra.Command, args []string) error {
	eng, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer eng.Destroy() //nolint:errcheck // read-only command

	tasks, batch, err := eng.Project(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	for _, u := range batch.Unresolved {
		output.Messagef(os.Stderr, "Note: no note named %q; matching by name", u.Name)
	}

	if outputFormat() == output.FormatJSON {
		if tasks == nil {
			tasks = []*task.Task{}
		}
		return output.JSON(os.Stdout, map[string]any{"project": batch, "tasks": tasks})
	}
	return outputTaskList(tasks)
}

func runProjects(cmd *cobra.Command, _ []string) error {
	eng, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer eng.Destroy() //nolint:errcheck // read-only command

	projects, err := eng.Projects(cmd.Context())
	if err != nil {
		return err
	}
	if outputFormat() == output.FormatJSON {
		return output.JSON(os.Stdout, projects)
	}
	output.ProjectsTable(os.Stdout, projects)
	return nil
}
