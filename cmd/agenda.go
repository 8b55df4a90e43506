package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/twiced-technology-gmbh/taskvault/internal/clierr"
	"github.com/twiced-technology-gmbh/taskvault/internal/output"
)

const maxAgendaDays = 366

var agendaCmd = &cobra.Command{
	Use:   "agenda",
	Short: "Show tasks day by day",
	Long: `Shows the tasks due or scheduled on each day of a date range, with every
occurrence of a recurring task on its own day. Overdue tasks are listed
first when the range starts today.

--date accepts ISO dates and phrases such as "tomorrow", "next monday"
or "+3d".`,
	Args: cobra.NoArgs,
	RunE: runAgenda,
}

func init() {
	agendaCmd.Flags().StringP("date", "d", "", "first day (default today)")
	agendaCmd.Flags().Int("days", 0, "number of days (default from config)")
	rootCmd.AddCommand(agendaCmd)
}

func runAgenda(cmd *cobra.Command, _ []string) error {
	eng, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer eng.Destroy() //nolint:errcheck // read-only command

	dateFlag, _ := cmd.Flags().GetString("date")
	from, err := parseDay(eng, "agenda", dateFlag)
	if err != nil {
		return err
	}
	days, _ := cmd.Flags().GetInt("days")
	if days == 0 {
		days = eng.Config().AgendaDays()
	}
	if days < 1 || days > maxAgendaDays {
		return clierr.Newf(clierr.InvalidInput, "--days must be between 1 and %d", maxAgendaDays)
	}

	agenda, err := eng.Agenda(cmd.Context(), from, days)
	if err != nil {
		return err
	}

	switch outputFormat() {
	case output.FormatJSON:
		return output.JSON(os.Stdout, agenda)
	case output.FormatCompact:
		output.AgendaCompact(os.Stdout, agenda)
	default:
		output.AgendaTable(os.Stdout, agenda)
	}
	return nil
}
