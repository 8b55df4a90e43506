package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/twiced-technology-gmbh/taskvault/internal/clierr"
	"github.com/twiced-technology-gmbh/taskvault/internal/output"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Report malformed notes and broken links",
	Long: `Indexes the vault and lists notes whose frontmatter could not be parsed
and blocked-by or project links that point at no note. Exits with status 1
when a problem is found.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	eng, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer eng.Destroy() //nolint:errcheck // read-only command

	report, err := eng.Doctor(cmd.Context())
	if err != nil {
		return err
	}

	switch outputFormat() {
	case output.FormatJSON:
		if err := output.JSON(os.Stdout, report); err != nil {
			return err
		}
	case output.FormatCompact:
		output.ReportCompact(os.Stdout, report)
	default:
		output.ReportTable(os.Stdout, report)
	}

	if len(report.Warnings) > 0 || len(report.Unresolved) > 0 {
		return &clierr.SilentError{Code: 1}
	}
	return nil
}
