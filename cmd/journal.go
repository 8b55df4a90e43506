package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/twiced-technology-gmbh/taskvault/internal/events"
	"github.com/twiced-technology-gmbh/taskvault/internal/output"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show recent engine events",
	Long: `Prints the most recent entries of the event journal. Events are only
recorded when journal is enabled in the vault config.`,
	Args: cobra.NoArgs,
	RunE: runJournal,
}

func init() {
	journalCmd.Flags().IntP("limit", "n", 20, "number of entries") //nolint:mnd // default tail length
	rootCmd.AddCommand(journalCmd)
}

func runJournal(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Journal {
		output.Messagef(os.Stderr, "Note: journal is disabled (taskvault config set journal true)")
	}

	n, _ := cmd.Flags().GetInt("limit")
	entries, err := events.NewJournal(cfg.JournalPath()).Tail(n)
	if err != nil {
		return err
	}

	if outputFormat() == output.FormatJSON {
		if entries == nil {
			entries = []events.JournalEntry{}
		}
		return output.JSON(os.Stdout, entries)
	}
	for _, e := range entries {
		line := e.Timestamp.Local().Format(time.DateTime) + " " + e.Kind
		switch {
		case e.Path != "":
			line += " " + e.Path
		case len(e.Paths) > 0:
			line += fmt.Sprintf(" %d notes", len(e.Paths))
		}
		if e.Detail != "" {
			line += " (" + e.Detail + ")"
		}
		fmt.Fprintln(os.Stdout, line)
	}
	return nil
}
