package cmd

import (
	"errors"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/twiced-technology-gmbh/taskvault/internal/engine"
	"github.com/twiced-technology-gmbh/taskvault/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Open the interactive agenda",
	Long: `Opens a live agenda of the coming days. Tasks can be completed and
recurring occurrences skipped from the keyboard; edits made to notes in
other programs show up immediately.`,
	Args: cobra.NoArgs,
	RunE: runTUI,
}

func init() {
	tuiCmd.Flags().Int("days", 0, "number of days shown (default from config)")
	rootCmd.AddCommand(tuiCmd)
}

func runTUI(cmd *cobra.Command, _ []string) error {
	eng, err := openEngine(cmd.Context(), engine.WithWatch(true))
	if err != nil {
		return err
	}
	defer eng.Destroy() //nolint:errcheck // shutting down

	days, _ := cmd.Flags().GetInt("days")
	if days <= 0 {
		days = eng.Config().AgendaDays()
	}

	p := tea.NewProgram(tui.NewAgenda(eng, days), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
	unsubscribe, err := eng.Subscribe(tui.Forward(p.Send))
	if err != nil {
		return err
	}
	defer unsubscribe()

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}
