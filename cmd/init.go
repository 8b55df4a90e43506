package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/twiced-technology-gmbh/taskvault/internal/config"
	"github.com/twiced-technology-gmbh/taskvault/internal/output"
)

var initCmd = &cobra.Command{
	Use:   "init [DIR]",
	Short: "Initialize a vault",
	Long: `Creates .taskvault/config.yml in DIR (default: --vault or the current
directory). Existing notes are left untouched.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().String("name", "", "vault name (defaults to the directory name)")
	initCmd.Flags().String("tag", "", "tag that marks a note as a task (default \""+config.DefaultTaskTag+"\")")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	root := flagVault
	if len(args) > 0 {
		root = args[0]
	}
	if root == "" {
		root = "."
	}

	name, _ := cmd.Flags().GetString("name")
	cfg, err := config.Init(root, name)
	if err != nil {
		return err
	}

	if tag, _ := cmd.Flags().GetString("tag"); tag != "" {
		cfg.Identification.Tag = strings.TrimPrefix(tag, "#")
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := cfg.Save(); err != nil {
			return err
		}
	}

	if outputFormat() == output.FormatJSON {
		return output.JSON(os.Stdout, map[string]string{
			"status":   "initialized",
			"root":     cfg.Root(),
			"name":     cfg.Vault.Name,
			"config":   cfg.ConfigPath(),
			"statuses": strings.Join(cfg.StatusValues(), ","),
		})
	}

	output.Messagef(os.Stdout, "Initialized vault %q in %s", cfg.Vault.Name, cfg.Root())
	output.Messagef(os.Stdout, "  Config:   %s", cfg.ConfigPath())
	output.Messagef(os.Stdout, "  Statuses: %s", strings.Join(cfg.StatusValues(), ", "))
	output.Messagef(os.Stdout, "  Tasks:    notes tagged #%s", cfg.Identification.Tag)
	return nil
}
