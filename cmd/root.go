// Package cmd implements the taskvault CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/twiced-technology-gmbh/taskvault/internal/clierr"
	"github.com/twiced-technology-gmbh/taskvault/internal/config"
	"github.com/twiced-technology-gmbh/taskvault/internal/date"
	"github.com/twiced-technology-gmbh/taskvault/internal/engine"
	"github.com/twiced-technology-gmbh/taskvault/internal/output"
	"github.com/twiced-technology-gmbh/taskvault/internal/task"
)

// version is set at build time via ldflags.
var version = "dev"

// Global flags.
var (
	flagJSON    bool
	flagTable   bool
	flagCompact bool
	flagVault   string
	flagProfile string
	flagNoColor bool
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "taskvault",
	Short: "Query and update tasks kept in markdown notes",
	Long: `taskvault indexes the task notes of a markdown vault and answers queries
over them: filtered lists, agendas, projects and dependencies. Completing,
skipping and time tracking write straight back to note frontmatter.

Run taskvault tui for the interactive agenda.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		if flagNoColor || os.Getenv("NO_COLOR") != "" || !term.IsTerminal(int(os.Stdout.Fd())) {
			output.DisableColor()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVar(&flagTable, "table", false, "output as table")
	rootCmd.PersistentFlags().BoolVar(&flagCompact, "compact", false, "compact one-line-per-record output")
	rootCmd.PersistentFlags().BoolVar(&flagCompact, "oneline", false, "alias for --compact")
	rootCmd.PersistentFlags().StringVar(&flagVault, "vault", "", "path to the vault root")
	rootCmd.PersistentFlags().StringVarP(&flagProfile, "profile", "p", "", "named vault from profiles.toml")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "disable color output")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "log engine diagnostics to stderr")
	rootCmd.SetGlobalNormalizationFunc(normalizeFlags)
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	_, err := rootCmd.ExecuteContextC(ctx)
	stop()
	if err == nil {
		return
	}

	var silent *clierr.SilentError
	if errors.As(err, &silent) {
		os.Exit(silent.Code)
	}

	if outputFormat() == output.FormatJSON {
		var cliErr *clierr.Error
		if errors.As(err, &cliErr) {
			output.JSONError(os.Stdout, cliErr.Code, cliErr.Message, cliErr.Details)
			os.Exit(cliErr.ExitCode())
		}
		output.JSONError(os.Stdout, clierr.InternalError, err.Error(), nil)
		os.Exit(2) //nolint:mnd // exit code 2 for internal errors
	}

	fmt.Fprintln(os.Stderr, "Error:", err)
	var cliErr *clierr.Error
	if errors.As(err, &cliErr) {
		os.Exit(cliErr.ExitCode())
	}
	os.Exit(1)
}

// profile returns the selected profile, if any. A named profile that does
// not exist is an error; a missing profiles file is not.
func profile() (config.Profile, bool, error) {
	path, err := config.ProfilesPath()
	if err != nil {
		return config.Profile{}, false, err
	}
	profiles, err := config.LoadProfiles(path)
	if err != nil {
		return config.Profile{}, false, err
	}
	return profiles.Resolve(flagProfile)
}

// resolveDir returns the .taskvault directory: --vault first, then the
// profile, then a search upward from the working directory.
func resolveDir() (string, error) {
	if flagVault != "" {
		return filepath.Join(flagVault, config.DefaultDir), nil
	}
	if prof, ok, err := profile(); err != nil {
		return "", err
	} else if ok {
		return filepath.Join(prof.Vault, config.DefaultDir), nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	return config.FindDir(cwd)
}

// loadConfig finds and loads the vault config.
func loadConfig() (*config.Config, error) {
	dir, err := resolveDir()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(dir)
	if errors.Is(err, config.ErrNotFound) {
		return nil, clierr.Newf(clierr.VaultNotFound, "no vault at %s (run 'taskvault init' to create one)",
			filepath.Dir(dir)).WithDetails(map[string]any{"dir": dir})
	}
	return cfg, err
}

// openEngine loads the config and starts an engine on it. The caller must
// Destroy the engine.
func openEngine(ctx context.Context, opts ...engine.Option) (*engine.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	output.SetPalette(cfg)

	if flagVerbose {
		opts = append([]engine.Option{engine.WithLogger(log.New(os.Stderr, "taskvault: ", log.LstdFlags))}, opts...)
	}
	eng := engine.New(cfg, opts...)
	if err := eng.Init(ctx); err != nil {
		return nil, fmt.Errorf("indexing vault: %w", err)
	}
	return eng, nil
}

// outputFormat returns the detected output format from flags/env.
func outputFormat() output.Format {
	return output.Detect(flagJSON, flagTable, flagCompact)
}

// printWarnings writes note parse warnings to stderr.
func printWarnings(warnings []*task.ParseWarning) {
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "Warning: skipping malformed note %s: %v\n", w.Path, w.Err)
	}
}

// parseDay resolves an ISO or natural-language date against the engine's
// today. An empty value means today.
func parseDay(eng *engine.Engine, field, value string) (date.Date, error) {
	today := eng.Today()
	if value == "" {
		return today, nil
	}
	d, err := date.ParseRelative(value, today)
	if err != nil {
		return date.Date{}, task.ValidateDate(field, value, err)
	}
	return d, nil
}

// notePath maps a command argument to a vault-relative note path. Paths to
// existing files are taken as they are; anything else is resolved like a
// wikilink.
func notePath(ctx context.Context, eng *engine.Engine, arg string) (string, error) {
	root := eng.Config().Root()
	if abs, err := filepath.Abs(arg); err == nil {
		if rel, err := filepath.Rel(root, abs); err == nil && !strings.HasPrefix(rel, "..") {
			if info, err := os.Stat(abs); err == nil && !info.IsDir() {
				return filepath.ToSlash(rel), nil
			}
		}
	}

	p, ok, err := eng.Resolve(ctx, arg)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", task.NotFound(arg)
	}
	return p, nil
}

// normalizeFlags accepts a few common spellings of long flags.
func normalizeFlags(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	switch name {
	case "no-colour":
		name = "no-color"
	case "filter-file":
		name = "filter"
	case "groupby", "group":
		name = "group-by"
	case "subgroup":
		name = "subgroup-by"
	}
	return pflag.NormalizedName(name)
}
