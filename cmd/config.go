package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/twiced-technology-gmbh/taskvault/internal/clierr"
	"github.com/twiced-technology-gmbh/taskvault/internal/config"
	"github.com/twiced-technology-gmbh/taskvault/internal/output"
	"github.com/twiced-technology-gmbh/taskvault/internal/query"
	"github.com/twiced-technology-gmbh/taskvault/internal/task"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify vault configuration",
	Long:  `View the full configuration, get a specific key, or set a writable value.`,
	RunE:  runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show all configuration values",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2), //nolint:mnd // key and value
	RunE:  runConfigSet,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(configCmd)
}

// configAccessor describes how to get and set a config key.
type configAccessor struct {
	get      func(*config.Config) any
	set      func(*config.Config, string) error
	writable bool
}

func configAccessors() map[string]configAccessor {
	accessors := baseConfigAccessors()
	addBehaviourAccessors(accessors)
	return accessors
}

func baseConfigAccessors() map[string]configAccessor {
	return map[string]configAccessor{
		"version": {
			get: func(c *config.Config) any { return c.Version },
		},
		"vault.name": {
			get:      func(c *config.Config) any { return c.Vault.Name },
			set:      func(c *config.Config, v string) error { c.Vault.Name = v; return nil },
			writable: true,
		},
		"identification.method": {
			get:      func(c *config.Config) any { return c.Identification.Method },
			set:      func(c *config.Config, v string) error { c.Identification.Method = v; return nil },
			writable: true,
		},
		"identification.tag": {
			get: func(c *config.Config) any { return c.Identification.Tag },
			set: func(c *config.Config, v string) error {
				c.Identification.Tag = strings.TrimPrefix(v, "#")
				return nil
			},
			writable: true,
		},
		"identification.property": {
			get:      func(c *config.Config) any { return c.Identification.Property },
			set:      func(c *config.Config, v string) error { c.Identification.Property = v; return nil },
			writable: true,
		},
		"identification.value": {
			get:      func(c *config.Config) any { return c.Identification.Value },
			set:      func(c *config.Config, v string) error { c.Identification.Value = v; return nil },
			writable: true,
		},
		"statuses": {
			get: func(c *config.Config) any { return c.StatusValues() },
		},
		"priorities": {
			get: func(c *config.Config) any { return c.PriorityValues() },
		},
		"fields": {
			get: func(c *config.Config) any { return c.Fields },
		},
		"custom_fields": {
			get: func(c *config.Config) any { return c.CustomFields },
		},
		"defaults.status": {
			get: func(c *config.Config) any { return c.Defaults.Status },
			set: func(c *config.Config, v string) error {
				if err := task.ValidateStatus(v, c); err != nil {
					return err
				}
				c.Defaults.Status = v
				return nil
			},
			writable: true,
		},
		"defaults.priority": {
			get: func(c *config.Config) any { return c.Defaults.Priority },
			set: func(c *config.Config, v string) error {
				if c.Priority(v) == nil {
					return clierr.Newf(clierr.InvalidInput,
						"invalid default priority %q; allowed: %s", v, strings.Join(c.PriorityValues(), ", "))
				}
				c.Defaults.Priority = v
				return nil
			},
			writable: true,
		},
	}
}

func addBehaviourAccessors(accessors map[string]configAccessor) {
	accessors["defaults.sort"] = configAccessor{
		get: func(c *config.Config) any { return c.Defaults.Sort },
		set: func(c *config.Config, v string) error {
			if v != "" {
				if _, err := query.ParseSort(v); err != nil {
					return err
				}
			}
			c.Defaults.Sort = v
			return nil
		},
		writable: true,
	}
	accessors["defaults.group_by"] = configAccessor{
		get: func(c *config.Config) any { return c.Defaults.GroupBy },
		set: func(c *config.Config, v string) error {
			if err := query.ValidateGroupBy(v); err != nil {
				return err
			}
			c.Defaults.GroupBy = v
			return nil
		},
		writable: true,
	}
	accessors["recurrence.maintain_offset"] = configAccessor{
		get:      func(c *config.Config) any { return c.Recurrence.MaintainOffset },
		set:      boolSetter("recurrence.maintain_offset", func(c *config.Config, b bool) { c.Recurrence.MaintainOffset = b }),
		writable: true,
	}
	accessors["recurrence.default_anchor"] = configAccessor{
		get:      func(c *config.Config) any { return c.Recurrence.DefaultAnchor },
		set:      func(c *config.Config, v string) error { c.Recurrence.DefaultAnchor = v; return nil },
		writable: true,
	}
	accessors["archive_tag"] = configAccessor{
		get: func(c *config.Config) any { return c.ArchiveTag },
		set: func(c *config.Config, v string) error {
			c.ArchiveTag = strings.TrimPrefix(v, "#")
			return nil
		},
		writable: true,
	}
	accessors["excluded_folders"] = configAccessor{
		get: func(c *config.Config) any { return c.Excluded },
		set: func(c *config.Config, v string) error {
			c.Excluded = nil
			for _, f := range strings.Split(v, ",") {
				if f = strings.Trim(strings.TrimSpace(f), "/"); f != "" {
					c.Excluded = append(c.Excluded, f)
				}
			}
			return nil
		},
		writable: true,
	}
	accessors["journal"] = configAccessor{
		get:      func(c *config.Config) any { return c.Journal },
		set:      boolSetter("journal", func(c *config.Config, b bool) { c.Journal = b }),
		writable: true,
	}
	accessors["tui.agenda_days"] = configAccessor{
		get: func(c *config.Config) any { return c.AgendaDays() },
		set: func(c *config.Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > maxAgendaDays {
				return clierr.Newf(clierr.InvalidInput,
					"invalid tui.agenda_days %q: must be an integer between 1 and %d", v, maxAgendaDays)
			}
			c.TUI.AgendaDays = n
			return nil
		},
		writable: true,
	}
}

func boolSetter(key string, apply func(*config.Config, bool)) func(*config.Config, string) error {
	return func(c *config.Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return clierr.Newf(clierr.InvalidInput, "invalid %s %q: must be true or false", key, v)
		}
		apply(c, b)
		return nil
	}
}

// allConfigKeys returns config keys in display order.
func allConfigKeys() []string {
	return []string{
		"version",
		"vault.name",
		"identification.method",
		"identification.tag",
		"identification.property",
		"identification.value",
		"statuses",
		"priorities",
		"defaults.status",
		"defaults.priority",
		"defaults.sort",
		"defaults.group_by",
		"recurrence.maintain_offset",
		"recurrence.default_anchor",
		"archive_tag",
		"excluded_folders",
		"journal",
		"tui.agenda_days",
		"custom_fields",
		"fields",
	}
}

func runConfigShow(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	accessors := configAccessors()

	if outputFormat() == output.FormatJSON {
		m := make(map[string]any, len(accessors))
		for _, key := range allConfigKeys() {
			m[key] = accessors[key].get(cfg)
		}
		return output.JSON(os.Stdout, m)
	}

	for _, key := range allConfigKeys() {
		val := accessors[key].get(cfg)
		fmt.Fprintf(os.Stdout, "%-27s %v\n", key, formatConfigValue(val))
	}
	return nil
}

func runConfigGet(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	key := args[0]
	acc, ok := configAccessors()[key]
	if !ok {
		return clierr.Newf(clierr.InvalidInput, "unknown config key %q", key).
			WithDetails(map[string]any{"valid": allConfigKeys()})
	}

	val := acc.get(cfg)
	if outputFormat() == output.FormatJSON {
		return output.JSON(os.Stdout, val)
	}
	fmt.Fprintln(os.Stdout, formatConfigValue(val))
	return nil
}

func runConfigSet(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	key, value := args[0], args[1]
	acc, ok := configAccessors()[key]
	if !ok {
		return clierr.Newf(clierr.InvalidInput, "unknown config key %q", key).
			WithDetails(map[string]any{"valid": allConfigKeys()})
	}
	if !acc.writable {
		return clierr.Newf(clierr.InvalidInput, "config key %q is read-only", key)
	}

	if err := acc.set(cfg, value); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return clierr.New(clierr.InvalidInput, err.Error())
	}
	if err := cfg.Save(); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	if outputFormat() == output.FormatJSON {
		return output.JSON(os.Stdout, map[string]any{"key": key, "value": acc.get(cfg)})
	}
	output.Messagef(os.Stdout, "Set %s = %v", key, formatConfigValue(acc.get(cfg)))
	return nil
}

func formatConfigValue(val any) string {
	switch v := val.(type) {
	case []string:
		if len(v) == 0 {
			return "--"
		}
		return strings.Join(v, ", ")
	case []config.CustomField:
		if len(v) == 0 {
			return "--"
		}
		parts := make([]string, 0, len(v))
		for _, f := range v {
			parts = append(parts, f.Key+":"+f.Type)
		}
		return strings.Join(parts, ", ")
	case config.FieldMapping:
		return fmt.Sprintf("title=%s status=%s priority=%s due=%s scheduled=%s ...",
			v.Title, v.Status, v.Priority, v.Due, v.Scheduled)
	case string:
		if v == "" {
			return "--"
		}
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}
