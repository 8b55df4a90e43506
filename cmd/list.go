package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/twiced-technology-gmbh/taskvault/internal/config"
	"github.com/twiced-technology-gmbh/taskvault/internal/output"
	"github.com/twiced-technology-gmbh/taskvault/internal/query"
	"github.com/twiced-technology-gmbh/taskvault/internal/task"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tasks",
	Long: `Lists tasks matching a filter, sorted and optionally grouped.

Conditions are given as --where "property operator value" and are joined
with "and", for example:

  taskvault list --where "status != done" --where "due <= today"
  taskvault list --where "tags contains work" --group-by project

A filter file (YAML or JSON) allows nested and/or groups:

  taskvault list --filter overdue.yml

Archived tasks are hidden unless --archived is given.`,
	RunE: runList,
}

func init() {
	addListFlags(listCmd.Flags())
	rootCmd.AddCommand(listCmd)
}

func addListFlags(fs *pflag.FlagSet) {
	fs.StringArrayP("where", "w", nil, "condition \"property operator value\" (repeatable)")
	fs.String("filter", "", "read a filter tree from a YAML or JSON file")
	fs.String("sort", "", "sort keys, e.g. \"due,priority:desc\" ("+strings.Join(query.SortFields(), ", ")+")")
	fs.String("group-by", "", "group results ("+strings.Join(query.GroupKeys(), ", ")+")")
	fs.String("subgroup-by", "", "second grouping level")
	fs.IntP("limit", "n", 0, "limit number of results")
	fs.Bool("archived", false, "include archived tasks")
}

func runList(cmd *cobra.Command, _ []string) error {
	q, err := listQuery(cmd)
	if err != nil {
		return err
	}
	// Reject a bad query before paying for an index build.
	if err := q.Validate(); err != nil {
		return err
	}

	eng, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer eng.Destroy() //nolint:errcheck // read-only command

	if err := applyListDefaults(cmd, eng.Config(), q); err != nil {
		return err
	}

	warnings, err := eng.Warnings(cmd.Context())
	if err != nil {
		return err
	}
	printWarnings(warnings)

	res, err := eng.Query(cmd.Context(), q)
	if err != nil {
		return err
	}

	if q.GroupBy != "" {
		return outputSections(res.Sections)
	}
	return outputTaskList(res.Tasks)
}

// listQuery builds a query from the filter flags only. Defaults that need
// the vault config are added by applyListDefaults.
func listQuery(cmd *cobra.Command) (*query.Query, error) {
	wheres, _ := cmd.Flags().GetStringArray("where")
	filterFile, _ := cmd.Flags().GetString("filter")
	sortSpec, _ := cmd.Flags().GetString("sort")
	groupBy, _ := cmd.Flags().GetString("group-by")
	subgroupBy, _ := cmd.Flags().GetString("subgroup-by")
	limit, _ := cmd.Flags().GetInt("limit")
	archived, _ := cmd.Flags().GetBool("archived")

	filter, err := query.ParseWheres(wheres)
	if err != nil {
		return nil, err
	}
	if filterFile != "" {
		data, err := os.ReadFile(filterFile) //nolint:gosec // user-supplied filter file
		if err != nil {
			return nil, fmt.Errorf("reading filter file: %w", err)
		}
		fromFile, err := query.DecodeFilter(data)
		if err != nil {
			return nil, err
		}
		filter = joinFilters(filter, fromFile)
	}
	if !archived {
		filter = joinFilters(filter, query.AllOf(query.Cond(query.PropArchived, query.OpIsNotChecked, nil)))
	}

	q := &query.Query{Filter: filter, GroupBy: groupBy, SubgroupBy: subgroupBy, Limit: limit}
	if sortSpec != "" {
		if q.Sort, err = query.ParseSort(sortSpec); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// applyListDefaults fills sort and grouping left unset on the command line
// from the profile, then from the vault defaults.
func applyListDefaults(cmd *cobra.Command, cfg *config.Config, q *query.Query) error {
	prof, _, err := profile()
	if err != nil {
		return err
	}

	if !cmd.Flags().Changed("sort") {
		spec := firstNonEmpty(prof.Sort, cfg.Defaults.Sort)
		if spec != "" {
			keys, err := query.ParseSort(spec)
			if err != nil {
				return err
			}
			q.Sort = keys
		}
	}
	if !cmd.Flags().Changed("group-by") {
		q.GroupBy = firstNonEmpty(prof.GroupBy, cfg.Defaults.GroupBy)
	}
	return nil
}

// joinFilters combines two filter trees with "and". Either may be nil.
func joinFilters(a, b *query.Group) *query.Group {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return query.AllOf(query.Sub(a), query.Sub(b))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func outputSections(sections []query.Section) error {
	format := outputFormat()
	if format == output.FormatJSON {
		if sections == nil {
			sections = []query.Section{}
		}
		return output.JSON(os.Stdout, sections)
	}
	if format == output.FormatCompact {
		output.SectionsCompact(os.Stdout, sections)
		return nil
	}
	output.SectionsTable(os.Stdout, sections)
	return nil
}

func outputTaskList(tasks []*task.Task) error {
	format := outputFormat()
	if format == output.FormatJSON {
		if tasks == nil {
			tasks = []*task.Task{}
		}
		return output.JSON(os.Stdout, tasks)
	}
	if format == output.FormatCompact {
		output.TaskCompact(os.Stdout, tasks)
		return nil
	}

	output.TaskTable(os.Stdout, tasks)
	return nil
}
