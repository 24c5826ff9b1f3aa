package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/davidthor/bundlefix/pkg/migration"
	"github.com/davidthor/bundlefix/pkg/model"
)

func newCheckCmd(a *app) *cobra.Command {
	var (
		all          bool
		outputFormat string
	)

	cmd := &cobra.Command{
		Use:   "check [project...]",
		Short: "Report duplicate variant settings without changing anything",
		Long: `Inspect the current revision of each project for variant settings that
share a combination of variants, duplicate variants and dangling references.

The command takes no locks and writes nothing. It exits with an error when
any project needs fixing.

Examples:
  bundlefix check my-project
  bundlefix check --all -o yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if err := validateOutput(outputFormat); err != nil {
				return err
			}

			mgr, err := a.createStoreManager(cmd)
			if err != nil {
				return fmt.Errorf("failed to create store manager: %w", err)
			}
			projects, err := resolveProjects(ctx, mgr, args, all)
			if err != nil {
				return err
			}

			runner, err := migration.NewRunner(mgr, a.log, migration.Options{Who: a.cfg.Who})
			if err != nil {
				return err
			}

			var inspections []*migration.Inspection
			unhealthy := 0
			for _, id := range projects {
				inspection, err := runner.Check(ctx, id)
				if err != nil {
					return fmt.Errorf("failed to check project %s: %w", id, err)
				}
				if !inspection.Healthy() {
					unhealthy++
				}
				inspections = append(inspections, inspection)
			}

			handled, err := writeStructured(a.stdout, outputFormat, inspections)
			if err != nil {
				return err
			}
			if !handled {
				printInspections(a.stdout, inspections)
			}

			if unhealthy > 0 {
				return fmt.Errorf("%d of %d projects need migration", unhealthy, len(inspections))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Check every project in the store")
	cmd.Flags().StringVarP(&outputFormat, "output", "o", outputTable, "Output format: table, json, yaml")

	return cmd
}

func printInspections(w io.Writer, inspections []*migration.Inspection) {
	if len(inspections) == 0 {
		fmt.Fprintln(w, "No projects found.")
		return
	}

	fmt.Fprintf(w, "%-24s %-10s %-10s %-10s %-10s %s\n", "PROJECT", "REVISION", "SETTINGS", "VARIANTS", "DANGLING", "MIGRATIONS")
	for _, i := range inspections {
		removable := 0
		for _, dups := range i.DuplicateVariants {
			removable += len(dups)
		}
		migrations := "-"
		if len(i.Migrations) > 0 {
			migrations = strings.Join(i.Migrations, ",")
		}
		fmt.Fprintf(w, "%-24s %-10d %-10d %-10d %-10d %s\n",
			truncateString(i.ProjectID, 24),
			i.Revision,
			len(i.DuplicateSettings),
			removable,
			len(i.Dangling),
			migrations,
		)
	}

	for _, i := range inspections {
		if i.Healthy() {
			continue
		}
		fmt.Fprintf(w, "\n%s:\n", i.ProjectID)
		for _, d := range i.DuplicateSettings {
			fmt.Fprintf(w, "  component %s tpl %s: %d settings share combo %q\n", d.Component, d.Tpl, d.Count, d.ComboKey)
		}
		owners := make([]string, 0, len(i.DuplicateVariants))
		for owner := range i.DuplicateVariants {
			owners = append(owners, string(owner))
		}
		sort.Strings(owners)
		for _, owner := range owners {
			fmt.Fprintf(w, "  variant %s has %d duplicates\n", owner, len(i.DuplicateVariants[model.ID(owner)]))
		}
		for _, d := range i.Dangling {
			fmt.Fprintf(w, "  dangling: %s\n", d)
		}
	}
}
