package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/davidthor/bundlefix/pkg/migration"
	"github.com/davidthor/bundlefix/pkg/store"
)

func newMigrateCmd(a *app) *cobra.Command {
	var (
		all          bool
		dryRun       bool
		force        bool
		autoApprove  bool
		concurrency  int
		migrations   []string
		outputFormat string
	)

	cmd := &cobra.Command{
		Use:   "migrate [project...]",
		Short: "Apply bundle migrations to projects",
		Long: `Apply registered migrations to the current revision of each project.

Each project is locked while it is migrated. Migrations already recorded in a
bundle are skipped unless --force is given, and a new revision is written only
when a migration changed the document.

Examples:
  bundlefix migrate my-project
  bundlefix migrate --all --concurrency 8 --auto-approve
  bundlefix migrate --all --dry-run -o json`,
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
			if len(projects) == 0 {
				fmt.Fprintln(a.stdout, "No projects found. Nothing to migrate.")
				return nil
			}

			if !cmd.Flags().Changed("concurrency") {
				concurrency = a.cfg.Concurrency
			}
			runner, err := migration.NewRunner(mgr, a.log, migration.Options{
				Migrations:  migrations,
				DryRun:      dryRun,
				Force:       force,
				Concurrency: concurrency,
				Who:         a.cfg.Who,
			})
			if err != nil {
				return err
			}

			if !dryRun && !autoApprove {
				if f, ok := a.stdin.(*os.File); ok && !interactive(f) {
					return fmt.Errorf("refusing to write revisions without confirmation; pass --auto-approve or --dry-run")
				}
				printPlan(a.stdout, runner.Migrations(), projects)
				if !confirm(a.stdin, a.stdout, "Proceed with migration?") {
					fmt.Fprintln(a.stdout, "Migration cancelled.")
					return nil
				}
				fmt.Fprintln(a.stdout)
			}

			results := runner.RunAll(ctx, projects)

			handled, err := writeStructured(a.stdout, outputFormat, resultViews(results))
			if err != nil {
				return err
			}
			if !handled {
				printResults(a.stdout, results, dryRun)
			}

			failed := 0
			for _, r := range results {
				if r.Err != nil {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d projects failed to migrate", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Migrate every project in the store")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would change without writing")
	cmd.Flags().BoolVar(&force, "force", false, "Re-apply migrations already recorded in a bundle")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "Skip the confirmation prompt")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Projects migrated in parallel (default from config)")
	cmd.Flags().StringArrayVar(&migrations, "migration", nil, "Migration to apply (repeatable, default all)")
	cmd.Flags().StringVarP(&outputFormat, "output", "o", outputTable, "Output format: table, json, yaml")

	return cmd
}

// resolveProjects returns the explicit project list or, with all, every
// project in the store.
func resolveProjects(ctx context.Context, mgr store.Manager, args []string, all bool) ([]string, error) {
	switch {
	case all && len(args) > 0:
		return nil, fmt.Errorf("specify projects or --all, not both")
	case all:
		return mgr.ListProjects(ctx)
	case len(args) == 0:
		return nil, fmt.Errorf("no projects specified; pass project IDs or --all")
	}

	seen := make(map[string]bool, len(args))
	var out []string
	for _, id := range args {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, nil
}

func printPlan(w io.Writer, migrations []*migration.Migration, projects []string) {
	fmt.Fprintln(w, "Migrations:")
	for _, m := range migrations {
		fmt.Fprintf(w, "  %s", m.Name)
		if m.Description != "" {
			fmt.Fprintf(w, ": %s", m.Description)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Projects (%d):\n", len(projects))
	for _, p := range projects {
		fmt.Fprintf(w, "  %s\n", p)
	}
	fmt.Fprintln(w)
}

type resultView struct {
	ProjectID string            `json:"projectId" yaml:"projectId"`
	Report    *migration.Report `json:"report,omitempty" yaml:"report,omitempty"`
	Error     string            `json:"error,omitempty" yaml:"error,omitempty"`
}

func resultViews(results []migration.Result) []resultView {
	out := make([]resultView, len(results))
	for i, r := range results {
		out[i] = resultView{ProjectID: r.ProjectID, Report: r.Report}
		if r.Err != nil {
			out[i].Error = r.Err.Error()
		}
	}
	return out
}

func printResults(w io.Writer, results []migration.Result, dryRun bool) {
	fmt.Fprintf(w, "%-24s %-10s %-8s %-8s %s\n", "PROJECT", "REVISION", "MERGED", "REMOVED", "STATUS")
	var warnings []migration.Warning
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(w, "%-24s %-10s %-8s %-8s %s\n", truncateString(r.ProjectID, 24), "-", "-", "-", "failed: "+r.Err.Error())
			continue
		}
		rep := r.Report
		revision := fmt.Sprint(rep.FromRevision)
		if rep.Written {
			revision = fmt.Sprintf("%d -> %d", rep.FromRevision, rep.Revision)
		}
		fmt.Fprintf(w, "%-24s %-10s %-8d %-8d %s\n",
			truncateString(r.ProjectID, 24),
			revision,
			rep.MergedSettings,
			rep.RemovedVariants,
			status(rep, dryRun),
		)
		warnings = append(warnings, rep.Warnings...)
	}

	if len(warnings) > 0 {
		fmt.Fprintln(w)
		for _, warn := range warnings {
			fmt.Fprintf(w, "Warning: %s\n", warn)
		}
	}
}

func status(rep *migration.Report, dryRun bool) string {
	switch {
	case rep.Written:
		return "migrated"
	case rep.Changed && dryRun:
		return "would change"
	case len(rep.Applied) == 0 && len(rep.Skipped) > 0:
		return "up to date (" + strings.Join(rep.Skipped, ", ") + ")"
	default:
		return "unchanged"
	}
}
