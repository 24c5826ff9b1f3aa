package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/davidthor/bundlefix/pkg/store"
)

func newListCmd(a *app) *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List projects in the store",
		Args:    cobra.NoArgs,
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

			ids, err := mgr.ListProjects(ctx)
			if err != nil {
				return err
			}
			projects := make([]*store.ProjectState, 0, len(ids))
			for _, id := range ids {
				p, err := mgr.GetProject(ctx, id)
				if err != nil {
					return err
				}
				projects = append(projects, p)
			}

			handled, err := writeStructured(a.stdout, outputFormat, projects)
			if err != nil || handled {
				return err
			}

			if len(projects) == 0 {
				fmt.Fprintln(a.stdout, "No projects found.")
				return nil
			}
			fmt.Fprintf(a.stdout, "%-24s %-24s %-10s %s\n", "ID", "NAME", "REVISION", "UPDATED")
			for _, p := range projects {
				fmt.Fprintf(a.stdout, "%-24s %-24s %-10d %s\n",
					truncateString(p.ID, 24),
					truncateString(p.Name, 24),
					p.Revision,
					p.Updated.Format(time.RFC3339),
				)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "output", "o", outputTable, "Output format: table, json, yaml")

	return cmd
}
