package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/davidthor/bundlefix/pkg/bundle"
)

func newExportCmd(a *app) *cobra.Command {
	var (
		revision   int
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "export <project>",
		Short: "Write a project revision as a bundle file",
		Long: `Write the current, or a given, revision of a project as bundle JSON.

Examples:
  bundlefix export my-project > site.bundle.json
  bundlefix export my-project --revision 3 --file old.bundle.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if revision < 0 {
				return fmt.Errorf("revision must be positive")
			}

			mgr, err := a.createStoreManager(cmd)
			if err != nil {
				return fmt.Errorf("failed to create store manager: %w", err)
			}

			b, _, err := mgr.LoadBundle(ctx, args[0], revision)
			if err != nil {
				return err
			}
			data, err := bundle.Marshal(b)
			if err != nil {
				return err
			}

			if outputFile == "" {
				_, err = a.stdout.Write(append(data, '\n'))
				return err
			}
			if err := os.WriteFile(outputFile, data, 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", outputFile, err)
			}
			fmt.Fprintf(a.stderr, "Exported %s to %s\n", args[0], outputFile)
			return nil
		},
	}

	cmd.Flags().IntVar(&revision, "revision", 0, "Revision to export (default current)")
	cmd.Flags().StringVarP(&outputFile, "file", "f", "", "Write to a file instead of stdout")

	return cmd
}
