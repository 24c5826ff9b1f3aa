package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/davidthor/bundlefix/pkg/migration"
)

// Build information, set with -ldflags "-X".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func newVersionCmd(a *app) *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// Version needs no config or store.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			if short {
				fmt.Fprintln(a.stdout, Version)
				return nil
			}
			fmt.Fprintf(a.stdout, "bundlefix %s (commit %s, built %s, %s/%s)\n", Version, Commit, Date, runtime.GOOS, runtime.GOARCH)
			fmt.Fprintln(a.stdout, "Migrations:")
			for _, m := range migration.DefaultRegistry.All() {
				fmt.Fprintf(a.stdout, "  %s\n", m.Name)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&short, "short", false, "Print only the version number")

	return cmd
}
