package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/davidthor/bundlefix/pkg/bundle"
	"github.com/davidthor/bundlefix/pkg/errors"
	"github.com/davidthor/bundlefix/pkg/store"
)

func newImportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <project> <file>",
		Short: "Store a bundle file as a new project revision",
		Long: `Validate a bundle file and store it as the next revision of a project.
The project is created when it does not exist. Use "-" to read from stdin.

Examples:
  bundlefix import my-project ./site.bundle.json
  cat site.bundle.json | bundlefix import my-project -`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			projectID, file := args[0], args[1]

			data, err := readInput(a.stdin, file)
			if err != nil {
				return err
			}
			b, err := bundle.Parse(data)
			if err != nil {
				return err
			}
			if _, _, err := bundle.Decode(b, projectID); err != nil {
				return fmt.Errorf("invalid bundle %s: %w", file, err)
			}

			mgr, err := a.createStoreManager(cmd)
			if err != nil {
				return fmt.Errorf("failed to create store manager: %w", err)
			}

			state, err := importBundle(ctx, mgr, projectID, b, a.cfg.Who)
			if err != nil {
				return err
			}

			a.log.WithFields(map[string]interface{}{
				"project_id": projectID,
				"revision":   state.Revision,
			}).Info("bundle imported")
			fmt.Fprintf(a.stdout, "Imported %s as revision %d\n", projectID, state.Revision)
			return nil
		},
	}

	return cmd
}

func importBundle(ctx context.Context, mgr store.Manager, projectID string, b *bundle.Bundle, who string) (*store.ProjectState, error) {
	lock, err := mgr.Lock(ctx, store.LockScope{Project: projectID, Operation: "import", Who: who})
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Unlock(context.WithoutCancel(ctx)) }()

	base := 0
	current, err := mgr.GetProject(ctx, projectID)
	switch {
	case err == nil:
		base = current.Revision
	case errors.Is(err, errors.ErrCodeNotFound):
	default:
		return nil, err
	}
	return mgr.SaveRevision(ctx, projectID, b, base)
}

func readInput(stdin io.Reader, file string) ([]byte, error) {
	if file == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file, err)
	}
	return data, nil
}
