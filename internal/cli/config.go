package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/davidthor/bundlefix/internal/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration",
		Long:  `Get and set bundlefix CLI configuration values stored in ~/.bundlefix/config.yaml.`,
		// Config commands must work while the stored configuration is invalid.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			err := a.readConfig()
			var notFound viper.ConfigFileNotFoundError
			if errors.Is(err, fs.ErrNotExist) || errors.As(err, &notFound) {
				return nil
			}
			return err
		},
	}

	cmd.AddCommand(newConfigSetCmd(a))
	cmd.AddCommand(newConfigGetCmd(a))
	cmd.AddCommand(newConfigListCmd(a))

	return cmd
}

func configKeysHelp() string {
	var b strings.Builder
	b.WriteString("Available keys:\n")
	for _, kv := range config.SettableKeys() {
		fmt.Fprintf(&b, "  %-22s %s\n", strings.ReplaceAll(kv[0], "_", "-"), kv[1])
	}
	fmt.Fprintf(&b, "  %-22s %s\n", "backend-config.<name>", "Default backend configuration value")
	return b.String()
}

func newConfigSetCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long: `Set a configuration value in ~/.bundlefix/config.yaml.

` + configKeysHelp() + `
Examples:
  bundlefix config set backend s3
  bundlefix config set backend-config.bucket design-bundles
  bundlefix config set concurrency 8`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]

			if err := config.Set(a.v, key, value); err != nil {
				return err
			}
			if err := config.Write(a.v); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			fmt.Fprintf(a.stdout, "Set %s = %s\n", key, value)
			return nil
		},
	}

	return cmd
}

func newConfigGetCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			value := a.v.GetString(config.NormalizeKey(key))
			if value == "" {
				fmt.Fprintf(a.stdout, "%s is not set\n", key)
			} else {
				fmt.Fprintln(a.stdout, value)
			}
			return nil
		},
	}

	return cmd
}

func newConfigListCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all configuration values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := a.v.AllKeys()
			sort.Strings(keys)

			fmt.Fprintln(a.stdout, "Configuration:")
			if path := a.v.ConfigFileUsed(); path != "" {
				fmt.Fprintf(a.stdout, "  (from %s)\n", path)
			}
			for _, k := range keys {
				fmt.Fprintf(a.stdout, "  %s = %s\n", strings.ReplaceAll(k, "_", "-"), a.v.GetString(k))
			}
			return nil
		},
	}

	return cmd
}
