// Package cli implements the bundlefix CLI commands.
package cli

import (
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/davidthor/bundlefix/internal/config"
	"github.com/davidthor/bundlefix/pkg/logging"

	// Import store backends to register them via init()
	_ "github.com/davidthor/bundlefix/pkg/store/backend/azurerm"
	_ "github.com/davidthor/bundlefix/pkg/store/backend/gcs"
	_ "github.com/davidthor/bundlefix/pkg/store/backend/local"
	_ "github.com/davidthor/bundlefix/pkg/store/backend/minio"
	_ "github.com/davidthor/bundlefix/pkg/store/backend/s3"
	_ "github.com/davidthor/bundlefix/pkg/store/backend/sqlite"
)

// app is the state shared by one command tree.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	log     *logging.Logger

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd(os.Stdin, os.Stdout, os.Stderr).Execute()
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	a := &app{v: viper.New(), stdin: stdin, stdout: stdout, stderr: stderr}

	cmd := &cobra.Command{
		Use:   "bundlefix",
		Short: "Repair duplicate variant settings in design bundles",
		Long: `bundlefix applies idempotent migrations to stored design bundles.

Its main migration merges variant settings that target the same variant
combination and removes duplicate variants, keeping every reference valid.
Each project is migrated under a lock and a new revision is written only
when something changed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	// Global flags
	flags := cmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is $HOME/.bundlefix/config.yaml)")
	flags.String("backend", "", "Store backend type (local, s3, gcs, azurerm, minio, sqlite)")
	flags.StringArray("backend-config", nil, "Backend configuration (key=value)")
	flags.String("log-level", "", "Log level (trace, debug, info, warn, error)")
	flags.String("log-format", "", "Log format (auto, json, console)")

	// Bind to viper
	_ = a.v.BindPFlag(config.KeyBackend, flags.Lookup("backend"))
	_ = a.v.BindPFlag(config.KeyLogLevel, flags.Lookup("log-level"))
	_ = a.v.BindPFlag(config.KeyLogFormat, flags.Lookup("log-format"))
	a.v.SetEnvPrefix(config.EnvPrefix)
	a.v.AutomaticEnv()
	config.SetDefaults(a.v)

	// Add subcommands
	cmd.AddCommand(newMigrateCmd(a))
	cmd.AddCommand(newCheckCmd(a))
	cmd.AddCommand(newImportCmd(a))
	cmd.AddCommand(newExportCmd(a))
	cmd.AddCommand(newListCmd(a))
	cmd.AddCommand(newConfigCmd(a))
	cmd.AddCommand(newVersionCmd(a))

	return cmd
}

// load reads the config file, validates the effective configuration and
// builds the logger.
func (a *app) load() error {
	if err := a.readConfig(); err != nil {
		return err
	}

	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	log, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Writer: a.stderr,
	})
	if err != nil {
		return err
	}
	a.log = log
	return nil
}

// readConfig loads the config file into viper. A missing default file is not
// an error; a missing --config file is.
func (a *app) readConfig() error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		// Search for config in home directory
		a.v.AddConfigPath(filepath.Join(home, config.DirName))
		a.v.SetConfigName("config")
		a.v.SetConfigType("yaml")
	}

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if a.cfgFile != "" || !errors.As(err, &notFound) {
			return err
		}
	}
	return nil
}
