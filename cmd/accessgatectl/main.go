// Package main is the entrypoint for the accessgate operator CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/MacJediWizard/accessgate/internal/app"
	"github.com/MacJediWizard/accessgate/internal/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// cli carries settings resolved by the root command for its subcommands.
type cli struct {
	configPath  string
	databaseURL string
	verbose     bool
	cfg         *config.CLIConfig
	logger      zerolog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:   "accessgatectl",
		Short: "Operate accessgate grants from the command line",
		Long: `accessgatectl issues and inspects access grants directly against the
accessgate database.

The database is taken from --database-url, then DATABASE_URL, then the
config file (~/.accessgate/config.yml by default).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&c.configPath, "config", "", "config file path (default ~/.accessgate/config.yml)")
	rootCmd.PersistentFlags().StringVar(&c.databaseURL, "database-url", "", "database URL (postgres:// or sqlite://)")
	rootCmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log store activity to stderr")

	rootCmd.AddCommand(
		newVersionCmd(),
		newConfigCmd(c),
		newIssueCmd(c),
		newCheckCmd(c),
		newGrantCmd(c),
		newListCmd(c),
		newCompleteCmd(c),
		newExpireCmd(c),
		newMigrateCmd(c),
		newTokenCmd(),
	)

	return rootCmd
}

func (c *cli) load(cmd *cobra.Command) error {
	level := zerolog.WarnLevel
	if c.verbose {
		level = zerolog.DebugLevel
	}
	c.logger = zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.RFC3339}).
		Level(level).
		With().
		Timestamp().
		Logger()

	if c.configPath == "" {
		path, err := config.DefaultConfigPath()
		if err != nil {
			return err
		}
		c.configPath = path
	}

	cfg, err := config.LoadCLI(c.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.ApplyEnv()
	if c.databaseURL != "" {
		cfg.DatabaseURL = c.databaseURL
	}
	c.cfg = cfg
	return nil
}

// withServices opens the configured store, runs fn and closes the store.
func (c *cli) withServices(cmd *cobra.Command, fn func(ctx context.Context, svc *app.Services) error) error {
	if err := c.cfg.Validate(); err != nil {
		return fmt.Errorf("%w (set --database-url, DATABASE_URL or run 'accessgatectl config set-database')", err)
	}

	loc := time.UTC
	if c.cfg.GrantTimezone != "" {
		var err error
		if loc, err = time.LoadLocation(c.cfg.GrantTimezone); err != nil {
			return fmt.Errorf("load grant timezone: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	store, err := app.OpenStore(ctx, c.cfg.DatabaseURL, c.logger)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(ctx, app.NewServices(store, app.Options{Location: loc}, c.logger))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "accessgatectl %s\n", Version)
			fmt.Fprintf(out, "  Commit:     %s\n", Commit)
			fmt.Fprintf(out, "  Built:      %s\n", BuildDate)
			fmt.Fprintf(out, "  Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
