package main

import (
	"context"
	"fmt"
	"time"

	"github.com/MacJediWizard/accessgate/internal/config"
	"github.com/MacJediWizard/accessgate/internal/db"
	"github.com/MacJediWizard/accessgate/internal/db/sqlite"
	"github.com/spf13/cobra"
)

func newMigrateCmd(c *cli) *cobra.Command {
	var list, status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Bring the database schema up to date",
		Long: `Apply pending PostgreSQL migrations. SQLite databases create their schema
when opened, so migrate only opens them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if list {
				migrations, err := db.GetMigrations()
				if err != nil {
					return err
				}
				fmt.Fprintln(out, "Available migrations:")
				for _, m := range migrations {
					fmt.Fprintf(out, "  %03d: %s\n", m.Version, m.Name)
				}
				return nil
			}

			if err := c.cfg.Validate(); err != nil {
				return err
			}
			driver, dsn, err := config.ParseDatabaseURL(c.cfg.DatabaseURL)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			if driver == config.DriverSQLite {
				store, err := sqlite.Open(ctx, dsn, c.logger)
				if err != nil {
					return err
				}
				store.Close()
				fmt.Fprintf(out, "SQLite schema ready at %s\n", dsn)
				return nil
			}

			dbCfg := db.DefaultConfig(dsn)
			dbCfg.MaxConns = 2
			dbCfg.MinConns = 1
			database, err := db.New(ctx, dbCfg, c.logger)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer database.Close()

			if !status {
				if err := database.Migrate(ctx); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
			}
			version, err := database.CurrentVersion(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Current schema version: %d\n", version)
			return nil
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "list embedded migrations and exit")
	cmd.Flags().BoolVar(&status, "status", false, "show the current schema version without migrating")

	return cmd
}
