package main

import (
	"fmt"
	"time"

	"github.com/MacJediWizard/accessgate/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the CLI configuration",
	}

	cmd.AddCommand(
		newConfigShowCmd(c),
		newConfigSetDatabaseCmd(c),
		newConfigSetTimezoneCmd(c),
		newConfigSetOwnerCmd(c),
	)

	return cmd
}

func newConfigShowCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config file:    %s\n", c.configPath)
			fmt.Fprintf(out, "Database URL:   %s\n", valueOrUnset(c.cfg.DatabaseURL))
			fmt.Fprintf(out, "Grant timezone: %s\n", valueOrUnset(c.cfg.GrantTimezone))
			fmt.Fprintf(out, "Default owner:  %s\n", valueOrUnset(c.cfg.DefaultOwner))
			return nil
		},
	}
}

func newConfigSetDatabaseCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "set-database <url>",
		Short: "Set the database URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := config.ParseDatabaseURL(args[0]); err != nil {
				return err
			}
			return c.update(cmd, func(saved *config.CLIConfig) {
				saved.DatabaseURL = args[0]
			})
		},
	}
}

func newConfigSetTimezoneCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "set-timezone <zone>",
		Short: "Set the timezone grant end dates are extended in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := time.LoadLocation(args[0]); err != nil {
				return fmt.Errorf("invalid timezone: %w", err)
			}
			return c.update(cmd, func(saved *config.CLIConfig) {
				saved.GrantTimezone = args[0]
			})
		},
	}
}

func newConfigSetOwnerCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "set-owner <user-id>",
		Short: "Set the default owner for issued grants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.update(cmd, func(saved *config.CLIConfig) {
				saved.DefaultOwner = args[0]
			})
		},
	}
}

// update applies fn to the saved config file, ignoring environment and flag
// overrides so they are not persisted.
func (c *cli) update(cmd *cobra.Command, fn func(*config.CLIConfig)) error {
	saved, err := config.LoadCLI(c.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	fn(saved)
	if saved.DatabaseURL != "" {
		if err := saved.Validate(); err != nil {
			return err
		}
	}
	if err := saved.Save(c.configPath); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", c.configPath)
	return nil
}

func valueOrUnset(v string) string {
	if v == "" {
		return "(not set)"
	}
	return v
}
