package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/MacJediWizard/accessgate/internal/auth"
	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var (
		roles  []string
		ttl    time.Duration
		issuer string
	)

	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Mint a bearer token signed with JWT_SECRET",
		Long: `Mint an HS256 bearer token for the given subject. The signing secret is
read from JWT_SECRET so it never appears in shell history.`,
		Args: cobra.ExactArgs(1),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("JWT_SECRET")
			if secret == "" {
				return errors.New("JWT_SECRET is not set")
			}
			if issuer == "" {
				issuer = os.Getenv("JWT_ISSUER")
			}
			verifier, err := auth.NewTokenVerifier(secret, issuer)
			if err != nil {
				return err
			}
			token, err := verifier.Issue(args[0], roles, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&roles, "role", nil, "role to include (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	cmd.Flags().StringVar(&issuer, "issuer", "", "issuer claim (default JWT_ISSUER)")

	return cmd
}
