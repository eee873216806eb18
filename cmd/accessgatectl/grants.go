package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/MacJediWizard/accessgate/internal/app"
	"github.com/MacJediWizard/accessgate/internal/grants"
	"github.com/MacJediWizard/accessgate/internal/models"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newIssueCmd(c *cli) *cobra.Command {
	var (
		req  grants.IssueRequest
		kind string
		aud  string
		org  string
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a new access grant",
		Example: `  accessgatectl issue --kind trial --owner user-1 --audience B2B --seats 10
  accessgatectl issue --kind demo --audience B2C --seats 1 --promo spring --days 7`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Kind = models.GrantKind(kind)
			req.Audience = models.Audience(aud)
			if org != "" {
				req.OrganizationID = &org
			}
			if req.OwnerUserID == "" {
				req.OwnerUserID = c.cfg.DefaultOwner
			}
			if req.OwnerUserID == "" {
				return errors.New("--owner is required (or run 'accessgatectl config set-owner')")
			}

			return c.withServices(cmd, func(ctx context.Context, svc *app.Services) error {
				g, err := svc.Issuer.Issue(ctx, req)
				if err != nil {
					return err
				}
				printGrant(cmd.OutOrStdout(), g)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "grant kind: trial, demo or purchase (required)")
	cmd.Flags().StringVar(&req.OwnerUserID, "owner", "", "owner user ID")
	cmd.Flags().StringVar(&aud, "audience", "", "audience: B2C, B2B or B2E (required)")
	cmd.Flags().IntVar(&req.MaxSeats, "seats", 1, "number of seats")
	cmd.Flags().StringVar(&org, "org", "", "organization ID")
	cmd.Flags().IntVar(&req.ValidityDays, "days", 0, "validity in days (default depends on kind)")
	cmd.Flags().StringVar(&req.PromoTag, "promo", "", "promo tag (demo grants)")
	cmd.Flags().StringVar(&req.PaymentRef, "payment-ref", "", "payment reference (purchase grants)")
	cmd.Flags().StringVar(&req.PackageRef, "package-ref", "", "package reference (purchase grants)")
	cmd.Flags().StringVar(&req.Code, "code", "", "explicit code in DDDD-LLLD-LDDD form (generated when empty)")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("audience")

	return cmd
}

func newCheckCmd(c *cli) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "check <code>",
		Short: "Check whether a code can be redeemed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withServices(cmd, func(ctx context.Context, svc *app.Services) error {
				res, err := svc.Validator.Check(ctx, args[0], userID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Valid:      %v\n", res.Valid)
				fmt.Fprintf(out, "Grant:      %s (%s, %s)\n", res.GrantID, res.Kind, res.Audience)
				fmt.Fprintf(out, "Seats:      %d used, %d claimed, %d max\n", res.UsedSeats, res.ClaimedSeats, res.MaxSeats)
				fmt.Fprintf(out, "Expired:    %v\n", res.IsExpired)
				fmt.Fprintf(out, "Seats full: %v\n", res.SeatsFull)
				if userID != "" {
					fmt.Fprintf(out, "User state: %s\n", res.State)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "report this user's redemption state")

	return cmd
}

func newGrantCmd(c *cli) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "grant <id>",
		Short: "Show a grant with its redemptions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid grant ID: %w", err)
			}
			return c.withServices(cmd, func(ctx context.Context, svc *app.Services) error {
				g, err := svc.Store.GetGrantByID(ctx, id)
				if err != nil {
					return err
				}
				if g.Redemptions, err = svc.Store.ListRedemptions(ctx, id); err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(g)
				}
				printGrant(out, g)
				if len(g.Redemptions) == 0 {
					return nil
				}
				fmt.Fprintln(out)
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "USER\tSTATE\tSTARTED\tCOMPLETED")
				for _, r := range g.Redemptions {
					completed := "-"
					if r.CompletedAt != nil {
						completed = r.CompletedAt.Format("2006-01-02 15:04")
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.UserID, r.State, r.StartedAt.Format("2006-01-02 15:04"), completed)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")

	return cmd
}

func newListCmd(c *cli) *cobra.Command {
	var (
		filter grants.GrantFilter
		kind   string
		status string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List grants",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.Kind = models.GrantKind(kind)
			filter.Status = models.GrantStatus(status)
			return c.withServices(cmd, func(ctx context.Context, svc *app.Services) error {
				list, err := svc.Store.ListGrants(ctx, filter)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tCODE\tKIND\tAUDIENCE\tSEATS\tSTATUS\tEND")
				for _, g := range list {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
						g.ID, g.Code, g.Kind, g.Audience, g.UsedSeats, g.MaxSeats, g.Status, g.EndDate.Format("2006-01-02"))
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&filter.OwnerUserID, "owner", "", "filter by owner user ID")
	cmd.Flags().StringVar(&filter.OrganizationID, "org", "", "filter by organization ID")
	cmd.Flags().StringVar(&kind, "kind", "", "filter by kind")
	cmd.Flags().StringVar(&status, "status", "", "filter by status: active, completed or expired")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "maximum number of grants")

	return cmd
}

func newCompleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "complete <grant-id> <user-id>",
		Short: "Consume a started user's seat without a submission",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid grant ID: %w", err)
			}
			return c.withServices(cmd, func(ctx context.Context, svc *app.Services) error {
				outcome, err := svc.Allocator.ForceComplete(ctx, id, args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Seat consumed: %d used, grant %s\n", outcome.UsedSeats, outcome.Status)
				return nil
			})
		},
	}
}

func newExpireCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Expire every active grant past its end date",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withServices(cmd, func(ctx context.Context, svc *app.Services) error {
				n, err := svc.Expiry.RunNow(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Expired %d grant(s)\n", n)
				return nil
			})
		},
	}
}

func printGrant(out io.Writer, g *models.AccessGrant) {
	fmt.Fprintf(out, "ID:       %s\n", g.ID)
	fmt.Fprintf(out, "Code:     %s\n", g.Code)
	fmt.Fprintf(out, "Kind:     %s\n", g.Kind)
	fmt.Fprintf(out, "Audience: %s\n", g.Audience)
	fmt.Fprintf(out, "Owner:    %s\n", g.OwnerUserID)
	if g.OrganizationID != nil {
		fmt.Fprintf(out, "Org:      %s\n", *g.OrganizationID)
	}
	fmt.Fprintf(out, "Seats:    %d used, %d claimed, %d max\n", g.UsedSeats, g.ClaimedSeats, g.MaxSeats)
	fmt.Fprintf(out, "Status:   %s\n", g.Status)
	fmt.Fprintf(out, "Valid:    %s to %s\n", g.StartDate.Format("2006-01-02"), g.EndDate.Format("2006-01-02"))
	if g.Details.PromoTag != "" {
		fmt.Fprintf(out, "Promo:    %s\n", g.Details.PromoTag)
	}
	if g.Details.PaymentRef != "" {
		fmt.Fprintf(out, "Payment:  %s (%s)\n", g.Details.PaymentRef, g.Details.PackageRef)
	}
}
