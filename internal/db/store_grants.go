package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MacJediWizard/accessgate/internal/grants"
	"github.com/MacJediWizard/accessgate/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const grantColumns = `id, kind, code, owner_user_id, organization_id, audience,
	max_seats, used_seats, claimed_seats, status, start_date, end_date,
	promo_tag, payment_ref, package_ref, created_at, updated_at`

func scanGrant(row rowScanner) (*models.AccessGrant, error) {
	var g models.AccessGrant
	var kind, audience, status string
	var promoTag, paymentRef, packageRef *string

	err := row.Scan(
		&g.ID, &kind, &g.Code, &g.OwnerUserID, &g.OrganizationID, &audience,
		&g.MaxSeats, &g.UsedSeats, &g.ClaimedSeats, &status, &g.StartDate, &g.EndDate,
		&promoTag, &paymentRef, &packageRef, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	g.Kind = models.GrantKind(kind)
	g.Audience = models.Audience(audience)
	g.Status = models.GrantStatus(status)
	g.Details = models.KindDetails{
		PromoTag:   deref(promoTag),
		PaymentRef: deref(paymentRef),
		PackageRef: deref(packageRef),
	}
	return &g, nil
}

// Access grant methods

// CreateGrant inserts a new access grant. A duplicate code returns
// grants.ErrCodeTaken.
func (db *DB) CreateGrant(ctx context.Context, g *models.AccessGrant) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO access_grants (`+grantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, grantArgs(g)...)
	if err != nil {
		return mapGrantInsertError(err)
	}
	return nil
}

// CreatePurchaseGrant inserts g unless a grant with its payment ref already
// exists, in which case the existing grant is returned with created=false.
func (db *DB) CreatePurchaseGrant(ctx context.Context, g *models.AccessGrant) (*models.AccessGrant, bool, error) {
	var id uuid.UUID
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO access_grants (`+grantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (payment_ref) DO NOTHING
		RETURNING id
	`, grantArgs(g)...).Scan(&id)
	switch {
	case err == nil:
		db.logger.Info().
			Str("grant_id", g.ID.String()).
			Str("payment_ref", g.Details.PaymentRef).
			Msg("created purchase grant")
		return g, true, nil
	case errors.Is(err, pgx.ErrNoRows):
		existing, err := db.GetGrantByPaymentRef(ctx, g.Details.PaymentRef)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	default:
		return nil, false, mapGrantInsertError(err)
	}
}

func grantArgs(g *models.AccessGrant) []any {
	return []any{
		g.ID, string(g.Kind), g.Code, g.OwnerUserID, g.OrganizationID, string(g.Audience),
		g.MaxSeats, g.UsedSeats, g.ClaimedSeats, string(g.Status), g.StartDate, g.EndDate,
		nullIfEmpty(g.Details.PromoTag), nullIfEmpty(g.Details.PaymentRef), nullIfEmpty(g.Details.PackageRef),
		g.CreatedAt, g.UpdatedAt,
	}
}

func mapGrantInsertError(err error) error {
	switch {
	case uniqueViolation(err, "access_grants_code_key"):
		return grants.ErrCodeTaken
	case uniqueViolation(err, "access_grants_payment_ref_key"):
		return fmt.Errorf("payment reference already has a grant: %w", grants.ErrInvalidRequest)
	}
	return fmt.Errorf("create access grant: %w", err)
}

// GetGrantByID returns the access grant with the given ID.
func (db *DB) GetGrantByID(ctx context.Context, id uuid.UUID) (*models.AccessGrant, error) {
	g, err := scanGrant(db.Pool.QueryRow(ctx, `
		SELECT `+grantColumns+`
		FROM access_grants
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, grants.ErrGrantNotFound
		}
		return nil, fmt.Errorf("get access grant: %w", err)
	}
	return g, nil
}

// GetGrantByCode returns the access grant with the given code.
func (db *DB) GetGrantByCode(ctx context.Context, code string) (*models.AccessGrant, error) {
	g, err := scanGrant(db.Pool.QueryRow(ctx, `
		SELECT `+grantColumns+`
		FROM access_grants
		WHERE code = $1
	`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, grants.ErrGrantNotFound
		}
		return nil, fmt.Errorf("get access grant by code: %w", err)
	}
	return g, nil
}

// GetGrantByPaymentRef returns the purchase grant created for a payment.
func (db *DB) GetGrantByPaymentRef(ctx context.Context, paymentRef string) (*models.AccessGrant, error) {
	g, err := scanGrant(db.Pool.QueryRow(ctx, `
		SELECT `+grantColumns+`
		FROM access_grants
		WHERE payment_ref = $1
	`, paymentRef))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, grants.ErrGrantNotFound
		}
		return nil, fmt.Errorf("get access grant by payment ref: %w", err)
	}
	return g, nil
}

// CodeExists reports whether code is assigned to any grant.
func (db *DB) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM access_grants WHERE code = $1)", code,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check code exists: %w", err)
	}
	return exists, nil
}

// ListGrants returns grants matching filter, newest first.
func (db *DB) ListGrants(ctx context.Context, filter grants.GrantFilter) ([]*models.AccessGrant, error) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.OwnerUserID != "" {
		add("owner_user_id = $%d", filter.OwnerUserID)
	}
	if filter.OrganizationID != "" {
		add("organization_id = $%d", filter.OrganizationID)
	}
	if filter.Kind != "" {
		add("kind = $%d", string(filter.Kind))
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}

	query := "SELECT " + grantColumns + " FROM access_grants"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list access grants: %w", err)
	}
	defer rows.Close()

	var out []*models.AccessGrant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan access grant: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate access grants: %w", err)
	}
	return out, nil
}

// MarkGrantExpired flips an active grant to expired and reports whether this
// call did it.
func (db *DB) MarkGrantExpired(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE access_grants
		SET status = 'expired', updated_at = $2
		WHERE id = $1 AND status = 'active'
	`, id, at)
	if err != nil {
		return false, fmt.Errorf("mark grant expired: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ExpireDueGrants flips every active grant whose end date is before now to
// expired and returns how many changed. End dates are stored already extended
// to end-of-day.
func (db *DB) ExpireDueGrants(ctx context.Context, now time.Time) (int, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE access_grants
		SET status = 'expired', updated_at = $1
		WHERE status = 'active' AND end_date < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("expire due grants: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
