package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MacJediWizard/accessgate/internal/grants"
	"github.com/MacJediWizard/accessgate/internal/models"
	"github.com/google/uuid"
)

const grantColumns = `id, kind, code, owner_user_id, organization_id, audience,
	max_seats, used_seats, claimed_seats, status, start_date, end_date,
	promo_tag, payment_ref, package_ref, created_at, updated_at`

func scanGrant(row rowScanner) (*models.AccessGrant, error) {
	var g models.AccessGrant
	var kind, audience, status, start, end, created, updated string
	var orgID, promoTag, paymentRef, packageRef sql.NullString

	err := row.Scan(
		&g.ID, &kind, &g.Code, &g.OwnerUserID, &orgID, &audience,
		&g.MaxSeats, &g.UsedSeats, &g.ClaimedSeats, &status, &start, &end,
		&promoTag, &paymentRef, &packageRef, &created, &updated,
	)
	if err != nil {
		return nil, err
	}

	g.Kind = models.GrantKind(kind)
	g.Audience = models.Audience(audience)
	g.Status = models.GrantStatus(status)
	if orgID.Valid {
		g.OrganizationID = &orgID.String
	}
	g.Details = models.KindDetails{
		PromoTag:   promoTag.String,
		PaymentRef: paymentRef.String,
		PackageRef: packageRef.String,
	}

	for _, f := range []struct {
		dst *time.Time
		src string
	}{{&g.StartDate, start}, {&g.EndDate, end}, {&g.CreatedAt, created}, {&g.UpdatedAt, updated}} {
		if *f.dst, err = parseTime(f.src); err != nil {
			return nil, err
		}
	}
	return &g, nil
}

func grantArgs(g *models.AccessGrant) []any {
	var orgID sql.NullString
	if g.OrganizationID != nil {
		orgID = sql.NullString{String: *g.OrganizationID, Valid: true}
	}
	return []any{
		g.ID, string(g.Kind), g.Code, g.OwnerUserID, orgID, string(g.Audience),
		g.MaxSeats, g.UsedSeats, g.ClaimedSeats, string(g.Status), formatTime(g.StartDate), formatTime(g.EndDate),
		nullString(g.Details.PromoTag), nullString(g.Details.PaymentRef), nullString(g.Details.PackageRef),
		formatTime(g.CreatedAt), formatTime(g.UpdatedAt),
	}
}

const insertGrant = `INSERT INTO access_grants (` + grantColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func mapGrantInsertError(err error) error {
	switch {
	case uniqueViolation(err, "access_grants.code"):
		return grants.ErrCodeTaken
	case uniqueViolation(err, "access_grants.payment_ref"):
		return fmt.Errorf("payment reference already has a grant: %w", grants.ErrInvalidRequest)
	}
	return fmt.Errorf("create access grant: %w", err)
}

// CreateGrant inserts a new access grant.
func (s *Store) CreateGrant(ctx context.Context, g *models.AccessGrant) error {
	if _, err := s.db.ExecContext(ctx, insertGrant, grantArgs(g)...); err != nil {
		return mapGrantInsertError(err)
	}
	return nil
}

// CreatePurchaseGrant inserts g unless its payment ref already has a grant.
func (s *Store) CreatePurchaseGrant(ctx context.Context, g *models.AccessGrant) (*models.AccessGrant, bool, error) {
	res, err := s.db.ExecContext(ctx, insertGrant+` ON CONFLICT (payment_ref) DO NOTHING`, grantArgs(g)...)
	if err != nil {
		return nil, false, mapGrantInsertError(err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return g, true, nil
	}
	existing, err := s.GetGrantByPaymentRef(ctx, g.Details.PaymentRef)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *Store) getGrant(ctx context.Context, where string, arg any) (*models.AccessGrant, error) {
	g, err := scanGrant(s.db.QueryRowContext(ctx,
		"SELECT "+grantColumns+" FROM access_grants WHERE "+where+" = ?", arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, grants.ErrGrantNotFound
		}
		return nil, fmt.Errorf("get access grant: %w", err)
	}
	return g, nil
}

// GetGrantByID returns the access grant with the given ID.
func (s *Store) GetGrantByID(ctx context.Context, id uuid.UUID) (*models.AccessGrant, error) {
	return s.getGrant(ctx, "id", id)
}

// GetGrantByCode returns the access grant with the given code.
func (s *Store) GetGrantByCode(ctx context.Context, code string) (*models.AccessGrant, error) {
	return s.getGrant(ctx, "code", code)
}

// GetGrantByPaymentRef returns the purchase grant for a payment.
func (s *Store) GetGrantByPaymentRef(ctx context.Context, paymentRef string) (*models.AccessGrant, error) {
	return s.getGrant(ctx, "payment_ref", paymentRef)
}

// CodeExists reports whether code is assigned to any grant.
func (s *Store) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM access_grants WHERE code = ?)", code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check code exists: %w", err)
	}
	return exists, nil
}

// ListGrants returns grants matching filter, newest first.
func (s *Store) ListGrants(ctx context.Context, filter grants.GrantFilter) ([]*models.AccessGrant, error) {
	var conds []string
	var args []any
	if filter.OwnerUserID != "" {
		conds, args = append(conds, "owner_user_id = ?"), append(args, filter.OwnerUserID)
	}
	if filter.OrganizationID != "" {
		conds, args = append(conds, "organization_id = ?"), append(args, filter.OrganizationID)
	}
	if filter.Kind != "" {
		conds, args = append(conds, "kind = ?"), append(args, string(filter.Kind))
	}
	if filter.Status != "" {
		conds, args = append(conds, "status = ?"), append(args, string(filter.Status))
	}

	query := "SELECT " + grantColumns + " FROM access_grants"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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

// MarkGrantExpired flips an active grant to expired.
func (s *Store) MarkGrantExpired(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE access_grants SET status = 'expired', updated_at = ? WHERE id = ? AND status = 'active'",
		formatTime(at), id)
	if err != nil {
		return false, fmt.Errorf("mark grant expired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark grant expired: %w", err)
	}
	return n == 1, nil
}

// ExpireDueGrants flips every active grant whose end date is before now.
func (s *Store) ExpireDueGrants(ctx context.Context, now time.Time) (int, error) {
	ts := formatTime(now)
	res, err := s.db.ExecContext(ctx,
		"UPDATE access_grants SET status = 'expired', updated_at = ? WHERE status = 'active' AND end_date < ?",
		ts, ts)
	if err != nil {
		return 0, fmt.Errorf("expire due grants: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire due grants: %w", err)
	}
	return int(n), nil
}
