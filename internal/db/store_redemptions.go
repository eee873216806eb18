package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MacJediWizard/accessgate/internal/grants"
	"github.com/MacJediWizard/accessgate/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const redemptionColumns = `grant_id, user_id, state, started_at, completed_at`

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanRedemption(row rowScanner) (*models.Redemption, error) {
	var r models.Redemption
	var state string
	if err := row.Scan(&r.GrantID, &r.UserID, &state, &r.StartedAt, &r.CompletedAt); err != nil {
		return nil, err
	}
	r.State = models.RedemptionState(state)
	return &r, nil
}

func getRedemption(ctx context.Context, q querier, grantID uuid.UUID, userID string) (*models.Redemption, error) {
	r, err := scanRedemption(q.QueryRow(ctx, `
		SELECT `+redemptionColumns+`
		FROM grant_redemptions
		WHERE grant_id = $1 AND user_id = $2
	`, grantID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, grants.ErrRedemptionNotFound
		}
		return nil, fmt.Errorf("get redemption: %w", err)
	}
	return r, nil
}

// Redemption methods

// GetRedemption returns userID's redemption on the grant.
func (db *DB) GetRedemption(ctx context.Context, grantID uuid.UUID, userID string) (*models.Redemption, error) {
	return getRedemption(ctx, db.Pool, grantID, userID)
}

// ListRedemptions returns every redemption on the grant in start order.
func (db *DB) ListRedemptions(ctx context.Context, grantID uuid.UUID) ([]models.Redemption, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+redemptionColumns+`
		FROM grant_redemptions
		WHERE grant_id = $1
		ORDER BY started_at, user_id
	`, grantID)
	if err != nil {
		return nil, fmt.Errorf("list redemptions: %w", err)
	}
	defer rows.Close()

	var out []models.Redemption
	for rows.Next() {
		r, err := scanRedemption(rows)
		if err != nil {
			return nil, fmt.Errorf("scan redemption: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate redemptions: %w", err)
	}
	return out, nil
}

// LatestRedemptionForUser returns the redemption the user started most
// recently on any grant.
func (db *DB) LatestRedemptionForUser(ctx context.Context, userID string) (*models.Redemption, error) {
	r, err := scanRedemption(db.Pool.QueryRow(ctx, `
		SELECT `+redemptionColumns+`
		FROM grant_redemptions
		WHERE user_id = $1
		ORDER BY started_at DESC
		LIMIT 1
	`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, grants.ErrRedemptionNotFound
		}
		return nil, fmt.Errorf("get latest redemption: %w", err)
	}
	return r, nil
}

// StartRedemption inserts a started entry for userID and claims a seat in
// the same transaction. The claim is a conditional update on
// claimed_seats < max_seats; when it matches nothing the insert is rolled
// back and grants.ErrSeatsFull is returned. An existing entry is returned
// with resumed=true and nothing changes.
func (db *DB) StartRedemption(ctx context.Context, grantID uuid.UUID, userID string, at time.Time) (*models.Redemption, bool, error) {
	var red *models.Redemption
	var resumed bool

	err := db.ExecTx(ctx, func(tx pgx.Tx) error {
		inserted, err := scanRedemption(tx.QueryRow(ctx, `
			INSERT INTO grant_redemptions (grant_id, user_id, state, started_at)
			VALUES ($1, $2, 'started', $3)
			ON CONFLICT (grant_id, user_id) DO NOTHING
			RETURNING `+redemptionColumns,
			grantID, userID, at,
		))
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			resumed = true
			red, err = getRedemption(ctx, tx, grantID, userID)
			return err
		case pgErrorCode(err) == codeForeignKeyViolation:
			return grants.ErrGrantNotFound
		case err != nil:
			return fmt.Errorf("insert redemption: %w", err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE access_grants
			SET claimed_seats = claimed_seats + 1, updated_at = $2
			WHERE id = $1 AND claimed_seats < max_seats
		`, grantID, at)
		if err != nil {
			return fmt.Errorf("claim seat: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return grants.ErrSeatsFull
		}
		red = inserted
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return red, resumed, nil
}

// CompleteRedemption consumes userID's seat in a single statement: the
// redemption moves from started to seat_consumed and used_seats increments
// only when that row matched. Concurrent callers for the same user serialize
// on the redemption row, so at most one of them sees Consumed=true.
func (db *DB) CompleteRedemption(ctx context.Context, grantID uuid.UUID, userID string, at time.Time) (*grants.SeatUpdate, error) {
	var used int
	var status string
	err := db.Pool.QueryRow(ctx, `
		WITH consumed AS (
			UPDATE grant_redemptions
			SET state = 'seat_consumed', completed_at = $3
			WHERE grant_id = $1 AND user_id = $2 AND state = 'started'
			RETURNING grant_id
		)
		UPDATE access_grants g
		SET used_seats = g.used_seats + 1,
			status = CASE
				WHEN g.status = 'active' AND g.used_seats + 1 >= g.max_seats THEN 'completed'
				ELSE g.status
			END,
			updated_at = $3
		FROM consumed
		WHERE g.id = consumed.grant_id
		RETURNING g.used_seats, g.status
	`, grantID, userID, at).Scan(&used, &status)
	if err == nil {
		return &grants.SeatUpdate{Consumed: true, UsedSeats: used, Status: models.GrantStatus(status)}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("consume seat: %w", err)
	}

	err = db.Pool.QueryRow(ctx,
		"SELECT used_seats, status FROM access_grants WHERE id = $1", grantID,
	).Scan(&used, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, grants.ErrGrantNotFound
		}
		return nil, fmt.Errorf("read seat counters: %w", err)
	}
	return &grants.SeatUpdate{UsedSeats: used, Status: models.GrantStatus(status)}, nil
}
