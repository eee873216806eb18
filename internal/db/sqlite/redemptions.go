package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MacJediWizard/accessgate/internal/grants"
	"github.com/MacJediWizard/accessgate/internal/models"
	"github.com/google/uuid"
)

const redemptionColumns = `grant_id, user_id, state, started_at, completed_at`

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanRedemption(row rowScanner) (*models.Redemption, error) {
	var r models.Redemption
	var state, started string
	var completed sql.NullString
	if err := row.Scan(&r.GrantID, &r.UserID, &state, &started, &completed); err != nil {
		return nil, err
	}
	r.State = models.RedemptionState(state)

	var err error
	if r.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if r.CompletedAt, err = parseNullTime(completed); err != nil {
		return nil, err
	}
	return &r, nil
}

func getRedemption(ctx context.Context, q queryRower, grantID uuid.UUID, userID string) (*models.Redemption, error) {
	r, err := scanRedemption(q.QueryRowContext(ctx,
		"SELECT "+redemptionColumns+" FROM grant_redemptions WHERE grant_id = ? AND user_id = ?",
		grantID, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, grants.ErrRedemptionNotFound
		}
		return nil, fmt.Errorf("get redemption: %w", err)
	}
	return r, nil
}

// GetRedemption returns userID's redemption on the grant.
func (s *Store) GetRedemption(ctx context.Context, grantID uuid.UUID, userID string) (*models.Redemption, error) {
	return getRedemption(ctx, s.db, grantID, userID)
}

// ListRedemptions returns every redemption on the grant in start order.
func (s *Store) ListRedemptions(ctx context.Context, grantID uuid.UUID) ([]models.Redemption, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+redemptionColumns+" FROM grant_redemptions WHERE grant_id = ? ORDER BY started_at, user_id",
		grantID)
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

// LatestRedemptionForUser returns the user's most recently started redemption.
func (s *Store) LatestRedemptionForUser(ctx context.Context, userID string) (*models.Redemption, error) {
	r, err := scanRedemption(s.db.QueryRowContext(ctx,
		"SELECT "+redemptionColumns+" FROM grant_redemptions WHERE user_id = ? ORDER BY started_at DESC LIMIT 1",
		userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, grants.ErrRedemptionNotFound
		}
		return nil, fmt.Errorf("get latest redemption: %w", err)
	}
	return r, nil
}

// StartRedemption inserts a started entry and claims a seat in one
// transaction, or returns the existing entry with resumed=true.
func (s *Store) StartRedemption(ctx context.Context, grantID uuid.UUID, userID string, at time.Time) (*models.Redemption, bool, error) {
	var red *models.Redemption
	var resumed bool

	err := s.execTx(ctx, func(tx *sql.Tx) error {
		existing, err := getRedemption(ctx, tx, grantID, userID)
		switch {
		case err == nil:
			red, resumed = existing, true
			return nil
		case !errors.Is(err, grants.ErrRedemptionNotFound):
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE access_grants
			SET claimed_seats = claimed_seats + 1, updated_at = ?
			WHERE id = ? AND claimed_seats < max_seats
		`, formatTime(at), grantID)
		if err != nil {
			return fmt.Errorf("claim seat: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx,
				"SELECT EXISTS(SELECT 1 FROM access_grants WHERE id = ?)", grantID,
			).Scan(&exists); err != nil {
				return fmt.Errorf("check grant exists: %w", err)
			}
			if !exists {
				return grants.ErrGrantNotFound
			}
			return grants.ErrSeatsFull
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO grant_redemptions (grant_id, user_id, state, started_at) VALUES (?, ?, 'started', ?)",
			grantID, userID, formatTime(at),
		); err != nil {
			return fmt.Errorf("insert redemption: %w", err)
		}

		red = &models.Redemption{
			GrantID:   grantID,
			UserID:    userID,
			State:     models.RedemptionStarted,
			StartedAt: at.UTC(),
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return red, resumed, nil
}

// CompleteRedemption moves the user's redemption from started to
// seat_consumed and increments used_seats, only if the first update matched.
func (s *Store) CompleteRedemption(ctx context.Context, grantID uuid.UUID, userID string, at time.Time) (*grants.SeatUpdate, error) {
	var update grants.SeatUpdate

	err := s.execTx(ctx, func(tx *sql.Tx) error {
		ts := formatTime(at)
		res, err := tx.ExecContext(ctx, `
			UPDATE grant_redemptions
			SET state = 'seat_consumed', completed_at = ?
			WHERE grant_id = ? AND user_id = ? AND state = 'started'
		`, ts, grantID, userID)
		if err != nil {
			return fmt.Errorf("consume redemption: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("consume redemption: %w", err)
		}

		var status string
		if n == 1 {
			err = tx.QueryRowContext(ctx, `
				UPDATE access_grants
				SET used_seats = used_seats + 1,
					status = CASE
						WHEN status = 'active' AND used_seats + 1 >= max_seats THEN 'completed'
						ELSE status
					END,
					updated_at = ?
				WHERE id = ?
				RETURNING used_seats, status
			`, ts, grantID).Scan(&update.UsedSeats, &status)
			if err != nil {
				return fmt.Errorf("increment used seats: %w", err)
			}
			update.Consumed = true
			update.Status = models.GrantStatus(status)
			return nil
		}

		err = tx.QueryRowContext(ctx,
			"SELECT used_seats, status FROM access_grants WHERE id = ?", grantID,
		).Scan(&update.UsedSeats, &status)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return grants.ErrGrantNotFound
			}
			return fmt.Errorf("read seat counters: %w", err)
		}
		update.Status = models.GrantStatus(status)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &update, nil
}
