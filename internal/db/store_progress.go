package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MacJediWizard/accessgate/internal/models"
	"github.com/MacJediWizard/accessgate/internal/progress"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const progressColumns = `id, user_id, level_number, grant_id, cards, total_score, max_score,
	correct_answers, total_questions, percentage_score, risk_level, completed_at,
	created_at, updated_at`

func scanProgress(row rowScanner) (*models.ProgressRecord, error) {
	var p models.ProgressRecord
	var grantID *uuid.UUID
	var cardsJSON []byte
	var risk string

	err := row.Scan(
		&p.ID, &p.UserID, &p.LevelNumber, &grantID, &cardsJSON, &p.TotalScore, &p.MaxScore,
		&p.CorrectAnswers, &p.TotalQuestions, &p.PercentageScore, &risk, &p.CompletedAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if grantID != nil {
		p.GrantID = *grantID
	}
	p.RiskLevel = models.RiskLevel(risk)
	if err := json.Unmarshal(cardsJSON, &p.Cards); err != nil {
		return nil, fmt.Errorf("unmarshal cards: %w", err)
	}
	if p.Cards == nil {
		p.Cards = []models.CardScore{}
	}
	return &p, nil
}

// Progress methods

// UpsertProgress inserts rec or overwrites the existing record for
// (user_id, level_number) in one statement. rec.ID and rec.CreatedAt are set
// to the stored values.
func (db *DB) UpsertProgress(ctx context.Context, rec *models.ProgressRecord) (bool, error) {
	cardsJSON, err := json.Marshal(rec.Cards)
	if err != nil {
		return false, fmt.Errorf("marshal cards: %w", err)
	}

	var grantID *uuid.UUID
	if rec.GrantID != uuid.Nil {
		grantID = &rec.GrantID
	}

	var inserted bool
	err = db.Pool.QueryRow(ctx, `
		INSERT INTO progress_records (`+progressColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (user_id, level_number) DO UPDATE SET
			grant_id = EXCLUDED.grant_id,
			cards = EXCLUDED.cards,
			total_score = EXCLUDED.total_score,
			max_score = EXCLUDED.max_score,
			correct_answers = EXCLUDED.correct_answers,
			total_questions = EXCLUDED.total_questions,
			percentage_score = EXCLUDED.percentage_score,
			risk_level = EXCLUDED.risk_level,
			completed_at = EXCLUDED.completed_at,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, (xmax = 0)
	`,
		rec.ID, rec.UserID, rec.LevelNumber, grantID, cardsJSON, rec.TotalScore, rec.MaxScore,
		rec.CorrectAnswers, rec.TotalQuestions, rec.PercentageScore, string(rec.RiskLevel), rec.CompletedAt,
		rec.CreatedAt, rec.UpdatedAt,
	).Scan(&rec.ID, &rec.CreatedAt, &inserted)
	if err != nil {
		return false, fmt.Errorf("upsert progress record: %w", err)
	}
	return inserted, nil
}

// GetProgress returns the user's record for level.
func (db *DB) GetProgress(ctx context.Context, userID string, level int) (*models.ProgressRecord, error) {
	p, err := scanProgress(db.Pool.QueryRow(ctx, `
		SELECT `+progressColumns+`
		FROM progress_records
		WHERE user_id = $1 AND level_number = $2
	`, userID, level))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, progress.ErrRecordNotFound
		}
		return nil, fmt.Errorf("get progress record: %w", err)
	}
	return p, nil
}

// ListProgress returns the user's records ordered by level.
func (db *DB) ListProgress(ctx context.Context, userID string) ([]*models.ProgressRecord, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+progressColumns+`
		FROM progress_records
		WHERE user_id = $1
		ORDER BY level_number
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list progress records: %w", err)
	}
	defer rows.Close()

	var out []*models.ProgressRecord
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("scan progress record: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate progress records: %w", err)
	}
	return out, nil
}
