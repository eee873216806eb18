package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MacJediWizard/accessgate/internal/models"
	"github.com/MacJediWizard/accessgate/internal/progress"
	"github.com/google/uuid"
)

const progressColumns = `id, user_id, level_number, grant_id, cards, total_score, max_score,
	correct_answers, total_questions, percentage_score, risk_level, completed_at,
	created_at, updated_at`

func scanProgress(row rowScanner) (*models.ProgressRecord, error) {
	var p models.ProgressRecord
	var grantID uuid.NullUUID
	var cardsJSON, risk, created, updated string
	var completed sql.NullString

	err := row.Scan(
		&p.ID, &p.UserID, &p.LevelNumber, &grantID, &cardsJSON, &p.TotalScore, &p.MaxScore,
		&p.CorrectAnswers, &p.TotalQuestions, &p.PercentageScore, &risk, &completed,
		&created, &updated,
	)
	if err != nil {
		return nil, err
	}

	if grantID.Valid {
		p.GrantID = grantID.UUID
	}
	p.RiskLevel = models.RiskLevel(risk)
	if err := json.Unmarshal([]byte(cardsJSON), &p.Cards); err != nil {
		return nil, fmt.Errorf("unmarshal cards: %w", err)
	}
	if p.Cards == nil {
		p.Cards = []models.CardScore{}
	}
	if p.CompletedAt, err = parseNullTime(completed); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertProgress inserts rec or overwrites the record for
// (user_id, level_number), setting rec.ID and rec.CreatedAt to the stored
// values.
func (s *Store) UpsertProgress(ctx context.Context, rec *models.ProgressRecord) (bool, error) {
	cardsJSON, err := json.Marshal(rec.Cards)
	if err != nil {
		return false, fmt.Errorf("marshal cards: %w", err)
	}

	var grantID uuid.NullUUID
	if rec.GrantID != uuid.Nil {
		grantID = uuid.NullUUID{UUID: rec.GrantID, Valid: true}
	}

	var storedID uuid.UUID
	var created string
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO progress_records (`+progressColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, level_number) DO UPDATE SET
			grant_id = excluded.grant_id,
			cards = excluded.cards,
			total_score = excluded.total_score,
			max_score = excluded.max_score,
			correct_answers = excluded.correct_answers,
			total_questions = excluded.total_questions,
			percentage_score = excluded.percentage_score,
			risk_level = excluded.risk_level,
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at
		RETURNING id, created_at
	`,
		rec.ID, rec.UserID, rec.LevelNumber, grantID, string(cardsJSON), rec.TotalScore, rec.MaxScore,
		rec.CorrectAnswers, rec.TotalQuestions, rec.PercentageScore, string(rec.RiskLevel), formatNullTime(rec.CompletedAt),
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
	).Scan(&storedID, &created)
	if err != nil {
		return false, fmt.Errorf("upsert progress record: %w", err)
	}

	inserted := storedID == rec.ID
	rec.ID = storedID
	if rec.CreatedAt, err = parseTime(created); err != nil {
		return false, err
	}
	return inserted, nil
}

// GetProgress returns the user's record for level.
func (s *Store) GetProgress(ctx context.Context, userID string, level int) (*models.ProgressRecord, error) {
	p, err := scanProgress(s.db.QueryRowContext(ctx,
		"SELECT "+progressColumns+" FROM progress_records WHERE user_id = ? AND level_number = ?",
		userID, level))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, progress.ErrRecordNotFound
		}
		return nil, fmt.Errorf("get progress record: %w", err)
	}
	return p, nil
}

// ListProgress returns the user's records ordered by level.
func (s *Store) ListProgress(ctx context.Context, userID string) ([]*models.ProgressRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+progressColumns+" FROM progress_records WHERE user_id = ? ORDER BY level_number",
		userID)
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
