// Package progress stores per-user, per-level assessment results.
package progress

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/MacJediWizard/accessgate/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultPointsPerQuestion is used to derive a level's max score when the
// caller does not supply one.
const DefaultPointsPerQuestion = 10

// Risk thresholds on the percentage score.
const (
	ConfidentThreshold = 84.0
	CautiousThreshold  = 44.0
)

var (
	ErrInvalidLevel   = errors.New("level number must be between 1 and 3")
	ErrInvalidPayload = errors.New("invalid progress payload")
	ErrRecordNotFound = errors.New("progress record not found")
)

// Payload is one level submission. Nil totals are derived from the cards.
type Payload struct {
	Cards          []models.CardScore `json:"cards"`
	TotalScore     *int               `json:"total_score,omitempty"`
	MaxScore       *int               `json:"max_score,omitempty"`
	CorrectAnswers *int               `json:"correct_answers,omitempty"`
	TotalQuestions *int               `json:"total_questions,omitempty"`
}

// Store persists progress records. UpsertProgress must insert or overwrite
// the record keyed by (UserID, LevelNumber) in one statement and fill in the
// stored ID and CreatedAt.
type Store interface {
	UpsertProgress(ctx context.Context, rec *models.ProgressRecord) (created bool, err error)
	GetProgress(ctx context.Context, userID string, level int) (*models.ProgressRecord, error)
	ListProgress(ctx context.Context, userID string) ([]*models.ProgressRecord, error)
}

// Recorder receives save counts. metrics.Metrics implements it.
type Recorder interface {
	RecordProgressSave(level int, created bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordProgressSave(int, bool) {}

// Options configures a Service.
type Options struct {
	PointsPerQuestion int
	Recorder          Recorder
	Now               func() time.Time
}

// Service is the only writer of progress records.
type Service struct {
	store             Store
	pointsPerQuestion int
	recorder          Recorder
	now               func() time.Time
	logger            zerolog.Logger
}

// NewService creates a new progress Service.
func NewService(store Store, logger zerolog.Logger, opts Options) *Service {
	if opts.PointsPerQuestion <= 0 {
		opts.PointsPerQuestion = DefaultPointsPerQuestion
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:             store,
		pointsPerQuestion: opts.PointsPerQuestion,
		recorder:          opts.Recorder,
		now:               opts.Now,
		logger:            logger.With().Str("component", "progress_store").Logger(),
	}
}

// SaveLevelProgress creates or overwrites the user's record for level.
// Resubmitting a level updates the same record and resets its completion time.
func (s *Service) SaveLevelProgress(ctx context.Context, userID string, level int, grantID uuid.UUID, payload Payload) (*models.ProgressRecord, bool, error) {
	if userID == "" {
		return nil, false, fmt.Errorf("user ID is required: %w", ErrInvalidPayload)
	}
	if level < models.MinLevel || level > models.MaxLevel {
		return nil, false, ErrInvalidLevel
	}
	if err := validatePayload(payload); err != nil {
		return nil, false, err
	}

	now := s.now()
	rec := &models.ProgressRecord{
		ID:          uuid.New(),
		UserID:      userID,
		LevelNumber: level,
		GrantID:     grantID,
		Cards:       payload.Cards,
		CompletedAt: &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if rec.Cards == nil {
		rec.Cards = []models.CardScore{}
	}
	Aggregate(rec, payload, s.pointsPerQuestion)

	created, err := s.store.UpsertProgress(ctx, rec)
	if err != nil {
		return nil, false, fmt.Errorf("upsert progress: %w", err)
	}

	s.recorder.RecordProgressSave(level, created)
	s.logger.Debug().
		Str("user_id", userID).
		Int("level", level).
		Bool("created", created).
		Float64("percentage", rec.PercentageScore).
		Str("risk_level", string(rec.RiskLevel)).
		Msg("level progress saved")

	return rec, created, nil
}

// GetProgress returns the user's record for level.
func (s *Service) GetProgress(ctx context.Context, userID string, level int) (*models.ProgressRecord, error) {
	if level < models.MinLevel || level > models.MaxLevel {
		return nil, ErrInvalidLevel
	}
	rec, err := s.store.GetProgress(ctx, userID, level)
	if err != nil {
		return nil, fmt.Errorf("get progress: %w", err)
	}
	return rec, nil
}

// ListProgress returns all of the user's records ordered by level.
func (s *Service) ListProgress(ctx context.Context, userID string) ([]*models.ProgressRecord, error) {
	records, err := s.store.ListProgress(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	return records, nil
}

func validatePayload(p Payload) error {
	for i, c := range p.Cards {
		if c.CardID == "" {
			return fmt.Errorf("%w: card %d has no id", ErrInvalidPayload, i)
		}
		if c.Score < 0 || c.MaxScore < 0 || c.CorrectAnswers < 0 || c.TotalQuestions < 0 {
			return fmt.Errorf("%w: card %s has negative values", ErrInvalidPayload, c.CardID)
		}
	}
	for _, v := range []*int{p.TotalScore, p.MaxScore, p.CorrectAnswers, p.TotalQuestions} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%w: totals must not be negative", ErrInvalidPayload)
		}
	}
	return nil
}

// Aggregate fills the totals, percentage and risk level of rec. Supplied
// totals are kept as-is; missing ones are summed from the cards, and a
// missing max score is total questions times pointsPerQuestion.
func Aggregate(rec *models.ProgressRecord, p Payload, pointsPerQuestion int) {
	var score, correct, questions int
	for _, c := range p.Cards {
		score += c.Score
		correct += c.CorrectAnswers
		questions += c.TotalQuestions
	}

	rec.TotalScore = valueOr(p.TotalScore, score)
	rec.CorrectAnswers = valueOr(p.CorrectAnswers, correct)
	rec.TotalQuestions = valueOr(p.TotalQuestions, questions)
	rec.MaxScore = valueOr(p.MaxScore, rec.TotalQuestions*pointsPerQuestion)
	rec.PercentageScore = Percentage(rec.TotalScore, rec.MaxScore)
	rec.RiskLevel = ClassifyRisk(rec.PercentageScore)
}

// Percentage returns score/maxScore as a percentage rounded to two decimals, or 0
// when maxScore is 0.
func Percentage(score, maxScore int) float64 {
	if maxScore <= 0 {
		return 0
	}
	return math.Round(float64(score)/float64(maxScore)*10000) / 100
}

// ClassifyRisk maps a percentage score to a risk level.
func ClassifyRisk(percentage float64) models.RiskLevel {
	switch {
	case percentage >= ConfidentThreshold:
		return models.RiskConfident
	case percentage >= CautiousThreshold:
		return models.RiskCautious
	default:
		return models.RiskVulnerable
	}
}

func valueOr(v *int, fallback int) int {
	if v != nil {
		return *v
	}
	return fallback
}
