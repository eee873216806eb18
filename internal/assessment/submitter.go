// Package assessment ties level submissions to seat consumption.
package assessment

import (
	"context"
	"errors"
	"fmt"

	"github.com/MacJediWizard/accessgate/internal/completion"
	"github.com/MacJediWizard/accessgate/internal/grants"
	"github.com/MacJediWizard/accessgate/internal/models"
	"github.com/MacJediWizard/accessgate/internal/progress"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// GrantResolver finds the grant a submission belongs to.
type GrantResolver interface {
	GetGrantByID(ctx context.Context, id uuid.UUID) (*models.AccessGrant, error)
	GetGrantByCode(ctx context.Context, code string) (*models.AccessGrant, error)
	GetRedemption(ctx context.Context, grantID uuid.UUID, userID string) (*models.Redemption, error)
	LatestRedemptionForUser(ctx context.Context, userID string) (*models.Redemption, error)
}

// Submission is one level result from an authenticated user.
type Submission struct {
	UserID      string
	LevelNumber int
	// Code selects the grant; when empty the user's most recent redemption is used.
	Code string
	progress.Payload
}

// SubmitResult describes what a submission changed.
type SubmitResult struct {
	Record             *models.ProgressRecord `json:"record"`
	Created            bool                   `json:"created"`
	GrantID            uuid.UUID              `json:"grant_id"`
	Audience           models.Audience        `json:"audience"`
	RequiredLevels     []int                  `json:"required_levels"`
	WasCompletedBefore bool                   `json:"was_completed_before"`
	IsCompletedNow     bool                   `json:"is_completed_now"`
	FirstCompletion    bool                   `json:"first_completion"`
	SeatConsumed       bool                   `json:"seat_consumed"`
	UsedSeats          int                    `json:"used_seats"`
}

// Submitter saves level progress and consumes the user's seat when the save
// completes the audience's required levels.
type Submitter struct {
	grants    GrantResolver
	progress  *progress.Service
	evaluator *completion.Evaluator
	allocator *grants.Allocator
	logger    zerolog.Logger
}

// NewSubmitter creates a new Submitter.
func NewSubmitter(resolver GrantResolver, progressSvc *progress.Service, evaluator *completion.Evaluator, allocator *grants.Allocator, logger zerolog.Logger) *Submitter {
	return &Submitter{
		grants:    resolver,
		progress:  progressSvc,
		evaluator: evaluator,
		allocator: allocator,
		logger:    logger.With().Str("component", "submitter").Logger(),
	}
}

// Submit saves the level and, when the level is required for the grant's
// audience, evaluates completion immediately before and after the save.
// Whenever the user is complete after the save the allocator is asked to
// consume the seat; its conditional write makes repeats no-ops, and it also
// finishes a consumption that an earlier failed request left undone.
func (s *Submitter) Submit(ctx context.Context, sub Submission) (*SubmitResult, error) {
	if sub.UserID == "" {
		return nil, fmt.Errorf("user ID is required: %w", grants.ErrInvalidRequest)
	}
	if sub.LevelNumber < models.MinLevel || sub.LevelNumber > models.MaxLevel {
		return nil, progress.ErrInvalidLevel
	}

	grant, err := s.resolveGrant(ctx, sub)
	if err != nil {
		return nil, err
	}

	result := &SubmitResult{
		GrantID:        grant.ID,
		Audience:       grant.Audience,
		RequiredLevels: completion.RequiredLevels(grant.Audience),
	}
	required := completion.IsRequired(grant.Audience, sub.LevelNumber)

	if required {
		result.WasCompletedBefore, err = s.evaluator.IsComplete(ctx, sub.UserID, grant.Audience)
		if err != nil {
			return nil, fmt.Errorf("evaluate before save: %w", err)
		}
	}

	result.Record, result.Created, err = s.progress.SaveLevelProgress(ctx, sub.UserID, sub.LevelNumber, grant.ID, sub.Payload)
	if err != nil {
		return nil, err
	}

	if !required {
		return result, nil
	}

	result.IsCompletedNow, err = s.evaluator.IsComplete(ctx, sub.UserID, grant.Audience)
	if err != nil {
		return nil, fmt.Errorf("evaluate after save: %w", err)
	}
	result.FirstCompletion = !result.WasCompletedBefore && result.IsCompletedNow

	if !result.IsCompletedNow {
		return result, nil
	}

	outcome, err := s.allocator.Complete(ctx, grant.ID, sub.UserID)
	if err != nil {
		return nil, fmt.Errorf("consume seat: %w", err)
	}
	result.SeatConsumed = outcome.Consumed
	result.UsedSeats = outcome.UsedSeats

	if outcome.Consumed && !result.FirstCompletion {
		s.logger.Warn().
			Str("grant_id", grant.ID.String()).
			Str("user_id", sub.UserID).
			Msg("seat consumed for a user who had already completed; recovered from an earlier interrupted submission")
	}

	return result, nil
}

func (s *Submitter) resolveGrant(ctx context.Context, sub Submission) (*models.AccessGrant, error) {
	if sub.Code != "" {
		code := grants.NormalizeCode(sub.Code)
		if !grants.ValidCode(code) {
			return nil, grants.ErrInvalidCode
		}
		grant, err := s.grants.GetGrantByCode(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("get grant by code: %w", err)
		}
		if _, err := s.grants.GetRedemption(ctx, grant.ID, sub.UserID); err != nil {
			if errors.Is(err, grants.ErrRedemptionNotFound) {
				return nil, grants.ErrNotStarted
			}
			return nil, fmt.Errorf("get redemption: %w", err)
		}
		return grant, nil
	}

	red, err := s.grants.LatestRedemptionForUser(ctx, sub.UserID)
	if err != nil {
		if errors.Is(err, grants.ErrRedemptionNotFound) {
			return nil, grants.ErrNotStarted
		}
		return nil, fmt.Errorf("get latest redemption: %w", err)
	}
	grant, err := s.grants.GetGrantByID(ctx, red.GrantID)
	if err != nil {
		return nil, fmt.Errorf("get grant: %w", err)
	}
	return grant, nil
}
