package grants

import (
	"context"
	"errors"
	"fmt"

	"github.com/MacJediWizard/accessgate/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CheckResult answers whether a code is usable right now, and by whom.
type CheckResult struct {
	Valid          bool                   `json:"valid"`
	GrantID        uuid.UUID              `json:"grant_id"`
	Kind           models.GrantKind       `json:"kind"`
	Audience       models.Audience        `json:"audience"`
	MaxSeats       int                    `json:"max_seats"`
	UsedSeats      int                    `json:"used_seats"`
	ClaimedSeats   int                    `json:"claimed_seats"`
	RemainingSeats int                    `json:"remaining_seats"`
	IsExpired      bool                   `json:"is_expired"`
	SeatsFull      bool                   `json:"seats_full"`
	HasUserPlayed  bool                   `json:"has_user_played"`
	UserSeatUsed   bool                   `json:"user_seat_used"`
	State          models.RedemptionState `json:"state,omitempty"`
}

// Check outcome labels passed to the Recorder.
const (
	CheckValid        = "valid"
	CheckResumed      = "resumed"
	CheckExpired      = "expired"
	CheckSeatsFull    = "seats_full"
	CheckUserSeatUsed = "user_seat_used"
)

// Validator performs the public redemption check.
type Validator struct {
	store  Store
	opts   Options
	logger zerolog.Logger
}

// NewValidator creates a new Validator.
func NewValidator(store Store, logger zerolog.Logger, opts Options) *Validator {
	return &Validator{
		store:  store,
		opts:   opts.withDefaults(),
		logger: logger.With().Str("component", "code_validator").Logger(),
	}
}

// Check looks up the grant for code and reports whether it can be used. When
// userID is non-empty the result also describes that user's redemption.
// Detecting expiry flips an active grant to expired.
func (v *Validator) Check(ctx context.Context, code, userID string) (*CheckResult, error) {
	code = NormalizeCode(code)
	if !ValidCode(code) {
		return nil, ErrInvalidCode
	}

	grant, err := v.store.GetGrantByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("get grant by code: %w", err)
	}

	if err := expireIfDue(ctx, v.store, grant, v.opts, v.logger); err != nil {
		return nil, err
	}

	var red *models.Redemption
	if userID != "" {
		red, err = v.store.GetRedemption(ctx, grant.ID, userID)
		if err != nil && !errors.Is(err, ErrRedemptionNotFound) {
			return nil, fmt.Errorf("get redemption: %w", err)
		}
	}

	result := &CheckResult{
		GrantID:        grant.ID,
		Kind:           grant.Kind,
		Audience:       grant.Audience,
		MaxSeats:       grant.MaxSeats,
		UsedSeats:      grant.UsedSeats,
		ClaimedSeats:   grant.ClaimedSeats,
		RemainingSeats: grant.RemainingSeats(),
		IsExpired:      grant.Status == models.GrantStatusExpired,
		HasUserPlayed:  red != nil,
		State:          models.StateOf(red),
	}
	if userID == "" {
		result.State = ""
	}

	var outcome string
	switch {
	case red.Completed():
		result.UserSeatUsed = true
		outcome = CheckUserSeatUsed
	case result.IsExpired:
		outcome = CheckExpired
	case red != nil:
		result.Valid = true
		outcome = CheckResumed
	case result.RemainingSeats <= 0 || !grant.AdmitsNewUsers():
		result.SeatsFull = true
		outcome = CheckSeatsFull
	default:
		result.Valid = true
		outcome = CheckValid
	}
	v.opts.Recorder.RecordCodeCheck(outcome)

	v.logger.Debug().
		Str("grant_id", grant.ID.String()).
		Str("outcome", outcome).
		Int("used_seats", grant.UsedSeats).
		Int("max_seats", grant.MaxSeats).
		Msg("code checked")

	return result, nil
}

// expireIfDue flips an active grant past its end date to expired and updates
// the in-memory copy. Grants already expired or completed are left alone.
func expireIfDue(ctx context.Context, store Store, grant *models.AccessGrant, opts Options, logger zerolog.Logger) error {
	now := opts.Now()
	if grant.Status != models.GrantStatusActive || !grant.IsExpiredAt(now, opts.Location) {
		return nil
	}
	flipped, err := store.MarkGrantExpired(ctx, grant.ID, now)
	if err != nil {
		return fmt.Errorf("mark grant expired: %w", err)
	}
	if flipped {
		opts.Recorder.RecordGrantsExpired(1)
		logger.Info().
			Str("grant_id", grant.ID.String()).
			Time("end_date", grant.EndDate).
			Msg("access grant expired")
	}
	grant.Status = models.GrantStatusExpired
	return nil
}
