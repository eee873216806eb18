package grants

import (
	"context"
	"errors"
	"fmt"

	"github.com/MacJediWizard/accessgate/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// StartOutcome is the result of Allocator.Start.
type StartOutcome struct {
	Grant      *models.AccessGrant `json:"grant"`
	Redemption *models.Redemption  `json:"redemption"`
	// Resumed is true when the user already had an entry on the grant.
	Resumed bool `json:"resumed"`
}

// CompleteOutcome is the result of Allocator.Complete.
type CompleteOutcome struct {
	Redemption *models.Redemption `json:"redemption"`
	UsedSeats  int                `json:"used_seats"`
	Status     models.GrantStatus `json:"status"`
	// Consumed is true only for the call that moved the seat to consumed.
	Consumed bool `json:"consumed"`
	// AlreadyCompleted is true when the seat had been consumed earlier. It is
	// a successful no-op, not an error.
	AlreadyCompleted bool `json:"already_completed"`
}

// Start and completion outcome labels passed to the Recorder.
const (
	StartCreated      = "created"
	StartResumed      = "resumed"
	StartSeatsFull    = "seats_full"
	StartExpired      = "expired"
	SeatConsumed      = "consumed"
	SeatAlreadyUsed   = "already_completed"
	SeatNotStartedYet = "not_started"
)

// Allocator owns every transition of the per-user redemption state:
//
//	not_started --Start--> started --Complete--> seat_consumed
type Allocator struct {
	store  Store
	opts   Options
	logger zerolog.Logger
}

// NewAllocator creates a new Allocator.
func NewAllocator(store Store, logger zerolog.Logger, opts Options) *Allocator {
	return &Allocator{
		store:  store,
		opts:   opts.withDefaults(),
		logger: logger.With().Str("component", "seat_allocator").Logger(),
	}
}

// Start adds a started redemption for userID on the grant identified by
// code. A user with an existing entry is resumed regardless of how full the
// grant is. New users are rejected with ErrExpired or ErrSeatsFull.
func (a *Allocator) Start(ctx context.Context, code, userID string) (*StartOutcome, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID is required: %w", ErrInvalidRequest)
	}
	code = NormalizeCode(code)
	if !ValidCode(code) {
		return nil, ErrInvalidCode
	}

	grant, err := a.store.GetGrantByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("get grant by code: %w", err)
	}

	existing, err := a.store.GetRedemption(ctx, grant.ID, userID)
	switch {
	case err == nil:
		a.opts.Recorder.RecordRedemptionStart(StartResumed)
		a.logger.Debug().
			Str("grant_id", grant.ID.String()).
			Str("user_id", userID).
			Str("state", string(existing.State)).
			Msg("redemption resumed")
		return &StartOutcome{Grant: grant, Redemption: existing, Resumed: true}, nil
	case !errors.Is(err, ErrRedemptionNotFound):
		return nil, fmt.Errorf("get redemption: %w", err)
	}

	if err := expireIfDue(ctx, a.store, grant, a.opts, a.logger); err != nil {
		return nil, err
	}
	if grant.Status == models.GrantStatusExpired {
		a.opts.Recorder.RecordRedemptionStart(StartExpired)
		return nil, ErrExpired
	}
	if !grant.AdmitsNewUsers() {
		a.opts.Recorder.RecordRedemptionStart(StartSeatsFull)
		return nil, ErrSeatsFull
	}

	red, resumed, err := a.store.StartRedemption(ctx, grant.ID, userID, a.opts.Now())
	if err != nil {
		if errors.Is(err, ErrSeatsFull) {
			a.opts.Recorder.RecordRedemptionStart(StartSeatsFull)
			return nil, ErrSeatsFull
		}
		return nil, fmt.Errorf("start redemption: %w", err)
	}

	if resumed {
		a.opts.Recorder.RecordRedemptionStart(StartResumed)
		return &StartOutcome{Grant: grant, Redemption: red, Resumed: true}, nil
	}

	grant.ClaimedSeats++
	a.opts.Recorder.RecordRedemptionStart(StartCreated)
	a.logger.Info().
		Str("grant_id", grant.ID.String()).
		Str("user_id", userID).
		Int("claimed_seats", grant.ClaimedSeats).
		Int("max_seats", grant.MaxSeats).
		Msg("redemption started")

	return &StartOutcome{Grant: grant, Redemption: red}, nil
}

// Complete consumes the user's seat on the grant. The store applies it as one
// conditional write, so concurrent or repeated calls increment used seats at
// most once. A user without an entry gets ErrNotStarted.
func (a *Allocator) Complete(ctx context.Context, grantID uuid.UUID, userID string) (*CompleteOutcome, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID is required: %w", ErrInvalidRequest)
	}

	update, err := a.store.CompleteRedemption(ctx, grantID, userID, a.opts.Now())
	if err != nil {
		return nil, fmt.Errorf("complete redemption: %w", err)
	}

	red, err := a.store.GetRedemption(ctx, grantID, userID)
	if err != nil {
		if errors.Is(err, ErrRedemptionNotFound) {
			a.opts.Recorder.RecordSeatCompletion(SeatNotStartedYet)
			return nil, ErrNotStarted
		}
		return nil, fmt.Errorf("get redemption: %w", err)
	}

	outcome := &CompleteOutcome{
		Redemption: red,
		UsedSeats:  update.UsedSeats,
		Status:     update.Status,
		Consumed:   update.Consumed,
	}

	if update.Consumed {
		a.opts.Recorder.RecordSeatCompletion(SeatConsumed)
		a.logger.Info().
			Str("grant_id", grantID.String()).
			Str("user_id", userID).
			Int("used_seats", update.UsedSeats).
			Str("status", string(update.Status)).
			Msg("seat consumed")
		return outcome, nil
	}

	if !red.Completed() {
		return nil, fmt.Errorf("redemption for user %s stayed %s after completion", userID, red.State)
	}
	outcome.AlreadyCompleted = true
	a.opts.Recorder.RecordSeatCompletion(SeatAlreadyUsed)
	a.logger.Debug().
		Str("grant_id", grantID.String()).
		Str("user_id", userID).
		Msg("seat already consumed")
	return outcome, nil
}

// ForceComplete is Complete for operators: consuming a seat that was already
// consumed is reported as ErrAlreadyCompleted.
func (a *Allocator) ForceComplete(ctx context.Context, grantID uuid.UUID, userID string) (*CompleteOutcome, error) {
	outcome, err := a.Complete(ctx, grantID, userID)
	if err != nil {
		return nil, err
	}
	if outcome.AlreadyCompleted {
		return outcome, ErrAlreadyCompleted
	}
	return outcome, nil
}

// State returns the redemption state of userID on the grant.
func (a *Allocator) State(ctx context.Context, grantID uuid.UUID, userID string) (models.RedemptionState, error) {
	red, err := a.store.GetRedemption(ctx, grantID, userID)
	if err != nil {
		if errors.Is(err, ErrRedemptionNotFound) {
			return models.RedemptionNotStarted, nil
		}
		return "", fmt.Errorf("get redemption: %w", err)
	}
	return red.State, nil
}
