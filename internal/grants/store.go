package grants

import (
	"context"
	"time"

	"github.com/MacJediWizard/accessgate/internal/models"
	"github.com/google/uuid"
)

// GrantFilter narrows ListGrants. Zero-valued fields are ignored.
type GrantFilter struct {
	OwnerUserID    string
	OrganizationID string
	Kind           models.GrantKind
	Status         models.GrantStatus
	Limit          int
	Offset         int
}

// SeatUpdate is the result of the conditional seat-consumption write.
type SeatUpdate struct {
	// Consumed is true only for the single write that moved the user's
	// redemption from started to seat_consumed.
	Consumed  bool
	UsedSeats int
	Status    models.GrantStatus
}

// Store is the persistence contract for access grants and their redemptions.
//
// StartRedemption and CompleteRedemption carry the concurrency guarantees:
// each must be a single atomic conditional write against the grant, never a
// read followed by an unconditional write.
type Store interface {
	CreateGrant(ctx context.Context, g *models.AccessGrant) error
	GetGrantByID(ctx context.Context, id uuid.UUID) (*models.AccessGrant, error)
	GetGrantByCode(ctx context.Context, code string) (*models.AccessGrant, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	ListGrants(ctx context.Context, filter GrantFilter) ([]*models.AccessGrant, error)

	// MarkGrantExpired flips an active grant to expired. It reports false if
	// the grant was not active, which makes repeated calls no-ops.
	MarkGrantExpired(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)

	GetRedemption(ctx context.Context, grantID uuid.UUID, userID string) (*models.Redemption, error)
	ListRedemptions(ctx context.Context, grantID uuid.UUID) ([]models.Redemption, error)
	LatestRedemptionForUser(ctx context.Context, userID string) (*models.Redemption, error)

	// StartRedemption adds a started entry for a new user if a seat can be
	// claimed (ErrSeatsFull otherwise). An existing entry is returned with
	// resumed=true and no counters change.
	StartRedemption(ctx context.Context, grantID uuid.UUID, userID string, at time.Time) (red *models.Redemption, resumed bool, err error)

	// CompleteRedemption applies used_seats += 1 and marks the user's entry
	// seat_consumed, only if that entry is currently started.
	CompleteRedemption(ctx context.Context, grantID uuid.UUID, userID string, at time.Time) (*SeatUpdate, error)
}

// Recorder receives outcome counts. metrics.Metrics implements it.
type Recorder interface {
	RecordCodeCheck(result string)
	RecordRedemptionStart(result string)
	RecordSeatCompletion(result string)
	RecordGrantsExpired(n int)
	RecordGrantIssued(kind string)
}

type nopRecorder struct{}

func (nopRecorder) RecordCodeCheck(string)       {}
func (nopRecorder) RecordRedemptionStart(string) {}
func (nopRecorder) RecordSeatCompletion(string)  {}
func (nopRecorder) RecordGrantsExpired(int)      {}
func (nopRecorder) RecordGrantIssued(string)     {}

// Options configures the grant services.
type Options struct {
	// Location is the timezone in which end dates are extended to end-of-day.
	Location *time.Location
	// Recorder receives outcome counts; nil disables recording.
	Recorder Recorder
	// Now overrides the clock.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Recorder == nil {
		o.Recorder = nopRecorder{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
