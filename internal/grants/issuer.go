package grants

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MacJediWizard/accessgate/internal/models"
	"github.com/rs/zerolog"
)

// Default validity windows, in days, for grants issued without an end date.
const (
	DefaultTrialDays = 14
	DefaultDemoDays  = 30
)

// IssueRequest describes a grant to issue.
type IssueRequest struct {
	Kind           models.GrantKind `json:"kind"`
	OwnerUserID    string           `json:"owner_user_id"`
	OrganizationID *string          `json:"organization_id,omitempty"`
	Audience       models.Audience  `json:"audience"`
	MaxSeats       int              `json:"max_seats"`
	StartDate      *time.Time       `json:"start_date,omitempty"`
	EndDate        *time.Time       `json:"end_date,omitempty"`
	ValidityDays   int              `json:"validity_days,omitempty"`
	PromoTag       string           `json:"promo_tag,omitempty"`
	PaymentRef     string           `json:"payment_ref,omitempty"`
	PackageRef     string           `json:"package_ref,omitempty"`
	// Code is optional; a random code is generated when empty.
	Code string `json:"code,omitempty"`
}

// IssueStore is the part of Store the Issuer needs.
type IssueStore interface {
	CodeChecker
	CreateGrant(ctx context.Context, g *models.AccessGrant) error
}

// Issuer creates new access grants.
type Issuer struct {
	store  IssueStore
	opts   Options
	logger zerolog.Logger
}

// NewIssuer creates a new Issuer.
func NewIssuer(store IssueStore, logger zerolog.Logger, opts Options) *Issuer {
	return &Issuer{
		store:  store,
		opts:   opts.withDefaults(),
		logger: logger.With().Str("component", "grant_issuer").Logger(),
	}
}

// Build validates req and returns the grant it describes without persisting
// it. When req.Code is empty a code not yet in the store is generated.
func (i *Issuer) Build(ctx context.Context, req IssueRequest) (*models.AccessGrant, error) {
	loc := i.opts.Location

	start := i.opts.Now().In(loc)
	if req.StartDate != nil {
		start = req.StartDate.In(loc)
	}

	var end time.Time
	switch {
	case req.EndDate != nil:
		end = req.EndDate.In(loc)
	case req.ValidityDays > 0:
		end = start.AddDate(0, 0, req.ValidityDays)
	case req.Kind == models.GrantKindTrial:
		end = start.AddDate(0, 0, DefaultTrialDays)
	case req.Kind == models.GrantKindDemo:
		end = start.AddDate(0, 0, DefaultDemoDays)
	default:
		return nil, fmt.Errorf("end date or validity days required for %s grants: %w", req.Kind, ErrInvalidRequest)
	}
	end = models.EndOfDay(end)

	code := NormalizeCode(req.Code)
	if code != "" && !ValidCode(code) {
		return nil, ErrInvalidCode
	}

	grant := models.NewAccessGrant(req.Kind, code, req.OwnerUserID, req.Audience, req.MaxSeats, start, end)
	grant.OrganizationID = req.OrganizationID
	grant.Details = models.KindDetails{
		PromoTag:   req.PromoTag,
		PaymentRef: req.PaymentRef,
		PackageRef: req.PackageRef,
	}
	grant.CreatedAt = i.opts.Now()
	grant.UpdatedAt = grant.CreatedAt

	if err := grant.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if code == "" {
		generated, err := GenerateUniqueCode(ctx, i.store)
		if err != nil {
			return nil, err
		}
		grant.Code = generated
	}
	return grant, nil
}

// Issue builds and stores a new grant. A generated code that collides at
// insert time is regenerated once.
func (i *Issuer) Issue(ctx context.Context, req IssueRequest) (*models.AccessGrant, error) {
	grant, err := i.Build(ctx, req)
	if err != nil {
		return nil, err
	}

	err = i.store.CreateGrant(ctx, grant)
	if errors.Is(err, ErrCodeTaken) && req.Code == "" {
		i.logger.Warn().Str("code", grant.Code).Msg("generated code collided, retrying")
		grant.Code, err = GenerateUniqueCode(ctx, i.store)
		if err != nil {
			return nil, err
		}
		err = i.store.CreateGrant(ctx, grant)
	}
	if err != nil {
		return nil, fmt.Errorf("create grant: %w", err)
	}

	i.opts.Recorder.RecordGrantIssued(string(grant.Kind))
	i.logger.Info().
		Str("grant_id", grant.ID.String()).
		Str("kind", string(grant.Kind)).
		Str("audience", string(grant.Audience)).
		Int("max_seats", grant.MaxSeats).
		Time("end_date", grant.EndDate).
		Msg("access grant issued")

	return grant, nil
}
