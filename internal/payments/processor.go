// Package payments turns "payment succeeded" events into purchase grants.
package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/MacJediWizard/accessgate/internal/grants"
	"github.com/MacJediWizard/accessgate/internal/models"
	"github.com/rs/zerolog"
)

var (
	ErrUnknownPackage   = errors.New("unknown package")
	ErrInvalidEvent     = errors.New("invalid payment event")
	ErrInvalidSignature = errors.New("invalid payment signature")
)

// Event is a "payment succeeded" notification. Delivery is at least once.
type Event struct {
	PaymentRef     string  `json:"payment_ref"`
	UserID         string  `json:"user_id"`
	PackageRef     string  `json:"package_ref"`
	UniqueCode     string  `json:"unique_code,omitempty"`
	OrganizationID *string `json:"organization_id,omitempty"`
}

// Store persists purchase grants. CreatePurchaseGrant inserts g unless a
// grant with the same payment ref exists, in which case it returns that
// grant with created=false.
type Store interface {
	CreatePurchaseGrant(ctx context.Context, g *models.AccessGrant) (grant *models.AccessGrant, created bool, err error)
	GetGrantByPaymentRef(ctx context.Context, paymentRef string) (*models.AccessGrant, error)
}

// Recorder receives payment outcome counts. metrics.Metrics implements it.
type Recorder interface {
	RecordPaymentEvent(result string)
	RecordGrantIssued(kind string)
}

// Payment outcome labels.
const (
	ResultCreated   = "created"
	ResultDuplicate = "duplicate"
	ResultRejected  = "rejected"
)

type nopRecorder struct{}

func (nopRecorder) RecordPaymentEvent(string) {}
func (nopRecorder) RecordGrantIssued(string)  {}

// Processor creates at most one purchase grant per payment ref.
type Processor struct {
	store    Store
	issuer   *grants.Issuer
	catalog  *Catalog
	recorder Recorder
	logger   zerolog.Logger
}

// NewProcessor creates a new Processor. recorder may be nil.
func NewProcessor(store Store, issuer *grants.Issuer, catalog *Catalog, recorder Recorder, logger zerolog.Logger) *Processor {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Processor{
		store:    store,
		issuer:   issuer,
		catalog:  catalog,
		recorder: recorder,
		logger:   logger.With().Str("component", "payments").Logger(),
	}
}

// HandlePaymentSucceeded creates the purchase grant for ev. A redelivered
// event returns the grant created the first time with created=false.
func (p *Processor) HandlePaymentSucceeded(ctx context.Context, ev Event) (*models.AccessGrant, bool, error) {
	if ev.PaymentRef == "" || ev.UserID == "" || ev.PackageRef == "" {
		p.recorder.RecordPaymentEvent(ResultRejected)
		return nil, false, fmt.Errorf("%w: payment_ref, user_id and package_ref are required", ErrInvalidEvent)
	}

	existing, err := p.store.GetGrantByPaymentRef(ctx, ev.PaymentRef)
	switch {
	case err == nil:
		p.duplicate(ev, existing)
		return existing, false, nil
	case !errors.Is(err, grants.ErrGrantNotFound):
		return nil, false, fmt.Errorf("get grant by payment ref: %w", err)
	}

	pkg, err := p.catalog.Lookup(ev.PackageRef)
	if err != nil {
		p.recorder.RecordPaymentEvent(ResultRejected)
		return nil, false, err
	}

	req := grants.IssueRequest{
		Kind:           models.GrantKindPurchase,
		OwnerUserID:    ev.UserID,
		OrganizationID: ev.OrganizationID,
		Audience:       pkg.Audience,
		MaxSeats:       pkg.MaxSeats,
		ValidityDays:   pkg.ValidityDays,
		PaymentRef:     ev.PaymentRef,
		PackageRef:     pkg.Ref,
		Code:           ev.UniqueCode,
	}

	grant, created, err := p.create(ctx, req)
	if errors.Is(err, grants.ErrCodeTaken) && ev.UniqueCode == "" {
		grant, created, err = p.create(ctx, req)
	}
	if err != nil {
		if grants.Classify(err) != grants.KindTransient {
			p.recorder.RecordPaymentEvent(ResultRejected)
		}
		return nil, false, err
	}

	if !created {
		p.duplicate(ev, grant)
		return grant, false, nil
	}

	p.recorder.RecordPaymentEvent(ResultCreated)
	p.recorder.RecordGrantIssued(string(grant.Kind))
	p.logger.Info().
		Str("payment_ref", ev.PaymentRef).
		Str("grant_id", grant.ID.String()).
		Str("package_ref", pkg.Ref).
		Int("max_seats", grant.MaxSeats).
		Msg("purchase grant created")
	return grant, true, nil
}

func (p *Processor) create(ctx context.Context, req grants.IssueRequest) (*models.AccessGrant, bool, error) {
	grant, err := p.issuer.Build(ctx, req)
	if err != nil {
		return nil, false, fmt.Errorf("build purchase grant: %w", err)
	}
	stored, created, err := p.store.CreatePurchaseGrant(ctx, grant)
	if err != nil {
		return nil, false, fmt.Errorf("create purchase grant: %w", err)
	}
	return stored, created, nil
}

func (p *Processor) duplicate(ev Event, grant *models.AccessGrant) {
	p.recorder.RecordPaymentEvent(ResultDuplicate)
	p.logger.Debug().
		Str("payment_ref", ev.PaymentRef).
		Str("grant_id", grant.ID.String()).
		Msg("payment event already processed")
}
