// Package models defines the domain models for accessgate.
package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GrantKind identifies how an access grant came into existence.
type GrantKind string

const (
	// GrantKindTrial is a free trial code.
	GrantKindTrial GrantKind = "trial"
	// GrantKindDemo is a promotional demo code.
	GrantKindDemo GrantKind = "demo"
	// GrantKindPurchase is a code issued after a successful payment.
	GrantKindPurchase GrantKind = "purchase"
)

// IsValid reports whether k is a known grant kind.
func (k GrantKind) IsValid() bool {
	switch k {
	case GrantKindTrial, GrantKindDemo, GrantKindPurchase:
		return true
	}
	return false
}

// Audience is the customer segment a grant is sold to.
type Audience string

const (
	AudienceB2C Audience = "B2C"
	AudienceB2B Audience = "B2B"
	AudienceB2E Audience = "B2E"
)

// IsValid reports whether a is a known audience segment.
func (a Audience) IsValid() bool {
	switch a {
	case AudienceB2C, AudienceB2B, AudienceB2E:
		return true
	}
	return false
}

// GrantStatus is the lifecycle status of an access grant.
type GrantStatus string

const (
	// GrantStatusActive accepts new redemptions.
	GrantStatusActive GrantStatus = "active"
	// GrantStatusCompleted means every seat has been consumed.
	GrantStatusCompleted GrantStatus = "completed"
	// GrantStatusExpired means the validity window has passed.
	GrantStatusExpired GrantStatus = "expired"
)

// KindDetails carries the metadata that only applies to some grant kinds.
type KindDetails struct {
	// PromoTag labels the campaign a demo code belongs to.
	PromoTag string `json:"promo_tag,omitempty"`
	// PaymentRef is the payment provider's reference for purchase grants.
	PaymentRef string `json:"payment_ref,omitempty"`
	// PackageRef identifies the purchased package.
	PackageRef string `json:"package_ref,omitempty"`
}

// AccessGrant is a redeemable code bundling a bounded number of seats.
//
// UsedSeats counts redemptions in the seat_consumed state. ClaimedSeats counts
// every redemption entry (started or consumed) and is what admission of new
// users is checked against, so UsedSeats <= ClaimedSeats <= MaxSeats holds.
type AccessGrant struct {
	ID             uuid.UUID    `json:"id"`
	Kind           GrantKind    `json:"kind"`
	Code           string       `json:"code"`
	OwnerUserID    string       `json:"owner_user_id"`
	OrganizationID *string      `json:"organization_id,omitempty"`
	Audience       Audience     `json:"audience"`
	MaxSeats       int          `json:"max_seats"`
	UsedSeats      int          `json:"used_seats"`
	ClaimedSeats   int          `json:"claimed_seats"`
	Status         GrantStatus  `json:"status"`
	StartDate      time.Time    `json:"start_date"`
	EndDate        time.Time    `json:"end_date"`
	Details        KindDetails  `json:"details"`
	Redemptions    []Redemption `json:"redemptions,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// NewAccessGrant creates a new active AccessGrant with no seats used.
func NewAccessGrant(kind GrantKind, code, ownerUserID string, audience Audience, maxSeats int, start, end time.Time) *AccessGrant {
	now := time.Now()
	return &AccessGrant{
		ID:          uuid.New(),
		Kind:        kind,
		Code:        code,
		OwnerUserID: ownerUserID,
		Audience:    audience,
		MaxSeats:    maxSeats,
		Status:      GrantStatusActive,
		StartDate:   start,
		EndDate:     end,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Validate checks the shared contract plus the kind-specific metadata.
func (g *AccessGrant) Validate() error {
	if !g.Kind.IsValid() {
		return fmt.Errorf("invalid grant kind: %q", g.Kind)
	}
	if !g.Audience.IsValid() {
		return fmt.Errorf("invalid audience: %q", g.Audience)
	}
	if g.OwnerUserID == "" {
		return errors.New("owner user ID is required")
	}
	if g.MaxSeats < 1 {
		return fmt.Errorf("max seats must be at least 1, got %d", g.MaxSeats)
	}
	if g.UsedSeats < 0 || g.UsedSeats > g.ClaimedSeats || g.ClaimedSeats > g.MaxSeats {
		return fmt.Errorf("seat counters out of range: used=%d claimed=%d max=%d", g.UsedSeats, g.ClaimedSeats, g.MaxSeats)
	}
	if g.EndDate.Before(g.StartDate) {
		return errors.New("end date is before start date")
	}

	switch g.Kind {
	case GrantKindDemo:
		if g.Details.PromoTag == "" {
			return errors.New("demo grants require a promo tag")
		}
	case GrantKindPurchase:
		if g.Details.PaymentRef == "" {
			return errors.New("purchase grants require a payment reference")
		}
		if g.Details.PackageRef == "" {
			return errors.New("purchase grants require a package reference")
		}
	}
	return nil
}

// RemainingSeats returns how many seats have not been consumed yet.
func (g *AccessGrant) RemainingSeats() int {
	return g.MaxSeats - g.UsedSeats
}

// AdmitsNewUsers reports whether a user without a redemption entry may start.
func (g *AccessGrant) AdmitsNewUsers() bool {
	return g.ClaimedSeats < g.MaxSeats
}

// ExpiresAt returns the last instant the grant is usable: the end date
// extended to 23:59:59.999 of the same calendar day in loc. A nil loc uses
// the end date's own location.
func (g *AccessGrant) ExpiresAt(loc *time.Location) time.Time {
	end := g.EndDate
	if loc != nil {
		end = end.In(loc)
	}
	return EndOfDay(end)
}

// IsExpiredAt reports whether the validity window has passed at now.
func (g *AccessGrant) IsExpiredAt(now time.Time, loc *time.Location) bool {
	return g.Status == GrantStatusExpired || now.After(g.ExpiresAt(loc))
}

// EndOfDay returns 23:59:59.999 on t's calendar day in t's location.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), t.Location())
}
