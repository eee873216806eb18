package models

import (
	"time"

	"github.com/google/uuid"
)

// RedemptionState is the per-(grant, user) seat state.
//
//	not_started --start()--> started --complete()--> seat_consumed
type RedemptionState string

const (
	RedemptionNotStarted   RedemptionState = "not_started"
	RedemptionStarted      RedemptionState = "started"
	RedemptionSeatConsumed RedemptionState = "seat_consumed"
)

// IsValid reports whether s is a persisted state. not_started is never stored.
func (s RedemptionState) IsValid() bool {
	return s == RedemptionStarted || s == RedemptionSeatConsumed
}

// Redemption is one user's entry on an access grant.
type Redemption struct {
	GrantID     uuid.UUID       `json:"grant_id"`
	UserID      string          `json:"user_id"`
	State       RedemptionState `json:"state"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Completed reports whether this redemption has consumed its seat.
func (r *Redemption) Completed() bool {
	return r != nil && r.State == RedemptionSeatConsumed
}

// StateOf returns the state for a possibly missing redemption.
func StateOf(r *Redemption) RedemptionState {
	if r == nil {
		return RedemptionNotStarted
	}
	return r.State
}
