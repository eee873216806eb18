// Package grants implements redemption checks and exactly-once seat
// allocation for access grants.
package grants

import "errors"

// Errors returned by grant operations and by store implementations.
var (
	ErrGrantNotFound      = errors.New("access grant not found")
	ErrRedemptionNotFound = errors.New("redemption not found")
	ErrInvalidCode        = errors.New("invalid code format")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrCodeTaken          = errors.New("code is already assigned to another grant")
	ErrSeatsFull          = errors.New("all seats on this code are taken")
	ErrExpired            = errors.New("access grant has expired")
	ErrNotStarted         = errors.New("user has not started this grant")
	ErrAlreadyCompleted   = errors.New("user has already consumed a seat on this grant")
)

// ErrorKind classifies an error for transport mapping.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
	KindConflict   ErrorKind = "conflict"
	KindTransient  ErrorKind = "transient"
)

// Classify returns the kind of a grant error. Anything unrecognized is
// treated as a transient store failure, which is safe to retry because every
// mutation in this package is idempotent.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCode), errors.Is(err, ErrInvalidRequest):
		return KindValidation
	case errors.Is(err, ErrGrantNotFound), errors.Is(err, ErrRedemptionNotFound):
		return KindNotFound
	case errors.Is(err, ErrSeatsFull), errors.Is(err, ErrExpired), errors.Is(err, ErrNotStarted),
		errors.Is(err, ErrAlreadyCompleted), errors.Is(err, ErrCodeTaken):
		return KindConflict
	default:
		return KindTransient
	}
}

// ConflictFlag returns the machine-readable flag for a conflict error, or ""
// if err is not a conflict.
func ConflictFlag(err error) string {
	switch {
	case errors.Is(err, ErrSeatsFull):
		return "seats_full"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrNotStarted):
		return "not_started"
	case errors.Is(err, ErrAlreadyCompleted):
		return "already_completed"
	case errors.Is(err, ErrCodeTaken):
		return "code_taken"
	}
	return ""
}
