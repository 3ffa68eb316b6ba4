package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by services and repositories. Services wrap them with a
// human-readable message via fmt.Errorf("%w: ...") so callers can use errors.Is.
var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrConflict          = errors.New("conflict")
	ErrCapacityExhausted = errors.New("no available slots for this event")
	ErrInvalidCode       = errors.New("invalid verification code")
	ErrExpiredCode       = errors.New("verification code has expired")
	ErrTooManyAttempts   = errors.New("too many verification attempts")
	// ErrRaceLost means an atomic ledger write matched nothing although the
	// pre-checks passed: another request changed the event first.
	ErrRaceLost = errors.New("concurrent update, please retry")
)

// CapacityReductionError is returned when an update would set TotalSlots below the
// number of confirmed participants.
type CapacityReductionError struct {
	Requested int
	Confirmed int
}

func (e *CapacityReductionError) Error() string {
	return fmt.Sprintf("cannot reduce total slots to %d: event has %d confirmed participants, remove %d participant(s) first",
		e.Requested, e.Confirmed, e.Confirmed-e.Requested)
}

// Unwrap lets errors.Is(err, ErrValidation) match.
func (e *CapacityReductionError) Unwrap() error { return ErrValidation }
