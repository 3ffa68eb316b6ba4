package domain

import (
	"context"
	"strings"
	"time"
)

// ParticipantStatus is the lifecycle state of a registration.
type ParticipantStatus string

const (
	StatusPending   ParticipantStatus = "pending"
	StatusConfirmed ParticipantStatus = "confirmed"
	StatusCancelled ParticipantStatus = "cancelled"

	// legacyStatusActive is what older records used for confirmed registrations.
	legacyStatusActive = "active"
)

// ParseParticipantStatus maps a stored status onto one of the three states.
// "active" is accepted as a synonym of confirmed.
func ParseParticipantStatus(s string) (ParticipantStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(StatusPending):
		return StatusPending, true
	case string(StatusConfirmed), legacyStatusActive:
		return StatusConfirmed, true
	case string(StatusCancelled):
		return StatusCancelled, true
	}
	return "", false
}

// Participant is one registration embedded in an event.
// swagger:model Participant
type Participant struct {
	ID      string            `json:"id"`
	EventID string            `json:"event_id"`
	Name    string            `json:"name"`
	Email   string            `json:"email"`
	Phone   string            `json:"phone"`
	Status  ParticipantStatus `json:"status"`

	// VerificationCodeHash is the bcrypt hash of the 6-digit code. Only set while pending.
	VerificationCodeHash      string     `json:"-"`
	VerificationCodeExpiresAt *time.Time `json:"verification_code_expires_at,omitempty"`

	RegisteredAt time.Time  `json:"registered_at"`
	ConfirmedAt  *time.Time `json:"confirmed_at,omitempty"`
	VerifiedAt   *time.Time `json:"verified_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
}

// NewConfirmedParticipant builds an organizer-created registration. It holds a slot
// from the start and carries no verification code.
func NewConfirmedParticipant(eventID, name, email, phone string, now time.Time) *Participant {
	return &Participant{
		EventID:      eventID,
		Name:         name,
		Email:        email,
		Phone:        phone,
		Status:       StatusConfirmed,
		RegisteredAt: now,
		ConfirmedAt:  &now,
	}
}

// NewPendingParticipant builds a self-service registration awaiting verification.
func NewPendingParticipant(eventID, name, email, phone, codeHash string, now time.Time, ttl time.Duration) *Participant {
	expiresAt := now.Add(ttl)
	return &Participant{
		EventID:                   eventID,
		Name:                      name,
		Email:                     email,
		Phone:                     phone,
		Status:                    StatusPending,
		VerificationCodeHash:      codeHash,
		VerificationCodeExpiresAt: &expiresAt,
		RegisteredAt:              now,
	}
}

// IsExpired reports whether a pending registration's code window has closed.
// The window is half-open: at the expiry instant the code is already expired,
// so a pending record is always exactly one of IsExpired or IsLive.
func (p *Participant) IsExpired(now time.Time) bool {
	if p.Status != StatusPending || p.VerificationCodeExpiresAt == nil {
		return false
	}
	return !now.Before(*p.VerificationCodeExpiresAt)
}

// IsLive reports whether the record counts for duplicate detection: confirmed, or
// pending with a code that has not expired yet.
func (p *Participant) IsLive(now time.Time) bool {
	switch p.Status {
	case StatusConfirmed:
		return true
	case StatusPending:
		return p.VerificationCodeExpiresAt != nil && p.VerificationCodeExpiresAt.After(now)
	}
	return false
}

// IsCancellable reports whether Cancel may act on the record.
func (p *Participant) IsCancellable() bool {
	return p.Status == StatusPending || p.Status == StatusConfirmed
}

// Clone returns a deep copy.
func (p *Participant) Clone() *Participant {
	c := *p
	c.VerificationCodeExpiresAt = cloneTime(p.VerificationCodeExpiresAt)
	c.ConfirmedAt = cloneTime(p.ConfirmedAt)
	c.VerifiedAt = cloneTime(p.VerifiedAt)
	c.CancelledAt = cloneTime(p.CancelledAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// NormalizeEmail lower-cases and trims an email for comparisons.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ParticipantLedger performs every capacity-affecting mutation as one atomic unit
// per event. Add, Confirm and Cancel return false (with a nil error) when their
// precondition did not hold at write time: the event is full, the record is a
// duplicate, or the record is no longer in the expected state.
type ParticipantLedger interface {
	// AddParticipant appends p to the event. A confirmed participant consumes a slot;
	// a pending one does not. On success p.ID is set.
	AddParticipant(ctx context.Context, eventID string, p *Participant) (added bool, err error)
	// ConfirmParticipant flips a pending, unexpired record to confirmed and consumes a
	// slot, re-checking that the confirmed count is still below TotalSlots.
	ConfirmParticipant(ctx context.Context, eventID, participantID string, now time.Time) (confirmed bool, err error)
	// CancelParticipant flips a pending or confirmed record to cancelled. A slot is
	// released only if the record was confirmed.
	CancelParticipant(ctx context.Context, eventID, participantID string, now time.Time) (cancelled bool, err error)
	// FindParticipantByEmail returns a live record (see Participant.IsLive) matching the
	// email case-insensitively, or ErrNotFound.
	FindParticipantByEmail(ctx context.Context, eventID, email string, now time.Time) (*Participant, error)
	// FindParticipantByPhone returns a live record with exactly this phone, or ErrNotFound.
	FindParticipantByPhone(ctx context.Context, eventID, phone string, now time.Time) (*Participant, error)
}

// Caller is what the identity collaborator tells the workflow about the requester.
type Caller struct {
	Authenticated bool
	UserID        string
}

// RegisterRequest is the input of RegistrationService.Register.
type RegisterRequest struct {
	EventID string
	Name    string
	Email   string
	Phone   string
}

// RegistrationService is the registration workflow: register, verify, cancel.
type RegistrationService interface {
	Register(ctx context.Context, req RegisterRequest, caller Caller) (*Participant, error)
	Verify(ctx context.Context, eventID, participantID, code string) (*Participant, error)
	Cancel(ctx context.Context, eventID, participantID string) (*Participant, error)
	ListParticipants(ctx context.Context, eventID, ownerID string) ([]*Participant, error)
}

// VerificationCodeHasher hashes and compares one-time verification codes.
type VerificationCodeHasher interface {
	Hash(code string) (string, error)
	Compare(hash, code string) error
}

// AttemptLimiter bounds how often an action keyed by key may be attempted.
type AttemptLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}
