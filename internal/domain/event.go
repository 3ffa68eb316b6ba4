package domain

import (
	"context"
	"time"
)

// Event is a capacity-limited event with its registrations embedded.
// swagger:model Event
type Event struct {
	ID             string         `json:"id"`
	OwnerID        string         `json:"owner_id"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Location       string         `json:"location"`
	Date           *time.Time     `json:"date,omitempty"`
	TotalSlots     int            `json:"total_slots"`
	AvailableSlots int            `json:"available_slots"`
	IsActive       bool           `json:"is_active"`
	Participants   []*Participant `json:"participants,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// NewEvent returns an active Event with every slot available. ID is set by the repository on create.
func NewEvent(ownerID, title, description, location string, date *time.Time, totalSlots int, createdAt, updatedAt time.Time) *Event {
	return &Event{
		OwnerID:        ownerID,
		Title:          title,
		Description:    description,
		Location:       location,
		Date:           date,
		TotalSlots:     totalSlots,
		AvailableSlots: totalSlots,
		IsActive:       true,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
	}
}

// HasAvailableSlots reports whether at least one confirmed slot is left.
func (e *Event) HasAvailableSlots() bool {
	return e.AvailableSlots > 0
}

// DecrementSlots claims one slot. It fails with ErrCapacityExhausted when none is left.
// This is an in-memory guard only; the ledger enforces the same rule atomically.
func (e *Event) DecrementSlots() error {
	if e.AvailableSlots <= 0 {
		return ErrCapacityExhausted
	}
	e.AvailableSlots--
	return nil
}

// IncrementSlots releases one slot. Releasing past TotalSlots is a no-op, so a
// duplicated release cannot inflate capacity.
func (e *Event) IncrementSlots() {
	if e.AvailableSlots >= e.TotalSlots {
		return
	}
	e.AvailableSlots++
}

// ConfirmedCount returns the number of confirmed participants.
func (e *Event) ConfirmedCount() int {
	n := 0
	for _, p := range e.Participants {
		if p.Status == StatusConfirmed {
			n++
		}
	}
	return n
}

// IsFull reports whether confirmed participants already fill every slot.
func (e *Event) IsFull() bool {
	return e.ConfirmedCount() >= e.TotalSlots
}

// RecomputeAvailableSlots derives AvailableSlots from TotalSlots and the confirmed count.
func (e *Event) RecomputeAvailableSlots() {
	avail := e.TotalSlots - e.ConfirmedCount()
	if avail < 0 {
		avail = 0
	}
	e.AvailableSlots = avail
}

// FindParticipant returns the participant with the given id, or nil.
func (e *Event) FindParticipant(participantID string) *Participant {
	for _, p := range e.Participants {
		if p.ID == participantID {
			return p
		}
	}
	return nil
}

// CanReduceTo checks a TotalSlots change against the confirmed count.
func (e *Event) CanReduceTo(totalSlots int) error {
	if confirmed := e.ConfirmedCount(); totalSlots < confirmed {
		return &CapacityReductionError{Requested: totalSlots, Confirmed: confirmed}
	}
	return nil
}

// Clone returns a deep copy, participants included.
func (e *Event) Clone() *Event {
	c := *e
	c.Date = cloneTime(e.Date)
	if e.Participants != nil {
		c.Participants = make([]*Participant, len(e.Participants))
		for i, p := range e.Participants {
			c.Participants[i] = p.Clone()
		}
	}
	return &c
}

// EventUpdate carries the owner-editable fields. Nil fields are left unchanged.
type EventUpdate struct {
	Title       *string
	Description *string
	Location    *string
	Date        *time.Time
	TotalSlots  *int
	IsActive    *bool
}

// IsEmpty reports whether no field is set.
func (u EventUpdate) IsEmpty() bool {
	return u.Title == nil && u.Description == nil && u.Location == nil &&
		u.Date == nil && u.TotalSlots == nil && u.IsActive == nil
}

// EventRepository defines the interface for event storage.
type EventRepository interface {
	Create(ctx context.Context, event *Event) error
	// GetByID returns the event with its participants in registration order.
	GetByID(ctx context.Context, id string) (*Event, error)
	ListActive(ctx context.Context, params PaginationParams) ([]*Event, error)
	CountActive(ctx context.Context) (int, error)
	ListByOwnerID(ctx context.Context, ownerID string) ([]*Event, error)
	// Update applies upd atomically. A TotalSlots below the confirmed count fails
	// with *CapacityReductionError; AvailableSlots is recomputed otherwise.
	// now becomes the event's UpdatedAt.
	Update(ctx context.Context, id string, upd EventUpdate, now time.Time) (*Event, error)
	// Delete removes an event that has no confirmed participants. deleted is false
	// when confirmed participants exist.
	Delete(ctx context.Context, id string) (deleted bool, err error)
}

// EventService defines the organizer-facing event operations.
type EventService interface {
	CreateEvent(ctx context.Context, event *Event) error
	GetEvent(ctx context.Context, eventID string) (*Event, error)
	ListActiveEvents(ctx context.Context, params PaginationParams) ([]*Event, int, error)
	ListMyEvents(ctx context.Context, ownerID string) ([]*Event, error)
	UpdateEvent(ctx context.Context, eventID, ownerID string, upd EventUpdate) (*Event, error)
	DeleteEvent(ctx context.Context, eventID, ownerID string) error
}
