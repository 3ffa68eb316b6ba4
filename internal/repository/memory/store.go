// Package memory is an in-process event store. Each event is guarded by its own
// mutex, so ledger operations on one event are serialized while different events
// never contend.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"eventregistration/internal/domain"
)

type eventEntry struct {
	mu    sync.Mutex
	event *domain.Event
}

// Store implements domain.EventRepository and domain.ParticipantLedger.
type Store struct {
	mu     sync.RWMutex
	events map[string]*eventEntry
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{events: make(map[string]*eventEntry)}
}

func (s *Store) entry(id string) (*eventEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	return e, ok
}

func (s *Store) snapshot() []*eventEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*eventEntry, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e)
	}
	return out
}

func (s *Store) Create(_ context.Context, e *domain.Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	stored := e.Clone()
	if stored.Participants == nil {
		stored.Participants = []*domain.Participant{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.ID] = &eventEntry{event: stored}
	return nil
}

func (s *Store) GetByID(_ context.Context, id string) (*domain.Event, error) {
	ent, ok := s.entry(id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.event.Clone(), nil
}

// list returns copies of events matching keep, newest first, without participants.
func (s *Store) list(keep func(*domain.Event) bool) []*domain.Event {
	var out []*domain.Event
	for _, ent := range s.snapshot() {
		ent.mu.Lock()
		if keep(ent.event) {
			c := ent.event.Clone()
			c.Participants = nil
			out = append(out, c)
		}
		ent.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if out == nil {
		out = []*domain.Event{}
	}
	return out
}

func (s *Store) ListActive(_ context.Context, params domain.PaginationParams) ([]*domain.Event, error) {
	all := s.list(func(e *domain.Event) bool { return e.IsActive })
	start := params.Offset()
	if start >= len(all) {
		return []*domain.Event{}, nil
	}
	end := len(all)
	if params.PageSize > 0 && start+params.PageSize < end {
		end = start + params.PageSize
	}
	return all[start:end], nil
}

func (s *Store) CountActive(_ context.Context) (int, error) {
	return len(s.list(func(e *domain.Event) bool { return e.IsActive })), nil
}

func (s *Store) ListByOwnerID(_ context.Context, ownerID string) ([]*domain.Event, error) {
	return s.list(func(e *domain.Event) bool { return e.OwnerID == ownerID }), nil
}

func (s *Store) Update(_ context.Context, id string, upd domain.EventUpdate, now time.Time) (*domain.Event, error) {
	ent, ok := s.entry(id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	ev := ent.event
	if upd.TotalSlots != nil {
		if err := ev.CanReduceTo(*upd.TotalSlots); err != nil {
			return nil, err
		}
	}
	if upd.Title != nil {
		ev.Title = *upd.Title
	}
	if upd.Description != nil {
		ev.Description = *upd.Description
	}
	if upd.Location != nil {
		ev.Location = *upd.Location
	}
	if upd.Date != nil {
		d := *upd.Date
		ev.Date = &d
	}
	if upd.IsActive != nil {
		ev.IsActive = *upd.IsActive
	}
	if upd.TotalSlots != nil {
		ev.TotalSlots = *upd.TotalSlots
		ev.RecomputeAvailableSlots()
	}
	ev.UpdatedAt = now
	return ev.Clone(), nil
}

func (s *Store) Delete(_ context.Context, id string) (bool, error) {
	ent, ok := s.entry(id)
	if !ok {
		return false, domain.ErrNotFound
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	if ent.event.ConfirmedCount() > 0 {
		return false, nil
	}
	s.mu.Lock()
	delete(s.events, id)
	s.mu.Unlock()
	return true, nil
}

func (s *Store) AddParticipant(_ context.Context, eventID string, p *domain.Participant) (bool, error) {
	ent, ok := s.entry(eventID)
	if !ok {
		return false, nil
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	ev := ent.event

	email := domain.NormalizeEmail(p.Email)
	for _, existing := range ev.Participants {
		if !existing.IsLive(p.RegisteredAt) {
			continue
		}
		if domain.NormalizeEmail(existing.Email) == email || existing.Phone == p.Phone {
			return false, nil
		}
	}
	if p.Status == domain.StatusConfirmed {
		if ev.IsFull() {
			return false, nil
		}
		if err := ev.DecrementSlots(); err != nil {
			return false, nil
		}
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.EventID = eventID
	ev.Participants = append(ev.Participants, p.Clone())
	ev.UpdatedAt = p.RegisteredAt
	return true, nil
}

func (s *Store) ConfirmParticipant(_ context.Context, eventID, participantID string, now time.Time) (bool, error) {
	ent, ok := s.entry(eventID)
	if !ok {
		return false, nil
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	ev := ent.event

	p := ev.FindParticipant(participantID)
	if p == nil || p.Status != domain.StatusPending || p.IsExpired(now) {
		return false, nil
	}
	if ev.IsFull() {
		return false, nil
	}
	if err := ev.DecrementSlots(); err != nil {
		return false, nil
	}
	p.Status = domain.StatusConfirmed
	p.ConfirmedAt = &now
	p.VerifiedAt = &now
	p.VerificationCodeHash = ""
	ev.UpdatedAt = now
	return true, nil
}

func (s *Store) CancelParticipant(_ context.Context, eventID, participantID string, now time.Time) (bool, error) {
	ent, ok := s.entry(eventID)
	if !ok {
		return false, nil
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	ev := ent.event

	p := ev.FindParticipant(participantID)
	if p == nil || !p.IsCancellable() {
		return false, nil
	}
	wasConfirmed := p.Status == domain.StatusConfirmed
	p.Status = domain.StatusCancelled
	p.CancelledAt = &now
	if wasConfirmed {
		ev.IncrementSlots()
	}
	ev.UpdatedAt = now
	return true, nil
}

func (s *Store) FindParticipantByEmail(_ context.Context, eventID, email string, now time.Time) (*domain.Participant, error) {
	email = domain.NormalizeEmail(email)
	return s.findLive(eventID, now, func(p *domain.Participant) bool {
		return domain.NormalizeEmail(p.Email) == email
	})
}

func (s *Store) FindParticipantByPhone(_ context.Context, eventID, phone string, now time.Time) (*domain.Participant, error) {
	return s.findLive(eventID, now, func(p *domain.Participant) bool {
		return p.Phone == phone
	})
}

func (s *Store) findLive(eventID string, now time.Time, match func(*domain.Participant) bool) (*domain.Participant, error) {
	ent, ok := s.entry(eventID)
	if !ok {
		return nil, domain.ErrNotFound
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	for _, p := range ent.event.Participants {
		if p.IsLive(now) && match(p) {
			return p.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound
}
