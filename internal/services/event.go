package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"eventregistration/internal/clock"
	"eventregistration/internal/domain"
)

type eventService struct {
	eventRepo      domain.EventRepository
	clock          clock.Clock
	contextTimeout time.Duration
}

func NewEventService(eventRepo domain.EventRepository, clk clock.Clock, timeout time.Duration) domain.EventService {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &eventService{
		eventRepo:      eventRepo,
		clock:          clk,
		contextTimeout: timeout,
	}
}

func (s *eventService) CreateEvent(ctx context.Context, event *domain.Event) error {
	ctx, cancel := context.WithTimeout(ctx, s.contextTimeout)
	defer cancel()

	if event.OwnerID == "" {
		return fmt.Errorf("%w: event owner is required", domain.ErrValidation)
	}
	event.Title = strings.TrimSpace(event.Title)
	if event.Title == "" {
		return fmt.Errorf("%w: title is required", domain.ErrValidation)
	}
	if event.TotalSlots <= 0 {
		return fmt.Errorf("%w: total_slots must be a positive integer", domain.ErrValidation)
	}

	now := s.clock.Now()
	event.AvailableSlots = event.TotalSlots
	event.IsActive = true
	event.Participants = nil
	event.CreatedAt = now
	event.UpdatedAt = now

	return s.eventRepo.Create(ctx, event)
}

func (s *eventService) GetEvent(ctx context.Context, eventID string) (*domain.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, s.contextTimeout)
	defer cancel()

	event, err := s.eventRepo.GetByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return event, nil
}

func (s *eventService) ListActiveEvents(ctx context.Context, params domain.PaginationParams) ([]*domain.Event, int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.contextTimeout)
	defer cancel()

	params = params.Normalize()
	events, err := s.eventRepo.ListActive(ctx, params)
	if err != nil {
		return nil, 0, fmt.Errorf("list active events: %w", err)
	}
	total, err := s.eventRepo.CountActive(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("count active events: %w", err)
	}
	return events, total, nil
}

func (s *eventService) ListMyEvents(ctx context.Context, ownerID string) ([]*domain.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, s.contextTimeout)
	defer cancel()

	events, err := s.eventRepo.ListByOwnerID(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

func (s *eventService) UpdateEvent(ctx context.Context, eventID, ownerID string, upd domain.EventUpdate) (*domain.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, s.contextTimeout)
	defer cancel()

	if upd.Title != nil {
		t := strings.TrimSpace(*upd.Title)
		if t == "" {
			return nil, fmt.Errorf("%w: title cannot be empty", domain.ErrValidation)
		}
		upd.Title = &t
	}
	if upd.TotalSlots != nil && *upd.TotalSlots <= 0 {
		return nil, fmt.Errorf("%w: total_slots must be a positive integer", domain.ErrValidation)
	}

	if err := s.checkOwner(ctx, eventID, ownerID); err != nil {
		return nil, err
	}
	updated, err := s.eventRepo.Update(ctx, eventID, upd, s.clock.Now())
	if err != nil {
		var capErr *domain.CapacityReductionError
		switch {
		case errors.As(err, &capErr):
			return nil, capErr
		case errors.Is(err, domain.ErrNotFound):
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("update event: %w", err)
	}
	return updated, nil
}

func (s *eventService) DeleteEvent(ctx context.Context, eventID, ownerID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.contextTimeout)
	defer cancel()

	if err := s.checkOwner(ctx, eventID, ownerID); err != nil {
		return err
	}
	deleted, err := s.eventRepo.Delete(ctx, eventID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("delete event: %w", err)
	}
	if !deleted {
		return fmt.Errorf("%w: event has confirmed participants, cancel them before deleting", domain.ErrConflict)
	}
	return nil
}

func (s *eventService) checkOwner(ctx context.Context, eventID, ownerID string) error {
	event, err := s.eventRepo.GetByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("get event: %w", err)
	}
	if event.OwnerID != ownerID {
		return domain.ErrForbidden
	}
	return nil
}
