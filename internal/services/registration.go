package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"regexp"
	"strings"
	"time"

	"eventregistration/internal/clock"
	"eventregistration/internal/domain"
	"eventregistration/internal/metrics"
)

const (
	verificationCodeMin = 100000
	verificationCodeMax = 999999
	defaultCodeTTL      = 15 * time.Minute
)

var (
	emailRegexp            = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	verificationCodeRegexp = regexp.MustCompile(`^\d{6}$`)
)

// RegistrationDeps groups the collaborators of the registration workflow.
type RegistrationDeps struct {
	Events        domain.EventRepository
	Ledger        domain.ParticipantLedger
	Hasher        domain.VerificationCodeHasher
	Limiter       domain.AttemptLimiter // optional
	Notifications *NotificationDispatcher
	Clock         clock.Clock
	Logger        *slog.Logger
	CodeTTL       time.Duration
	Timeout       time.Duration
}

type registrationService struct {
	events         domain.EventRepository
	ledger         domain.ParticipantLedger
	hasher         domain.VerificationCodeHasher
	limiter        domain.AttemptLimiter
	notifications  *NotificationDispatcher
	clock          clock.Clock
	logger         *slog.Logger
	codeTTL        time.Duration
	contextTimeout time.Duration
}

func NewRegistrationService(deps RegistrationDeps) domain.RegistrationService {
	s := &registrationService{
		events:         deps.Events,
		ledger:         deps.Ledger,
		hasher:         deps.Hasher,
		limiter:        deps.Limiter,
		notifications:  deps.Notifications,
		clock:          deps.Clock,
		logger:         deps.Logger,
		codeTTL:        deps.CodeTTL,
		contextTimeout: deps.Timeout,
	}
	if s.clock == nil {
		s.clock = clock.NewSystem()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.codeTTL <= 0 {
		s.codeTTL = defaultCodeTTL
	}
	if s.contextTimeout <= 0 {
		s.contextTimeout = 5 * time.Second
	}
	return s
}

func (s *registrationService) Register(ctx context.Context, req domain.RegisterRequest, caller domain.Caller) (*domain.Participant, error) {
	ctx, cancel := context.WithTimeout(ctx, s.contextTimeout)
	defer cancel()

	kind := string(domain.StatusPending)
	if caller.Authenticated {
		kind = string(domain.StatusConfirmed)
	}
	p, err := s.register(ctx, req, caller)
	metrics.RecordRegistration(kind, outcomeOf(err))
	return p, err
}

func (s *registrationService) register(ctx context.Context, req domain.RegisterRequest, caller domain.Caller) (*domain.Participant, error) {
	eventID := strings.TrimSpace(req.EventID)
	name := strings.TrimSpace(req.Name)
	email := domain.NormalizeEmail(req.Email)
	phone := strings.TrimSpace(req.Phone)
	if eventID == "" || name == "" || email == "" || phone == "" {
		return nil, fmt.Errorf("%w: event id, name, email and phone are required", domain.ErrValidation)
	}
	if !emailRegexp.MatchString(email) {
		return nil, fmt.Errorf("%w: invalid email format", domain.ErrValidation)
	}

	event, err := s.getEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if err := s.checkDuplicate(ctx, eventID, email, phone, now); err != nil {
		return nil, err
	}
	if event.IsFull() {
		return nil, domain.ErrCapacityExhausted
	}

	var (
		p    *domain.Participant
		code string
	)
	if caller.Authenticated {
		p = domain.NewConfirmedParticipant(eventID, name, email, phone, now)
	} else {
		code, err = generateVerificationCode()
		if err != nil {
			return nil, fmt.Errorf("generate verification code: %w", err)
		}
		hash, err := s.hasher.Hash(code)
		if err != nil {
			return nil, fmt.Errorf("hash verification code: %w", err)
		}
		p = domain.NewPendingParticipant(eventID, name, email, phone, hash, now, s.codeTTL)
	}

	added, err := s.ledger.AddParticipant(ctx, eventID, p)
	if err != nil {
		return nil, fmt.Errorf("add participant: %w", err)
	}
	if !added {
		return nil, s.explainAddLoss(ctx, p, now)
	}

	s.logger.Info("participant registered",
		"event_id", eventID, "participant_id", p.ID, "status", p.Status, "authenticated", caller.Authenticated)

	if p.Status == domain.StatusPending {
		s.notifications.VerificationCode(ctx, &domain.VerificationCodeMessage{
			To:               p.Phone,
			Email:            p.Email,
			Name:             p.Name,
			EventTitle:       event.Title,
			Code:             code,
			ExpiresInMinutes: int(s.codeTTL / time.Minute),
		})
	}
	return p, nil
}

// checkDuplicate looks for a live registration with the same phone, then email.
func (s *registrationService) checkDuplicate(ctx context.Context, eventID, email, phone string, now time.Time) error {
	_, err := s.ledger.FindParticipantByPhone(ctx, eventID, phone, now)
	switch {
	case err == nil:
		return fmt.Errorf("%w: phone number already registered for this event", domain.ErrConflict)
	case !errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("find participant by phone: %w", err)
	}
	_, err = s.ledger.FindParticipantByEmail(ctx, eventID, email, now)
	switch {
	case err == nil:
		return fmt.Errorf("%w: email already registered for this event", domain.ErrConflict)
	case !errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("find participant by email: %w", err)
	}
	return nil
}

// explainAddLoss re-reads the event after AddParticipant declined, to tell the
// caller whether a duplicate or a full event beat them to it.
func (s *registrationService) explainAddLoss(ctx context.Context, p *domain.Participant, now time.Time) error {
	metrics.RecordRaceLost("add")
	event, err := s.events.GetByID(ctx, p.EventID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: event not found", domain.ErrNotFound)
		}
		return fmt.Errorf("%w: failed to register", domain.ErrRaceLost)
	}
	for _, existing := range event.Participants {
		if !existing.IsLive(now) {
			continue
		}
		if existing.Phone == p.Phone {
			return fmt.Errorf("%w: phone number already registered for this event", domain.ErrConflict)
		}
		if domain.NormalizeEmail(existing.Email) == p.Email {
			return fmt.Errorf("%w: email already registered for this event", domain.ErrConflict)
		}
	}
	if p.Status == domain.StatusConfirmed && event.IsFull() {
		return domain.ErrCapacityExhausted
	}
	return fmt.Errorf("%w: failed to register", domain.ErrRaceLost)
}

func (s *registrationService) Verify(ctx context.Context, eventID, participantID, code string) (*domain.Participant, error) {
	ctx, cancel := context.WithTimeout(ctx, s.contextTimeout)
	defer cancel()

	p, err := s.verify(ctx, eventID, participantID, code)
	metrics.RecordVerification(outcomeOf(err))
	return p, err
}

func (s *registrationService) verify(ctx context.Context, eventID, participantID, code string) (*domain.Participant, error) {
	eventID = strings.TrimSpace(eventID)
	participantID = strings.TrimSpace(participantID)
	code = strings.TrimSpace(code)
	if eventID == "" || participantID == "" || code == "" {
		return nil, fmt.Errorf("%w: event id, participant id and code are required", domain.ErrValidation)
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, "verify:"+eventID+":"+participantID)
		if err != nil {
			s.logger.Warn("verify attempt limiter unavailable", "event_id", eventID, "participant_id", participantID, "error", err)
		} else if !allowed {
			return nil, domain.ErrTooManyAttempts
		}
	}

	event, err := s.getEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	p := event.FindParticipant(participantID)
	if p == nil || p.Status != domain.StatusPending {
		return nil, fmt.Errorf("%w: pending registration not found", domain.ErrNotFound)
	}

	now := s.clock.Now()
	if p.IsExpired(now) {
		return nil, domain.ErrExpiredCode
	}
	if !verificationCodeRegexp.MatchString(code) {
		return nil, domain.ErrInvalidCode
	}
	if err := s.hasher.Compare(p.VerificationCodeHash, code); err != nil {
		return nil, domain.ErrInvalidCode
	}
	if event.IsFull() {
		return nil, domain.ErrCapacityExhausted
	}

	confirmed, err := s.ledger.ConfirmParticipant(ctx, eventID, participantID, now)
	if err != nil {
		return nil, fmt.Errorf("confirm participant: %w", err)
	}
	if !confirmed {
		return nil, s.explainConfirmLoss(ctx, eventID, participantID, now)
	}

	p.Status = domain.StatusConfirmed
	p.ConfirmedAt = &now
	p.VerifiedAt = &now
	p.VerificationCodeHash = ""

	s.logger.Info("participant verified", "event_id", eventID, "participant_id", participantID)
	s.notifications.RegistrationConfirmation(ctx, &domain.RegistrationConfirmationMessage{
		To:            p.Phone,
		Email:         p.Email,
		Name:          p.Name,
		EventTitle:    event.Title,
		EventDate:     event.Date,
		EventLocation: event.Location,
	})
	return p, nil
}

func (s *registrationService) explainConfirmLoss(ctx context.Context, eventID, participantID string, now time.Time) error {
	metrics.RecordRaceLost("confirm")
	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return fmt.Errorf("%w: failed to confirm registration", domain.ErrRaceLost)
	}
	p := event.FindParticipant(participantID)
	switch {
	case p == nil || p.Status != domain.StatusPending:
		return fmt.Errorf("%w: pending registration not found", domain.ErrNotFound)
	case p.IsExpired(now):
		return domain.ErrExpiredCode
	case event.IsFull():
		return domain.ErrCapacityExhausted
	}
	return fmt.Errorf("%w: failed to confirm registration", domain.ErrRaceLost)
}

func (s *registrationService) Cancel(ctx context.Context, eventID, participantID string) (*domain.Participant, error) {
	ctx, cancel := context.WithTimeout(ctx, s.contextTimeout)
	defer cancel()

	p, err := s.cancel(ctx, eventID, participantID)
	metrics.RecordCancellation(outcomeOf(err))
	return p, err
}

func (s *registrationService) cancel(ctx context.Context, eventID, participantID string) (*domain.Participant, error) {
	eventID = strings.TrimSpace(eventID)
	participantID = strings.TrimSpace(participantID)
	if eventID == "" || participantID == "" {
		return nil, fmt.Errorf("%w: event id and participant id are required", domain.ErrValidation)
	}

	event, err := s.getEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	p := event.FindParticipant(participantID)
	if p == nil || !p.IsCancellable() {
		return nil, errActiveRegistrationNotFound
	}

	now := s.clock.Now()
	cancelled, err := s.ledger.CancelParticipant(ctx, eventID, participantID, now)
	if err != nil {
		return nil, fmt.Errorf("cancel participant: %w", err)
	}
	if !cancelled {
		metrics.RecordRaceLost("cancel")
		// A concurrent cancel of the same record is reported like a second cancel.
		if current, err := s.events.GetByID(ctx, eventID); err == nil {
			if cp := current.FindParticipant(participantID); cp == nil || !cp.IsCancellable() {
				return nil, errActiveRegistrationNotFound
			}
		}
		return nil, fmt.Errorf("%w: failed to cancel registration", domain.ErrRaceLost)
	}

	p.Status = domain.StatusCancelled
	p.CancelledAt = &now

	s.logger.Info("participant cancelled", "event_id", eventID, "participant_id", participantID)
	if p.Phone != "" {
		s.notifications.CancellationConfirmation(ctx, &domain.CancellationConfirmationMessage{
			To:         p.Phone,
			Email:      p.Email,
			Name:       p.Name,
			EventTitle: event.Title,
		})
	}
	return p, nil
}

func (s *registrationService) ListParticipants(ctx context.Context, eventID, ownerID string) ([]*domain.Participant, error) {
	ctx, cancel := context.WithTimeout(ctx, s.contextTimeout)
	defer cancel()

	event, err := s.getEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.OwnerID != ownerID {
		return nil, domain.ErrForbidden
	}
	if event.Participants == nil {
		return []*domain.Participant{}, nil
	}
	return event.Participants, nil
}

var errActiveRegistrationNotFound = fmt.Errorf("%w: active registration not found", domain.ErrNotFound)

func (s *registrationService) getEvent(ctx context.Context, eventID string) (*domain.Event, error) {
	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: event not found", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return event, nil
}

func generateVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(verificationCodeMax-verificationCodeMin+1))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+verificationCodeMin), nil
}

// outcomeOf maps a workflow error onto a metrics label.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrCapacityExhausted):
		return "capacity_exhausted"
	case errors.Is(err, domain.ErrInvalidCode):
		return "invalid_code"
	case errors.Is(err, domain.ErrExpiredCode):
		return "expired_code"
	case errors.Is(err, domain.ErrTooManyAttempts):
		return "too_many_attempts"
	case errors.Is(err, domain.ErrRaceLost):
		return "race_lost"
	}
	return "error"
}
