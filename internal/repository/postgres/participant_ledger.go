package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"eventregistration/internal/domain"
)

const participantColumns = `id, event_id, name, email, phone, status, verification_code_hash, verification_code_expires_at, registered_at, confirmed_at, verified_at, cancelled_at`

// liveParticipantFilter matches confirmed records and pending records whose code
// has not expired at $3.
const liveParticipantFilter = `(status = 'confirmed' OR (status = 'pending' AND verification_code_expires_at > $3))`

// participantLedger implements domain.ParticipantLedger. Every mutation runs in one
// transaction that starts by locking the event row, so concurrent writers on the
// same event are serialized and each re-validates its guard against committed state.
type participantLedger struct {
	DB *sql.DB
}

// NewParticipantLedger returns a domain.ParticipantLedger implemented with Postgres.
func NewParticipantLedger(db *sql.DB) domain.ParticipantLedger {
	return &participantLedger{DB: db}
}

func scanParticipant(row rowScanner) (*domain.Participant, error) {
	p := &domain.Participant{}
	var status string
	var codeHash sql.NullString
	var expiresAt, confirmedAt, verifiedAt, cancelledAt sql.NullTime
	if err := row.Scan(
		&p.ID, &p.EventID, &p.Name, &p.Email, &p.Phone, &status, &codeHash,
		&expiresAt, &p.RegisteredAt, &confirmedAt, &verifiedAt, &cancelledAt,
	); err != nil {
		return nil, err
	}
	parsed, ok := domain.ParseParticipantStatus(status)
	if !ok {
		return nil, fmt.Errorf("unknown participant status %q", status)
	}
	p.Status = parsed
	p.VerificationCodeHash = codeHash.String
	p.VerificationCodeExpiresAt = timePtr(expiresAt)
	p.ConfirmedAt = timePtr(confirmedAt)
	p.VerifiedAt = timePtr(verifiedAt)
	p.CancelledAt = timePtr(cancelledAt)
	return p, nil
}

func listParticipants(ctx context.Context, db *sql.DB, eventID string) ([]*domain.Participant, error) {
	query := `
		SELECT ` + participantColumns + `
		FROM participants
		WHERE event_id = $1
		ORDER BY seq ASC
	`
	rows, err := db.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	participants := make([]*domain.Participant, 0)
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

func (r *participantLedger) AddParticipant(ctx context.Context, eventID string, p *domain.Participant) (bool, error) {
	err := withTx(ctx, r.DB, func(tx *sql.Tx) error {
		if _, _, err := lockEvent(ctx, tx, eventID); err != nil {
			return err
		}

		var duplicate bool
		err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM participants
				WHERE event_id = $1
				  AND (lower(email) = lower($2) OR phone = $4)
				  AND `+liveParticipantFilter+`
			)
		`, eventID, p.Email, p.RegisteredAt, p.Phone).Scan(&duplicate)
		if err != nil {
			return fmt.Errorf("check duplicate participant: %w", err)
		}
		if duplicate {
			return errPreconditionFailed
		}

		if p.Status == domain.StatusConfirmed {
			res, err := tx.ExecContext(ctx, `
				UPDATE events
				SET available_slots = available_slots - 1, updated_at = $2
				WHERE id = $1
				  AND available_slots > 0
				  AND total_slots > (SELECT COUNT(*) FROM participants WHERE event_id = $1 AND status = 'confirmed')
			`, eventID, p.RegisteredAt)
			if err != nil {
				return fmt.Errorf("claim slot: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return errPreconditionFailed
			}
		}

		err = tx.QueryRowContext(ctx, `
			INSERT INTO participants (event_id, name, email, phone, status, verification_code_hash, verification_code_expires_at, registered_at, confirmed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id
		`, eventID, p.Name, p.Email, p.Phone, string(p.Status),
			nullString(p.VerificationCodeHash), nullTime(p.VerificationCodeExpiresAt),
			p.RegisteredAt, nullTime(p.ConfirmedAt),
		).Scan(&p.ID)
		if err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
		p.EventID = eventID
		return nil
	})
	return ledgerResult(err)
}

func (r *participantLedger) ConfirmParticipant(ctx context.Context, eventID, participantID string, now time.Time) (bool, error) {
	err := withTx(ctx, r.DB, func(tx *sql.Tx) error {
		totalSlots, _, err := lockEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}
		confirmed, err := countConfirmed(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if confirmed >= totalSlots {
			return errPreconditionFailed
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE participants
			SET status = 'confirmed', confirmed_at = $3, verified_at = $3, verification_code_hash = NULL
			WHERE id = $2 AND event_id = $1
			  AND status = 'pending'
			  AND verification_code_expires_at > $3
		`, eventID, participantID, now)
		if err != nil {
			if isInvalidTextRepresentation(err) {
				return errPreconditionFailed
			}
			return fmt.Errorf("confirm participant: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errPreconditionFailed
		}

		res, err = tx.ExecContext(ctx, `
			UPDATE events
			SET available_slots = available_slots - 1, updated_at = $2
			WHERE id = $1 AND available_slots > 0
		`, eventID, now)
		if err != nil {
			return fmt.Errorf("claim slot: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errPreconditionFailed
		}
		return nil
	})
	return ledgerResult(err)
}

func (r *participantLedger) CancelParticipant(ctx context.Context, eventID, participantID string, now time.Time) (bool, error) {
	err := withTx(ctx, r.DB, func(tx *sql.Tx) error {
		if _, _, err := lockEvent(ctx, tx, eventID); err != nil {
			return err
		}

		var raw string
		err := tx.QueryRowContext(ctx, `
			SELECT status FROM participants
			WHERE id = $2 AND event_id = $1
			FOR UPDATE
		`, eventID, participantID).Scan(&raw)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) || isInvalidTextRepresentation(err) {
				return errPreconditionFailed
			}
			return fmt.Errorf("lock participant: %w", err)
		}
		status, ok := domain.ParseParticipantStatus(raw)
		if !ok || (status != domain.StatusPending && status != domain.StatusConfirmed) {
			return errPreconditionFailed
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE participants
			SET status = 'cancelled', cancelled_at = $3
			WHERE id = $2 AND event_id = $1
		`, eventID, participantID, now); err != nil {
			return fmt.Errorf("cancel participant: %w", err)
		}

		// Pending records never held a slot. The upper bound keeps a stray
		// release from pushing available_slots past total_slots.
		if status == domain.StatusConfirmed {
			if _, err := tx.ExecContext(ctx, `
				UPDATE events
				SET available_slots = available_slots + 1, updated_at = $2
				WHERE id = $1 AND available_slots < total_slots
			`, eventID, now); err != nil {
				return fmt.Errorf("release slot: %w", err)
			}
		}
		return nil
	})
	return ledgerResult(err)
}

func (r *participantLedger) FindParticipantByEmail(ctx context.Context, eventID, email string, now time.Time) (*domain.Participant, error) {
	query := `
		SELECT ` + participantColumns + `
		FROM participants
		WHERE event_id = $1 AND lower(email) = lower($2) AND ` + liveParticipantFilter + `
		ORDER BY seq ASC
		LIMIT 1
	`
	return r.findOne(ctx, query, eventID, domain.NormalizeEmail(email), now)
}

func (r *participantLedger) FindParticipantByPhone(ctx context.Context, eventID, phone string, now time.Time) (*domain.Participant, error) {
	query := `
		SELECT ` + participantColumns + `
		FROM participants
		WHERE event_id = $1 AND phone = $2 AND ` + liveParticipantFilter + `
		ORDER BY seq ASC
		LIMIT 1
	`
	return r.findOne(ctx, query, eventID, phone, now)
}

func (r *participantLedger) findOne(ctx context.Context, query string, args ...any) (*domain.Participant, error) {
	p, err := scanParticipant(r.DB.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isInvalidTextRepresentation(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func ledgerResult(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if errors.Is(err, errPreconditionFailed) {
		return false, nil
	}
	return false, err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
