package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"eventregistration/internal/domain"
)

const eventColumns = `id, owner_id, title, description, location, date, total_slots, available_slots, is_active, created_at, updated_at`

type eventRepository struct {
	DB *sql.DB
}

func NewEventRepository(db *sql.DB) domain.EventRepository {
	return &eventRepository{
		DB: db,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*domain.Event, error) {
	e := &domain.Event{}
	var dateNull sql.NullTime
	if err := row.Scan(
		&e.ID, &e.OwnerID, &e.Title, &e.Description, &e.Location, &dateNull,
		&e.TotalSlots, &e.AvailableSlots, &e.IsActive, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if dateNull.Valid {
		e.Date = &dateNull.Time
	}
	return e, nil
}

func (r *eventRepository) Create(ctx context.Context, e *domain.Event) error {
	query := `
		INSERT INTO events (owner_id, title, description, location, date, total_slots, available_slots, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	return r.DB.QueryRowContext(ctx, query,
		e.OwnerID, e.Title, e.Description, e.Location, nullTime(e.Date),
		e.TotalSlots, e.AvailableSlots, e.IsActive, e.CreatedAt, e.UpdatedAt,
	).Scan(&e.ID)
}

func (r *eventRepository) GetByID(ctx context.Context, id string) (*domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`
	e, err := scanEvent(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isInvalidTextRepresentation(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	participants, err := listParticipants(ctx, r.DB, id)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	e.Participants = participants
	return e, nil
}

func (r *eventRepository) ListActive(ctx context.Context, params domain.PaginationParams) ([]*domain.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE is_active = TRUE
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	return r.queryEvents(ctx, query, params.PageSize, params.Offset())
}

func (r *eventRepository) CountActive(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE is_active = TRUE`).Scan(&n)
	return n, err
}

func (r *eventRepository) ListByOwnerID(ctx context.Context, ownerID string) ([]*domain.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`
	return r.queryEvents(ctx, query, ownerID)
}

func (r *eventRepository) queryEvents(ctx context.Context, query string, args ...any) ([]*domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	events := make([]*domain.Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *eventRepository) Update(ctx context.Context, id string, upd domain.EventUpdate, now time.Time) (*domain.Event, error) {
	var updated *domain.Event
	err := withTx(ctx, r.DB, func(tx *sql.Tx) error {
		if _, _, err := lockEvent(ctx, tx, id); err != nil {
			if errors.Is(err, errPreconditionFailed) {
				return domain.ErrNotFound
			}
			return err
		}

		setClauses := []string{"updated_at = $1"}
		args := []any{now}
		n := 2
		add := func(column string, v any) {
			setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, n))
			args = append(args, v)
			n++
		}
		if upd.Title != nil {
			add("title", *upd.Title)
		}
		if upd.Description != nil {
			add("description", *upd.Description)
		}
		if upd.Location != nil {
			add("location", *upd.Location)
		}
		if upd.Date != nil {
			add("date", *upd.Date)
		}
		if upd.IsActive != nil {
			add("is_active", *upd.IsActive)
		}
		if upd.TotalSlots != nil {
			confirmed, err := countConfirmed(ctx, tx, id)
			if err != nil {
				return err
			}
			if *upd.TotalSlots < confirmed {
				return &domain.CapacityReductionError{Requested: *upd.TotalSlots, Confirmed: confirmed}
			}
			add("total_slots", *upd.TotalSlots)
			add("available_slots", *upd.TotalSlots-confirmed)
		}

		args = append(args, id)
		query := fmt.Sprintf(`
			UPDATE events SET %s
			WHERE id = $%d
			RETURNING %s
		`, strings.Join(setClauses, ", "), n, eventColumns)
		e, err := scanEvent(tx.QueryRowContext(ctx, query, args...))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrNotFound
			}
			return fmt.Errorf("update event: %w", err)
		}
		updated = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *eventRepository) Delete(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := withTx(ctx, r.DB, func(tx *sql.Tx) error {
		if _, _, err := lockEvent(ctx, tx, id); err != nil {
			if errors.Is(err, errPreconditionFailed) {
				return domain.ErrNotFound
			}
			return err
		}
		confirmed, err := countConfirmed(ctx, tx, id)
		if err != nil {
			return err
		}
		if confirmed > 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete event: %w", err)
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
