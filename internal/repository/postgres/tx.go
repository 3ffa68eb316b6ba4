package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// errPreconditionFailed aborts a ledger transaction whose guard did not hold.
// It is turned into a (false, nil) result and never escapes the package.
var errPreconditionFailed = errors.New("precondition failed")

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// lockEvent takes the row lock that serializes every ledger write on one event.
func lockEvent(ctx context.Context, tx *sql.Tx, eventID string) (totalSlots, availableSlots int, err error) {
	err = tx.QueryRowContext(ctx, `
		SELECT total_slots, available_slots
		FROM events
		WHERE id = $1
		FOR UPDATE
	`, eventID).Scan(&totalSlots, &availableSlots)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isInvalidTextRepresentation(err) {
			return 0, 0, errPreconditionFailed
		}
		return 0, 0, fmt.Errorf("lock event: %w", err)
	}
	return totalSlots, availableSlots, nil
}

func countConfirmed(ctx context.Context, tx *sql.Tx, eventID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM participants
		WHERE event_id = $1 AND status = 'confirmed'
	`, eventID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count confirmed participants: %w", err)
	}
	return n, nil
}

// isInvalidTextRepresentation matches malformed UUID input (SQLSTATE 22P02).
func isInvalidTextRepresentation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "22P02"
}
