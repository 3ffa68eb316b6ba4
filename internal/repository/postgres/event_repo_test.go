package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"eventregistration/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

var eventRowColumns = []string{"id", "owner_id", "title", "description", "location", "date", "total_slots", "available_slots", "is_active", "created_at", "updated_at"}

var participantRowColumns = []string{"id", "event_id", "name", "email", "phone", "status", "verification_code_hash", "verification_code_expires_at", "registered_at", "confirmed_at", "verified_at", "cancelled_at"}

const lockEventPattern = `SELECT total_slots, available_slots\s+FROM events\s+WHERE id = \$1\s+FOR UPDATE`

func TestEventRepository_Create(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		event   *domain.Event
		mock    func(mock sqlmock.Sqlmock)
		wantID  string
		wantErr bool
	}{
		{
			name:  "success",
			event: domain.NewEvent("user-uuid-1", "Go Meetup", "talks", "Lisbon", nil, 3, created, created),
			mock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO events \(owner_id, title, description, location, date, total_slots, available_slots, is_active, created_at, updated_at\)`).
					WithArgs("user-uuid-1", "Go Meetup", "talks", "Lisbon", nil, 3, 3, true, created, created).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("ev-uuid-1"))
			},
			wantID:  "ev-uuid-1",
			wantErr: false,
		},
		{
			name:  "db error",
			event: domain.NewEvent("user-1", "Conf", "", "", nil, 1, created, created),
			mock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO events`).
					WillReturnError(sql.ErrConnDone)
			},
			wantID:  "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			tt.mock(mock)
			repo := NewEventRepository(db)
			err = repo.Create(ctx, tt.event)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantID, tt.event.ID)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestEventRepository_GetByID(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	confirmedAt := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		id      string
		mock    func(mock sqlmock.Sqlmock)
		want    *domain.Event
		wantErr error
	}{
		{
			name: "success with participants",
			id:   "ev-1",
			mock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT id, owner_id, title, description, location, date, total_slots, available_slots, is_active, created_at, updated_at FROM events WHERE id = \$1`).
					WithArgs("ev-1").
					WillReturnRows(sqlmock.NewRows(eventRowColumns).
						AddRow("ev-1", "user-1", "Conf", "", "Porto", nil, 2, 1, true, created, created))
				mock.ExpectQuery(`FROM participants\s+WHERE event_id = \$1\s+ORDER BY seq ASC`).
					WithArgs("ev-1").
					WillReturnRows(sqlmock.NewRows(participantRowColumns).
						AddRow("p-1", "ev-1", "Alice", "alice@example.com", "+1", "confirmed", nil, nil, created, confirmedAt, nil, nil).
						AddRow("p-2", "ev-1", "Bob", "bob@example.com", "+2", "active", nil, nil, created, confirmedAt, nil, nil))
			},
			want: &domain.Event{
				ID:             "ev-1",
				OwnerID:        "user-1",
				Title:          "Conf",
				Location:       "Porto",
				TotalSlots:     2,
				AvailableSlots: 1,
				IsActive:       true,
				CreatedAt:      created,
				UpdatedAt:      created,
				Participants: []*domain.Participant{
					{ID: "p-1", EventID: "ev-1", Name: "Alice", Email: "alice@example.com", Phone: "+1", Status: domain.StatusConfirmed, RegisteredAt: created, ConfirmedAt: &confirmedAt},
					{ID: "p-2", EventID: "ev-1", Name: "Bob", Email: "bob@example.com", Phone: "+2", Status: domain.StatusConfirmed, RegisteredAt: created, ConfirmedAt: &confirmedAt},
				},
			},
		},
		{
			name: "not found",
			id:   "ev-missing",
			mock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`FROM events WHERE id = \$1`).
					WithArgs("ev-missing").
					WillReturnError(sql.ErrNoRows)
			},
			wantErr: domain.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			tt.mock(mock)
			repo := NewEventRepository(db)
			got, err := repo.GetByID(ctx, tt.id)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				require.Nil(t, got)
				require.NoError(t, mock.ExpectationsWereMet())
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestEventRepository_ListActive(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM events\s+WHERE is_active = TRUE\s+ORDER BY created_at DESC\s+LIMIT \$1 OFFSET \$2`).
		WithArgs(10, 10).
		WillReturnRows(sqlmock.NewRows(eventRowColumns).
			AddRow("ev-3", "user-1", "Third", "", "", nil, 5, 5, true, created, created))

	repo := NewEventRepository(db)
	got, err := repo.ListActive(ctx, domain.PaginationParams{Page: 2, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "ev-3", got[0].ID)
	require.Nil(t, got[0].Participants)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepository_Update(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	updatedAt := time.Date(2025, 1, 3, 9, 30, 0, 0, time.UTC)
	title := "Renamed"
	five := 5
	one := 1

	tests := []struct {
		name  string
		upd   domain.EventUpdate
		mock  func(mock sqlmock.Sqlmock)
		check func(t *testing.T, got *domain.Event, err error)
	}{
		{
			name: "title and capacity",
			upd:  domain.EventUpdate{Title: &title, TotalSlots: &five},
			mock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(lockEventPattern).
					WithArgs("ev-1").
					WillReturnRows(sqlmock.NewRows([]string{"total_slots", "available_slots"}).AddRow(3, 1))
				mock.ExpectQuery(`SELECT COUNT\(\*\) FROM participants`).
					WithArgs("ev-1").
					WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
				mock.ExpectQuery(`UPDATE events SET updated_at = \$1, title = \$2, total_slots = \$3, available_slots = \$4\s+WHERE id = \$5`).
					WithArgs(updatedAt, "Renamed", 5, 3, "ev-1").
					WillReturnRows(sqlmock.NewRows(eventRowColumns).
						AddRow("ev-1", "user-1", "Renamed", "", "", nil, 5, 3, true, created, updatedAt))
				mock.ExpectCommit()
			},
			check: func(t *testing.T, got *domain.Event, err error) {
				require.NoError(t, err)
				require.Equal(t, "Renamed", got.Title)
				require.Equal(t, 5, got.TotalSlots)
				require.Equal(t, 3, got.AvailableSlots)
				require.Equal(t, updatedAt, got.UpdatedAt)
			},
		},
		{
			name: "capacity below confirmed",
			upd:  domain.EventUpdate{TotalSlots: &one},
			mock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(lockEventPattern).
					WithArgs("ev-1").
					WillReturnRows(sqlmock.NewRows([]string{"total_slots", "available_slots"}).AddRow(3, 1))
				mock.ExpectQuery(`SELECT COUNT\(\*\) FROM participants`).
					WithArgs("ev-1").
					WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
				mock.ExpectRollback()
			},
			check: func(t *testing.T, got *domain.Event, err error) {
				require.Nil(t, got)
				require.ErrorIs(t, err, domain.ErrValidation)
				var capErr *domain.CapacityReductionError
				require.True(t, errors.As(err, &capErr))
				require.Equal(t, 2, capErr.Confirmed)
				require.Contains(t, err.Error(), "remove 1 participant(s) first")
			},
		},
		{
			name: "event missing",
			upd:  domain.EventUpdate{Title: &title},
			mock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(lockEventPattern).
					WithArgs("ev-1").
					WillReturnError(sql.ErrNoRows)
				mock.ExpectRollback()
			},
			check: func(t *testing.T, got *domain.Event, err error) {
				require.Nil(t, got)
				require.ErrorIs(t, err, domain.ErrNotFound)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			tt.mock(mock)
			repo := NewEventRepository(db)
			got, err := repo.Update(ctx, "ev-1", tt.upd, updatedAt)
			tt.check(t, got, err)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestEventRepository_Delete(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		mock        func(mock sqlmock.Sqlmock)
		wantDeleted bool
		wantErr     error
	}{
		{
			name: "no confirmed participants",
			mock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(lockEventPattern).
					WithArgs("ev-1").
					WillReturnRows(sqlmock.NewRows([]string{"total_slots", "available_slots"}).AddRow(3, 3))
				mock.ExpectQuery(`SELECT COUNT\(\*\) FROM participants`).
					WithArgs("ev-1").
					WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
				mock.ExpectExec(`DELETE FROM events WHERE id = \$1`).
					WithArgs("ev-1").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
			wantDeleted: true,
		},
		{
			name: "has confirmed participants",
			mock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(lockEventPattern).
					WithArgs("ev-1").
					WillReturnRows(sqlmock.NewRows([]string{"total_slots", "available_slots"}).AddRow(3, 2))
				mock.ExpectQuery(`SELECT COUNT\(\*\) FROM participants`).
					WithArgs("ev-1").
					WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
				mock.ExpectCommit()
			},
			wantDeleted: false,
		},
		{
			name: "not found",
			mock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(lockEventPattern).
					WithArgs("ev-1").
					WillReturnError(sql.ErrNoRows)
				mock.ExpectRollback()
			},
			wantErr: domain.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			tt.mock(mock)
			repo := NewEventRepository(db)
			deleted, err := repo.Delete(ctx, "ev-1")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tt.wantDeleted, deleted)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
