package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestEvent_SlotArithmetic(t *testing.T) {
	e := NewEvent("owner-1", "Go Meetup", "", "", nil, 2, testNow, testNow)
	require.True(t, e.HasAvailableSlots())

	require.NoError(t, e.DecrementSlots())
	require.NoError(t, e.DecrementSlots())
	assert.False(t, e.HasAvailableSlots())
	require.ErrorIs(t, e.DecrementSlots(), ErrCapacityExhausted)
	assert.Equal(t, 0, e.AvailableSlots)

	e.IncrementSlots()
	e.IncrementSlots()
	e.IncrementSlots()
	assert.Equal(t, 2, e.AvailableSlots)
}

func TestEvent_ConfirmedCountAndReduction(t *testing.T) {
	e := NewEvent("owner-1", "Go Meetup", "", "", nil, 3, testNow, testNow)
	e.Participants = []*Participant{
		NewConfirmedParticipant("ev-1", "Alice", "alice@example.com", "1", testNow),
		NewConfirmedParticipant("ev-1", "Bob", "bob@example.com", "2", testNow),
		NewPendingParticipant("ev-1", "Carol", "carol@example.com", "3", "hash", testNow, 15*time.Minute),
	}
	e.Participants[0].ID = "p-1"

	assert.Equal(t, 2, e.ConfirmedCount())
	assert.False(t, e.IsFull())

	e.RecomputeAvailableSlots()
	assert.Equal(t, 1, e.AvailableSlots)

	err := e.CanReduceTo(1)
	var capErr *CapacityReductionError
	require.True(t, errors.As(err, &capErr))
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "remove 1 participant(s) first")
	require.NoError(t, e.CanReduceTo(2))

	e.TotalSlots = 2
	assert.True(t, e.IsFull())

	assert.Same(t, e.Participants[0], e.FindParticipant("p-1"))
	assert.Nil(t, e.FindParticipant("missing"))
}

func TestEvent_CloneIsDeep(t *testing.T) {
	date := testNow.Add(24 * time.Hour)
	e := NewEvent("owner-1", "Go Meetup", "", "", &date, 1, testNow, testNow)
	e.Participants = []*Participant{NewConfirmedParticipant("ev-1", "Alice", "alice@example.com", "1", testNow)}

	c := e.Clone()
	c.Participants[0].Name = "Mallory"
	*c.Date = testNow

	assert.Equal(t, "Alice", e.Participants[0].Name)
	assert.Equal(t, date, *e.Date)
}

func TestParseParticipantStatus(t *testing.T) {
	tests := []struct {
		in     string
		want   ParticipantStatus
		wantOK bool
	}{
		{in: "pending", want: StatusPending, wantOK: true},
		{in: "confirmed", want: StatusConfirmed, wantOK: true},
		{in: " Active ", want: StatusConfirmed, wantOK: true},
		{in: "cancelled", want: StatusCancelled, wantOK: true},
		{in: "expired", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseParticipantStatus(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParticipant_Liveness(t *testing.T) {
	pending := NewPendingParticipant("ev-1", "Carol", "carol@example.com", "3", "hash", testNow, 15*time.Minute)
	confirmed := NewConfirmedParticipant("ev-1", "Alice", "alice@example.com", "1", testNow)
	cancelled := NewConfirmedParticipant("ev-1", "Bob", "bob@example.com", "2", testNow)
	cancelled.Status = StatusCancelled

	later := testNow.Add(16 * time.Minute)

	expiry := testNow.Add(15 * time.Minute)
	assert.True(t, pending.IsExpired(expiry))
	assert.False(t, pending.IsLive(expiry))
	assert.False(t, pending.IsExpired(expiry.Add(-time.Nanosecond)))
	assert.True(t, pending.IsLive(expiry.Add(-time.Nanosecond)))

	assert.True(t, pending.IsLive(testNow))
	assert.False(t, pending.IsExpired(testNow))
	assert.False(t, pending.IsLive(later))
	assert.True(t, pending.IsExpired(later))

	assert.True(t, confirmed.IsLive(later))
	assert.False(t, confirmed.IsExpired(later))
	assert.False(t, cancelled.IsLive(testNow))

	assert.True(t, pending.IsCancellable())
	assert.True(t, confirmed.IsCancellable())
	assert.False(t, cancelled.IsCancellable())
}

func TestPaginationParams_Offset(t *testing.T) {
	assert.Equal(t, 0, PaginationParams{Page: 0, PageSize: 20}.Offset())
	assert.Equal(t, 0, PaginationParams{Page: 1, PageSize: 20}.Offset())
	assert.Equal(t, 40, PaginationParams{Page: 3, PageSize: 20}.Offset())
}

func TestPaginationParams_Normalize(t *testing.T) {
	assert.Equal(t, PaginationParams{Page: 1, PageSize: DefaultPageSize}, PaginationParams{}.Normalize())
	assert.Equal(t, PaginationParams{Page: 2, PageSize: MaxPageSize}, PaginationParams{Page: 2, PageSize: 500}.Normalize())
	assert.Equal(t, PaginationParams{Page: 4, PageSize: 15}, PaginationParams{Page: 4, PageSize: 15}.Normalize())
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "alice@example.com", NormalizeEmail("  Alice@Example.COM "))
}
