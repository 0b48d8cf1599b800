package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/errors"
)

func entry(available, reserved int) *StockLedgerEntry {
	return &StockLedgerEntry{ProductID: "prod-1", Available: available, Reserved: reserved, Total: available + reserved}
}

// ============================================================================
// NewStockLedgerEntry
// ============================================================================

func TestNewStockLedgerEntry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e, err := NewStockLedgerEntry("prod-1", 20, now)
	require.NoError(t, err)
	assert.Equal(t, 20, e.Available)
	assert.Equal(t, 0, e.Reserved)
	assert.Equal(t, 20, e.Total)
	assert.Equal(t, int64(0), e.Version)
	assert.NoError(t, e.CheckInvariant())
}

func TestNewStockLedgerEntry_Invalid(t *testing.T) {
	_, err := NewStockLedgerEntry("", 1, time.Now())
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = NewStockLedgerEntry("prod-1", -1, time.Now())
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

// ============================================================================
// Mutations
// ============================================================================

func TestLedgerMutations(t *testing.T) {
	tests := []struct {
		name      string
		start     *StockLedgerEntry
		apply     func(e *StockLedgerEntry) (Mutation, error)
		wantAvail int
		wantRes   int
		wantTotal int
		wantMut   Mutation
	}{
		{
			name:      "increase tracks total",
			start:     entry(10, 5),
			apply:     func(e *StockLedgerEntry) (Mutation, error) { return e.Increase(3) },
			wantAvail: 13, wantRes: 5, wantTotal: 18,
			wantMut: Mutation{ChangeType: ChangeIncrease, Quantity: 3, Before: 15, After: 18, Reason: "stock increased"},
		},
		{
			name:      "decrease tracks total",
			start:     entry(10, 5),
			apply:     func(e *StockLedgerEntry) (Mutation, error) { return e.Decrease(4) },
			wantAvail: 6, wantRes: 5, wantTotal: 11,
			wantMut: Mutation{ChangeType: ChangeDecrease, Quantity: 4, Before: 15, After: 11, Reason: "stock decreased"},
		},
		{
			name:      "reserve tracks available",
			start:     entry(20, 0),
			apply:     func(e *StockLedgerEntry) (Mutation, error) { return e.Reserve(5) },
			wantAvail: 15, wantRes: 5, wantTotal: 20,
			wantMut: Mutation{ChangeType: ChangeReserve, Quantity: 5, Before: 20, After: 15, Reason: "stock reserved"},
		},
		{
			name:      "release tracks available",
			start:     entry(15, 5),
			apply:     func(e *StockLedgerEntry) (Mutation, error) { return e.Release(5) },
			wantAvail: 20, wantRes: 0, wantTotal: 20,
			wantMut: Mutation{ChangeType: ChangeRelease, Quantity: 5, Before: 15, After: 20, Reason: "reservation released"},
		},
		{
			name:      "confirm is a decrease of total",
			start:     entry(15, 5),
			apply:     func(e *StockLedgerEntry) (Mutation, error) { return e.Confirm(5) },
			wantAvail: 15, wantRes: 0, wantTotal: 15,
			wantMut: Mutation{ChangeType: ChangeDecrease, Quantity: 5, Before: 20, After: 15, Reason: "reservation confirmed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := tt.apply(tt.start)
			require.NoError(t, err)
			assert.Equal(t, tt.wantMut, m)
			assert.Equal(t, tt.wantAvail, tt.start.Available)
			assert.Equal(t, tt.wantRes, tt.start.Reserved)
			assert.Equal(t, tt.wantTotal, tt.start.Total)
			assert.NoError(t, tt.start.CheckInvariant())
		})
	}
}

func TestLedgerMutations_RejectNonPositiveQuantity(t *testing.T) {
	ops := map[string]func(e *StockLedgerEntry, q int) (Mutation, error){
		"increase": (*StockLedgerEntry).Increase,
		"decrease": (*StockLedgerEntry).Decrease,
		"reserve":  (*StockLedgerEntry).Reserve,
		"release":  (*StockLedgerEntry).Release,
		"confirm":  (*StockLedgerEntry).Confirm,
	}
	for name, op := range ops {
		for _, q := range []int{0, -3} {
			e := entry(10, 10)
			_, err := op(e, q)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput, "%s(%d)", name, q)
			assert.Equal(t, *entry(10, 10), *e, "%s(%d) must not mutate", name, q)
		}
	}
}

func TestReserve_InsufficientStockLeavesEntryUnchanged(t *testing.T) {
	e := entry(10, 0)
	_, err := e.Reserve(100)
	require.ErrorIs(t, err, apperrors.ErrInsufficientStock)
	assert.Contains(t, err.Error(), "prod-1")
	assert.Equal(t, *entry(10, 0), *e)
}

func TestDecrease_CannotTouchReserved(t *testing.T) {
	e := entry(2, 8)
	_, err := e.Decrease(3)
	assert.ErrorIs(t, err, apperrors.ErrInsufficientStock)
}

func TestReleaseAndConfirm_ReservedShortfall(t *testing.T) {
	e := entry(10, 1)
	_, err := e.Release(2)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	_, err = e.Confirm(2)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Equal(t, *entry(10, 1), *e)
}

func TestCheckInvariant_DetectsCorruption(t *testing.T) {
	assert.Error(t, (&StockLedgerEntry{Available: 1, Reserved: 1, Total: 3}).CheckInvariant())
	assert.Error(t, (&StockLedgerEntry{Available: -1, Reserved: 1, Total: 0}).CheckInvariant())
}

// ============================================================================
// Reservation
// ============================================================================

func TestReservation_Status(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r := &Reservation{Status: ReservationActive, ExpiresAt: now.Add(time.Minute)}

	assert.True(t, r.IsActive())
	assert.False(t, r.IsExpired(now))
	assert.True(t, r.IsExpired(now.Add(time.Minute)))

	r.Status = ReservationCancelled
	assert.False(t, r.IsExpired(now.Add(time.Hour)))
	assert.True(t, r.Status.IsTerminal())
	assert.True(t, ReservationCompleted.IsTerminal())
	assert.False(t, ReservationActive.IsTerminal())
}
