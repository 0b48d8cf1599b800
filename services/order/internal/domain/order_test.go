package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/errors"
)

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func TestLineTotal(t *testing.T) {
	tests := []struct {
		price    int64
		qty      int
		expected int64
	}{
		{1999, 3, 5997},
		{500, 1, 500},
		{1999, 0, 0},
		{0, 5, 0},
		{99999999, 1000, 99999999000},
	}
	for _, tt := range tests {
		item := OrderItem{UnitPrice: tt.price, Quantity: tt.qty}
		assert.Equal(t, tt.expected, item.LineTotal())
	}
}

func TestRecalculateTotal(t *testing.T) {
	o := &Order{Items: []OrderItem{
		{UnitPrice: 1000, Quantity: 2},
		{UnitPrice: 250, Quantity: 4},
	}}

	o.RecalculateTotal()

	assert.Equal(t, int64(3000), o.TotalAmount)
}

// ============================================================================
// State machine
// ============================================================================

func TestCanTransitionTo_Matrix(t *testing.T) {
	allowed := map[Status][]Status{
		StatusPending:   {StatusConfirmed, StatusCancelled},
		StatusConfirmed: {StatusShipped, StatusCancelled},
		StatusShipped:   {StatusDelivered},
	}

	for _, from := range ValidStatuses() {
		for _, to := range ValidStatuses() {
			want := false
			for _, s := range allowed[from] {
				if s == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, StatusDelivered.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusConfirmed.IsTerminal())
	assert.False(t, StatusShipped.IsTerminal())
	assert.False(t, Status("UNKNOWN").IsTerminal())
}

func TestTransitionTo_InvalidNamesBothStates(t *testing.T) {
	o := &Order{Status: StatusDelivered}

	err := o.TransitionTo(StatusPending, testNow)

	require.ErrorIs(t, err, apperrors.ErrInvalidStateTransition)
	assert.Contains(t, err.Error(), "DELIVERED")
	assert.Contains(t, err.Error(), "PENDING")
	assert.Equal(t, StatusDelivered, o.Status)
}

func TestConfirm(t *testing.T) {
	o := &Order{Status: StatusPending}

	require.NoError(t, o.Confirm("pay-1", testNow))

	assert.Equal(t, StatusConfirmed, o.Status)
	assert.Equal(t, "pay-1", o.PaymentID)
	assert.Equal(t, testNow, o.UpdatedAt)
	assert.True(t, o.IsConfirmedOrLater())
}

func TestCancel(t *testing.T) {
	tests := []struct {
		from    Status
		wantErr bool
	}{
		{StatusPending, false},
		{StatusConfirmed, false},
		{StatusShipped, true},
		{StatusDelivered, true},
		{StatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.from), func(t *testing.T) {
			o := &Order{Status: tt.from}

			err := o.Cancel("payment declined", testNow)

			if tt.wantErr {
				require.ErrorIs(t, err, apperrors.ErrInvalidStateTransition)
				assert.Equal(t, tt.from, o.Status)
				assert.Empty(t, o.CancelReason)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StatusCancelled, o.Status)
			assert.Equal(t, "payment declined", o.CancelReason)
		})
	}
}

func TestShipAndDeliver(t *testing.T) {
	o := &Order{Status: StatusConfirmed}

	require.NoError(t, o.MarkShipped(testNow))
	require.NoError(t, o.MarkDelivered(testNow))

	assert.Equal(t, StatusDelivered, o.Status)
	assert.True(t, o.IsConfirmedOrLater())
	assert.Error(t, o.MarkShipped(testNow))
}

func TestMarkShipped_FromPendingRejected(t *testing.T) {
	o := &Order{Status: StatusPending}

	err := o.MarkShipped(testNow)

	require.ErrorIs(t, err, apperrors.ErrInvalidStateTransition)
	assert.False(t, o.IsConfirmedOrLater())
}
