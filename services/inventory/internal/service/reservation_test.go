package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/errors"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/inventory/internal/domain"
)

// ============================================================================
// CreateReservation
// ============================================================================

func TestCreateReservation_Success(t *testing.T) {
	f := newFixture()
	f.store.seed("prod-1", 20)

	r, err := f.res.CreateReservation(context.Background(), "order-1", "prod-1", 5)
	require.NoError(t, err)

	assert.NotEmpty(t, r.ID)
	assert.Equal(t, domain.ReservationActive, r.Status)
	assert.Equal(t, testNow.Add(15*time.Minute), r.ExpiresAt)
	assertBalanced(t, f.store.entry("prod-1"), 15, 5, 20)
	assert.Equal(t, r.ID, f.store.reservation(r.ID).ID)
	assert.True(t, f.index.has(r.ID))

	h := f.history.all()
	require.Len(t, h, 1)
	assert.Equal(t, domain.ChangeReserve, h[0].ChangeType)
	assert.Equal(t, 20, h[0].BeforeQuantity)
	assert.Equal(t, 15, h[0].AfterQuantity)
	assert.Equal(t, "order-1", h[0].ReferenceID)
}

func TestCreateReservation_RepeatedRequestIsNoop(t *testing.T) {
	f := newFixture()
	f.store.seed("prod-1", 20)
	ctx := context.Background()

	first, err := f.res.CreateReservation(ctx, "order-1", "prod-1", 5)
	require.NoError(t, err)
	second, err := f.res.CreateReservation(ctx, "order-1", "prod-1", 5)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, f.store.count())
	assertBalanced(t, f.store.entry("prod-1"), 15, 5, 20)
	assert.Len(t, f.history.all(), 1)
}

func TestCreateReservation_RepeatedRequestReindexes(t *testing.T) {
	f := newFixture()
	f.store.seed("prod-1", 20)
	ctx := context.Background()

	r, err := f.res.CreateReservation(ctx, "order-1", "prod-1", 5)
	require.NoError(t, err)
	require.NoError(t, f.index.Remove(ctx, r.ID))

	_, err = f.res.CreateReservation(ctx, "order-1", "prod-1", 5)
	require.NoError(t, err)
	assert.True(t, f.index.has(r.ID))
}

func TestCreateReservation_AfterCancelReservesAgain(t *testing.T) {
	f := newFixture()
	f.store.seed("prod-1", 20)
	ctx := context.Background()

	first, err := f.res.CreateReservation(ctx, "order-1", "prod-1", 5)
	require.NoError(t, err)
	require.NoError(t, f.res.CancelReservation(ctx, first.ID))

	second, err := f.res.CreateReservation(ctx, "order-1", "prod-1", 5)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assertBalanced(t, f.store.entry("prod-1"), 15, 5, 20)
}

func TestCreateReservation_InsufficientStockLeavesLedgerUntouched(t *testing.T) {
	f := newFixture()
	f.store.seed("prod-1", 10)

	_, err := f.res.CreateReservation(context.Background(), "order-1", "prod-1", 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInsufficientStock)
	assert.Contains(t, err.Error(), "prod-1")
	assert.Equal(t, apperrors.ClassBusiness, apperrors.Classify(err))

	e := f.store.entry("prod-1")
	assertBalanced(t, e, 10, 0, 10)
	assert.Equal(t, int64(0), e.Version)
	assert.Zero(t, f.store.count())
	assert.Zero(t, f.index.len())
	assert.Empty(t, f.history.all())
}

func TestCreateReservation_UnknownProduct(t *testing.T) {
	f := newFixture()

	_, err := f.res.CreateReservation(context.Background(), "order-1", "ghost", 1)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, apperrors.ClassValidation, apperrors.Classify(err))
	assert.Zero(t, f.store.count())
}

func TestCreateReservation_InvalidInput(t *testing.T) {
	tests := []struct {
		name      string
		orderID   string
		productID string
		qty       int
	}{
		{name: "missing order", productID: "prod-1", qty: 1},
		{name: "missing product", orderID: "order-1", qty: 1},
		{name: "zero quantity", orderID: "order-1", productID: "prod-1", qty: 0},
		{name: "negative quantity", orderID: "order-1", productID: "prod-1", qty: -2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.store.seed("prod-1", 10)

			_, err := f.res.CreateReservation(context.Background(), tt.orderID, tt.productID, tt.qty)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
			assertBalanced(t, f.store.entry("prod-1"), 10, 0, 10)
		})
	}
}

func TestCreateReservation_IndexFailureIsRetryable(t *testing.T) {
	f := newFixture()
	f.store.seed("prod-1", 20)
	ctx := context.Background()
	f.index.addErr = errors.New("redis down")

	_, err := f.res.CreateReservation(ctx, "order-1", "prod-1", 5)
	require.Error(t, err)
	assert.True(t, apperrors.Classify(err).Retryable())
	assert.Equal(t, 1, f.store.count(), "reservation is durable")

	f.index.addErr = nil
	r, err := f.res.CreateReservation(ctx, "order-1", "prod-1", 5)
	require.NoError(t, err)
	assert.True(t, f.index.has(r.ID))
	assertBalanced(t, f.store.entry("prod-1"), 15, 5, 20)
}

func TestCreateReservation_ConcurrentDuplicatesReserveOnce(t *testing.T) {
	f := newFixture()
	f.store.seed("prod-1", 20)

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := f.res.CreateReservation(context.Background(), "order-1", "prod-1", 5)
			if assert.NoError(t, err) {
				ids[i] = r.ID
			}
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, f.store.count())
	assertBalanced(t, f.store.entry("prod-1"), 15, 5, 20)
}

// ============================================================================
// Confirm / cancel
// ============================================================================

func TestConfirmReservationsByOrderID(t *testing.T) {
	f := newFixture()
	f.store.seed("prod-1", 20)
	ctx := context.Background()

	r, err := f.res.CreateReservation(ctx, "order-1", "prod-1", 5)
	require.NoError(t, err)

	require.NoError(t, f.res.ConfirmReservationsByOrderID(ctx, "order-1"))

	assertBalanced(t, f.store.entry("prod-1"), 15, 0, 15)
	assert.Equal(t, domain.ReservationCompleted, f.store.reservation(r.ID).Status)
	assert.False(t, f.index.has(r.ID))

	h := f.history.all()
	require.Len(t, h, 2)
	assert.Equal(t, domain.ChangeDecrease, h[1].ChangeType)
	assert.Equal(t, "reservation confirmed", h[1].Reason)
	assert.Equal(t, 20, h[1].BeforeQuantity)
	assert.Equal(t, 15, h[1].AfterQuantity)
}

func TestCancelReservationsByOrderID(t *testing.T) {
	f := newFixture()
	f.store.seed("prod-1", 20)
	ctx := context.Background()

	r, err := f.res.CreateReservation(ctx, "order-1", "prod-1", 5)
	require.NoError(t, err)

	require.NoError(t, f.res.CancelReservationsByOrderID(ctx, "order-1"))

	assertBalanced(t, f.store.entry("prod-1"), 20, 0, 20)
	assert.Equal(t, domain.ReservationCancelled, f.store.reservation(r.ID).Status)
	assert.False(t, f.index.has(r.ID))

	h := f.history.all()
	require.Len(t, h, 2)
	assert.Equal(t, domain.ChangeRelease, h[1].ChangeType)
	assert.Equal(t, 15, h[1].BeforeQuantity)
	assert.Equal(t, 20, h[1].AfterQuantity)
}

func TestSettleByOrder_Idempotent(t *testing.T) {
	tests := []struct {
		name   string
		settle func(s *ReservationService, ctx context.Context) error
		avail  int
		total  int
		want   domain.ReservationStatus
	}{
		{
			name:   "confirm twice",
			settle: func(s *ReservationService, ctx context.Context) error { return s.ConfirmReservationsByOrderID(ctx, "order-1") },
			avail:  15, total: 15, want: domain.ReservationCompleted,
		},
		{
			name:   "cancel twice",
			settle: func(s *ReservationService, ctx context.Context) error { return s.CancelReservationsByOrderID(ctx, "order-1") },
			avail:  20, total: 20, want: domain.ReservationCancelled,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.store.seed("prod-1", 20)
			ctx := context.Background()

			r, err := f.res.CreateReservation(ctx, "order-1", "prod-1", 5)
			require.NoError(t, err)

			require.NoError(t, tt.settle(f.res, ctx))
			once := f.store.entry("prod-1")
			require.NoError(t, tt.settle(f.res, ctx))

			assert.Equal(t, once, f.store.entry("prod-1"))
			assertBalanced(t, once, tt.avail, 0, tt.total)
			assert.Equal(t, tt.want, f.store.reservation(r.ID).Status)
			assert.Len(t, f.history.all(), 2)
		})
	}
}

func TestCancelAfterConfirmIsNoop(t *testing.T) {
	f := newFixture()
	f.store.seed("prod-1", 20)
	ctx := context.Background()

	r, err := f.res.CreateReservation(ctx, "order-1", "prod-1", 5)
	require.NoError(t, err)
	require.NoError(t, f.res.ConfirmReservationsByOrderID(ctx, "order-1"))

	require.NoError(t, f.res.CancelReservationsByOrderID(ctx, "order-1"))
	require.NoError(t, f.res.CancelReservation(ctx, r.ID))

	assertBalanced(t, f.store.entry("prod-1"), 15, 0, 15)
	assert.Equal(t, domain.ReservationCompleted, f.store.reservation(r.ID).Status)
}

func TestSettleByOrder_NoReservations(t *testing.T) {
	f := newFixture()

	assert.NoError(t, f.res.ConfirmReservationsByOrderID(context.Background(), "order-1"))
	assert.NoError(t, f.res.CancelReservationsByOrderID(context.Background(), "order-1"))
	assert.ErrorIs(t, f.res.CancelReservationsByOrderID(context.Background(), ""), apperrors.ErrInvalidInput)
}

func TestCreateReservation_AfterOrderConfirmedConsumesStock(t *testing.T) {
	f := newFixture()
	f.store.seed("prod-1", 20)
	ctx := context.Background()

	require.NoError(t, f.res.ConfirmReservationsByOrderID(ctx, "order-1"))

	r, err := f.res.CreateReservation(ctx, "order-1", "prod-1", 5)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationCompleted, r.Status)
	assertBalanced(t, f.store.entry("prod-1"), 15, 0, 15)
	assert.False(t, f.index.has(r.ID))

	h := f.history.all()
	require.Len(t, h, 2)
	assert.Equal(t, domain.ChangeReserve, h[0].ChangeType)
	assert.Equal(t, domain.ChangeDecrease, h[1].ChangeType)

	// Neither an expiry signal nor a redelivered request touches the ledger again.
	require.NoError(t, f.res.CancelReservation(ctx, r.ID))
	again, err := f.res.CreateReservation(ctx, "order-1", "prod-1", 5)
	require.NoError(t, err)
	assert.Equal(t, r.ID, again.ID)
	assert.Equal(t, domain.ReservationCompleted, f.store.reservation(r.ID).Status)
	assertBalanced(t, f.store.entry("prod-1"), 15, 0, 15)
	assert.Equal(t, 1, f.store.count())
}

func TestCreateReservation_AfterOrderCancelledHoldsNothing(t *testing.T) {
	f := newFixture()
	f.store.seed("prod-1", 20)
	ctx := context.Background()

	require.NoError(t, f.res.CancelReservationsByOrderID(ctx, "order-1"))

	r, err := f.res.CreateReservation(ctx, "order-1", "prod-1", 5)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationCancelled, r.Status)
	assert.Equal(t, domain.ReservationCancelled, f.store.reservation(r.ID).Status)
	assertBalanced(t, f.store.entry("prod-1"), 20, 0, 20)
	assert.Zero(t, f.index.len())
	assert.Empty(t, f.history.all())
}

func TestCreateReservation_FirstSettlementWins(t *testing.T) {
	f := newFixture()
	f.store.seed("prod-1", 20)
	ctx := context.Background()

	require.NoError(t, f.res.CancelReservationsByOrderID(ctx, "order-1"))
	require.NoError(t, f.res.ConfirmReservationsByOrderID(ctx, "order-1"))

	r, err := f.res.CreateReservation(ctx, "order-1", "prod-1", 5)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationCancelled, r.Status)
	assertBalanced(t, f.store.entry("prod-1"), 20, 0, 20)
}

func TestCreateReservation_OrderConfirmedDuringCreate(t *testing.T) {
	f := newFixture()
	f.store.seed("prod-1", 20)
	ctx := context.Background()

	// The confirm lands after the create read no settlement but before its
	// reservation is visible, so the confirm finds nothing ACTIVE.
	f.store.beforeCommit = func() {
		assert.NoError(t, f.res.ConfirmReservationsByOrderID(ctx, "order-1"))
		assert.Zero(t, f.store.count())
	}

	r, err := f.res.CreateReservation(ctx, "order-1", "prod-1", 5)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationCompleted, r.Status)
	assertBalanced(t, f.store.entry("prod-1"), 15, 0, 15)
	assert.Zero(t, f.index.len())
}

func TestSettleByOrder_AllLineItems(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		p := fmt.Sprintf("prod-%d", i)
		f.store.seed(p, 10)
		_, err := f.res.CreateReservation(ctx, "order-1", p, i)
		require.NoError(t, err)
	}
	f.store.seed("prod-other", 10)
	_, err := f.res.CreateReservation(ctx, "order-2", "prod-other", 4)
	require.NoError(t, err)

	require.NoError(t, f.res.ConfirmReservationsByOrderID(ctx, "order-1"))

	for i := 1; i <= 3; i++ {
		assertBalanced(t, f.store.entry(fmt.Sprintf("prod-%d", i)), 10-i, 0, 10-i)
	}
	assertBalanced(t, f.store.entry("prod-other"), 6, 4, 10)
}

func TestSettle_IndexRemovalFailureIsTolerated(t *testing.T) {
	f := newFixture()
	f.store.seed("prod-1", 20)
	ctx := context.Background()

	r, err := f.res.CreateReservation(ctx, "order-1", "prod-1", 5)
	require.NoError(t, err)
	f.index.removeErr = errors.New("redis down")

	require.NoError(t, f.res.ConfirmReservationsByOrderID(ctx, "order-1"))
	assert.True(t, f.index.has(r.ID))

	// The stale entry is later signalled; cancelling it changes nothing.
	f.index.removeErr = nil
	require.NoError(t, f.res.CancelReservation(ctx, r.ID))
	assert.False(t, f.index.has(r.ID))
	assertBalanced(t, f.store.entry("prod-1"), 15, 0, 15)
}

func TestCancelReservation_Unknown(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.index.Add(ctx, "ghost", testNow))

	assert.NoError(t, f.res.CancelReservation(ctx, "ghost"))
	assert.False(t, f.index.has("ghost"))
}

func TestExpiredReservationIsDueAndCancellable(t *testing.T) {
	f := newFixture()
	f.store.seed("prod-1", 20)
	ctx := context.Background()

	r, err := f.res.CreateReservation(ctx, "order-1", "prod-1", 5)
	require.NoError(t, err)

	due, err := f.index.Due(ctx, testNow.Add(14*time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	later := testNow.Add(15*time.Minute + time.Second)
	stored := f.store.reservation(r.ID)
	assert.True(t, stored.IsExpired(later))
	due, err = f.index.Due(ctx, later, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{r.ID}, due)

	require.NoError(t, f.res.CancelReservation(ctx, r.ID))
	assertBalanced(t, f.store.entry("prod-1"), 20, 0, 20)
	assert.Zero(t, f.index.len())
}

// ============================================================================
// Races
// ============================================================================

func TestConfirmCancelRace_ExactlyOneWins(t *testing.T) {
	for i := range 50 {
		t.Run(fmt.Sprintf("round-%d", i), func(t *testing.T) {
			f := newFixture()
			f.store.seed("prod-1", 20)
			ctx := context.Background()

			r, err := f.res.CreateReservation(ctx, "order-1", "prod-1", 5)
			require.NoError(t, err)

			var wg sync.WaitGroup
			start := make(chan struct{})
			wg.Add(2)
			go func() {
				defer wg.Done()
				<-start
				assert.NoError(t, f.res.ConfirmReservationsByOrderID(ctx, "order-1"))
			}()
			go func() {
				defer wg.Done()
				<-start
				assert.NoError(t, f.res.CancelReservation(ctx, r.ID))
			}()
			close(start)
			wg.Wait()

			e := f.store.entry("prod-1")
			switch f.store.reservation(r.ID).Status {
			case domain.ReservationCompleted:
				assertBalanced(t, e, 15, 0, 15)
			case domain.ReservationCancelled:
				assertBalanced(t, e, 20, 0, 20)
			default:
				t.Fatalf("reservation left %s", f.store.reservation(r.ID).Status)
			}
			assert.Equal(t, int64(2), e.Version, "exactly one settlement reached the ledger")
			assert.Len(t, f.history.all(), 2)
		})
	}
}

func TestConcurrentReservations_FifteenAgainstTen(t *testing.T) {
	f := newFixture()
	f.store.seed("prod-1", 10)

	var (
		wg                  sync.WaitGroup
		mu                  sync.Mutex
		succeeded, rejected int
	)
	for i := range 15 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.res.CreateReservation(context.Background(), fmt.Sprintf("order-%d", i), "prod-1", 1)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			if assert.ErrorIs(t, err, apperrors.ErrInsufficientStock) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, 5, rejected)
	assertBalanced(t, f.store.entry("prod-1"), 0, 10, 10)
	assert.Equal(t, 10, f.store.count())
	assert.Equal(t, 10, f.index.len())
}

// ============================================================================
// RebuildExpiryIndex
// ============================================================================

func TestRebuildExpiryIndex(t *testing.T) {
	f := newFixture()
	f.store.seed("prod-1", 20)
	ctx := context.Background()

	var ids []string
	for i := range 3 {
		r, err := f.res.CreateReservation(ctx, fmt.Sprintf("order-%d", i), "prod-1", 1)
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}
	require.NoError(t, f.res.ConfirmReservationsByOrderID(ctx, "order-0"))

	f.index = newFakeIndex()
	f.res.index = f.index

	n, err := f.res.RebuildExpiryIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, f.index.has(ids[0]))
	assert.True(t, f.index.has(ids[1]))
	assert.True(t, f.index.has(ids[2]))
}
