package event

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/errors"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/events"
	pkgkafka "github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/kafka"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/order/internal/domain"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/order/internal/service"
)

// --- Mocks ---

type mockOrderService struct {
	mock.Mock
}

func (m *mockOrderService) ConfirmOrder(ctx context.Context, orderID string, payment service.PaymentResult) (*domain.Order, error) {
	args := m.Called(ctx, orderID, payment)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *mockOrderService) CancelOrder(ctx context.Context, orderID, reason string) (*domain.Order, error) {
	args := m.Called(ctx, orderID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

// --- Helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setup() (*events.Router, *mockOrderService) {
	svc := new(mockOrderService)
	r := events.NewRouter()
	NewConsumer(svc, newTestLogger()).Register(r)
	return r, svc
}

func envelope(t *testing.T, p events.Payload) *events.Envelope {
	t.Helper()
	env, err := events.NewEnvelope(p, "payment-service")
	require.NoError(t, err)
	return env
}

// --- PaymentCompleted ---

func TestHandlePaymentCompleted_ConfirmsOrder(t *testing.T) {
	r, svc := setup()
	svc.On("ConfirmOrder", mock.Anything, "order-1", service.PaymentResult{PaymentID: "pay-1"}).
		Return(&domain.Order{ID: "order-1", Status: domain.StatusConfirmed}, nil)

	err := r.Handle(context.Background(), envelope(t, events.PaymentCompleted{OrderID: "order-1", PaymentID: "pay-1"}))

	require.NoError(t, err)
	svc.AssertExpectations(t)
}

func TestHandlePaymentCompleted_CancelledOrderIsAcked(t *testing.T) {
	r, svc := setup()
	svc.On("ConfirmOrder", mock.Anything, "order-1", mock.Anything).
		Return(nil, apperrors.InvalidStateTransition("CANCELLED", "CONFIRMED"))

	err := r.Handle(context.Background(), envelope(t, events.PaymentCompleted{OrderID: "order-1", PaymentID: "pay-1"}))

	assert.NoError(t, err)
}

func TestHandlePaymentCompleted_TransientErrorIsRedelivered(t *testing.T) {
	r, svc := setup()
	svc.On("ConfirmOrder", mock.Anything, "order-1", mock.Anything).
		Return(nil, errors.New("connection refused"))

	err := r.Handle(context.Background(), envelope(t, events.PaymentCompleted{OrderID: "order-1", PaymentID: "pay-1"}))

	require.Error(t, err)
	assert.Equal(t, pkgkafka.Redeliver, pkgkafka.Decide(err, 1, 5))
	assert.Equal(t, pkgkafka.DeadLetter, pkgkafka.Decide(err, 5, 5))
}

// --- PaymentFailed ---

func TestHandlePaymentFailed_CancelsWithReason(t *testing.T) {
	r, svc := setup()
	svc.On("CancelOrder", mock.Anything, "order-1", "payment failed: card declined").
		Return(&domain.Order{ID: "order-1", Status: domain.StatusCancelled}, nil)

	err := r.Handle(context.Background(), envelope(t, events.PaymentFailed{OrderID: "order-1", Reason: "card declined"}))

	require.NoError(t, err)
	svc.AssertExpectations(t)
}

func TestHandlePaymentFailed_ShippedOrderIsAcked(t *testing.T) {
	r, svc := setup()
	svc.On("CancelOrder", mock.Anything, "order-1", mock.Anything).
		Return(nil, apperrors.InvalidStateTransition("SHIPPED", "CANCELLED"))

	err := r.Handle(context.Background(), envelope(t, events.PaymentFailed{OrderID: "order-1", Reason: "card declined"}))

	assert.NoError(t, err)
}

// --- ReservationFailed ---

func TestHandleReservationFailed_CancelsWithReason(t *testing.T) {
	r, svc := setup()
	svc.On("CancelOrder", mock.Anything, "order-1", "reservation failed: insufficient stock").
		Return(&domain.Order{ID: "order-1", Status: domain.StatusCancelled}, nil)

	err := r.Handle(context.Background(), envelope(t, events.ReservationFailed{
		OrderID: "order-1", ProductID: "prod-1", Quantity: 3, Reason: "insufficient stock",
	}))

	require.NoError(t, err)
	svc.AssertExpectations(t)
}

func TestHandleReservationFailed_ExhaustedRetriesAreRedelivered(t *testing.T) {
	r, svc := setup()
	svc.On("CancelOrder", mock.Anything, "order-1", mock.Anything).
		Return(nil, apperrors.ConcurrencyExhausted("cancel order", 5, apperrors.ErrVersionConflict))

	err := r.Handle(context.Background(), envelope(t, events.ReservationFailed{OrderID: "order-1", Reason: "out of stock"}))

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConcurrencyExhausted)
	assert.Equal(t, pkgkafka.Redeliver, pkgkafka.Decide(err, 1, 5))
}

func TestRouter_IgnoresUnhandledVariant(t *testing.T) {
	r, svc := setup()

	err := r.Handle(context.Background(), envelope(t, events.OrderConfirmed{OrderID: "order-1"}))

	assert.ErrorIs(t, err, pkgkafka.ErrPoison)
	svc.AssertNotCalled(t, "CancelOrder", mock.Anything, mock.Anything, mock.Anything)
}
