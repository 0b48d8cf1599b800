package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	apperrors "github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/errors"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/events"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/order/internal/domain"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/order/internal/service"
)

// OrderService defines the state changes the saga outcomes drive.
type OrderService interface {
	ConfirmOrder(ctx context.Context, orderID string, payment service.PaymentResult) (*domain.Order, error)
	CancelOrder(ctx context.Context, orderID, reason string) (*domain.Order, error)
}

// Consumer applies payment and reservation outcomes to orders.
type Consumer struct {
	service OrderService
	logger  *slog.Logger
}

// NewConsumer creates a new event consumer for the order service.
func NewConsumer(svc OrderService, logger *slog.Logger) *Consumer {
	return &Consumer{service: svc, logger: logger}
}

// Register binds every handler to r.
func (c *Consumer) Register(r *events.Router) {
	events.On(r, c.HandlePaymentCompleted)
	events.On(r, c.HandlePaymentFailed)
	events.On(r, c.HandleReservationFailed)
}

// HandlePaymentCompleted confirms the order.
func (c *Consumer) HandlePaymentCompleted(ctx context.Context, p events.PaymentCompleted, _ *events.Envelope) error {
	_, err := c.service.ConfirmOrder(ctx, p.OrderID, service.PaymentResult{PaymentID: p.PaymentID})
	if err != nil {
		return c.settle(ctx, "confirm", p.OrderID, err)
	}
	return nil
}

// HandlePaymentFailed cancels the order with the decline reason.
func (c *Consumer) HandlePaymentFailed(ctx context.Context, p events.PaymentFailed, _ *events.Envelope) error {
	_, err := c.service.CancelOrder(ctx, p.OrderID, "payment failed: "+p.Reason)
	if err != nil {
		return c.settle(ctx, "cancel", p.OrderID, err)
	}
	return nil
}

// HandleReservationFailed cancels the order because a line could not be held.
func (c *Consumer) HandleReservationFailed(ctx context.Context, p events.ReservationFailed, _ *events.Envelope) error {
	_, err := c.service.CancelOrder(ctx, p.OrderID, "reservation failed: "+p.Reason)
	if err != nil {
		return c.settle(ctx, "cancel", p.OrderID, err)
	}
	return nil
}

// settle acknowledges outcomes that arrive after the order has moved past
// them. Anything else is returned for bounded redelivery.
func (c *Consumer) settle(ctx context.Context, action, orderID string, err error) error {
	if errors.Is(err, apperrors.ErrInvalidStateTransition) {
		c.logger.WarnContext(ctx, "saga outcome ignored for order in a later state",
			slog.String("action", action),
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return fmt.Errorf("%s order %s: %w", action, orderID, err)
}
