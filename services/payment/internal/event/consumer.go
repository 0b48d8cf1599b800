package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/events"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/payment/internal/domain"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/payment/internal/service"
)

// PaymentService charges orders.
type PaymentService interface {
	ChargeOrder(ctx context.Context, input service.ChargeOrderInput) (*domain.Payment, error)
}

// Consumer handles the saga events the payment service subscribes to.
type Consumer struct {
	service PaymentService
	logger  *slog.Logger
}

// NewConsumer creates a new event consumer for the payment service.
func NewConsumer(svc PaymentService, logger *slog.Logger) *Consumer {
	return &Consumer{service: svc, logger: logger}
}

// Register binds every handler to r.
func (c *Consumer) Register(r *events.Router) {
	events.On(r, c.HandleOrderCreated)
}

// HandleOrderCreated charges the order total. Declines are published as
// PaymentFailed by the service, so only infrastructure errors reach the
// harness and are redelivered.
func (c *Consumer) HandleOrderCreated(ctx context.Context, p events.OrderCreated, _ *events.Envelope) error {
	payment, err := c.service.ChargeOrder(ctx, service.ChargeOrderInput{
		OrderID:  p.OrderID,
		UserID:   p.UserID,
		Amount:   p.TotalAmount,
		Currency: p.Currency,
	})
	if err != nil {
		return fmt.Errorf("charge order %s: %w", p.OrderID, err)
	}

	c.logger.InfoContext(ctx, "order charged",
		slog.String("order_id", p.OrderID),
		slog.String("payment_id", payment.ID),
		slog.String("status", string(payment.Status)),
	)
	return nil
}
