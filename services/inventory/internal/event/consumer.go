package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	apperrors "github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/errors"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/events"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/inventory/internal/domain"
)

// ReservationService defines the operations the saga handlers drive.
type ReservationService interface {
	CreateReservation(ctx context.Context, orderID, productID string, qty int) (*domain.Reservation, error)
	ConfirmReservationsByOrderID(ctx context.Context, orderID string) error
	CancelReservationsByOrderID(ctx context.Context, orderID string) error
	CancelReservation(ctx context.Context, reservationID string) error
}

// FailurePublisher emits the compensation trigger for a rejected reservation.
type FailurePublisher interface {
	PublishReservationFailed(ctx context.Context, orderID, productID string, qty int, reason string) error
}

// Consumer handles the saga events the inventory service subscribes to.
type Consumer struct {
	service  ReservationService
	failures FailurePublisher
	logger   *slog.Logger
}

// NewConsumer creates a new event consumer for the inventory service.
func NewConsumer(service ReservationService, failures FailurePublisher, logger *slog.Logger) *Consumer {
	return &Consumer{
		service:  service,
		failures: failures,
		logger:   logger,
	}
}

// Register binds every handler to r.
func (c *Consumer) Register(r *events.Router) {
	events.On(r, c.HandleReservationRequest)
	events.On(r, c.HandleOrderConfirmed)
	events.On(r, c.HandleOrderCancelled)
	events.On(r, c.HandleReservationExpired)
}

// HandleReservationRequest reserves stock for one order line. A request that
// can never succeed is answered with ReservationFailed and acknowledged.
func (c *Consumer) HandleReservationRequest(ctx context.Context, p events.InventoryReservationRequest, _ *events.Envelope) error {
	res, err := c.service.CreateReservation(ctx, p.OrderID, p.ProductID, p.Quantity)
	if err == nil {
		c.logger.InfoContext(ctx, "stock reserved for order",
			slog.String("order_id", p.OrderID),
			slog.String("product_id", p.ProductID),
			slog.String("reservation_id", res.ID),
		)
		return nil
	}
	if !isRejection(err) {
		return fmt.Errorf("reserve stock for order %s: %w", p.OrderID, err)
	}

	reason := rejectionReason(err)
	c.logger.WarnContext(ctx, "reservation rejected",
		slog.String("order_id", p.OrderID),
		slog.String("product_id", p.ProductID),
		slog.Int("quantity", p.Quantity),
		slog.String("reason", reason),
	)

	// Only the publish failure is returned so the message is redelivered as
	// transient rather than acknowledged as a business outcome.
	if perr := c.failures.PublishReservationFailed(ctx, p.OrderID, p.ProductID, p.Quantity, reason); perr != nil {
		return fmt.Errorf("emit reservation failed for order %s: %w", p.OrderID, perr)
	}
	return nil
}

// HandleOrderConfirmed consumes the stock of the order's reservations.
func (c *Consumer) HandleOrderConfirmed(ctx context.Context, p events.OrderConfirmed, _ *events.Envelope) error {
	c.logger.InfoContext(ctx, "processing order.confirmed event", slog.String("order_id", p.OrderID))

	if err := c.service.ConfirmReservationsByOrderID(ctx, p.OrderID); err != nil {
		return fmt.Errorf("confirm reservations for order %s: %w", p.OrderID, err)
	}
	return nil
}

// HandleOrderCancelled releases the stock of the order's reservations.
func (c *Consumer) HandleOrderCancelled(ctx context.Context, p events.OrderCancelled, _ *events.Envelope) error {
	c.logger.InfoContext(ctx, "processing order.cancelled event",
		slog.String("order_id", p.OrderID),
		slog.String("reason", p.Reason),
	)

	if err := c.service.CancelReservationsByOrderID(ctx, p.OrderID); err != nil {
		return fmt.Errorf("cancel reservations for order %s: %w", p.OrderID, err)
	}
	return nil
}

// HandleReservationExpired releases one reservation flagged by the sweeper.
func (c *Consumer) HandleReservationExpired(ctx context.Context, p events.ReservationExpired, _ *events.Envelope) error {
	if err := c.service.CancelReservation(ctx, p.ReservationID); err != nil {
		return fmt.Errorf("cancel expired reservation %s: %w", p.ReservationID, err)
	}
	return nil
}

func isRejection(err error) bool {
	return errors.Is(err, apperrors.ErrInsufficientStock) ||
		errors.Is(err, apperrors.ErrNotFound) ||
		errors.Is(err, apperrors.ErrInvalidInput)
}

func rejectionReason(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
