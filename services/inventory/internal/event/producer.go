package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/events"
	pkgkafka "github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/kafka"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/logger"
)

// SourceInventoryService identifies events originating from the inventory service.
const SourceInventoryService = "inventory-service"

// Publisher is the subset of *pkgkafka.Producer the producer needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes inventory saga events.
type Producer struct {
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewProducer creates a new inventory event producer.
func NewProducer(publisher Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// PublishReservationFailed tells the order side that a line item could not be reserved.
func (p *Producer) PublishReservationFailed(ctx context.Context, orderID, productID string, qty int, reason string) error {
	return p.publish(ctx, events.ReservationFailed{
		OrderID:   orderID,
		ProductID: productID,
		Quantity:  qty,
		Reason:    reason,
		Timestamp: p.now(),
	})
}

// SignalReservationExpired emits the cancellation signal for an expired
// reservation. The inventory service consumes it itself.
func (p *Producer) SignalReservationExpired(ctx context.Context, reservationID, reason string) error {
	return p.publish(ctx, events.ReservationExpired{
		ReservationID: reservationID,
		Reason:        reason,
	})
}

func (p *Producer) publish(ctx context.Context, payload events.Payload) error {
	env, err := events.NewEnvelope(payload, SourceInventoryService)
	if err != nil {
		return err
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		env.WithCorrelationID(id)
	}

	if err := p.publisher.Publish(ctx, payload.Topic(), env); err != nil {
		return fmt.Errorf("publish %s: %w", payload.EventType(), err)
	}
	return nil
}
