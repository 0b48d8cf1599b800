package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/events"
	pkgkafka "github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/kafka"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/logger"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/payment/internal/domain"
)

// SourcePaymentService identifies events originating from the payment service.
const SourcePaymentService = "payment-service"

// Publisher is the subset of *pkgkafka.Producer the producer needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes payment outcomes.
type Producer struct {
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewProducer creates a new payment event producer.
func NewProducer(publisher Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// PublishOutcome emits PaymentCompleted or PaymentFailed for a settled payment.
func (p *Producer) PublishOutcome(ctx context.Context, payment *domain.Payment) error {
	var payload events.Payload
	switch payment.Status {
	case domain.StatusSucceeded:
		payload = events.PaymentCompleted{
			OrderID:      payment.OrderID,
			PaymentID:    payment.ID,
			PGProvider:   payment.Provider,
			PGPaymentKey: payment.ProviderKey,
			Timestamp:    p.now(),
		}
	case domain.StatusFailed:
		payload = events.PaymentFailed{
			OrderID:   payment.OrderID,
			Reason:    payment.FailureReason,
			Timestamp: p.now(),
		}
	default:
		return fmt.Errorf("payment %s is not settled (status %s)", payment.ID, payment.Status)
	}

	env, err := events.NewEnvelope(payload, SourcePaymentService)
	if err != nil {
		return err
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		env.WithCorrelationID(id)
	}
	if err := p.publisher.Publish(ctx, payload.Topic(), env); err != nil {
		return fmt.Errorf("publish %s: %w", payload.EventType(), err)
	}

	p.logger.DebugContext(ctx, "published payment outcome",
		slog.String("event_type", string(payload.EventType())),
		slog.String("order_id", payment.OrderID),
		slog.String("payment_id", payment.ID),
	)
	return nil
}
