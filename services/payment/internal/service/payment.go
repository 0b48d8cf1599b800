package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/errors"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/payment/internal/domain"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/payment/internal/provider"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/payment/internal/repository"
)

// OutcomePublisher announces a settled payment to the saga.
type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, payment *domain.Payment) error
}

// Config holds payment service settings.
type Config struct {
	// DefaultCurrency is charged when an order carries none.
	DefaultCurrency string
}

// PaymentService implements the business logic for payment operations.
type PaymentService struct {
	repo      repository.PaymentRepository
	provider  provider.Provider
	publisher OutcomePublisher
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// NewPaymentService creates a new payment service.
func NewPaymentService(
	repo repository.PaymentRepository,
	prov provider.Provider,
	publisher OutcomePublisher,
	cfg Config,
	logger *slog.Logger,
) *PaymentService {
	return &PaymentService{
		repo:      repo,
		provider:  prov,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// ChargeOrderInput holds the parameters for charging an order.
type ChargeOrderInput struct {
	OrderID  string
	UserID   string
	Amount   int64
	Currency string
}

// ChargeOrder takes payment for an order at most once and publishes the
// outcome. A redelivered order gets its stored outcome republished. A
// payment left PENDING by an interrupted attempt is resumed with the same
// provider idempotency key.
func (s *PaymentService) ChargeOrder(ctx context.Context, input ChargeOrderInput) (*domain.Payment, error) {
	payment, err := s.repo.GetByOrderID(ctx, input.OrderID)
	switch {
	case err == nil:
		if payment.Status.IsSettled() {
			s.logger.InfoContext(ctx, "order already charged, republishing outcome",
				slog.String("order_id", input.OrderID),
				slog.String("payment_id", payment.ID),
				slog.String("status", string(payment.Status)),
			)
			outcomesRepublished.Inc()
			return s.publish(ctx, payment)
		}
	case errors.Is(err, apperrors.ErrNotFound):
		payment, err = s.open(ctx, input)
		if err != nil || payment.Status.IsSettled() {
			return payment, err
		}
	default:
		return nil, fmt.Errorf("load payment for order %s: %w", input.OrderID, err)
	}

	return s.charge(ctx, payment)
}

// open records a PENDING payment before the provider is called. When a
// concurrent delivery inserted first, its row is returned instead.
func (s *PaymentService) open(ctx context.Context, input ChargeOrderInput) (*domain.Payment, error) {
	currency := input.Currency
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}
	payment, err := domain.NewPayment(s.newID(), input.OrderID, input.UserID, input.Amount, currency, s.provider.Name(), s.now())
	if err != nil {
		return nil, err
	}

	err = s.repo.Create(ctx, payment)
	if errors.Is(err, apperrors.ErrAlreadyExists) {
		existing, gerr := s.repo.GetByOrderID(ctx, input.OrderID)
		if gerr != nil {
			return nil, fmt.Errorf("load concurrent payment for order %s: %w", input.OrderID, gerr)
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create payment for order %s: %w", input.OrderID, err)
	}

	s.logger.InfoContext(ctx, "payment opened",
		slog.String("order_id", payment.OrderID),
		slog.String("payment_id", payment.ID),
		slog.Int64("amount", payment.Amount),
		slog.String("currency", payment.Currency),
	)
	return payment, nil
}

func (s *PaymentService) charge(ctx context.Context, payment *domain.Payment) (*domain.Payment, error) {
	res, err := s.provider.Charge(ctx, provider.ChargeRequest{
		IdempotencyKey: payment.ID,
		OrderID:        payment.OrderID,
		Amount:         payment.Amount,
		Currency:       payment.Currency,
	})
	if err != nil {
		providerErrors.Inc()
		return nil, fmt.Errorf("provider charge for order %s: %w", payment.OrderID, err)
	}

	if res.Approved {
		err = payment.Succeed(res.PaymentKey, s.now())
	} else {
		err = payment.Fail(res.DeclineReason, s.now())
	}
	if err != nil {
		return nil, err
	}

	settled, err := s.repo.Settle(ctx, payment)
	if err != nil {
		return nil, fmt.Errorf("settle payment %s: %w", payment.ID, err)
	}
	if !settled {
		// A concurrent attempt settled first; its outcome is the one that counts.
		orderID := payment.OrderID
		payment, err = s.repo.GetByOrderID(ctx, orderID)
		if err != nil {
			return nil, fmt.Errorf("reload payment for order %s: %w", orderID, err)
		}
	} else {
		paymentsSettled.WithLabelValues(string(payment.Status)).Inc()
		s.logger.InfoContext(ctx, "payment settled",
			slog.String("order_id", payment.OrderID),
			slog.String("payment_id", payment.ID),
			slog.String("status", string(payment.Status)),
			slog.String("failure_reason", payment.FailureReason),
		)
	}

	return s.publish(ctx, payment)
}

func (s *PaymentService) publish(ctx context.Context, payment *domain.Payment) (*domain.Payment, error) {
	if err := s.publisher.PublishOutcome(ctx, payment); err != nil {
		return nil, fmt.Errorf("publish outcome for order %s: %w", payment.OrderID, err)
	}
	return payment, nil
}

// GetPayment retrieves a payment by its ID.
func (s *PaymentService) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	payment, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get payment by id: %w", err)
	}
	return payment, nil
}

// GetPaymentByOrderID retrieves the payment taken for an order.
func (s *PaymentService) GetPaymentByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	payment, err := s.repo.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get payment by order id: %w", err)
	}
	return payment, nil
}
