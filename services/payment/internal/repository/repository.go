package repository

import (
	"context"

	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/payment/internal/domain"
)

// PaymentRepository defines the interface for payment persistence operations.
type PaymentRepository interface {
	// Create inserts a new payment. A second payment for the same order
	// fails with apperrors.ErrAlreadyExists.
	Create(ctx context.Context, payment *domain.Payment) error

	// GetByID retrieves a payment by its unique identifier.
	GetByID(ctx context.Context, id string) (*domain.Payment, error)

	// GetByOrderID retrieves the payment taken for an order.
	GetByOrderID(ctx context.Context, orderID string) (*domain.Payment, error)

	// Settle stores the outcome of a PENDING payment. It returns false when
	// the row was already settled by someone else.
	Settle(ctx context.Context, payment *domain.Payment) (bool, error)
}
