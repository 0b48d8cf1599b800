package repository

import (
	"context"

	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/outbox"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/order/internal/domain"
)

// OrderRepository defines the interface for order persistence operations.
type OrderRepository interface {
	// Create inserts a new order and its items.
	Create(ctx context.Context, order *domain.Order) error

	// GetByID retrieves an order by its unique identifier, including items.
	// A missing order yields apperrors.ErrNotFound.
	GetByID(ctx context.Context, id string) (*domain.Order, error)

	// UpdateIfVersion writes the order's status fields only if the stored
	// version still equals expectedVersion. It reports false on a mismatch.
	// On success order.Version is bumped.
	UpdateIfVersion(ctx context.Context, order *domain.Order, expectedVersion int64) (bool, error)
}

// OutboxWriter appends outbox rows inside the caller's transaction.
type OutboxWriter interface {
	Save(ctx context.Context, e *outbox.Event) error
	SaveAll(ctx context.Context, events []*outbox.Event) error
}

// Stores are the repositories bound to one transaction.
type Stores struct {
	Orders OrderRepository
	Outbox OutboxWriter
}

// Transactor runs fn in a single database transaction. The transaction
// commits if fn returns nil and rolls back otherwise.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
}
