package repository

import (
	"context"
	"time"

	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/inventory/internal/domain"
)

// LedgerRepository persists stock ledger entries.
type LedgerRepository interface {
	// Get returns the entry for productID or apperrors.ErrNotFound.
	Get(ctx context.Context, productID string) (*domain.StockLedgerEntry, error)

	// Create inserts a new entry. A duplicate product yields apperrors.ErrAlreadyExists.
	Create(ctx context.Context, entry *domain.StockLedgerEntry) error

	// UpdateIfVersion writes entry's counters only if the stored version still
	// equals expectedVersion, bumping it by one. It reports false on a
	// version mismatch. On success entry.Version is updated.
	UpdateIfVersion(ctx context.Context, entry *domain.StockLedgerEntry, expectedVersion int64) (bool, error)
}

// ReservationRepository persists reservations.
type ReservationRepository interface {
	// Create inserts an ACTIVE reservation. A second live reservation for the
	// same order and product yields apperrors.ErrAlreadyExists.
	Create(ctx context.Context, r *domain.Reservation) error

	// GetByID returns the reservation or apperrors.ErrNotFound.
	GetByID(ctx context.Context, id string) (*domain.Reservation, error)

	// FindLive returns the non-cancelled reservation for the order and
	// product, or apperrors.ErrNotFound.
	FindLive(ctx context.Context, orderID, productID string) (*domain.Reservation, error)

	// ListActiveByOrder returns the order's ACTIVE reservations.
	ListActiveByOrder(ctx context.Context, orderID string) ([]domain.Reservation, error)

	// ListActive pages through all ACTIVE reservations ordered by id,
	// starting after afterID.
	ListActive(ctx context.Context, afterID string, limit int) ([]domain.Reservation, error)

	// UpdateStatusIfActive moves an ACTIVE reservation to status. It reports
	// false when the reservation had already left ACTIVE.
	UpdateStatusIfActive(ctx context.Context, id string, status domain.ReservationStatus, now time.Time) (bool, error)
}

// SettlementRepository records how each order's reservations were settled, so
// a reservation request that arrives late can follow the same outcome.
type SettlementRepository interface {
	// Mark records outcome (COMPLETED or CANCELLED) for orderID. The first
	// recorded outcome wins.
	Mark(ctx context.Context, orderID string, outcome domain.ReservationStatus, at time.Time) error

	// Outcome returns the recorded outcome or apperrors.ErrNotFound.
	Outcome(ctx context.Context, orderID string) (domain.ReservationStatus, error)
}

// HistoryRepository appends stock history entries.
type HistoryRepository interface {
	Insert(ctx context.Context, h *domain.StockHistoryEntry) error
	ListByProduct(ctx context.Context, productID string, limit int) ([]domain.StockHistoryEntry, error)
}

// Stores are the repositories bound to one transaction.
type Stores struct {
	Ledger       LedgerRepository
	Reservations ReservationRepository
	Settlements  SettlementRepository
}

// Transactor runs fn in a single database transaction. The transaction
// commits if fn returns nil and rolls back otherwise.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
}

// ExpiryIndex orders ACTIVE reservation ids by expiry time. Every operation
// is idempotent.
type ExpiryIndex interface {
	Add(ctx context.Context, reservationID string, expiresAt time.Time) error
	Remove(ctx context.Context, reservationID string) error
	// Due returns up to limit ids whose expiry is at or before now, earliest first.
	Due(ctx context.Context, now time.Time, limit int) ([]string, error)
}
