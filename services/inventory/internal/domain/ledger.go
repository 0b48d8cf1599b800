package domain

import (
	"fmt"
	"time"

	apperrors "github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/errors"
)

// StockLedgerEntry holds the stock counters of one product. Total always
// equals Available + Reserved and no counter is ever negative. Version grows
// by one on every persisted change.
type StockLedgerEntry struct {
	ProductID string    `json:"product_id"`
	Available int       `json:"available"`
	Reserved  int       `json:"reserved"`
	Total     int       `json:"total"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewStockLedgerEntry creates the ledger row for a product with all initial
// stock available.
func NewStockLedgerEntry(productID string, initial int, now time.Time) (*StockLedgerEntry, error) {
	if productID == "" {
		return nil, apperrors.InvalidInput("product_id is required")
	}
	if initial < 0 {
		return nil, apperrors.InvalidInput("initial quantity must be non-negative")
	}
	return &StockLedgerEntry{
		ProductID: productID,
		Available: initial,
		Total:     initial,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Mutation describes one applied ledger change in the terms the change
// history records.
type Mutation struct {
	ChangeType ChangeType
	Quantity   int
	Before     int
	After      int
	Reason     string
}

// CheckInvariant reports a corrupted entry.
func (e *StockLedgerEntry) CheckInvariant() error {
	if e.Available < 0 || e.Reserved < 0 || e.Total != e.Available+e.Reserved {
		return fmt.Errorf("ledger invariant violated for product %s: available=%d reserved=%d total=%d",
			e.ProductID, e.Available, e.Reserved, e.Total)
	}
	return nil
}

func validQuantity(qty int) error {
	if qty <= 0 {
		return apperrors.InvalidInput(fmt.Sprintf("quantity must be positive, got %d", qty))
	}
	return nil
}

// Increase adds received stock.
func (e *StockLedgerEntry) Increase(qty int) (Mutation, error) {
	if err := validQuantity(qty); err != nil {
		return Mutation{}, err
	}
	before := e.Total
	e.Available += qty
	e.Total += qty
	return Mutation{ChangeType: ChangeIncrease, Quantity: qty, Before: before, After: e.Total, Reason: "stock increased"}, nil
}

// Decrease removes available stock, e.g. for damage or write-off.
func (e *StockLedgerEntry) Decrease(qty int) (Mutation, error) {
	if err := validQuantity(qty); err != nil {
		return Mutation{}, err
	}
	if e.Available < qty {
		return Mutation{}, apperrors.InsufficientStock(e.ProductID, qty, e.Available)
	}
	before := e.Total
	e.Available -= qty
	e.Total -= qty
	return Mutation{ChangeType: ChangeDecrease, Quantity: qty, Before: before, After: e.Total, Reason: "stock decreased"}, nil
}

// Reserve moves stock from available to reserved.
func (e *StockLedgerEntry) Reserve(qty int) (Mutation, error) {
	if err := validQuantity(qty); err != nil {
		return Mutation{}, err
	}
	if e.Available < qty {
		return Mutation{}, apperrors.InsufficientStock(e.ProductID, qty, e.Available)
	}
	before := e.Available
	e.Available -= qty
	e.Reserved += qty
	return Mutation{ChangeType: ChangeReserve, Quantity: qty, Before: before, After: e.Available, Reason: "stock reserved"}, nil
}

// Release returns reserved stock to available.
func (e *StockLedgerEntry) Release(qty int) (Mutation, error) {
	if err := validQuantity(qty); err != nil {
		return Mutation{}, err
	}
	if e.Reserved < qty {
		return Mutation{}, e.reservedShortfall(qty)
	}
	before := e.Available
	e.Reserved -= qty
	e.Available += qty
	return Mutation{ChangeType: ChangeRelease, Quantity: qty, Before: before, After: e.Available, Reason: "reservation released"}, nil
}

// Confirm consumes reserved stock: it leaves the warehouse for good.
func (e *StockLedgerEntry) Confirm(qty int) (Mutation, error) {
	if err := validQuantity(qty); err != nil {
		return Mutation{}, err
	}
	if e.Reserved < qty {
		return Mutation{}, e.reservedShortfall(qty)
	}
	before := e.Total
	e.Reserved -= qty
	e.Total -= qty
	return Mutation{ChangeType: ChangeDecrease, Quantity: qty, Before: before, After: e.Total, Reason: "reservation confirmed"}, nil
}

// reservedShortfall is unreachable while reservations and the ledger are
// updated together; it signals corruption rather than a business outcome.
func (e *StockLedgerEntry) reservedShortfall(qty int) error {
	return apperrors.Conflict(fmt.Sprintf("product %s has %d reserved, cannot settle %d", e.ProductID, e.Reserved, qty))
}
