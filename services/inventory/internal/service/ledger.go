package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/database"
	apperrors "github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/errors"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/inventory/internal/domain"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/inventory/internal/repository"
)

// LedgerService runs single stock ledger operations. Every mutation is an
// optimistic read-modify-write retried on version conflicts.
type LedgerService struct {
	ledger  repository.LedgerRepository
	history *HistoryRecorder
	policy  database.RetryPolicy
	logger  *slog.Logger
	now     func() time.Time
}

// NewLedgerService creates a new ledger service.
func NewLedgerService(
	ledger repository.LedgerRepository,
	history *HistoryRecorder,
	policy database.RetryPolicy,
	logger *slog.Logger,
) *LedgerService {
	return &LedgerService{
		ledger:  ledger,
		history: history,
		policy:  policy,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ProvisionStock creates the ledger entry for a product with initial units available.
func (s *LedgerService) ProvisionStock(ctx context.Context, productID string, initial int) (*domain.StockLedgerEntry, error) {
	entry, err := domain.NewStockLedgerEntry(productID, initial, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.ledger.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("provision stock: %w", err)
	}

	if initial > 0 {
		s.history.Record(ctx, productID, domain.Mutation{
			ChangeType: domain.ChangeIncrease,
			Quantity:   initial,
			Before:     0,
			After:      initial,
			Reason:     "stock provisioned",
		}, "")
	}

	s.logger.InfoContext(ctx, "stock provisioned",
		slog.String("product_id", productID),
		slog.Int("quantity", initial),
	)
	return entry, nil
}

// GetStock returns the current ledger entry of a product.
func (s *LedgerService) GetStock(ctx context.Context, productID string) (*domain.StockLedgerEntry, error) {
	entry, err := s.ledger.Get(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("get stock: %w", err)
	}
	return entry, nil
}

// IncreaseStock adds received units.
func (s *LedgerService) IncreaseStock(ctx context.Context, productID string, qty int) (*domain.StockLedgerEntry, error) {
	return s.mutate(ctx, "increase stock", productID, func(e *domain.StockLedgerEntry) (domain.Mutation, error) {
		return e.Increase(qty)
	})
}

// DecreaseStock removes available units.
func (s *LedgerService) DecreaseStock(ctx context.Context, productID string, qty int) (*domain.StockLedgerEntry, error) {
	return s.mutate(ctx, "decrease stock", productID, func(e *domain.StockLedgerEntry) (domain.Mutation, error) {
		return e.Decrease(qty)
	})
}

// ReserveStock moves units from available to reserved.
func (s *LedgerService) ReserveStock(ctx context.Context, productID string, qty int) (*domain.StockLedgerEntry, error) {
	return s.mutate(ctx, "reserve stock", productID, func(e *domain.StockLedgerEntry) (domain.Mutation, error) {
		return e.Reserve(qty)
	})
}

// ReleaseReservedStock moves units from reserved back to available.
func (s *LedgerService) ReleaseReservedStock(ctx context.Context, productID string, qty int) (*domain.StockLedgerEntry, error) {
	return s.mutate(ctx, "release reserved stock", productID, func(e *domain.StockLedgerEntry) (domain.Mutation, error) {
		return e.Release(qty)
	})
}

// ConfirmReservedStock consumes reserved units.
func (s *LedgerService) ConfirmReservedStock(ctx context.Context, productID string, qty int) (*domain.StockLedgerEntry, error) {
	return s.mutate(ctx, "confirm reserved stock", productID, func(e *domain.StockLedgerEntry) (domain.Mutation, error) {
		return e.Confirm(qty)
	})
}

func (s *LedgerService) mutate(
	ctx context.Context,
	op, productID string,
	apply func(*domain.StockLedgerEntry) (domain.Mutation, error),
) (*domain.StockLedgerEntry, error) {
	var (
		entry *domain.StockLedgerEntry
		mut   domain.Mutation
	)
	err := database.WithOptimisticRetry(ctx, s.policy, op, func(ctx context.Context) error {
		var err error
		entry, mut, err = applyToLedger(ctx, s.ledger, productID, s.now(), apply)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.history.Record(ctx, productID, mut, "")
	return entry, nil
}

// applyToLedger is one optimistic attempt: read, mutate in memory, write back
// guarded by the version read. A lost race yields apperrors.ErrVersionConflict.
func applyToLedger(
	ctx context.Context,
	ledger repository.LedgerRepository,
	productID string,
	now time.Time,
	apply func(*domain.StockLedgerEntry) (domain.Mutation, error),
) (*domain.StockLedgerEntry, domain.Mutation, error) {
	entry, err := ledger.Get(ctx, productID)
	if err != nil {
		return nil, domain.Mutation{}, err
	}
	expected := entry.Version

	mut, err := apply(entry)
	if err != nil {
		return nil, domain.Mutation{}, err
	}
	if err := entry.CheckInvariant(); err != nil {
		return nil, domain.Mutation{}, apperrors.Internal(err)
	}
	entry.UpdatedAt = now

	ok, err := ledger.UpdateIfVersion(ctx, entry, expected)
	if err != nil {
		return nil, domain.Mutation{}, err
	}
	if !ok {
		return nil, domain.Mutation{}, apperrors.ErrVersionConflict
	}
	return entry, mut, nil
}
