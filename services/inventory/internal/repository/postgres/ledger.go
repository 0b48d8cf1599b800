package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/database"
	apperrors "github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/errors"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/inventory/internal/domain"
)

// LedgerRepository implements repository.LedgerRepository on the stock_ledger table.
type LedgerRepository struct {
	db database.DBTX
}

// NewLedgerRepository creates a ledger repository over a pool or a transaction.
func NewLedgerRepository(db database.DBTX) *LedgerRepository {
	return &LedgerRepository{db: db}
}

const getLedgerSQL = `
		SELECT product_id, available, reserved, total, version, created_at, updated_at
		FROM stock_ledger
		WHERE product_id = $1`

// Get retrieves the ledger entry for a product.
func (r *LedgerRepository) Get(ctx context.Context, productID string) (_ *domain.StockLedgerEntry, err error) {
	ctx, end := database.TraceQuery(ctx, "GetStockLedger", getLedgerSQL)
	defer func() { end(err) }()

	var e domain.StockLedgerEntry
	err = r.db.QueryRow(ctx, getLedgerSQL, productID).Scan(
		&e.ProductID,
		&e.Available,
		&e.Reserved,
		&e.Total,
		&e.Version,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("product", productID)
		}
		return nil, fmt.Errorf("get stock ledger: %w", err)
	}
	return &e, nil
}

// Create inserts a new ledger entry.
func (r *LedgerRepository) Create(ctx context.Context, e *domain.StockLedgerEntry) error {
	query := `
		INSERT INTO stock_ledger (product_id, available, reserved, total, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.Exec(ctx, query,
		e.ProductID, e.Available, e.Reserved, e.Total, e.Version, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.AlreadyExists("stock ledger", "product_id", e.ProductID)
		}
		return fmt.Errorf("create stock ledger: %w", err)
	}
	return nil
}

const updateLedgerSQL = `
		UPDATE stock_ledger
		SET available = $2, reserved = $3, total = $4, version = version + 1, updated_at = $5
		WHERE product_id = $1 AND version = $6`

// UpdateIfVersion writes the counters guarded by the expected version.
func (r *LedgerRepository) UpdateIfVersion(ctx context.Context, e *domain.StockLedgerEntry, expectedVersion int64) (_ bool, err error) {
	ctx, end := database.TraceQuery(ctx, "UpdateStockLedger", updateLedgerSQL)
	defer func() { end(err) }()

	tag, err := r.db.Exec(ctx, updateLedgerSQL,
		e.ProductID, e.Available, e.Reserved, e.Total, e.UpdatedAt, expectedVersion,
	)
	if err != nil {
		return false, fmt.Errorf("update stock ledger: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	e.Version = expectedVersion + 1
	return true, nil
}
