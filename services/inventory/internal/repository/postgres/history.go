package postgres

import (
	"context"
	"fmt"

	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/database"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/inventory/internal/domain"
)

// HistoryRepository appends to stock_history.
type HistoryRepository struct {
	db database.DBTX
}

func NewHistoryRepository(db database.DBTX) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Insert appends one entry. Re-inserting the same id is a no-op so a retried
// write cannot duplicate history.
func (r *HistoryRepository) Insert(ctx context.Context, h *domain.StockHistoryEntry) error {
	query := `
		INSERT INTO stock_history (id, inventory_id, change_type, quantity, before_quantity, after_quantity, reason, reference_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`

	_, err := r.db.Exec(ctx, query,
		h.ID, h.InventoryID, h.ChangeType, h.Quantity, h.BeforeQuantity, h.AfterQuantity, h.Reason, h.ReferenceID, h.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert stock history: %w", err)
	}
	return nil
}

// ListByProduct returns the newest entries first.
func (r *HistoryRepository) ListByProduct(ctx context.Context, productID string, limit int) ([]domain.StockHistoryEntry, error) {
	query := `
		SELECT id, inventory_id, change_type, quantity, before_quantity, after_quantity, reason, reference_id, created_at
		FROM stock_history
		WHERE inventory_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("list stock history: %w", err)
	}
	defer rows.Close()

	var out []domain.StockHistoryEntry
	for rows.Next() {
		var (
			h          domain.StockHistoryEntry
			changeType string
		)
		if err := rows.Scan(
			&h.ID, &h.InventoryID, &changeType, &h.Quantity,
			&h.BeforeQuantity, &h.AfterQuantity, &h.Reason, &h.ReferenceID, &h.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan stock history: %w", err)
		}
		h.ChangeType = domain.ChangeType(changeType)
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock history: %w", err)
	}
	return out, nil
}
