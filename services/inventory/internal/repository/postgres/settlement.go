package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/database"
	apperrors "github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/errors"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/inventory/internal/domain"
)

// SettlementRepository implements repository.SettlementRepository.
type SettlementRepository struct {
	db database.DBTX
}

func NewSettlementRepository(db database.DBTX) *SettlementRepository {
	return &SettlementRepository{db: db}
}

// Mark records the order's outcome. An existing row is left untouched.
func (r *SettlementRepository) Mark(ctx context.Context, orderID string, outcome domain.ReservationStatus, at time.Time) error {
	query := `
		INSERT INTO settled_orders (order_id, outcome, settled_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (order_id) DO NOTHING`

	if _, err := r.db.Exec(ctx, query, orderID, outcome, at); err != nil {
		return fmt.Errorf("mark order settled: %w", err)
	}
	return nil
}

// Outcome returns the recorded outcome of an order.
func (r *SettlementRepository) Outcome(ctx context.Context, orderID string) (domain.ReservationStatus, error) {
	var outcome string
	err := r.db.QueryRow(ctx, `SELECT outcome FROM settled_orders WHERE order_id = $1`, orderID).Scan(&outcome)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperrors.ErrNotFound
		}
		return "", fmt.Errorf("get order settlement: %w", err)
	}
	return domain.ReservationStatus(outcome), nil
}
