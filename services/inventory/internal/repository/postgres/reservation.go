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

// ReservationRepository implements repository.ReservationRepository.
type ReservationRepository struct {
	db database.DBTX
}

func NewReservationRepository(db database.DBTX) *ReservationRepository {
	return &ReservationRepository{db: db}
}

const reservationColumns = `id, product_id, order_id, quantity, status, expires_at, created_at, updated_at`

func scanReservation(row pgx.Row) (*domain.Reservation, error) {
	var (
		res    domain.Reservation
		status string
	)
	err := row.Scan(
		&res.ID,
		&res.ProductID,
		&res.OrderID,
		&res.Quantity,
		&status,
		&res.ExpiresAt,
		&res.CreatedAt,
		&res.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	res.Status = domain.ReservationStatus(status)
	return &res, nil
}

// Create inserts a reservation. The partial unique index on (order_id,
// product_id) for non-cancelled rows rejects a concurrent duplicate.
func (r *ReservationRepository) Create(ctx context.Context, res *domain.Reservation) error {
	query := `
		INSERT INTO reservations (` + reservationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		res.ID, res.ProductID, res.OrderID, res.Quantity, res.Status, res.ExpiresAt, res.CreatedAt, res.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.AlreadyExists("reservation", "order_id/product_id", res.OrderID+"/"+res.ProductID)
		}
		return fmt.Errorf("create reservation: %w", err)
	}
	return nil
}

// GetByID retrieves a reservation by id.
func (r *ReservationRepository) GetByID(ctx context.Context, id string) (*domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1`

	res, err := scanReservation(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("reservation", id)
		}
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	return res, nil
}

// FindLive returns the order's non-cancelled reservation for a product.
func (r *ReservationRepository) FindLive(ctx context.Context, orderID, productID string) (*domain.Reservation, error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE order_id = $1 AND product_id = $2 AND status <> 'CANCELLED'`

	res, err := scanReservation(r.db.QueryRow(ctx, query, orderID, productID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("find live reservation: %w", err)
	}
	return res, nil
}

// ListActiveByOrder returns every ACTIVE reservation of an order.
func (r *ReservationRepository) ListActiveByOrder(ctx context.Context, orderID string) ([]domain.Reservation, error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE order_id = $1 AND status = 'ACTIVE'
		ORDER BY created_at, id`

	return r.list(ctx, "list reservations by order", query, orderID)
}

// ListActive pages through ACTIVE reservations by id.
func (r *ReservationRepository) ListActive(ctx context.Context, afterID string, limit int) ([]domain.Reservation, error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE status = 'ACTIVE' AND id > $1
		ORDER BY id
		LIMIT $2`

	return r.list(ctx, "list active reservations", query, afterID, limit)
}

func (r *ReservationRepository) list(ctx context.Context, op, query string, args ...any) ([]domain.Reservation, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// UpdateStatusIfActive is the compare-and-set that decides a confirm/cancel
// race: only one caller sees a row change.
func (r *ReservationRepository) UpdateStatusIfActive(ctx context.Context, id string, status domain.ReservationStatus, now time.Time) (bool, error) {
	query := `
		UPDATE reservations
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status = 'ACTIVE'`

	tag, err := r.db.Exec(ctx, query, id, status, now)
	if err != nil {
		return false, fmt.Errorf("update reservation status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
