package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/database"
	apperrors "github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/errors"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/order/internal/domain"
)

// OrderRepository implements repository.OrderRepository using PostgreSQL.
type OrderRepository struct {
	db database.DBTX
}

// NewOrderRepository creates an order repository over a pool or a transaction.
func NewOrderRepository(db database.DBTX) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts the order and its items. It runs in the caller's
// transaction so the outbox rows commit with it.
func (r *OrderRepository) Create(ctx context.Context, o *domain.Order) error {
	orderQuery := `
		INSERT INTO orders (id, order_number, user_id, status, total_amount, currency, shipping_name, shipping_address, shipping_phone, payment_id, cancel_reason, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.db.Exec(ctx, orderQuery,
		o.ID,
		o.OrderNumber,
		o.UserID,
		string(o.Status),
		o.TotalAmount,
		o.Currency,
		o.ShippingName,
		o.ShippingAddress,
		o.ShippingPhone,
		o.PaymentID,
		o.CancelReason,
		o.Version,
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.AlreadyExists("order", "order_number", o.OrderNumber)
		}
		return fmt.Errorf("insert order: %w", err)
	}

	itemQuery := `
		INSERT INTO order_items (id, order_id, product_id, name, unit_price, quantity)
		VALUES ($1, $2, $3, $4, $5, $6)`

	for _, item := range o.Items {
		_, err = r.db.Exec(ctx, itemQuery,
			item.ID,
			item.OrderID,
			item.ProductID,
			item.Name,
			item.UnitPrice,
			item.Quantity,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return nil
}

// getOrderSQL fetches the order and its items in one round trip.
const getOrderSQL = `
		SELECT
			o.id, o.order_number, o.user_id, o.status, o.total_amount, o.currency,
			o.shipping_name, o.shipping_address, o.shipping_phone, o.payment_id,
			o.cancel_reason, o.version, o.created_at, o.updated_at,
			COALESCE(
				JSONB_AGG(
					JSONB_BUILD_OBJECT(
						'id', oi.id,
						'order_id', oi.order_id,
						'product_id', oi.product_id,
						'name', oi.name,
						'unit_price', oi.unit_price,
						'quantity', oi.quantity
					) ORDER BY oi.id
				) FILTER (WHERE oi.id IS NOT NULL),
				'[]'::jsonb
			) AS items
		FROM orders o
		LEFT JOIN order_items oi ON o.id = oi.order_id
		WHERE o.id = $1
		GROUP BY o.id`

// GetByID retrieves an order by its ID, eagerly loading its items.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (_ *domain.Order, err error) {
	ctx, end := database.TraceQuery(ctx, "GetOrder", getOrderSQL)
	defer func() { end(err) }()

	var (
		o         domain.Order
		status    string
		itemsJSON []byte
	)
	err = r.db.QueryRow(ctx, getOrderSQL, id).Scan(
		&o.ID,
		&o.OrderNumber,
		&o.UserID,
		&status,
		&o.TotalAmount,
		&o.Currency,
		&o.ShippingName,
		&o.ShippingAddress,
		&o.ShippingPhone,
		&o.PaymentID,
		&o.CancelReason,
		&o.Version,
		&o.CreatedAt,
		&o.UpdatedAt,
		&itemsJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("order", id)
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	o.Status = domain.Status(status)

	o.Items = []domain.OrderItem{}
	if len(itemsJSON) > 0 && string(itemsJSON) != "null" {
		if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
			return nil, fmt.Errorf("unmarshal order items: %w", err)
		}
	}

	return &o, nil
}

const updateOrderSQL = `
		UPDATE orders
		SET status = $2, payment_id = $3, cancel_reason = $4, version = version + 1, updated_at = $5
		WHERE id = $1 AND version = $6`

// UpdateIfVersion writes the status fields guarded by the expected version.
func (r *OrderRepository) UpdateIfVersion(ctx context.Context, o *domain.Order, expectedVersion int64) (_ bool, err error) {
	ctx, end := database.TraceQuery(ctx, "UpdateOrder", updateOrderSQL)
	defer func() { end(err) }()

	tag, err := r.db.Exec(ctx, updateOrderSQL,
		o.ID, string(o.Status), o.PaymentID, o.CancelReason, o.UpdatedAt, expectedVersion,
	)
	if err != nil {
		return false, fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	o.Version = expectedVersion + 1
	return true, nil
}
