package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/database"
	apperrors "github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/errors"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/payment/internal/domain"
)

// PaymentRepository implements repository.PaymentRepository using PostgreSQL.
type PaymentRepository struct {
	db database.DBTX
}

// NewPaymentRepository creates a new PostgreSQL-backed payment repository.
func NewPaymentRepository(db database.DBTX) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `id, order_id, user_id, amount, currency, status, provider, provider_payment_key, failure_reason, created_at, updated_at`

// Create inserts a new payment into the database.
func (r *PaymentRepository) Create(ctx context.Context, p *domain.Payment) (err error) {
	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	ctx, end := database.TraceQuery(ctx, "CreatePayment", query)
	defer func() { end(err) }()

	_, err = r.db.Exec(ctx, query,
		p.ID,
		p.OrderID,
		p.UserID,
		p.Amount,
		p.Currency,
		string(p.Status),
		p.Provider,
		p.ProviderKey,
		p.FailureReason,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.AlreadyExists("payment", "order_id", p.OrderID)
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetByID retrieves a payment by its ID.
func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return r.getOne(ctx, "GetPaymentByID", query, id)
}

// GetByOrderID retrieves the payment for an order.
func (r *PaymentRepository) GetByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = $1`
	return r.getOne(ctx, "GetPaymentByOrderID", query, orderID)
}

// Settle writes the outcome only while the row is still PENDING, so a
// payment is never settled twice.
func (r *PaymentRepository) Settle(ctx context.Context, p *domain.Payment) (_ bool, err error) {
	query := `
		UPDATE payments
		SET status = $1, provider_payment_key = $2, failure_reason = $3, updated_at = $4
		WHERE id = $5 AND status = $6`

	ctx, end := database.TraceQuery(ctx, "SettlePayment", query)
	defer func() { end(err) }()

	tag, err := r.db.Exec(ctx, query,
		string(p.Status),
		p.ProviderKey,
		p.FailureReason,
		p.UpdatedAt,
		p.ID,
		string(domain.StatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("settle payment: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PaymentRepository) getOne(ctx context.Context, op, query, arg string) (_ *domain.Payment, err error) {
	ctx, end := database.TraceQuery(ctx, op, query)
	defer func() { end(err) }()

	var (
		p      domain.Payment
		status string
	)
	err = r.db.QueryRow(ctx, query, arg).Scan(
		&p.ID,
		&p.OrderID,
		&p.UserID,
		&p.Amount,
		&p.Currency,
		&status,
		&p.Provider,
		&p.ProviderKey,
		&p.FailureReason,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("payment", arg)
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	p.Status = domain.Status(status)
	return &p, nil
}
