package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/database"
	apperrors "github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/errors"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/events"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/outbox"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/order/internal/catalog"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/order/internal/domain"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/order/internal/repository"
)

// EventSource stamps every envelope the order service writes.
const EventSource = "order-service"

// Catalog resolves product snapshots at order time.
type Catalog interface {
	GetProduct(ctx context.Context, id string) (*catalog.Product, error)
}

// OrderService implements the business logic for order operations. Every
// state change and the event announcing it commit in one transaction.
type OrderService struct {
	tx      repository.Transactor
	orders  repository.OrderRepository
	catalog Catalog
	retry   database.RetryPolicy
	logger  *slog.Logger
	now     func() time.Time
}

// NewOrderService creates a new order service. orders serves reads outside
// a transaction.
func NewOrderService(
	tx repository.Transactor,
	orders repository.OrderRepository,
	catalog Catalog,
	retry database.RetryPolicy,
	logger *slog.Logger,
) *OrderService {
	return &OrderService{
		tx:      tx,
		orders:  orders,
		catalog: catalog,
		retry:   retry,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrderItemInput is one requested line. Name and price come from the
// catalog, never from the caller.
type CreateOrderItemInput struct {
	ProductID string
	Quantity  int
}

// CreateOrderInput holds the parameters for creating an order.
type CreateOrderInput struct {
	UserID          string
	Items           []CreateOrderItemInput
	Currency        string
	ShippingName    string
	ShippingAddress string
	ShippingPhone   string
}

// PaymentResult is the payment outcome applied by ConfirmOrder.
type PaymentResult struct {
	PaymentID string
}

// CreateOrder snapshots the requested products and stores a PENDING order
// together with its OrderCreated event and one reservation request per line.
func (s *OrderService) CreateOrder(ctx context.Context, input CreateOrderInput) (*domain.Order, error) {
	if input.UserID == "" {
		return nil, apperrors.InvalidInput("user_id is required")
	}
	if len(input.Items) == 0 {
		return nil, apperrors.InvalidInput("order must contain at least one item")
	}
	if len(input.Currency) != 3 {
		return nil, apperrors.InvalidInput("currency must be a 3-letter ISO code")
	}
	currency := strings.ToUpper(input.Currency)

	lines, err := mergeLines(input.Items)
	if err != nil {
		return nil, err
	}

	now := s.now()
	orderID := uuid.New().String()

	items := make([]domain.OrderItem, len(lines))
	for i, line := range lines {
		p, err := s.catalog.GetProduct(ctx, line.ProductID)
		if err != nil {
			return nil, fmt.Errorf("look up product %s: %w", line.ProductID, err)
		}
		if p.Currency != "" && !strings.EqualFold(p.Currency, currency) {
			return nil, apperrors.InvalidInput(fmt.Sprintf(
				"product %s is priced in %s, order currency is %s", line.ProductID, p.Currency, currency))
		}
		items[i] = domain.OrderItem{
			ID:        uuid.New().String(),
			OrderID:   orderID,
			ProductID: line.ProductID,
			Name:      p.Name,
			UnitPrice: p.Price,
			Quantity:  line.Quantity,
		}
	}

	order := &domain.Order{
		ID:              orderID,
		OrderNumber:     newOrderNumber(now, orderID),
		UserID:          input.UserID,
		Status:          domain.StatusPending,
		Items:           items,
		Currency:        currency,
		ShippingName:    input.ShippingName,
		ShippingAddress: input.ShippingAddress,
		ShippingPhone:   input.ShippingPhone,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	order.RecalculateTotal()

	evs, err := creationEvents(order)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context, st repository.Stores) error {
		if err := st.Orders.Create(ctx, order); err != nil {
			return err
		}
		return st.Outbox.SaveAll(ctx, evs)
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	s.logger.InfoContext(ctx, "order created",
		slog.String("order_id", order.ID),
		slog.String("order_number", order.OrderNumber),
		slog.String("user_id", order.UserID),
		slog.Int("items", len(order.Items)),
		slog.Int64("total_amount", order.TotalAmount),
	)

	return order, nil
}

// GetOrder retrieves an order by its ID.
func (s *OrderService) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order by id: %w", err)
	}
	return order, nil
}

// ConfirmOrder applies a completed payment. An order already CONFIRMED or
// later is left as is. A CANCELLED order fails with
// apperrors.ErrInvalidStateTransition.
func (s *OrderService) ConfirmOrder(ctx context.Context, orderID string, payment PaymentResult) (*domain.Order, error) {
	order, changed, err := s.transition(ctx, orderID, "confirm order",
		func(o *domain.Order) bool { return o.IsConfirmedOrLater() },
		func(o *domain.Order, now time.Time) (events.Payload, error) {
			if err := o.Confirm(payment.PaymentID, now); err != nil {
				return nil, err
			}
			return events.OrderConfirmed{
				OrderID:     o.ID,
				OrderNumber: o.OrderNumber,
				UserID:      o.UserID,
				Timestamp:   now,
			}, nil
		},
	)
	if err != nil {
		return nil, err
	}

	if changed {
		s.logger.InfoContext(ctx, "order confirmed",
			slog.String("order_id", orderID),
			slog.String("payment_id", payment.PaymentID),
		)
	}
	return order, nil
}

// CancelOrder cancels the order with reason. An order already CANCELLED is
// left as is. SHIPPED and DELIVERED orders fail with
// apperrors.ErrInvalidStateTransition.
func (s *OrderService) CancelOrder(ctx context.Context, orderID, reason string) (*domain.Order, error) {
	order, changed, err := s.transition(ctx, orderID, "cancel order",
		func(o *domain.Order) bool { return o.Status == domain.StatusCancelled },
		func(o *domain.Order, now time.Time) (events.Payload, error) {
			if err := o.Cancel(reason, now); err != nil {
				return nil, err
			}
			return events.OrderCancelled{
				OrderID:     o.ID,
				OrderNumber: o.OrderNumber,
				UserID:      o.UserID,
				Reason:      reason,
				Timestamp:   now,
			}, nil
		},
	)
	if err != nil {
		return nil, err
	}

	if changed {
		s.logger.InfoContext(ctx, "order cancelled",
			slog.String("order_id", orderID),
			slog.String("reason", reason),
		)
	}
	return order, nil
}

// transition runs one version-guarded state change and writes the event it
// produces in the same transaction. done reports that the target state is
// already reached, in which case nothing is written.
func (s *OrderService) transition(
	ctx context.Context,
	orderID, op string,
	done func(*domain.Order) bool,
	apply func(*domain.Order, time.Time) (events.Payload, error),
) (*domain.Order, bool, error) {
	var (
		result  *domain.Order
		changed bool
	)
	err := database.WithOptimisticRetry(ctx, s.retry, op, func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context, st repository.Stores) error {
			o, err := st.Orders.GetByID(ctx, orderID)
			if err != nil {
				return err
			}
			if done(o) {
				result, changed = o, false
				return nil
			}

			expected := o.Version
			payload, err := apply(o, s.now())
			if err != nil {
				return err
			}
			ev, err := outbox.New(payload, EventSource, o.ID)
			if err != nil {
				return err
			}

			ok, err := st.Orders.UpdateIfVersion(ctx, o, expected)
			if err != nil {
				return err
			}
			if !ok {
				return apperrors.ErrVersionConflict
			}
			if err := st.Outbox.Save(ctx, ev); err != nil {
				return err
			}
			result, changed = o, true
			return nil
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("%s %s: %w", op, orderID, err)
	}
	return result, changed, nil
}

// creationEvents builds OrderCreated followed by one reservation request per
// line, all correlated by the order id.
func creationEvents(o *domain.Order) ([]*outbox.Event, error) {
	items := make([]events.OrderItem, len(o.Items))
	for i, it := range o.Items {
		items[i] = events.OrderItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
		}
	}

	payloads := make([]events.Payload, 0, len(o.Items)+1)
	payloads = append(payloads, events.OrderCreated{
		OrderID:         o.ID,
		OrderNumber:     o.OrderNumber,
		UserID:          o.UserID,
		Items:           items,
		TotalAmount:     o.TotalAmount,
		Currency:        o.Currency,
		ShippingAddress: o.ShippingAddress,
		ShippingName:    o.ShippingName,
		ShippingPhone:   o.ShippingPhone,
		Timestamp:       o.CreatedAt,
	})
	for _, it := range o.Items {
		payloads = append(payloads, events.InventoryReservationRequest{
			OrderID:   o.ID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Timestamp: o.CreatedAt,
		})
	}

	out := make([]*outbox.Event, 0, len(payloads))
	for _, p := range payloads {
		ev, err := outbox.New(p, EventSource, o.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// mergeLines validates the requested lines and folds repeated products into
// one line, since inventory holds at most one reservation per order and
// product.
func mergeLines(in []CreateOrderItemInput) ([]CreateOrderItemInput, error) {
	out := make([]CreateOrderItemInput, 0, len(in))
	index := make(map[string]int, len(in))
	for i, it := range in {
		if it.ProductID == "" {
			return nil, apperrors.InvalidInput(fmt.Sprintf("items[%d].product_id is required", i))
		}
		if it.Quantity <= 0 {
			return nil, apperrors.InvalidInput(fmt.Sprintf("items[%d].quantity must be positive", i))
		}
		if j, ok := index[it.ProductID]; ok {
			out[j].Quantity += it.Quantity
			continue
		}
		index[it.ProductID] = len(out)
		out = append(out, it)
	}
	return out, nil
}

// newOrderNumber formats ORD-YYYYMMDD-XXXXXXXX from the creation date and
// the order id.
func newOrderNumber(now time.Time, orderID string) string {
	suffix := strings.ToUpper(strings.ReplaceAll(orderID, "-", ""))
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("ORD-%s-%s", now.Format("20060102"), suffix)
}
