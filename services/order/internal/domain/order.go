package domain

import (
	"slices"
	"time"

	apperrors "github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/errors"
)

// Status is the lifecycle state of an order.
type Status string

// Order status constants.
const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusShipped   Status = "SHIPPED"
	StatusDelivered Status = "DELIVERED"
	StatusCancelled Status = "CANCELLED"
)

// allowedTransitions defines which status transitions are valid. DELIVERED
// and CANCELLED are terminal.
var allowedTransitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusShipped, StatusCancelled},
	StatusShipped:   {StatusDelivered},
	StatusDelivered: {},
	StatusCancelled: {},
}

// ValidStatuses returns all valid order statuses.
func ValidStatuses() []Status {
	return []Status{StatusPending, StatusConfirmed, StatusShipped, StatusDelivered, StatusCancelled}
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s.IsValid() && len(allowedTransitions[s]) == 0
}

// CanTransitionTo checks if an order in s can move to target.
func (s Status) CanTransitionTo(target Status) bool {
	return slices.Contains(allowedTransitions[s], target)
}

// OrderItem is one order line. Name and UnitPrice are the catalog values at
// the time the order was placed, not live lookups.
type OrderItem struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id"`
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
}

func (i *OrderItem) LineTotal() int64 { return i.UnitPrice * int64(i.Quantity) }

// Order represents a customer order. Amounts are in minor currency units.
type Order struct {
	ID              string      `json:"id"`
	OrderNumber     string      `json:"order_number"`
	UserID          string      `json:"user_id"`
	Status          Status      `json:"status"`
	Items           []OrderItem `json:"items"`
	TotalAmount     int64       `json:"total_amount"`
	Currency        string      `json:"currency"`
	ShippingName    string      `json:"shipping_name"`
	ShippingAddress string      `json:"shipping_address"`
	ShippingPhone   string      `json:"shipping_phone"`
	PaymentID       string      `json:"payment_id,omitempty"`
	CancelReason    string      `json:"cancel_reason,omitempty"`
	Version         int64       `json:"version"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// TransitionTo moves the order to target or fails with
// apperrors.ErrInvalidStateTransition naming both states.
func (o *Order) TransitionTo(target Status, now time.Time) error {
	if !o.Status.CanTransitionTo(target) {
		return apperrors.InvalidStateTransition(string(o.Status), string(target))
	}
	o.Status = target
	o.UpdatedAt = now
	return nil
}

// Confirm records a completed payment.
func (o *Order) Confirm(paymentID string, now time.Time) error {
	if err := o.TransitionTo(StatusConfirmed, now); err != nil {
		return err
	}
	o.PaymentID = paymentID
	return nil
}

// Cancel is legal only from PENDING or CONFIRMED.
func (o *Order) Cancel(reason string, now time.Time) error {
	if err := o.TransitionTo(StatusCancelled, now); err != nil {
		return err
	}
	o.CancelReason = reason
	return nil
}

func (o *Order) MarkShipped(now time.Time) error {
	return o.TransitionTo(StatusShipped, now)
}

func (o *Order) MarkDelivered(now time.Time) error {
	return o.TransitionTo(StatusDelivered, now)
}

// IsConfirmedOrLater reports whether payment has already been applied.
func (o *Order) IsConfirmedOrLater() bool {
	switch o.Status {
	case StatusConfirmed, StatusShipped, StatusDelivered:
		return true
	}
	return false
}

// RecalculateTotal sets TotalAmount to the sum of the line totals.
func (o *Order) RecalculateTotal() {
	var total int64
	for i := range o.Items {
		total += o.Items[i].LineTotal()
	}
	o.TotalAmount = total
}
