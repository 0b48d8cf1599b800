// Package events defines the saga's event catalogue as a closed set of
// versioned payloads carried inside the kafka.Event envelope.
package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/kafka"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/validator"
)

// SchemaVersion is the only payload version this build reads and writes.
const SchemaVersion = 1

// Type identifies a payload variant on the wire.
type Type string

const (
	TypeOrderCreated                Type = "order.created"
	TypeInventoryReservationRequest Type = "inventory.reservation_requested"
	TypeReservationFailed           Type = "inventory.reservation_failed"
	TypePaymentCompleted            Type = "payment.completed"
	TypePaymentFailed               Type = "payment.failed"
	TypeOrderConfirmed              Type = "order.confirmed"
	TypeOrderCancelled              Type = "order.cancelled"
	TypeReservationExpired          Type = "inventory.reservation_expired"
)

// Topics.
var (
	TopicOrderCreated                = kafka.Topic("order", "created")
	TopicInventoryReservationRequest = kafka.Topic("inventory", "reservation-requested")
	TopicReservationFailed           = kafka.Topic("inventory", "reservation-failed")
	TopicPaymentCompleted            = kafka.Topic("payment", "completed")
	TopicPaymentFailed               = kafka.Topic("payment", "failed")
	TopicOrderConfirmed              = kafka.Topic("order", "confirmed")
	TopicOrderCancelled              = kafka.Topic("order", "cancelled")
	TopicReservationExpired          = kafka.Topic("inventory", "reservation-expired")
)

// ErrMalformed is returned by Decode for envelopes that can never be handled:
// unknown types, unsupported versions and payloads failing validation.
var ErrMalformed = errors.New("malformed event")

// Envelope is the wire envelope every payload travels in.
type Envelope = kafka.Event

// Payload is implemented only by the variants in this package.
type Payload interface {
	EventType() Type
	// Topic is the topic the variant is published on.
	Topic() string
	// Key is the partition key. Events of one order share a partition.
	Key() string
	aggregateType() string
}

// OrderItem is a line item snapshot. UnitPrice is in minor units.
type OrderItem struct {
	ProductID string `json:"product_id" validate:"required"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price" validate:"gte=0"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
}

type OrderCreated struct {
	OrderID         string      `json:"order_id" validate:"required"`
	OrderNumber     string      `json:"order_number" validate:"required"`
	UserID          string      `json:"user_id" validate:"required"`
	Items           []OrderItem `json:"items" validate:"required,min=1,dive"`
	TotalAmount     int64       `json:"total_amount" validate:"gte=0"`
	Currency        string      `json:"currency"`
	ShippingAddress string      `json:"shipping_address"`
	ShippingName    string      `json:"shipping_name"`
	ShippingPhone   string      `json:"shipping_phone"`
	Timestamp       time.Time   `json:"timestamp"`
}

type InventoryReservationRequest struct {
	OrderID   string    `json:"order_id" validate:"required"`
	ProductID string    `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"gt=0"`
	Timestamp time.Time `json:"timestamp"`
}

type ReservationFailed struct {
	OrderID   string    `json:"order_id" validate:"required"`
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	Reason    string    `json:"reason" validate:"required"`
	Timestamp time.Time `json:"timestamp"`
}

type PaymentCompleted struct {
	OrderID      string    `json:"order_id" validate:"required"`
	PaymentID    string    `json:"payment_id" validate:"required"`
	PGProvider   string    `json:"pg_provider"`
	PGPaymentKey string    `json:"pg_payment_key"`
	Timestamp    time.Time `json:"timestamp"`
}

type PaymentFailed struct {
	OrderID   string    `json:"order_id" validate:"required"`
	Reason    string    `json:"reason" validate:"required"`
	Timestamp time.Time `json:"timestamp"`
}

type OrderConfirmed struct {
	OrderID     string    `json:"order_id" validate:"required"`
	OrderNumber string    `json:"order_number"`
	UserID      string    `json:"user_id"`
	Timestamp   time.Time `json:"timestamp"`
}

type OrderCancelled struct {
	OrderID     string    `json:"order_id" validate:"required"`
	OrderNumber string    `json:"order_number"`
	UserID      string    `json:"user_id"`
	Reason      string    `json:"reason"`
	Timestamp   time.Time `json:"timestamp"`
}

// ReservationExpired is the sweeper's cancellation signal for one reservation.
type ReservationExpired struct {
	ReservationID string `json:"reservation_id" validate:"required"`
	Reason        string `json:"reason"`
}

func (OrderCreated) EventType() Type                { return TypeOrderCreated }
func (InventoryReservationRequest) EventType() Type { return TypeInventoryReservationRequest }
func (ReservationFailed) EventType() Type           { return TypeReservationFailed }
func (PaymentCompleted) EventType() Type            { return TypePaymentCompleted }
func (PaymentFailed) EventType() Type               { return TypePaymentFailed }
func (OrderConfirmed) EventType() Type              { return TypeOrderConfirmed }
func (OrderCancelled) EventType() Type              { return TypeOrderCancelled }
func (ReservationExpired) EventType() Type          { return TypeReservationExpired }

func (OrderCreated) Topic() string                { return TopicOrderCreated }
func (InventoryReservationRequest) Topic() string { return TopicInventoryReservationRequest }
func (ReservationFailed) Topic() string           { return TopicReservationFailed }
func (PaymentCompleted) Topic() string            { return TopicPaymentCompleted }
func (PaymentFailed) Topic() string               { return TopicPaymentFailed }
func (OrderConfirmed) Topic() string              { return TopicOrderConfirmed }
func (OrderCancelled) Topic() string              { return TopicOrderCancelled }
func (ReservationExpired) Topic() string          { return TopicReservationExpired }

func (e OrderCreated) Key() string                { return e.OrderID }
func (e InventoryReservationRequest) Key() string { return e.OrderID }
func (e ReservationFailed) Key() string           { return e.OrderID }
func (e PaymentCompleted) Key() string            { return e.OrderID }
func (e PaymentFailed) Key() string               { return e.OrderID }
func (e OrderConfirmed) Key() string              { return e.OrderID }
func (e OrderCancelled) Key() string              { return e.OrderID }
func (e ReservationExpired) Key() string          { return e.ReservationID }

func (OrderCreated) aggregateType() string                { return "order" }
func (InventoryReservationRequest) aggregateType() string { return "order" }
func (ReservationFailed) aggregateType() string           { return "order" }
func (PaymentCompleted) aggregateType() string            { return "order" }
func (PaymentFailed) aggregateType() string               { return "order" }
func (OrderConfirmed) aggregateType() string              { return "order" }
func (OrderCancelled) aggregateType() string              { return "order" }
func (ReservationExpired) aggregateType() string          { return "reservation" }

// NewEnvelope wraps p for publishing. The aggregate id is p's partition key.
func NewEnvelope(p Payload, source string) (*Envelope, error) {
	ev, err := kafka.NewEvent(string(p.EventType()), p.Key(), p.aggregateType(), source, p)
	if err != nil {
		return nil, fmt.Errorf("build %s envelope: %w", p.EventType(), err)
	}
	ev.Version = SchemaVersion
	return ev, nil
}

// Decode returns the typed payload carried by ev.
func Decode(ev *Envelope) (Payload, error) {
	if ev.Version != SchemaVersion {
		return nil, fmt.Errorf("%w: %s version %d not supported", ErrMalformed, ev.EventType, ev.Version)
	}

	switch Type(ev.EventType) {
	case TypeOrderCreated:
		return decodeAs[OrderCreated](ev)
	case TypeInventoryReservationRequest:
		return decodeAs[InventoryReservationRequest](ev)
	case TypeReservationFailed:
		return decodeAs[ReservationFailed](ev)
	case TypePaymentCompleted:
		return decodeAs[PaymentCompleted](ev)
	case TypePaymentFailed:
		return decodeAs[PaymentFailed](ev)
	case TypeOrderConfirmed:
		return decodeAs[OrderConfirmed](ev)
	case TypeOrderCancelled:
		return decodeAs[OrderCancelled](ev)
	case TypeReservationExpired:
		return decodeAs[ReservationExpired](ev)
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrMalformed, ev.EventType)
	}
}

func decodeAs[T Payload](ev *Envelope) (Payload, error) {
	var p T
	if err := ev.UnmarshalData(&p); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformed, ev.EventType, err)
	}
	if err := validator.Validate(p); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformed, ev.EventType, err)
	}
	return p, nil
}
