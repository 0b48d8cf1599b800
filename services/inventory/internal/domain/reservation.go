package domain

import (
	"time"
)

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationCompleted ReservationStatus = "COMPLETED"
	ReservationCancelled ReservationStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is possible.
func (s ReservationStatus) IsTerminal() bool {
	return s == ReservationCompleted || s == ReservationCancelled
}

// Reservation holds Quantity units of one product for one order. While it is
// ACTIVE its quantity is counted in the product's Reserved counter.
type Reservation struct {
	ID        string            `json:"id"`
	ProductID string            `json:"product_id"`
	OrderID   string            `json:"order_id"`
	Quantity  int               `json:"quantity"`
	Status    ReservationStatus `json:"status"`
	ExpiresAt time.Time         `json:"expires_at"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// IsActive returns true if the reservation still holds stock.
func (r *Reservation) IsActive() bool {
	return r.Status == ReservationActive
}

// IsExpired reports whether the hold window has passed at now.
func (r *Reservation) IsExpired(now time.Time) bool {
	return r.IsActive() && !now.Before(r.ExpiresAt)
}
