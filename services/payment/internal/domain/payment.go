package domain

import (
	"strings"
	"time"

	apperrors "github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/errors"
)

// Status is the outcome of a charge. A payment is created PENDING before the
// provider is called and settles exactly once.
type Status string

// Payment status constants.
const (
	StatusPending   Status = "PENDING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// ValidStatuses returns all valid payment statuses.
func ValidStatuses() []Status {
	return []Status{StatusPending, StatusSucceeded, StatusFailed}
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusSucceeded, StatusFailed:
		return true
	}
	return false
}

// IsSettled reports whether the charge has a final outcome.
func (s Status) IsSettled() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Payment is the charge taken for one order. Amount is in minor units.
// There is at most one payment per order.
type Payment struct {
	ID            string    `json:"id"`
	OrderID       string    `json:"order_id"`
	UserID        string    `json:"user_id"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	Status        Status    `json:"status"`
	Provider      string    `json:"provider"`
	ProviderKey   string    `json:"provider_payment_key,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewPayment creates a PENDING payment for an order.
func NewPayment(id, orderID, userID string, amount int64, currency, provider string, now time.Time) (*Payment, error) {
	if orderID == "" {
		return nil, apperrors.InvalidInput("order_id is required")
	}
	if amount < 0 {
		return nil, apperrors.InvalidInput("amount must not be negative")
	}
	if len(currency) != 3 {
		return nil, apperrors.InvalidInput("currency must be a 3-letter ISO code")
	}
	return &Payment{
		ID:        id,
		OrderID:   orderID,
		UserID:    userID,
		Amount:    amount,
		Currency:  strings.ToUpper(currency),
		Status:    StatusPending,
		Provider:  provider,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Succeed records an approved charge.
func (p *Payment) Succeed(providerKey string, now time.Time) error {
	if p.Status != StatusPending {
		return apperrors.InvalidStateTransition(string(p.Status), string(StatusSucceeded))
	}
	p.Status = StatusSucceeded
	p.ProviderKey = providerKey
	p.UpdatedAt = now
	return nil
}

// Fail records a declined charge.
func (p *Payment) Fail(reason string, now time.Time) error {
	if p.Status != StatusPending {
		return apperrors.InvalidStateTransition(string(p.Status), string(StatusFailed))
	}
	if reason == "" {
		reason = "declined"
	}
	p.Status = StatusFailed
	p.FailureReason = reason
	p.UpdatedAt = now
	return nil
}
