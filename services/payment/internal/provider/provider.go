// Package provider defines the port to an external payment gateway.
package provider

import (
	"context"
)

// ChargeRequest holds the parameters for one charge. Providers must treat
// IdempotencyKey as the identity of the charge: retrying with the same key
// returns the original result and never charges twice.
type ChargeRequest struct {
	IdempotencyKey string
	OrderID        string
	Amount         int64
	Currency       string
}

// ChargeResult is the provider's answer. A decline is a result, not an error.
type ChargeResult struct {
	PaymentKey    string
	Approved      bool
	DeclineReason string
}

// Provider defines the interface for payment provider integrations.
type Provider interface {
	// Name returns the provider name (e.g., "mock").
	Name() string

	// Charge submits a charge. An error means the outcome is unknown and the
	// call may be retried with the same key.
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}
