// Package mock is an in-process payment provider for development and tests.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/payment/internal/provider"
)

// Name is the provider name recorded on payments.
const Name = "mock"

// Config controls the mock's behaviour.
type Config struct {
	// FailAboveAmount declines charges strictly greater than it. 0 approves everything.
	FailAboveAmount int64
	// Latency simulates the provider round trip.
	Latency time.Duration
}

// Provider approves or declines charges by amount and remembers every result
// by idempotency key.
type Provider struct {
	cfg Config

	mu      sync.Mutex
	charges map[string]provider.ChargeResult
}

// NewProvider creates a new mock payment provider.
func NewProvider(cfg Config) *Provider {
	return &Provider{
		cfg:     cfg,
		charges: make(map[string]provider.ChargeResult),
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return Name
}

// Charge simulates a charge. A repeated key returns the first result.
func (p *Provider) Charge(ctx context.Context, req provider.ChargeRequest) (*provider.ChargeResult, error) {
	if p.cfg.Latency > 0 {
		t := time.NewTimer(p.cfg.Latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if res, ok := p.charges[req.IdempotencyKey]; ok {
		return &res, nil
	}

	res := provider.ChargeResult{PaymentKey: "mock_pay_" + uuid.NewString(), Approved: true}
	if p.cfg.FailAboveAmount > 0 && req.Amount > p.cfg.FailAboveAmount {
		res = provider.ChargeResult{
			Approved:      false,
			DeclineReason: fmt.Sprintf("amount %d %s exceeds limit %d", req.Amount, req.Currency, p.cfg.FailAboveAmount),
		}
	}
	if req.IdempotencyKey != "" {
		p.charges[req.IdempotencyKey] = res
	}
	return &res, nil
}

// Charges returns how many distinct charges were recorded.
func (p *Provider) Charges() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.charges)
}
