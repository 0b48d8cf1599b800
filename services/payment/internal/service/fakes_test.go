package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	apperrors "github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/errors"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/payment/internal/domain"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/payment/internal/provider"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

var errStoreDown = errors.New("store unavailable")

// fakeRepo is an in-memory payment table with a unique order_id.
type fakeRepo struct {
	mu      sync.Mutex
	byID    map[string]domain.Payment
	byOrder map[string]string
	getErr  error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{byID: make(map[string]domain.Payment), byOrder: make(map[string]string)}
}

func (r *fakeRepo) Create(_ context.Context, p *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byOrder[p.OrderID]; ok {
		return apperrors.AlreadyExists("payment", "order_id", p.OrderID)
	}
	r.byID[p.ID] = *p
	r.byOrder[p.OrderID] = p.ID
	return nil
}

func (r *fakeRepo) GetByID(_ context.Context, id string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, apperrors.NotFound("payment", id)
	}
	return &p, nil
}

func (r *fakeRepo) GetByOrderID(_ context.Context, orderID string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	id, ok := r.byOrder[orderID]
	if !ok {
		return nil, apperrors.NotFound("payment", orderID)
	}
	p := r.byID[id]
	return &p, nil
}

func (r *fakeRepo) Settle(_ context.Context, p *domain.Payment) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byID[p.ID]
	if !ok || stored.Status != domain.StatusPending {
		return false, nil
	}
	r.byID[p.ID] = *p
	return true, nil
}

func (r *fakeRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

func (r *fakeRepo) put(p domain.Payment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[p.ID] = p
	r.byOrder[p.OrderID] = p.ID
}

// recordingPublisher keeps every published outcome.
type recordingPublisher struct {
	mu        sync.Mutex
	published []domain.Payment
	err       error
}

func (p *recordingPublisher) PublishOutcome(_ context.Context, payment *domain.Payment) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, *payment)
	return nil
}

func (p *recordingPublisher) all() []domain.Payment {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Payment(nil), p.published...)
}

// mockProvider scripts provider responses.
type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Name() string {
	return "scripted"
}

func (m *mockProvider) Charge(ctx context.Context, req provider.ChargeRequest) (*provider.ChargeResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.ChargeResult), args.Error(1)
}
