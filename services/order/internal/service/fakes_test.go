package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/database"
	apperrors "github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/errors"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/events"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/outbox"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/order/internal/catalog"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/order/internal/domain"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/order/internal/repository"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

var testRetry = database.RetryPolicy{MaxAttempts: 100}

type fixture struct {
	store   *fakeStore
	catalog *mockCatalog
	svc     *OrderService
}

func newFixture() *fixture {
	f := &fixture{store: newFakeStore(), catalog: &mockCatalog{}}
	f.svc = NewOrderService(f.store, f.store.reader(), f.catalog, testRetry, newTestLogger())
	f.svc.now = func() time.Time { return testNow }
	return f
}

// seed stores o as committed state.
func (f *fixture) seed(o domain.Order) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.store.orders[o.ID] = o
}

func pendingOrder(id string) domain.Order {
	return domain.Order{
		ID:          id,
		OrderNumber: "ORD-20260301-" + id,
		UserID:      "user-001",
		Status:      domain.StatusPending,
		Currency:    "KRW",
		TotalAmount: 5000,
		Items: []domain.OrderItem{
			{ID: "item-1", OrderID: id, ProductID: "prod-1", Name: "Widget", UnitPrice: 5000, Quantity: 1},
		},
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}
}

// ---------------------------------------------------------------------------
// mockCatalog
// ---------------------------------------------------------------------------

type mockCatalog struct {
	mock.Mock
}

func (m *mockCatalog) GetProduct(ctx context.Context, id string) (*catalog.Product, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*catalog.Product), args.Error(1)
}

// ---------------------------------------------------------------------------
// fakeStore: committed orders and outbox plus an optimistic transactor
// ---------------------------------------------------------------------------

// fakeStore buffers a transaction's writes and validates row versions at
// commit, so concurrent callers race the way they do in Postgres.
type fakeStore struct {
	mu         sync.Mutex
	orders     map[string]domain.Order
	outbox     []*outbox.Event
	outboxErr  error
	commitHook func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{orders: make(map[string]domain.Order)}
}

func (s *fakeStore) reader() repository.OrderRepository {
	return &fakeTx{store: s}
}

func (s *fakeStore) get(id string) (domain.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	return o, ok
}

func (s *fakeStore) events() []*outbox.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*outbox.Event(nil), s.outbox...)
}

func (s *fakeStore) eventTypes() []string {
	var out []string
	for _, e := range s.events() {
		out = append(out, e.EventType)
	}
	return out
}

func (s *fakeStore) countType(t events.Type) int {
	n := 0
	for _, e := range s.events() {
		if e.EventType == string(t) {
			n++
		}
	}
	return n
}

func (s *fakeStore) WithinTx(ctx context.Context, fn func(ctx context.Context, st repository.Stores) error) error {
	tx := &fakeTx{store: s, expected: make(map[string]int64)}
	if err := fn(ctx, repository.Stores{Orders: tx, Outbox: tx}); err != nil {
		return err
	}
	if s.commitHook != nil {
		s.commitHook()
	}
	return tx.commit()
}

type fakeTx struct {
	store    *fakeStore
	created  []domain.Order
	updated  []domain.Order
	expected map[string]int64
	outbox   []*outbox.Event
}

func cloneOrder(o domain.Order) domain.Order {
	o.Items = append([]domain.OrderItem(nil), o.Items...)
	return o
}

func (t *fakeTx) Create(_ context.Context, o *domain.Order) error {
	t.created = append(t.created, cloneOrder(*o))
	return nil
}

func (t *fakeTx) GetByID(_ context.Context, id string) (*domain.Order, error) {
	o, ok := t.store.get(id)
	if !ok {
		return nil, apperrors.NotFound("order", id)
	}
	c := cloneOrder(o)
	return &c, nil
}

func (t *fakeTx) UpdateIfVersion(_ context.Context, o *domain.Order, expected int64) (bool, error) {
	cur, ok := t.store.get(o.ID)
	if !ok || cur.Version != expected {
		return false, nil
	}
	o.Version = expected + 1
	t.updated = append(t.updated, cloneOrder(*o))
	t.expected[o.ID] = expected
	return true, nil
}

func (t *fakeTx) Save(_ context.Context, e *outbox.Event) error {
	if t.store.outboxErr != nil {
		return t.store.outboxErr
	}
	t.outbox = append(t.outbox, e)
	return nil
}

func (t *fakeTx) SaveAll(ctx context.Context, evs []*outbox.Event) error {
	for _, e := range evs {
		if err := t.Save(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (t *fakeTx) commit() error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range t.created {
		if _, exists := s.orders[o.ID]; exists {
			return apperrors.AlreadyExists("order", "id", o.ID)
		}
	}
	for _, o := range t.updated {
		if s.orders[o.ID].Version != t.expected[o.ID] {
			return apperrors.ErrVersionConflict
		}
	}
	for _, o := range t.created {
		s.orders[o.ID] = o
	}
	for _, o := range t.updated {
		s.orders[o.ID] = o
	}
	s.outbox = append(s.outbox, t.outbox...)
	return nil
}

var errDiskFull = errors.New("disk full")
