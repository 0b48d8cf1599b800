package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/database"
	apperrors "github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/errors"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/inventory/internal/domain"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/inventory/internal/repository"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// testRetry is generous so heavily contended tests never exhaust.
var testRetry = database.RetryPolicy{MaxAttempts: 200}

func newTestRecorder(h *fakeHistory) *HistoryRecorder {
	r := NewHistoryRecorder(h, newTestLogger())
	r.backoff = time.Millisecond
	r.now = func() time.Time { return testNow }
	return r
}

type fixture struct {
	store   *fakeStore
	index   *fakeIndex
	history *fakeHistory
	ledger  *LedgerService
	res     *ReservationService
}

func newFixture() *fixture {
	f := &fixture{
		store:   newFakeStore(),
		index:   newFakeIndex(),
		history: &fakeHistory{},
	}
	rec := newTestRecorder(f.history)
	f.ledger = NewLedgerService(f.store, rec, testRetry, newTestLogger())
	f.ledger.now = func() time.Time { return testNow }
	f.res = NewReservationService(f.store, f.store.reservationRepo(), f.store, f.index, rec,
		ReservationConfig{TTL: 15 * time.Minute, Retry: testRetry}, newTestLogger())
	f.res.now = func() time.Time { return testNow }
	return f
}

// ---------------------------------------------------------------------------
// fakeStore: committed state plus an optimistic transactor
// ---------------------------------------------------------------------------

// fakeStore holds committed ledger, reservation and settlement rows. Its
// transactions buffer writes and validate them at commit, so concurrent
// callers race the same way they do against row versions in Postgres.
type fakeStore struct {
	mu           sync.Mutex
	ledger       map[string]domain.StockLedgerEntry
	reservations map[string]domain.Reservation
	settled      map[string]domain.ReservationStatus

	// beforeCommit, when set, runs once just before the next commit.
	beforeCommit func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		ledger:       make(map[string]domain.StockLedgerEntry),
		reservations: make(map[string]domain.Reservation),
		settled:      make(map[string]domain.ReservationStatus),
	}
}

func (s *fakeStore) seed(productID string, available int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger[productID] = domain.StockLedgerEntry{ProductID: productID, Available: available, Total: available}
}

func (s *fakeStore) entry(productID string) domain.StockLedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger[productID]
}

func (s *fakeStore) reservation(id string) domain.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reservations[id]
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reservations)
}

// LedgerRepository

func (s *fakeStore) Get(_ context.Context, productID string) (*domain.StockLedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.ledger[productID]
	if !ok {
		return nil, apperrors.NotFound("product", productID)
	}
	return &e, nil
}

func (s *fakeStore) Create(_ context.Context, e *domain.StockLedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ledger[e.ProductID]; ok {
		return apperrors.AlreadyExists("stock ledger", "product_id", e.ProductID)
	}
	s.ledger[e.ProductID] = *e
	return nil
}

func (s *fakeStore) UpdateIfVersion(_ context.Context, e *domain.StockLedgerEntry, expected int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.ledger[e.ProductID]
	if !ok || cur.Version != expected {
		return false, nil
	}
	e.Version = expected + 1
	s.ledger[e.ProductID] = *e
	return true, nil
}

// SettlementRepository, read and written at committed state.

func (s *fakeStore) Mark(_ context.Context, orderID string, outcome domain.ReservationStatus, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.settled[orderID]; !ok {
		s.settled[orderID] = outcome
	}
	return nil
}

func (s *fakeStore) Outcome(_ context.Context, orderID string) (domain.ReservationStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	outcome, ok := s.settled[orderID]
	if !ok {
		return "", apperrors.ErrNotFound
	}
	return outcome, nil
}

// ReservationRepository

func (s *fakeStore) liveLocked(orderID, productID string) (domain.Reservation, bool) {
	for _, r := range s.reservations {
		if r.OrderID == orderID && r.ProductID == productID && r.Status != domain.ReservationCancelled {
			return r, true
		}
	}
	return domain.Reservation{}, false
}

// storeReservations is the committed-read ReservationRepository view.
type storeReservations fakeStore

func (s *fakeStore) reservationRepo() *storeReservations { return (*storeReservations)(s) }

func (s *storeReservations) Create(_ context.Context, r *domain.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := (*fakeStore)(s).liveLocked(r.OrderID, r.ProductID); dup {
		return apperrors.AlreadyExists("reservation", "order_id/product_id", r.OrderID+"/"+r.ProductID)
	}
	s.reservations[r.ID] = *r
	return nil
}

func (s *storeReservations) GetByID(_ context.Context, id string) (*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return nil, apperrors.NotFound("reservation", id)
	}
	return &r, nil
}

func (s *storeReservations) FindLive(_ context.Context, orderID, productID string) (*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := (*fakeStore)(s).liveLocked(orderID, productID)
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &r, nil
}

func (s *fakeStore) sortedActive(keep func(domain.Reservation) bool) []domain.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Reservation
	for _, r := range s.reservations {
		if r.IsActive() && keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *storeReservations) ListActiveByOrder(_ context.Context, orderID string) ([]domain.Reservation, error) {
	return (*fakeStore)(s).sortedActive(func(r domain.Reservation) bool { return r.OrderID == orderID }), nil
}

func (s *storeReservations) ListActive(_ context.Context, afterID string, limit int) ([]domain.Reservation, error) {
	out := (*fakeStore)(s).sortedActive(func(r domain.Reservation) bool { return r.ID > afterID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *storeReservations) UpdateStatusIfActive(_ context.Context, id string, status domain.ReservationStatus, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok || !r.IsActive() {
		return false, nil
	}
	r.Status, r.UpdatedAt = status, now
	s.reservations[id] = r
	return true, nil
}

// Transactor

func (s *fakeStore) WithinTx(ctx context.Context, fn func(ctx context.Context, st repository.Stores) error) error {
	tx := &fakeTx{
		store:  s,
		ledger: make(map[string]ledgerWrite),
		status: make(map[string]domain.ReservationStatus),
	}
	stores := repository.Stores{Ledger: (*txLedger)(tx), Reservations: (*txReservations)(tx), Settlements: s}
	if err := fn(ctx, stores); err != nil {
		return err
	}
	return tx.commit()
}

type ledgerWrite struct {
	entry    domain.StockLedgerEntry
	expected int64
}

type fakeTx struct {
	store   *fakeStore
	ledger  map[string]ledgerWrite
	status  map[string]domain.ReservationStatus
	at      time.Time
	creates []domain.Reservation
}

// commit validates every buffered write against committed state and applies
// them all or none. A row changed since it was read fails like a serialization
// failure would.
func (tx *fakeTx) commit() error {
	s := tx.store
	s.mu.Lock()
	hook := s.beforeCommit
	s.beforeCommit = nil
	s.mu.Unlock()
	if hook != nil {
		hook()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, w := range tx.ledger {
		if s.ledger[id].Version != w.expected {
			return apperrors.ErrVersionConflict
		}
	}
	for id := range tx.status {
		if r := s.reservations[id]; !r.IsActive() {
			return apperrors.ErrVersionConflict
		}
	}
	for _, r := range tx.creates {
		if _, dup := s.liveLocked(r.OrderID, r.ProductID); dup {
			return apperrors.AlreadyExists("reservation", "order_id/product_id", r.OrderID+"/"+r.ProductID)
		}
	}

	for id, w := range tx.ledger {
		s.ledger[id] = w.entry
	}
	for id, st := range tx.status {
		r := s.reservations[id]
		r.Status, r.UpdatedAt = st, tx.at
		s.reservations[id] = r
	}
	for _, r := range tx.creates {
		s.reservations[r.ID] = r
	}
	return nil
}

type txLedger fakeTx

func (l *txLedger) Get(ctx context.Context, productID string) (*domain.StockLedgerEntry, error) {
	if w, ok := l.ledger[productID]; ok {
		e := w.entry
		return &e, nil
	}
	return l.store.Get(ctx, productID)
}

func (l *txLedger) Create(ctx context.Context, e *domain.StockLedgerEntry) error {
	return l.store.Create(ctx, e)
}

func (l *txLedger) UpdateIfVersion(_ context.Context, e *domain.StockLedgerEntry, expected int64) (bool, error) {
	base := expected
	if w, ok := l.ledger[e.ProductID]; ok {
		if w.entry.Version != expected {
			return false, nil
		}
		base = w.expected
	} else if l.store.entry(e.ProductID).Version != expected {
		return false, nil
	}
	e.Version = expected + 1
	l.ledger[e.ProductID] = ledgerWrite{entry: *e, expected: base}
	return true, nil
}

type txReservations fakeTx

func (r *txReservations) Create(_ context.Context, res *domain.Reservation) error {
	if _, err := r.store.reservationRepo().FindLive(context.Background(), res.OrderID, res.ProductID); err == nil {
		return apperrors.AlreadyExists("reservation", "order_id/product_id", res.OrderID+"/"+res.ProductID)
	}
	r.creates = append(r.creates, *res)
	return nil
}

func (r *txReservations) GetByID(ctx context.Context, id string) (*domain.Reservation, error) {
	return r.store.reservationRepo().GetByID(ctx, id)
}

func (r *txReservations) FindLive(ctx context.Context, orderID, productID string) (*domain.Reservation, error) {
	return r.store.reservationRepo().FindLive(ctx, orderID, productID)
}

func (r *txReservations) ListActiveByOrder(ctx context.Context, orderID string) ([]domain.Reservation, error) {
	return r.store.reservationRepo().ListActiveByOrder(ctx, orderID)
}

func (r *txReservations) ListActive(ctx context.Context, afterID string, limit int) ([]domain.Reservation, error) {
	return r.store.reservationRepo().ListActive(ctx, afterID, limit)
}

func (r *txReservations) UpdateStatusIfActive(ctx context.Context, id string, status domain.ReservationStatus, now time.Time) (bool, error) {
	if _, ok := r.status[id]; ok {
		return false, nil
	}
	cur, err := r.store.reservationRepo().GetByID(ctx, id)
	if err != nil || !cur.IsActive() {
		return false, nil
	}
	r.status[id] = status
	r.at = now
	return true, nil
}

// ---------------------------------------------------------------------------
// fakeIndex
// ---------------------------------------------------------------------------

type fakeIndex struct {
	mu        sync.Mutex
	entries   map[string]time.Time
	addErr    error
	removeErr error
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{entries: make(map[string]time.Time)}
}

func (x *fakeIndex) Add(_ context.Context, id string, expiresAt time.Time) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.addErr != nil {
		return x.addErr
	}
	x.entries[id] = expiresAt
	return nil
}

func (x *fakeIndex) Remove(_ context.Context, id string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.removeErr != nil {
		return x.removeErr
	}
	delete(x.entries, id)
	return nil
}

func (x *fakeIndex) Due(_ context.Context, now time.Time, limit int) ([]string, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	var ids []string
	for id, at := range x.entries {
		if !at.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return x.entries[ids[i]].Before(x.entries[ids[j]]) })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (x *fakeIndex) has(id string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, ok := x.entries[id]
	return ok
}

func (x *fakeIndex) len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.entries)
}

// ---------------------------------------------------------------------------
// fakeHistory
// ---------------------------------------------------------------------------

type fakeHistory struct {
	mu       sync.Mutex
	entries  []domain.StockHistoryEntry
	failures int // remaining inserts to fail; negative fails forever
	calls    int
}

var errHistoryDown = errors.New("history store down")

func (h *fakeHistory) Insert(_ context.Context, e *domain.StockHistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.failures != 0 {
		if h.failures > 0 {
			h.failures--
		}
		return errHistoryDown
	}
	h.entries = append(h.entries, *e)
	return nil
}

func (h *fakeHistory) ListByProduct(_ context.Context, productID string, limit int) ([]domain.StockHistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []domain.StockHistoryEntry
	for i := len(h.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if h.entries[i].InventoryID == productID {
			out = append(out, h.entries[i])
		}
	}
	return out, nil
}

func (h *fakeHistory) all() []domain.StockHistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.StockHistoryEntry(nil), h.entries...)
}
