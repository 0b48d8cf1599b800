package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/database"
	apperrors "github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/errors"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/inventory/internal/domain"
	"github.com/kitoha/ECO-MSA-SERVER-sub001/services/inventory/internal/repository"
)

const rebuildPageSize = 500

// ReservationConfig tunes the reservation service.
type ReservationConfig struct {
	// TTL is how long an ACTIVE reservation holds stock before it is swept.
	TTL   time.Duration
	Retry database.RetryPolicy
}

// ReservationService creates and settles reservations. Each reservation
// change and its ledger change commit in one transaction.
type ReservationService struct {
	tx           repository.Transactor
	reservations repository.ReservationRepository
	settlements  repository.SettlementRepository
	index        repository.ExpiryIndex
	history      *HistoryRecorder
	cfg          ReservationConfig
	logger       *slog.Logger
	now          func() time.Time
}

// NewReservationService creates a new reservation service. reservations and
// settlements are used outside a transaction.
func NewReservationService(
	tx repository.Transactor,
	reservations repository.ReservationRepository,
	settlements repository.SettlementRepository,
	index repository.ExpiryIndex,
	history *HistoryRecorder,
	cfg ReservationConfig,
	logger *slog.Logger,
) *ReservationService {
	return &ReservationService{
		tx:           tx,
		reservations: reservations,
		settlements:  settlements,
		index:        index,
		history:      history,
		cfg:          cfg,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// CreateReservation holds qty units of productID for orderID. A repeated
// request for the same order and product returns the existing reservation.
// If the order was already settled the reservation takes that outcome at
// once: a confirmed order consumes the stock, a cancelled one holds nothing.
func (s *ReservationService) CreateReservation(ctx context.Context, orderID, productID string, qty int) (*domain.Reservation, error) {
	if orderID == "" {
		return nil, s.reject(apperrors.InvalidInput("order_id is required"))
	}
	if productID == "" {
		return nil, s.reject(apperrors.InvalidInput("product_id is required"))
	}
	if qty <= 0 {
		return nil, s.reject(apperrors.InvalidInput(fmt.Sprintf("quantity must be positive, got %d", qty)))
	}

	existing, err := s.reservations.FindLive(ctx, orderID, productID)
	switch {
	case err == nil:
		return s.resume(ctx, existing)
	case !errors.Is(err, apperrors.ErrNotFound):
		return nil, fmt.Errorf("create reservation: %w", err)
	}

	var (
		res  *domain.Reservation
		muts []domain.Mutation
	)
	err = database.WithOptimisticRetry(ctx, s.cfg.Retry, "create reservation", func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context, st repository.Stores) error {
			now := s.now()
			outcome, err := settledOutcome(ctx, st.Settlements, orderID)
			if err != nil {
				return err
			}

			r := &domain.Reservation{
				ID:        uuid.New().String(),
				ProductID: productID,
				OrderID:   orderID,
				Quantity:  qty,
				Status:    domain.ReservationActive,
				ExpiresAt: now.Add(s.cfg.TTL),
				CreatedAt: now,
				UpdatedAt: now,
			}
			var ms []domain.Mutation
			switch outcome {
			case domain.ReservationCancelled:
				r.Status = outcome
			case domain.ReservationCompleted:
				r.Status = outcome
				_, _, err = applyToLedger(ctx, st.Ledger, productID, now, func(e *domain.StockLedgerEntry) (domain.Mutation, error) {
					reserve, err := e.Reserve(qty)
					if err != nil {
						return domain.Mutation{}, err
					}
					confirm, err := e.Confirm(qty)
					ms = []domain.Mutation{reserve, confirm}
					return confirm, err
				})
			default:
				var m domain.Mutation
				_, m, err = applyToLedger(ctx, st.Ledger, productID, now, func(e *domain.StockLedgerEntry) (domain.Mutation, error) {
					return e.Reserve(qty)
				})
				ms = []domain.Mutation{m}
			}
			if err != nil {
				return err
			}
			if err := st.Reservations.Create(ctx, r); err != nil {
				return err
			}
			res, muts = r, ms
			return nil
		})
	})
	if errors.Is(err, apperrors.ErrAlreadyExists) {
		// A concurrent delivery of the same request won.
		existing, ferr := s.reservations.FindLive(ctx, orderID, productID)
		if ferr != nil {
			return nil, fmt.Errorf("create reservation: resolve duplicate: %w", ferr)
		}
		return s.resume(ctx, existing)
	}
	if err != nil {
		return nil, s.reject(fmt.Errorf("create reservation: %w", err))
	}

	reservationsCreated.Inc()
	for _, m := range muts {
		s.history.Record(ctx, productID, m, orderID)
	}

	if !res.IsActive() {
		reservationsSettled.WithLabelValues(string(res.Status)).Inc()
		s.logger.InfoContext(ctx, "reservation created for settled order",
			slog.String("reservation_id", res.ID),
			slog.String("order_id", orderID),
			slog.String("product_id", productID),
			slog.String("status", string(res.Status)),
			slog.Int("quantity", qty),
		)
		return res, nil
	}

	if err := s.index.Add(ctx, res.ID, res.ExpiresAt); err != nil {
		// The reservation is durable; a redelivery takes the resume path
		// and indexes it again.
		return nil, fmt.Errorf("index reservation %s: %w", res.ID, err)
	}

	s.logger.InfoContext(ctx, "reservation created",
		slog.String("reservation_id", res.ID),
		slog.String("order_id", orderID),
		slog.String("product_id", productID),
		slog.Int("quantity", qty),
		slog.Time("expires_at", res.ExpiresAt),
	)
	return s.catchUp(ctx, res)
}

// resume returns an already persisted reservation, making sure an ACTIVE one
// is in the expiry index.
func (s *ReservationService) resume(ctx context.Context, r *domain.Reservation) (*domain.Reservation, error) {
	if r.IsActive() {
		if err := s.index.Add(ctx, r.ID, r.ExpiresAt); err != nil {
			return nil, fmt.Errorf("index reservation %s: %w", r.ID, err)
		}
	}
	s.logger.DebugContext(ctx, "reservation already exists",
		slog.String("reservation_id", r.ID),
		slog.String("status", string(r.Status)),
	)
	return s.catchUp(ctx, r)
}

// catchUp settles an ACTIVE reservation whose order settled while it was
// being created. The settle path marks the order before listing its ACTIVE
// reservations, so a reservation committed after that listing sees the mark
// here.
func (s *ReservationService) catchUp(ctx context.Context, r *domain.Reservation) (*domain.Reservation, error) {
	if !r.IsActive() {
		return r, nil
	}
	outcome, err := settledOutcome(ctx, s.settlements, r.OrderID)
	if err != nil {
		return nil, fmt.Errorf("check settlement of order %s: %w", r.OrderID, err)
	}
	if outcome == "" {
		return r, nil
	}
	if err := s.finish(ctx, *r, outcome); err != nil {
		return nil, err
	}
	return s.GetReservation(ctx, r.ID)
}

// settledOutcome returns the order's recorded outcome, or "" while the order
// is unsettled.
func settledOutcome(ctx context.Context, settlements repository.SettlementRepository, orderID string) (domain.ReservationStatus, error) {
	outcome, err := settlements.Outcome(ctx, orderID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return "", nil
	}
	return outcome, err
}

func (s *ReservationService) reject(err error) error {
	reservationsRejected.WithLabelValues(apperrors.Classify(err).String()).Inc()
	return err
}

// GetReservation returns a reservation by id.
func (s *ReservationService) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	r, err := s.reservations.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	return r, nil
}

// ConfirmReservationsByOrderID consumes the stock of every ACTIVE reservation
// of the order and records the order as confirmed, so a reservation requested
// later is consumed on creation.
func (s *ReservationService) ConfirmReservationsByOrderID(ctx context.Context, orderID string) error {
	return s.finishByOrder(ctx, orderID, domain.ReservationCompleted)
}

// CancelReservationsByOrderID releases the stock of every ACTIVE reservation
// of the order and records the order as cancelled, so a reservation requested
// later holds nothing.
func (s *ReservationService) CancelReservationsByOrderID(ctx context.Context, orderID string) error {
	return s.finishByOrder(ctx, orderID, domain.ReservationCancelled)
}

// CancelReservation releases one reservation. Unknown and already terminal
// reservations are no-ops.
func (s *ReservationService) CancelReservation(ctx context.Context, reservationID string) error {
	r, err := s.reservations.GetByID(ctx, reservationID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.logger.WarnContext(ctx, "cancel of unknown reservation ignored",
				slog.String("reservation_id", reservationID),
			)
			// A stale index entry would otherwise be signalled forever.
			if rerr := s.index.Remove(ctx, reservationID); rerr != nil {
				return fmt.Errorf("remove unknown reservation from index: %w", rerr)
			}
			return nil
		}
		return fmt.Errorf("cancel reservation: %w", err)
	}
	if !r.IsActive() {
		if rerr := s.index.Remove(ctx, reservationID); rerr != nil {
			s.logger.WarnContext(ctx, "failed to remove settled reservation from index",
				slog.String("reservation_id", reservationID),
				slog.String("error", rerr.Error()),
			)
		}
		return nil
	}
	return s.finish(ctx, *r, domain.ReservationCancelled)
}

func (s *ReservationService) finishByOrder(ctx context.Context, orderID string, target domain.ReservationStatus) error {
	if orderID == "" {
		return apperrors.InvalidInput("order_id is required")
	}
	// Mark before listing: see catchUp.
	if err := s.settlements.Mark(ctx, orderID, target, s.now()); err != nil {
		return fmt.Errorf("record settlement of order %s: %w", orderID, err)
	}
	active, err := s.reservations.ListActiveByOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("list reservations for order %s: %w", orderID, err)
	}

	var errs []error
	for _, r := range active {
		if err := s.finish(ctx, r, target); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// finish moves r from ACTIVE to target and applies the matching ledger
// change in the same transaction. Whoever flips the status first wins; the
// loser sees no row change and returns nil.
func (s *ReservationService) finish(ctx context.Context, r domain.Reservation, target domain.ReservationStatus) error {
	op := "confirm reservation"
	settle := func(e *domain.StockLedgerEntry) (domain.Mutation, error) { return e.Confirm(r.Quantity) }
	if target == domain.ReservationCancelled {
		op = "cancel reservation"
		settle = func(e *domain.StockLedgerEntry) (domain.Mutation, error) { return e.Release(r.Quantity) }
	}

	var (
		settled bool
		mut     domain.Mutation
	)
	err := database.WithOptimisticRetry(ctx, s.cfg.Retry, op, func(ctx context.Context) error {
		settled = false
		return s.tx.WithinTx(ctx, func(ctx context.Context, st repository.Stores) error {
			now := s.now()
			ok, err := st.Reservations.UpdateStatusIfActive(ctx, r.ID, target, now)
			if err != nil || !ok {
				return err
			}
			_, m, err := applyToLedger(ctx, st.Ledger, r.ProductID, now, settle)
			if err != nil {
				return err
			}
			settled, mut = true, m
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, r.ID, err)
	}
	if !settled {
		s.logger.DebugContext(ctx, "reservation already settled",
			slog.String("reservation_id", r.ID),
			slog.String("target", string(target)),
		)
		return nil
	}

	reservationsSettled.WithLabelValues(string(target)).Inc()
	if err := s.index.Remove(ctx, r.ID); err != nil {
		// The sweeper will signal it later and the cancel is a no-op.
		s.logger.WarnContext(ctx, "failed to remove reservation from expiry index",
			slog.String("reservation_id", r.ID),
			slog.String("error", err.Error()),
		)
	}
	s.history.Record(ctx, r.ProductID, mut, r.OrderID)

	s.logger.InfoContext(ctx, "reservation settled",
		slog.String("reservation_id", r.ID),
		slog.String("order_id", r.OrderID),
		slog.String("product_id", r.ProductID),
		slog.String("status", string(target)),
		slog.Int("quantity", r.Quantity),
	)
	return nil
}

// RebuildExpiryIndex adds every ACTIVE reservation to the expiry index. It
// recovers from a lost or flushed index and is safe to run at any time.
func (s *ReservationService) RebuildExpiryIndex(ctx context.Context) (int, error) {
	var (
		after string
		total int
	)
	for {
		page, err := s.reservations.ListActive(ctx, after, rebuildPageSize)
		if err != nil {
			return total, fmt.Errorf("rebuild expiry index: %w", err)
		}
		for _, r := range page {
			if err := s.index.Add(ctx, r.ID, r.ExpiresAt); err != nil {
				return total, fmt.Errorf("rebuild expiry index: %w", err)
			}
			total++
		}
		if len(page) < rebuildPageSize {
			return total, nil
		}
		after = page[len(page)-1].ID
	}
}
