// Package sweeper finds reservations whose hold window has passed and emits
// a cancellation signal for each. It runs on every replica; a lease lock
// keeps a single replica sweeping at a time.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/lock"
)

// LockName is the lease every sweeper replica competes for.
const LockName = "reservation-expiry-sweeper"

// ExpiredReason is carried on every signal.
const ExpiredReason = "reservation expired"

var (
	signalsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_reservations_expired_total",
		Help: "Expiry signals emitted for reservations past their hold window",
	})
	signalFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_expiry_signal_failures_total",
		Help: "Expiry signals that failed and were left for the next sweep",
	})
	sweepsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_expiry_sweeps_skipped_total",
		Help: "Sweeps skipped because another replica held the lease",
	})
)

// Index is the part of the expiry index the sweeper reads and prunes.
type Index interface {
	Due(ctx context.Context, now time.Time, limit int) ([]string, error)
	Remove(ctx context.Context, reservationID string) error
}

// Signaler emits the cancellation signal for one reservation.
type Signaler interface {
	SignalReservationExpired(ctx context.Context, reservationID, reason string) error
}

// Config holds sweeper settings.
type Config struct {
	Interval  time.Duration
	BatchSize int
	Lease     lock.LeaseOptions
}

// Sweeper is a ticker loop over the expiry index.
type Sweeper struct {
	index    Index
	signaler Signaler
	locker   lock.Locker
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a sweeper.
func New(index Index, signaler Signaler, locker lock.Locker, cfg Config, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		index:    index,
		signaler: signaler,
		locker:   locker,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "expiry-sweeper")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps every Interval until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("expiry sweeper started",
		slog.Duration("interval", s.cfg.Interval),
		slog.Int("batch_size", s.cfg.BatchSize),
	)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("expiry sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Tick runs one sweep under the lease. It returns the number of signals
// sent, or zero when another replica holds the lease.
func (s *Sweeper) Tick(ctx context.Context) (int, error) {
	lease, ok, err := s.locker.TryAcquire(ctx, LockName, s.cfg.Lease)
	if err != nil {
		return 0, err
	}
	if !ok {
		sweepsSkipped.Inc()
		s.logger.Debug("sweep skipped, lease held elsewhere")
		return 0, nil
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := lease.Release(rctx); err != nil {
			s.logger.Warn("failed to release sweeper lease", slog.String("error", err.Error()))
		}
	}()

	return s.sweep(ctx, lock.NewKeeper(lease, s.cfg.Lease, s.now))
}

// SweepOnce signals one batch of due reservations. A failed entry stays in
// the index and is retried on the next sweep.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	return s.sweep(ctx, nil)
}

// sweep stops early if the lease can no longer be kept; the rest of the
// batch is left for whichever replica holds the lease next.
func (s *Sweeper) sweep(ctx context.Context, keeper *lock.Keeper) (int, error) {
	ids, err := s.index.Due(ctx, s.now(), s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if err := keeper.Keep(ctx); err != nil {
			s.logger.Warn("sweeper lease lost, stopping sweep",
				slog.Int("signalled", sent),
				slog.Int("due", len(ids)),
				slog.String("error", err.Error()),
			)
			return sent, err
		}
		if err := s.signaler.SignalReservationExpired(ctx, id, ExpiredReason); err != nil {
			signalFailures.Inc()
			s.logger.Warn("failed to signal expired reservation",
				slog.String("reservation_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := s.index.Remove(ctx, id); err != nil {
			// Signalled twice at worst; the cancel is idempotent.
			s.logger.Warn("failed to remove signalled reservation from index",
				slog.String("reservation_id", id),
				slog.String("error", err.Error()),
			)
		}
		signalsSent.Inc()
		sent++
	}

	if sent > 0 {
		s.logger.Info("expired reservations signalled",
			slog.Int("count", sent),
			slog.Int("due", len(ids)),
		)
	}
	return sent, nil
}
