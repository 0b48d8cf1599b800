package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/lock"
)

// Store is the persistence the relay needs. *Repository implements it.
type Store interface {
	FindUnpublished(ctx context.Context, limit, maxRetries int) ([]Event, error)
	MarkPublished(ctx context.Context, id string, at time.Time) error
	IncrementRetry(ctx context.Context, id, lastError string) error
	CountStuck(ctx context.Context, maxRetries int) (int64, error)
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Publisher writes a serialized event. *kafka.Producer implements it.
type Publisher interface {
	PublishRaw(ctx context.Context, topic, key string, value []byte, headers ...kafka.Header) error
}

// RelayConfig controls polling and retention.
type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxRetries   int
	// Retention is how long published rows are kept. Zero disables purging.
	Retention     time.Duration
	PurgeInterval time.Duration
	// LockName and Lease are used when a Locker is supplied, so only one
	// replica relays at a time and per-aggregate order is kept.
	LockName string
	Lease    lock.LeaseOptions
}

// DefaultRelayConfig returns the relay defaults.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		PollInterval:  time.Second,
		BatchSize:     100,
		MaxRetries:    10,
		Retention:     7 * 24 * time.Hour,
		PurgeInterval: time.Hour,
		LockName:      "outbox-relay",
		Lease:         lock.LeaseOptions{MinHold: 0, MaxHold: 30 * time.Second},
	}
}

// Relay polls the outbox and publishes rows to Kafka.
type Relay struct {
	store  Store
	pub    Publisher
	locker lock.Locker
	cfg    RelayConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewRelay creates a relay. locker may be nil for a single-replica deployment.
func NewRelay(store Store, pub Publisher, locker lock.Locker, cfg RelayConfig, logger *slog.Logger) *Relay {
	return &Relay{
		store:  store,
		pub:    pub,
		locker: locker,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "outbox_relay")),
		now:    time.Now,
	}
}

// Run relays until ctx is canceled.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("outbox relay started",
		slog.Duration("interval", r.cfg.PollInterval),
		slog.Int("batch_size", r.cfg.BatchSize),
	)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	lastPurge := r.now()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return nil
		case <-ticker.C:
		}

		if err := r.tick(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("outbox relay tick failed", slog.String("error", err.Error()))
		}

		if r.cfg.Retention > 0 && r.now().Sub(lastPurge) >= r.cfg.PurgeInterval {
			lastPurge = r.now()
			if _, err := r.Purge(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("outbox purge failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Relay) tick(ctx context.Context) error {
	if r.locker == nil {
		_, err := r.RelayOnce(ctx)
		return err
	}

	lease, ok, err := r.locker.TryAcquire(ctx, r.cfg.LockName, r.cfg.Lease)
	if err != nil {
		return fmt.Errorf("acquire relay lock: %w", err)
	}
	if !ok {
		return nil
	}
	defer func() {
		// Release on a fresh context so shutdown still frees the lease.
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := lease.Release(relCtx); err != nil && !errors.Is(err, lock.ErrLeaseLost) {
			r.logger.Warn("failed to release relay lock", slog.String("error", err.Error()))
		}
	}()

	_, err = r.relay(ctx, lock.NewKeeper(lease, r.cfg.Lease, r.now))
	return err
}

// RelayOnce publishes one batch and returns how many rows were delivered.
// After a failure the remaining rows of the same aggregate are held back so
// consumers never see them out of order.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	return r.relay(ctx, nil)
}

// relay stops before the next row once the lease cannot be kept, so two
// replicas never publish the same aggregate concurrently.
func (r *Relay) relay(ctx context.Context, keeper *lock.Keeper) (int, error) {
	batch, err := r.store.FindUnpublished(ctx, r.cfg.BatchSize, r.cfg.MaxRetries)
	if err != nil {
		return 0, err
	}
	pendingEvents.Set(float64(len(batch)))

	if stuck, err := r.store.CountStuck(ctx, r.cfg.MaxRetries); err == nil {
		stuckEvents.Set(float64(stuck))
	}

	blocked := make(map[string]bool)
	published := 0
	for i := range batch {
		e := &batch[i]
		if blocked[e.AggregateID] {
			continue
		}
		if err := keeper.Keep(ctx); err != nil {
			return published, fmt.Errorf("relay lease: %w", err)
		}

		headers := []kafka.Header{{Key: "event_type", Value: []byte(e.EventType)}}
		if err := r.pub.PublishRaw(ctx, e.Topic, e.PartitionKey, e.Payload, headers...); err != nil {
			if ctx.Err() != nil {
				return published, ctx.Err()
			}
			blocked[e.AggregateID] = true
			publishFailures.WithLabelValues(e.EventType).Inc()
			r.logger.WarnContext(ctx, "outbox publish failed",
				slog.String("outbox_id", e.ID),
				slog.String("event_type", e.EventType),
				slog.String("aggregate_id", e.AggregateID),
				slog.Int("retry_count", e.RetryCount+1),
				slog.String("error", err.Error()),
			)
			if e.RetryCount+1 >= r.cfg.MaxRetries {
				r.logger.ErrorContext(ctx, "outbox event exhausted retries, leaving for inspection",
					slog.String("outbox_id", e.ID),
					slog.String("event_type", e.EventType),
				)
			}
			if err := r.store.IncrementRetry(ctx, e.ID, err.Error()); err != nil {
				return published, err
			}
			continue
		}

		if err := r.store.MarkPublished(ctx, e.ID, r.now()); err != nil {
			// The row will be published again; consumers are idempotent.
			return published, err
		}
		eventsPublished.WithLabelValues(e.EventType).Inc()
		published++
	}

	if published > 0 {
		r.logger.DebugContext(ctx, "outbox batch relayed", slog.Int("published", published), slog.Int("batch", len(batch)))
	}
	return published, nil
}

// Purge deletes rows published longer ago than the retention window.
func (r *Relay) Purge(ctx context.Context) (int64, error) {
	n, err := r.store.DeletePublishedBefore(ctx, r.now().Add(-r.cfg.Retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Info("purged published outbox events", slog.Int64("deleted", n))
	}
	return n, nil
}
