package database

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apperrors "github.com/kitoha/ECO-MSA-SERVER-sub001/pkg/errors"
)

var optimisticConflicts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "db_optimistic_conflicts_total",
		Help: "Version conflicts observed by optimistic read-modify-write operations",
	},
	[]string{"operation"},
)

// RetryPolicy bounds how often a version-guarded operation is re-run.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy returns 5 attempts with a fixed 50ms pause.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, Backoff: 50 * time.Millisecond}
}

// WithOptimisticRetry runs fn until it succeeds, fails with anything other than
// apperrors.ErrVersionConflict, or runs out of attempts. fn must re-read the
// versioned row on every call. Exhaustion returns an error matching
// apperrors.ErrConcurrencyExhausted.
//
//	err := database.WithOptimisticRetry(ctx, policy, "reserve stock", func(ctx context.Context) error {
//	    entry, err := repo.Get(ctx, id)
//	    ...
//	    ok, err := repo.UpdateIfVersion(ctx, entry, expected)
//	    if err == nil && !ok {
//	        err = apperrors.ErrVersionConflict
//	    }
//	    return err
//	})
func WithOptimisticRetry(ctx context.Context, policy RetryPolicy, operation string, fn func(ctx context.Context) error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, apperrors.ErrVersionConflict) {
			return err
		}
		lastErr = err
		optimisticConflicts.WithLabelValues(operation).Inc()

		if attempt == attempts {
			break
		}
		if policy.Backoff > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(policy.Backoff):
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return apperrors.ConcurrencyExhausted(operation, attempts, lastErr)
}
