// Package lock provides named lease locks for jobs that must run on a single
// replica at a time.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrLeaseLost is returned when the lease expired or was taken over before the
// holder released or renewed it.
var ErrLeaseLost = errors.New("lease lost")

// LeaseOptions bounds how long a lease is held. MaxHold is the lease TTL: a
// holder that crashes loses the lock after MaxHold. MinHold keeps the lock
// taken for at least that long even if it is released earlier, which stops
// replicas with skewed tickers from running the same job back to back.
type LeaseOptions struct {
	MinHold time.Duration
	MaxHold time.Duration
}

// Validate checks that the options describe a usable lease.
func (o LeaseOptions) Validate() error {
	if o.MaxHold <= 0 {
		return fmt.Errorf("lock: max hold must be positive, got %s", o.MaxHold)
	}
	if o.MinHold < 0 || o.MinHold > o.MaxHold {
		return fmt.Errorf("lock: min hold %s must be between 0 and max hold %s", o.MinHold, o.MaxHold)
	}
	return nil
}

// Lease is a held lock.
type Lease interface {
	// Release gives the lock up, or shortens it to the remaining min hold.
	Release(ctx context.Context) error
	// Renew extends the lease to a fresh MaxHold from now.
	Renew(ctx context.Context) error
}

// Locker acquires leases by name.
type Locker interface {
	// TryAcquire returns (nil, false, nil) when another holder has the lock.
	TryAcquire(ctx context.Context, name string, opts LeaseOptions) (Lease, bool, error)
}

// Keeper renews a lease once half of MaxHold has passed since it was taken
// or last renewed. A job that works through a batch under the lease calls
// Keep between items. A nil *Keeper never renews.
type Keeper struct {
	lease Lease
	every time.Duration
	now   func() time.Time
	last  time.Time
}

// NewKeeper starts the renewal clock at now(). A nil now uses the wall clock.
func NewKeeper(lease Lease, opts LeaseOptions, now func() time.Time) *Keeper {
	if now == nil {
		now = time.Now
	}
	return &Keeper{lease: lease, every: opts.MaxHold / 2, now: now, last: now()}
}

// Keep renews the lease when it is due. After an error the caller may no
// longer hold the lock and must stop working under it.
func (k *Keeper) Keep(ctx context.Context) error {
	if k == nil {
		return nil
	}
	t := k.now()
	if t.Sub(k.last) < k.every {
		return nil
	}
	if err := k.lease.Renew(ctx); err != nil {
		return fmt.Errorf("keep lease: %w", err)
	}
	k.last = t
	return nil
}

// remainingMinHold returns how much of the min hold is left at now.
func remainingMinHold(acquiredAt, now time.Time, minHold time.Duration) time.Duration {
	return minHold - now.Sub(acquiredAt)
}
