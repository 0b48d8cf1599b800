package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Both scripts act only when the key still holds the caller's token.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
	return 0
end
local keep = tonumber(ARGV[2])
if keep > 0 then
	return redis.call("PEXPIRE", KEYS[1], keep)
end
return redis.call("DEL", KEYS[1])
`)

	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
	return 0
end
return redis.call("PEXPIRE", KEYS[1], ARGV[2])
`)
)

// RedisLocker implements Locker with SET NX PX on one Redis key per name.
type RedisLocker struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisLocker creates a locker storing keys as "<prefix>:<name>".
func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix, now: time.Now}
}

func (l *RedisLocker) TryAcquire(ctx context.Context, name string, opts LeaseOptions) (Lease, bool, error) {
	if err := opts.Validate(); err != nil {
		return nil, false, err
	}

	key := l.prefix + ":" + name
	token := uuid.NewString()
	acquiredAt := l.now()

	ok, err := l.client.SetNX(ctx, key, token, opts.MaxHold).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}

	return &redisLease{
		locker:     l,
		key:        key,
		token:      token,
		opts:       opts,
		acquiredAt: acquiredAt,
	}, true, nil
}

type redisLease struct {
	locker     *RedisLocker
	key        string
	token      string
	opts       LeaseOptions
	acquiredAt time.Time
}

func (r *redisLease) Release(ctx context.Context) error {
	keep := remainingMinHold(r.acquiredAt, r.locker.now(), r.opts.MinHold)
	res, err := releaseScript.Run(ctx, r.locker.client, []string{r.key}, r.token, max(keep.Milliseconds(), 0)).Int()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", r.key, err)
	}
	if res == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (r *redisLease) Renew(ctx context.Context) error {
	res, err := renewScript.Run(ctx, r.locker.client, []string{r.key}, r.token, r.opts.MaxHold.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("renew lock %s: %w", r.key, err)
	}
	if res == 0 {
		return ErrLeaseLost
	}
	return nil
}
