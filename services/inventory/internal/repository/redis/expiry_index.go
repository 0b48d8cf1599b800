package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const expiryKey = "inventory:reservations:expiry"

// ExpiryIndex implements repository.ExpiryIndex as a sorted set scored by
// expiry time in unix milliseconds.
type ExpiryIndex struct {
	client *redis.Client
	key    string
}

// NewExpiryIndex creates a Redis-backed expiry index.
func NewExpiryIndex(client *redis.Client) *ExpiryIndex {
	return &ExpiryIndex{client: client, key: expiryKey}
}

// Add schedules reservationID to expire at expiresAt. Re-adding updates the score.
func (x *ExpiryIndex) Add(ctx context.Context, reservationID string, expiresAt time.Time) error {
	err := x.client.ZAdd(ctx, x.key, redis.Z{
		Score:  float64(expiresAt.UnixMilli()),
		Member: reservationID,
	}).Err()
	if err != nil {
		return fmt.Errorf("redis zadd expiry: %w", err)
	}
	return nil
}

// Remove drops reservationID. Removing an absent id is not an error.
func (x *ExpiryIndex) Remove(ctx context.Context, reservationID string) error {
	if err := x.client.ZRem(ctx, x.key, reservationID).Err(); err != nil {
		return fmt.Errorf("redis zrem expiry: %w", err)
	}
	return nil
}

// Due returns up to limit ids that expire at or before now, earliest first.
func (x *ExpiryIndex) Due(ctx context.Context, now time.Time, limit int) ([]string, error) {
	ids, err := x.client.ZRangeByScore(ctx, x.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrangebyscore expiry: %w", err)
	}
	return ids, nil
}

// Len returns the number of indexed reservations.
func (x *ExpiryIndex) Len(ctx context.Context) (int64, error) {
	n, err := x.client.ZCard(ctx, x.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zcard expiry: %w", err)
	}
	return n, nil
}
