package counter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/finsight/api-governor/internal/storage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each counter window as a sorted set scored by the
// request timestamp. Trim, record, count and TTL refresh run in one
// MULTI/EXEC pipeline so concurrent processes never interleave inside
// the sequence.
type RedisStore struct {
	client  *storage.RedisClient
	timeout time.Duration
}

// NewRedisStore wraps an already-connected client. timeout bounds every
// counter call so a slow network cannot stall the request pipeline.
func NewRedisStore(client *storage.RedisClient, timeout time.Duration) *RedisStore {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &RedisStore{client: client, timeout: timeout}
}

func redisKey(key string) string {
	return "ratelimit:" + key
}

func (s *RedisStore) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (Sample, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rk := redisKey(key)
	cutoff := now.Add(-window).UnixNano()

	var (
		cardCmd   *redis.IntCmd
		oldestCmd *redis.ZSliceCmd
	)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, rk, "0", strconv.FormatInt(cutoff, 10))
		// Member gets a unique suffix so same-nanosecond hits from
		// different processes are distinct entries.
		pipe.ZAdd(ctx, rk, redis.Z{
			Score:  float64(now.UnixNano()),
			Member: fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString()),
		})
		cardCmd = pipe.ZCard(ctx, rk)
		oldestCmd = pipe.ZRangeWithScores(ctx, rk, 0, 0)
		pipe.Expire(ctx, rk, window)
		return nil
	})
	if err != nil {
		return Sample{}, fmt.Errorf("redis counter hit: %w", err)
	}

	return Sample{
		Count:    cardCmd.Val(),
		OldestAt: oldestAt(oldestCmd.Val(), now),
	}, nil
}

func (s *RedisStore) Peek(ctx context.Context, key string, window time.Duration, now time.Time) (Sample, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rk := redisKey(key)
	cutoff := now.Add(-window).UnixNano()

	var (
		cardCmd   *redis.IntCmd
		oldestCmd *redis.ZSliceCmd
	)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, rk, "0", strconv.FormatInt(cutoff, 10))
		cardCmd = pipe.ZCard(ctx, rk)
		oldestCmd = pipe.ZRangeWithScores(ctx, rk, 0, 0)
		return nil
	})
	if err != nil {
		return Sample{}, fmt.Errorf("redis counter peek: %w", err)
	}

	return Sample{
		Count:    cardCmd.Val(),
		OldestAt: oldestAt(oldestCmd.Val(), now),
	}, nil
}

func oldestAt(entries []redis.Z, now time.Time) time.Time {
	if len(entries) == 0 {
		return now
	}
	return time.Unix(0, int64(entries[0].Score))
}
