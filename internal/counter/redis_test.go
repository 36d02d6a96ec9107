package counter

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/finsight/api-governor/internal/clock"
	"github.com/finsight/api-governor/internal/storage"
)

// Integration tests against a local Redis; skipped when none is running.

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()

	client, err := storage.NewRedis("localhost:6379", "", 0)
	if err != nil {
		t.Skipf("Skipping integration test: Redis not available (%v)", err)
	}
	t.Cleanup(func() { client.Close() })

	return NewRedisStore(client, time.Second)
}

func redisTestKey(name string) string {
	return fmt.Sprintf("it_test_%s_%d", name, time.Now().UnixNano())
}

func TestRedisStoreCountsWithinWindow(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()
	key := redisTestKey("count")
	now := time.Now()

	for i := 1; i <= 5; i++ {
		sample, err := store.Hit(ctx, key, time.Minute, now)
		if err != nil {
			t.Fatalf("Hit %d: %v", i, err)
		}
		if sample.Count != int64(i) {
			t.Errorf("hit %d: count = %d, want %d", i, sample.Count, i)
		}
	}
}

func TestRedisStoreTrimsExpiredEntries(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()
	key := redisTestKey("trim")
	now := time.Now()

	for i := 0; i < 3; i++ {
		if _, err := store.Hit(ctx, key, time.Minute, now); err != nil {
			t.Fatalf("Hit: %v", err)
		}
	}

	// A hit after the window has slid past the first three trims them
	// before counting: no permanent lockout.
	later := now.Add(time.Minute + time.Second)
	sample, err := store.Hit(ctx, key, time.Minute, later)
	if err != nil {
		t.Fatalf("Hit after window: %v", err)
	}
	if sample.Count != 1 {
		t.Errorf("count after window elapsed = %d, want 1", sample.Count)
	}
}

func TestRedisStorePeekDoesNotRecord(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()
	key := redisTestKey("peek")
	now := time.Now()

	if _, err := store.Hit(ctx, key, time.Minute, now); err != nil {
		t.Fatalf("Hit: %v", err)
	}

	sample, err := store.Peek(ctx, key, time.Minute, now)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if sample.Count != 1 {
		t.Errorf("peek count = %d, want 1", sample.Count)
	}

	sample, err = store.Hit(ctx, key, time.Minute, now)
	if err != nil {
		t.Fatalf("Hit: %v", err)
	}
	if sample.Count != 2 {
		t.Errorf("count after peek = %d, want 2 (peek must not record)", sample.Count)
	}
}

// Both backends must produce the same counts for the same hit sequence,
// so limiter decisions keep one shape regardless of deployment mode.
func TestRedisStoreMatchesLocalCounts(t *testing.T) {
	redisStore := newTestRedisStore(t)
	localStore := NewLocalStore(clock.NewManualClock(time.Now()))
	t.Cleanup(localStore.Close)

	ctx := context.Background()
	key := redisTestKey("parity")
	now := time.Now()
	limit := int64(4)

	for i := int64(1); i <= limit+1; i++ {
		rs, err := redisStore.Hit(ctx, key, time.Minute, now)
		if err != nil {
			t.Fatalf("redis Hit %d: %v", i, err)
		}
		ls, err := localStore.Hit(ctx, key, time.Minute, now)
		if err != nil {
			t.Fatalf("local Hit %d: %v", i, err)
		}

		if rs.Count != ls.Count {
			t.Errorf("hit %d: redis count %d, local count %d", i, rs.Count, ls.Count)
		}
		if (rs.Count > limit) != (ls.Count > limit) {
			t.Errorf("hit %d: backends disagree on the limit boundary", i)
		}
	}
}
