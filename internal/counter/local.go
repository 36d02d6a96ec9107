package counter

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/finsight/api-governor/internal/clock"
)

const shardCount = 16

// LocalStore keeps window state in process memory, sharded by key so
// concurrent requests contend on independent locks. Each window is a
// {count, resetAt} pair and resets lazily when touched after expiry, so
// correctness never depends on the sweep goroutine.
type LocalStore struct {
	shards [shardCount]*localShard
	clock  clock.Clock
	stop   chan struct{}
	once   sync.Once
}

type localShard struct {
	mu      sync.Mutex
	entries map[string]*localWindow
}

type localWindow struct {
	count   int64
	resetAt time.Time
}

func NewLocalStore(clk clock.Clock) *LocalStore {
	s := &LocalStore{
		clock: clk,
		stop:  make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &localShard{entries: make(map[string]*localWindow)}
	}

	// Memory hygiene only; expiry is already handled lazily on access.
	go s.sweep(5 * time.Minute)

	return s
}

func (s *LocalStore) shard(key string) *localShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%shardCount]
}

func (s *LocalStore) Hit(_ context.Context, key string, window time.Duration, now time.Time) (Sample, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	w, ok := sh.entries[key]
	if !ok || !now.Before(w.resetAt) {
		w = &localWindow{resetAt: now.Add(window)}
		sh.entries[key] = w
	}

	w.count++
	return Sample{Count: w.count, OldestAt: w.resetAt.Add(-window)}, nil
}

func (s *LocalStore) Peek(_ context.Context, key string, window time.Duration, now time.Time) (Sample, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	w, ok := sh.entries[key]
	if !ok || !now.Before(w.resetAt) {
		return Sample{OldestAt: now}, nil
	}

	return Sample{Count: w.count, OldestAt: w.resetAt.Add(-window)}, nil
}

// sweep drops expired windows so idle keys do not accumulate forever.
func (s *LocalStore) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := s.clock.Now()
			for _, sh := range s.shards {
				sh.mu.Lock()
				for key, w := range sh.entries {
					if !now.Before(w.resetAt) {
						delete(sh.entries, key)
					}
				}
				sh.mu.Unlock()
			}
		case <-s.stop:
			return
		}
	}
}

// Len reports the number of live windows across all shards.
func (s *LocalStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

func (s *LocalStore) Close() {
	s.once.Do(func() { close(s.stop) })
}
