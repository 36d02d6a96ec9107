package metrics

import (
	"hash/fnv"
	"sync"
	"time"
)

// UsageStats is a continuously-updated aggregate for one key (user,
// endpoint, tier or global). Values are copies when handed out; the live
// aggregate is only mutated under its shard lock.
type UsageStats struct {
	Key            string    `json:"key"`
	Requests       int64     `json:"requests"`
	Success        int64     `json:"success"`
	Errors         int64     `json:"errors"`
	TotalMillis    int64     `json:"total_response_time_ms"`
	AvgMillis      float64   `json:"avg_response_time_ms"`
	Bytes          int64     `json:"bytes"`
	FirstRequestAt time.Time `json:"first_request_at"`
	LastRequestAt  time.Time `json:"last_request_at"`
}

func (s *UsageStats) apply(m Metric) {
	s.Requests++
	if m.IsError() {
		s.Errors++
	} else {
		s.Success++
	}
	s.TotalMillis += m.Millis
	s.AvgMillis = float64(s.TotalMillis) / float64(s.Requests)
	s.Bytes += m.Bytes
	if s.FirstRequestAt.IsZero() || m.Timestamp.Before(s.FirstRequestAt) {
		s.FirstRequestAt = m.Timestamp
	}
	if m.Timestamp.After(s.LastRequestAt) {
		s.LastRequestAt = m.Timestamp
	}
}

const statsShards = 16

// statsCache is a sharded map of live aggregates, written by the collector
// on every recorded metric and read by the query API.
type statsCache struct {
	shards [statsShards]*statsShard
}

type statsShard struct {
	mu      sync.RWMutex
	entries map[string]*UsageStats
}

func newStatsCache() *statsCache {
	c := &statsCache{}
	for i := range c.shards {
		c.shards[i] = &statsShard{entries: make(map[string]*UsageStats)}
	}
	return c
}

func (c *statsCache) shard(key string) *statsShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%statsShards]
}

func (c *statsCache) update(key string, m Metric) {
	sh := c.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	s, ok := sh.entries[key]
	if !ok {
		s = &UsageStats{Key: key}
		sh.entries[key] = s
	}
	s.apply(m)
}

// get returns a copy; ok is false when the key was never touched.
func (c *statsCache) get(key string) (UsageStats, bool) {
	sh := c.shard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	s, ok := sh.entries[key]
	if !ok {
		return UsageStats{Key: key}, false
	}
	return *s, true
}

// withPrefix copies every aggregate whose key starts with prefix.
func (c *statsCache) withPrefix(prefix string) []UsageStats {
	var out []UsageStats
	for _, sh := range c.shards {
		sh.mu.RLock()
		for key, s := range sh.entries {
			if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
				out = append(out, *s)
			}
		}
		sh.mu.RUnlock()
	}
	return out
}
