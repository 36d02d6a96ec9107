package metrics

import (
	"sync"

	"github.com/finsight/api-governor/internal/clock"
)

// Stats cache key prefixes.
const (
	keyGlobal  = "global"
	userPrefix = "user:"
	endpPrefix = "endpoint:"
	tierPrefix = "tier:"
)

// Collector accepts one metric per completed request without blocking the
// request path. It owns the bounded buffer and the rolling aggregates; the
// flusher is the only component that drains it.
type Collector struct {
	mu      sync.Mutex
	buf     []Metric
	cap     int
	high    int
	dropped int64

	flushCh chan struct{}
	stats   *statsCache
	clock   clock.Clock
}

// NewCollector builds a collector with the given buffer capacity and
// high-water mark. Reaching the mark nudges the flusher; reaching capacity
// evicts oldest-first so recent visibility survives a persistence outage.
func NewCollector(capacity, highWater int, clk clock.Clock) *Collector {
	if capacity <= 0 {
		capacity = 5000
	}
	if highWater <= 0 || highWater > capacity {
		highWater = capacity / 2
	}

	return &Collector{
		buf:     make([]Metric, 0, capacity),
		cap:     capacity,
		high:    highWater,
		flushCh: make(chan struct{}, 1),
		stats:   newStatsCache(),
		clock:   clk,
	}
}

// Record stores the metric and updates every aggregate it touches. It is
// fire-and-forget relative to the response: no I/O, one bounded lock.
func (c *Collector) Record(m Metric) {
	if m.Timestamp.IsZero() {
		m.Timestamp = c.clock.Now()
	}
	if m.Millis == 0 && m.Duration > 0 {
		m.Millis = m.Duration.Milliseconds()
	}
	if m.ErrorType == "" && m.IsError() {
		m.ErrorType = ClassifyStatus(m.StatusCode)
	}

	c.stats.update(keyGlobal, m)
	c.stats.update(tierPrefix+m.Tier, m)
	c.stats.update(endpPrefix+m.Method+" "+m.Endpoint, m)
	if m.CallerID != "" {
		c.stats.update(userPrefix+m.CallerID, m)
	}

	c.mu.Lock()
	if len(c.buf) >= c.cap {
		// Oldest-first eviction: approximate recent visibility beats
		// stalling the request path.
		drop := len(c.buf) - c.cap + 1
		c.buf = append(c.buf[:0], c.buf[drop:]...)
		c.dropped += int64(drop)
	}
	c.buf = append(c.buf, m)
	atHighWater := len(c.buf) >= c.high
	c.mu.Unlock()

	if atHighWater {
		select {
		case c.flushCh <- struct{}{}:
		default:
		}
	}
}

// FlushSignal fires when the buffer crosses the high-water mark.
func (c *Collector) FlushSignal() <-chan struct{} {
	return c.flushCh
}

// Drain removes and returns the whole buffered generation.
func (c *Collector) Drain() []Metric {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.buf) == 0 {
		return nil
	}
	batch := c.buf
	c.buf = make([]Metric, 0, c.cap)
	return batch
}

// Requeue pushes a failed batch back to the front of the buffer so the
// next tick retries it, evicting oldest-first past capacity.
func (c *Collector) Requeue(batch []Metric) {
	if len(batch) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	merged := make([]Metric, 0, len(batch)+len(c.buf))
	merged = append(merged, batch...)
	merged = append(merged, c.buf...)

	if over := len(merged) - c.cap; over > 0 {
		merged = merged[over:]
		c.dropped += int64(over)
	}
	c.buf = merged
}

// Snapshot copies the still-buffered metrics for read-only queries.
func (c *Collector) Snapshot() []Metric {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Metric, len(c.buf))
	copy(out, c.buf)
	return out
}

// Len reports the current buffer depth.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}

// Dropped reports metrics evicted under sustained pressure.
func (c *Collector) Dropped() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}
