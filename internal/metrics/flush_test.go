package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// captureSink records every hand-off and can be told to fail.
type captureSink struct {
	mu      sync.Mutex
	batches [][]Metric
	fail    bool
}

func (s *captureSink) WriteBatch(_ context.Context, batch []Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("persistence unavailable")
	}
	copied := make([]Metric, len(batch))
	copy(copied, batch)
	s.batches = append(s.batches, copied)
	return nil
}

func (s *captureSink) setFail(fail bool) {
	s.mu.Lock()
	s.fail = fail
	s.mu.Unlock()
}

func (s *captureSink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func (s *captureSink) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func TestFlushHandsOffBatchExactlyOnce(t *testing.T) {
	c := NewCollector(100, 50, testClock())
	sink := &captureSink{}
	f := NewFlusher(c, sink, time.Hour)

	for i := 0; i < 5; i++ {
		c.Record(metric(200, 1))
	}

	f.flushOnce()
	f.flushOnce() // empty buffer, no second hand-off

	if got := sink.batchCount(); got != 1 {
		t.Fatalf("hand-offs = %d, want 1", got)
	}
	if got := sink.total(); got != 5 {
		t.Errorf("persisted records = %d, want 5", got)
	}
	if got := f.Flushes(); got != 1 {
		t.Errorf("flush count = %d, want 1", got)
	}
}

func TestFlushFailureRebuffersForRetry(t *testing.T) {
	c := NewCollector(100, 50, testClock())
	sink := &captureSink{}
	f := NewFlusher(c, sink, time.Hour)

	for i := 0; i < 3; i++ {
		c.Record(metric(200, int64(i)))
	}

	sink.setFail(true)
	f.flushOnce()

	if got := sink.batchCount(); got != 0 {
		t.Fatalf("failed hand-off persisted %d batches", got)
	}
	if got := c.Len(); got != 3 {
		t.Fatalf("buffer depth after failed flush = %d, want 3", got)
	}

	sink.setFail(false)
	f.flushOnce()

	if got := sink.total(); got != 3 {
		t.Errorf("persisted records after retry = %d, want 3", got)
	}
	if got := c.Len(); got != 0 {
		t.Errorf("buffer depth after retry = %d, want 0", got)
	}
}

func TestHighWaterTriggersBackgroundFlush(t *testing.T) {
	c := NewCollector(100, 2, testClock())
	sink := &captureSink{}
	f := NewFlusher(c, sink, time.Hour)
	f.Start()
	defer f.Close()

	c.Record(metric(200, 1))
	c.Record(metric(200, 1))

	deadline := time.After(2 * time.Second)
	for sink.total() < 2 {
		select {
		case <-deadline:
			t.Fatal("high-water flush did not run")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestCloseRunsFinalFlush(t *testing.T) {
	c := NewCollector(100, 50, testClock())
	sink := &captureSink{}
	f := NewFlusher(c, sink, time.Hour)
	f.Start()

	c.Record(metric(200, 1))
	c.Record(metric(500, 2))

	f.Close()

	if got := sink.total(); got != 2 {
		t.Errorf("records persisted at shutdown = %d, want 2", got)
	}
	// Close is idempotent.
	f.Close()
}
