package metrics

import (
	"testing"
	"time"

	"github.com/finsight/api-governor/internal/clock"
)

func testClock() *clock.ManualClock {
	return clock.NewManualClock(time.Unix(1_700_000_000, 0))
}

func metric(status int, millis int64) Metric {
	return Metric{
		CallerID:   "u1",
		Tier:       "free",
		Method:     "GET",
		Endpoint:   "/api/stocks/quote",
		StatusCode: status,
		Millis:     millis,
	}
}

func TestRecordBuffersAndAggregates(t *testing.T) {
	c := NewCollector(100, 50, testClock())

	c.Record(metric(200, 10))
	c.Record(metric(200, 30))
	c.Record(metric(500, 50))

	if got := c.Len(); got != 3 {
		t.Fatalf("buffer depth = %d, want 3", got)
	}

	global := c.Usage(Filter{})
	if global.Requests != 3 || global.Success != 2 || global.Errors != 1 {
		t.Errorf("global = {req: %d, ok: %d, err: %d}, want {3, 2, 1}", global.Requests, global.Success, global.Errors)
	}
	if global.AvgMillis != 30 {
		t.Errorf("avg = %v, want 30", global.AvgMillis)
	}

	user := c.Usage(Filter{CallerID: "u1"})
	if user.Requests != 3 {
		t.Errorf("user requests = %d, want 3", user.Requests)
	}

	endpoint := c.Usage(Filter{Endpoint: "GET /api/stocks/quote"})
	if endpoint.Requests != 3 {
		t.Errorf("endpoint requests = %d, want 3", endpoint.Requests)
	}

	tier := c.Usage(Filter{Tier: "free"})
	if tier.Requests != 3 {
		t.Errorf("tier requests = %d, want 3", tier.Requests)
	}
}

func TestRecordEvictsOldestAtCapacity(t *testing.T) {
	c := NewCollector(5, 5, testClock())

	for i := 0; i < 8; i++ {
		m := metric(200, int64(i))
		c.Record(m)
	}

	if got := c.Len(); got != 5 {
		t.Fatalf("buffer depth = %d, want 5", got)
	}
	if got := c.Dropped(); got != 3 {
		t.Errorf("dropped = %d, want 3", got)
	}

	// Oldest were evicted: the survivors are the 3..7 latencies.
	snap := c.Snapshot()
	if snap[0].Millis != 3 {
		t.Errorf("oldest surviving latency = %d, want 3", snap[0].Millis)
	}
}

func TestHighWaterMarkSignalsFlush(t *testing.T) {
	c := NewCollector(100, 3, testClock())

	c.Record(metric(200, 1))
	c.Record(metric(200, 1))
	select {
	case <-c.FlushSignal():
		t.Fatal("flush signaled below the high-water mark")
	default:
	}

	c.Record(metric(200, 1))
	select {
	case <-c.FlushSignal():
	default:
		t.Fatal("flush not signaled at the high-water mark")
	}
}

func TestDrainTakesWholeGeneration(t *testing.T) {
	c := NewCollector(100, 50, testClock())

	for i := 0; i < 4; i++ {
		c.Record(metric(200, 1))
	}

	batch := c.Drain()
	if len(batch) != 4 {
		t.Fatalf("drained %d, want 4", len(batch))
	}
	if c.Len() != 0 {
		t.Errorf("buffer depth after drain = %d, want 0", c.Len())
	}
	if c.Drain() != nil {
		t.Error("second drain should return nil on an empty buffer")
	}
}

func TestRequeuePutsBatchInFront(t *testing.T) {
	c := NewCollector(100, 50, testClock())

	c.Record(metric(200, 99))
	batch := c.Drain()

	c.Record(metric(200, 7))
	c.Requeue(batch)

	snap := c.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("buffer depth = %d, want 2", len(snap))
	}
	if snap[0].Millis != 99 {
		t.Errorf("requeued batch should be first; got latency %d", snap[0].Millis)
	}
}

func TestRequeueRespectsCapacity(t *testing.T) {
	c := NewCollector(4, 4, testClock())

	var batch []Metric
	for i := 0; i < 3; i++ {
		batch = append(batch, metric(200, int64(i)))
	}
	c.Record(metric(200, 100))
	c.Record(metric(200, 101))
	c.Record(metric(200, 102))

	c.Requeue(batch)

	if got := c.Len(); got != 4 {
		t.Fatalf("buffer depth = %d, want 4 (capacity)", got)
	}
	// The oldest entries (front of the requeued batch) were evicted.
	snap := c.Snapshot()
	if snap[0].Millis != 2 {
		t.Errorf("front latency = %d, want 2 after oldest-first eviction", snap[0].Millis)
	}
}

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/api/stocks/quote":       "/api/stocks/quote",
		"/api/portfolios/42":      "/api/portfolios/:id",
		"/api/watchlists/42/rows": "/api/watchlists/:id/rows",
		"/api/users/6ba7b810-9dad-11d1-80b4-00c04fd430c8/keys": "/api/users/:id/keys",
	}

	for in, want := range cases {
		if got := NormalizePath(in); got != want {
			t.Errorf("NormalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}
