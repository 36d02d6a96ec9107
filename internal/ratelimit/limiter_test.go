package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/finsight/api-governor/internal/clock"
	"github.com/finsight/api-governor/internal/counter"
	"github.com/finsight/api-governor/internal/policy"
)

func newLocalLimiter(t *testing.T) (*Limiter, *clock.ManualClock) {
	t.Helper()
	clk := clock.NewManualClock(time.Unix(1_700_000_000, 0))
	store := counter.NewLocalStore(clk)
	t.Cleanup(store.Close)
	return New(store, store, clk), clk
}

func hourly(limit, daily int) policy.Policy {
	return policy.Policy{Tier: policy.TierFree, Window: time.Hour, Limit: limit, DailyLimit: daily}
}

func TestEvaluateAllowsUpToLimitThenDenies(t *testing.T) {
	l, _ := newLocalLimiter(t)
	ctx := context.Background()
	p := hourly(100, 0)

	for i := 0; i < 100; i++ {
		d := l.Evaluate(ctx, "user:u1", p)
		if !d.Allowed {
			t.Fatalf("request %d denied, want allowed", i+1)
		}
		if want := 100 - (i + 1); d.Remaining != want {
			t.Errorf("request %d: remaining = %d, want %d", i+1, d.Remaining, want)
		}
	}

	d := l.Evaluate(ctx, "user:u1", p)
	if d.Allowed {
		t.Fatal("request 101 allowed, want denied")
	}
	if d.Exceeded != WindowPrimary {
		t.Errorf("exceeded = %q, want %q", d.Exceeded, WindowPrimary)
	}
	if d.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", d.Remaining)
	}
	if !d.ResetTime.After(time.Unix(1_700_000_000, 0)) {
		t.Errorf("reset time %v not in the future", d.ResetTime)
	}
}

func TestEvaluateWindowElapsesAndAdmitsAgain(t *testing.T) {
	l, clk := newLocalLimiter(t)
	ctx := context.Background()
	p := hourly(5, 0)

	for i := 0; i < 6; i++ {
		l.Evaluate(ctx, "ip:9.9.9.9", p)
	}
	if d := l.Evaluate(ctx, "ip:9.9.9.9", p); d.Allowed {
		t.Fatal("expected denial before window elapsed")
	}

	clk.Advance(time.Hour + time.Second)

	d := l.Evaluate(ctx, "ip:9.9.9.9", p)
	if !d.Allowed {
		t.Fatal("expected admission after window elapsed, no permanent lockout")
	}
	if d.Count != 1 {
		t.Errorf("count after reset = %d, want 1", d.Count)
	}
}

func TestBurstBindsIndependentlyOfPrimary(t *testing.T) {
	l, _ := newLocalLimiter(t)
	ctx := context.Background()
	p := policy.Policy{Tier: policy.TierFree, Window: time.Hour, Limit: 1000, BurstLimit: 5}

	for i := 0; i < 5; i++ {
		if d := l.Evaluate(ctx, "user:u2", p); !d.Allowed {
			t.Fatalf("request %d denied within burst ceiling", i+1)
		}
	}

	d := l.Evaluate(ctx, "user:u2", p)
	if d.Allowed {
		t.Fatal("expected burst denial despite ample hourly quota")
	}
	if d.Exceeded != WindowBurst {
		t.Errorf("exceeded = %q, want %q", d.Exceeded, WindowBurst)
	}
	if d.Remaining == 0 {
		t.Error("primary window should still have remaining quota")
	}
}

func TestDailyLimitBinds(t *testing.T) {
	l, _ := newLocalLimiter(t)
	ctx := context.Background()
	p := policy.Policy{Tier: policy.TierFree, Window: time.Hour, Limit: 1000, DailyLimit: 3}

	for i := 0; i < 3; i++ {
		if d := l.Evaluate(ctx, "user:u3", p); !d.Allowed {
			t.Fatalf("request %d denied within daily limit", i+1)
		}
	}

	d := l.Evaluate(ctx, "user:u3", p)
	if d.Allowed {
		t.Fatal("expected daily denial")
	}
	if d.Exceeded != WindowDaily {
		t.Errorf("exceeded = %q, want %q", d.Exceeded, WindowDaily)
	}
	if d.DailyRemaining != 0 {
		t.Errorf("daily remaining = %d, want 0", d.DailyRemaining)
	}
	if d.RetryAfter(time.Unix(1_700_000_000, 0)) <= 0 {
		t.Error("retry-after should be positive on daily denial")
	}
}

func TestBurstOnlyPolicyReportsBurstSnapshot(t *testing.T) {
	l, _ := newLocalLimiter(t)
	ctx := context.Background()
	p := policy.Policy{Tier: policy.TierFree, BurstLimit: 2}

	l.Evaluate(ctx, "user:u4", p)
	d := l.Evaluate(ctx, "user:u4", p)
	if !d.Allowed {
		t.Fatal("second request within burst ceiling denied")
	}
	if d.Limit != 2 || d.Remaining != 0 {
		t.Errorf("snapshot = {limit: %d, remaining: %d}, want {2, 0}", d.Limit, d.Remaining)
	}
}

// flakyStore fails every call, standing in for an unreachable backend.
type flakyStore struct {
	calls int
}

func (f *flakyStore) Hit(context.Context, string, time.Duration, time.Time) (counter.Sample, error) {
	f.calls++
	return counter.Sample{}, errors.New("connection refused")
}

func (f *flakyStore) Peek(context.Context, string, time.Duration, time.Time) (counter.Sample, error) {
	return counter.Sample{}, errors.New("connection refused")
}

func TestStoreFaultFallsBackToLocal(t *testing.T) {
	clk := clock.NewManualClock(time.Unix(1_700_000_000, 0))
	local := counter.NewLocalStore(clk)
	defer local.Close()

	l := New(&flakyStore{}, local, clk)
	ctx := context.Background()
	p := hourly(3, 0)

	// Fallback still enforces the limit instead of always allowing or
	// always denying.
	for i := 0; i < 3; i++ {
		d := l.Evaluate(ctx, "user:u5", p)
		if !d.Allowed {
			t.Fatalf("request %d denied during fallback", i+1)
		}
		if d.Remaining > p.Limit {
			t.Errorf("remaining %d exceeds limit %d", d.Remaining, p.Limit)
		}
	}

	d := l.Evaluate(ctx, "user:u5", p)
	if d.Allowed {
		t.Fatal("fallback should still deny past the limit")
	}
	if !d.ResetTime.After(clk.Now().Add(-time.Second)) {
		t.Errorf("reset time %v should not be in the past", d.ResetTime)
	}

	if got := l.Fallbacks(); got != 4 {
		t.Errorf("fallbacks = %d, want 4", got)
	}
}

func TestConcurrentEvaluateLosesNoIncrements(t *testing.T) {
	l, _ := newLocalLimiter(t)
	ctx := context.Background()
	p := hourly(10_000, 0)

	const goroutines = 40
	const perGoroutine = 25

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				l.Evaluate(ctx, "user:shared", p)
			}
		}()
	}
	wg.Wait()

	d := l.Evaluate(ctx, "user:shared", p)
	if want := int64(goroutines*perGoroutine + 1); d.Count != want {
		t.Errorf("count = %d, want %d", d.Count, want)
	}
}

func TestInspectDoesNotConsumeQuota(t *testing.T) {
	l, _ := newLocalLimiter(t)
	ctx := context.Background()
	p := hourly(5, 0)

	l.Evaluate(ctx, "user:u6", p)
	l.Evaluate(ctx, "user:u6", p)

	d := l.Inspect(ctx, "user:u6", p)
	if !d.Allowed {
		t.Fatal("inspect denied with quota still available")
	}
	if d.Count != 2 || d.Remaining != 3 {
		t.Errorf("inspect snapshot = {count: %d, remaining: %d}, want {2, 3}", d.Count, d.Remaining)
	}

	// The inspection itself must leave no trace in the window.
	if d := l.Evaluate(ctx, "user:u6", p); d.Count != 3 {
		t.Errorf("count after inspect = %d, want 3", d.Count)
	}
}

func TestInspectReportsExhaustedQuota(t *testing.T) {
	l, _ := newLocalLimiter(t)
	ctx := context.Background()
	p := hourly(2, 0)

	l.Evaluate(ctx, "user:u7", p)
	l.Evaluate(ctx, "user:u7", p)

	d := l.Inspect(ctx, "user:u7", p)
	if d.Allowed {
		t.Fatal("inspect reported capacity on an exhausted window")
	}
	if d.Exceeded != WindowPrimary {
		t.Errorf("exceeded = %q, want %q", d.Exceeded, WindowPrimary)
	}
	if d.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", d.Remaining)
	}
}

func TestAnonymousKeyStillCounted(t *testing.T) {
	l, _ := newLocalLimiter(t)
	ctx := context.Background()
	p := hourly(2, 0)

	key := counter.EndpointKey("GET", "/api/stocks/search", "")
	l.Evaluate(ctx, key, p)
	l.Evaluate(ctx, key, p)

	if d := l.Evaluate(ctx, key, p); d.Allowed {
		t.Fatal("anonymous callers must not be silently exempted")
	}
}
