// Package ratelimit evaluates requests against tiered sliding-window
// quotas backed by an interchangeable counter store.
package ratelimit

import (
	"context"
	"log"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/finsight/api-governor/internal/clock"
	"github.com/finsight/api-governor/internal/counter"
	"github.com/finsight/api-governor/internal/policy"
)

const (
	// DefaultBurstWindow is the short window burst ceilings are measured
	// over.
	DefaultBurstWindow = time.Minute

	dailyWindow = 24 * time.Hour
)

// Limiter turns a counter key plus policy into an allow/deny decision.
// When the primary store fails (network fault, timeout) the evaluation is
// redone on the local store for that call only: precision degrades under
// partition, service does not.
type Limiter struct {
	store       counter.Store
	local       counter.Store
	clock       clock.Clock
	burstWindow time.Duration
	fallbacks   atomic.Int64
}

// New builds a limiter over store, falling back to local on store faults.
// In local-only deployments store and local are the same instance and the
// fallback path is inert.
func New(store, local counter.Store, clk clock.Clock) *Limiter {
	return &Limiter{
		store:       store,
		local:       local,
		clock:       clk,
		burstWindow: DefaultBurstWindow,
	}
}

// Fallbacks reports how many evaluations degraded to the local store.
func (l *Limiter) Fallbacks() int64 {
	return l.fallbacks.Load()
}

// Distributed reports whether the primary store is the shared backend.
func (l *Limiter) Distributed() bool {
	return l.store != l.local
}

// Evaluate records this request against every window the policy enables
// (burst, primary, daily) and allows it only when all of them are within
// limit. Denied requests are still recorded, and the returned snapshot is
// fully populated either way.
func (l *Limiter) Evaluate(ctx context.Context, key string, p policy.Policy) Decision {
	now := l.clock.Now()

	d, err := l.evaluateOn(ctx, l.store, key, p, now, true)
	if err == nil {
		return d
	}

	if l.store != l.local {
		n := l.fallbacks.Add(1)
		log.Printf("rate limiter: store fault, using local counters (fallback #%d): %v", n, err)

		if d, err = l.evaluateOn(ctx, l.local, key, p, now, true); err == nil {
			return d
		}
	}

	// Admission infrastructure never fails the business request.
	log.Printf("rate limiter: evaluation failed for %s, allowing: %v", key, err)
	return Decision{
		Allowed:   true,
		Limit:     p.Limit,
		Remaining: p.Limit,
		ResetTime: now.Add(p.Window),
	}
}

// Inspect reports the caller's current position in every window the
// policy enables without recording a request against any of them.
// Allowed means the next request would still be admitted.
func (l *Limiter) Inspect(ctx context.Context, key string, p policy.Policy) Decision {
	now := l.clock.Now()

	d, err := l.evaluateOn(ctx, l.store, key, p, now, false)
	if err == nil {
		return d
	}

	if l.store != l.local {
		if d, err = l.evaluateOn(ctx, l.local, key, p, now, false); err == nil {
			return d
		}
	}

	log.Printf("rate limiter: inspection failed for %s: %v", key, err)
	return Decision{
		Allowed:   true,
		Limit:     p.Limit,
		Remaining: p.Limit,
		ResetTime: now.Add(p.Window),
	}
}

type windowSample struct {
	enabled bool
	count   int64
	limit   int
	resetAt time.Time
}

func (l *Limiter) evaluateOn(ctx context.Context, store counter.Store, key string, p policy.Policy, now time.Time, record bool) (Decision, error) {
	touch := store.Hit
	if !record {
		touch = store.Peek
	}

	burst, err := sampleWindow(ctx, touch, key+":burst", l.burstWindow, p.BurstLimit, now)
	if err != nil {
		return Decision{}, err
	}

	primaryKey := key + ":" + strconv.Itoa(int(p.Window/time.Second)) + "s"
	primary, err := sampleWindow(ctx, touch, primaryKey, p.Window, p.Limit, now)
	if err != nil {
		return Decision{}, err
	}

	daily, err := sampleWindow(ctx, touch, key+":daily", dailyWindow, p.DailyLimit, now)
	if err != nil {
		return Decision{}, err
	}

	// A burst-only policy reports the burst window as its primary snapshot
	// so callers always get usable limit/reset values.
	if !primary.enabled && burst.enabled {
		primary = burst
	}

	d := Decision{
		Allowed:   true,
		Count:     primary.count,
		Limit:     primary.limit,
		Remaining: remaining(primary),
		ResetTime: primary.resetAt,
	}
	if daily.enabled {
		d.DailyCount = daily.count
		d.DailyLimit = daily.limit
		d.DailyRemaining = remaining(daily)
		d.DailyResetTime = daily.resetAt
	}

	// Recorded evaluations deny once the post-insert count passes the
	// limit; inspections deny when the next request would.
	breached := func(w windowSample) bool {
		if !w.enabled {
			return false
		}
		if record {
			return w.count > int64(w.limit)
		}
		return w.count >= int64(w.limit)
	}

	switch {
	case breached(burst):
		d.Allowed = false
		d.Exceeded = WindowBurst
	case breached(primary):
		d.Allowed = false
		d.Exceeded = WindowPrimary
	case breached(daily):
		d.Allowed = false
		d.Exceeded = WindowDaily
	}

	return d, nil
}

type touchFunc func(ctx context.Context, key string, window time.Duration, now time.Time) (counter.Sample, error)

func sampleWindow(ctx context.Context, touch touchFunc, key string, window time.Duration, limit int, now time.Time) (windowSample, error) {
	if limit <= 0 {
		return windowSample{}, nil
	}

	sample, err := touch(ctx, key, window, now)
	if err != nil {
		return windowSample{}, err
	}

	return windowSample{
		enabled: true,
		count:   sample.Count,
		limit:   limit,
		resetAt: sample.OldestAt.Add(window),
	}, nil
}

func remaining(w windowSample) int {
	r := w.limit - int(w.count)
	if r < 0 {
		return 0
	}
	return r
}
