// Package counter tracks request counts over sliding windows behind one
// Store interface with a local in-process backend and a Redis backend.
package counter

import (
	"context"
	"time"
)

// Sample is the result of touching a counter window.
type Sample struct {
	// Count is the number of entries in the window, including the one
	// recorded by Hit.
	Count int64
	// OldestAt is when the oldest surviving entry was recorded; the window
	// frees capacity again at OldestAt + window.
	OldestAt time.Time
}

// Store is the adapter over the two counter backends. Hit performs the
// whole trim, record, count, refresh-TTL sequence as one atomic operation
// per key so concurrent callers never lose increments.
type Store interface {
	Hit(ctx context.Context, key string, window time.Duration, now time.Time) (Sample, error)

	// Peek counts entries in the window without recording a new one.
	Peek(ctx context.Context, key string, window time.Duration, now time.Time) (Sample, error)
}

// CounterKey builders. Window kind is appended by the limiter so the
// burst, primary and daily windows of one identity never trim each other.

func IPKey(addr string) string {
	return "ip:" + addr
}

func UserKey(id string) string {
	return "user:" + id
}

func EndpointKey(method, path, identity string) string {
	if identity == "" {
		identity = "anonymous"
	}
	return "endpoint:" + method + ":" + path + ":" + identity
}

const GlobalKey = "global"
