package ratelimit

import "time"

// Window names reported in Decision.Exceeded so callers can tell a short
// spike from an exhausted hourly or daily quota.
const (
	WindowBurst   = "burst"
	WindowPrimary = "window"
	WindowDaily   = "daily"
)

// Decision is the full quota snapshot produced by every evaluation,
// allowed or denied, so response headers stay consistent on both paths.
type Decision struct {
	Allowed bool `json:"allowed"`

	// Primary window snapshot.
	Count     int64     `json:"count"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetTime time.Time `json:"resetTime"`

	// Daily window snapshot; zero values when the policy has no daily limit.
	DailyCount     int64     `json:"dailyCount"`
	DailyLimit     int       `json:"dailyLimit"`
	DailyRemaining int       `json:"dailyRemaining"`
	DailyResetTime time.Time `json:"dailyResetTime"`

	// Exceeded names the window that denied the request; empty when allowed.
	Exceeded string `json:"exceeded,omitempty"`
}

// RetryAfter is the wait before the binding window frees capacity.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	reset := d.ResetTime
	if d.Exceeded == WindowDaily && !d.DailyResetTime.IsZero() {
		reset = d.DailyResetTime
	}

	wait := reset.Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}
