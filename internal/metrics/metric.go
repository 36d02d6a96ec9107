// Package metrics buffers per-request usage records, keeps rolling
// aggregates for dashboards, and flushes batches to durable storage.
package metrics

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Cache status labels recorded by the provider proxy.
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
)

// Metric is one immutable record per completed request. It lives in the
// collector buffer until flushed and is never mutated.
type Metric struct {
	Timestamp   time.Time     `json:"timestamp"`
	CallerID    string        `json:"caller_id,omitempty"`
	Tier        string        `json:"tier"`
	Method      string        `json:"method"`
	Endpoint    string        `json:"endpoint"`
	StatusCode  int           `json:"status_code"`
	Duration    time.Duration `json:"-"`
	Millis      int64         `json:"response_time_ms"`
	Provider    string        `json:"provider,omitempty"`
	Bytes       int64         `json:"bytes"`
	ErrorType   string        `json:"error_type,omitempty"`
	CacheStatus string        `json:"cache_status,omitempty"`
	IP          string        `json:"ip,omitempty"`
}

// IsError reports whether the request failed from the caller's view.
func (m Metric) IsError() bool {
	return m.StatusCode >= 400
}

// NormalizePath collapses dynamic path segments (UUIDs, numeric ids) to a
// placeholder so per-endpoint aggregates group by route, not by record.
func NormalizePath(path string) string {
	segments := strings.Split(path, "/")
	changed := false

	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if isNumeric(seg) || isUUID(seg) {
			segments[i] = ":id"
			changed = true
		}
	}

	if !changed {
		return path
	}
	return strings.Join(segments, "/")
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

func isUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// ClassifyStatus maps a status code to a coarse error class for the
// breakdown report. Empty for successes.
func ClassifyStatus(status int) string {
	switch {
	case status == 429:
		return "rate_limited"
	case status == 401 || status == 403:
		return "auth"
	case status == 404:
		return "not_found"
	case status >= 400 && status < 500:
		return "client_error"
	case status >= 500:
		return "server_error"
	default:
		return ""
	}
}
