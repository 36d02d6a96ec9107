package metrics

import (
	"sort"
	"time"
)

// Filter narrows a usage query. Zero-value fields are ignored; a zero
// Since/Until means "use the rolling aggregates" instead of scanning the
// buffer.
type Filter struct {
	CallerID string
	Endpoint string // "METHOD /path", normalized
	Tier     string
	Since    time.Time
	Until    time.Time
}

func (f Filter) timeBound() bool {
	return !f.Since.IsZero() || !f.Until.IsZero()
}

func (f Filter) matches(m Metric) bool {
	if f.CallerID != "" && m.CallerID != f.CallerID {
		return false
	}
	if f.Endpoint != "" && m.Method+" "+m.Endpoint != f.Endpoint {
		return false
	}
	if f.Tier != "" && m.Tier != f.Tier {
		return false
	}
	if !f.Since.IsZero() && m.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && m.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// Usage returns the aggregate matching the filter. Unfiltered or
// key-only queries read the rolling caches; time-bounded queries are
// recomputed from the still-buffered metrics. An untouched key yields a
// zeroed aggregate, never an error.
func (c *Collector) Usage(f Filter) UsageStats {
	if !f.timeBound() {
		switch {
		case f.CallerID != "":
			s, _ := c.stats.get(userPrefix + f.CallerID)
			return s
		case f.Endpoint != "":
			s, _ := c.stats.get(endpPrefix + f.Endpoint)
			return s
		case f.Tier != "":
			s, _ := c.stats.get(tierPrefix + f.Tier)
			return s
		default:
			s, _ := c.stats.get(keyGlobal)
			return s
		}
	}

	out := UsageStats{Key: "filtered"}
	for _, m := range c.Snapshot() {
		if f.matches(m) {
			out.apply(m)
		}
	}
	return out
}

// UsageByTier returns the rolling aggregate per tier.
func (c *Collector) UsageByTier() []UsageStats {
	return c.stats.withPrefix(tierPrefix)
}

// EndpointCount is one row of the top-endpoints report.
type EndpointCount struct {
	Endpoint  string  `json:"endpoint"`
	Requests  int64   `json:"requests"`
	Errors    int64   `json:"errors"`
	AvgMillis float64 `json:"avg_response_time_ms"`
}

// TopEndpoints ranks endpoints by request volume since the given time,
// computed from the buffered metrics.
func (c *Collector) TopEndpoints(n int, since time.Time) []EndpointCount {
	byEndpoint := make(map[string]*EndpointCount)
	totals := make(map[string]int64)

	for _, m := range c.Snapshot() {
		if !since.IsZero() && m.Timestamp.Before(since) {
			continue
		}
		key := m.Method + " " + m.Endpoint
		e, ok := byEndpoint[key]
		if !ok {
			e = &EndpointCount{Endpoint: key}
			byEndpoint[key] = e
		}
		e.Requests++
		if m.IsError() {
			e.Errors++
		}
		totals[key] += m.Millis
	}

	out := make([]EndpointCount, 0, len(byEndpoint))
	for key, e := range byEndpoint {
		e.AvgMillis = float64(totals[key]) / float64(e.Requests)
		out = append(out, *e)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Requests != out[j].Requests {
			return out[i].Requests > out[j].Requests
		}
		return out[i].Endpoint < out[j].Endpoint
	})

	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// ErrorStat describes one error class within the window.
type ErrorStat struct {
	Type      string   `json:"type"`
	Count     int64    `json:"count"`
	Percent   float64  `json:"percent"`
	Endpoints []string `json:"endpoints"`
	Callers   []string `json:"callers,omitempty"`
}

// ErrorBreakdown groups buffered errors by class with their share of all
// errors and the affected endpoints and callers.
func (c *Collector) ErrorBreakdown(since time.Time) []ErrorStat {
	type acc struct {
		count     int64
		endpoints map[string]struct{}
		callers   map[string]struct{}
	}
	byType := make(map[string]*acc)
	var total int64

	for _, m := range c.Snapshot() {
		if !m.IsError() {
			continue
		}
		if !since.IsZero() && m.Timestamp.Before(since) {
			continue
		}
		total++
		class := m.ErrorType
		if class == "" {
			class = ClassifyStatus(m.StatusCode)
		}
		a, ok := byType[class]
		if !ok {
			a = &acc{endpoints: make(map[string]struct{}), callers: make(map[string]struct{})}
			byType[class] = a
		}
		a.count++
		a.endpoints[m.Method+" "+m.Endpoint] = struct{}{}
		if m.CallerID != "" {
			a.callers[m.CallerID] = struct{}{}
		}
	}

	out := make([]ErrorStat, 0, len(byType))
	for class, a := range byType {
		out = append(out, ErrorStat{
			Type:      class,
			Count:     a.count,
			Percent:   float64(a.count) / float64(total) * 100,
			Endpoints: sortedKeys(a.endpoints),
			Callers:   sortedKeys(a.callers),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Summary is the single dashboard view over the buffered window.
type Summary struct {
	TotalRequests      int64            `json:"total_requests"`
	SuccessfulRequests int64            `json:"successful_requests"`
	ErrorRequests      int64            `json:"error_requests"`
	AvgResponseMillis  float64          `json:"avg_response_time_ms"`
	UniqueCallers      int              `json:"unique_callers"`
	BytesOut           int64            `json:"bytes_out"`
	ProviderUsage      map[string]int64 `json:"provider_usage"`
	CacheEfficiency    float64          `json:"cache_efficiency_percent"`
}

// Summarize recomputes the dashboard summary from the buffered metrics
// since the given time. An empty buffer yields a zeroed summary.
func (c *Collector) Summarize(since time.Time) Summary {
	s := Summary{ProviderUsage: make(map[string]int64)}
	callers := make(map[string]struct{})

	var totalMillis int64
	var hitMillis, hitCount, missMillis, missCount int64

	for _, m := range c.Snapshot() {
		if !since.IsZero() && m.Timestamp.Before(since) {
			continue
		}
		s.TotalRequests++
		if m.IsError() {
			s.ErrorRequests++
		} else {
			s.SuccessfulRequests++
		}
		totalMillis += m.Millis
		s.BytesOut += m.Bytes
		if m.CallerID != "" {
			callers[m.CallerID] = struct{}{}
		}
		if m.Provider != "" {
			s.ProviderUsage[m.Provider]++
		}
		switch m.CacheStatus {
		case CacheHit:
			hitCount++
			hitMillis += m.Millis
		case CacheMiss:
			missCount++
			missMillis += m.Millis
		}
	}

	if s.TotalRequests > 0 {
		s.AvgResponseMillis = float64(totalMillis) / float64(s.TotalRequests)
	}
	s.UniqueCallers = len(callers)
	s.CacheEfficiency = cacheEfficiency(hitMillis, hitCount, missMillis, missCount)

	return s
}

// cacheEfficiency reports how much faster cache hits are than misses, as a
// percentage of the miss average. With no misses (or no hits) there is
// nothing to compare, so it reports 0 rather than dividing by zero.
func cacheEfficiency(hitMillis, hitCount, missMillis, missCount int64) float64 {
	if hitCount == 0 || missCount == 0 {
		return 0
	}

	hitAvg := float64(hitMillis) / float64(hitCount)
	missAvg := float64(missMillis) / float64(missCount)
	if missAvg <= 0 {
		return 0
	}

	eff := (missAvg - hitAvg) / missAvg * 100
	if eff < 0 {
		return 0
	}
	return eff
}
