package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/finsight/api-governor/internal/clock"
	"github.com/finsight/api-governor/internal/counter"
	"github.com/finsight/api-governor/internal/metrics"
	"github.com/finsight/api-governor/internal/policy"
	"github.com/finsight/api-governor/internal/ratelimit"
	"github.com/finsight/api-governor/internal/repository"
	"github.com/gin-gonic/gin"
)

// UsageHandler serves the read-only reporting endpoints. Live queries
// run against the in-memory collector; historical queries go to the
// durable store.
type UsageHandler struct {
	collector *metrics.Collector
	limiter   *ratelimit.Limiter
	table     *policy.Table
	repo      *repository.MetricRepository
	clock     clock.Clock
}

func NewUsageHandler(collector *metrics.Collector, limiter *ratelimit.Limiter, table *policy.Table, repo *repository.MetricRepository, clk clock.Clock) *UsageHandler {
	return &UsageHandler{
		collector: collector,
		limiter:   limiter,
		table:     table,
		repo:      repo,
		clock:     clk,
	}
}

// Handles GET /admin/usage
func (h *UsageHandler) GetUsage(c *gin.Context) {
	f := metrics.Filter{
		CallerID: c.Query("caller"),
		Endpoint: c.Query("endpoint"),
		Tier:     c.Query("tier"),
	}

	if sinceStr := c.Query("since"); sinceStr != "" {
		since, err := parseTimestamp(sinceStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'since' timestamp"})
			return
		}
		f.Since = since
	}
	if untilStr := c.Query("until"); untilStr != "" {
		until, err := parseTimestamp(untilStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'until' timestamp"})
			return
		}
		f.Until = until
	}

	c.JSON(http.StatusOK, h.collector.Usage(f))
}

// Handles GET /admin/usage/tiers
func (h *UsageHandler) GetUsageByTier(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tiers": h.collector.UsageByTier()})
}

// Handles GET /admin/usage/top-endpoints
func (h *UsageHandler) GetTopEndpoints(c *gin.Context) {
	n := 10
	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			n = l
		}
	}

	since, err := h.sinceOrDefault(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'since' timestamp"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"since":     since,
		"endpoints": h.collector.TopEndpoints(n, since),
	})
}

// Handles GET /admin/usage/errors
func (h *UsageHandler) GetErrorBreakdown(c *gin.Context) {
	since, err := h.sinceOrDefault(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'since' timestamp"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"since":  since,
		"errors": h.collector.ErrorBreakdown(since),
	})
}

// Handles GET /admin/usage/summary
func (h *UsageHandler) GetSummary(c *gin.Context) {
	since, err := h.sinceOrDefault(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'since' timestamp"})
		return
	}

	c.JSON(http.StatusOK, h.collector.Summarize(since))
}

// Handles GET /admin/ratelimit/status
func (h *UsageHandler) RateLimitStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"distributed":      h.limiter.Distributed(),
		"fallback_count":   h.limiter.Fallbacks(),
		"buffered_metrics": h.collector.Len(),
		"dropped_metrics":  h.collector.Dropped(),
	})
}

// Handles GET /admin/ratelimit/callers/:id - a caller's current position
// in their quota windows, read without consuming any of it.
func (h *UsageHandler) CallerQuota(c *gin.Context) {
	tier := policy.ParseTier(c.Query("tier"))
	p := h.table.Default(tier)

	d := h.limiter.Inspect(c.Request.Context(), counter.UserKey(c.Param("id")), p)

	c.JSON(http.StatusOK, gin.H{
		"caller": c.Param("id"),
		"tier":   tier,
		"quota":  d,
	})
}

// Handles GET /admin/usage/history - durable metrics, outlives the buffer
func (h *UsageHandler) GetHistory(c *gin.Context) {
	from, to, err := h.parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()

	count, err := h.repo.CountByTimeRange(ctx, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	avg, err := h.repo.GetAverageResponseTime(ctx, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	top, err := h.repo.GetTopEndpoints(ctx, from, to, 10)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"from":                 from,
		"to":                   to,
		"total_requests":       count,
		"avg_response_time_ms": avg,
		"top_endpoints":        top,
	})
}

// Handles GET /admin/usage/history/callers/:id
func (h *UsageHandler) GetCallerHistory(c *gin.Context) {
	from, to, err := h.parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	limit := 100
	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}

	offset := 0
	if offsetStr := c.Query("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	ctx := c.Request.Context()
	rows, err := h.repo.FindByCaller(ctx, c.Param("id"), from, to, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"metrics": rows,
		"limit":   limit,
		"offset":  offset,
	})
}

func (h *UsageHandler) sinceOrDefault(c *gin.Context) (time.Time, error) {
	if sinceStr := c.Query("since"); sinceStr != "" {
		return parseTimestamp(sinceStr)
	}
	// Default: last hour
	return h.clock.Now().Add(-time.Hour), nil
}

// Parses 'from' and 'to' query parameters
func (h *UsageHandler) parseTimeRange(c *gin.Context) (time.Time, time.Time, error) {
	// Default: last 24 hours
	to := h.clock.Now()
	from := to.Add(-24 * time.Hour)

	if fromStr := c.Query("from"); fromStr != "" {
		parsed, err := parseTimestamp(fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = parsed
	}

	if toStr := c.Query("to"); toStr != "" {
		parsed, err := parseTimestamp(toStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = parsed
	}

	return from, to, nil
}

// parseTimestamp accepts RFC3339 or a Unix timestamp.
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}

	unix, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(unix, 0), nil
}
