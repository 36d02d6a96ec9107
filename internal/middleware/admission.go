package middleware

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/finsight/api-governor/internal/clock"
	"github.com/finsight/api-governor/internal/counter"
	"github.com/finsight/api-governor/internal/metrics"
	"github.com/finsight/api-governor/internal/models"
	"github.com/finsight/api-governor/internal/policy"
	"github.com/finsight/api-governor/internal/ratelimit"
	"github.com/gin-gonic/gin"
)

// AdmissionConfig carries the deployment-time knobs of the governor.
type AdmissionConfig struct {
	// Whitelist lists caller addresses exempt from limiting.
	Whitelist []string
	// GlobalLimit caps all traffic per GlobalWindow; zero disables it.
	GlobalLimit  int
	GlobalWindow time.Duration
}

// Admission is the request-path integration point: it resolves the
// caller's identity and tier, runs the burst, endpoint, caller and global
// quota checks, and either attaches quota headers or short-circuits with
// a 429 carrying the full snapshot. Infrastructure faults inside the
// check allow the request through rather than failing unrelated traffic.
func Admission(limiter *ratelimit.Limiter, table *policy.Table, cfg AdmissionConfig, clk clock.Clock) gin.HandlerFunc {
	whitelist := make(map[string]struct{}, len(cfg.Whitelist))
	for _, addr := range cfg.Whitelist {
		whitelist[addr] = struct{}{}
	}

	globalWindow := cfg.GlobalWindow
	if globalWindow <= 0 {
		globalWindow = time.Minute
	}

	return func(c *gin.Context) {
		ip := c.ClientIP()
		if _, ok := whitelist[ip]; ok {
			c.Next()
			return
		}

		tier := policy.TierFree
		identity := ""
		callerKey := ""

		if v, exists := c.Get("api_key"); exists && v != nil {
			if key, ok := v.(*models.APIKey); ok {
				tier = policy.ParseTier(key.Tier)
				identity = key.ID.String()
				callerKey = counter.UserKey(identity)
			}
		}
		if callerKey == "" && ip != "" {
			identity = ip
			callerKey = counter.IPKey(ip)
		}

		c.Set("caller_id", identity)
		c.Set("caller_tier", string(tier))

		ctx := c.Request.Context()
		method := c.Request.Method
		path := metrics.NormalizePath(c.Request.URL.Path)
		now := clk.Now()

		// Burst protection runs ahead of the quota checks so short spikes
		// are blunted even with ample hourly/daily headroom.
		if callerKey != "" {
			if burstPolicy, ok := table.Burst(tier); ok {
				d := safeEvaluate(limiter, ctx, callerKey, burstPolicy)
				if !d.Allowed {
					setQuotaHeaders(c, d)
					rejectRequest(c, d, tier, now)
					return
				}
			}
		}

		// Endpoint-override check, keyed per (endpoint, identity).
		var effective ratelimit.Decision
		haveEffective := false

		override, hasOverride := table.Override(method, path, tier)
		if hasOverride || callerKey == "" {
			p := override
			if !hasOverride {
				p = table.Default(tier)
			}
			endpointKey := counter.EndpointKey(method, path, identity)
			d := safeEvaluate(limiter, ctx, endpointKey, withoutBurst(p))
			if !d.Allowed {
				setQuotaHeaders(c, d)
				rejectRequest(c, d, tier, now)
				return
			}
			effective = d
			haveEffective = true
		}

		// Caller-level check against the tier default.
		if callerKey != "" {
			d := safeEvaluate(limiter, ctx, callerKey, withoutBurst(table.Default(tier)))
			if !d.Allowed {
				setQuotaHeaders(c, d)
				rejectRequest(c, d, tier, now)
				return
			}
			if !haveEffective {
				effective = d
				haveEffective = true
			}
		}

		// Global ceiling, when configured.
		if cfg.GlobalLimit > 0 {
			d := safeEvaluate(limiter, ctx, counter.GlobalKey, policy.Policy{
				Tier:   tier,
				Window: globalWindow,
				Limit:  cfg.GlobalLimit,
			})
			if !d.Allowed {
				setQuotaHeaders(c, d)
				rejectRequest(c, d, tier, now)
				return
			}
			if !haveEffective {
				effective = d
				haveEffective = true
			}
		}

		if haveEffective {
			setQuotaHeaders(c, effective)
		}

		c.Next()
	}
}

// safeEvaluate keeps admission faults from failing the business request:
// a panic inside the limiter allows the call and logs.
func safeEvaluate(limiter *ratelimit.Limiter, ctx context.Context, key string, p policy.Policy) (d ratelimit.Decision) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("admission: evaluation panic for %s, allowing: %v", key, r)
			d = ratelimit.Decision{Allowed: true, Limit: p.Limit, Remaining: p.Limit}
		}
	}()
	return limiter.Evaluate(ctx, key, p)
}

// withoutBurst strips the burst ceiling: burst is checked once per
// request on the caller key, not re-counted by every quota check.
func withoutBurst(p policy.Policy) policy.Policy {
	p.BurstLimit = 0
	return p
}

// setQuotaHeaders runs on both the allowed and denied paths so client
// backoff logic always sees a consistent snapshot.
func setQuotaHeaders(c *gin.Context, d ratelimit.Decision) {
	c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", d.Limit))
	c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", d.Remaining))
	c.Header("X-RateLimit-Reset", d.ResetTime.UTC().Format(time.RFC3339))

	if d.DailyLimit > 0 {
		c.Header("X-RateLimit-Daily-Limit", fmt.Sprintf("%d", d.DailyLimit))
		c.Header("X-RateLimit-Daily-Remaining", fmt.Sprintf("%d", d.DailyRemaining))
		c.Header("X-RateLimit-Daily-Reset", d.DailyResetTime.UTC().Format(time.RFC3339))
	}
}

func rejectRequest(c *gin.Context, d ratelimit.Decision, tier policy.Tier, now time.Time) {
	retryAfter := int(d.RetryAfter(now).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}

	limit, remaining, reset := d.Limit, d.Remaining, d.ResetTime
	if d.Exceeded == ratelimit.WindowDaily {
		limit, remaining, reset = d.DailyLimit, d.DailyRemaining, d.DailyResetTime
	}

	errCode := "rate_limit_exceeded"
	message := fmt.Sprintf("Rate limit exceeded for tier %q. Quota resets at %s.", tier, reset.UTC().Format(time.RFC3339))
	if d.Exceeded == ratelimit.WindowBurst {
		errCode = "burst_limit_exceeded"
		message = "Too many requests in a short burst. Slow down and retry."
	}

	c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
	c.JSON(http.StatusTooManyRequests, gin.H{
		"error":          errCode,
		"message":        message,
		"retryAfter":     retryAfter,
		"rateLimitReset": reset.UTC().Format(time.RFC3339),
		"limits": gin.H{
			"window":    d.Exceeded,
			"limit":     limit,
			"remaining": remaining,
		},
	})
	c.Abort()
}
