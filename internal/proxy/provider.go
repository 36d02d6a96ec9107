// Package proxy forwards dashboard requests to the upstream market-data
// providers, with per-provider circuit breaking and mirror failover. The
// governor's admission middleware runs before any request reaches here.
package proxy

import (
	"errors"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/finsight/api-governor/internal/circuitbreaker"
	"github.com/finsight/api-governor/internal/clock"
	"github.com/finsight/api-governor/internal/healthcheck"
	"github.com/finsight/api-governor/internal/loadbalancer"
	"github.com/finsight/api-governor/internal/metrics"
	"github.com/gin-gonic/gin"
)

// Config describes one upstream provider and its mirrors.
type Config struct {
	Name       string
	Targets    []string
	Strategy   string
	HealthPath string
	Breaker    circuitbreaker.Config
}

// Provider proxies to one market-data provider.
type Provider struct {
	name     string
	proxies  map[string]*httputil.ReverseProxy
	breaker  *circuitbreaker.Breaker
	balancer loadbalancer.Strategy
	monitor  *healthcheck.Monitor
}

func NewProvider(cfg Config, clk clock.Clock) (*Provider, error) {
	if cfg.Name == "" {
		return nil, errors.New("provider name is required")
	}
	if len(cfg.Targets) == 0 {
		return nil, errors.New("at least one target is required")
	}

	balancer, err := loadbalancer.NewStrategy(cfg.Strategy)
	if err != nil {
		return nil, err
	}

	proxies := make(map[string]*httputil.ReverseProxy, len(cfg.Targets))
	for _, raw := range cfg.Targets {
		target, err := url.Parse(raw)
		if err != nil {
			return nil, err
		}
		proxies[raw] = httputil.NewSingleHostReverseProxy(target)
	}

	monitor := healthcheck.NewMonitor(healthcheck.Config{
		Targets: cfg.Targets,
		Path:    cfg.HealthPath,
	})
	monitor.Start()

	p := &Provider{
		name:     cfg.Name,
		proxies:  proxies,
		breaker:  circuitbreaker.New(cfg.Breaker, clk),
		balancer: balancer,
		monitor:  monitor,
	}

	log.Printf("provider %s: %d mirrors, strategy %s", cfg.Name, len(cfg.Targets), balancer.Name())

	return p, nil
}

func (p *Provider) Name() string {
	return p.name
}

// Handle forwards the request to a healthy mirror. The provider label and
// upstream cache status are left in the context for the metrics
// middleware.
func (p *Provider) Handle(c *gin.Context) {
	c.Set("provider", p.name)

	targets := p.monitor.HealthyTargets()
	if len(targets) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "No healthy provider mirrors available",
		})
		return
	}

	selected := p.balancer.Next(targets)
	upstream, ok := p.proxies[selected]
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Failed to select provider mirror",
		})
		return
	}

	target, _ := url.Parse(selected)

	err := p.breaker.Call(func() error {
		recorder := &statusRecorder{ResponseWriter: c.Writer, status: http.StatusOK}

		req := c.Request
		req.URL.Scheme = target.Scheme
		req.URL.Host = target.Host
		req.URL.Path = upstreamPath(c)
		req.Host = target.Host
		if ip := c.ClientIP(); ip != "" {
			req.Header.Set("X-Forwarded-For", ip)
		}

		c.Writer = recorder
		upstream.ServeHTTP(c.Writer, req)

		switch strings.ToLower(recorder.Header().Get("X-Cache")) {
		case "hit":
			c.Set("cache_status", metrics.CacheHit)
		case "miss":
			c.Set("cache_status", metrics.CacheMiss)
		}

		if recorder.status >= 500 {
			return errors.New("provider error")
		}
		return nil
	})

	if errors.Is(err, circuitbreaker.ErrOpen) {
		log.Printf("provider %s: circuit open, rejecting", p.name)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Provider temporarily unavailable",
		})
	}
}

// upstreamPath strips the provider mount prefix from the request path.
func upstreamPath(c *gin.Context) string {
	if rest := c.Param("providerPath"); rest != "" {
		return rest
	}
	return "/"
}

func (p *Provider) BreakerState() circuitbreaker.State {
	return p.breaker.State()
}

// Reset manually closes the circuit breaker.
func (p *Provider) Reset() {
	p.breaker.Reset()
}

func (p *Provider) MirrorStatuses() []healthcheck.Status {
	return p.monitor.AllStatuses()
}

func (p *Provider) Stop() {
	p.monitor.Stop()
}

type statusRecorder struct {
	gin.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
