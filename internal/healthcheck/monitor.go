// Package healthcheck probes provider mirrors so the proxy only routes
// to targets that are answering.
package healthcheck

import (
	"log"
	"net/http"
	"sync"
	"time"
)

// Status is one mirror's latest probe result.
type Status struct {
	Target    string    `json:"target"`
	IsHealthy bool      `json:"is_healthy"`
	Failures  int       `json:"consecutive_failures"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

type Config struct {
	Targets     []string
	Path        string        // Probe path appended to the target (default: "/health")
	Interval    time.Duration // How often to probe (default: 30s)
	Timeout     time.Duration // Per-probe timeout (default: 5s)
	MaxFailures int           // Probes failed before marking unhealthy (default: 3)
}

// Monitor probes each target periodically. Targets start healthy and are
// demoted after MaxFailures consecutive probe failures.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]*Status
	targets  []string

	path        string
	interval    time.Duration
	maxFailures int
	client      *http.Client

	stop chan struct{}
	once sync.Once
}

func NewMonitor(cfg Config) *Monitor {
	if cfg.Path == "" {
		cfg.Path = "/health"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}

	m := &Monitor{
		statuses:    make(map[string]*Status, len(cfg.Targets)),
		targets:     cfg.Targets,
		path:        cfg.Path,
		interval:    cfg.Interval,
		maxFailures: cfg.MaxFailures,
		client:      &http.Client{Timeout: cfg.Timeout},
		stop:        make(chan struct{}),
	}

	for _, target := range cfg.Targets {
		m.statuses[target] = &Status{
			Target:    target,
			IsHealthy: true,
			LastCheck: time.Now(),
		}
	}

	return m
}

func (m *Monitor) Start() {
	go m.run()
}

func (m *Monitor) run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.checkAll()
		case <-m.stop:
			return
		}
	}
}

func (m *Monitor) checkAll() {
	for _, target := range m.targets {
		healthy, errMsg := m.probe(target)
		m.record(target, healthy, errMsg)
	}
}

func (m *Monitor) probe(target string) (bool, string) {
	resp, err := m.client.Get(target + m.path)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return false, resp.Status
	}
	return true, ""
}

func (m *Monitor) record(target string, healthy bool, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.statuses[target]
	if s == nil {
		return
	}

	s.LastCheck = time.Now()
	s.LastError = errMsg

	if healthy {
		if !s.IsHealthy {
			log.Printf("healthcheck: %s recovered", target)
		}
		s.Failures = 0
		s.IsHealthy = true
		return
	}

	s.Failures++
	if s.IsHealthy && s.Failures >= m.maxFailures {
		log.Printf("healthcheck: %s marked unhealthy after %d failures: %s", target, s.Failures, errMsg)
		s.IsHealthy = false
	}
}

// HealthyTargets lists targets currently considered healthy.
func (m *Monitor) HealthyTargets() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.targets))
	for _, target := range m.targets {
		if s := m.statuses[target]; s != nil && s.IsHealthy {
			out = append(out, target)
		}
	}
	return out
}

// AllStatuses copies the latest probe results.
func (m *Monitor) AllStatuses() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Status, 0, len(m.targets))
	for _, target := range m.targets {
		if s := m.statuses[target]; s != nil {
			out = append(out, *s)
		}
	}
	return out
}

func (m *Monitor) Stop() {
	m.once.Do(func() { close(m.stop) })
}
