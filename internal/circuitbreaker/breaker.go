// Package circuitbreaker shields market-data providers that are failing:
// after enough consecutive errors the breaker opens and requests are
// rejected immediately until a probe succeeds.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/finsight/api-governor/internal/clock"
)

// ErrOpen is returned while the breaker is rejecting calls.
var ErrOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type Config struct {
	MaxFailures     int           // Consecutive failures before opening (default: 5)
	Cooldown        time.Duration // How long to stay open (default: 30s)
	HalfOpenSuccess int           // Successes needed in half-open to close (default: 1)
}

type Breaker struct {
	mu            sync.Mutex
	clock         clock.Clock
	state         State
	failures      int
	successes     int
	lastFailureAt time.Time

	maxFailures     int
	cooldown        time.Duration
	halfOpenSuccess int
}

func New(cfg Config, clk clock.Clock) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.HalfOpenSuccess <= 0 {
		cfg.HalfOpenSuccess = 1
	}
	if clk == nil {
		clk = clock.NewSystemClock()
	}

	return &Breaker{
		clock:           clk,
		state:           StateClosed,
		maxFailures:     cfg.MaxFailures,
		cooldown:        cfg.Cooldown,
		halfOpenSuccess: cfg.HalfOpenSuccess,
	}
}

// Call runs fn under breaker protection.
func (b *Breaker) Call(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.onFailure()
		return err
	}

	b.onSuccess()
	return nil
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.clock.Now().Sub(b.lastFailureAt) <= b.cooldown {
			return ErrOpen
		}
		// Cooldown elapsed: let one probe through.
		b.state = StateHalfOpen
		b.successes = 0
	}

	return nil
}

func (b *Breaker) onFailure() {
	b.failures++
	b.lastFailureAt = b.clock.Now()

	if b.state == StateHalfOpen || b.failures >= b.maxFailures {
		b.state = StateOpen
		b.successes = 0
	}
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.halfOpenSuccess {
			b.state = StateClosed
			b.failures = 0
		}
	case StateClosed:
		b.failures = 0
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failures = 0
	b.successes = 0
}
