// Package loadbalancer picks which provider mirror serves a request.
package loadbalancer

import (
	"fmt"
	"math/rand"
	"sync/atomic"
)

type Strategy interface {
	// Next selects a target from the healthy mirrors.
	Next(targets []string) string

	Name() string
}

// NewStrategy builds a strategy by name.
func NewStrategy(name string) (Strategy, error) {
	switch name {
	case "round-robin", "round_robin", "":
		return NewRoundRobin(), nil
	case "random":
		return NewRandom(), nil
	default:
		return nil, fmt.Errorf("unknown load balancing strategy: %s", name)
	}
}

// RoundRobin rotates through mirrors with an atomic cursor.
type RoundRobin struct {
	cursor atomic.Uint64
}

func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

func (r *RoundRobin) Next(targets []string) string {
	if len(targets) == 0 {
		return ""
	}

	n := r.cursor.Add(1) - 1
	return targets[n%uint64(len(targets))]
}

func (r *RoundRobin) Name() string {
	return "round_robin"
}

// Random picks an arbitrary mirror per request.
type Random struct{}

func NewRandom() *Random {
	return &Random{}
}

func (Random) Next(targets []string) string {
	if len(targets) == 0 {
		return ""
	}

	return targets[rand.Intn(len(targets))]
}

func (Random) Name() string {
	return "random"
}
