package loadbalancer

import "testing"

func TestRoundRobinRotates(t *testing.T) {
	rr := NewRoundRobin()
	targets := []string{"a", "b", "c"}

	got := []string{rr.Next(targets), rr.Next(targets), rr.Next(targets), rr.Next(targets)}
	want := []string{"a", "b", "c", "a"}

	for i := range want {
		if got[i] != want[i] {
			t.Errorf("pick %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRoundRobinEmptyTargets(t *testing.T) {
	rr := NewRoundRobin()
	if got := rr.Next(nil); got != "" {
		t.Errorf("Next(nil) = %q, want empty", got)
	}
}

func TestRandomPicksFromTargets(t *testing.T) {
	r := NewRandom()
	targets := []string{"a", "b"}

	for i := 0; i < 20; i++ {
		got := r.Next(targets)
		if got != "a" && got != "b" {
			t.Fatalf("Next returned %q, not in targets", got)
		}
	}
}

func TestNewStrategyUnknownName(t *testing.T) {
	if _, err := NewStrategy("least_latency"); err == nil {
		t.Error("expected error for unknown strategy")
	}
}
