package policy

import (
	"fmt"
	"strings"
	"time"
)

// Tier is a subscription level. Higher tiers get higher ceilings.
type Tier string

const (
	TierFree    Tier = "free"
	TierPro     Tier = "pro"
	TierPremium Tier = "premium"
)

// ParseTier maps an arbitrary string to a known tier. Unknown or empty
// values fall back to free, which is also the anonymous-caller tier.
func ParseTier(s string) Tier {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierPro:
		return TierPro
	case TierPremium:
		return TierPremium
	default:
		return TierFree
	}
}

// Policy holds the quota ceilings applied to one (endpoint, tier) pair.
// BurstLimit <= Limit <= DailyLimit is the sane shape but is not enforced;
// whichever window is tightest simply binds first.
type Policy struct {
	Tier       Tier
	Window     time.Duration
	Limit      int
	DailyLimit int
	BurstLimit int
}

// Override is an endpoint-specific policy that takes precedence over the
// tier default for the same (method, path, tier).
type Override struct {
	Method string
	Path   string
	Policy Policy
}

// Table resolves effective policies. It is built once at startup and
// read-only afterwards.
type Table struct {
	defaults  map[Tier]Policy
	overrides map[string]Policy
}

func overrideKey(method, path string, tier Tier) string {
	return strings.ToUpper(method) + " " + path + " " + string(tier)
}

// NewTable validates and indexes tier defaults and endpoint overrides.
// An override for a tier with no default is a configuration bug and is
// rejected at startup rather than surfacing at request time.
func NewTable(defaults []Policy, overrides []Override) (*Table, error) {
	t := &Table{
		defaults:  make(map[Tier]Policy, len(defaults)),
		overrides: make(map[string]Policy, len(overrides)),
	}

	for _, p := range defaults {
		if p.Window <= 0 {
			return nil, fmt.Errorf("tier %q has non-positive window", p.Tier)
		}
		if p.Limit <= 0 {
			return nil, fmt.Errorf("tier %q has non-positive request limit", p.Tier)
		}
		t.defaults[p.Tier] = p
	}

	if _, ok := t.defaults[TierFree]; !ok {
		return nil, fmt.Errorf("missing default policy for tier %q", TierFree)
	}

	for _, o := range overrides {
		if _, ok := t.defaults[o.Policy.Tier]; !ok {
			return nil, fmt.Errorf("override %s %s references tier %q with no default",
				o.Method, o.Path, o.Policy.Tier)
		}
		if o.Policy.Window <= 0 || o.Policy.Limit <= 0 {
			return nil, fmt.Errorf("override %s %s has invalid limits", o.Method, o.Path)
		}
		t.overrides[overrideKey(o.Method, o.Path, o.Policy.Tier)] = o.Policy
	}

	return t, nil
}

// Default returns the tier's default policy. Unknown tiers resolve to free.
func (t *Table) Default(tier Tier) Policy {
	if p, ok := t.defaults[tier]; ok {
		return p
	}
	return t.defaults[TierFree]
}

// Override returns the endpoint-specific policy for (method, path, tier)
// when one is configured.
func (t *Table) Override(method, path string, tier Tier) (Policy, bool) {
	p, ok := t.overrides[overrideKey(method, path, tier)]
	return p, ok
}

// Resolve returns the effective policy: endpoint override when present,
// tier default otherwise.
func (t *Table) Resolve(method, path string, tier Tier) Policy {
	if p, ok := t.Override(method, path, tier); ok {
		return p
	}
	return t.Default(tier)
}

// Burst returns a burst-only policy for the tier: no primary or daily
// window, just the tight short-window ceiling checked ahead of the
// endpoint-level quota to blunt spikes.
func (t *Table) Burst(tier Tier) (Policy, bool) {
	d := t.Default(tier)
	if d.BurstLimit <= 0 {
		return Policy{}, false
	}
	return Policy{
		Tier:       d.Tier,
		BurstLimit: d.BurstLimit,
	}, true
}
