package policy

import (
	"testing"
	"time"
)

func defaults() []Policy {
	return []Policy{
		{Tier: TierFree, Window: time.Hour, Limit: 100, DailyLimit: 1000, BurstLimit: 20},
		{Tier: TierPro, Window: time.Hour, Limit: 1000, DailyLimit: 20000, BurstLimit: 100},
		{Tier: TierPremium, Window: time.Hour, Limit: 10000, DailyLimit: 200000, BurstLimit: 500},
	}
}

func TestParseTier(t *testing.T) {
	cases := map[string]Tier{
		"free":    TierFree,
		"pro":     TierPro,
		"PREMIUM": TierPremium,
		"":        TierFree,
		"basic":   TierFree,
	}

	for in, want := range cases {
		if got := ParseTier(in); got != want {
			t.Errorf("ParseTier(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolvePrefersOverride(t *testing.T) {
	overrides := []Override{
		{Method: "GET", Path: "/api/stocks/search", Policy: Policy{
			Tier: TierFree, Window: time.Hour, Limit: 50, DailyLimit: 500,
		}},
	}

	table, err := NewTable(defaults(), overrides)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	got := table.Resolve("GET", "/api/stocks/search", TierFree)
	if got.Limit != 50 {
		t.Errorf("override limit = %d, want 50", got.Limit)
	}

	// Other endpoints and other tiers keep the defaults.
	if got := table.Resolve("GET", "/api/stocks/quote", TierFree); got.Limit != 100 {
		t.Errorf("default limit = %d, want 100", got.Limit)
	}
	if got := table.Resolve("GET", "/api/stocks/search", TierPro); got.Limit != 1000 {
		t.Errorf("pro limit = %d, want 1000", got.Limit)
	}
}

func TestResolveUnknownTierFallsBackToFree(t *testing.T) {
	table, err := NewTable(defaults(), nil)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	if got := table.Resolve("GET", "/api/portfolio", Tier("enterprise")); got.Tier != TierFree {
		t.Errorf("unknown tier resolved to %q, want free", got.Tier)
	}
}

func TestNewTableRejectsOverrideWithoutDefault(t *testing.T) {
	overrides := []Override{
		{Method: "GET", Path: "/api/stocks/search", Policy: Policy{
			Tier: Tier("enterprise"), Window: time.Hour, Limit: 50,
		}},
	}

	if _, err := NewTable(defaults(), overrides); err == nil {
		t.Fatal("expected error for override referencing unknown tier")
	}
}

func TestNewTableRequiresFreeDefault(t *testing.T) {
	onlyPro := []Policy{{Tier: TierPro, Window: time.Hour, Limit: 1000}}
	if _, err := NewTable(onlyPro, nil); err == nil {
		t.Fatal("expected error when free default is missing")
	}
}

func TestBurstPolicy(t *testing.T) {
	table, err := NewTable(defaults(), nil)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	burst, ok := table.Burst(TierFree)
	if !ok {
		t.Fatal("expected burst policy for free tier")
	}
	if burst.BurstLimit != 20 || burst.Limit != 0 || burst.DailyLimit != 0 {
		t.Errorf("burst policy = %+v, want burst-only with limit 20", burst)
	}

	noBurst := []Policy{{Tier: TierFree, Window: time.Hour, Limit: 100}}
	table, err = NewTable(noBurst, nil)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	if _, ok := table.Burst(TierFree); ok {
		t.Error("expected no burst policy when burst limit is zero")
	}
}
