package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/finsight/api-governor/internal/policy"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"postgres": {"dsn": "host=localhost"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("port = %q, want 8080", cfg.Server.Port)
	}
	if cfg.Redis.Enabled() {
		t.Error("redis should be disabled when host is empty")
	}
	if cfg.Metrics.BufferSize != 5000 {
		t.Errorf("buffer size = %d, want 5000", cfg.Metrics.BufferSize)
	}
	if got := cfg.StoreTimeout(); got != 500*time.Millisecond {
		t.Errorf("store timeout = %v, want 500ms", got)
	}
	if len(cfg.RateLimit.Tiers) != 3 {
		t.Errorf("tiers = %d, want 3 built-in defaults", len(cfg.RateLimit.Tiers))
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `{"server": {"port": "9000"}, "auth": {"jwt_secret": "from-file"}}`)

	t.Setenv("PORT", "7777")
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("REDIS_HOST", "redis.internal")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != "7777" {
		t.Errorf("port = %q, want env override 7777", cfg.Server.Port)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("jwt secret = %q, want env override", cfg.Auth.JWTSecret)
	}
	if !cfg.Redis.Enabled() || cfg.Redis.Addr() != "redis.internal:6379" {
		t.Errorf("redis addr = %q, want redis.internal:6379", cfg.Redis.Addr())
	}
}

func TestPolicyTableConversion(t *testing.T) {
	path := writeConfig(t, `{
		"rate_limit": {
			"tiers": [
				{"tier": "free", "window_seconds": 3600, "limit": 100, "daily_limit": 1000, "burst_limit": 10},
				{"tier": "pro", "window_seconds": 3600, "limit": 1000}
			],
			"endpoint_overrides": [
				{"method": "GET", "path": "/api/quotes/:id", "tier": "free", "window_seconds": 3600, "limit": 50}
			]
		}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	table, err := cfg.PolicyTable()
	if err != nil {
		t.Fatalf("PolicyTable: %v", err)
	}

	free := table.Default(policy.TierFree)
	if free.Limit != 100 || free.Window != time.Hour || free.BurstLimit != 10 {
		t.Errorf("free default = %+v", free)
	}

	if p, ok := table.Override("GET", "/api/quotes/:id", policy.TierFree); !ok || p.Limit != 50 {
		t.Errorf("override = %+v, ok = %v, want limit 50", p, ok)
	}
}

func TestPolicyTableRejectsOrphanOverride(t *testing.T) {
	path := writeConfig(t, `{
		"rate_limit": {
			"tiers": [{"tier": "free", "window_seconds": 3600, "limit": 100}],
			"endpoint_overrides": [
				{"method": "GET", "path": "/api/quotes/:id", "tier": "enterprise", "window_seconds": 60, "limit": 5}
			]
		}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if _, err := cfg.PolicyTable(); err == nil {
		t.Error("expected error for override referencing unknown tier")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("expected error for missing file")
	}
}
