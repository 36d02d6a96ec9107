// Package config loads the governor's deployment configuration from a
// JSON file, with environment variables overriding secrets and
// connection details.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/finsight/api-governor/internal/policy"
)

type Config struct {
	Server    ServerConfig     `json:"server"`
	Redis     RedisConfig      `json:"redis"`
	Postgres  PostgresConfig   `json:"postgres"`
	RateLimit RateLimitConfig  `json:"rate_limit"`
	Metrics   MetricsConfig    `json:"metrics"`
	Providers []ProviderConfig `json:"providers"`
	Auth      AuthConfig       `json:"auth"`
}

type ServerConfig struct {
	Port        string `json:"port"`
	Environment string `json:"environment"`
}

// RedisConfig with an empty Host means distributed counting is off and
// the governor runs on in-process counters only.
type RedisConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

func (r RedisConfig) Addr() string {
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return r.Host + ":" + port
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RateLimitConfig struct {
	Whitelist         []string         `json:"whitelist"`
	GlobalLimit       int              `json:"global_limit"`
	GlobalWindowSecs  int              `json:"global_window_seconds"`
	StoreTimeoutMs    int              `json:"store_timeout_ms"`
	Tiers             []TierConfig     `json:"tiers"`
	EndpointOverrides []OverrideConfig `json:"endpoint_overrides"`
}

type TierConfig struct {
	Tier          string `json:"tier"`
	WindowSeconds int    `json:"window_seconds"`
	Limit         int    `json:"limit"`
	DailyLimit    int    `json:"daily_limit"`
	BurstLimit    int    `json:"burst_limit"`
}

type OverrideConfig struct {
	Method        string `json:"method"`
	Path          string `json:"path"`
	Tier          string `json:"tier"`
	WindowSeconds int    `json:"window_seconds"`
	Limit         int    `json:"limit"`
	DailyLimit    int    `json:"daily_limit"`
}

type MetricsConfig struct {
	BufferSize        int `json:"buffer_size"`
	HighWater         int `json:"high_water"`
	FlushIntervalSecs int `json:"flush_interval_seconds"`
}

type ProviderConfig struct {
	Name        string   `json:"name"`
	Targets     []string `json:"targets"`
	Strategy    string   `json:"strategy"`
	HealthPath  string   `json:"health_path"`
	MaxFailures int      `json:"max_failures"`
	CooldownSec int      `json:"cooldown_seconds"`
}

type AuthConfig struct {
	JWTSecret   string `json:"jwt_secret"`
	ExpiryHours int    `json:"expiry_hours"`
}

func Load(path string) (*Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.applyEnvOverrides()
	config.applyDefaults()

	return &config, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		c.Redis.Port = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = db
		}
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Auth.ExpiryHours <= 0 {
		c.Auth.ExpiryHours = 24
	}
	if c.Metrics.BufferSize <= 0 {
		c.Metrics.BufferSize = 5000
	}
	if c.Metrics.FlushIntervalSecs <= 0 {
		c.Metrics.FlushIntervalSecs = 30
	}
	if len(c.RateLimit.Tiers) == 0 {
		c.RateLimit.Tiers = []TierConfig{
			{Tier: "free", WindowSeconds: 3600, Limit: 100, DailyLimit: 1000, BurstLimit: 10},
			{Tier: "pro", WindowSeconds: 3600, Limit: 1000, DailyLimit: 20000, BurstLimit: 50},
			{Tier: "premium", WindowSeconds: 3600, Limit: 10000, DailyLimit: 200000, BurstLimit: 200},
		}
	}
}

// StoreTimeout bounds each distributed counter call.
func (c *Config) StoreTimeout() time.Duration {
	if c.RateLimit.StoreTimeoutMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.RateLimit.StoreTimeoutMs) * time.Millisecond
}

func (c *Config) GlobalWindow() time.Duration {
	if c.RateLimit.GlobalWindowSecs <= 0 {
		return time.Minute
	}
	return time.Duration(c.RateLimit.GlobalWindowSecs) * time.Second
}

func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.Metrics.FlushIntervalSecs) * time.Second
}

// PolicyTable converts the tier and override sections into the runtime
// policy table. Invalid combinations fail here, at startup.
func (c *Config) PolicyTable() (*policy.Table, error) {
	defaults := make([]policy.Policy, 0, len(c.RateLimit.Tiers))
	for _, t := range c.RateLimit.Tiers {
		defaults = append(defaults, policy.Policy{
			Tier:       policy.Tier(t.Tier),
			Window:     time.Duration(t.WindowSeconds) * time.Second,
			Limit:      t.Limit,
			DailyLimit: t.DailyLimit,
			BurstLimit: t.BurstLimit,
		})
	}

	overrides := make([]policy.Override, 0, len(c.RateLimit.EndpointOverrides))
	for _, o := range c.RateLimit.EndpointOverrides {
		overrides = append(overrides, policy.Override{
			Method: o.Method,
			Path:   o.Path,
			Policy: policy.Policy{
				Tier:       policy.Tier(o.Tier),
				Window:     time.Duration(o.WindowSeconds) * time.Second,
				Limit:      o.Limit,
				DailyLimit: o.DailyLimit,
			},
		})
	}

	return policy.NewTable(defaults, overrides)
}
