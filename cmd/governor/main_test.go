package main

import (
	"testing"

	"github.com/finsight/api-governor/internal/config"
)

func TestConnectRedisSkippedWhenUnconfigured(t *testing.T) {
	cfg := &config.Config{}

	if client := connectRedis(cfg); client != nil {
		client.Close()
		t.Fatal("expected nil client when redis host is empty")
	}
}

func TestConnectRedisDegradesToLocalOnFailure(t *testing.T) {
	cfg := &config.Config{}
	cfg.Redis.Host = "127.0.0.1"
	cfg.Redis.Port = "1" // nothing listens here

	if client := connectRedis(cfg); client != nil {
		client.Close()
		t.Fatal("expected nil client when redis is unreachable, not a startup failure")
	}
}
