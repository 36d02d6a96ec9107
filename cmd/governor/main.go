package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/finsight/api-governor/internal/clock"
	"github.com/finsight/api-governor/internal/config"
	"github.com/finsight/api-governor/internal/server"
	"github.com/finsight/api-governor/internal/storage"
	"github.com/joho/godotenv"
)

func main() {
	// Load env if it exists
	godotenv.Load()

	cfg, err := config.Load("config.json")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	table, err := cfg.PolicyTable()
	if err != nil {
		log.Fatalf("Invalid rate limit configuration: %v", err)
	}

	postgres, err := storage.NewPostgres(cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer postgres.Close()

	if err := postgres.AutoMigrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	redis := connectRedis(cfg)
	if redis != nil {
		defer redis.Close()
	}

	srv := server.New(cfg, redis, postgres, table, clock.NewSystemClock())

	go func() {
		addr := ":" + cfg.Server.Port
		if err := srv.Run(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exited")
}

// connectRedis returns nil when Redis is absent from the config or
// unreachable at startup; the governor then runs on process-local
// counters for its lifetime instead of refusing to start over a
// degraded dependency.
func connectRedis(cfg *config.Config) *storage.RedisClient {
	if !cfg.Redis.Enabled() {
		log.Println("Redis not configured, rate limiting is process-local")
		return nil
	}

	redis, err := storage.NewRedis(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Printf("Redis unavailable, continuing with process-local rate limiting: %v", err)
		return nil
	}

	log.Println("Connected to Redis, rate limiting is distributed")
	return redis
}
