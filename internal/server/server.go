package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/finsight/api-governor/internal/circuitbreaker"
	"github.com/finsight/api-governor/internal/clock"
	"github.com/finsight/api-governor/internal/config"
	"github.com/finsight/api-governor/internal/counter"
	"github.com/finsight/api-governor/internal/handler"
	"github.com/finsight/api-governor/internal/metrics"
	"github.com/finsight/api-governor/internal/middleware"
	"github.com/finsight/api-governor/internal/policy"
	"github.com/finsight/api-governor/internal/proxy"
	"github.com/finsight/api-governor/internal/ratelimit"
	"github.com/finsight/api-governor/internal/repository"
	"github.com/finsight/api-governor/internal/service"
	"github.com/finsight/api-governor/internal/storage"
	"github.com/gin-gonic/gin"
)

// Server wires the governor together: identity resolution, admission
// control, usage metering and the provider proxies, in that order on the
// request path.
type Server struct {
	router   *gin.Engine
	config   *config.Config
	redis    *storage.RedisClient
	postgres *storage.Postgres

	limiter   *ratelimit.Limiter
	local     *counter.LocalStore
	collector *metrics.Collector
	flusher   *metrics.Flusher
	providers map[string]*proxy.Provider

	apiKeyService *service.APIKeyService
	authService   *service.AuthService

	apiKeyHandler *handler.APIKeyHandler
	authHandler   *handler.AuthHandler
	usageHandler  *handler.UsageHandler
	systemHandler *handler.SystemHandler

	httpServer *http.Server
}

// New builds the full request pipeline. redis may be nil, in which case
// counting and identity caching run in-process only.
func New(cfg *config.Config, redis *storage.RedisClient, postgres *storage.Postgres, table *policy.Table, clk clock.Clock) *Server {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	apiKeyRepo := repository.NewAPIKeyRepository(postgres)
	userRepo := repository.NewUserRepository(postgres)
	metricRepo := repository.NewMetricRepository(postgres)

	apiKeyService := service.NewAPIKeyService(apiKeyRepo, redis)
	authService := service.NewAuthService(userRepo, cfg.Auth.JWTSecret, cfg.Auth.ExpiryHours)

	local := counter.NewLocalStore(clk)
	var store counter.Store = local
	if redis != nil {
		store = counter.NewRedisStore(redis, cfg.StoreTimeout())
	}
	limiter := ratelimit.New(store, local, clk)

	collector := metrics.NewCollector(cfg.Metrics.BufferSize, cfg.Metrics.HighWater, clk)
	flusher := metrics.NewFlusher(collector, metricRepo, cfg.FlushInterval())

	s := &Server{
		router:        router,
		config:        cfg,
		redis:         redis,
		postgres:      postgres,
		limiter:       limiter,
		local:         local,
		collector:     collector,
		flusher:       flusher,
		providers:     make(map[string]*proxy.Provider),
		apiKeyService: apiKeyService,
		authService:   authService,
	}

	s.apiKeyHandler = handler.NewAPIKeyHandler(apiKeyService)
	s.authHandler = handler.NewAuthHandler(authService)
	s.usageHandler = handler.NewUsageHandler(collector, limiter, table, metricRepo, clk)

	s.initializeProviders(clk)
	s.systemHandler = handler.NewSystemHandler(s.providers)

	s.setupMiddleware(table, clk)
	s.setupRoutes()

	flusher.Start()

	return s
}

func (s *Server) initializeProviders(clk clock.Clock) {
	for _, pc := range s.config.Providers {
		p, err := proxy.NewProvider(proxy.Config{
			Name:       pc.Name,
			Targets:    pc.Targets,
			Strategy:   pc.Strategy,
			HealthPath: pc.HealthPath,
			Breaker: circuitbreaker.Config{
				MaxFailures: pc.MaxFailures,
				Cooldown:    time.Duration(pc.CooldownSec) * time.Second,
			},
		}, clk)
		if err != nil {
			log.Printf("Failed to create provider %s: %v", pc.Name, err)
			continue
		}

		s.providers[pc.Name] = p
	}
}

func (s *Server) setupMiddleware(table *policy.Table, clk clock.Clock) {
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger())
	s.router.Use(middleware.CORS())
	// Metrics wrap admission so denied and unauthorized requests are
	// metered like any other completed request.
	s.router.Use(middleware.RequestMetrics(s.collector))
	s.router.Use(middleware.APIKeyValidator(s.apiKeyService))
	s.router.Use(middleware.Admission(s.limiter, table, middleware.AdmissionConfig{
		Whitelist:    s.config.RateLimit.Whitelist,
		GlobalLimit:  s.config.RateLimit.GlobalLimit,
		GlobalWindow: s.config.GlobalWindow(),
	}, clk))
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	auth := s.router.Group("/auth")
	{
		auth.POST("/register", s.authHandler.Register)
		auth.POST("/login", s.authHandler.Login)
	}

	admin := s.router.Group("/admin")
	admin.Use(middleware.RequireAuth(s.authService))
	{
		admin.POST("/keys", s.apiKeyHandler.Create)
		admin.GET("/keys", s.apiKeyHandler.List)
		admin.GET("/keys/:id", s.apiKeyHandler.Get)
		admin.PATCH("/keys/:id", s.apiKeyHandler.Update)
		admin.DELETE("/keys/:id", s.apiKeyHandler.Delete)

		admin.GET("/usage", s.usageHandler.GetUsage)
		admin.GET("/usage/tiers", s.usageHandler.GetUsageByTier)
		admin.GET("/usage/top-endpoints", s.usageHandler.GetTopEndpoints)
		admin.GET("/usage/errors", s.usageHandler.GetErrorBreakdown)
		admin.GET("/usage/summary", s.usageHandler.GetSummary)
		admin.GET("/usage/history", s.usageHandler.GetHistory)
		admin.GET("/usage/history/callers/:id", s.usageHandler.GetCallerHistory)

		admin.GET("/ratelimit/status", s.usageHandler.RateLimitStatus)
		admin.GET("/ratelimit/callers/:id", s.usageHandler.CallerQuota)
		admin.GET("/providers", s.systemHandler.ProviderStatus)
		admin.POST("/providers/:name/reset", s.systemHandler.ResetProvider)
	}

	s.setupProviderRoutes()
}

func (s *Server) setupProviderRoutes() {
	for name, p := range s.providers {
		mount := "/api/" + name
		prov := p

		s.router.Any(mount+"/*providerPath", func(c *gin.Context) {
			prov.Handle(c)
		})

		log.Printf("Registered provider route: %s", mount)
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	redisHealthy := true
	if s.redis != nil {
		if err := s.redis.Ping(c.Request.Context()); err != nil {
			redisHealthy = false
			log.Printf("Redis health check failed: %v", err)
		}
	}

	dbHealthy := true
	if err := s.postgres.Ping(c.Request.Context()); err != nil {
		dbHealthy = false
		log.Printf("Database health check failed: %v", err)
	}

	status := "healthy"
	statusCode := http.StatusOK

	if !redisHealthy || !dbHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"service":   "api-governor",
		"timestamp": time.Now().Unix(),
		"checks": gin.H{
			"redis":    redisHealthy,
			"database": dbHealthy,
		},
		"rate_limiting": gin.H{
			"distributed": s.limiter.Distributed(),
			"fallbacks":   s.limiter.Fallbacks(),
		},
	})
}

func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	log.Printf("Starting API governor on %s", addr)
	log.Printf("Environment: %s", s.config.Server.Environment)

	return s.httpServer.ListenAndServe()
}

// Shutdown drains in order: stop accepting requests, stop the provider
// health probes, then close the flusher so the final buffered metrics
// reach the database.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down server...")

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	for _, p := range s.providers {
		p.Stop()
	}

	s.flusher.Close()
	s.local.Close()

	return err
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
