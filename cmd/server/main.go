package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/yourusername/endpoint-gateway/internal/config"
	"github.com/yourusername/endpoint-gateway/internal/database"
	"github.com/yourusername/endpoint-gateway/internal/handlers"
	"github.com/yourusername/endpoint-gateway/internal/middleware"
	"github.com/yourusername/endpoint-gateway/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("couldn't load config", "error", err)
		os.Exit(1)
	}

	services.SetupLogger(cfg.LogFormat, cfg.LogLevel)
	slog.Info("starting gateway", "port", cfg.Port, "rate_limit_backend", cfg.RateLimitBackend)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = db.Migrate(migrateCtx)
	cancel()
	if err != nil {
		slog.Error("database migration failed", "error", err)
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.RateLimitBackend == config.RateLimitBackendRedis || cfg.EndpointCacheTTL > 0 {
		redisClient, err = services.NewRedisClient(cfg.RedisURL)
		if err != nil {
			slog.Error("redis connection failed", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
	}

	metricsCollector := services.NewMetricsCollector()

	var limiter services.RateLimiter = services.NewLogRateLimiter(db)
	if cfg.RateLimitBackend == config.RateLimitBackendRedis {
		limiter = services.NewRedisRateLimiter(redisClient)
	}

	var endpointCache *services.EndpointCache
	if cfg.EndpointCacheTTL > 0 {
		endpointCache = services.NewEndpointCache(redisClient, cfg.EndpointCacheTTL)
	}

	verifier := services.NewKeyVerifier(services.DefaultArgon2Params())

	gateway := services.NewGateway(services.GatewayOptions{
		Resolver:   services.NewResolver(db, endpointCache).WithMetrics(metricsCollector),
		Verifier:   verifier,
		Keys:       db,
		Limiter:    limiter,
		Dispatcher: services.NewHTTPDispatcher(cfg.DispatchTimeout, cfg.DialGuard),
		Audit:      services.NewAuditLogger(db),
		Metrics:    metricsCollector,
		UserAgent:  cfg.UserAgent,
	})

	proxyHandler := handlers.NewProxyHandler(gateway, cfg.MaxBodyBytes, cfg.TrustProxyHeaders)
	adminHandler := handlers.NewAdminHandler(db, verifier, gateway, cfg.PublicBaseURL)
	metricsHandler := handlers.NewMetricsHandler(metricsCollector, db, redisClient)
	adminAuth := middleware.NewAdminAuth(cfg.AdminToken)

	if cfg.AdminToken == "" {
		slog.Warn("ADMIN_TOKEN is not set, admin routes are disabled")
	}

	admin := http.NewServeMux()
	admin.HandleFunc("POST /admin/connections", adminHandler.CreateConnection)
	admin.HandleFunc("POST /admin/endpoints", adminHandler.CreateEndpoint)
	admin.HandleFunc("GET /admin/endpoints", adminHandler.ListEndpoints)
	admin.HandleFunc("PUT /admin/endpoints/{id}/status", adminHandler.UpdateEndpointStatus)
	admin.HandleFunc("GET /admin/endpoints/{id}/stats", adminHandler.EndpointStats)
	admin.HandleFunc("POST /admin/keys", adminHandler.CreateAPIKey)
	admin.HandleFunc("GET /admin/keys", adminHandler.ListAPIKeys)
	admin.HandleFunc("DELETE /admin/keys/{id}", adminHandler.DeleteAPIKey)
	admin.HandleFunc("PUT /admin/keys/{id}/toggle", adminHandler.ToggleAPIKey)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", metricsHandler.HealthCheck)
	mux.HandleFunc("GET /metrics", metricsHandler.GetMetrics)
	mux.Handle("GET /metrics/prometheus", promhttp.Handler())

	mux.Handle("/admin/", adminAuth.Middleware(admin))

	mux.Handle("/proxy/{slug}", proxyHandler)
	mux.Handle("/proxy/{slug}/{rest...}", proxyHandler)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           middleware.AccessLog(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("ready", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
}
