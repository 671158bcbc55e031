package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yourusername/endpoint-gateway/internal/services"
)

// Pinger is implemented by the database
type Pinger interface {
	Ping(ctx context.Context) error
}

// MetricsHandler handles metrics endpoints
type MetricsHandler struct {
	metricsCollector *services.MetricsCollector
	db               Pinger
	redis            *redis.Client
}

// NewMetricsHandler creates a new metrics handler. redisClient may be nil when
// no component uses Redis.
func NewMetricsHandler(metricsCollector *services.MetricsCollector, db Pinger, redisClient *redis.Client) *MetricsHandler {
	return &MetricsHandler{
		metricsCollector: metricsCollector,
		db:               db,
		redis:            redisClient,
	}
}

// GetMetrics returns current system metrics
func (h *MetricsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.metricsCollector.GetSnapshot())
}

// ServiceHealth is the state of one dependency
type ServiceHealth struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                   `json:"status"`
	Timestamp string                   `json:"timestamp"`
	Services  map[string]ServiceHealth `json:"services"`
}

// HealthCheck checks the health of the system and its dependencies
func (h *MetricsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
		Services:  make(map[string]ServiceHealth),
	}

	health.Services["postgresql"] = check(ctx, "postgresql", h.db.Ping)

	if h.redis != nil {
		health.Services["redis"] = check(ctx, "redis", func(ctx context.Context) error {
			return h.redis.Ping(ctx).Err()
		})
	} else {
		health.Services["redis"] = ServiceHealth{Status: "disabled"}
	}

	for _, s := range health.Services {
		if s.Status == "unhealthy" {
			health.Status = "degraded"
		}
	}

	statusCode := http.StatusOK
	if health.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, health)
}

func check(ctx context.Context, name string, ping func(context.Context) error) ServiceHealth {
	start := time.Now()
	err := ping(ctx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		slog.Warn("health check failed", "service", name, "error", err)
		return ServiceHealth{Status: "unhealthy", LatencyMs: latency, Error: err.Error()}
	}
	return ServiceHealth{Status: "healthy", LatencyMs: latency}
}
