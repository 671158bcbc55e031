package services

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus series for the proxy pipeline. Labels never carry slugs or
// target hosts to keep cardinality bounded.
var (
	ProxyRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_proxy_requests_total",
			Help: "Total number of proxied requests, by response status code.",
		},
		[]string{"status"},
	)

	ProxyRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gateway_proxy_request_duration_seconds",
			Help:    "Histogram of end-to-end proxy latencies.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	ProxyRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_proxy_rejections_total",
			Help: "Requests rejected by the pipeline, by error kind.",
		},
		[]string{"kind"},
	)

	EndpointCacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_endpoint_cache_lookups_total",
			Help: "Endpoint cache lookups, by result (hit or miss).",
		},
		[]string{"result"},
	)
)

// MetricsCollector keeps in-process counters for the JSON metrics snapshot and
// mirrors them into Prometheus. A nil collector ignores every call.
type MetricsCollector struct {
	mu sync.RWMutex

	totalRequests   int64
	successRequests int64
	errorRequests   int64
	cacheHits       int64
	cacheMisses     int64
	rateLimitHits   int64
	blockedTargets  int64
	authFailures    int64
	upstreamErrors  int64

	totalResponseTime int64

	startTime time.Time
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		startTime: time.Now(),
	}
}

// RecordRequest counts one finished proxy request
func (mc *MetricsCollector) RecordRequest(responseTimeMs int, statusCode int) {
	if mc == nil {
		return
	}
	ProxyRequestsTotal.WithLabelValues(strconv.Itoa(statusCode)).Inc()
	ProxyRequestDuration.Observe(float64(responseTimeMs) / 1000)

	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.totalRequests++
	mc.totalResponseTime += int64(responseTimeMs)

	if statusCode >= 200 && statusCode < 400 {
		mc.successRequests++
	} else {
		mc.errorRequests++
	}
}

// RecordFailure counts a pipeline error by kind
func (mc *MetricsCollector) RecordFailure(kind ErrorKind) {
	if mc == nil {
		return
	}
	ProxyRejectionsTotal.WithLabelValues(string(kind)).Inc()

	mc.mu.Lock()
	defer mc.mu.Unlock()

	switch kind {
	case KindRateLimited:
		mc.rateLimitHits++
	case KindUnsafeTarget:
		mc.blockedTargets++
	case KindMissingKey, KindInvalidKey:
		mc.authFailures++
	case KindUpstream, KindUpstreamTimeout:
		mc.upstreamErrors++
	}
}

func (mc *MetricsCollector) RecordCacheHit() {
	if mc == nil {
		return
	}
	EndpointCacheLookupsTotal.WithLabelValues("hit").Inc()
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.cacheHits++
}

func (mc *MetricsCollector) RecordCacheMiss() {
	if mc == nil {
		return
	}
	EndpointCacheLookupsTotal.WithLabelValues("miss").Inc()
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.cacheMisses++
}

type MetricsSnapshot struct {
	UptimeSeconds     int64   `json:"uptime_seconds"`
	TotalRequests     int64   `json:"total_requests"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	ErrorRate         float64 `json:"error_rate"`
	CacheHitRate      float64 `json:"cache_hit_rate"`
	RateLimitHits     int64   `json:"rate_limit_hits"`
	BlockedTargets    int64   `json:"blocked_targets"`
	AuthFailures      int64   `json:"auth_failures"`
	UpstreamErrors    int64   `json:"upstream_errors"`
	Timestamp         string  `json:"timestamp"`
}

func (mc *MetricsCollector) GetSnapshot() *MetricsSnapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	uptime := time.Since(mc.startTime)
	uptimeSeconds := int64(uptime.Seconds())

	snapshot := &MetricsSnapshot{
		UptimeSeconds:  uptimeSeconds,
		TotalRequests:  mc.totalRequests,
		RateLimitHits:  mc.rateLimitHits,
		BlockedTargets: mc.blockedTargets,
		AuthFailures:   mc.authFailures,
		UpstreamErrors: mc.upstreamErrors,
		Timestamp:      time.Now().Format(time.RFC3339),
	}

	if uptimeSeconds > 0 {
		snapshot.RequestsPerSecond = float64(mc.totalRequests) / float64(uptimeSeconds)
	}

	if mc.totalRequests > 0 {
		snapshot.AvgResponseTimeMs = float64(mc.totalResponseTime) / float64(mc.totalRequests)
		snapshot.ErrorRate = float64(mc.errorRequests) / float64(mc.totalRequests)
	}

	totalCacheRequests := mc.cacheHits + mc.cacheMisses
	if totalCacheRequests > 0 {
		snapshot.CacheHitRate = float64(mc.cacheHits) / float64(totalCacheRequests)
	}

	return snapshot
}

func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.totalRequests = 0
	mc.successRequests = 0
	mc.errorRequests = 0
	mc.cacheHits = 0
	mc.cacheMisses = 0
	mc.rateLimitHits = 0
	mc.blockedTargets = 0
	mc.authFailures = 0
	mc.upstreamErrors = 0
	mc.totalResponseTime = 0
	mc.startTime = time.Now()
}
