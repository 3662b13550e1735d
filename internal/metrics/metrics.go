// Package metrics provides Prometheus instrumentation for the settlement service.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "desynth",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "desynth",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// BookingsTotal counts booking lifecycle transitions by resulting status.
	BookingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "desynth",
			Name:      "bookings_total",
			Help:      "Total booking transitions by resulting status.",
		},
		[]string{"status"},
	)

	// EscrowActionsTotal counts escrow operations by action and result.
	EscrowActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "desynth",
			Name:      "escrow_actions_total",
			Help:      "Total escrow actions by action name and result.",
		},
		[]string{"action", "result"},
	)

	// EscrowFundedTotal counts escrows that reached funded.
	EscrowFundedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "desynth",
		Name:      "escrow_funded_total",
		Help:      "Total escrows funded after on-chain confirmation.",
	})

	// EscrowDisputedTotal counts escrows that entered dispute.
	EscrowDisputedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "desynth",
		Name:      "escrow_disputed_total",
		Help:      "Total escrows disputed.",
	})

	// EscrowSettleDuration observes time from escrow creation to a terminal state.
	EscrowSettleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "desynth",
		Name:      "escrow_settle_duration_seconds",
		Help:      "Time from escrow creation to release or resolution in seconds.",
		Buckets:   []float64{60, 300, 1800, 3600, 21600, 86400, 604800},
	})

	// VerifierDuration observes blockchain verification latency by outcome.
	VerifierDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "desynth",
			Name:      "verifier_duration_seconds",
			Help:      "Transaction verification latency in seconds by outcome.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"outcome"},
	)

	// FeeCalculations counts fee-breakdown computations by vertical.
	FeeCalculations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "desynth",
			Name:      "fee_calculations_total",
			Help:      "Total fee breakdown computations by booking vertical.",
		},
		[]string{"vertical"},
	)

	// RateLimitedTotal counts requests rejected by the rate limiter.
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "desynth",
		Name:      "rate_limited_total",
		Help:      "Total requests rejected with 429.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "desynth", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "desynth", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "desynth", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "desynth", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		BookingsTotal,
		EscrowActionsTotal,
		EscrowFundedTotal,
		EscrowDisputedTotal,
		EscrowSettleDuration,
		VerifierDuration,
		FeeCalculations,
		RateLimitedTotal,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
