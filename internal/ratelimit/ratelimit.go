// Package ratelimit provides sliding-window admission control for the
// settlement API.
//
// Counters live behind the CounterStore interface. The in-memory store is
// only correct for a single service instance; deployments running more
// than one instance must use the Redis store so all instances share one
// budget.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bzeklaf/desynth-sub000/internal/logging"
	"github.com/bzeklaf/desynth-sub000/internal/metrics"
)

// Config configures rate limiting
type Config struct {
	// RequestsPerWindow is the max requests per client per window
	RequestsPerWindow int
	// Window is the sliding window size
	Window time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		RequestsPerWindow: 60,
		Window:            time.Minute,
	}
}

// CounterStore persists per-window request counters.
type CounterStore interface {
	// Incr increments the counter for key and returns the new value.
	// The counter expires after ttl.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Get returns the counter for key, or 0 if absent.
	Get(ctx context.Context, key string) (int64, error)
}

// Result describes an admission decision.
type Result struct {
	Allowed   bool
	Remaining int64
	ResetAt   time.Time
}

// Limiter applies a sliding-window limit over a CounterStore.
type Limiter struct {
	cfg   Config
	store CounterStore
}

// New creates a limiter over the given counter store.
func New(cfg Config, store CounterStore) *Limiter {
	if cfg.RequestsPerWindow <= 0 {
		cfg.RequestsPerWindow = DefaultConfig().RequestsPerWindow
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	return &Limiter{cfg: cfg, store: store}
}

// Allow records a request for key and decides whether to admit it.
//
// Sliding window: the previous window's count is weighted by the unelapsed
// fraction of the current window, so the budget decays smoothly instead of
// resetting on the minute boundary.
func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	now := time.Now()
	windowStart := now.Truncate(l.cfg.Window)
	resetAt := windowStart.Add(l.cfg.Window)

	currKey := windowKey(key, windowStart)
	prevKey := windowKey(key, windowStart.Add(-l.cfg.Window))

	curr, err := l.store.Incr(ctx, currKey, 2*l.cfg.Window)
	if err != nil {
		return Result{}, err
	}
	prev, err := l.store.Get(ctx, prevKey)
	if err != nil {
		return Result{}, err
	}

	elapsed := now.Sub(windowStart).Seconds() / l.cfg.Window.Seconds()
	effective := curr + int64(float64(prev)*(1-elapsed))

	remaining := int64(l.cfg.RequestsPerWindow) - effective
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   effective <= int64(l.cfg.RequestsPerWindow),
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

func windowKey(key string, windowStart time.Time) string {
	return fmt.Sprintf("rl:%s:%d", key, windowStart.Unix())
}

// Middleware returns a gin middleware that rate limits by client IP.
// Store failures fail open: admission control must not take the API down
// with it.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := l.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			logging.L(c.Request.Context()).Warn("rate limit store unavailable, failing open", "error", err)
			c.Next()
			return
		}

		if !res.Allowed {
			metrics.RateLimitedTotal.Inc()
			c.Header("Retry-After", fmt.Sprintf("%d", int(time.Until(res.ResetAt).Seconds())+1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "RATE_LIMITED",
					"message": "Too many requests. Please slow down.",
					"details": gin.H{
						"remaining": res.Remaining,
						"resetAt":   res.ResetAt.UTC().Format(time.RFC3339),
					},
				},
			})
			return
		}

		c.Next()
	}
}
