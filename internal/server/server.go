// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/bzeklaf/desynth-sub000/internal/auth"
	"github.com/bzeklaf/desynth-sub000/internal/booking"
	"github.com/bzeklaf/desynth-sub000/internal/chain"
	"github.com/bzeklaf/desynth-sub000/internal/config"
	"github.com/bzeklaf/desynth-sub000/internal/escrow"
	"github.com/bzeklaf/desynth-sub000/internal/logging"
	"github.com/bzeklaf/desynth-sub000/internal/metrics"
	"github.com/bzeklaf/desynth-sub000/internal/notify"
	"github.com/bzeklaf/desynth-sub000/internal/payment"
	"github.com/bzeklaf/desynth-sub000/internal/pricing"
	"github.com/bzeklaf/desynth-sub000/internal/ratelimit"
	"github.com/bzeklaf/desynth-sub000/internal/security"
	"github.com/bzeklaf/desynth-sub000/internal/traces"
	"github.com/bzeklaf/desynth-sub000/internal/validation"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	engine      *pricing.Engine
	bookings    *booking.Manager
	coordinator *escrow.Coordinator
	verifier    txVerifier
	payments    *payment.Registry
	limiterStop func()
	db          *sql.DB // nil if using in-memory
	redisClient *redis.Client
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger
	shutdownTr  func(context.Context) error

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// txVerifier is satisfied by *chain.Verifier.
type txVerifier interface {
	Verify(ctx context.Context, txHash, network string) chain.Result
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithVerifier sets a custom transaction verifier (for testing)
func WithVerifier(v txVerifier) Option {
	return func(s *Server) {
		s.verifier = v
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Tracing (no-op without an OTLP endpoint)
	shutdownTr, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("tracing init failed", "error", err)
	} else {
		s.shutdownTr = shutdownTr
	}

	// Fee pricing engine
	s.engine = pricing.NewEngine(pricing.DefaultRates(), s.logger)

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		bookingStore booking.Store
		escrowStore  escrow.Store
		auditStore   escrow.AuditStore
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		bookingStore = booking.NewPostgresStore(db)
		escrowStore = escrow.NewPostgresStore(db)
		auditStore = escrow.NewPostgresAuditStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		bookingStore = booking.NewMemoryStore()
		escrowStore = escrow.NewMemoryStore()
		auditStore = escrow.NewMemoryAuditStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Booking lifecycle manager
	s.bookings = booking.NewManager(bookingStore, s.engine, s.logger)
	if cfg.FacilityWebhookURL != "" {
		s.bookings.WithNotifier(notify.NewWebhookNotifier(cfg.FacilityWebhookURL))
		s.logger.Info("facility cancellation webhook enabled")
	} else {
		s.bookings.WithNotifier(notify.NopNotifier{})
	}

	// Transaction verifier against the configured chain, unless injected
	if s.verifier == nil {
		v, err := chain.New(chain.Config{
			RPCURL:  cfg.RPCURL,
			Network: "base-sepolia",
			Timeout: time.Duration(cfg.VerifyTimeoutSec) * time.Second,
		}, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create verifier: %w", err)
		}
		s.verifier = v
		s.logger.Info("transaction verifier enabled",
			"rpc", cfg.RPCURL, "min_confirmations", cfg.MinConfirmations)
	}

	// Escrow coordinator
	s.coordinator = escrow.NewCoordinator(
		escrowStore, auditStore, s.bookings, s.verifier, cfg.MinConfirmations, s.logger)

	// Payment method handlers
	s.payments = payment.NewRegistry()
	s.payments.Register(pricing.MethodCrypto,
		payment.NewCryptoHandler(s.coordinator, cfg.SettlementToken, "base-sepolia"))
	s.payments.Register(pricing.MethodBankTransfer,
		payment.NewBankTransferHandler("Desynth Settlement Ltd", "DE02120300000000202051"))
	if cfg.StripeSecretKey != "" {
		s.payments.Register(pricing.MethodCard, payment.NewCardHandler(cfg.StripeSecretKey))
		s.logger.Info("card payments enabled")
	}

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "An unexpected error occurred",
			},
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting: Redis-backed when configured, otherwise per-instance
	var counterStore ratelimit.CounterStore
	if s.cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(s.cfg.RedisURL)
		if err != nil {
			s.logger.Warn("invalid REDIS_URL, falling back to in-memory rate limiting", "error", err)
		} else {
			s.redisClient = redis.NewClient(redisOpts)
			counterStore = ratelimit.NewRedisStore(s.redisClient)
			s.logger.Info("redis rate limiting enabled")
		}
	}
	if counterStore == nil {
		memStore := ratelimit.NewMemoryStore()
		s.limiterStop = memStore.Stop
		counterStore = memStore
	}
	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerWindow: s.cfg.RateLimitPerMinute,
		Window:            time.Minute,
	}, counterStore)
	s.router.Use(limiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())

	// Capability detection (enforcement sits on the route groups/handlers)
	s.router.Use(auth.Middleware(s.cfg.AdminSecret, s.cfg.ArbiterSecret))
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API info
	s.router.GET("/api", s.infoHandler)

	v1 := s.router.Group("/v1")

	// Bookings
	bookingHandler := booking.NewHandler(s.bookings)
	bookingHandler.RegisterRoutes(v1)

	// Payment initiation for a booking
	v1.POST("/bookings/:id/pay", s.initiatePayment)

	// Escrow settlement (capability checks live in the action handlers)
	escrowHandler := escrow.NewHandler(s.coordinator)
	escrowHandler.RegisterRoutes(v1)

	// Admin fee-schedule routes
	admin := v1.Group("/admin")
	admin.Use(auth.RequireAdmin())
	pricingHandler := pricing.NewHandler(s.engine)
	pricingHandler.RegisterAdminRoutes(admin)
}

// initiatePayment handles POST /v1/bookings/:id/pay
func (s *Server) initiatePayment(c *gin.Context) {
	b, err := s.bookings.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, booking.ErrBookingNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error":   gin.H{"code": "NOT_FOUND", "message": "Booking not found"},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   gin.H{"code": "INTERNAL_ERROR", "message": "Internal error"},
		})
		return
	}

	inst, err := s.payments.Initiate(c.Request.Context(), b)
	if err != nil {
		if errors.Is(err, payment.ErrUnsupportedMethod) {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   gin.H{"code": "VALIDATION_ERROR", "message": err.Error()},
			})
			return
		}
		logging.L(c.Request.Context()).Error("payment initiation failed",
			"booking_id", b.ID, "method", b.PaymentMethod, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"error":   gin.H{"code": "PAYMENT_PROVIDER_ERROR", "message": "Payment initiation failed"},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"payment": inst}})
}

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	checks := make(map[string]string)

	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
		} else {
			checks["database"] = "healthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	for _, v := range checks {
		if v != "healthy" {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Desynth Settlement",
		"description": "Booking and escrow settlement for biotech production slots",
		"version":     "0.1.0",
		"chain":       "base-sepolia",
		"currency":    "USDC",
	})
}

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// DB pool gauges
	if s.db != nil {
		go metrics.StartDBStatsCollector(ctx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop the rate limiter cleanup goroutine
	if s.limiterStop != nil {
		s.limiterStop()
	}

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}

	if s.shutdownTr != nil {
		if err := s.shutdownTr(ctx); err != nil {
			s.logger.Error("trace exporter close error", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
