// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Redis (optional). Required for correct rate limiting across multiple
	// instances; the in-memory counter store is single-instance only.
	RedisURL string

	// Blockchain settings
	RPCURL          string
	ChainID         int64
	SettlementToken string // ERC-20 contract the escrows settle in

	// Escrow settings
	MinConfirmations int64
	VerifyTimeoutSec int64

	// Card leg (opaque, delegated to Stripe)
	StripeSecretKey string

	// Capabilities
	AdminSecret   string // fee-rate edits, dispute resolution
	ArbiterSecret string // escrow release

	// Rate limiting
	RateLimitPerMinute int

	// Tracing
	OTLPEndpoint string

	// Notifications
	FacilityWebhookURL string // urgent facility notices on cancellation
}

// Base Sepolia defaults
const (
	DefaultRPCURL          = "https://sepolia.base.org"
	DefaultChainID         = 84532                                        // Base Sepolia
	DefaultSettlementToken = "0x036CbD53842c5426634e7929541eC2318f3dCF7e" // Base Sepolia USDC
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultRateLimit       = 60
	DefaultConfirmations   = 1
	DefaultVerifyTimeout   = 10 // seconds
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		RPCURL:             getEnv("RPC_URL", DefaultRPCURL),
		ChainID:            getEnvInt64("CHAIN_ID", DefaultChainID),
		SettlementToken:    getEnv("SETTLEMENT_TOKEN", DefaultSettlementToken),
		MinConfirmations:   getEnvInt64("MIN_CONFIRMATIONS", DefaultConfirmations),
		VerifyTimeoutSec:   getEnvInt64("VERIFY_TIMEOUT_SEC", DefaultVerifyTimeout),
		StripeSecretKey:    os.Getenv("STRIPE_SECRET_KEY"),
		AdminSecret:        os.Getenv("ADMIN_SECRET"),
		ArbiterSecret:      os.Getenv("ARBITER_SECRET"),
		RateLimitPerMinute: int(getEnvInt64("RATE_LIMIT_PER_MINUTE", DefaultRateLimit)),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		FacilityWebhookURL: os.Getenv("FACILITY_WEBHOOK_URL"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}
	if c.MinConfirmations < 1 {
		return fmt.Errorf("MIN_CONFIRMATIONS must be at least 1")
	}
	if c.VerifyTimeoutSec <= 0 {
		return fmt.Errorf("VERIFY_TIMEOUT_SEC must be positive")
	}
	if c.IsProduction() {
		// Capability secrets may be absent in dev (the endpoints are then
		// disabled) but production must not run without them.
		if c.AdminSecret == "" {
			return fmt.Errorf("ADMIN_SECRET is required in production")
		}
		if c.ArbiterSecret == "" {
			return fmt.Errorf("ARBITER_SECRET is required in production")
		}
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}
