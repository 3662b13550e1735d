package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RPC_URL", "")
	t.Setenv("ENV", "")
	t.Setenv("PORT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, DefaultRPCURL, cfg.RPCURL)
	assert.Equal(t, int64(DefaultChainID), cfg.ChainID)
	assert.Equal(t, int64(DefaultConfirmations), cfg.MinConfirmations)
	assert.Equal(t, DefaultRateLimit, cfg.RateLimitPerMinute)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("CHAIN_ID", "8453")
	t.Setenv("MIN_CONFIRMATIONS", "3")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "120")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, int64(8453), cfg.ChainID)
	assert.Equal(t, int64(3), cfg.MinConfirmations)
	assert.Equal(t, 120, cfg.RateLimitPerMinute)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid dev config",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing rpc url",
			mutate:  func(c *Config) { c.RPCURL = "" },
			wantErr: "RPC_URL",
		},
		{
			name:    "zero confirmations",
			mutate:  func(c *Config) { c.MinConfirmations = 0 },
			wantErr: "MIN_CONFIRMATIONS",
		},
		{
			name:    "zero verify timeout",
			mutate:  func(c *Config) { c.VerifyTimeoutSec = 0 },
			wantErr: "VERIFY_TIMEOUT_SEC",
		},
		{
			name:    "production without admin secret",
			mutate:  func(c *Config) { c.Env = "production"; c.ArbiterSecret = "x" },
			wantErr: "ADMIN_SECRET",
		},
		{
			name:    "production without arbiter secret",
			mutate:  func(c *Config) { c.Env = "production"; c.AdminSecret = "x" },
			wantErr: "ARBITER_SECRET",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Env:              "development",
				RPCURL:           DefaultRPCURL,
				MinConfirmations: 1,
				VerifyTimeoutSec: 10,
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
