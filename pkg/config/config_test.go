package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("DB_URL", "postgres://localhost/custos")
	t.Setenv("SIGNER_BASE_URL", "http://localhost:8200")
	t.Setenv("SCAN_INTERVAL_MS", "")
	t.Setenv("MAX_GAS_PRICE_GWEI", "")

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 12*time.Second, cfg.ScanInterval)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 25, cfg.BatchSize)
	assert.Equal(t, 10, cfg.ConfirmBatch)
	assert.Equal(t, int64(20), cfg.MaxGasPriceGwei)
	assert.Equal(t, 10*time.Minute, cfg.ConsolidationLockTTL)
	assert.Equal(t, 5*time.Minute, cfg.GasLockTTL)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("DB_URL", "postgres://localhost/custos")
	t.Setenv("SIGNER_BASE_URL", "http://localhost:8200")
	t.Setenv("SCAN_INTERVAL_MS", "5000")
	t.Setenv("MAX_GAS_PRICE_GWEI", "35")
	t.Setenv("MAX_RETRIES", "8")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.ScanInterval)
	assert.Equal(t, int64(35), cfg.MaxGasPriceGwei)
	assert.Equal(t, 8, cfg.MaxRetries)
}

func TestFromEnvRejectsGarbage(t *testing.T) {
	t.Setenv("DB_URL", "postgres://localhost/custos")
	t.Setenv("SIGNER_BASE_URL", "http://localhost:8200")
	t.Setenv("SCAN_INTERVAL_MS", "soon")

	_, err := FromEnv()
	assert.Error(t, err)
}

func TestLoadYAMLOverride(t *testing.T) {
	t.Setenv("DB_URL", "postgres://localhost/custos")
	t.Setenv("SIGNER_BASE_URL", "http://localhost:8200")
	t.Setenv("SCAN_INTERVAL_MS", "")

	path := filepath.Join(t.TempDir(), "custos.yaml")
	data := []byte("batch_size: 50\nmax_gas_price_gwei: 40\n")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, int64(40), cfg.MaxGasPriceGwei)
	// Untouched values keep env defaults.
	assert.Equal(t, "postgres://localhost/custos", cfg.DBURL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing db url", mutate: func(c *Config) { c.DBURL = "" }},
		{name: "missing signer url", mutate: func(c *Config) { c.SignerBaseURL = "" }},
		{name: "zero batch", mutate: func(c *Config) { c.BatchSize = 0 }},
		{name: "cap below base", mutate: func(c *Config) { c.BackoffCap = time.Second; c.BackoffBase = time.Minute }},
		{name: "zero gas cap", mutate: func(c *Config) { c.MaxGasPriceGwei = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DB_URL", "postgres://localhost/custos")
			t.Setenv("SIGNER_BASE_URL", "http://localhost:8200")
			t.Setenv("SCAN_INTERVAL_MS", "")
			cfg, err := FromEnv()
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
