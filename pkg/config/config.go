package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything a worker process needs. Values come from the
// environment, optionally overridden by a YAML file (--config).
type Config struct {
	DBURL         string `yaml:"db_url"`
	SignerBaseURL string `yaml:"signer_base_url"`
	SignerAPIKey  string `yaml:"signer_api_key"`
	ServiceName   string `yaml:"service_name"`

	LogLevel    string `yaml:"log_level"`
	LogJSON     bool   `yaml:"log_json"`
	MetricsAddr string `yaml:"metrics_addr"`

	// Loop cadence.
	ScanInterval      time.Duration `yaml:"scan_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// Claim and retry policy.
	BatchSize       int           `yaml:"batch_size"`
	ConfirmBatch    int           `yaml:"confirm_batch"`
	MaxRetries      int           `yaml:"max_retries"`
	BackoffBase     time.Duration `yaml:"backoff_base"`
	BackoffCap      time.Duration `yaml:"backoff_cap"`
	ProcessingStale time.Duration `yaml:"processing_stale"`

	// Wallet lock TTLs.
	ConsolidationLockTTL time.Duration `yaml:"consolidation_lock_ttl"`
	GasLockTTL           time.Duration `yaml:"gas_lock_ttl"`
	WithdrawalLockTTL    time.Duration `yaml:"withdrawal_lock_ttl"`

	// EVM pre-flight.
	MaxGasPriceGwei int64  `yaml:"max_gas_price_gwei"`
	NativeFeeLimit  string `yaml:"native_fee_limit"`

	// Planner.
	GasTopupAmountRaw string `yaml:"gas_topup_amount_raw"`

	// Execution log retention.
	LogRetention time.Duration `yaml:"log_retention"`
}

// FromEnv builds a Config from environment variables with built-in defaults.
func FromEnv() (*Config, error) {
	cfg := &Config{
		DBURL:         os.Getenv("DB_URL"),
		SignerBaseURL: os.Getenv("SIGNER_BASE_URL"),
		SignerAPIKey:  os.Getenv("SIGNER_API_KEY"),
		ServiceName:   envOr("SERVICE_NAME", "custos"),

		LogLevel:    envOr("LOG_LEVEL", "info"),
		LogJSON:     os.Getenv("LOG_JSON") == "true",
		MetricsAddr: envOr("METRICS_ADDR", ":9464"),

		ScanInterval:      12 * time.Second,
		HeartbeatInterval: 30 * time.Second,

		BatchSize:       25,
		ConfirmBatch:    10,
		MaxRetries:      5,
		BackoffBase:     30 * time.Second,
		BackoffCap:      15 * time.Minute,
		ProcessingStale: 10 * time.Minute,

		ConsolidationLockTTL: 10 * time.Minute,
		GasLockTTL:           5 * time.Minute,
		WithdrawalLockTTL:    10 * time.Minute,

		MaxGasPriceGwei: 20,
		NativeFeeLimit:  "2000000", // 2 TRX in sun

		GasTopupAmountRaw: envOr("GAS_TOPUP_AMOUNT_RAW", "30000000000000000"),

		LogRetention: 7 * 24 * time.Hour,
	}

	if raw := os.Getenv("SCAN_INTERVAL_MS"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("config: invalid SCAN_INTERVAL_MS %q", raw)
		}
		cfg.ScanInterval = time.Duration(ms) * time.Millisecond
	}
	if raw := os.Getenv("HEARTBEAT_INTERVAL_MS"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("config: invalid HEARTBEAT_INTERVAL_MS %q", raw)
		}
		cfg.HeartbeatInterval = time.Duration(ms) * time.Millisecond
	}
	if raw := os.Getenv("MAX_GAS_PRICE_GWEI"); raw != "" {
		gwei, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || gwei <= 0 {
			return nil, fmt.Errorf("config: invalid MAX_GAS_PRICE_GWEI %q", raw)
		}
		cfg.MaxGasPriceGwei = gwei
	}
	if raw := os.Getenv("MAX_RETRIES"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("config: invalid MAX_RETRIES %q", raw)
		}
		cfg.MaxRetries = n
	}

	return cfg, nil
}

// Load builds the config from the environment and, when path is non-empty,
// applies YAML overrides on top.
func Load(path string) (*Config, error) {
	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields every worker needs before touching the network.
func (c *Config) Validate() error {
	if c.DBURL == "" {
		return fmt.Errorf("config: DB_URL is required")
	}
	if c.SignerBaseURL == "" {
		return fmt.Errorf("config: SIGNER_BASE_URL is required")
	}
	if c.BatchSize <= 0 || c.ConfirmBatch <= 0 {
		return fmt.Errorf("config: batch sizes must be positive")
	}
	if c.BackoffBase <= 0 || c.BackoffCap < c.BackoffBase {
		return fmt.Errorf("config: backoff base/cap misconfigured")
	}
	if c.MaxGasPriceGwei <= 0 {
		return fmt.Errorf("config: max gas price must be positive")
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
