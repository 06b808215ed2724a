// Package config defines the top-level configuration for the investment and
// settlement engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by RWA_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Vault    VaultConfig    `toml:"vault"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Swap     SwapConfig     `toml:"swap"`
	Sweep    SweepConfig    `toml:"sweep"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// VaultConfig holds key-custody parameters: the KMS key that wraps user
// signing keys and the object store that holds the wrapped ciphertext.
type VaultConfig struct {
	KMSKeyID       string   `toml:"kms_key_id"`
	Region         string   `toml:"region"`
	KeyPrefix      string   `toml:"key_prefix"`
	Bucket         string   `toml:"bucket"`
	Endpoint       string   `toml:"endpoint"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	ForcePathStyle bool     `toml:"force_path_style"`
	MaxRetries     int      `toml:"max_retries"`
	RetryBackoff   duration `toml:"retry_backoff"`
}

// LedgerConfig holds distributed-ledger network parameters.
type LedgerConfig struct {
	RPCEndpoint     string   `toml:"rpc_endpoint"`
	WSEndpoint      string   `toml:"ws_endpoint"`
	TreasuryAccount string   `toml:"treasury_account"`
	TreasuryKey     string   `toml:"treasury_key"` // hex-encoded secp256k1
	SettleToken     string   `toml:"settle_token"` // stablecoin token ref
	SubmitTimeout   duration `toml:"submit_timeout"`
	FinalityTimeout duration `toml:"finality_timeout"`
	MaxRetries      int      `toml:"max_retries"`
	RetryDelay      duration `toml:"retry_delay"`
	MaxRetryDelay   duration `toml:"max_retry_delay"`
}

// SwapConfig holds two-phase swap parameters: amount bounds, conversion
// rates, and the prepare validity window.
type SwapConfig struct {
	MinAmount       float64            `toml:"min_amount"`
	MaxAmount       float64            `toml:"max_amount"`
	IntentWindow    duration           `toml:"intent_window"`
	ConversionRates map[string]float64 `toml:"conversion_rates"` // source currency -> settle units
	DepositAccount  string             `toml:"deposit_account"`  // payment reference handed to depositors
}

// SweepConfig holds maturity settlement sweep parameters.
type SweepConfig struct {
	Interval     duration `toml:"interval"`
	ClaimTimeout duration `toml:"claim_timeout"`
	Concurrency  int      `toml:"concurrency"`
	LockTTL      duration `toml:"lock_ttl"`
}

// NotifyConfig holds operator alert channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config with sensible defaults for every parameter that
// has one. Connection credentials have no defaults and must be supplied.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Port:         5432,
			SSLMode:      "disable",
			PoolMaxConns: 10,
			PoolMinConns: 2,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Vault: VaultConfig{
			KeyPrefix:    "custodial-key-",
			MaxRetries:   3,
			RetryBackoff: duration{500 * time.Millisecond},
		},
		Ledger: LedgerConfig{
			SubmitTimeout:   duration{30 * time.Second},
			FinalityTimeout: duration{90 * time.Second},
			MaxRetries:      3,
			RetryDelay:      duration{1 * time.Second},
			MaxRetryDelay:   duration{10 * time.Second},
		},
		Swap: SwapConfig{
			MinAmount:    1,
			MaxAmount:    1_000_000,
			IntentWindow: duration{30 * time.Minute},
			ConversionRates: map[string]float64{
				"USD": 1,
			},
		},
		Sweep: SweepConfig{
			Interval:     duration{5 * time.Minute},
			ClaimTimeout: duration{15 * time.Minute},
			Concurrency:  4,
			LockTTL:      duration{2 * time.Minute},
		},
		Mode:     "engine",
		LogLevel: "info",
	}
}

// Validate checks that the configuration is internally consistent for the
// selected mode. It returns an error describing the first problem found.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Mode) {
	case "engine", "sweep", "migrate":
	default:
		return fmt.Errorf("config: unsupported mode %q", c.Mode)
	}

	if c.Postgres.DSN == "" && (c.Postgres.Host == "" || c.Postgres.Database == "") {
		return fmt.Errorf("config: postgres requires dsn or host+database")
	}

	if c.Mode == "migrate" {
		return nil
	}

	if c.Ledger.RPCEndpoint == "" {
		return fmt.Errorf("config: ledger.rpc_endpoint is required")
	}
	if c.Ledger.TreasuryAccount == "" {
		return fmt.Errorf("config: ledger.treasury_account is required")
	}
	if c.Ledger.TreasuryKey == "" {
		return fmt.Errorf("config: ledger.treasury_key is required")
	}
	if c.Ledger.SettleToken == "" {
		return fmt.Errorf("config: ledger.settle_token is required")
	}

	// Key custody is wired in engine mode only; sweep never touches user keys.
	if strings.ToLower(c.Mode) == "engine" {
		if c.Vault.KMSKeyID == "" {
			return fmt.Errorf("config: vault.kms_key_id is required")
		}
		if c.Vault.Bucket == "" {
			return fmt.Errorf("config: vault.bucket is required")
		}
		if c.Vault.Region == "" {
			return fmt.Errorf("config: vault.region is required")
		}
	}

	if c.Swap.MinAmount <= 0 || c.Swap.MaxAmount <= c.Swap.MinAmount {
		return fmt.Errorf("config: swap amount bounds invalid (min=%v max=%v)",
			c.Swap.MinAmount, c.Swap.MaxAmount)
	}
	if c.Swap.IntentWindow.Duration <= 0 {
		return fmt.Errorf("config: swap.intent_window must be positive")
	}
	if len(c.Swap.ConversionRates) == 0 {
		return fmt.Errorf("config: swap.conversion_rates must not be empty")
	}
	for cur, rate := range c.Swap.ConversionRates {
		if rate <= 0 {
			return fmt.Errorf("config: swap.conversion_rates[%s] must be positive", cur)
		}
	}

	if c.Sweep.Interval.Duration <= 0 {
		return fmt.Errorf("config: sweep.interval must be positive")
	}
	if c.Sweep.ClaimTimeout.Duration <= 0 {
		return fmt.Errorf("config: sweep.claim_timeout must be positive")
	}
	if c.Sweep.Concurrency <= 0 {
		return fmt.Errorf("config: sweep.concurrency must be positive")
	}

	return nil
}
