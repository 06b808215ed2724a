package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testTOML = `
mode = "engine"
log_level = "debug"

[postgres]
host = "db.internal"
database = "rwa"
user = "engine"
password = "pg-pass"

[redis]
addr = "cache.internal:6379"

[vault]
kms_key_id = "alias/custody"
region = "eu-west-1"
bucket = "custody-keys"

[ledger]
rpc_endpoint = "https://ledger.internal/rpc"
treasury_account = "acct-treasury"
treasury_key = "deadbeef"
settle_token = "USDM"

[swap]
min_amount = 10.0
max_amount = 50000.0
intent_window = "20m"
deposit_account = "acct-deposits"

[swap.conversion_rates]
USD = 1.0
EUR = 1.1

[sweep]
interval = "2m"
claim_timeout = "10m"
concurrency = 8
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, testTOML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Mode != "engine" {
		t.Errorf("expected mode engine, got %s", cfg.Mode)
	}
	if cfg.Swap.IntentWindow.Duration != 20*time.Minute {
		t.Errorf("expected 20m intent window, got %s", cfg.Swap.IntentWindow.Duration)
	}
	if cfg.Swap.ConversionRates["EUR"] != 1.1 {
		t.Errorf("expected EUR rate 1.1, got %v", cfg.Swap.ConversionRates["EUR"])
	}
	if cfg.Sweep.Concurrency != 8 {
		t.Errorf("expected concurrency 8, got %d", cfg.Sweep.Concurrency)
	}
	// Defaults survive where the file is silent.
	if cfg.Vault.KeyPrefix != "custodial-key-" {
		t.Errorf("expected default key prefix, got %s", cfg.Vault.KeyPrefix)
	}
	if cfg.Ledger.FinalityTimeout.Duration != 90*time.Second {
		t.Errorf("expected default finality timeout, got %s", cfg.Ledger.FinalityTimeout.Duration)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RWA_POSTGRES_PASSWORD", "env-secret")
	t.Setenv("RWA_LEDGER_TREASURY_KEY", "cafebabe")
	t.Setenv("RWA_SWEEP_INTERVAL", "30s")
	t.Setenv("RWA_MODE", "sweep")

	cfg, err := Load(writeConfig(t, testTOML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Postgres.Password != "env-secret" {
		t.Errorf("expected env password override, got %s", cfg.Postgres.Password)
	}
	if cfg.Ledger.TreasuryKey != "cafebabe" {
		t.Errorf("expected env treasury key override, got %s", cfg.Ledger.TreasuryKey)
	}
	if cfg.Sweep.Interval.Duration != 30*time.Second {
		t.Errorf("expected 30s sweep interval, got %s", cfg.Sweep.Interval.Duration)
	}
	if cfg.Mode != "sweep" {
		t.Errorf("expected mode sweep, got %s", cfg.Mode)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(writeConfig(t, testTOML))
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		return cfg
	}

	cases := []struct {
		name string
		mod  func(*Config)
	}{
		{"bad mode", func(c *Config) { c.Mode = "turbo" }},
		{"no database", func(c *Config) { c.Postgres.Host = ""; c.Postgres.DSN = "" }},
		{"no rpc endpoint", func(c *Config) { c.Ledger.RPCEndpoint = "" }},
		{"no treasury key", func(c *Config) { c.Ledger.TreasuryKey = "" }},
		{"no kms key", func(c *Config) { c.Vault.KMSKeyID = "" }},
		{"inverted bounds", func(c *Config) { c.Swap.MinAmount = 100; c.Swap.MaxAmount = 10 }},
		{"zero rate", func(c *Config) { c.Swap.ConversionRates["USD"] = 0 }},
		{"zero interval", func(c *Config) { c.Sweep.Interval.Duration = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mod(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	t.Run("migrate needs only postgres", func(t *testing.T) {
		cfg := base()
		cfg.Mode = "migrate"
		cfg.Ledger = LedgerConfig{}
		cfg.Vault = VaultConfig{}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate: %v", err)
		}
	})

	t.Run("sweep does not need vault", func(t *testing.T) {
		cfg := base()
		cfg.Mode = "sweep"
		cfg.Vault = VaultConfig{}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate: %v", err)
		}
	})
}
