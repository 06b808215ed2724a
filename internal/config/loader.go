package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies RWA_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known RWA_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "RWA_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "RWA_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "RWA_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "RWA_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "RWA_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "RWA_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "RWA_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "RWA_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "RWA_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "RWA_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "RWA_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "RWA_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "RWA_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "RWA_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "RWA_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "RWA_REDIS_TLS_ENABLED")

	// ── Vault ──
	setStr(&cfg.Vault.KMSKeyID, "RWA_VAULT_KMS_KEY_ID")
	setStr(&cfg.Vault.Region, "RWA_VAULT_REGION")
	setStr(&cfg.Vault.KeyPrefix, "RWA_VAULT_KEY_PREFIX")
	setStr(&cfg.Vault.Bucket, "RWA_VAULT_BUCKET")
	setStr(&cfg.Vault.Endpoint, "RWA_VAULT_ENDPOINT")
	setStr(&cfg.Vault.AccessKey, "RWA_VAULT_ACCESS_KEY")
	setStr(&cfg.Vault.SecretKey, "RWA_VAULT_SECRET_KEY")
	setBool(&cfg.Vault.ForcePathStyle, "RWA_VAULT_FORCE_PATH_STYLE")

	// ── Ledger ──
	setStr(&cfg.Ledger.RPCEndpoint, "RWA_LEDGER_RPC_ENDPOINT")
	setStr(&cfg.Ledger.WSEndpoint, "RWA_LEDGER_WS_ENDPOINT")
	setStr(&cfg.Ledger.TreasuryAccount, "RWA_LEDGER_TREASURY_ACCOUNT")
	setStr(&cfg.Ledger.TreasuryKey, "RWA_LEDGER_TREASURY_KEY")
	setStr(&cfg.Ledger.SettleToken, "RWA_LEDGER_SETTLE_TOKEN")
	setDuration(&cfg.Ledger.SubmitTimeout, "RWA_LEDGER_SUBMIT_TIMEOUT")
	setDuration(&cfg.Ledger.FinalityTimeout, "RWA_LEDGER_FINALITY_TIMEOUT")
	setInt(&cfg.Ledger.MaxRetries, "RWA_LEDGER_MAX_RETRIES")

	// ── Swap ──
	setFloat64(&cfg.Swap.MinAmount, "RWA_SWAP_MIN_AMOUNT")
	setFloat64(&cfg.Swap.MaxAmount, "RWA_SWAP_MAX_AMOUNT")
	setDuration(&cfg.Swap.IntentWindow, "RWA_SWAP_INTENT_WINDOW")
	setStr(&cfg.Swap.DepositAccount, "RWA_SWAP_DEPOSIT_ACCOUNT")

	// ── Sweep ──
	setDuration(&cfg.Sweep.Interval, "RWA_SWEEP_INTERVAL")
	setDuration(&cfg.Sweep.ClaimTimeout, "RWA_SWEEP_CLAIM_TIMEOUT")
	setInt(&cfg.Sweep.Concurrency, "RWA_SWEEP_CONCURRENCY")
	setDuration(&cfg.Sweep.LockTTL, "RWA_SWEEP_LOCK_TTL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "RWA_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "RWA_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "RWA_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "RWA_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "RWA_MODE")
	setStr(&cfg.LogLevel, "RWA_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		*dst = cleaned
	}
}
