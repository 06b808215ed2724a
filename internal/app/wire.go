package app

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/meridianfi/rwa-engine/internal/cache/redis"
	"github.com/meridianfi/rwa-engine/internal/config"
	"github.com/meridianfi/rwa-engine/internal/domain"
	"github.com/meridianfi/rwa-engine/internal/ledger"
	"github.com/meridianfi/rwa-engine/internal/notify"
	"github.com/meridianfi/rwa-engine/internal/scheduler"
	"github.com/meridianfi/rwa-engine/internal/service"
	"github.com/meridianfi/rwa-engine/internal/store/postgres"
	"github.com/meridianfi/rwa-engine/internal/vault"
)

// Dependencies bundles every dependency the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	PositionStore domain.PositionStore
	IntentStore   domain.IntentStore
	AssetStore    domain.AssetStore
	WalletStore   domain.WalletStore
	AuditStore    domain.AuditStore

	// Cache
	LockManager domain.LockManager

	// Custody and ledger
	Vault  *vault.Vault
	Ledger domain.LedgerClient

	// Services
	WalletService    *service.WalletService
	SwapService      *service.SwapService
	InvestService    *service.InvestService
	PortfolioService *service.PortfolioService

	// Scheduler
	Sweeper *scheduler.SettlementSweeper

	// Notifications
	Notifier *notify.Notifier
}

// needsRedis returns true for modes that take locks.
func needsRedis(mode string) bool {
	switch mode {
	case "engine", "sweep":
		return true
	default:
		return false
	}
}

// needsVault returns true for modes that custody user keys.
func needsVault(mode string) bool {
	return mode == "engine"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that must
// be called on shutdown.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations || cfg.Mode == "migrate" {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.PositionStore = postgres.NewPositionStore(pool)
	deps.IntentStore = postgres.NewIntentStore(pool)
	deps.AssetStore = postgres.NewAssetStore(pool)
	deps.WalletStore = postgres.NewWalletStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	if cfg.Mode == "migrate" {
		return deps, cleanup, nil
	}

	// --- Redis ---
	if needsRedis(cfg.Mode) {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.LockManager = redis.NewLockManager(redisClient)
	}

	// --- Vault (KMS envelope encryption + S3 ciphertext store) ---
	if needsVault(cfg.Mode) {
		wrapper, err := vault.NewKMSWrapper(ctx, vault.KMSConfig{
			KeyID:     cfg.Vault.KMSKeyID,
			Region:    cfg.Vault.Region,
			Endpoint:  cfg.Vault.Endpoint,
			AccessKey: cfg.Vault.AccessKey,
			SecretKey: cfg.Vault.SecretKey,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: kms: %w", err)
		}
		secrets, err := vault.NewS3SecretStore(ctx, vault.S3Config{
			Endpoint:       cfg.Vault.Endpoint,
			Region:         cfg.Vault.Region,
			Bucket:         cfg.Vault.Bucket,
			AccessKey:      cfg.Vault.AccessKey,
			SecretKey:      cfg.Vault.SecretKey,
			ForcePathStyle: cfg.Vault.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3 secret store: %w", err)
		}
		deps.Vault = vault.New(wrapper, secrets, vault.Config{
			KeyPrefix:    cfg.Vault.KeyPrefix,
			MaxRetries:   cfg.Vault.MaxRetries,
			RetryBackoff: cfg.Vault.RetryBackoff.Duration,
		}, logger)
	}

	// --- Ledger client ---
	treasuryKey, err := hex.DecodeString(cfg.Ledger.TreasuryKey)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: decode treasury key: %w", err)
	}
	deps.Ledger = ledger.New(cfg.Ledger.RPCEndpoint, treasuryKey, logger,
		ledger.WithTimeout(cfg.Ledger.SubmitTimeout.Duration),
		ledger.WithFinalityTimeout(cfg.Ledger.FinalityTimeout.Duration),
		ledger.WithMaxRetries(cfg.Ledger.MaxRetries),
		ledger.WithRetryDelay(cfg.Ledger.RetryDelay.Duration),
		ledger.WithMaxDelay(cfg.Ledger.MaxRetryDelay.Duration),
		ledger.WithWSEndpoint(cfg.Ledger.WSEndpoint),
	)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Services ---
	rates := make(map[string]decimal.Decimal, len(cfg.Swap.ConversionRates))
	for currency, rate := range cfg.Swap.ConversionRates {
		rates[currency] = decimal.NewFromFloat(rate)
	}
	swapParams := service.SwapParams{
		MinAmount:       decimal.NewFromFloat(cfg.Swap.MinAmount),
		MaxAmount:       decimal.NewFromFloat(cfg.Swap.MaxAmount),
		IntentWindow:    cfg.Swap.IntentWindow.Duration,
		ConversionRates: rates,
		DepositAccount:  cfg.Swap.DepositAccount,
		SettleToken:     cfg.Ledger.SettleToken,
		TreasuryAccount: cfg.Ledger.TreasuryAccount,
		LockTTL:         cfg.Sweep.LockTTL.Duration,
	}
	deps.SwapService = service.NewSwapService(
		deps.IntentStore, deps.LockManager, deps.Ledger, deps.AuditStore, swapParams, logger,
	)
	deps.InvestService = service.NewInvestService(
		deps.IntentStore, deps.PositionStore, deps.AssetStore, deps.WalletStore,
		deps.Ledger, deps.LockManager, deps.AuditStore,
		service.InvestParams{
			TreasuryAccount: cfg.Ledger.TreasuryAccount,
			SettleToken:     cfg.Ledger.SettleToken,
			LockTTL:         cfg.Sweep.LockTTL.Duration,
		}, logger,
	)
	deps.PortfolioService = service.NewPortfolioService(deps.PositionStore, logger)
	if deps.Vault != nil {
		deps.WalletService = service.NewWalletService(
			deps.WalletStore, deps.Vault, deps.Ledger, deps.AuditStore, logger,
		)
	}

	// --- Scheduler ---
	deps.Sweeper = scheduler.NewSettlementSweeper(
		deps.PositionStore, deps.Ledger, deps.LockManager, deps.AuditStore,
		deps.SwapService, deps.Notifier,
		scheduler.Params{
			Interval:        cfg.Sweep.Interval.Duration,
			ClaimTimeout:    cfg.Sweep.ClaimTimeout.Duration,
			Concurrency:     cfg.Sweep.Concurrency,
			LockTTL:         cfg.Sweep.LockTTL.Duration,
			SettleToken:     cfg.Ledger.SettleToken,
			TreasuryAccount: cfg.Ledger.TreasuryAccount,
		}, logger,
	)

	return deps, cleanup, nil
}
