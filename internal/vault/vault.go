// Package vault custodies user signing keys under envelope encryption. The
// raw key is wrapped by a remote hardware-backed key-encryption key and only
// the resulting ciphertext is stored; the wrapping key never leaves the
// hardware module, so a leak in the application tier exposes nothing usable.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridianfi/rwa-engine/internal/domain"
)

// Wrapper performs the remote wrap/unwrap operations. Implementations must
// never log or persist the plaintext they handle.
type Wrapper interface {
	WrapKey(ctx context.Context, keyName string, raw []byte) ([]byte, error)
	UnwrapKey(ctx context.Context, keyName string, ciphertext []byte) ([]byte, error)
}

// SecretStore is the durable store for wrapped key ciphertext, addressed by
// name. Get returns domain.ErrSecretMissing when no object exists.
type SecretStore interface {
	Put(ctx context.Context, name string, blob []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
}

// Vault implements domain.KeyVault over a Wrapper and a SecretStore.
// Transient failures of either collaborator are retried with backoff before
// being surfaced as ErrVaultUnavailable.
type Vault struct {
	wrapper   Wrapper
	secrets   SecretStore
	keyPrefix string
	retries   int
	backoff   time.Duration
	logger    *slog.Logger
}

// Config carries the vault parameters.
type Config struct {
	KeyPrefix    string
	MaxRetries   int
	RetryBackoff time.Duration
}

// New creates a Vault.
func New(wrapper Wrapper, secrets SecretStore, cfg Config, logger *slog.Logger) *Vault {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	return &Vault{
		wrapper:   wrapper,
		secrets:   secrets,
		keyPrefix: cfg.KeyPrefix,
		retries:   cfg.MaxRetries,
		backoff:   cfg.RetryBackoff,
		logger:    logger.With(slog.String("component", "vault")),
	}
}

// KeyName returns the deterministic secret name for a user.
func (v *Vault) KeyName(userID string) string {
	return v.keyPrefix + userID
}

// StoreKey wraps the raw private key and stores the ciphertext under the
// user's deterministic key name. A repeated store overwrites: rotation is
// last-writer-wins.
func (v *Vault) StoreKey(ctx context.Context, userID string, privateKey []byte) error {
	name := v.KeyName(userID)

	ciphertext, err := v.withRetry(ctx, func() ([]byte, error) {
		return v.wrapper.WrapKey(ctx, name, privateKey)
	})
	if err != nil {
		return fmt.Errorf("vault: wrap key for user %s: %w", userID, err)
	}

	if _, err := v.withRetry(ctx, func() ([]byte, error) {
		return nil, v.secrets.Put(ctx, name, ciphertext)
	}); err != nil {
		return fmt.Errorf("vault: store wrapped key for user %s: %w", userID, err)
	}

	v.logger.InfoContext(ctx, "custodial key stored",
		slog.String("user_id", userID),
	)
	return nil
}

// GetKey fetches and unwraps the user's private key. The returned bytes are
// held only in memory for the caller's immediate use.
func (v *Vault) GetKey(ctx context.Context, userID string) ([]byte, error) {
	name := v.KeyName(userID)

	ciphertext, err := v.withRetry(ctx, func() ([]byte, error) {
		return v.secrets.Get(ctx, name)
	})
	if err != nil {
		if errors.Is(err, domain.ErrSecretMissing) {
			return nil, fmt.Errorf("vault: user %s: %w", userID, domain.ErrSecretMissing)
		}
		return nil, fmt.Errorf("vault: fetch wrapped key for user %s: %w", userID, err)
	}

	raw, err := v.withRetry(ctx, func() ([]byte, error) {
		return v.wrapper.UnwrapKey(ctx, name, ciphertext)
	})
	if err != nil {
		return nil, fmt.Errorf("vault: unwrap key for user %s: %w", userID, err)
	}
	return raw, nil
}

// withRetry runs fn up to the configured attempt count with a doubling
// backoff. Non-transient failures (secret missing, context cancellation) are
// returned immediately.
func (v *Vault) withRetry(ctx context.Context, fn func() ([]byte, error)) ([]byte, error) {
	var lastErr error
	delay := v.backoff

	for attempt := 0; attempt < v.retries; attempt++ {
		out, err := fn()
		if err == nil {
			return out, nil
		}
		if errors.Is(err, domain.ErrSecretMissing) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, fmt.Errorf("%w: %v", domain.ErrVaultUnavailable, lastErr)
}

// Compile-time interface check.
var _ domain.KeyVault = (*Vault)(nil)
