package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridianfi/rwa-engine/internal/domain"
	"github.com/meridianfi/rwa-engine/internal/ledger"
)

// KeyCustodian stores user signing keys and names the vault record each key
// lives under, so the service layer never depends on a concrete vault.
type KeyCustodian interface {
	domain.KeyVault
	KeyName(userID string) string
}

// WalletService provisions custodial wallets: one signing key per user, held
// in the vault, with a matching account on the ledger.
type WalletService struct {
	wallets domain.WalletStore
	vault   KeyCustodian
	ledger  domain.LedgerClient
	audit   domain.AuditStore
	logger  *slog.Logger
}

// NewWalletService creates a WalletService with all required dependencies.
func NewWalletService(
	wallets domain.WalletStore,
	vault KeyCustodian,
	ledgerClient domain.LedgerClient,
	audit domain.AuditStore,
	logger *slog.Logger,
) *WalletService {
	return &WalletService{
		wallets: wallets,
		vault:   vault,
		ledger:  ledgerClient,
		audit:   audit,
		logger:  logger.With(slog.String("component", "wallet_service")),
	}
}

// CreateCustodialWallet generates a signing keypair, custodies the private
// key, onboards a ledger account for the public key, and persists the wallet
// record. Idempotent per user: an existing wallet is returned unchanged.
//
// The key is vaulted before the ledger account exists. A crash between the
// two leaves an orphaned vault record that the next call overwrites; the
// reverse order would leave a ledger account whose key was lost.
func (s *WalletService) CreateCustodialWallet(ctx context.Context, userID string) (domain.CustodialWallet, error) {
	if userID == "" {
		return domain.CustodialWallet{}, &domain.ValidationError{Field: "userID", Reason: "must not be empty"}
	}

	existing, err := s.wallets.GetByUserID(ctx, userID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.CustodialWallet{}, fmt.Errorf("wallet_service: lookup wallet %s: %w", userID, err)
	}

	kp, err := ledger.GenerateKeypair()
	if err != nil {
		return domain.CustodialWallet{}, fmt.Errorf("wallet_service: %w", err)
	}

	if err := s.vault.StoreKey(ctx, userID, kp.PrivateKey); err != nil {
		return domain.CustodialWallet{}, fmt.Errorf("wallet_service: store key for %s: %w", userID, err)
	}

	alias, err := s.ledger.CreateAccount(ctx, kp.PublicKey)
	if err != nil {
		return domain.CustodialWallet{}, fmt.Errorf("wallet_service: create account for %s: %w", userID, err)
	}

	wallet := domain.CustodialWallet{
		UserID:    userID,
		Alias:     alias,
		PublicKey: kp.PublicKey,
		KeyName:   s.vault.KeyName(userID),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.wallets.Put(ctx, wallet); err != nil {
		return domain.CustodialWallet{}, fmt.Errorf("wallet_service: persist wallet %s: %w", userID, err)
	}

	s.logger.InfoContext(ctx, "custodial wallet created",
		slog.String("user_id", userID),
		slog.String("alias", alias),
	)
	if s.audit != nil {
		if err := s.audit.Log(ctx, "wallet.created", map[string]any{
			"user_id": userID,
			"alias":   alias,
		}); err != nil {
			s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}

	return wallet, nil
}

// SigningKey fetches the user's private key for immediate in-memory use by a
// transfer submission. Callers must not persist the returned bytes.
func (s *WalletService) SigningKey(ctx context.Context, userID string) ([]byte, error) {
	key, err := s.vault.GetKey(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("wallet_service: signing key for %s: %w", userID, err)
	}
	return key, nil
}
