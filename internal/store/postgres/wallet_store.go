package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridianfi/rwa-engine/internal/domain"
)

// WalletStore implements domain.WalletStore using PostgreSQL. Only public key
// material lives here; the wrapped private key is in the vault.
type WalletStore struct {
	pool *pgxpool.Pool
}

// NewWalletStore creates a new WalletStore backed by the given connection pool.
func NewWalletStore(pool *pgxpool.Pool) *WalletStore {
	return &WalletStore{pool: pool}
}

// Put inserts or replaces the wallet record for a user. Upsert so key
// rotation is last-writer-wins, matching the vault.
func (s *WalletStore) Put(ctx context.Context, w domain.CustodialWallet) error {
	const query = `
		INSERT INTO custodial_wallets (user_id, alias, public_key, key_name, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			alias      = EXCLUDED.alias,
			public_key = EXCLUDED.public_key,
			key_name   = EXCLUDED.key_name`

	_, err := s.pool.Exec(ctx, query, w.UserID, w.Alias, w.PublicKey, w.KeyName, w.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: put wallet %s: %w", w.UserID, err)
	}
	return nil
}

// GetByUserID retrieves the wallet record for a user.
func (s *WalletStore) GetByUserID(ctx context.Context, userID string) (domain.CustodialWallet, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT user_id, alias, public_key, key_name, created_at
		 FROM custodial_wallets WHERE user_id = $1`, userID)

	var w domain.CustodialWallet
	err := row.Scan(&w.UserID, &w.Alias, &w.PublicKey, &w.KeyName, &w.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.CustodialWallet{}, domain.ErrNotFound
		}
		return domain.CustodialWallet{}, fmt.Errorf("postgres: get wallet %s: %w", userID, err)
	}
	return w, nil
}

// Compile-time interface check.
var _ domain.WalletStore = (*WalletStore)(nil)
