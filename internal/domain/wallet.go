package domain

import (
	"context"
	"time"
)

// CustodialWallet is the public half of a user's custodial signing key. The
// private key itself lives wrapped in the vault under KeyName; only the
// alias and public key are safe to persist here.
type CustodialWallet struct {
	UserID    string
	Alias     string // ledger account reference
	PublicKey string // hex-encoded compressed public key
	KeyName   string
	CreatedAt time.Time
}

// KeyVault custodies user signing keys under envelope encryption. StoreKey
// overwrites an existing record (rotation is last-writer-wins); GetKey
// returns the raw key bytes for the caller's immediate, in-memory use only
// and fails with ErrSecretMissing when the user has no record.
type KeyVault interface {
	StoreKey(ctx context.Context, userID string, privateKey []byte) error
	GetKey(ctx context.Context, userID string) ([]byte, error)
}
