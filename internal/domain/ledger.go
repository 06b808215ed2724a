package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TransferRequest is a fungible token movement on the distributed ledger.
// ClientRef is a caller-generated idempotency reference recorded durably
// before submission; reconciliation after an ambiguous outcome queries the
// ledger by this ref. A nil SigningKey means the custodial treasury key
// signs.
type TransferRequest struct {
	TokenRef   string
	From       string
	To         string
	Amount     decimal.Decimal
	ClientRef  string
	SigningKey []byte
	Memo       string
}

// IssueRequest credits share tokens to an investor alongside the principal
// transfer into escrow. Both legs are submitted as one atomic ledger
// transaction.
type IssueRequest struct {
	ShareTokenRef string
	ToAddress     string
	Amount        decimal.Decimal
}

// TokenSpec describes a new pool share token to mint at tokenization time.
type TokenSpec struct {
	Name          string
	Symbol        string
	Decimals      int
	InitialSupply decimal.Decimal
	Treasury      string
}

// Receipt is the ledger's finality acknowledgement for a submitted
// transaction.
type Receipt struct {
	TxRef       string
	ConsensusAt time.Time
}

// LedgerClient is the narrow facade over the distributed-ledger network.
// Calls block until finality or a definitive failure; a returned
// ErrLedgerTimeout means the outcome is unknown and must be reconciled via
// GetTransaction before any compensating action.
type LedgerClient interface {
	// TransferFungible moves value and optionally issues share tokens in the
	// same transaction (issue may be nil for a plain transfer).
	TransferFungible(ctx context.Context, req TransferRequest, issue *IssueRequest) (Receipt, error)

	// MintAndIssue creates a new pool share token. Used at tokenization time
	// only, never in steady-state flow.
	MintAndIssue(ctx context.Context, spec TokenSpec) (Receipt, error)

	// GetTransaction looks a transaction up by its client reference. Returns
	// ErrNotFound when the ledger has no record of the ref.
	GetTransaction(ctx context.Context, clientRef string) (Receipt, error)

	// CreateAccount onboards a new ledger account for the given public key
	// and returns its account reference.
	CreateAccount(ctx context.Context, publicKey string) (string, error)
}
