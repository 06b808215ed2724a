package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PositionStore is the durable table of investment positions. All writes are
// single-row and atomic; the compare-and-set methods return
// ErrInvalidTransition when the row is not in the expected prior state, which
// is how concurrent workers lose races without corrupting state.
type PositionStore interface {
	// Create inserts a position in active status. The draft must carry a
	// non-empty DepositTxRef: positions exist only after their on-chain cause
	// is confirmed.
	Create(ctx context.Context, p InvestmentPosition) error

	GetByID(ctx context.Context, id string) (InvestmentPosition, error)
	ListByInvestor(ctx context.Context, investorID string) ([]InvestmentPosition, error)
	ListAll(ctx context.Context) ([]InvestmentPosition, error)

	// ListSettleable returns positions due for settlement: active with
	// maturity at or before now, plus transfer_pending claims older than
	// claimTimeout (crashed workers whose claims are reclaimable).
	ListSettleable(ctx context.Context, now time.Time, claimTimeout time.Duration) ([]InvestmentPosition, error)

	// Claim atomically moves an active position to transfer_pending,
	// recording reservationRef as the settlement tx ref before any transfer
	// is submitted. Fails with ErrInvalidTransition if the position is not
	// active.
	Claim(ctx context.Context, id, reservationRef string, now time.Time) error

	// ReleaseClaim returns a transfer_pending position to active and clears
	// the reservation. Used after a definitive ledger rejection.
	ReleaseClaim(ctx context.Context, id string) error

	// MarkCompleted transitions active or transfer_pending to completed with
	// the realized yield and final settlement tx ref. Idempotent: if the
	// position is already terminal the stored state is returned unchanged.
	MarkCompleted(ctx context.Context, id string, realizedYield decimal.Decimal, settlementTxRef string) (InvestmentPosition, error)
}

// IntentStore persists swap intents and owns their phase transitions.
type IntentStore interface {
	Create(ctx context.Context, i SwapIntent) error
	GetByID(ctx context.Context, id string) (SwapIntent, error)
	GetByExternalRef(ctx context.Context, ref string) (SwapIntent, error)

	// Settle atomically moves prepared to settled, guarded by the expiry
	// deadline. ErrInvalidTransition when not prepared; the caller checks
	// expiry first to surface ErrIntentExpired.
	Settle(ctx context.Context, id, proofRef string, now time.Time) error

	// MarkExpired transitions a prepared intent to expired.
	MarkExpired(ctx context.Context, id string) error

	// ExpireStale marks every prepared intent past its deadline expired and
	// returns how many rows changed.
	ExpireStale(ctx context.Context, now time.Time) (int64, error)

	// Cancel deletes a prepared intent. Settled intents cannot be cancelled.
	Cancel(ctx context.Context, id string) error

	// ClaimConversion moves a settled deposit intent from idle to processing.
	// ErrAlreadyProcessing when another conversion holds the claim or the
	// intent was already consumed.
	ClaimConversion(ctx context.Context, id string) error
	ReleaseConversion(ctx context.Context, id string) error
	MarkConsumed(ctx context.Context, id, positionID string) error

	// SetPayoutTxRef records the outbound transfer for a withdraw intent.
	SetPayoutTxRef(ctx context.Context, id, txRef string) error
}

// AssetStore persists tokenized pool definitions.
type AssetStore interface {
	Create(ctx context.Context, a AssetPool) error
	GetByID(ctx context.Context, id string) (AssetPool, error)
	ListActive(ctx context.Context) ([]AssetPool, error)
}

// WalletStore persists the public half of custodial wallets.
type WalletStore interface {
	Put(ctx context.Context, w CustodialWallet) error
	GetByUserID(ctx context.Context, userID string) (CustodialWallet, error)
}

// AuditEntry is a single append-only audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of money events.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, limit int) ([]AuditEntry, error)
}

// LockManager provides per-identifier mutual exclusion for non-idempotent
// side effects. Acquire returns ErrLockHeld when another party holds the key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
