package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SwapDirection distinguishes money entering the platform from money leaving
// it.
type SwapDirection string

const (
	SwapDirectionDeposit  SwapDirection = "deposit"
	SwapDirectionWithdraw SwapDirection = "withdraw"
)

// IntentPhase is the two-phase protocol state. A prepared intent either
// settles within its validity window or expires; an expired intent can never
// settle.
type IntentPhase string

const (
	IntentPhasePrepared IntentPhase = "prepared"
	IntentPhaseSettled  IntentPhase = "settled"
	IntentPhaseExpired  IntentPhase = "expired"
)

// ConversionState is the durable resume point between a settled deposit and
// the position it funds. idle means settled but not yet converted, processing
// means a conversion currently holds the claim, consumed means a position
// exists for this intent.
type ConversionState string

const (
	ConversionIdle       ConversionState = "idle"
	ConversionProcessing ConversionState = "processing"
	ConversionConsumed   ConversionState = "consumed"
)

// SwapIntent is a staged, time-boxed record of an external currency
// conversion awaiting confirmation. ExternalRef is the caller's idempotency
// key and is unique across intents.
type SwapIntent struct {
	ID              string
	ExternalRef     string
	Direction       SwapDirection
	InvestorID      string
	SourceCurrency  string
	TargetCurrency  string
	RequestedAmount decimal.Decimal
	QuotedAmount    decimal.Decimal
	Rate            decimal.Decimal
	Phase           IntentPhase
	ConversionState ConversionState
	ProofRef        *string
	PayoutTxRef     *string
	PositionID      *string // set once a position consumes this intent
	Destination     string  // withdraw: off-platform destination
	DepositRef      string  // deposit: treasury payment reference handed to the client
	ExpiresAt       time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Expired reports whether the intent's validity window has passed. Only a
// prepared intent can expire; settlement freezes the record.
func (i SwapIntent) Expired(now time.Time) bool {
	return i.Phase == IntentPhasePrepared && now.After(i.ExpiresAt)
}

// SettlementProof carries the external confirmation presented at settle time.
// Amount must match the quoted amount exactly; the external reference is kept
// for audit.
type SettlementProof struct {
	ExternalTxRef string
	Amount        decimal.Decimal
}
