package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetPool is a tokenized real-world-asset pool that investors buy
// fractional shares of. ShareRatio is the fixed conversion from principal
// units to share-token units; settlement stays deterministic because the
// ratio is recorded on the asset rather than derived from a curve.
type AssetPool struct {
	ID            string
	Ref           string // on-ledger token reference
	Name          string
	AssetType     string
	ShareRatio    decimal.Decimal // share tokens issued per principal unit
	YieldRate     decimal.Decimal // per-term fraction
	TermDays      int
	EscrowAccount string // treasury/escrow account holding pooled funds
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ShareAmount converts a principal amount into the share tokens it buys.
func (a AssetPool) ShareAmount(principal decimal.Decimal) decimal.Decimal {
	return principal.Mul(a.ShareRatio)
}

// ExpectedYield is the full-term yield on the given principal.
func (a AssetPool) ExpectedYield(principal decimal.Decimal) decimal.Decimal {
	return principal.Mul(a.YieldRate)
}

// MaturityFrom returns the maturity instant for a position created at t.
func (a AssetPool) MaturityFrom(t time.Time) time.Time {
	return t.AddDate(0, 0, a.TermDays)
}
