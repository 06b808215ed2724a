package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus tracks an investment position through its lifecycle.
// transfer_pending is a settlement claim: the position has been reserved by a
// sweep worker and a payout transfer may be in flight. Terminal states are
// completed and cancelled; transitions only move forward.
type PositionStatus string

const (
	PositionStatusActive          PositionStatus = "active"
	PositionStatusTransferPending PositionStatus = "transfer_pending"
	PositionStatusCompleted       PositionStatus = "completed"
	PositionStatusCancelled       PositionStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s PositionStatus) Terminal() bool {
	return s == PositionStatusCompleted || s == PositionStatusCancelled
}

// InvestmentPosition is an investor's stake in a tokenized asset pool. It is
// the system of record for what the investor owns: created only after the
// deposit transfer reached finality (DepositTxRef is therefore never empty on
// a stored position).
type InvestmentPosition struct {
	ID                   string
	InvestorID           string
	InvestorChainAddress string
	AssetID              string
	AssetRef             string
	AssetType            string
	PrincipalAmount      decimal.Decimal
	ShareTokenAmount     decimal.Decimal
	YieldRate            decimal.Decimal // per-term fraction, e.g. 0.1
	ExpectedYield        decimal.Decimal // precomputed at creation
	RealizedYield        *decimal.Decimal
	Status               PositionStatus
	DepositTxRef         string
	SettlementTxRef      *string
	ClaimedAt            *time.Time
	MaturedAt            *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Pending reports whether the position counts toward the investor's pending
// bucket. A claimed (transfer_pending) position is still pending from the
// investor's point of view.
func (p InvestmentPosition) Pending() bool {
	return p.Status == PositionStatusActive || p.Status == PositionStatusTransferPending
}

// Matured reports whether the position's term has elapsed as of now.
func (p InvestmentPosition) Matured(now time.Time) bool {
	return p.MaturedAt != nil && !p.MaturedAt.After(now)
}

// AccruedYield returns the pro-rated yield accrued as of now:
//
//	principal * yieldRate * elapsed/term
//
// clamped to [0, ExpectedYield]. Term is the span from CreatedAt to
// MaturedAt; a position without a maturity date accrues nothing.
func (p InvestmentPosition) AccruedYield(now time.Time) decimal.Decimal {
	if p.MaturedAt == nil {
		return decimal.Zero
	}
	term := p.MaturedAt.Sub(p.CreatedAt)
	if term <= 0 {
		return p.ExpectedYield
	}
	elapsed := now.Sub(p.CreatedAt)
	if elapsed <= 0 {
		return decimal.Zero
	}
	if elapsed >= term {
		return p.ExpectedYield
	}

	// Nanosecond precision: a sub-second term must not truncate to a zero
	// divisor.
	frac := decimal.NewFromInt(int64(elapsed)).
		Div(decimal.NewFromInt(int64(term)))
	accrued := p.PrincipalAmount.Mul(p.YieldRate).Mul(frac)

	if accrued.IsNegative() {
		return decimal.Zero
	}
	if accrued.GreaterThan(p.ExpectedYield) {
		return p.ExpectedYield
	}
	return accrued
}
