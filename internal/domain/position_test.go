package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func testPosition(created time.Time, termDays int) InvestmentPosition {
	matured := created.AddDate(0, 0, termDays)
	return InvestmentPosition{
		ID:              "pos-1",
		InvestorID:      "inv-1",
		PrincipalAmount: decimal.NewFromInt(1000),
		YieldRate:       decimal.RequireFromString("0.1"),
		ExpectedYield:   decimal.NewFromInt(100),
		Status:          PositionStatusActive,
		DepositTxRef:    "tx-dep",
		MaturedAt:       &matured,
		CreatedAt:       created,
	}
}

func TestAccruedYield_ZeroAtCreation(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := testPosition(created, 90)

	if got := p.AccruedYield(created); !got.IsZero() {
		t.Errorf("expected zero accrual at creation, got %s", got)
	}
	if got := p.AccruedYield(created.Add(-time.Hour)); !got.IsZero() {
		t.Errorf("expected zero accrual before creation, got %s", got)
	}
}

func TestAccruedYield_HalfTerm(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := testPosition(created, 90)

	half := created.Add(45 * 24 * time.Hour)
	got := p.AccruedYield(half)
	want := decimal.NewFromInt(50)
	if !got.Equal(want) {
		t.Errorf("expected %s at half term, got %s", want, got)
	}
}

func TestAccruedYield_ClampedAtExpected(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := testPosition(created, 90)

	atMaturity := created.AddDate(0, 0, 90)
	if got := p.AccruedYield(atMaturity); !got.Equal(p.ExpectedYield) {
		t.Errorf("expected full yield at maturity, got %s", got)
	}
	longAfter := created.AddDate(1, 0, 0)
	if got := p.AccruedYield(longAfter); !got.Equal(p.ExpectedYield) {
		t.Errorf("expected accrual clamped at %s, got %s", p.ExpectedYield, got)
	}
}

func TestAccruedYield_Monotonic(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := testPosition(created, 30)

	prev := decimal.Zero
	for day := 0; day <= 40; day++ {
		got := p.AccruedYield(created.AddDate(0, 0, day))
		if got.LessThan(prev) {
			t.Fatalf("accrual decreased at day %d: %s < %s", day, got, prev)
		}
		prev = got
	}
}

func TestAccruedYield_SubSecondTerm(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := testPosition(created, 0)
	matured := created.Add(500 * time.Millisecond)
	p.MaturedAt = &matured

	got := p.AccruedYield(created.Add(250 * time.Millisecond))
	want := decimal.NewFromInt(50)
	if !got.Equal(want) {
		t.Errorf("expected %s halfway through a sub-second term, got %s", want, got)
	}
	if got := p.AccruedYield(matured); !got.Equal(p.ExpectedYield) {
		t.Errorf("expected full yield at maturity, got %s", got)
	}
}

func TestAccruedYield_NoMaturity(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := testPosition(created, 90)
	p.MaturedAt = nil

	if got := p.AccruedYield(created.AddDate(0, 0, 45)); !got.IsZero() {
		t.Errorf("expected zero accrual without maturity date, got %s", got)
	}
}

func TestSummarize_Buckets(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := created.Add(45 * 24 * time.Hour)

	active := testPosition(created, 90)

	claimed := testPosition(created, 90)
	claimed.ID = "pos-2"
	claimed.Status = PositionStatusTransferPending

	completed := testPosition(created, 90)
	completed.ID = "pos-3"
	completed.Status = PositionStatusCompleted
	realized := decimal.NewFromInt(100)
	completed.RealizedYield = &realized

	cancelled := testPosition(created, 90)
	cancelled.ID = "pos-4"
	cancelled.Status = PositionStatusCancelled

	s := Summarize([]InvestmentPosition{active, claimed, completed, cancelled}, now)

	if len(s.Pending) != 2 {
		t.Fatalf("expected 2 pending positions, got %d", len(s.Pending))
	}
	if len(s.Completed) != 1 {
		t.Fatalf("expected 1 completed position, got %d", len(s.Completed))
	}

	wantTVL := decimal.NewFromInt(2000)
	if !s.Totals.TVLPending.Equal(wantTVL) {
		t.Errorf("expected TVL %s, got %s", wantTVL, s.Totals.TVLPending)
	}
	// Two positions at half term, 50 accrued each.
	wantEarnings := decimal.NewFromInt(100)
	if !s.Totals.EarningsToDatePending.Equal(wantEarnings) {
		t.Errorf("expected earnings %s, got %s", wantEarnings, s.Totals.EarningsToDatePending)
	}
}

func TestSwapIntent_Expired(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	i := SwapIntent{Phase: IntentPhasePrepared, ExpiresAt: now.Add(30 * time.Minute)}

	if i.Expired(now) {
		t.Error("intent inside its window reported expired")
	}
	if !i.Expired(now.Add(31 * time.Minute)) {
		t.Error("intent past its deadline not reported expired")
	}

	i.Phase = IntentPhaseSettled
	if i.Expired(now.Add(31 * time.Minute)) {
		t.Error("settled intent must never expire")
	}
}
