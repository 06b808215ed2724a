package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianfi/rwa-engine/internal/domain"
	"github.com/meridianfi/rwa-engine/internal/store/memory"
)

func TestPortfolioSummary(t *testing.T) {
	ctx := context.Background()
	positions := memory.NewPositionStore()

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	matured := created.AddDate(0, 0, 90)

	active := domain.InvestmentPosition{
		ID:              "pos-1",
		InvestorID:      "inv-1",
		PrincipalAmount: decimal.NewFromInt(1000),
		YieldRate:       decimal.RequireFromString("0.1"),
		ExpectedYield:   decimal.NewFromInt(100),
		Status:          domain.PositionStatusActive,
		DepositTxRef:    "tx-1",
		MaturedAt:       &matured,
		CreatedAt:       created,
	}
	completed := active
	completed.ID = "pos-2"
	completed.Status = domain.PositionStatusCompleted
	other := active
	other.ID = "pos-3"
	other.InvestorID = "inv-2"

	for _, p := range []domain.InvestmentPosition{active, completed, other} {
		if err := positions.Create(ctx, p); err != nil {
			t.Fatalf("seed position: %v", err)
		}
	}

	svc := NewPortfolioService(positions, discardLogger())
	svc.now = func() time.Time { return created.Add(45 * 24 * time.Hour) }

	summary, err := svc.Summary(ctx, "inv-1")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if len(summary.Pending) != 1 || len(summary.Completed) != 1 {
		t.Fatalf("expected 1 pending and 1 completed, got %d and %d",
			len(summary.Pending), len(summary.Completed))
	}
	if !summary.Totals.TVLPending.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected TVL 1000, got %s", summary.Totals.TVLPending)
	}
	if !summary.Totals.EarningsToDatePending.Equal(decimal.NewFromInt(50)) {
		t.Errorf("expected earnings 50, got %s", summary.Totals.EarningsToDatePending)
	}

	platform, err := svc.PlatformSummary(ctx)
	if err != nil {
		t.Fatalf("PlatformSummary: %v", err)
	}
	if len(platform.Pending) != 2 {
		t.Errorf("expected 2 pending platform-wide, got %d", len(platform.Pending))
	}
}

func TestPortfolioSummary_EmptyInvestor(t *testing.T) {
	svc := NewPortfolioService(memory.NewPositionStore(), discardLogger())

	_, err := svc.Summary(context.Background(), "")
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	summary, err := svc.Summary(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if len(summary.Pending) != 0 || len(summary.Completed) != 0 {
		t.Error("expected empty summary for unknown investor")
	}
}
