package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianfi/rwa-engine/internal/domain"
	"github.com/meridianfi/rwa-engine/internal/store/memory"
)

type investFixture struct {
	svc       *InvestService
	intents   *memory.IntentStore
	positions *memory.PositionStore
	ledger    *fakeLedger
	intent    domain.SwapIntent
}

func newInvestFixture(t *testing.T, ledger *fakeLedger) *investFixture {
	t.Helper()
	ctx := context.Background()

	intents := memory.NewIntentStore()
	positions := memory.NewPositionStore()
	assets := memory.NewAssetStore()
	wallets := memory.NewWalletStore()

	if err := assets.Create(ctx, preparedAsset()); err != nil {
		t.Fatalf("seed asset: %v", err)
	}
	if err := wallets.Put(ctx, domain.CustodialWallet{
		UserID:    "inv-1",
		Alias:     "acct-inv-1",
		PublicKey: "02abc",
		KeyName:   "custodial-key-inv-1",
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed wallet: %v", err)
	}

	proof := "bank-tx-1"
	intent := domain.SwapIntent{
		ID:              "intent-1",
		ExternalRef:     "ext-1",
		Direction:       domain.SwapDirectionDeposit,
		InvestorID:      "inv-1",
		SourceCurrency:  "USD",
		TargetCurrency:  "USDM",
		RequestedAmount: decimal.NewFromInt(1000),
		QuotedAmount:    decimal.NewFromInt(1000),
		Rate:            decimal.NewFromInt(1),
		Phase:           domain.IntentPhaseSettled,
		ConversionState: domain.ConversionIdle,
		ProofRef:        &proof,
		ExpiresAt:       time.Now().UTC().Add(time.Hour),
		CreatedAt:       time.Now().UTC(),
	}
	if err := intents.Create(ctx, intent); err != nil {
		t.Fatalf("seed intent: %v", err)
	}

	svc := NewInvestService(
		intents, positions, assets, wallets,
		ledger, memory.NewLockManager(), memory.NewAuditStore(),
		InvestParams{
			TreasuryAccount: "acct-treasury",
			SettleToken:     "USDM",
			LockTTL:         time.Minute,
		},
		discardLogger(),
	)
	return &investFixture{svc: svc, intents: intents, positions: positions, ledger: ledger, intent: intent}
}

func TestInvestFromDeposit(t *testing.T) {
	f := newInvestFixture(t, &fakeLedger{})
	ctx := context.Background()

	pos, err := f.svc.InvestFromDeposit(ctx, InvestRequest{IntentID: "intent-1", AssetID: "asset-1"})
	if err != nil {
		t.Fatalf("InvestFromDeposit: %v", err)
	}

	if !pos.PrincipalAmount.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected principal 1000, got %s", pos.PrincipalAmount)
	}
	if !pos.ShareTokenAmount.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("expected 10000 share tokens, got %s", pos.ShareTokenAmount)
	}
	if !pos.ExpectedYield.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected yield 100, got %s", pos.ExpectedYield)
	}
	if pos.Status != domain.PositionStatusActive {
		t.Errorf("expected active position, got %s", pos.Status)
	}
	if pos.DepositTxRef == "" {
		t.Error("expected deposit tx ref from the ledger receipt")
	}
	if pos.MaturedAt == nil {
		t.Fatal("expected maturity date")
	}
	wantMaturity := pos.CreatedAt.AddDate(0, 0, 90)
	if !pos.MaturedAt.Equal(wantMaturity) {
		t.Errorf("expected maturity %v, got %v", wantMaturity, *pos.MaturedAt)
	}

	// One combined ledger transaction: principal into escrow, shares issued.
	if f.ledger.transferCount() != 1 {
		t.Fatalf("expected 1 ledger transaction, got %d", f.ledger.transferCount())
	}
	transfer := f.ledger.transfers[0]
	if transfer.To != "acct-escrow" {
		t.Errorf("expected transfer into escrow, got %s", transfer.To)
	}
	if transfer.ClientRef != "invest-intent-1" {
		t.Errorf("expected deterministic client ref, got %s", transfer.ClientRef)
	}
	issue := f.ledger.issues[0]
	if issue == nil {
		t.Fatal("expected an issuance leg")
	}
	if issue.ToAddress != "acct-inv-1" || !issue.Amount.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("unexpected issuance %+v", issue)
	}

	stored, err := f.intents.GetByID(ctx, "intent-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.ConversionState != domain.ConversionConsumed {
		t.Errorf("expected consumed intent, got %s", stored.ConversionState)
	}
	if stored.PositionID == nil || *stored.PositionID != pos.ID {
		t.Error("expected intent to record the position it funded")
	}
}

func TestInvestFromDeposit_SecondCallRejected(t *testing.T) {
	f := newInvestFixture(t, &fakeLedger{})
	ctx := context.Background()

	if _, err := f.svc.InvestFromDeposit(ctx, InvestRequest{IntentID: "intent-1", AssetID: "asset-1"}); err != nil {
		t.Fatalf("first conversion: %v", err)
	}
	_, err := f.svc.InvestFromDeposit(ctx, InvestRequest{IntentID: "intent-1", AssetID: "asset-1"})
	if !errors.Is(err, domain.ErrAlreadyProcessing) {
		t.Fatalf("expected ErrAlreadyProcessing, got %v", err)
	}
	if f.ledger.transferCount() != 1 {
		t.Errorf("expected no second transfer, got %d", f.ledger.transferCount())
	}
}

func TestInvestFromDeposit_ConcurrentCallsFundOnce(t *testing.T) {
	ledger := &fakeLedger{transferGate: make(chan struct{})}
	f := newInvestFixture(t, ledger)
	ctx := context.Background()
	req := InvestRequest{IntentID: "intent-1", AssetID: "asset-1"}

	winnerErr := make(chan error, 1)
	go func() {
		_, err := f.svc.InvestFromDeposit(ctx, req)
		winnerErr <- err
	}()

	// The winner is now inside the ledger call with the lock and the
	// conversion claim held.
	<-ledger.transferGate

	_, err := f.svc.InvestFromDeposit(ctx, req)
	if !errors.Is(err, domain.ErrAlreadyProcessing) {
		t.Fatalf("expected ErrAlreadyProcessing for the loser, got %v", err)
	}

	ledger.transferGate <- struct{}{}
	if err := <-winnerErr; err != nil {
		t.Fatalf("winner conversion: %v", err)
	}

	if ledger.transferCount() != 1 {
		t.Fatalf("expected exactly one funding transfer, got %d", ledger.transferCount())
	}
	positions, err := f.positions.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected exactly one position, got %d", len(positions))
	}
	intent, err := f.intents.GetByID(ctx, "intent-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if intent.ConversionState != domain.ConversionConsumed {
		t.Errorf("expected intent consumed, got %s", intent.ConversionState)
	}
}

func TestInvestFromDeposit_RejectionReleasesClaim(t *testing.T) {
	ledger := &fakeLedger{transferErr: &domain.LedgerRejectedError{
		Reason: domain.ReasonInsufficientBalance,
	}}
	f := newInvestFixture(t, ledger)
	ctx := context.Background()

	_, err := f.svc.InvestFromDeposit(ctx, InvestRequest{IntentID: "intent-1", AssetID: "asset-1"})
	if _, ok := domain.IsLedgerRejected(err); !ok {
		t.Fatalf("expected ledger rejection, got %v", err)
	}

	stored, err := f.intents.GetByID(ctx, "intent-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.ConversionState != domain.ConversionIdle {
		t.Errorf("expected claim released to idle, got %s", stored.ConversionState)
	}

	// The intent is reusable; clearing the fault lets conversion succeed.
	ledger.transferErr = nil
	if _, err := f.svc.InvestFromDeposit(ctx, InvestRequest{IntentID: "intent-1", AssetID: "asset-1"}); err != nil {
		t.Fatalf("retry after rejection: %v", err)
	}
}

func TestInvestFromDeposit_TimeoutRetainsClaim(t *testing.T) {
	ledger := &fakeLedger{transferErr: fmt.Errorf("submit transfer: %w", domain.ErrLedgerTimeout)}
	f := newInvestFixture(t, ledger)
	ctx := context.Background()

	_, err := f.svc.InvestFromDeposit(ctx, InvestRequest{IntentID: "intent-1", AssetID: "asset-1"})
	if !errors.Is(err, domain.ErrLedgerTimeout) {
		t.Fatalf("expected ErrLedgerTimeout, got %v", err)
	}

	// Ambiguous outcome: the claim must stay held for reconciliation.
	stored, err := f.intents.GetByID(ctx, "intent-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.ConversionState != domain.ConversionProcessing {
		t.Errorf("expected claim retained as processing, got %s", stored.ConversionState)
	}

	// No blind retry is possible while the claim is held.
	ledger.transferErr = nil
	if _, err := f.svc.InvestFromDeposit(ctx, InvestRequest{IntentID: "intent-1", AssetID: "asset-1"}); !errors.Is(err, domain.ErrAlreadyProcessing) {
		t.Fatalf("expected ErrAlreadyProcessing while claim held, got %v", err)
	}
}

func TestInvestFromDeposit_RequiresSettledDepositIntent(t *testing.T) {
	f := newInvestFixture(t, &fakeLedger{})
	ctx := context.Background()

	prepared := f.intent
	prepared.ID = "intent-2"
	prepared.ExternalRef = "ext-2"
	prepared.Phase = domain.IntentPhasePrepared
	if err := f.intents.Create(ctx, prepared); err != nil {
		t.Fatalf("seed intent: %v", err)
	}

	_, err := f.svc.InvestFromDeposit(ctx, InvestRequest{IntentID: "intent-2", AssetID: "asset-1"})
	var ve *domain.ValidationError
	if !errors.As(err, &ve) || ve.Field != "intentID" {
		t.Fatalf("expected intentID validation error, got %v", err)
	}
}

func TestInvestFromDeposit_ClosedAsset(t *testing.T) {
	f := newInvestFixture(t, &fakeLedger{})
	ctx := context.Background()

	closed := preparedAsset()
	closed.ID = "asset-closed"
	closed.Active = false
	if err := f.svc.assets.Create(ctx, closed); err != nil {
		t.Fatalf("seed asset: %v", err)
	}

	_, err := f.svc.InvestFromDeposit(ctx, InvestRequest{IntentID: "intent-1", AssetID: "asset-closed"})
	var ve *domain.ValidationError
	if !errors.As(err, &ve) || ve.Field != "assetID" {
		t.Fatalf("expected assetID validation error, got %v", err)
	}
}
