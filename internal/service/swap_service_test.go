package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianfi/rwa-engine/internal/domain"
)

func depositRequest() PrepareRequest {
	return PrepareRequest{
		ExternalRef: "ext-1",
		InvestorID:  "inv-1",
		Currency:    "USD",
		Amount:      decimal.NewFromInt(500),
	}
}

func TestPrepareDeposit(t *testing.T) {
	svc, _ := newTestSwapService(&fakeLedger{})
	ctx := context.Background()

	intent, err := svc.PrepareDeposit(ctx, depositRequest())
	if err != nil {
		t.Fatalf("PrepareDeposit: %v", err)
	}

	if intent.Phase != domain.IntentPhasePrepared {
		t.Errorf("expected prepared phase, got %s", intent.Phase)
	}
	if !intent.QuotedAmount.Equal(decimal.NewFromInt(500)) {
		t.Errorf("expected quote 500, got %s", intent.QuotedAmount)
	}
	if intent.DepositRef != "acct-deposits" {
		t.Errorf("expected deposit ref acct-deposits, got %s", intent.DepositRef)
	}
	if !intent.ExpiresAt.After(intent.CreatedAt) {
		t.Error("expected a validity window on the intent")
	}
}

func TestPrepareDeposit_Validation(t *testing.T) {
	svc, _ := newTestSwapService(&fakeLedger{})
	ctx := context.Background()

	cases := []struct {
		name  string
		mod   func(*PrepareRequest)
		field string
	}{
		{"below minimum", func(r *PrepareRequest) { r.Amount = decimal.NewFromInt(1) }, "amount"},
		{"above maximum", func(r *PrepareRequest) { r.Amount = decimal.NewFromInt(1000000) }, "amount"},
		{"unsupported currency", func(r *PrepareRequest) { r.Currency = "XYZ" }, "currency"},
		{"missing external ref", func(r *PrepareRequest) { r.ExternalRef = "" }, "externalRef"},
		{"missing investor", func(r *PrepareRequest) { r.InvestorID = "" }, "investorID"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := depositRequest()
			tc.mod(&req)
			_, err := svc.PrepareDeposit(ctx, req)
			var ve *domain.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tc.field {
				t.Errorf("expected field %s, got %s", tc.field, ve.Field)
			}
		})
	}
}

func TestPrepareDeposit_IdempotentByExternalRef(t *testing.T) {
	svc, _ := newTestSwapService(&fakeLedger{})
	ctx := context.Background()

	first, err := svc.PrepareDeposit(ctx, depositRequest())
	if err != nil {
		t.Fatalf("PrepareDeposit: %v", err)
	}
	second, err := svc.PrepareDeposit(ctx, depositRequest())
	if err != nil {
		t.Fatalf("PrepareDeposit repeat: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("expected same intent for same external ref, got %s and %s", first.ID, second.ID)
	}
}

func TestPrepareWithdraw_RequiresDestination(t *testing.T) {
	svc, _ := newTestSwapService(&fakeLedger{})

	req := depositRequest()
	_, err := svc.PrepareWithdraw(context.Background(), req)
	var ve *domain.ValidationError
	if !errors.As(err, &ve) || ve.Field != "destination" {
		t.Fatalf("expected destination validation error, got %v", err)
	}
}

func TestSettleDeposit(t *testing.T) {
	svc, _ := newTestSwapService(&fakeLedger{})
	ctx := context.Background()

	intent, err := svc.PrepareDeposit(ctx, depositRequest())
	if err != nil {
		t.Fatalf("PrepareDeposit: %v", err)
	}

	settled, err := svc.SettleDeposit(ctx, "ext-1", domain.SettlementProof{
		ExternalTxRef: "bank-tx-9",
		Amount:        intent.QuotedAmount,
	})
	if err != nil {
		t.Fatalf("SettleDeposit: %v", err)
	}
	if settled.Phase != domain.IntentPhaseSettled {
		t.Errorf("expected settled phase, got %s", settled.Phase)
	}
	if settled.ProofRef == nil || *settled.ProofRef != "bank-tx-9" {
		t.Error("expected proof ref recorded")
	}
	if settled.ConversionState != domain.ConversionIdle {
		t.Errorf("expected idle conversion state, got %s", settled.ConversionState)
	}
}

func TestSettleDeposit_AmountMismatch(t *testing.T) {
	svc, _ := newTestSwapService(&fakeLedger{})
	ctx := context.Background()

	if _, err := svc.PrepareDeposit(ctx, depositRequest()); err != nil {
		t.Fatalf("PrepareDeposit: %v", err)
	}

	_, err := svc.SettleDeposit(ctx, "ext-1", domain.SettlementProof{
		ExternalTxRef: "bank-tx-9",
		Amount:        decimal.NewFromInt(499),
	})
	var ve *domain.ValidationError
	if !errors.As(err, &ve) || ve.Field != "proof.amount" {
		t.Fatalf("expected proof.amount validation error, got %v", err)
	}
}

func TestSettleDeposit_Expired(t *testing.T) {
	svc, intents := newTestSwapService(&fakeLedger{})
	ctx := context.Background()

	intent, err := svc.PrepareDeposit(ctx, depositRequest())
	if err != nil {
		t.Fatalf("PrepareDeposit: %v", err)
	}

	// Settlement arrives after the validity window, before any expiry job.
	svc.now = func() time.Time { return intent.ExpiresAt.Add(time.Minute) }

	_, err = svc.SettleDeposit(ctx, "ext-1", domain.SettlementProof{
		ExternalTxRef: "bank-tx-9",
		Amount:        intent.QuotedAmount,
	})
	if !errors.Is(err, domain.ErrIntentExpired) {
		t.Fatalf("expected ErrIntentExpired, got %v", err)
	}

	stored, err := intents.GetByID(ctx, intent.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Phase != domain.IntentPhaseExpired {
		t.Errorf("expected expired phase after late settle, got %s", stored.Phase)
	}

	// A second attempt fails the same way.
	_, err = svc.SettleDeposit(ctx, "ext-1", domain.SettlementProof{
		ExternalTxRef: "bank-tx-9",
		Amount:        intent.QuotedAmount,
	})
	if !errors.Is(err, domain.ErrIntentExpired) {
		t.Fatalf("expected ErrIntentExpired on retry, got %v", err)
	}
}

func TestSettleWithdraw_PaysOut(t *testing.T) {
	ledger := &fakeLedger{}
	svc, _ := newTestSwapService(ledger)
	ctx := context.Background()

	req := depositRequest()
	req.Destination = "ext-dest-1"
	intent, err := svc.PrepareWithdraw(ctx, req)
	if err != nil {
		t.Fatalf("PrepareWithdraw: %v", err)
	}

	settled, err := svc.SettleWithdraw(ctx, "ext-1", domain.SettlementProof{
		ExternalTxRef: "conf-1",
		Amount:        intent.QuotedAmount,
	})
	if err != nil {
		t.Fatalf("SettleWithdraw: %v", err)
	}

	if ledger.transferCount() != 1 {
		t.Fatalf("expected 1 payout transfer, got %d", ledger.transferCount())
	}
	transfer := ledger.transfers[0]
	if transfer.To != "ext-dest-1" {
		t.Errorf("expected payout to ext-dest-1, got %s", transfer.To)
	}
	if !transfer.Amount.Equal(intent.RequestedAmount) {
		t.Errorf("expected payout of %s, got %s", intent.RequestedAmount, transfer.Amount)
	}
	if transfer.ClientRef != "payout-"+intent.ID {
		t.Errorf("expected deterministic client ref, got %s", transfer.ClientRef)
	}
	if settled.PayoutTxRef == nil {
		t.Fatal("expected payout tx ref recorded")
	}
	if settled.Phase != domain.IntentPhaseSettled {
		t.Errorf("expected settled phase, got %s", settled.Phase)
	}
}

func TestSettleWithdraw_LedgerRejection(t *testing.T) {
	ledger := &fakeLedger{transferErr: &domain.LedgerRejectedError{
		Reason: domain.ReasonInsufficientBalance,
		Detail: "treasury short",
	}}
	svc, intents := newTestSwapService(ledger)
	ctx := context.Background()

	req := depositRequest()
	req.Destination = "ext-dest-1"
	intent, err := svc.PrepareWithdraw(ctx, req)
	if err != nil {
		t.Fatalf("PrepareWithdraw: %v", err)
	}

	_, err = svc.SettleWithdraw(ctx, "ext-1", domain.SettlementProof{
		ExternalTxRef: "conf-1",
		Amount:        intent.QuotedAmount,
	})
	if _, ok := domain.IsLedgerRejected(err); !ok {
		t.Fatalf("expected ledger rejection, got %v", err)
	}

	// The intent stays prepared; the caller may retry inside the window.
	stored, err := intents.GetByID(ctx, intent.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Phase != domain.IntentPhasePrepared {
		t.Errorf("expected intent still prepared, got %s", stored.Phase)
	}
}

func TestSettleWithdraw_TimeoutThenReconciled(t *testing.T) {
	// The submission reaches the ledger but finality is never observed.
	ledger := &fakeLedger{submitLost: true}
	svc, intents := newTestSwapService(ledger)
	ctx := context.Background()

	req := depositRequest()
	req.Destination = "ext-dest-1"
	intent, err := svc.PrepareWithdraw(ctx, req)
	if err != nil {
		t.Fatalf("PrepareWithdraw: %v", err)
	}
	proof := domain.SettlementProof{ExternalTxRef: "conf-1", Amount: intent.QuotedAmount}

	_, err = svc.SettleWithdraw(ctx, "ext-1", proof)
	if !errors.Is(err, domain.ErrLedgerTimeout) {
		t.Fatalf("expected ledger timeout, got %v", err)
	}

	// The reservation was written before the transfer, so the unknown
	// outcome is durable.
	stored, err := intents.GetByID(ctx, intent.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Phase != domain.IntentPhasePrepared {
		t.Fatalf("expected intent still prepared, got %s", stored.Phase)
	}
	if stored.PayoutTxRef == nil || *stored.PayoutTxRef != "payout-"+intent.ID {
		t.Fatalf("expected payout reservation recorded, got %v", stored.PayoutTxRef)
	}

	// The first transfer finalized after the timeout. The retry must find
	// it by client reference and never pay again.
	ledger.lookups = map[string]domain.Receipt{
		"payout-" + intent.ID: {TxRef: "tx-final"},
	}
	settled, err := svc.SettleWithdraw(ctx, "ext-1", proof)
	if err != nil {
		t.Fatalf("retry SettleWithdraw: %v", err)
	}
	if ledger.transferCount() != 1 {
		t.Fatalf("expected a single payout transfer, got %d", ledger.transferCount())
	}
	if settled.Phase != domain.IntentPhaseSettled {
		t.Errorf("expected settled phase, got %s", settled.Phase)
	}
	if settled.PayoutTxRef == nil || *settled.PayoutTxRef != "tx-final" {
		t.Errorf("expected reconciled tx ref, got %v", settled.PayoutTxRef)
	}
}

func TestSettleWithdraw_TimeoutThenRetransfer(t *testing.T) {
	// The submission never reaches the ledger at all.
	ledger := &fakeLedger{transferErr: domain.ErrLedgerTimeout}
	svc, intents := newTestSwapService(ledger)
	ctx := context.Background()

	req := depositRequest()
	req.Destination = "ext-dest-1"
	intent, err := svc.PrepareWithdraw(ctx, req)
	if err != nil {
		t.Fatalf("PrepareWithdraw: %v", err)
	}
	proof := domain.SettlementProof{ExternalTxRef: "conf-1", Amount: intent.QuotedAmount}

	if _, err := svc.SettleWithdraw(ctx, "ext-1", proof); !errors.Is(err, domain.ErrLedgerTimeout) {
		t.Fatalf("expected ledger timeout, got %v", err)
	}
	stored, err := intents.GetByID(ctx, intent.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.PayoutTxRef == nil {
		t.Fatal("expected payout reservation recorded")
	}

	// The ledger has no trace of the reservation; resubmitting under the
	// same client reference is safe.
	ledger.transferErr = nil
	settled, err := svc.SettleWithdraw(ctx, "ext-1", proof)
	if err != nil {
		t.Fatalf("retry SettleWithdraw: %v", err)
	}
	if ledger.transferCount() != 1 {
		t.Fatalf("expected 1 payout transfer, got %d", ledger.transferCount())
	}
	if ledger.transfers[0].ClientRef != "payout-"+intent.ID {
		t.Errorf("expected the reserved client ref, got %s", ledger.transfers[0].ClientRef)
	}
	if settled.Phase != domain.IntentPhaseSettled {
		t.Errorf("expected settled phase, got %s", settled.Phase)
	}
}

func TestCancelIntent(t *testing.T) {
	svc, intents := newTestSwapService(&fakeLedger{})
	ctx := context.Background()

	intent, err := svc.PrepareDeposit(ctx, depositRequest())
	if err != nil {
		t.Fatalf("PrepareDeposit: %v", err)
	}
	if err := svc.CancelIntent(ctx, "ext-1"); err != nil {
		t.Fatalf("CancelIntent: %v", err)
	}
	if _, err := intents.GetByID(ctx, intent.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected cancelled intent gone, got %v", err)
	}
}

func TestCancelIntent_SettledIsFinal(t *testing.T) {
	svc, _ := newTestSwapService(&fakeLedger{})
	ctx := context.Background()

	intent, err := svc.PrepareDeposit(ctx, depositRequest())
	if err != nil {
		t.Fatalf("PrepareDeposit: %v", err)
	}
	if _, err := svc.SettleDeposit(ctx, "ext-1", domain.SettlementProof{
		ExternalTxRef: "bank-tx-9",
		Amount:        intent.QuotedAmount,
	}); err != nil {
		t.Fatalf("SettleDeposit: %v", err)
	}

	if err := svc.CancelIntent(ctx, "ext-1"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestExpireStaleIntents(t *testing.T) {
	svc, intents := newTestSwapService(&fakeLedger{})
	ctx := context.Background()

	intent, err := svc.PrepareDeposit(ctx, depositRequest())
	if err != nil {
		t.Fatalf("PrepareDeposit: %v", err)
	}

	svc.now = func() time.Time { return intent.ExpiresAt.Add(time.Minute) }
	n, err := svc.ExpireStaleIntents(ctx)
	if err != nil {
		t.Fatalf("ExpireStaleIntents: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 expired intent, got %d", n)
	}

	stored, err := intents.GetByID(ctx, intent.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Phase != domain.IntentPhaseExpired {
		t.Errorf("expected expired phase, got %s", stored.Phase)
	}
}
