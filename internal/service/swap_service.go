package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridianfi/rwa-engine/internal/domain"
)

// SwapParams configures the two-phase swap protocol: amount bounds, fixed
// conversion rates, and the prepare validity window.
type SwapParams struct {
	MinAmount       decimal.Decimal
	MaxAmount       decimal.Decimal
	IntentWindow    time.Duration
	ConversionRates map[string]decimal.Decimal // external currency -> settle-token units
	DepositAccount  string                     // treasury payment reference handed to depositors
	SettleToken     string
	TreasuryAccount string
	LockTTL         time.Duration
}

// PrepareRequest stages a swap intent. ExternalRef is the caller's
// idempotency key; Destination is required for withdrawals only.
type PrepareRequest struct {
	ExternalRef string
	InvestorID  string
	Currency    string // external currency being converted
	Amount      decimal.Decimal
	Destination string
}

// SwapService runs the two-phase swap protocol: prepare stages a quoted,
// time-boxed intent; settle confirms it with external proof inside the
// window. Withdrawals additionally move treasury funds out at settle time.
type SwapService struct {
	intents domain.IntentStore
	locks   domain.LockManager
	ledger  domain.LedgerClient
	audit   domain.AuditStore
	params  SwapParams
	logger  *slog.Logger
	now     func() time.Time
}

// NewSwapService creates a SwapService with all required dependencies.
func NewSwapService(
	intents domain.IntentStore,
	locks domain.LockManager,
	ledgerClient domain.LedgerClient,
	audit domain.AuditStore,
	params SwapParams,
	logger *slog.Logger,
) *SwapService {
	return &SwapService{
		intents: intents,
		locks:   locks,
		ledger:  ledgerClient,
		audit:   audit,
		params:  params,
		logger:  logger.With(slog.String("component", "swap_service")),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// PrepareDeposit stages an inbound conversion: external currency in, settle
// tokens quoted. The returned intent carries the treasury payment reference
// the client pays into and the deadline the proof must arrive by.
func (s *SwapService) PrepareDeposit(ctx context.Context, req PrepareRequest) (domain.SwapIntent, error) {
	return s.prepare(ctx, domain.SwapDirectionDeposit, req)
}

// PrepareWithdraw stages an outbound conversion: settle tokens out to an
// off-platform destination. The destination is fixed at prepare time.
func (s *SwapService) PrepareWithdraw(ctx context.Context, req PrepareRequest) (domain.SwapIntent, error) {
	if req.Destination == "" {
		return domain.SwapIntent{}, &domain.ValidationError{Field: "destination", Reason: "must not be empty"}
	}
	return s.prepare(ctx, domain.SwapDirectionWithdraw, req)
}

func (s *SwapService) prepare(ctx context.Context, dir domain.SwapDirection, req PrepareRequest) (domain.SwapIntent, error) {
	if req.ExternalRef == "" {
		return domain.SwapIntent{}, &domain.ValidationError{Field: "externalRef", Reason: "must not be empty"}
	}
	if req.InvestorID == "" {
		return domain.SwapIntent{}, &domain.ValidationError{Field: "investorID", Reason: "must not be empty"}
	}
	if req.Amount.LessThan(s.params.MinAmount) || req.Amount.GreaterThan(s.params.MaxAmount) {
		return domain.SwapIntent{}, &domain.ValidationError{
			Field:  "amount",
			Reason: fmt.Sprintf("must be between %s and %s", s.params.MinAmount, s.params.MaxAmount),
		}
	}
	rate, ok := s.params.ConversionRates[req.Currency]
	if !ok {
		return domain.SwapIntent{}, &domain.ValidationError{Field: "currency", Reason: "unsupported currency " + req.Currency}
	}

	// Same external ref twice returns the already-staged intent.
	if existing, err := s.intents.GetByExternalRef(ctx, req.ExternalRef); err == nil {
		return existing, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.SwapIntent{}, fmt.Errorf("swap_service: lookup intent %s: %w", req.ExternalRef, err)
	}

	now := s.now()
	intent := domain.SwapIntent{
		ID:              uuid.New().String(),
		ExternalRef:     req.ExternalRef,
		Direction:       dir,
		InvestorID:      req.InvestorID,
		RequestedAmount: req.Amount,
		QuotedAmount:    req.Amount.Mul(rate),
		Rate:            rate,
		Phase:           domain.IntentPhasePrepared,
		ConversionState: domain.ConversionIdle,
		ExpiresAt:       now.Add(s.params.IntentWindow),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	switch dir {
	case domain.SwapDirectionDeposit:
		intent.SourceCurrency = req.Currency
		intent.TargetCurrency = s.params.SettleToken
		intent.DepositRef = s.params.DepositAccount
	case domain.SwapDirectionWithdraw:
		intent.SourceCurrency = s.params.SettleToken
		intent.TargetCurrency = req.Currency
		intent.Destination = req.Destination
	}

	if err := s.intents.Create(ctx, intent); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			// Lost a race on the same external ref; surface the winner.
			return s.intents.GetByExternalRef(ctx, req.ExternalRef)
		}
		return domain.SwapIntent{}, fmt.Errorf("swap_service: stage intent %s: %w", req.ExternalRef, err)
	}

	s.logger.InfoContext(ctx, "intent prepared",
		slog.String("intent_id", intent.ID),
		slog.String("direction", string(dir)),
		slog.String("investor_id", req.InvestorID),
		slog.String("quoted", intent.QuotedAmount.String()),
		slog.Time("expires_at", intent.ExpiresAt),
	)
	return intent, nil
}

// SettleDeposit confirms an inbound intent with external payment proof. The
// proof amount must match the quote exactly; an intent past its deadline is
// marked expired and rejected, regardless of whether the expiry job got to
// it first.
func (s *SwapService) SettleDeposit(ctx context.Context, externalRef string, proof domain.SettlementProof) (domain.SwapIntent, error) {
	intent, err := s.loadForSettle(ctx, externalRef, domain.SwapDirectionDeposit, proof)
	if err != nil {
		return domain.SwapIntent{}, err
	}

	if err := s.settle(ctx, intent, proof.ExternalTxRef); err != nil {
		return domain.SwapIntent{}, err
	}
	return s.intents.GetByID(ctx, intent.ID)
}

// SettleWithdraw confirms an outbound intent and pays the requested amount
// from the treasury to the prepared destination. The payout's client
// reference is derived from the intent id and written to the row before any
// money moves, so a crash or timeout leaves a durable reservation: the retry
// asks the ledger what happened to it instead of paying again.
func (s *SwapService) SettleWithdraw(ctx context.Context, externalRef string, proof domain.SettlementProof) (domain.SwapIntent, error) {
	intent, err := s.loadForSettle(ctx, externalRef, domain.SwapDirectionWithdraw, proof)
	if err != nil {
		return domain.SwapIntent{}, err
	}

	unlock, err := s.locks.Acquire(ctx, "swap:"+intent.ID, s.params.LockTTL)
	if err != nil {
		return domain.SwapIntent{}, fmt.Errorf("swap_service: settle withdraw %s: %w", intent.ID, err)
	}
	defer unlock()

	// Re-read under the lock; a concurrent settle may have won.
	intent, err = s.intents.GetByID(ctx, intent.ID)
	if err != nil {
		return domain.SwapIntent{}, fmt.Errorf("swap_service: reload intent %s: %w", intent.ID, err)
	}
	if intent.Phase != domain.IntentPhasePrepared {
		return domain.SwapIntent{}, fmt.Errorf("swap_service: intent %s is %s: %w", intent.ID, intent.Phase, domain.ErrInvalidTransition)
	}

	ref := "payout-" + intent.ID
	if intent.PayoutTxRef != nil {
		// An earlier attempt wrote the reservation, so a transfer may
		// already be on the ledger. Reconcile by client reference first.
		receipt, lookupErr := s.ledger.GetTransaction(ctx, ref)
		switch {
		case lookupErr == nil:
			// The earlier payout finalized. Complete without paying again.
			if err := s.intents.SetPayoutTxRef(ctx, intent.ID, receipt.TxRef); err != nil {
				return domain.SwapIntent{}, fmt.Errorf("swap_service: record payout %s: %w", intent.ID, err)
			}
			if err := s.settle(ctx, intent, proof.ExternalTxRef); err != nil {
				return domain.SwapIntent{}, err
			}
			return s.intents.GetByID(ctx, intent.ID)
		case errors.Is(lookupErr, domain.ErrNotFound):
			// The reservation never reached the ledger; submitting below is
			// safe.
		default:
			if _, ok := domain.IsLedgerRejected(lookupErr); !ok {
				// Still pending or the ledger is unreachable. Keep the
				// reservation rather than risk a second payout.
				return domain.SwapIntent{}, fmt.Errorf("swap_service: payout for %s unresolved: %w", intent.ID, lookupErr)
			}
			// Definitively rejected; resubmitting under the same reference
			// moves money at most once.
		}
	} else if err := s.intents.SetPayoutTxRef(ctx, intent.ID, ref); err != nil {
		return domain.SwapIntent{}, fmt.Errorf("swap_service: reserve payout %s: %w", intent.ID, err)
	}

	receipt, err := s.ledger.TransferFungible(ctx, domain.TransferRequest{
		TokenRef:  s.params.SettleToken,
		From:      s.params.TreasuryAccount,
		To:        intent.Destination,
		Amount:    intent.RequestedAmount,
		ClientRef: ref,
		Memo:      "withdraw " + intent.ExternalRef,
	}, nil)
	if err != nil {
		if rejected, ok := domain.IsLedgerRejected(err); ok && rejected.Reason == domain.ReasonInsufficientBalance {
			s.notifyTreasuryShortfall(ctx, intent, rejected)
		}
		return domain.SwapIntent{}, fmt.Errorf("swap_service: payout for %s: %w", intent.ID, err)
	}

	if err := s.intents.SetPayoutTxRef(ctx, intent.ID, receipt.TxRef); err != nil {
		return domain.SwapIntent{}, fmt.Errorf("swap_service: record payout %s: %w", intent.ID, err)
	}
	if err := s.settle(ctx, intent, proof.ExternalTxRef); err != nil {
		return domain.SwapIntent{}, err
	}
	return s.intents.GetByID(ctx, intent.ID)
}

// loadForSettle fetches the intent and applies the checks shared by both
// settle paths: direction, on-access expiry, and exact proof amount.
func (s *SwapService) loadForSettle(ctx context.Context, externalRef string, dir domain.SwapDirection, proof domain.SettlementProof) (domain.SwapIntent, error) {
	if proof.ExternalTxRef == "" {
		return domain.SwapIntent{}, &domain.ValidationError{Field: "proof.externalTxRef", Reason: "must not be empty"}
	}

	intent, err := s.intents.GetByExternalRef(ctx, externalRef)
	if err != nil {
		return domain.SwapIntent{}, fmt.Errorf("swap_service: lookup intent %s: %w", externalRef, err)
	}
	if intent.Direction != dir {
		return domain.SwapIntent{}, &domain.ValidationError{Field: "externalRef", Reason: "intent direction is " + string(intent.Direction)}
	}
	if intent.Phase == domain.IntentPhaseExpired {
		return domain.SwapIntent{}, fmt.Errorf("swap_service: intent %s: %w", intent.ID, domain.ErrIntentExpired)
	}
	if intent.Expired(s.now()) {
		if err := s.intents.MarkExpired(ctx, intent.ID); err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
			s.logger.WarnContext(ctx, "mark expired failed",
				slog.String("intent_id", intent.ID),
				slog.String("error", err.Error()),
			)
		}
		return domain.SwapIntent{}, fmt.Errorf("swap_service: intent %s: %w", intent.ID, domain.ErrIntentExpired)
	}
	if !proof.Amount.Equal(intent.QuotedAmount) {
		return domain.SwapIntent{}, &domain.ValidationError{
			Field:  "proof.amount",
			Reason: fmt.Sprintf("got %s, quoted %s", proof.Amount, intent.QuotedAmount),
		}
	}
	return intent, nil
}

// settle runs the compare-and-set transition and disambiguates a lost race:
// the row may have flipped to expired or settled since the intent was read.
func (s *SwapService) settle(ctx context.Context, intent domain.SwapIntent, proofRef string) error {
	if err := s.intents.Settle(ctx, intent.ID, proofRef, s.now()); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			if current, lookupErr := s.intents.GetByID(ctx, intent.ID); lookupErr == nil && current.Phase == domain.IntentPhaseExpired {
				return fmt.Errorf("swap_service: intent %s: %w", intent.ID, domain.ErrIntentExpired)
			}
		}
		return fmt.Errorf("swap_service: settle intent %s: %w", intent.ID, err)
	}

	s.logger.InfoContext(ctx, "intent settled",
		slog.String("intent_id", intent.ID),
		slog.String("direction", string(intent.Direction)),
		slog.String("proof_ref", proofRef),
	)
	if s.audit != nil {
		if err := s.audit.Log(ctx, "swap.settled", map[string]any{
			"intent_id": intent.ID,
			"direction": string(intent.Direction),
			"amount":    intent.QuotedAmount.String(),
			"proof_ref": proofRef,
		}); err != nil {
			s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// CancelIntent frees a still-prepared intent. Settlement is a point of no
// return; a settled intent cannot be cancelled.
func (s *SwapService) CancelIntent(ctx context.Context, externalRef string) error {
	intent, err := s.intents.GetByExternalRef(ctx, externalRef)
	if err != nil {
		return fmt.Errorf("swap_service: lookup intent %s: %w", externalRef, err)
	}
	if err := s.intents.Cancel(ctx, intent.ID); err != nil {
		return fmt.Errorf("swap_service: cancel intent %s: %w", intent.ID, err)
	}
	s.logger.InfoContext(ctx, "intent cancelled", slog.String("intent_id", intent.ID))
	return nil
}

// ExpireStaleIntents sweeps every prepared intent past its deadline into the
// expired phase. Safe to run concurrently with on-access expiry.
func (s *SwapService) ExpireStaleIntents(ctx context.Context) (int64, error) {
	n, err := s.intents.ExpireStale(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("swap_service: expire stale intents: %w", err)
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "stale intents expired", slog.Int64("count", n))
	}
	return n, nil
}

func (s *SwapService) notifyTreasuryShortfall(ctx context.Context, intent domain.SwapIntent, rejected *domain.LedgerRejectedError) {
	s.logger.ErrorContext(ctx, "treasury cannot fund payout",
		slog.String("intent_id", intent.ID),
		slog.String("amount", intent.RequestedAmount.String()),
		slog.String("detail", rejected.Detail),
	)
	if s.audit != nil {
		if err := s.audit.Log(ctx, "swap.payout_rejected", map[string]any{
			"intent_id": intent.ID,
			"reason":    string(rejected.Reason),
		}); err != nil {
			s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
}
