package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridianfi/rwa-engine/internal/domain"
)

// InvestParams configures deposit-to-position conversion.
type InvestParams struct {
	TreasuryAccount string // funding source for pooled principal
	SettleToken     string
	LockTTL         time.Duration
}

// InvestRequest converts a settled deposit intent into a position in the
// given asset pool.
type InvestRequest struct {
	IntentID string
	AssetID  string
}

// InvestService turns settled deposits into investment positions. The
// conversion is exactly-once: the intent's conversion state is the durable
// claim, and the ledger transfer's client reference is derived from the
// intent id so an ambiguous outcome can always be reconciled.
type InvestService struct {
	intents   domain.IntentStore
	positions domain.PositionStore
	assets    domain.AssetStore
	wallets   domain.WalletStore
	ledger    domain.LedgerClient
	locks     domain.LockManager
	audit     domain.AuditStore
	params    InvestParams
	logger    *slog.Logger
	now       func() time.Time
}

// NewInvestService creates an InvestService with all required dependencies.
func NewInvestService(
	intents domain.IntentStore,
	positions domain.PositionStore,
	assets domain.AssetStore,
	wallets domain.WalletStore,
	ledgerClient domain.LedgerClient,
	locks domain.LockManager,
	audit domain.AuditStore,
	params InvestParams,
	logger *slog.Logger,
) *InvestService {
	return &InvestService{
		intents:   intents,
		positions: positions,
		assets:    assets,
		wallets:   wallets,
		ledger:    ledgerClient,
		locks:     locks,
		audit:     audit,
		params:    params,
		logger:    logger.With(slog.String("component", "invest_service")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// InvestFromDeposit moves a settled deposit's quoted value into an asset
// pool and issues share tokens to the investor's custodial wallet, creating
// the position once the combined ledger transaction is final.
//
// Outcomes by failure point:
//   - another conversion holds or consumed the claim: ErrAlreadyProcessing
//   - ledger rejects: claim released, rejection propagated, intent reusable
//   - ledger outcome unknown: claim stays processing and the error wraps
//     ErrLedgerTimeout; an operator reconciles via the invest-<intentID>
//     client reference before any release
func (s *InvestService) InvestFromDeposit(ctx context.Context, req InvestRequest) (domain.InvestmentPosition, error) {
	asset, err := s.assets.GetByID(ctx, req.AssetID)
	if err != nil {
		return domain.InvestmentPosition{}, fmt.Errorf("invest_service: lookup asset %s: %w", req.AssetID, err)
	}
	if !asset.Active {
		return domain.InvestmentPosition{}, &domain.ValidationError{Field: "assetID", Reason: "asset pool is closed"}
	}

	intent, err := s.intents.GetByID(ctx, req.IntentID)
	if err != nil {
		return domain.InvestmentPosition{}, fmt.Errorf("invest_service: lookup intent %s: %w", req.IntentID, err)
	}
	if intent.Direction != domain.SwapDirectionDeposit {
		return domain.InvestmentPosition{}, &domain.ValidationError{Field: "intentID", Reason: "not a deposit intent"}
	}
	if intent.Phase != domain.IntentPhaseSettled {
		return domain.InvestmentPosition{}, &domain.ValidationError{Field: "intentID", Reason: "intent is " + string(intent.Phase) + ", not settled"}
	}

	wallet, err := s.wallets.GetByUserID(ctx, intent.InvestorID)
	if err != nil {
		return domain.InvestmentPosition{}, fmt.Errorf("invest_service: wallet for %s: %w", intent.InvestorID, err)
	}

	unlock, err := s.locks.Acquire(ctx, "invest:"+intent.ID, s.params.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			// A held lock means another conversion is mid-flight right now.
			return domain.InvestmentPosition{}, fmt.Errorf("invest_service: intent %s: %w", intent.ID, domain.ErrAlreadyProcessing)
		}
		return domain.InvestmentPosition{}, fmt.Errorf("invest_service: intent %s: %w", intent.ID, err)
	}
	defer unlock()

	// The durable claim. Everything past this point runs at most once per
	// intent until an explicit release.
	if err := s.intents.ClaimConversion(ctx, intent.ID); err != nil {
		return domain.InvestmentPosition{}, fmt.Errorf("invest_service: claim intent %s: %w", intent.ID, err)
	}

	principal := intent.QuotedAmount
	shares := asset.ShareAmount(principal)
	now := s.now()
	maturity := asset.MaturityFrom(now)

	receipt, err := s.ledger.TransferFungible(ctx, domain.TransferRequest{
		TokenRef:  s.params.SettleToken,
		From:      s.params.TreasuryAccount,
		To:        asset.EscrowAccount,
		Amount:    principal,
		ClientRef: "invest-" + intent.ID,
		Memo:      "invest " + intent.ExternalRef,
	}, &domain.IssueRequest{
		ShareTokenRef: asset.Ref,
		ToAddress:     wallet.Alias,
		Amount:        shares,
	})
	if err != nil {
		if _, rejected := domain.IsLedgerRejected(err); rejected {
			s.releaseClaim(ctx, intent.ID)
			return domain.InvestmentPosition{}, fmt.Errorf("invest_service: fund position for intent %s: %w", intent.ID, err)
		}
		// Unknown outcome. The claim stays processing so nothing else can
		// double-fund this intent while reconciliation runs.
		s.logger.ErrorContext(ctx, "conversion outcome unknown, claim retained",
			slog.String("intent_id", intent.ID),
			slog.String("client_ref", "invest-"+intent.ID),
			slog.String("error", err.Error()),
		)
		return domain.InvestmentPosition{}, fmt.Errorf("invest_service: fund position for intent %s: %w", intent.ID, err)
	}

	position := domain.InvestmentPosition{
		ID:                   uuid.New().String(),
		InvestorID:           intent.InvestorID,
		InvestorChainAddress: wallet.Alias,
		AssetID:              asset.ID,
		AssetRef:             asset.Ref,
		AssetType:            asset.AssetType,
		PrincipalAmount:      principal,
		ShareTokenAmount:     shares,
		YieldRate:            asset.YieldRate,
		ExpectedYield:        asset.ExpectedYield(principal),
		Status:               domain.PositionStatusActive,
		DepositTxRef:         receipt.TxRef,
		MaturedAt:            &maturity,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.positions.Create(ctx, position); err != nil {
		// Money moved but the position row failed. The retained claim plus
		// the tx ref in the error are what the operator needs.
		return domain.InvestmentPosition{}, fmt.Errorf("invest_service: persist position for intent %s (tx %s): %w", intent.ID, receipt.TxRef, err)
	}
	if err := s.intents.MarkConsumed(ctx, intent.ID, position.ID); err != nil {
		return domain.InvestmentPosition{}, fmt.Errorf("invest_service: consume intent %s: %w", intent.ID, err)
	}

	s.logger.InfoContext(ctx, "position created",
		slog.String("position_id", position.ID),
		slog.String("intent_id", intent.ID),
		slog.String("asset_id", asset.ID),
		slog.String("principal", principal.String()),
		slog.String("shares", shares.String()),
		slog.String("tx_ref", receipt.TxRef),
	)
	if s.audit != nil {
		if err := s.audit.Log(ctx, "position.created", map[string]any{
			"position_id": position.ID,
			"intent_id":   intent.ID,
			"asset_id":    asset.ID,
			"principal":   principal.String(),
			"tx_ref":      receipt.TxRef,
		}); err != nil {
			s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}

	return position, nil
}

func (s *InvestService) releaseClaim(ctx context.Context, intentID string) {
	if err := s.intents.ReleaseConversion(ctx, intentID); err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
		s.logger.ErrorContext(ctx, "release conversion claim failed",
			slog.String("intent_id", intentID),
			slog.String("error", err.Error()),
		)
	}
}
