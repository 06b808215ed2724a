// Package scheduler runs the maturity settlement sweep: matured positions
// are claimed one by one, paid out principal plus realized yield, and marked
// completed. Every failure is isolated to its position; a crashed worker's
// claim is reclaimed after a timeout and reconciled against the ledger
// before any money moves again.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"golang.org/x/sync/errgroup"

	"github.com/meridianfi/rwa-engine/internal/domain"
)

// IntentExpirer sweeps stale swap intents. Satisfied by the swap service.
type IntentExpirer interface {
	ExpireStaleIntents(ctx context.Context) (int64, error)
}

// Alerter delivers operator alerts. Satisfied by notify.Notifier.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Params configures the sweep.
type Params struct {
	Interval        time.Duration
	ClaimTimeout    time.Duration
	Concurrency     int
	LockTTL         time.Duration
	SettleToken     string
	TreasuryAccount string
}

// SweepResult summarizes one sweep cycle.
type SweepResult struct {
	Selected   int64 // positions due for settlement
	Settled    int64 // paid out and completed this cycle
	Reconciled int64 // completed from an earlier in-flight transfer
	Released   int64 // claims released after a ledger rejection
	Retained   int64 // claims left in place pending reconciliation
	Skipped    int64 // lost locks or races, retried next cycle

	// SettledIDs lists positions that reached completed this cycle, whether
	// paid out or reconciled. Returned to operators on manual runs.
	SettledIDs []string
}

// SettlementSweeper drives positions from maturity to completion.
type SettlementSweeper struct {
	positions domain.PositionStore
	ledger    domain.LedgerClient
	locks     domain.LockManager
	audit     domain.AuditStore
	expirer   IntentExpirer
	alerter   Alerter
	params    Params
	logger    *slog.Logger
	now       func() time.Time
}

// NewSettlementSweeper creates a SettlementSweeper. alerter may be nil.
func NewSettlementSweeper(
	positions domain.PositionStore,
	ledgerClient domain.LedgerClient,
	locks domain.LockManager,
	audit domain.AuditStore,
	expirer IntentExpirer,
	alerter Alerter,
	params Params,
	logger *slog.Logger,
) *SettlementSweeper {
	if params.Concurrency <= 0 {
		params.Concurrency = 1
	}
	return &SettlementSweeper{
		positions: positions,
		ledger:    ledgerClient,
		locks:     locks,
		audit:     audit,
		expirer:   expirer,
		alerter:   alerter,
		params:    params,
		logger:    logger.With(slog.String("component", "settlement_sweeper")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// reservationRef is the payout transfer's client reference. Deriving it from
// the position id means a reservation written before a crash can always be
// looked up on the ledger, with no extra bookkeeping.
func reservationRef(positionID string) string {
	return "settle-" + positionID
}

// RunOnce performs one sweep cycle and returns its tally. Per-position
// failures are logged and counted, never propagated: one bad position must
// not block the rest of the cohort.
func (s *SettlementSweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	now := s.now()
	due, err := s.positions.ListSettleable(ctx, now, s.params.ClaimTimeout)
	if err != nil {
		return SweepResult{}, fmt.Errorf("scheduler: list settleable: %w", err)
	}

	var result SweepResult
	result.Selected = int64(len(due))
	if len(due) == 0 {
		return result, nil
	}

	s.logger.InfoContext(ctx, "sweep started", slog.Int("due", len(due)))

	// Workers record completed positions through this; the counters in
	// result are atomic but the slice needs its own guard.
	var mu sync.Mutex
	completed := func(id string) {
		mu.Lock()
		result.SettledIDs = append(result.SettledIDs, id)
		mu.Unlock()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.params.Concurrency)
	for _, p := range due {
		g.Go(func() error {
			s.settleOne(ctx, p.ID, &result, completed)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, fmt.Errorf("scheduler: sweep: %w", err)
	}

	s.logger.InfoContext(ctx, "sweep finished",
		slog.Int64("selected", result.Selected),
		slog.Int64("settled", result.Settled),
		slog.Int64("reconciled", result.Reconciled),
		slog.Int64("released", result.Released),
		slog.Int64("retained", result.Retained),
		slog.Int64("skipped", result.Skipped),
	)
	return result, nil
}

// settleOne drives a single position to completion under a per-position
// lock. All counter updates are atomic because workers run concurrently.
func (s *SettlementSweeper) settleOne(ctx context.Context, positionID string, result *SweepResult, completed func(string)) {
	unlock, err := s.locks.Acquire(ctx, "settle:"+positionID, s.params.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			atomic.AddInt64(&result.Skipped, 1)
			return
		}
		s.logger.ErrorContext(ctx, "lock acquire failed",
			slog.String("position_id", positionID),
			slog.String("error", err.Error()),
		)
		atomic.AddInt64(&result.Skipped, 1)
		return
	}
	defer unlock()

	// Selection ran before the lock; re-read the row under it.
	p, err := s.positions.GetByID(ctx, positionID)
	if err != nil {
		s.logger.ErrorContext(ctx, "position reload failed",
			slog.String("position_id", positionID),
			slog.String("error", err.Error()),
		)
		atomic.AddInt64(&result.Skipped, 1)
		return
	}
	if p.Status.Terminal() {
		atomic.AddInt64(&result.Skipped, 1)
		return
	}

	ref := reservationRef(p.ID)

	// A stale claim means a previous worker may have submitted the payout.
	// The ledger is asked before anything else happens.
	if p.Status == domain.PositionStatusTransferPending {
		if s.reconcile(ctx, p, ref, result, completed) {
			return
		}
		// Reservation unknown to the ledger: the old transfer never arrived
		// and the claim is still ours. Safe to pay out below.
	} else {
		if err := s.positions.Claim(ctx, p.ID, ref, s.now()); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				atomic.AddInt64(&result.Skipped, 1)
				return
			}
			s.logger.ErrorContext(ctx, "claim failed",
				slog.String("position_id", p.ID),
				slog.String("error", err.Error()),
			)
			atomic.AddInt64(&result.Skipped, 1)
			return
		}
	}

	s.payout(ctx, p, ref, result, completed)
}

// reconcile resolves a stale reservation against the ledger. Returns true
// when the position reached a final state here; false means the reservation
// never reached the ledger and the payout should be attempted.
func (s *SettlementSweeper) reconcile(ctx context.Context, p domain.InvestmentPosition, ref string, result *SweepResult, completed func(string)) bool {
	receipt, err := s.ledger.GetTransaction(ctx, ref)
	switch {
	case err == nil:
		// The earlier transfer finalized; complete without moving money.
		realized := p.AccruedYield(s.now())
		if _, err := s.positions.MarkCompleted(ctx, p.ID, realized, receipt.TxRef); err != nil {
			s.logger.ErrorContext(ctx, "mark completed after reconcile failed",
				slog.String("position_id", p.ID),
				slog.String("error", err.Error()),
			)
			atomic.AddInt64(&result.Retained, 1)
			return true
		}
		s.logger.InfoContext(ctx, "position reconciled from in-flight transfer",
			slog.String("position_id", p.ID),
			slog.String("tx_ref", receipt.TxRef),
		)
		s.auditLog(ctx, "settlement.reconciled", map[string]any{
			"position_id": p.ID,
			"tx_ref":      receipt.TxRef,
		})
		atomic.AddInt64(&result.Reconciled, 1)
		completed(p.ID)
		return true

	case errors.Is(err, domain.ErrNotFound):
		return false

	default:
		if rejected, ok := domain.IsLedgerRejected(err); ok {
			s.releaseAfterRejection(ctx, p, rejected, result)
			return true
		}
		// Still pending or the ledger is unreachable. Keep the claim.
		s.logger.WarnContext(ctx, "reconciliation inconclusive, claim retained",
			slog.String("position_id", p.ID),
			slog.String("client_ref", ref),
			slog.String("error", err.Error()),
		)
		atomic.AddInt64(&result.Retained, 1)
		return true
	}
}

// payout submits the principal-plus-yield transfer and completes the
// position. Runs with the claim held and the reservation ref durably written.
func (s *SettlementSweeper) payout(ctx context.Context, p domain.InvestmentPosition, ref string, result *SweepResult, completed func(string)) {
	realized := p.AccruedYield(s.now())
	total := p.PrincipalAmount.Add(realized)

	receipt, err := s.ledger.TransferFungible(ctx, domain.TransferRequest{
		TokenRef:  s.params.SettleToken,
		From:      s.params.TreasuryAccount,
		To:        p.InvestorChainAddress,
		Amount:    total,
		ClientRef: ref,
		Memo:      "settlement " + p.ID,
	}, nil)
	if err != nil {
		if rejected, ok := domain.IsLedgerRejected(err); ok {
			s.releaseAfterRejection(ctx, p, rejected, result)
			return
		}
		// Unknown outcome: the reservation stays and the next sweep
		// reconciles it by client reference.
		s.logger.ErrorContext(ctx, "payout outcome unknown, claim retained",
			slog.String("position_id", p.ID),
			slog.String("client_ref", ref),
			slog.String("error", err.Error()),
		)
		s.alert(ctx, "settlement.retained", "Settlement outcome unknown",
			fmt.Sprintf("position %s payout of %s is unconfirmed (ref %s); next sweep reconciles", p.ID, total, ref))
		atomic.AddInt64(&result.Retained, 1)
		return
	}

	if _, err := s.positions.MarkCompleted(ctx, p.ID, realized, receipt.TxRef); err != nil {
		s.logger.ErrorContext(ctx, "mark completed failed",
			slog.String("position_id", p.ID),
			slog.String("tx_ref", receipt.TxRef),
			slog.String("error", err.Error()),
		)
		atomic.AddInt64(&result.Retained, 1)
		return
	}

	s.logger.InfoContext(ctx, "position settled",
		slog.String("position_id", p.ID),
		slog.String("investor_id", p.InvestorID),
		slog.String("principal", p.PrincipalAmount.String()),
		slog.String("realized_yield", realized.String()),
		slog.String("tx_ref", receipt.TxRef),
	)
	s.auditLog(ctx, "settlement.completed", map[string]any{
		"position_id":    p.ID,
		"investor_id":    p.InvestorID,
		"principal":      p.PrincipalAmount.String(),
		"realized_yield": realized.String(),
		"tx_ref":         receipt.TxRef,
	})
	atomic.AddInt64(&result.Settled, 1)
	completed(p.ID)
}

func (s *SettlementSweeper) releaseAfterRejection(ctx context.Context, p domain.InvestmentPosition, rejected *domain.LedgerRejectedError, result *SweepResult) {
	if err := s.positions.ReleaseClaim(ctx, p.ID); err != nil {
		s.logger.ErrorContext(ctx, "release claim failed",
			slog.String("position_id", p.ID),
			slog.String("error", err.Error()),
		)
		atomic.AddInt64(&result.Retained, 1)
		return
	}
	s.logger.ErrorContext(ctx, "payout rejected, claim released",
		slog.String("position_id", p.ID),
		slog.String("reason", string(rejected.Reason)),
		slog.String("detail", rejected.Detail),
	)
	s.alert(ctx, "settlement.rejected", "Settlement payout rejected",
		fmt.Sprintf("position %s rejected: %s", p.ID, rejected.Reason))
	s.auditLog(ctx, "settlement.rejected", map[string]any{
		"position_id": p.ID,
		"reason":      string(rejected.Reason),
	})
	atomic.AddInt64(&result.Released, 1)
}

// Run schedules periodic sweep and intent-expiry jobs and blocks until the
// context is cancelled.
func (s *SettlementSweeper) Run(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("scheduler: create scheduler: %w", err)
	}

	if _, err := sched.NewJob(
		gocron.DurationJob(s.params.Interval),
		gocron.NewTask(func() {
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.ErrorContext(ctx, "sweep cycle failed", slog.String("error", err.Error()))
			}
		}),
	); err != nil {
		return fmt.Errorf("scheduler: register sweep job: %w", err)
	}

	if s.expirer != nil {
		if _, err := sched.NewJob(
			gocron.DurationJob(s.params.Interval),
			gocron.NewTask(func() {
				if _, err := s.expirer.ExpireStaleIntents(ctx); err != nil {
					s.logger.ErrorContext(ctx, "intent expiry failed", slog.String("error", err.Error()))
				}
			}),
		); err != nil {
			return fmt.Errorf("scheduler: register expiry job: %w", err)
		}
	}

	sched.Start()
	s.logger.InfoContext(ctx, "scheduler started", slog.Duration("interval", s.params.Interval))

	<-ctx.Done()
	if err := sched.Shutdown(); err != nil {
		return fmt.Errorf("scheduler: shutdown: %w", err)
	}
	return nil
}

func (s *SettlementSweeper) alert(ctx context.Context, event, title, message string) {
	if s.alerter == nil {
		return
	}
	if err := s.alerter.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "operator alert failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *SettlementSweeper) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
	}
}
