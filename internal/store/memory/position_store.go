// Package memory provides in-memory implementations of the domain store
// interfaces with the same compare-and-set semantics as the PostgreSQL
// stores. They back the service and scheduler tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianfi/rwa-engine/internal/domain"
)

// PositionStore is an in-memory domain.PositionStore.
type PositionStore struct {
	mu        sync.Mutex
	positions map[string]domain.InvestmentPosition
}

// NewPositionStore creates an empty PositionStore.
func NewPositionStore() *PositionStore {
	return &PositionStore{positions: make(map[string]domain.InvestmentPosition)}
}

// Create inserts a new position.
func (s *PositionStore) Create(_ context.Context, p domain.InvestmentPosition) error {
	if p.DepositTxRef == "" {
		return &domain.ValidationError{Field: "depositTxRef", Reason: "must not be empty"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[p.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.positions[p.ID] = p
	return nil
}

// GetByID retrieves a position.
func (s *PositionStore) GetByID(_ context.Context, id string) (domain.InvestmentPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return domain.InvestmentPosition{}, domain.ErrNotFound
	}
	return p, nil
}

// ListByInvestor returns positions owned by the investor, newest first.
func (s *PositionStore) ListByInvestor(_ context.Context, investorID string) ([]domain.InvestmentPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.InvestmentPosition
	for _, p := range s.positions {
		if p.InvestorID == investorID {
			out = append(out, p)
		}
	}
	sortByCreatedDesc(out)
	return out, nil
}

// ListAll returns every position, newest first.
func (s *PositionStore) ListAll(_ context.Context) ([]domain.InvestmentPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.InvestmentPosition, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	sortByCreatedDesc(out)
	return out, nil
}

// ListSettleable returns matured actives and stale claims.
func (s *PositionStore) ListSettleable(_ context.Context, now time.Time, claimTimeout time.Duration) ([]domain.InvestmentPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.InvestmentPosition
	for _, p := range s.positions {
		switch p.Status {
		case domain.PositionStatusActive:
			if p.Matured(now) {
				out = append(out, p)
			}
		case domain.PositionStatusTransferPending:
			if p.ClaimedAt != nil && !p.ClaimedAt.After(now.Add(-claimTimeout)) {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

// Claim atomically reserves an active position for settlement.
func (s *PositionStore) Claim(_ context.Context, id, reservationRef string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status != domain.PositionStatusActive {
		return domain.ErrInvalidTransition
	}
	ref := reservationRef
	claimed := now
	p.Status = domain.PositionStatusTransferPending
	p.SettlementTxRef = &ref
	p.ClaimedAt = &claimed
	p.UpdatedAt = now
	s.positions[id] = p
	return nil
}

// ReleaseClaim returns a claimed position to active.
func (s *PositionStore) ReleaseClaim(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status != domain.PositionStatusTransferPending {
		return domain.ErrInvalidTransition
	}
	p.Status = domain.PositionStatusActive
	p.SettlementTxRef = nil
	p.ClaimedAt = nil
	p.UpdatedAt = time.Now().UTC()
	s.positions[id] = p
	return nil
}

// MarkCompleted completes a position; idempotent when already terminal.
func (s *PositionStore) MarkCompleted(_ context.Context, id string, realizedYield decimal.Decimal, settlementTxRef string) (domain.InvestmentPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return domain.InvestmentPosition{}, domain.ErrNotFound
	}
	if p.Status.Terminal() {
		return p, nil
	}
	ry := realizedYield
	ref := settlementTxRef
	p.Status = domain.PositionStatusCompleted
	p.RealizedYield = &ry
	p.SettlementTxRef = &ref
	p.ClaimedAt = nil
	p.UpdatedAt = time.Now().UTC()
	s.positions[id] = p
	return p, nil
}

func sortByCreatedDesc(out []domain.InvestmentPosition) {
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
