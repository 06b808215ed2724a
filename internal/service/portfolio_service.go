package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridianfi/rwa-engine/internal/domain"
)

// PortfolioService shapes position reads for the API layer: pending and
// completed buckets with pending-value totals.
type PortfolioService struct {
	positions domain.PositionStore
	logger    *slog.Logger
	now       func() time.Time
}

// NewPortfolioService creates a PortfolioService.
func NewPortfolioService(positions domain.PositionStore, logger *slog.Logger) *PortfolioService {
	return &PortfolioService{
		positions: positions,
		logger:    logger.With(slog.String("component", "portfolio_service")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Summary returns one investor's portfolio with accrual computed as of the
// call.
func (s *PortfolioService) Summary(ctx context.Context, investorID string) (domain.PortfolioSummary, error) {
	if investorID == "" {
		return domain.PortfolioSummary{}, &domain.ValidationError{Field: "investorID", Reason: "must not be empty"}
	}
	positions, err := s.positions.ListByInvestor(ctx, investorID)
	if err != nil {
		return domain.PortfolioSummary{}, fmt.Errorf("portfolio_service: positions for %s: %w", investorID, err)
	}
	return domain.Summarize(positions, s.now()), nil
}

// PlatformSummary aggregates every investor's positions into one view. Used
// for operator dashboards and treasury sizing.
func (s *PortfolioService) PlatformSummary(ctx context.Context) (domain.PortfolioSummary, error) {
	positions, err := s.positions.ListAll(ctx)
	if err != nil {
		return domain.PortfolioSummary{}, fmt.Errorf("portfolio_service: list positions: %w", err)
	}
	return domain.Summarize(positions, s.now()), nil
}
