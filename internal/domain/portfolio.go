package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PortfolioTotals aggregates an investor's (or the platform's) pending
// positions: total value locked and yield accrued to date.
type PortfolioTotals struct {
	TVLPending            decimal.Decimal
	EarningsToDatePending decimal.Decimal
}

// PortfolioSummary is the shaped read payload consumed by the API layer:
// positions partitioned into pending and completed buckets plus aggregate
// totals.
type PortfolioSummary struct {
	Pending   []InvestmentPosition
	Completed []InvestmentPosition
	Totals    PortfolioTotals
}

// Summarize partitions positions and computes pending totals as of now.
// Cancelled positions appear in neither bucket.
func Summarize(positions []InvestmentPosition, now time.Time) PortfolioSummary {
	s := PortfolioSummary{
		Pending:   []InvestmentPosition{},
		Completed: []InvestmentPosition{},
		Totals: PortfolioTotals{
			TVLPending:            decimal.Zero,
			EarningsToDatePending: decimal.Zero,
		},
	}
	for _, p := range positions {
		switch {
		case p.Pending():
			s.Pending = append(s.Pending, p)
			s.Totals.TVLPending = s.Totals.TVLPending.Add(p.PrincipalAmount)
			s.Totals.EarningsToDatePending = s.Totals.EarningsToDatePending.Add(p.AccruedYield(now))
		case p.Status == PositionStatusCompleted:
			s.Completed = append(s.Completed, p)
		}
	}
	return s
}
