package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridianfi/rwa-engine/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Amounts are
// stored as NUMERIC and cross the driver boundary as strings to avoid any
// float conversion.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection
// pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, investor_id, investor_chain_address,
	asset_id, asset_ref, asset_type,
	principal_amount::text, share_token_amount::text, yield_rate::text,
	expected_yield::text, realized_yield::text,
	status, deposit_tx_ref, settlement_tx_ref,
	claimed_at, matured_at, created_at, updated_at`

func scanPositionRow(row pgx.Row) (domain.InvestmentPosition, error) {
	var (
		p                                           domain.InvestmentPosition
		status                                      string
		principal, shares, yieldRate, expectedYield string
		realizedYield                               *string
	)

	err := row.Scan(
		&p.ID, &p.InvestorID, &p.InvestorChainAddress,
		&p.AssetID, &p.AssetRef, &p.AssetType,
		&principal, &shares, &yieldRate,
		&expectedYield, &realizedYield,
		&status, &p.DepositTxRef, &p.SettlementTxRef,
		&p.ClaimedAt, &p.MaturedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.InvestmentPosition{}, err
	}
	p.Status = domain.PositionStatus(status)

	if p.PrincipalAmount, err = decimal.NewFromString(principal); err != nil {
		return domain.InvestmentPosition{}, fmt.Errorf("parse principal: %w", err)
	}
	if p.ShareTokenAmount, err = decimal.NewFromString(shares); err != nil {
		return domain.InvestmentPosition{}, fmt.Errorf("parse share amount: %w", err)
	}
	if p.YieldRate, err = decimal.NewFromString(yieldRate); err != nil {
		return domain.InvestmentPosition{}, fmt.Errorf("parse yield rate: %w", err)
	}
	if p.ExpectedYield, err = decimal.NewFromString(expectedYield); err != nil {
		return domain.InvestmentPosition{}, fmt.Errorf("parse expected yield: %w", err)
	}
	if realizedYield != nil {
		ry, err := decimal.NewFromString(*realizedYield)
		if err != nil {
			return domain.InvestmentPosition{}, fmt.Errorf("parse realized yield: %w", err)
		}
		p.RealizedYield = &ry
	}
	return p, nil
}

func scanPositionRows(rows pgx.Rows) ([]domain.InvestmentPosition, error) {
	var positions []domain.InvestmentPosition
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a new position. The deposit tx ref must be set: a position
// without its on-chain cause is rejected before it reaches the database (the
// schema enforces the same invariant).
func (s *PositionStore) Create(ctx context.Context, p domain.InvestmentPosition) error {
	if p.DepositTxRef == "" {
		return &domain.ValidationError{Field: "depositTxRef", Reason: "must not be empty"}
	}

	const query = `
		INSERT INTO positions (
			id, investor_id, investor_chain_address,
			asset_id, asset_ref, asset_type,
			principal_amount, share_token_amount, yield_rate,
			expected_yield, status, deposit_tx_ref,
			matured_at, created_at, updated_at
		) VALUES (
			$1, $2, $3,
			$4, $5, $6,
			$7, $8, $9,
			$10, $11, $12,
			$13, $14, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.InvestorID, p.InvestorChainAddress,
		p.AssetID, p.AssetRef, p.AssetType,
		p.PrincipalAmount.String(), p.ShareTokenAmount.String(), p.YieldRate.String(),
		p.ExpectedYield.String(), string(p.Status), p.DepositTxRef,
		p.MaturedAt, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.InvestmentPosition, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPositionRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.InvestmentPosition{}, domain.ErrNotFound
		}
		return domain.InvestmentPosition{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListByInvestor returns all positions owned by the given investor.
func (s *PositionStore) ListByInvestor(ctx context.Context, investorID string) ([]domain.InvestmentPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE investor_id = $1
		 ORDER BY created_at DESC`, investorID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for %s: %w", investorID, err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions for %s: %w", investorID, err)
	}
	return positions, nil
}

// ListAll returns every position, newest first.
func (s *PositionStore) ListAll(ctx context.Context) ([]domain.InvestmentPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list all positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan all positions: %w", err)
	}
	return positions, nil
}

// ListSettleable returns positions due for settlement: matured actives plus
// stale transfer_pending claims whose workers have presumably crashed.
func (s *PositionStore) ListSettleable(ctx context.Context, now time.Time, claimTimeout time.Duration) ([]domain.InvestmentPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE (status = 'active' AND matured_at IS NOT NULL AND matured_at <= $1)
		    OR (status = 'transfer_pending' AND claimed_at <= $2)
		 ORDER BY matured_at ASC`,
		now, now.Add(-claimTimeout))
	if err != nil {
		return nil, fmt.Errorf("postgres: list settleable positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan settleable positions: %w", err)
	}
	return positions, nil
}

// Claim atomically reserves a position for settlement, recording the
// reservation ref before the payout transfer is submitted. The conditional
// UPDATE is the compare-and-set: a second claimer sees zero rows affected.
func (s *PositionStore) Claim(ctx context.Context, id, reservationRef string, now time.Time) error {
	const query = `
		UPDATE positions SET
			status            = 'transfer_pending',
			settlement_tx_ref = $2,
			claimed_at        = $3,
			updated_at        = NOW()
		WHERE id = $1 AND status = 'active'`

	tag, err := s.pool.Exec(ctx, query, id, reservationRef, now)
	if err != nil {
		return fmt.Errorf("postgres: claim position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: claim position %s: %w", id, domain.ErrInvalidTransition)
	}
	return nil
}

// ReleaseClaim returns a claimed position to active after a definitive
// ledger rejection, clearing the reservation so the next sweep retries.
func (s *PositionStore) ReleaseClaim(ctx context.Context, id string) error {
	const query = `
		UPDATE positions SET
			status            = 'active',
			settlement_tx_ref = NULL,
			claimed_at        = NULL,
			updated_at        = NOW()
		WHERE id = $1 AND status = 'transfer_pending'`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("postgres: release claim %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: release claim %s: %w", id, domain.ErrInvalidTransition)
	}
	return nil
}

// MarkCompleted transitions a position to completed with its realized yield
// and final settlement tx ref. Idempotent under retry: when the position has
// already reached a terminal state the stored row is returned unchanged.
func (s *PositionStore) MarkCompleted(ctx context.Context, id string, realizedYield decimal.Decimal, settlementTxRef string) (domain.InvestmentPosition, error) {
	const query = `
		UPDATE positions SET
			status            = 'completed',
			realized_yield    = $2,
			settlement_tx_ref = $3,
			claimed_at        = NULL,
			updated_at        = NOW()
		WHERE id = $1 AND status IN ('active', 'transfer_pending')`

	// Zero rows affected means the position was already terminal; the stored
	// state is the answer, not an error.
	if _, err := s.pool.Exec(ctx, query, id, realizedYield.String(), settlementTxRef); err != nil {
		return domain.InvestmentPosition{}, fmt.Errorf("postgres: complete position %s: %w", id, err)
	}

	return s.GetByID(ctx, id)
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
