package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridianfi/rwa-engine/internal/domain"
)

// AssetStore implements domain.AssetStore using PostgreSQL.
type AssetStore struct {
	pool *pgxpool.Pool
}

// NewAssetStore creates a new AssetStore backed by the given connection pool.
func NewAssetStore(pool *pgxpool.Pool) *AssetStore {
	return &AssetStore{pool: pool}
}

const assetSelectCols = `id, ref, name, asset_type,
	share_ratio::text, yield_rate::text, term_days,
	escrow_account, active, created_at, updated_at`

func scanAssetRow(row pgx.Row) (domain.AssetPool, error) {
	var (
		a                     domain.AssetPool
		shareRatio, yieldRate string
	)

	err := row.Scan(
		&a.ID, &a.Ref, &a.Name, &a.AssetType,
		&shareRatio, &yieldRate, &a.TermDays,
		&a.EscrowAccount, &a.Active, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return domain.AssetPool{}, err
	}

	if a.ShareRatio, err = decimal.NewFromString(shareRatio); err != nil {
		return domain.AssetPool{}, fmt.Errorf("parse share ratio: %w", err)
	}
	if a.YieldRate, err = decimal.NewFromString(yieldRate); err != nil {
		return domain.AssetPool{}, fmt.Errorf("parse yield rate: %w", err)
	}
	return a, nil
}

// Create inserts a new asset pool.
func (s *AssetStore) Create(ctx context.Context, a domain.AssetPool) error {
	const query = `
		INSERT INTO asset_pools (
			id, ref, name, asset_type,
			share_ratio, yield_rate, term_days,
			escrow_account, active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.Ref, a.Name, a.AssetType,
		a.ShareRatio.String(), a.YieldRate.String(), a.TermDays,
		a.EscrowAccount, a.Active, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create asset pool %s: %w", a.ID, err)
	}
	return nil
}

// GetByID retrieves a single asset pool by its ID.
func (s *AssetStore) GetByID(ctx context.Context, id string) (domain.AssetPool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+assetSelectCols+` FROM asset_pools WHERE id = $1`, id)

	a, err := scanAssetRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.AssetPool{}, domain.ErrNotFound
		}
		return domain.AssetPool{}, fmt.Errorf("postgres: get asset pool %s: %w", id, err)
	}
	return a, nil
}

// ListActive returns all pools currently open for investment.
func (s *AssetStore) ListActive(ctx context.Context) ([]domain.AssetPool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+assetSelectCols+` FROM asset_pools WHERE active ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active asset pools: %w", err)
	}
	defer rows.Close()

	var pools []domain.AssetPool
	for rows.Next() {
		a, err := scanAssetRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan asset pool: %w", err)
		}
		pools = append(pools, a)
	}
	return pools, rows.Err()
}

// Compile-time interface check.
var _ domain.AssetStore = (*AssetStore)(nil)
