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

// IntentStore implements domain.IntentStore using PostgreSQL.
type IntentStore struct {
	pool *pgxpool.Pool
}

// NewIntentStore creates a new IntentStore backed by the given connection
// pool.
func NewIntentStore(pool *pgxpool.Pool) *IntentStore {
	return &IntentStore{pool: pool}
}

const intentSelectCols = `id, external_ref, direction, investor_id,
	source_currency, target_currency,
	requested_amount::text, quoted_amount::text, rate::text,
	phase, conversion_state, proof_ref, payout_tx_ref, position_id,
	destination, deposit_ref, expires_at, created_at, updated_at`

func scanIntentRow(row pgx.Row) (domain.SwapIntent, error) {
	var (
		i                       domain.SwapIntent
		direction, phase, state string
		requested, quoted, rate string
	)

	err := row.Scan(
		&i.ID, &i.ExternalRef, &direction, &i.InvestorID,
		&i.SourceCurrency, &i.TargetCurrency,
		&requested, &quoted, &rate,
		&phase, &state, &i.ProofRef, &i.PayoutTxRef, &i.PositionID,
		&i.Destination, &i.DepositRef, &i.ExpiresAt, &i.CreatedAt, &i.UpdatedAt,
	)
	if err != nil {
		return domain.SwapIntent{}, err
	}
	i.Direction = domain.SwapDirection(direction)
	i.Phase = domain.IntentPhase(phase)
	i.ConversionState = domain.ConversionState(state)

	if i.RequestedAmount, err = decimal.NewFromString(requested); err != nil {
		return domain.SwapIntent{}, fmt.Errorf("parse requested amount: %w", err)
	}
	if i.QuotedAmount, err = decimal.NewFromString(quoted); err != nil {
		return domain.SwapIntent{}, fmt.Errorf("parse quoted amount: %w", err)
	}
	if i.Rate, err = decimal.NewFromString(rate); err != nil {
		return domain.SwapIntent{}, fmt.Errorf("parse rate: %w", err)
	}
	return i, nil
}

// Create inserts a new intent in prepared phase.
func (s *IntentStore) Create(ctx context.Context, i domain.SwapIntent) error {
	const query = `
		INSERT INTO swap_intents (
			id, external_ref, direction, investor_id,
			source_currency, target_currency,
			requested_amount, quoted_amount, rate,
			phase, conversion_state, destination, deposit_ref,
			expires_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6,
			$7, $8, $9,
			$10, $11, $12, $13,
			$14, $15, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		i.ID, i.ExternalRef, string(i.Direction), i.InvestorID,
		i.SourceCurrency, i.TargetCurrency,
		i.RequestedAmount.String(), i.QuotedAmount.String(), i.Rate.String(),
		string(i.Phase), string(i.ConversionState), i.Destination, i.DepositRef,
		i.ExpiresAt, i.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create intent %s: %w", i.ID, err)
	}
	return nil
}

// GetByID retrieves an intent by its ID.
func (s *IntentStore) GetByID(ctx context.Context, id string) (domain.SwapIntent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+intentSelectCols+` FROM swap_intents WHERE id = $1`, id)

	i, err := scanIntentRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.SwapIntent{}, domain.ErrNotFound
		}
		return domain.SwapIntent{}, fmt.Errorf("postgres: get intent %s: %w", id, err)
	}
	return i, nil
}

// GetByExternalRef retrieves an intent by the caller's idempotency key.
func (s *IntentStore) GetByExternalRef(ctx context.Context, ref string) (domain.SwapIntent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+intentSelectCols+` FROM swap_intents WHERE external_ref = $1`, ref)

	i, err := scanIntentRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.SwapIntent{}, domain.ErrNotFound
		}
		return domain.SwapIntent{}, fmt.Errorf("postgres: get intent by ref %s: %w", ref, err)
	}
	return i, nil
}

// Settle atomically moves a prepared intent to settled. The expiry deadline
// sits in the WHERE clause so an expired intent can never settle, whatever
// the caller believed when it read the row.
func (s *IntentStore) Settle(ctx context.Context, id, proofRef string, now time.Time) error {
	const query = `
		UPDATE swap_intents SET
			phase      = 'settled',
			proof_ref  = $2,
			updated_at = NOW()
		WHERE id = $1 AND phase = 'prepared' AND expires_at > $3`

	tag, err := s.pool.Exec(ctx, query, id, proofRef, now)
	if err != nil {
		return fmt.Errorf("postgres: settle intent %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: settle intent %s: %w", id, domain.ErrInvalidTransition)
	}
	return nil
}

// MarkExpired transitions a prepared intent to expired.
func (s *IntentStore) MarkExpired(ctx context.Context, id string) error {
	const query = `
		UPDATE swap_intents SET phase = 'expired', updated_at = NOW()
		WHERE id = $1 AND phase = 'prepared'`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("postgres: expire intent %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: expire intent %s: %w", id, domain.ErrInvalidTransition)
	}
	return nil
}

// ExpireStale marks every prepared intent past its deadline expired.
func (s *IntentStore) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	const query = `
		UPDATE swap_intents SET phase = 'expired', updated_at = NOW()
		WHERE phase = 'prepared' AND expires_at <= $1`

	tag, err := s.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("postgres: expire stale intents: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Cancel deletes a prepared intent. Settled or expired intents are kept for
// audit and cannot be cancelled.
func (s *IntentStore) Cancel(ctx context.Context, id string) error {
	const query = `DELETE FROM swap_intents WHERE id = $1 AND phase = 'prepared'`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("postgres: cancel intent %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: cancel intent %s: %w", id, domain.ErrInvalidTransition)
	}
	return nil
}

// ClaimConversion reserves a settled deposit intent for conversion. At most
// one conversion per intent is in flight: a concurrent second claim sees
// zero rows and gets ErrAlreadyProcessing.
func (s *IntentStore) ClaimConversion(ctx context.Context, id string) error {
	const query = `
		UPDATE swap_intents SET conversion_state = 'processing', updated_at = NOW()
		WHERE id = $1 AND phase = 'settled' AND direction = 'deposit'
		  AND conversion_state = 'idle'`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("postgres: claim conversion %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: claim conversion %s: %w", id, domain.ErrAlreadyProcessing)
	}
	return nil
}

// ReleaseConversion returns a processing intent to idle after a definitive
// conversion failure, so the operator can retry without re-charging.
func (s *IntentStore) ReleaseConversion(ctx context.Context, id string) error {
	const query = `
		UPDATE swap_intents SET conversion_state = 'idle', updated_at = NOW()
		WHERE id = $1 AND conversion_state = 'processing'`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("postgres: release conversion %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: release conversion %s: %w", id, domain.ErrInvalidTransition)
	}
	return nil
}

// MarkConsumed records that a position now exists for this intent.
func (s *IntentStore) MarkConsumed(ctx context.Context, id, positionID string) error {
	const query = `
		UPDATE swap_intents SET
			conversion_state = 'consumed',
			position_id      = $2,
			updated_at       = NOW()
		WHERE id = $1 AND conversion_state = 'processing'`

	tag, err := s.pool.Exec(ctx, query, id, positionID)
	if err != nil {
		return fmt.Errorf("postgres: consume intent %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: consume intent %s: %w", id, domain.ErrInvalidTransition)
	}
	return nil
}

// SetPayoutTxRef records the outbound transfer for a withdraw intent.
func (s *IntentStore) SetPayoutTxRef(ctx context.Context, id, txRef string) error {
	const query = `
		UPDATE swap_intents SET payout_tx_ref = $2, updated_at = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, txRef)
	if err != nil {
		return fmt.Errorf("postgres: set payout ref %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Compile-time interface check.
var _ domain.IntentStore = (*IntentStore)(nil)
