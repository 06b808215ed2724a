package memory

import (
	"context"
	"sync"
	"time"

	"github.com/meridianfi/rwa-engine/internal/domain"
)

// IntentStore is an in-memory domain.IntentStore.
type IntentStore struct {
	mu      sync.Mutex
	intents map[string]domain.SwapIntent
	byRef   map[string]string
}

// NewIntentStore creates an empty IntentStore.
func NewIntentStore() *IntentStore {
	return &IntentStore{
		intents: make(map[string]domain.SwapIntent),
		byRef:   make(map[string]string),
	}
}

// Create inserts a new intent.
func (s *IntentStore) Create(_ context.Context, i domain.SwapIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.intents[i.ID]; ok {
		return domain.ErrAlreadyExists
	}
	if _, ok := s.byRef[i.ExternalRef]; ok {
		return domain.ErrAlreadyExists
	}
	s.intents[i.ID] = i
	s.byRef[i.ExternalRef] = i.ID
	return nil
}

// GetByID retrieves an intent.
func (s *IntentStore) GetByID(_ context.Context, id string) (domain.SwapIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(id)
}

// GetByExternalRef retrieves an intent by idempotency key.
func (s *IntentStore) GetByExternalRef(_ context.Context, ref string) (domain.SwapIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byRef[ref]
	if !ok {
		return domain.SwapIntent{}, domain.ErrNotFound
	}
	return s.get(id)
}

func (s *IntentStore) get(id string) (domain.SwapIntent, error) {
	i, ok := s.intents[id]
	if !ok {
		return domain.SwapIntent{}, domain.ErrNotFound
	}
	return i, nil
}

// Settle moves prepared to settled when still within the validity window.
func (s *IntentStore) Settle(_ context.Context, id, proofRef string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.intents[id]
	if !ok {
		return domain.ErrNotFound
	}
	if i.Phase != domain.IntentPhasePrepared || !i.ExpiresAt.After(now) {
		return domain.ErrInvalidTransition
	}
	ref := proofRef
	i.Phase = domain.IntentPhaseSettled
	i.ProofRef = &ref
	i.UpdatedAt = now
	s.intents[id] = i
	return nil
}

// MarkExpired transitions a prepared intent to expired.
func (s *IntentStore) MarkExpired(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.intents[id]
	if !ok {
		return domain.ErrNotFound
	}
	if i.Phase != domain.IntentPhasePrepared {
		return domain.ErrInvalidTransition
	}
	i.Phase = domain.IntentPhaseExpired
	s.intents[id] = i
	return nil
}

// ExpireStale expires every prepared intent past its deadline.
func (s *IntentStore) ExpireStale(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, i := range s.intents {
		if i.Phase == domain.IntentPhasePrepared && !i.ExpiresAt.After(now) {
			i.Phase = domain.IntentPhaseExpired
			s.intents[id] = i
			n++
		}
	}
	return n, nil
}

// Cancel removes a prepared intent.
func (s *IntentStore) Cancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.intents[id]
	if !ok {
		return domain.ErrNotFound
	}
	if i.Phase != domain.IntentPhasePrepared {
		return domain.ErrInvalidTransition
	}
	delete(s.intents, id)
	delete(s.byRef, i.ExternalRef)
	return nil
}

// ClaimConversion reserves a settled deposit intent for conversion.
func (s *IntentStore) ClaimConversion(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.intents[id]
	if !ok {
		return domain.ErrNotFound
	}
	if i.Phase != domain.IntentPhaseSettled ||
		i.Direction != domain.SwapDirectionDeposit ||
		i.ConversionState != domain.ConversionIdle {
		return domain.ErrAlreadyProcessing
	}
	i.ConversionState = domain.ConversionProcessing
	s.intents[id] = i
	return nil
}

// ReleaseConversion returns a processing intent to idle.
func (s *IntentStore) ReleaseConversion(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.intents[id]
	if !ok {
		return domain.ErrNotFound
	}
	if i.ConversionState != domain.ConversionProcessing {
		return domain.ErrInvalidTransition
	}
	i.ConversionState = domain.ConversionIdle
	s.intents[id] = i
	return nil
}

// MarkConsumed records the position created for this intent.
func (s *IntentStore) MarkConsumed(_ context.Context, id, positionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.intents[id]
	if !ok {
		return domain.ErrNotFound
	}
	if i.ConversionState != domain.ConversionProcessing {
		return domain.ErrInvalidTransition
	}
	pid := positionID
	i.ConversionState = domain.ConversionConsumed
	i.PositionID = &pid
	s.intents[id] = i
	return nil
}

// SetPayoutTxRef records the outbound transfer for a withdraw intent.
func (s *IntentStore) SetPayoutTxRef(_ context.Context, id, txRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.intents[id]
	if !ok {
		return domain.ErrNotFound
	}
	ref := txRef
	i.PayoutTxRef = &ref
	s.intents[id] = i
	return nil
}

// Compile-time interface check.
var _ domain.IntentStore = (*IntentStore)(nil)
