package memory

import (
	"context"
	"sync"
	"time"

	"github.com/meridianfi/rwa-engine/internal/domain"
)

// AssetStore is an in-memory domain.AssetStore.
type AssetStore struct {
	mu    sync.Mutex
	pools map[string]domain.AssetPool
}

// NewAssetStore creates an empty AssetStore.
func NewAssetStore() *AssetStore {
	return &AssetStore{pools: make(map[string]domain.AssetPool)}
}

// Create inserts a new asset pool.
func (s *AssetStore) Create(_ context.Context, a domain.AssetPool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pools[a.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.pools[a.ID] = a
	return nil
}

// GetByID retrieves a pool.
func (s *AssetStore) GetByID(_ context.Context, id string) (domain.AssetPool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.pools[id]
	if !ok {
		return domain.AssetPool{}, domain.ErrNotFound
	}
	return a, nil
}

// ListActive returns pools open for investment.
func (s *AssetStore) ListActive(_ context.Context) ([]domain.AssetPool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.AssetPool
	for _, a := range s.pools {
		if a.Active {
			out = append(out, a)
		}
	}
	return out, nil
}

// WalletStore is an in-memory domain.WalletStore.
type WalletStore struct {
	mu      sync.Mutex
	wallets map[string]domain.CustodialWallet
}

// NewWalletStore creates an empty WalletStore.
func NewWalletStore() *WalletStore {
	return &WalletStore{wallets: make(map[string]domain.CustodialWallet)}
}

// Put inserts or replaces a wallet record.
func (s *WalletStore) Put(_ context.Context, w domain.CustodialWallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets[w.UserID] = w
	return nil
}

// GetByUserID retrieves a wallet record.
func (s *WalletStore) GetByUserID(_ context.Context, userID string) (domain.CustodialWallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[userID]
	if !ok {
		return domain.CustodialWallet{}, domain.ErrNotFound
	}
	return w, nil
}

// AuditStore is an in-memory domain.AuditStore.
type AuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

// NewAuditStore creates an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

// Log appends an audit entry.
func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, domain.AuditEntry{
		ID:        int64(len(s.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// List returns the most recent entries, newest first.
func (s *AuditStore) List(_ context.Context, limit int) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.AuditEntry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.entries[i])
	}
	return out, nil
}

// LockManager is an in-memory domain.LockManager for tests.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]bool
}

// NewLockManager creates an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]bool)}
}

// Acquire grabs the key or returns ErrLockHeld. TTL is ignored; tests
// release locks explicitly through the returned closure.
func (lm *LockManager) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.locks[key] {
		return nil, domain.ErrLockHeld
	}
	lm.locks[key] = true

	released := false
	return func() {
		lm.mu.Lock()
		defer lm.mu.Unlock()
		if !released {
			released = true
			delete(lm.locks, key)
		}
	}, nil
}

// Compile-time interface checks.
var (
	_ domain.AssetStore  = (*AssetStore)(nil)
	_ domain.WalletStore = (*WalletStore)(nil)
	_ domain.AuditStore  = (*AuditStore)(nil)
	_ domain.LockManager = (*LockManager)(nil)
)
