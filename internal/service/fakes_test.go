package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianfi/rwa-engine/internal/domain"
	"github.com/meridianfi/rwa-engine/internal/store/memory"
)

// fakeLedger records transfers and returns scripted outcomes.
type fakeLedger struct {
	mu          sync.Mutex
	transfers   []domain.TransferRequest
	issues      []*domain.IssueRequest
	transferErr error
	submitLost  bool                      // record the submission, then report the outcome unknown once
	lookups     map[string]domain.Receipt // client ref -> finalized receipt
	accounts    int

	// transferGate, when set, makes each transfer announce entry with a
	// send and then block until it receives. Set before goroutines start.
	transferGate chan struct{}
}

func (f *fakeLedger) TransferFungible(_ context.Context, req domain.TransferRequest, issue *domain.IssueRequest) (domain.Receipt, error) {
	if f.transferGate != nil {
		f.transferGate <- struct{}{}
		<-f.transferGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transferErr != nil {
		return domain.Receipt{}, f.transferErr
	}
	f.transfers = append(f.transfers, req)
	f.issues = append(f.issues, issue)
	if f.submitLost {
		f.submitLost = false
		return domain.Receipt{}, fmt.Errorf("finality not observed for %s: %w", req.ClientRef, domain.ErrLedgerTimeout)
	}
	return domain.Receipt{
		TxRef:       fmt.Sprintf("tx-%d", len(f.transfers)),
		ConsensusAt: time.Now().UTC(),
	}, nil
}

func (f *fakeLedger) MintAndIssue(context.Context, domain.TokenSpec) (domain.Receipt, error) {
	return domain.Receipt{TxRef: "tx-mint"}, nil
}

func (f *fakeLedger) GetTransaction(_ context.Context, clientRef string) (domain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if receipt, ok := f.lookups[clientRef]; ok {
		return receipt, nil
	}
	return domain.Receipt{}, domain.ErrNotFound
}

func (f *fakeLedger) CreateAccount(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts++
	return fmt.Sprintf("acct-%d", f.accounts), nil
}

func (f *fakeLedger) transferCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transfers)
}

// fakeKeyVault is an in-memory KeyCustodian.
type fakeKeyVault struct {
	mu   sync.Mutex
	keys map[string][]byte
}

func newFakeKeyVault() *fakeKeyVault {
	return &fakeKeyVault{keys: make(map[string][]byte)}
}

func (f *fakeKeyVault) StoreKey(_ context.Context, userID string, privateKey []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[userID] = append([]byte(nil), privateKey...)
	return nil
}

func (f *fakeKeyVault) GetKey(_ context.Context, userID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, ok := f.keys[userID]
	if !ok {
		return nil, domain.ErrSecretMissing
	}
	return key, nil
}

func (f *fakeKeyVault) KeyName(userID string) string {
	return "custodial-key-" + userID
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testSwapParams() SwapParams {
	return SwapParams{
		MinAmount: decimal.NewFromInt(10),
		MaxAmount: decimal.NewFromInt(100000),
		ConversionRates: map[string]decimal.Decimal{
			"USD": decimal.NewFromInt(1),
			"EUR": decimal.RequireFromString("1.1"),
		},
		IntentWindow:    30 * time.Minute,
		DepositAccount:  "acct-deposits",
		SettleToken:     "USDM",
		TreasuryAccount: "acct-treasury",
		LockTTL:         time.Minute,
	}
}

func newTestSwapService(ledger domain.LedgerClient) (*SwapService, *memory.IntentStore) {
	intents := memory.NewIntentStore()
	return NewSwapService(
		intents,
		memory.NewLockManager(),
		ledger,
		memory.NewAuditStore(),
		testSwapParams(),
		discardLogger(),
	), intents
}

func preparedAsset() domain.AssetPool {
	return domain.AssetPool{
		ID:            "asset-1",
		Ref:           "POOL-A",
		Name:          "Pool A",
		AssetType:     "treasury_bill",
		ShareRatio:    decimal.NewFromInt(10),
		YieldRate:     decimal.RequireFromString("0.1"),
		TermDays:      90,
		EscrowAccount: "acct-escrow",
		Active:        true,
		CreatedAt:     time.Now().UTC(),
	}
}
