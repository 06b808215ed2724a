package service

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/meridianfi/rwa-engine/internal/domain"
	"github.com/meridianfi/rwa-engine/internal/store/memory"
)

func newTestWalletService(ledger *fakeLedger) (*WalletService, *fakeKeyVault) {
	kv := newFakeKeyVault()
	svc := NewWalletService(
		memory.NewWalletStore(),
		kv,
		ledger,
		memory.NewAuditStore(),
		discardLogger(),
	)
	return svc, kv
}

func TestCreateCustodialWallet(t *testing.T) {
	svc, kv := newTestWalletService(&fakeLedger{})
	ctx := context.Background()

	w, err := svc.CreateCustodialWallet(ctx, "user-1")
	if err != nil {
		t.Fatalf("CreateCustodialWallet: %v", err)
	}

	if w.UserID != "user-1" {
		t.Errorf("expected user-1, got %s", w.UserID)
	}
	if w.Alias == "" || w.PublicKey == "" {
		t.Error("expected ledger alias and public key")
	}
	if w.KeyName != "custodial-key-user-1" {
		t.Errorf("unexpected key name %s", w.KeyName)
	}

	key, err := kv.GetKey(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if len(key) == 0 {
		t.Error("expected private key in vault")
	}
}

func TestCreateCustodialWallet_Idempotent(t *testing.T) {
	ledger := &fakeLedger{}
	svc, _ := newTestWalletService(ledger)
	ctx := context.Background()

	first, err := svc.CreateCustodialWallet(ctx, "user-1")
	if err != nil {
		t.Fatalf("CreateCustodialWallet: %v", err)
	}
	second, err := svc.CreateCustodialWallet(ctx, "user-1")
	if err != nil {
		t.Fatalf("CreateCustodialWallet repeat: %v", err)
	}

	if first.Alias != second.Alias || first.PublicKey != second.PublicKey {
		t.Error("expected the existing wallet returned unchanged")
	}
	if ledger.accounts != 1 {
		t.Errorf("expected 1 ledger account, got %d", ledger.accounts)
	}
}

func TestCreateCustodialWallet_EmptyUser(t *testing.T) {
	svc, _ := newTestWalletService(&fakeLedger{})

	_, err := svc.CreateCustodialWallet(context.Background(), "")
	var ve *domain.ValidationError
	if !errors.As(err, &ve) || ve.Field != "userID" {
		t.Fatalf("expected userID validation error, got %v", err)
	}
}

func TestSigningKey_RoundTrip(t *testing.T) {
	svc, kv := newTestWalletService(&fakeLedger{})
	ctx := context.Background()

	if _, err := svc.CreateCustodialWallet(ctx, "user-1"); err != nil {
		t.Fatalf("CreateCustodialWallet: %v", err)
	}

	key, err := svc.SigningKey(ctx, "user-1")
	if err != nil {
		t.Fatalf("SigningKey: %v", err)
	}
	stored, err := kv.GetKey(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if !bytes.Equal(key, stored) {
		t.Error("expected the vaulted key returned unchanged")
	}
}

func TestSigningKey_Missing(t *testing.T) {
	svc, _ := newTestWalletService(&fakeLedger{})

	_, err := svc.SigningKey(context.Background(), "nobody")
	if !errors.Is(err, domain.ErrSecretMissing) {
		t.Fatalf("expected ErrSecretMissing, got %v", err)
	}
}
