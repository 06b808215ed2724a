package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrAlreadyProcessing = errors.New("already processing")
	ErrIntentExpired     = errors.New("swap intent expired")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrLedgerTimeout     = errors.New("ledger outcome unknown (timeout)")
	ErrVaultUnavailable  = errors.New("key vault unavailable")
	ErrSecretMissing     = errors.New("no custodial key for user")
	ErrLockHeld          = errors.New("lock already held")
)

// RejectReason classifies definitive ledger refusals.
type RejectReason string

const (
	ReasonInsufficientBalance RejectReason = "insufficient_balance"
	ReasonUnassociatedAccount RejectReason = "unassociated_account"
	ReasonInvalidSignature    RejectReason = "invalid_signature"
	ReasonUnknown             RejectReason = "unknown"
)

// LedgerRejectedError is returned when the ledger network definitively
// refused a transaction. Unlike ErrLedgerTimeout the outcome is known:
// nothing moved, and the caller may leave state for investigation or retry.
type LedgerRejectedError struct {
	Reason RejectReason
	TxRef  string
	Detail string
}

func (e *LedgerRejectedError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("ledger rejected: %s (%s)", e.Reason, e.Detail)
	}
	return fmt.Sprintf("ledger rejected: %s", e.Reason)
}

// IsLedgerRejected reports whether err wraps a LedgerRejectedError and, if
// so, returns it.
func IsLedgerRejected(err error) (*LedgerRejectedError, bool) {
	var lre *LedgerRejectedError
	if errors.As(err, &lre) {
		return lre, true
	}
	return nil, false
}

// ValidationError marks caller-supplied input that fails a constraint. It is
// surfaced immediately and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
