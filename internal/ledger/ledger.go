// Package ledger implements the idempotent balance-mutating transaction
// protocol: one atomic guarded write pairs a balance delta with an
// append-only transaction record, and guard failures are classified into
// typed outcomes instead of surfacing as raw store errors.
package ledger

import (
	"errors"
	"fmt"
)

// Kind is the direction of a transaction.
type Kind string

const (
	Credit Kind = "CREDIT"
	Debit  Kind = "DEBIT"
)

// Valid reports whether k is one of the two supported kinds.
func (k Kind) Valid() bool {
	return k == Credit || k == Debit
}

// Delta returns the signed balance change for amount under this kind.
func (k Kind) Delta(amount int64) int64 {
	if k == Debit {
		return -amount
	}
	return amount
}

// Result is the success outcome of Transact. Replayed marks an idempotent
// replay: the transaction was already durably applied by an earlier call and
// no state changed this time.
type Result struct {
	IdempotencyKey string
	UserID         string
	Balance        int64
	Replayed       bool
}

var (
	// ErrInsufficientBalance means a debit would take the balance negative.
	// Retrying cannot succeed until the balance changes.
	ErrInsufficientBalance = errors.New("insufficient balance: transaction would result in negative balance")

	// ErrAccountNotFound means the target account does not exist.
	ErrAccountNotFound = errors.New("account does not exist")
)

// TransientError wraps a store or infrastructure fault. It is the only error
// class callers may retry, and only with the same idempotency key; the record
// insert guard makes that retry safe.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	if e.Err == nil {
		return "transient ledger failure"
	}
	return fmt.Sprintf("transient ledger failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retryable with the same idempotency key.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
