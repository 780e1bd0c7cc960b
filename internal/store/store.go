// Package store defines the atomic conditional multi-record write capability
// the ledger engine is built on, together with the persisted account and
// transaction record shapes. Adapters (postgres, sqlite, memory) implement
// Store; the engine never talks to a database directly.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAccountNotFound is returned by point reads for unknown users.
	ErrAccountNotFound = errors.New("account not found")

	// ErrRecordNotFound is returned by point reads for unknown idempotency keys.
	ErrRecordNotFound = errors.New("transaction record not found")
)

// Account is a user balance row. Balance is in minor currency units and is
// never negative once persisted.
type Account struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}

// Record is an immutable ledger entry keyed by its idempotency key. At most
// one record ever exists per key; adapters enforce this with the insert guard.
type Record struct {
	IdempotencyKey string    `json:"idempotency_key"`
	UserID         string    `json:"user_id"`
	Amount         int64     `json:"amount"`
	Kind           string    `json:"kind"`
	Timestamp      time.Time `json:"timestamp"`
}

// GuardedOp is one conditional mutation inside an atomic write group. It is a
// sealed sum type: UpdateBalance and InsertRecord are the only members.
type GuardedOp interface {
	guardedOp()
}

// GuardKind selects the precondition attached to a balance update.
type GuardKind int

const (
	// GuardAccountExists requires the account row to be present.
	GuardAccountExists GuardKind = iota
	// GuardMinBalance requires the pre-image balance to be >= Min. An absent
	// account also fails this guard.
	GuardMinBalance
)

// Guard is the precondition on an UpdateBalance op.
type Guard struct {
	Kind GuardKind
	Min  int64
}

// UpdateBalance adds Delta to the account's balance if Guard holds.
type UpdateBalance struct {
	UserID string
	Delta  int64
	Guard  Guard
}

func (UpdateBalance) guardedOp() {}

// InsertRecord appends a ledger record. Its implicit guard is that no record
// with the same idempotency key exists.
type InsertRecord struct {
	Record Record
}

func (InsertRecord) guardedOp() {}

// OpOutcome reports, for a single op, whether its guard held. Meaningful only
// when the group did not commit.
type OpOutcome struct {
	GuardFailed bool
}

// WriteResult is the typed outcome of an AtomicWrite. Outcomes is ordered the
// same as the submitted ops and is populated for every op, including ops whose
// guards held while a sibling's failed. Guard rejection is data, not an error.
type WriteResult struct {
	Committed bool
	Outcomes  []OpOutcome
}

// GuardFailedAt reports whether the op at index i was rejected by its guard.
// Out-of-range indexes report false.
func (r WriteResult) GuardFailedAt(i int) bool {
	if i < 0 || i >= len(r.Outcomes) {
		return false
	}
	return r.Outcomes[i].GuardFailed
}

// Store is the transactional capability consumed by the ledger engine.
//
// AtomicWrite applies all ops or none. When any guard fails the group is
// rolled back and the result reports every op's guard outcome. Errors are
// reserved for infrastructure faults (connectivity, timeouts); a clean guard
// rejection returns a nil error.
type Store interface {
	AtomicWrite(ctx context.Context, ops []GuardedOp) (WriteResult, error)
	GetAccount(ctx context.Context, userID string) (Account, error)
	GetRecord(ctx context.Context, idempotencyKey string) (Record, error)
	PutAccount(ctx context.Context, acct Account) error
}
