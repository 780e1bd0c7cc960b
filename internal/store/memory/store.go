// Package memory is an in-process Store adapter. A single mutex stands in for
// the transactional engine: every atomic write evaluates all guards under the
// lock and applies the group only when all of them hold.
package memory

import (
	"context"
	"sync"

	"github.com/example/txledger/internal/store"
)

// LedgerStore keeps accounts and transaction records in maps. Safe for
// concurrent use.
type LedgerStore struct {
	mu       sync.Mutex
	accounts map[string]int64
	records  map[string]store.Record
}

// NewLedgerStore returns an empty in-memory store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		accounts: make(map[string]int64),
		records:  make(map[string]store.Record),
	}
}

// AtomicWrite evaluates every op's guard against the current state and applies
// the whole group only when all guards hold. Outcomes always cover every op.
func (s *LedgerStore) AtomicWrite(ctx context.Context, ops []store.GuardedOp) (store.WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return store.WriteResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	outcomes := make([]store.OpOutcome, len(ops))
	allHold := true
	for i, op := range ops {
		if !s.guardHolds(op) {
			outcomes[i].GuardFailed = true
			allHold = false
		}
	}

	if !allHold {
		return store.WriteResult{Committed: false, Outcomes: outcomes}, nil
	}

	for _, op := range ops {
		switch o := op.(type) {
		case store.UpdateBalance:
			s.accounts[o.UserID] += o.Delta
		case store.InsertRecord:
			s.records[o.Record.IdempotencyKey] = o.Record
		}
	}
	return store.WriteResult{Committed: true, Outcomes: outcomes}, nil
}

func (s *LedgerStore) guardHolds(op store.GuardedOp) bool {
	switch o := op.(type) {
	case store.UpdateBalance:
		bal, ok := s.accounts[o.UserID]
		switch o.Guard.Kind {
		case store.GuardMinBalance:
			return ok && bal >= o.Guard.Min
		default:
			return ok
		}
	case store.InsertRecord:
		_, dup := s.records[o.Record.IdempotencyKey]
		return !dup
	}
	return false
}

// GetAccount returns the account for userID or store.ErrAccountNotFound.
func (s *LedgerStore) GetAccount(ctx context.Context, userID string) (store.Account, error) {
	if err := ctx.Err(); err != nil {
		return store.Account{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bal, ok := s.accounts[userID]
	if !ok {
		return store.Account{}, store.ErrAccountNotFound
	}
	return store.Account{UserID: userID, Balance: bal}, nil
}

// GetRecord returns the record for idempotencyKey or store.ErrRecordNotFound.
func (s *LedgerStore) GetRecord(ctx context.Context, idempotencyKey string) (store.Record, error) {
	if err := ctx.Err(); err != nil {
		return store.Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[idempotencyKey]
	if !ok {
		return store.Record{}, store.ErrRecordNotFound
	}
	return rec, nil
}

// PutAccount creates or replaces an account row.
func (s *LedgerStore) PutAccount(ctx context.Context, acct store.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts[acct.UserID] = acct.Balance
	return nil
}

var _ store.Store = (*LedgerStore)(nil)
