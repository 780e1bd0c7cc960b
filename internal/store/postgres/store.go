// Package postgres implements the Store capability on a PostgreSQL pool.
// Guarded mutations are expressed as conditional statements whose WHERE clause
// carries the guard; a zero rows-affected count is the guard-failure signal.
// The whole group runs in one SERIALIZABLE transaction, so either every op
// commits or none does.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/txledger/internal/store"
)

const queryTimeout = 5 * time.Second

// LedgerStore is a PostgreSQL-backed store. The pool is constructed once at
// startup and shared; the store holds no other state.
type LedgerStore struct {
	Pool *pgxpool.Pool
}

// NewLedgerStore wraps an existing pgx pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{Pool: pool}
}

// Provision creates the accounts and transactions tables if missing. Callers
// own the retry/backoff policy around it; schema readiness is a bootstrap
// concern, not a ledger one.
func (s *LedgerStore) Provision(ctx context.Context) error {
	queryCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := s.Pool.Exec(queryCtx, `
        CREATE TABLE IF NOT EXISTS accounts (
            user_id TEXT PRIMARY KEY,
            balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0)
        )
    `)
	if err != nil {
		return fmt.Errorf("failed to create accounts table: %w", err)
	}

	_, err = s.Pool.Exec(queryCtx, `
        CREATE TABLE IF NOT EXISTS transactions (
            idempotency_key TEXT PRIMARY KEY,
            user_id TEXT NOT NULL,
            amount BIGINT NOT NULL CHECK (amount > 0),
            kind TEXT NOT NULL,
            ts TIMESTAMPTZ NOT NULL
        )
    `)
	if err != nil {
		return fmt.Errorf("failed to create transactions table: %w", err)
	}

	return nil
}

// AtomicWrite applies the group in one transaction. Serialization conflicts
// (SQLSTATE 40001) are retried a few times before surfacing as an
// infrastructure error.
func (s *LedgerStore) AtomicWrite(ctx context.Context, ops []store.GuardedOp) (store.WriteResult, error) {
	const maxRetries = 3

	var res store.WriteResult
	for attempt := 0; attempt < maxRetries; attempt++ {
		var err error
		res, err = s.atomicWriteOnce(ctx, ops)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "40001" {
				if attempt == maxRetries-1 {
					return store.WriteResult{}, fmt.Errorf("atomic write failed after %d retries due to serialization failure: %w", maxRetries, err)
				}
				time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
				continue
			}
			return store.WriteResult{}, fmt.Errorf("atomic write failed: %w", err)
		}
		break
	}

	return res, nil
}

func (s *LedgerStore) atomicWriteOnce(ctx context.Context, ops []store.GuardedOp) (store.WriteResult, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	conn, err := s.Pool.Acquire(queryCtx)
	if err != nil {
		return store.WriteResult{}, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.BeginTx(queryCtx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return store.WriteResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(queryCtx)

	outcomes := make([]store.OpOutcome, len(ops))
	allHold := true
	for i, op := range ops {
		held, err := applyOp(queryCtx, tx, op)
		if err != nil {
			return store.WriteResult{}, err
		}
		if !held {
			outcomes[i].GuardFailed = true
			allHold = false
		}
	}

	if !allHold {
		// Rolled back by the deferred Rollback; report every guard outcome.
		return store.WriteResult{Committed: false, Outcomes: outcomes}, nil
	}

	if err := tx.Commit(queryCtx); err != nil {
		return store.WriteResult{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return store.WriteResult{Committed: true, Outcomes: outcomes}, nil
}

// applyOp runs one guarded statement and reports whether its guard held.
// Failed guards do not error: the statement simply matches zero rows, which
// lets the remaining ops still be evaluated for a complete outcome list.
func applyOp(ctx context.Context, tx pgx.Tx, op store.GuardedOp) (bool, error) {
	switch o := op.(type) {
	case store.UpdateBalance:
		var tag pgconn.CommandTag
		var err error
		if o.Guard.Kind == store.GuardMinBalance {
			tag, err = tx.Exec(ctx, `
                UPDATE accounts SET balance = balance + $1
                WHERE user_id = $2 AND balance >= $3
            `, o.Delta, o.UserID, o.Guard.Min)
		} else {
			tag, err = tx.Exec(ctx, `
                UPDATE accounts SET balance = balance + $1
                WHERE user_id = $2
            `, o.Delta, o.UserID)
		}
		if err != nil {
			return false, fmt.Errorf("failed to update balance: %w", err)
		}
		return tag.RowsAffected() == 1, nil

	case store.InsertRecord:
		tag, err := tx.Exec(ctx, `
            INSERT INTO transactions (idempotency_key, user_id, amount, kind, ts)
            VALUES ($1, $2, $3, $4, $5)
            ON CONFLICT (idempotency_key) DO NOTHING
        `, o.Record.IdempotencyKey, o.Record.UserID, o.Record.Amount, o.Record.Kind, o.Record.Timestamp)
		if err != nil {
			return false, fmt.Errorf("failed to insert transaction record: %w", err)
		}
		return tag.RowsAffected() == 1, nil
	}

	return false, fmt.Errorf("unknown guarded op %T", op)
}

// GetAccount returns the account row for userID.
func (s *LedgerStore) GetAccount(ctx context.Context, userID string) (store.Account, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var acct store.Account
	err := s.Pool.QueryRow(queryCtx, `
        SELECT user_id, balance FROM accounts WHERE user_id = $1
    `, userID).Scan(&acct.UserID, &acct.Balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Account{}, store.ErrAccountNotFound
		}
		return store.Account{}, fmt.Errorf("failed to get account: %w", err)
	}

	return acct, nil
}

// GetRecord returns the committed transaction record for idempotencyKey.
func (s *LedgerStore) GetRecord(ctx context.Context, idempotencyKey string) (store.Record, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var rec store.Record
	err := s.Pool.QueryRow(queryCtx, `
        SELECT idempotency_key, user_id, amount, kind, ts
        FROM transactions WHERE idempotency_key = $1
    `, idempotencyKey).Scan(&rec.IdempotencyKey, &rec.UserID, &rec.Amount, &rec.Kind, &rec.Timestamp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Record{}, store.ErrRecordNotFound
		}
		return store.Record{}, fmt.Errorf("failed to get transaction record: %w", err)
	}

	return rec, nil
}

// PutAccount creates or replaces an account row. Used by seeding and tests.
func (s *LedgerStore) PutAccount(ctx context.Context, acct store.Account) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.Pool.Exec(queryCtx, `
        INSERT INTO accounts (user_id, balance) VALUES ($1, $2)
        ON CONFLICT (user_id) DO UPDATE SET balance = EXCLUDED.balance
    `, acct.UserID, acct.Balance)
	if err != nil {
		return fmt.Errorf("failed to put account: %w", err)
	}

	return nil
}

var _ store.Store = (*LedgerStore)(nil)
