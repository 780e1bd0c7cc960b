// Package sqlite implements the Store capability on an embedded SQLite
// database. It mirrors the postgres adapter: guards live in the WHERE clause
// of conditional statements, rows-affected is the guard signal, and the group
// runs in a single immediate transaction.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/example/txledger/internal/store"
)

// LedgerStore is a SQLite-backed store for single-node and development use.
type LedgerStore struct {
	DB *sql.DB
}

// Open opens (or creates) the database at path. The immediate transaction
// lock mode makes write transactions take the write lock up front, which is
// what gives AtomicWrite its all-or-nothing behavior under concurrency.
func Open(path string) (*LedgerStore, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite allows one writer at a time; a larger pool only produces
	// SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	return &LedgerStore{DB: db}, nil
}

// Provision creates the schema if missing.
func (s *LedgerStore) Provision(ctx context.Context) error {
	_, err := s.DB.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS accounts (
            user_id TEXT PRIMARY KEY,
            balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0)
        );
        CREATE TABLE IF NOT EXISTS transactions (
            idempotency_key TEXT PRIMARY KEY,
            user_id TEXT NOT NULL,
            amount INTEGER NOT NULL CHECK (amount > 0),
            kind TEXT NOT NULL,
            ts TIMESTAMP NOT NULL
        );
    `)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// AtomicWrite applies the group in one transaction and reports every op's
// guard outcome. Guard rejections roll the group back without erroring.
func (s *LedgerStore) AtomicWrite(ctx context.Context, ops []store.GuardedOp) (store.WriteResult, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return store.WriteResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	outcomes := make([]store.OpOutcome, len(ops))
	allHold := true
	for i, op := range ops {
		held, err := applyOp(ctx, tx, op)
		if err != nil {
			return store.WriteResult{}, err
		}
		if !held {
			outcomes[i].GuardFailed = true
			allHold = false
		}
	}

	if !allHold {
		return store.WriteResult{Committed: false, Outcomes: outcomes}, nil
	}

	if err := tx.Commit(); err != nil {
		return store.WriteResult{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return store.WriteResult{Committed: true, Outcomes: outcomes}, nil
}

func applyOp(ctx context.Context, tx *sql.Tx, op store.GuardedOp) (bool, error) {
	switch o := op.(type) {
	case store.UpdateBalance:
		var res sql.Result
		var err error
		if o.Guard.Kind == store.GuardMinBalance {
			res, err = tx.ExecContext(ctx, `
                UPDATE accounts SET balance = balance + ?
                WHERE user_id = ? AND balance >= ?
            `, o.Delta, o.UserID, o.Guard.Min)
		} else {
			res, err = tx.ExecContext(ctx, `
                UPDATE accounts SET balance = balance + ?
                WHERE user_id = ?
            `, o.Delta, o.UserID)
		}
		if err != nil {
			return false, fmt.Errorf("failed to update balance: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("failed to read rows affected: %w", err)
		}
		return n == 1, nil

	case store.InsertRecord:
		res, err := tx.ExecContext(ctx, `
            INSERT OR IGNORE INTO transactions (idempotency_key, user_id, amount, kind, ts)
            VALUES (?, ?, ?, ?, ?)
        `, o.Record.IdempotencyKey, o.Record.UserID, o.Record.Amount, o.Record.Kind, o.Record.Timestamp)
		if err != nil {
			return false, fmt.Errorf("failed to insert transaction record: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("failed to read rows affected: %w", err)
		}
		return n == 1, nil
	}

	return false, fmt.Errorf("unknown guarded op %T", op)
}

// GetAccount returns the account row for userID.
func (s *LedgerStore) GetAccount(ctx context.Context, userID string) (store.Account, error) {
	var acct store.Account
	err := s.DB.QueryRowContext(ctx, `
        SELECT user_id, balance FROM accounts WHERE user_id = ?
    `, userID).Scan(&acct.UserID, &acct.Balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Account{}, store.ErrAccountNotFound
		}
		return store.Account{}, fmt.Errorf("failed to get account: %w", err)
	}

	return acct, nil
}

// GetRecord returns the committed transaction record for idempotencyKey.
func (s *LedgerStore) GetRecord(ctx context.Context, idempotencyKey string) (store.Record, error) {
	var rec store.Record
	err := s.DB.QueryRowContext(ctx, `
        SELECT idempotency_key, user_id, amount, kind, ts
        FROM transactions WHERE idempotency_key = ?
    `, idempotencyKey).Scan(&rec.IdempotencyKey, &rec.UserID, &rec.Amount, &rec.Kind, &rec.Timestamp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Record{}, store.ErrRecordNotFound
		}
		return store.Record{}, fmt.Errorf("failed to get transaction record: %w", err)
	}

	return rec, nil
}

// PutAccount creates or replaces an account row.
func (s *LedgerStore) PutAccount(ctx context.Context, acct store.Account) error {
	_, err := s.DB.ExecContext(ctx, `
        INSERT INTO accounts (user_id, balance) VALUES (?, ?)
        ON CONFLICT (user_id) DO UPDATE SET balance = excluded.balance
    `, acct.UserID, acct.Balance)
	if err != nil {
		return fmt.Errorf("failed to put account: %w", err)
	}

	return nil
}

// Close closes the underlying database.
func (s *LedgerStore) Close() error {
	return s.DB.Close()
}

var _ store.Store = (*LedgerStore)(nil)
