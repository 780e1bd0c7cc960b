package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/txledger/internal/events"
	"github.com/example/txledger/internal/store"
)

// Engine executes ledger transactions against a transactional store. It is
// stateless and safe for unbounded concurrent use; all shared mutable state
// lives in the store, and concurrency control is the store's atomic
// conditional write.
type Engine struct {
	store     store.Store
	logger    *slog.Logger
	publisher events.Publisher
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithPublisher emits a TransactionCompleted event after each first-time
// commit. Publish failures are logged and never fail the transaction.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithClock overrides the record timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine builds an Engine on the given store. The store client is expected
// to be constructed once at startup and shared for the life of the process.
func NewEngine(s store.Store, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		store:  s,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Transact atomically applies a credit or debit to the user's balance and
// appends the matching transaction record, at most once per idempotency key.
//
// Expected guard rejections come back as typed errors: ErrInsufficientBalance
// and ErrAccountNotFound are terminal, *TransientError is retryable with the
// same key. A duplicate key is not an error: the call succeeds with
// Result.Replayed set, reporting the balance already on record.
func (e *Engine) Transact(ctx context.Context, userID string, amount int64, kind Kind, idempotencyKey string) (*Result, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID is required")
	}
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("kind must be %s or %s", Credit, Debit)
	}
	if idempotencyKey == "" {
		return nil, fmt.Errorf("idempotency key is required")
	}

	guard := store.Guard{Kind: store.GuardAccountExists}
	if kind == Debit {
		guard = store.Guard{Kind: store.GuardMinBalance, Min: amount}
	}

	// Op order is fixed: classify depends on the balance update sitting at
	// index 0 and the record insert at index 1.
	ops := []store.GuardedOp{
		store.UpdateBalance{UserID: userID, Delta: kind.Delta(amount), Guard: guard},
		store.InsertRecord{Record: store.Record{
			IdempotencyKey: idempotencyKey,
			UserID:         userID,
			Amount:         amount,
			Kind:           string(kind),
			Timestamp:      e.now().UTC(),
		}},
	}

	res, err := e.store.AtomicWrite(ctx, ops)
	if err != nil {
		e.logger.Error("atomic write failed",
			"user_id", userID, "idempotency_key", idempotencyKey, "error", err)
		return nil, &TransientError{Err: err}
	}

	if res.Committed {
		balance, err := e.readBalance(ctx, userID)
		if err != nil {
			return nil, err
		}
		e.logger.Info("transaction committed",
			"user_id", userID, "idempotency_key", idempotencyKey,
			"kind", kind, "amount", amount, "balance", balance)
		e.publish(ctx, userID, amount, kind, idempotencyKey, balance)
		return &Result{IdempotencyKey: idempotencyKey, UserID: userID, Balance: balance}, nil
	}

	switch classify(res, kind) {
	case OutcomeAlreadyProcessed:
		balance, err := e.readBalance(ctx, userID)
		if err != nil {
			return nil, err
		}
		e.logger.Info("transaction already processed",
			"user_id", userID, "idempotency_key", idempotencyKey)
		return &Result{IdempotencyKey: idempotencyKey, UserID: userID, Balance: balance, Replayed: true}, nil
	case OutcomeInsufficientBalance:
		return nil, ErrInsufficientBalance
	case OutcomeAccountNotFound:
		return nil, ErrAccountNotFound
	default:
		return nil, &TransientError{Err: fmt.Errorf("atomic write rejected without a failed guard")}
	}
}

// GetBalance returns the user's current balance. Pure read; no side effects.
func (e *Engine) GetBalance(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("user ID is required")
	}

	acct, err := e.store.GetAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return 0, ErrAccountNotFound
		}
		return 0, &TransientError{Err: err}
	}
	return acct.Balance, nil
}

// GetRecord returns the committed transaction record for an idempotency key.
func (e *Engine) GetRecord(ctx context.Context, idempotencyKey string) (store.Record, error) {
	if idempotencyKey == "" {
		return store.Record{}, fmt.Errorf("idempotency key is required")
	}

	rec, err := e.store.GetRecord(ctx, idempotencyKey)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return store.Record{}, err
		}
		return store.Record{}, &TransientError{Err: err}
	}
	return rec, nil
}

func (e *Engine) readBalance(ctx context.Context, userID string) (int64, error) {
	acct, err := e.store.GetAccount(ctx, userID)
	if err != nil {
		// The write committed; only the follow-up read failed. Retrying with
		// the same key is safe and reports the committed balance.
		return 0, &TransientError{Err: fmt.Errorf("failed to read balance after write: %w", err)}
	}
	return acct.Balance, nil
}

func (e *Engine) publish(ctx context.Context, userID string, amount int64, kind Kind, idempotencyKey string, balance int64) {
	if e.publisher == nil {
		return
	}

	evt := events.TransactionCompleted{
		IdempotencyKey: idempotencyKey,
		UserID:         userID,
		Amount:         amount,
		Kind:           string(kind),
		Balance:        balance,
		OccurredAt:     e.now().UTC().Format(time.RFC3339),
	}
	if err := e.publisher.PublishTransactionCompleted(ctx, evt); err != nil {
		e.logger.Error("failed to publish transaction event",
			"idempotency_key", idempotencyKey, "error", err)
	}
}
