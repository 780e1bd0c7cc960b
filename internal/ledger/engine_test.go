package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/txledger/internal/events"
	"github.com/example/txledger/internal/store"
	"github.com/example/txledger/internal/store/memory"
)

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *memory.LedgerStore) {
	t.Helper()
	s := memory.NewLedgerStore()
	return NewEngine(s, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...), s
}

func seed(t *testing.T, s *memory.LedgerStore, userID string, balance int64) {
	t.Helper()
	require.NoError(t, s.PutAccount(context.Background(), store.Account{UserID: userID, Balance: balance}))
}

func TestCreditIncreasesBalance(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)
	seed(t, s, "u1", 100)

	res, err := e.Transact(ctx, "u1", 50, Credit, "k1")
	require.NoError(t, err)
	assert.Equal(t, int64(150), res.Balance)
	assert.False(t, res.Replayed)
	assert.Equal(t, "k1", res.IdempotencyKey)
}

func TestDebitDecreasesBalance(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)
	seed(t, s, "u1", 100)

	res, err := e.Transact(ctx, "u1", 30, Debit, "k1")
	require.NoError(t, err)
	assert.Equal(t, int64(70), res.Balance)
}

func TestDebitBeyondBalanceIsRejected(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)
	seed(t, s, "u1", 100)

	_, err := e.Transact(ctx, "u1", 150, Debit, "k2")
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.False(t, IsTransient(err))

	balance, err := e.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	// The rejected attempt must not have consumed the idempotency key.
	_, err = e.GetRecord(ctx, "k2")
	assert.ErrorIs(t, err, store.ErrRecordNotFound)
}

func TestDebitToExactlyZeroIsAllowed(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)
	seed(t, s, "u1", 50)

	res, err := e.Transact(ctx, "u1", 50, Debit, "k3")
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Balance)
}

func TestReplaySucceedsWithoutReapplying(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)
	seed(t, s, "u1", 100)

	first, err := e.Transact(ctx, "u1", 25, Credit, "k4")
	require.NoError(t, err)
	assert.Equal(t, int64(125), first.Balance)
	assert.False(t, first.Replayed)

	second, err := e.Transact(ctx, "u1", 25, Credit, "k4")
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Balance, second.Balance)
}

func TestCreditToUnknownUser(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	_, err := e.Transact(ctx, "ux", 10, Credit, "k5")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestConcurrentCreditsLoseNoUpdates(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)
	seed(t, s, "u1", 100)

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.Transact(ctx, "u1", 10, Credit, string(rune('a'+i)))
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		assert.NoError(t, errs[i])
	}

	balance, err := e.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(200), balance)
}

func TestConcurrentSameKeyAppliesOnce(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)
	seed(t, s, "u1", 100)

	const n = 5
	var wg sync.WaitGroup
	results := make([]*Result, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.Transact(ctx, "u1", 20, Credit, "same")
		}(i)
	}
	wg.Wait()

	replays := 0
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		if results[i].Replayed {
			replays++
		}
	}
	assert.Equal(t, n-1, replays)

	balance, err := e.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(120), balance)
}

func TestSequentialDebits(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)
	seed(t, s, "u1", 200)

	for key, amount := range map[string]int64{"d1": 20, "d2": 30, "d3": 15} {
		_, err := e.Transact(ctx, "u1", amount, Debit, key)
		require.NoError(t, err)
	}

	balance, err := e.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(135), balance)
}

func TestReplayOutranksInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)
	seed(t, s, "u1", 10)

	// First debit drains the account and consumes the key.
	_, err := e.Transact(ctx, "u1", 10, Debit, "drain")
	require.NoError(t, err)

	// The same submission now fails both guards: the balance pre-image check
	// and the duplicate key. The duplicate must win.
	res, err := e.Transact(ctx, "u1", 10, Debit, "drain")
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, int64(0), res.Balance)
}

func TestNegativeBalanceNeverCommitted(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)
	seed(t, s, "u1", 35)

	keys := []string{"n1", "n2", "n3", "n4", "n5"}
	for _, k := range keys {
		_, err := e.Transact(ctx, "u1", 10, Debit, k)
		if err != nil {
			assert.ErrorIs(t, err, ErrInsufficientBalance)
		}

		balance, berr := e.GetBalance(ctx, "u1")
		require.NoError(t, berr)
		assert.GreaterOrEqual(t, balance, int64(0))
	}

	balance, err := e.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), balance)
}

func TestInputValidation(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)
	seed(t, s, "u1", 100)

	cases := []struct {
		name   string
		userID string
		amount int64
		kind   Kind
		key    string
	}{
		{"empty user", "", 10, Credit, "k"},
		{"zero amount", "u1", 0, Credit, "k"},
		{"negative amount", "u1", -5, Debit, "k"},
		{"bad kind", "u1", 10, Kind("TRANSFER"), "k"},
		{"empty key", "u1", 10, Credit, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.Transact(ctx, tc.userID, tc.amount, tc.kind, tc.key)
			assert.Error(t, err)
		})
	}

	// No state was touched by any of the rejected inputs.
	balance, err := e.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}

// faultStore injects infrastructure failures around an inner store.
type faultStore struct {
	store.Store
	writeErr error
	readErr  error
}

func (f *faultStore) AtomicWrite(ctx context.Context, ops []store.GuardedOp) (store.WriteResult, error) {
	if f.writeErr != nil {
		return store.WriteResult{}, f.writeErr
	}
	return f.Store.AtomicWrite(ctx, ops)
}

func (f *faultStore) GetAccount(ctx context.Context, userID string) (store.Account, error) {
	if f.readErr != nil {
		return store.Account{}, f.readErr
	}
	return f.Store.GetAccount(ctx, userID)
}

func TestStoreFaultIsTransient(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewLedgerStore()
	seed(t, inner, "u1", 100)

	cause := errors.New("connection refused")
	e := NewEngine(&faultStore{Store: inner, writeErr: cause}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := e.Transact(ctx, "u1", 10, Credit, "k9")
	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, cause)
}

func TestTransientRetryWithSameKeyIsSafe(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewLedgerStore()
	seed(t, inner, "u1", 100)

	fs := &faultStore{Store: inner, writeErr: errors.New("timeout")}
	e := NewEngine(fs, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := e.Transact(ctx, "u1", 10, Credit, "retry-key")
	require.True(t, IsTransient(err))

	// Store recovers; the retry with the identical key applies exactly once.
	fs.writeErr = nil
	res, err := e.Transact(ctx, "u1", 10, Credit, "retry-key")
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, int64(110), res.Balance)
}

// capturePublisher records published events.
type capturePublisher struct {
	mu     sync.Mutex
	events []events.TransactionCompleted
}

func (p *capturePublisher) PublishTransactionCompleted(ctx context.Context, evt events.TransactionCompleted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func TestEventPublishedOnceNotOnReplay(t *testing.T) {
	ctx := context.Background()
	pub := &capturePublisher{}
	e, s := newTestEngine(t, WithPublisher(pub))
	seed(t, s, "u1", 100)

	_, err := e.Transact(ctx, "u1", 40, Credit, "evt-key")
	require.NoError(t, err)

	_, err = e.Transact(ctx, "u1", 40, Credit, "evt-key")
	require.NoError(t, err)

	require.Len(t, pub.events, 1)
	assert.Equal(t, "evt-key", pub.events[0].IdempotencyKey)
	assert.Equal(t, int64(140), pub.events[0].Balance)
	assert.Equal(t, "CREDIT", pub.events[0].Kind)
}

func TestGetBalanceUnknownUser(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.GetBalance(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestGetRecordAfterCommit(t *testing.T) {
	ctx := context.Background()
	e, s := newTestEngine(t)
	seed(t, s, "u1", 100)

	_, err := e.Transact(ctx, "u1", 60, Debit, "rec-key")
	require.NoError(t, err)

	rec, err := e.GetRecord(ctx, "rec-key")
	require.NoError(t, err)
	assert.Equal(t, "u1", rec.UserID)
	assert.Equal(t, int64(60), rec.Amount)
	assert.Equal(t, "DEBIT", rec.Kind)
}
