package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/txledger/internal/store"
)

func TestAtomicWriteCommitsBothOps(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore()
	require.NoError(t, s.PutAccount(ctx, store.Account{UserID: "u1", Balance: 100}))

	res, err := s.AtomicWrite(ctx, []store.GuardedOp{
		store.UpdateBalance{UserID: "u1", Delta: 50, Guard: store.Guard{Kind: store.GuardAccountExists}},
		store.InsertRecord{Record: store.Record{IdempotencyKey: "k1", UserID: "u1", Amount: 50, Kind: "CREDIT", Timestamp: time.Now()}},
	})
	require.NoError(t, err)
	assert.True(t, res.Committed)

	acct, err := s.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(150), acct.Balance)

	rec, err := s.GetRecord(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "u1", rec.UserID)
}

func TestAtomicWriteRollsBackWholeGroup(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore()
	require.NoError(t, s.PutAccount(ctx, store.Account{UserID: "u1", Balance: 30}))

	// Debit guard fails; the record insert must not survive either.
	res, err := s.AtomicWrite(ctx, []store.GuardedOp{
		store.UpdateBalance{UserID: "u1", Delta: -50, Guard: store.Guard{Kind: store.GuardMinBalance, Min: 50}},
		store.InsertRecord{Record: store.Record{IdempotencyKey: "k2", UserID: "u1", Amount: 50, Kind: "DEBIT"}},
	})
	require.NoError(t, err)
	assert.False(t, res.Committed)
	assert.True(t, res.GuardFailedAt(0))
	assert.False(t, res.GuardFailedAt(1))

	acct, err := s.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(30), acct.Balance)

	_, err = s.GetRecord(ctx, "k2")
	assert.ErrorIs(t, err, store.ErrRecordNotFound)
}

func TestAtomicWriteReportsEveryGuard(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore()
	require.NoError(t, s.PutAccount(ctx, store.Account{UserID: "u1", Balance: 10}))

	first, err := s.AtomicWrite(ctx, []store.GuardedOp{
		store.UpdateBalance{UserID: "u1", Delta: -10, Guard: store.Guard{Kind: store.GuardMinBalance, Min: 10}},
		store.InsertRecord{Record: store.Record{IdempotencyKey: "dup", UserID: "u1", Amount: 10, Kind: "DEBIT"}},
	})
	require.NoError(t, err)
	require.True(t, first.Committed)

	// Balance is now 0: the replay fails both guards and both must be reported.
	replay, err := s.AtomicWrite(ctx, []store.GuardedOp{
		store.UpdateBalance{UserID: "u1", Delta: -10, Guard: store.Guard{Kind: store.GuardMinBalance, Min: 10}},
		store.InsertRecord{Record: store.Record{IdempotencyKey: "dup", UserID: "u1", Amount: 10, Kind: "DEBIT"}},
	})
	require.NoError(t, err)
	assert.False(t, replay.Committed)
	assert.True(t, replay.GuardFailedAt(0))
	assert.True(t, replay.GuardFailedAt(1))
}

func TestMissingAccountFailsBothGuardKinds(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore()

	res, err := s.AtomicWrite(ctx, []store.GuardedOp{
		store.UpdateBalance{UserID: "ghost", Delta: 10, Guard: store.Guard{Kind: store.GuardAccountExists}},
		store.InsertRecord{Record: store.Record{IdempotencyKey: "k3", UserID: "ghost", Amount: 10, Kind: "CREDIT"}},
	})
	require.NoError(t, err)
	assert.False(t, res.Committed)
	assert.True(t, res.GuardFailedAt(0))

	res, err = s.AtomicWrite(ctx, []store.GuardedOp{
		store.UpdateBalance{UserID: "ghost", Delta: -10, Guard: store.Guard{Kind: store.GuardMinBalance, Min: 10}},
		store.InsertRecord{Record: store.Record{IdempotencyKey: "k4", UserID: "ghost", Amount: 10, Kind: "DEBIT"}},
	})
	require.NoError(t, err)
	assert.True(t, res.GuardFailedAt(0))
}

func TestConcurrentSameKeyInsertsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore()
	require.NoError(t, s.PutAccount(ctx, store.Account{UserID: "u1", Balance: 0}))

	const racers = 16
	var wg sync.WaitGroup
	committed := make(chan bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.AtomicWrite(ctx, []store.GuardedOp{
				store.UpdateBalance{UserID: "u1", Delta: 20, Guard: store.Guard{Kind: store.GuardAccountExists}},
				store.InsertRecord{Record: store.Record{IdempotencyKey: "same-key", UserID: "u1", Amount: 20, Kind: "CREDIT"}},
			})
			require.NoError(t, err)
			committed <- res.Committed
		}()
	}
	wg.Wait()
	close(committed)

	wins := 0
	for ok := range committed {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins)

	acct, err := s.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), acct.Balance)
}

func TestCancelledContextIsAnInfrastructureFault(t *testing.T) {
	s := NewLedgerStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.AtomicWrite(ctx, nil)
	assert.Error(t, err)
}
