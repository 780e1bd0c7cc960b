package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/example/txledger/internal/store"
)

func rejected(balanceGuardFailed, recordGuardFailed bool) store.WriteResult {
	return store.WriteResult{
		Committed: false,
		Outcomes: []store.OpOutcome{
			{GuardFailed: balanceGuardFailed},
			{GuardFailed: recordGuardFailed},
		},
	}
}

func TestClassifyIsTotalOverGuardCombinations(t *testing.T) {
	cases := []struct {
		name   string
		res    store.WriteResult
		kind   Kind
		expect Outcome
	}{
		{"record guard failed, debit", rejected(false, true), Debit, OutcomeAlreadyProcessed},
		{"record guard failed, credit", rejected(false, true), Credit, OutcomeAlreadyProcessed},
		{"balance guard failed, debit", rejected(true, false), Debit, OutcomeInsufficientBalance},
		{"balance guard failed, credit", rejected(true, false), Credit, OutcomeAccountNotFound},
		{"both failed, debit", rejected(true, true), Debit, OutcomeAlreadyProcessed},
		{"both failed, credit", rejected(true, true), Credit, OutcomeAlreadyProcessed},
		{"neither failed", rejected(false, false), Debit, OutcomeTransient},
		{"no outcomes reported", store.WriteResult{}, Credit, OutcomeTransient},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expect, classify(tc.res, tc.kind))
		})
	}
}

func TestDuplicateOutranksBalanceState(t *testing.T) {
	// A racer whose stale pre-image check failed at the same time as its key
	// check must be reported as a replay, never as insufficient balance.
	assert.Equal(t, OutcomeAlreadyProcessed, classify(rejected(true, true), Debit))
}

func TestKindDelta(t *testing.T) {
	assert.Equal(t, int64(25), Credit.Delta(25))
	assert.Equal(t, int64(-25), Debit.Delta(25))
}

func TestKindValid(t *testing.T) {
	assert.True(t, Credit.Valid())
	assert.True(t, Debit.Valid())
	assert.False(t, Kind("credit").Valid())
	assert.False(t, Kind("").Valid())
}
