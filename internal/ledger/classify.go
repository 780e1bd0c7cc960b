package ledger

import "github.com/example/txledger/internal/store"

// Outcome is the classification of a rejected atomic write.
type Outcome int

const (
	// OutcomeAlreadyProcessed: the record insert guard failed, so this exact
	// transaction was durably applied by a prior call. Not a failure.
	OutcomeAlreadyProcessed Outcome = iota
	// OutcomeInsufficientBalance: a debit's pre-image balance guard failed.
	OutcomeInsufficientBalance
	// OutcomeAccountNotFound: a credit's account-exists guard failed.
	OutcomeAccountNotFound
	// OutcomeTransient: the write did not commit and no guard explains why.
	OutcomeTransient
)

// Op positions inside the atomic write submitted by Transact.
const (
	opBalance = 0
	opRecord  = 1
)

// classify maps a rejected write's guard outcomes to a single result. The
// record guard is checked before the balance guard: a failed record guard
// proves the transaction already committed once, which outranks whatever the
// current balance happens to be. When both guards fail the duplicate wins,
// so a replay is never misreported as insufficient balance.
func classify(res store.WriteResult, kind Kind) Outcome {
	switch {
	case res.GuardFailedAt(opRecord):
		return OutcomeAlreadyProcessed
	case res.GuardFailedAt(opBalance):
		if kind == Debit {
			return OutcomeInsufficientBalance
		}
		return OutcomeAccountNotFound
	default:
		return OutcomeTransient
	}
}
