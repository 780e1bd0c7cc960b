// Package events defines the domain events emitted by the ledger engine and
// the publisher capability they travel through.
package events

import "context"

// TransactionCompleted is emitted once per committed transaction, never for
// an idempotent replay.
type TransactionCompleted struct {
	IdempotencyKey string `json:"idempotency_key"`
	UserID         string `json:"user_id"`
	Amount         int64  `json:"amount"`
	Kind           string `json:"kind"`
	Balance        int64  `json:"balance"`
	OccurredAt     string `json:"occurred_at"`
}

// Publisher delivers events to downstream consumers. Implementations must be
// safe for concurrent use.
type Publisher interface {
	PublishTransactionCompleted(ctx context.Context, evt TransactionCompleted) error
}
