/*
store.go - Persistence interface for the credit journal

PURPOSE:
  Defines the interface between the journal and the database. The Store
  handles persistence while maintaining append-only semantics. Memory and
  SQLite implementations exist.

APPEND-ONLY CONTRACT:
  - Append(): Single transaction write
  - AppendBatch(): Atomic multi-transaction write
  - NO Update() or Delete() methods exist

IDEMPOTENCY:
  Every write includes an idempotency key. If the key already exists, the
  write is rejected. A cancellation retried after a timeout can therefore
  never restore the same credit twice.

IMPLEMENTATIONS:
  - generic/store/memory.go: In-memory
  - store/sqlite/sqlite.go: SQLite

SEE ALSO:
  - ledger.go: Higher-level interface using Store
*/
package generic

import (
	"context"
	"time"
)

// Store handles persistence of journal transactions.
// IMPORTANT: Store is APPEND-ONLY. No Update, No Delete.
type Store interface {
	// Append persists a transaction. Returns ErrDuplicateIdempotencyKey if
	// the key exists.
	Append(ctx context.Context, tx Transaction) error

	// AppendBatch persists multiple transactions atomically.
	AppendBatch(ctx context.Context, txs []Transaction) error

	// Load returns all transactions for an account, ordered by EffectiveAt.
	Load(ctx context.Context, accountID SubscriptionID) ([]Transaction, error)

	// LoadByOwner returns all transactions of one member across accounts.
	LoadByOwner(ctx context.Context, ownerID UserID) ([]Transaction, error)

	// LoadRange returns an account's transactions with EffectiveAt in [from, to].
	LoadRange(ctx context.Context, accountID SubscriptionID, from, to time.Time) ([]Transaction, error)

	// Exists checks if idempotency key already exists.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}

