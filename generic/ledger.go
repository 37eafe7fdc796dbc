/*
ledger.go - Append-only credit journal

PURPOSE:
  The journal is the audit trail behind every subscription balance. Each
  grant, debit and credit is recorded here; replaying an account yields the
  balance the subscription row should carry. A mismatch is drift and is
  reported, never silently corrected.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete.
  2. IDEMPOTENT: Same idempotency key = same transaction (no duplicates)

CORRECTIONS:
  A wrong debit is not edited. A TxCredit or TxAdjustment with the opposite
  sign is appended and both lines stay in the journal.

EXAMPLE FLOW:
  1. Member buys a 5-class pack:   TxGrant  +5
  2. Books Monday 09:30:           TxDebit  -1
  3. Cancels 30h before class:     TxCredit +1
  4. Books Wednesday 11:00:        TxDebit  -1

  Journal: [+5, -1, +1, -1] = 4 remaining

SEE ALSO:
  - store.go: Low-level persistence interface
  - studio/ledger.go: Subscription ledger that writes these lines
*/
package generic

import (
	"context"
	"time"
)

// Ledger is the source of truth for the credit history.
type Ledger interface {
	// Append adds a transaction. Fails if idempotency key exists.
	Append(ctx context.Context, tx Transaction) error

	// AppendBatch adds multiple transactions atomically.
	AppendBatch(ctx context.Context, txs []Transaction) error

	// Transactions returns all transactions for an account, chronologically.
	Transactions(ctx context.Context, accountID SubscriptionID) ([]Transaction, error)

	// TransactionsBetween returns an account's transactions effective in [from, to].
	TransactionsBetween(ctx context.Context, accountID SubscriptionID, from, to time.Time) ([]Transaction, error)

	// BalanceAt replays an account up to and including at.
	BalanceAt(ctx context.Context, accountID SubscriptionID, at time.Time) (Balance, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultLedger struct {
	Store Store
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Append(ctx context.Context, tx Transaction) error {
	if tx.IdempotencyKey != "" {
		exists, err := l.Store.Exists(ctx, tx.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.Append(ctx, tx)
}

func (l *DefaultLedger) AppendBatch(ctx context.Context, txs []Transaction) error {
	seen := make(map[string]bool, len(txs))
	for _, tx := range txs {
		if tx.IdempotencyKey == "" {
			continue
		}
		if seen[tx.IdempotencyKey] {
			return ErrDuplicateIdempotencyKey
		}
		seen[tx.IdempotencyKey] = true

		exists, err := l.Store.Exists(ctx, tx.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.AppendBatch(ctx, txs)
}

func (l *DefaultLedger) Transactions(ctx context.Context, accountID SubscriptionID) ([]Transaction, error) {
	return l.Store.Load(ctx, accountID)
}

func (l *DefaultLedger) TransactionsBetween(ctx context.Context, accountID SubscriptionID, from, to time.Time) ([]Transaction, error) {
	if to.Before(from) {
		return nil, ErrInvalidPeriod
	}
	return l.Store.LoadRange(ctx, accountID, from, to)
}

func (l *DefaultLedger) BalanceAt(ctx context.Context, accountID SubscriptionID, at time.Time) (Balance, error) {
	txs, err := l.Store.Load(ctx, accountID)
	if err != nil {
		return Balance{}, err
	}
	return Replay(accountID, txs, at), nil
}

// Replay folds transactions (ordered by EffectiveAt) into a Balance.
// Transactions after at are ignored.
func Replay(accountID SubscriptionID, txs []Transaction, at time.Time) Balance {
	b := Balance{AccountID: accountID, AsOf: at}
	for _, tx := range txs {
		if tx.EffectiveAt.After(at) {
			break
		}
		switch tx.Type {
		case TxGrant:
			b.Granted += tx.Delta
		case TxDebit:
			b.Debited -= tx.Delta // Stored negative
		case TxCredit:
			b.Credited += tx.Delta
		case TxAdjustment:
			b.Adjusted += tx.Delta
		}
	}
	return b
}
