// Package store provides in-memory journal Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/amg/studio-ledger/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	transactions map[generic.SubscriptionID][]generic.Transaction
	idempotency  map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		transactions: make(map[generic.SubscriptionID][]generic.Transaction),
		idempotency:  make(map[string]bool),
	}
}

// Append adds a single transaction. Append-only.
func (m *Memory) Append(_ context.Context, tx generic.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.AppendLocked(tx)
}

// AppendBatch adds multiple transactions atomically.
func (m *Memory) AppendBatch(_ context.Context, txs []generic.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.AppendBatchLocked(txs)
}

// AppendBatchLocked is AppendBatch for callers already holding the lock
// (the studio memory store runs the journal inside its own WithTx).
func (m *Memory) AppendBatchLocked(txs []generic.Transaction) error {
	seen := make(map[string]bool, len(txs))
	for _, tx := range txs {
		if tx.IdempotencyKey == "" {
			continue
		}
		if m.idempotency[tx.IdempotencyKey] || seen[tx.IdempotencyKey] {
			return generic.ErrDuplicateIdempotencyKey
		}
		seen[tx.IdempotencyKey] = true
	}
	for _, tx := range txs {
		if err := m.AppendLocked(tx); err != nil {
			return err
		}
	}
	return nil
}

// AppendLocked inserts tx keeping the account slice ordered by EffectiveAt.
func (m *Memory) AppendLocked(tx generic.Transaction) error {
	if tx.IdempotencyKey != "" && m.idempotency[tx.IdempotencyKey] {
		return generic.ErrDuplicateIdempotencyKey
	}
	txs := m.transactions[tx.AccountID]

	// Binary search for insertion point; equal timestamps keep arrival order
	i := sort.Search(len(txs), func(i int) bool {
		return txs[i].EffectiveAt.After(tx.EffectiveAt)
	})

	txs = append(txs, generic.Transaction{})
	copy(txs[i+1:], txs[i:])
	txs[i] = tx
	m.transactions[tx.AccountID] = txs

	if tx.IdempotencyKey != "" {
		m.idempotency[tx.IdempotencyKey] = true
	}
	return nil
}

func (m *Memory) Load(_ context.Context, accountID generic.SubscriptionID) ([]generic.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LoadLocked(accountID), nil
}

func (m *Memory) LoadLocked(accountID generic.SubscriptionID) []generic.Transaction {
	result := make([]generic.Transaction, len(m.transactions[accountID]))
	copy(result, m.transactions[accountID])
	return result
}

func (m *Memory) LoadByOwner(_ context.Context, ownerID generic.UserID) ([]generic.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LoadByOwnerLocked(ownerID), nil
}

func (m *Memory) LoadByOwnerLocked(ownerID generic.UserID) []generic.Transaction {
	var result []generic.Transaction
	for _, txs := range m.transactions {
		for _, tx := range txs {
			if tx.OwnerID == ownerID {
				result = append(result, tx)
			}
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].EffectiveAt.Before(result[j].EffectiveAt)
	})
	return result
}

func (m *Memory) LoadRange(_ context.Context, accountID generic.SubscriptionID, from, to time.Time) ([]generic.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadRangeLocked(accountID, from, to), nil
}

func (m *Memory) loadRangeLocked(accountID generic.SubscriptionID, from, to time.Time) []generic.Transaction {
	var result []generic.Transaction
	for _, tx := range m.LoadLocked(accountID) {
		if !tx.EffectiveAt.Before(from) && !tx.EffectiveAt.After(to) {
			result = append(result, tx)
		}
	}
	return result
}

func (m *Memory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

func (m *Memory) ExistsLocked(idempotencyKey string) bool {
	return m.idempotency[idempotencyKey]
}

// =============================================================================
// SNAPSHOT / RESTORE - Used by transactional wrappers for rollback
// =============================================================================

// Snapshot is a deep copy of the journal state.
type Snapshot struct {
	transactions map[generic.SubscriptionID][]generic.Transaction
	idempotency  map[string]bool
}

// SnapshotLocked copies the state. Caller must hold the write lock or
// otherwise exclude writers.
func (m *Memory) SnapshotLocked() Snapshot {
	txsCopy := make(map[generic.SubscriptionID][]generic.Transaction, len(m.transactions))
	for k, v := range m.transactions {
		txsCopy[k] = append([]generic.Transaction{}, v...)
	}
	idempCopy := make(map[string]bool, len(m.idempotency))
	for k, v := range m.idempotency {
		idempCopy[k] = v
	}
	return Snapshot{transactions: txsCopy, idempotency: idempCopy}
}

func (m *Memory) RestoreLocked(s Snapshot) {
	m.transactions = s.transactions
	m.idempotency = s.idempotency
}

// =============================================================================
// LOCKED VIEW
// =============================================================================

// LockedView exposes a Memory whose lock is already held by the caller.
type LockedView struct {
	M *Memory
}

func (v *LockedView) Append(_ context.Context, tx generic.Transaction) error {
	return v.M.AppendLocked(tx)
}

func (v *LockedView) AppendBatch(_ context.Context, txs []generic.Transaction) error {
	return v.M.AppendBatchLocked(txs)
}

func (v *LockedView) Load(_ context.Context, accountID generic.SubscriptionID) ([]generic.Transaction, error) {
	return v.M.LoadLocked(accountID), nil
}

func (v *LockedView) LoadByOwner(_ context.Context, ownerID generic.UserID) ([]generic.Transaction, error) {
	return v.M.LoadByOwnerLocked(ownerID), nil
}

func (v *LockedView) LoadRange(_ context.Context, accountID generic.SubscriptionID, from, to time.Time) ([]generic.Transaction, error) {
	return v.M.loadRangeLocked(accountID, from, to), nil
}

func (v *LockedView) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	return v.M.ExistsLocked(idempotencyKey), nil
}
