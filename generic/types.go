/*
Package generic provides the domain-agnostic core of the studio ledger.

PURPOSE:
  This package contains the building blocks that do not know anything about
  classes, bookings or plans: typed identifiers, money, the append-only
  credit journal, the clock abstraction and validity periods. The studio
  package composes them into the booking and membership rules.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A decimal amount with a currency (plan prices, annual fee)
  - Transaction: An immutable journal entry recording a credit change
  - Identifiers: Type-safe IDs so a BookingID never ends up where a
    SubscriptionID is expected

DESIGN PRINCIPLES:
  1. Immutability: Journal transactions are never modified, only countered
  2. Precision: Money uses decimal.Decimal, credits are whole integers
  3. Type Safety: Strong typing for IDs
  4. Auditability: Every transaction has reason, reference and idempotency key

USAGE:
  price := generic.NewMoney("110.00", generic.EUR)
  tx := generic.Transaction{
      OwnerID:        "user-1",
      AccountID:      "sub-1",
      Delta:          -1,
      Type:           generic.TxDebit,
      ReferenceID:    "booking-1",
      IdempotencyKey: "booking-1-debit",
  }

SEE ALSO:
  - ledger.go: Journal interface and replay
  - store.go: Persistence interface
  - errors.go: Sentinel errors shared by every store
*/
package generic

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

type Currency string

const EUR Currency = "EUR"

// Money is a decimal amount in a single currency.
type Money struct {
	Amount   decimal.Decimal
	Currency Currency
}

// NewMoney parses value as a decimal. Invalid input yields zero.
func NewMoney(value string, currency Currency) Money {
	return Money{Amount: MustParseDecimal(value), Currency: currency}
}

func NewMoneyFromInt(value int64, currency Currency) Money {
	return Money{Amount: decimal.NewFromInt(value), Currency: currency}
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Add sums two amounts of the same currency.
func (m Money) Add(o Money) (Money, error) {
	if m.Currency != o.Currency {
		return Money{}, fmt.Errorf("%w: %s + %s", ErrCurrencyMismatch, m.Currency, o.Currency)
	}
	return Money{Amount: m.Amount.Add(o.Amount), Currency: m.Currency}, nil
}

func (m Money) IsZero() bool             { return m.Amount.IsZero() }
func (m Money) IsPositive() bool         { return m.Amount.IsPositive() }
func (m Money) Equal(o Money) bool       { return m.Currency == o.Currency && m.Amount.Equal(o.Amount) }
func (m Money) GreaterThan(o Money) bool { return m.Amount.GreaterThan(o.Amount) }

// String renders the amount with two decimals, e.g. "35.00 EUR".
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Amount.StringFixed(2), m.Currency)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type ClassID string
type SubscriptionID string
type BookingID string
type FeeRecordID string
type TransactionID string

// NewID returns a random identifier with a readable prefix ("bk-...", "sub-...").
func NewID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// =============================================================================
// TRANSACTION - Atomic change to a credit account
// =============================================================================

type TransactionType string

const (
	TxGrant      TransactionType = "grant"      // Credits granted at purchase
	TxDebit      TransactionType = "debit"      // One credit consumed by a booking
	TxCredit     TransactionType = "credit"     // One credit restored by a cancellation
	TxAttendance TransactionType = "attendance" // Zero-delta audit of attended/no-show
	TxExpiry     TransactionType = "expiry"     // Zero-delta audit of an expiry sweep
	TxAdjustment TransactionType = "adjustment" // Manual admin correction
)

// Transaction is one journal line. OwnerID is the member, AccountID the
// subscription whose balance moves.
type Transaction struct {
	ID             TransactionID
	OwnerID        UserID
	AccountID      SubscriptionID
	EffectiveAt    time.Time
	Delta          int
	Type           TransactionType
	ReferenceID    string
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string

	CreatedBy string
	CreatedAt time.Time
}

// Balance is the result of replaying an account's journal.
type Balance struct {
	AccountID SubscriptionID
	AsOf      time.Time
	Granted   int
	Debited   int
	Credited  int
	Adjusted  int
}

// Remaining is granted - debited + credited + adjusted.
func (b Balance) Remaining() int {
	return b.Granted - b.Debited + b.Credited + b.Adjusted
}
