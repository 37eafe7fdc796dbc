/*
repository.go - Persistence contracts for the studio domain

PURPOSE:
  The engine never talks to a database directly. It is handed a Store and
  runs every multi-step operation inside Store.WithTx, receiving a
  Repositories view bound to that transaction.

CONCURRENCY CONTRACT:
  Update* methods are optimistic. The passed entity's Version must equal the
  stored version; on success the store bumps both. A stale version yields an
  error wrapping generic.ErrConcurrentModification, which the engine treats
  as retryable.

  Get* methods return an error wrapping generic.ErrNotFound for missing rows.
  Create* methods return generic.ErrAlreadyExists for duplicate keys.

IMPLEMENTATIONS:
  - store/memory: snapshot/rollback over maps (tests, dev)
  - store/sqlite: SQL transactions (production)
*/
package studio

import (
	"context"
	"time"

	"github.com/amg/studio-ledger/generic"
)

type ClassRepository interface {
	GetSession(ctx context.Context, id generic.ClassID) (*ClassSession, error)
	// ListSessions returns sessions starting in [from, to), ordered by start.
	ListSessions(ctx context.Context, from, to time.Time) ([]ClassSession, error)
	CreateSession(ctx context.Context, s ClassSession) error
	UpdateSession(ctx context.Context, s *ClassSession) error
}

type SubscriptionRepository interface {
	GetSubscription(ctx context.Context, id generic.SubscriptionID) (*Subscription, error)
	// ListByUser returns the member's subscriptions in purchase order.
	ListByUser(ctx context.Context, userID generic.UserID) ([]Subscription, error)
	// ListOverdue returns active or used subscriptions whose end date is before now.
	ListOverdue(ctx context.Context, now time.Time) ([]Subscription, error)
	CreateSubscription(ctx context.Context, s Subscription) error
	UpdateSubscription(ctx context.Context, s *Subscription) error
}

type BookingRepository interface {
	GetBooking(ctx context.Context, id generic.BookingID) (*Booking, error)
	// ListBookings returns matching bookings ordered by booking date.
	ListBookings(ctx context.Context, f BookingFilter) ([]Booking, error)
	CreateBooking(ctx context.Context, b Booking) error
	UpdateBooking(ctx context.Context, b *Booking) error
}

type AnnualFeeRepository interface {
	ListFees(ctx context.Context, userID generic.UserID) ([]AnnualFeeRecord, error)
	// CreateFee fails with generic.ErrAlreadyExists if (user, year) is taken.
	CreateFee(ctx context.Context, r AnnualFeeRecord) error
}

// Repositories groups every repository, bound to one transaction or to the
// store itself.
type Repositories interface {
	Classes() ClassRepository
	Subscriptions() SubscriptionRepository
	Bookings() BookingRepository
	Fees() AnnualFeeRepository
	Journal() generic.Store
}

// Store is Repositories plus atomic multi-step writes.
type Store interface {
	Repositories
	// WithTx runs fn atomically: either every write fn made is visible
	// afterwards, or none is.
	WithTx(ctx context.Context, fn func(Repositories) error) error
}
