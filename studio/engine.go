/*
engine.go - Booking engine: create, cancel, waitlist

PURPOSE:
  Coordinates Catalog and SubscriptionLedger so that a booking, the place
  it holds and the credit that funds it always change together.

HOW IT WORKS:
  Every operation runs as ONE Store.WithTx call. All checks are evaluated
  before the first write; if any later write fails the transaction rolls
  back, so callers never observe a half-applied booking.

  Optimistic version conflicts (a concurrent writer touched the same class
  or subscription row) abort the transaction. The whole operation is then
  re-run from scratch, up to MaxCommitRetries times, before giving up with
  CodeConflict.

CANCELLATION RULE:
  A booked place can be cancelled until StartsAt - CancellationWindow
  (24h by default). Cancelling releases the place and returns the credit.

SEE ALSO:
  - catalog.go: capacity
  - ledger.go: credits
  - attendance.go: terminal outcomes
*/
package studio

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/amg/studio-ledger/generic"
)

type EngineConfig struct {
	CancellationWindow time.Duration
	MaxCommitRetries   int
	RetryBackoff       time.Duration
	Selection          SelectionPolicy
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		CancellationWindow: 24 * time.Hour,
		MaxCommitRetries:   3,
		RetryBackoff:       5 * time.Millisecond,
		Selection:          SelectPurchaseOrder,
	}
}

// =============================================================================
// COMMITTER - WithTx with bounded retry on version conflicts
// =============================================================================

type committer struct {
	store   Store
	retries int
	backoff time.Duration
	log     *slog.Logger
}

func newCommitter(store Store, cfg EngineConfig, log *slog.Logger) committer {
	if log == nil {
		log = slog.Default()
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = time.Millisecond
	}
	retries := cfg.MaxCommitRetries
	if retries < 0 {
		retries = 0
	}
	return committer{store: store, retries: retries, backoff: backoff, log: log}
}

// commit runs fn in a transaction. fn must be safe to run more than once.
func (c committer) commit(ctx context.Context, op string, fn func(Repositories) error) error {
	attempts := 0
	policy := retry.WithMaxRetries(uint64(c.retries), retry.NewConstant(c.backoff))
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		attempts++
		err := c.store.WithTx(ctx, fn)
		if generic.IsRetryable(err) {
			c.log.Debug("commit conflict, retrying", "op", op, "attempt", attempts, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if generic.IsRetryable(err) {
		return &Error{Code: CodeConflict, Message: fmt.Sprintf("%s gave up after %d attempts", op, attempts), Err: err}
	}
	return err
}

// =============================================================================
// BOOKING ENGINE
// =============================================================================

type BookingEngine struct {
	committer
	cfg EngineConfig
}

func NewBookingEngine(store Store, cfg EngineConfig, log *slog.Logger) *BookingEngine {
	if cfg.CancellationWindow <= 0 {
		cfg.CancellationWindow = DefaultEngineConfig().CancellationWindow
	}
	return &BookingEngine{committer: newCommitter(store, cfg, log), cfg: cfg}
}

func (e *BookingEngine) bind(r Repositories) (*Catalog, *SubscriptionLedger) {
	return NewCatalog(r.Classes()), NewSubscriptionLedger(r.Subscriptions(), r.Journal(), e.cfg.Selection)
}

// CreateBooking books userID into classID, consuming one credit.
func (e *BookingEngine) CreateBooking(ctx context.Context, userID generic.UserID, classID generic.ClassID, now time.Time) (*Booking, error) {
	if userID == "" || classID == "" {
		return nil, newError(CodeInvalidArgument, "user and class are required")
	}

	var booking *Booking
	err := e.commit(ctx, "create booking", func(r Repositories) error {
		booking = nil
		cat, led := e.bind(r)

		// ----- checks: nothing is written until all pass -----
		session, err := cat.bookable(ctx, classID, now)
		if err != nil {
			return err
		}
		if err := ensureNotBooked(ctx, r.Bookings(), userID, classID); err != nil {
			return err
		}
		if session.IsFull() {
			return newError(CodeClassFull, "class %s has %d/%d places taken", classID, session.CurrentBookings, session.MaxCapacity)
		}
		sub, err := led.GetActive(ctx, userID, now)
		if err != nil {
			return err
		}
		if sub == nil {
			return led.fundingError(ctx, userID, now)
		}

		// ----- writes -----
		b := Booking{
			ID:                   generic.BookingID(generic.NewID("bk")),
			UserID:               userID,
			ClassID:              classID,
			SubscriptionID:       sub.ID,
			Status:               BookingBooked,
			BookingDate:          now,
			CancellationDeadline: session.CancellationDeadline(e.cfg.CancellationWindow),
			UpdatedAt:            now,
		}
		if err := fund(ctx, cat, led, b, now); err != nil {
			return err
		}
		if err := r.Bookings().CreateBooking(ctx, b); err != nil {
			return err
		}
		booking = &b
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("booking created", "booking_id", booking.ID, "user_id", userID, "class_id", classID, "subscription_id", booking.SubscriptionID)
	return booking, nil
}

// CancelBooking cancels a booked or waiting entry. Booked entries get their
// place and credit back.
func (e *BookingEngine) CancelBooking(ctx context.Context, id generic.BookingID, now time.Time) (*Booking, error) {
	var booking *Booking
	err := e.commit(ctx, "cancel booking", func(r Repositories) error {
		booking = nil
		cat, led := e.bind(r)

		b, err := getBooking(ctx, r.Bookings(), id)
		if err != nil {
			return err
		}
		switch b.Status {
		case BookingWaiting:
			if err := b.transition(BookingCancelled, now); err != nil {
				return err
			}
			if err := r.Bookings().UpdateBooking(ctx, b); err != nil {
				return err
			}
			booking = b
			return nil
		case BookingBooked:
		default:
			return newError(CodeAlreadyTerminal, "booking %s is %s", id, b.Status)
		}
		if now.After(b.CancellationDeadline) {
			return newError(CodeCancellationWindowClosed, "booking %s could be cancelled until %s", id, b.CancellationDeadline.Format(time.RFC3339))
		}

		if err := release(ctx, r, cat, led, b, "cancelled by member", now); err != nil {
			return err
		}
		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("booking cancelled", "booking_id", id, "user_id", booking.UserID, "class_id", booking.ClassID)
	return booking, nil
}

// JoinWaitlist queues userID for a full class. No credit is taken until
// the entry is promoted.
func (e *BookingEngine) JoinWaitlist(ctx context.Context, userID generic.UserID, classID generic.ClassID, now time.Time) (*Booking, error) {
	if userID == "" || classID == "" {
		return nil, newError(CodeInvalidArgument, "user and class are required")
	}
	var booking *Booking
	err := e.commit(ctx, "join waitlist", func(r Repositories) error {
		booking = nil
		cat, _ := e.bind(r)
		session, err := cat.bookable(ctx, classID, now)
		if err != nil {
			return err
		}
		if err := ensureNotBooked(ctx, r.Bookings(), userID, classID); err != nil {
			return err
		}
		if !session.IsFull() {
			return newError(CodeInvalidArgument, "class %s has %d free places, book it directly", classID, session.FreeSpots())
		}
		b := Booking{
			ID:          generic.BookingID(generic.NewID("bk")),
			UserID:      userID,
			ClassID:     classID,
			Status:      BookingWaiting,
			BookingDate: now,
			UpdatedAt:   now,
		}
		if err := r.Bookings().CreateBooking(ctx, b); err != nil {
			return err
		}
		booking = &b
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("joined waitlist", "booking_id", booking.ID, "user_id", userID, "class_id", classID)
	return booking, nil
}

// PromoteWaitlist moves the oldest waiting member who can pay into a free
// place. It returns nil when nobody could be promoted.
func (e *BookingEngine) PromoteWaitlist(ctx context.Context, classID generic.ClassID, now time.Time) (*Booking, error) {
	var promoted *Booking
	err := e.commit(ctx, "promote waitlist", func(r Repositories) error {
		promoted = nil
		cat, led := e.bind(r)
		session, err := cat.bookable(ctx, classID, now)
		if err != nil {
			return err
		}
		if session.IsFull() {
			return nil
		}
		waiting, err := r.Bookings().ListBookings(ctx, BookingFilter{ClassID: classID, Statuses: []BookingStatus{BookingWaiting}})
		if err != nil {
			return err
		}
		for i := range waiting {
			w := waiting[i]
			sub, err := led.GetActive(ctx, w.UserID, now)
			if err != nil {
				return err
			}
			if sub == nil {
				continue
			}
			w.SubscriptionID = sub.ID
			w.CancellationDeadline = session.CancellationDeadline(e.cfg.CancellationWindow)
			if err := w.transition(BookingBooked, now); err != nil {
				return err
			}
			if err := fund(ctx, cat, led, w, now); err != nil {
				return err
			}
			if err := r.Bookings().UpdateBooking(ctx, &w); err != nil {
				return err
			}
			promoted = &w
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if promoted != nil {
		e.log.Info("waitlist promoted", "booking_id", promoted.ID, "user_id", promoted.UserID, "class_id", classID)
	}
	return promoted, nil
}

// CancelSession soft-cancels a class. Every live booking is cancelled and
// booked members get their credit back regardless of the cutoff.
func (e *BookingEngine) CancelSession(ctx context.Context, classID generic.ClassID, now time.Time) ([]Booking, error) {
	var affected []Booking
	err := e.commit(ctx, "cancel session", func(r Repositories) error {
		affected = nil
		cat, led := e.bind(r)
		if _, err := cat.markCancelled(ctx, classID); err != nil {
			return err
		}
		live, err := r.Bookings().ListBookings(ctx, BookingFilter{ClassID: classID, Statuses: []BookingStatus{BookingBooked, BookingWaiting}})
		if err != nil {
			return err
		}
		for i := range live {
			b := &live[i]
			if b.Status == BookingWaiting {
				if err := b.transition(BookingCancelled, now); err != nil {
					return err
				}
				if err := r.Bookings().UpdateBooking(ctx, b); err != nil {
					return err
				}
			} else if err := release(ctx, r, cat, led, b, "class cancelled", now); err != nil {
				return err
			}
			affected = append(affected, *b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("class cancelled", "class_id", classID, "bookings_cancelled", len(affected))
	return affected, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// fund takes the place and the credit for a booked entry.
func fund(ctx context.Context, cat *Catalog, led *SubscriptionLedger, b Booking, now time.Time) error {
	if err := cat.ReserveSlot(ctx, b.ClassID); err != nil {
		return err
	}
	if err := led.Debit(ctx, b.SubscriptionID, b.ID, now); err != nil {
		return err
	}
	_, err := led.ActivateIfFirstUse(ctx, b.SubscriptionID, now)
	return err
}

// release cancels a booked entry and hands back its place and credit.
func release(ctx context.Context, r Repositories, cat *Catalog, led *SubscriptionLedger, b *Booking, reason string, now time.Time) error {
	if err := b.transition(BookingCancelled, now); err != nil {
		return err
	}
	if err := r.Bookings().UpdateBooking(ctx, b); err != nil {
		return err
	}
	if err := cat.ReleaseSlot(ctx, b.ClassID); err != nil {
		return err
	}
	return led.Credit(ctx, b.SubscriptionID, b.ID, reason, now)
}

func getBooking(ctx context.Context, bookings BookingRepository, id generic.BookingID) (*Booking, error) {
	b, err := bookings.GetBooking(ctx, id)
	if err != nil {
		if generic.IsNotFound(err) {
			return nil, notFound("booking", id, err)
		}
		return nil, err
	}
	return b, nil
}

func ensureNotBooked(ctx context.Context, bookings BookingRepository, userID generic.UserID, classID generic.ClassID) error {
	live, err := bookings.ListBookings(ctx, BookingFilter{
		UserID:   userID,
		ClassID:  classID,
		Statuses: []BookingStatus{BookingBooked, BookingWaiting},
	})
	if err != nil {
		return err
	}
	if len(live) > 0 {
		return newError(CodeAlreadyBooked, "user %s already holds %s on class %s", userID, live[0].Status, classID)
	}
	return nil
}
