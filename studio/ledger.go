/*
ledger.go - Subscription credit ledger

PURPOSE:
  Owns every change to a subscription's Remaining counter and its status.
  Each change is mirrored by a line in the append-only journal so that
  Reconcile can prove the counter was never touched outside this file.

LIFECYCLE:
  pending --(first booking)--> active --(last credit used)--> used
     |                           |  ^                          |
     |                           |  +----(cancel credit)-------+
     +-------------------------(end date passes)--------------> expired

IDEMPOTENCY KEYS:
  <subscription>-grant    purchase
  <booking>-debit         booking funded
  <booking>-credit        booking cancelled in time
  <subscription>-expiry   expiry sweep
*/
package studio

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/amg/studio-ledger/generic"
)

// SelectionPolicy decides which subscription funds a booking when a member
// holds more than one usable bundle.
type SelectionPolicy string

const (
	SelectPurchaseOrder  SelectionPolicy = "purchase_order"
	SelectEarliestExpiry SelectionPolicy = "earliest_expiry"
)

func (p SelectionPolicy) Valid() bool {
	return p == SelectPurchaseOrder || p == SelectEarliestExpiry
}

const DefaultValidityWeeks = 5

type SubscriptionLedger struct {
	subs      SubscriptionRepository
	lines     generic.Store
	journal   generic.Ledger
	selection SelectionPolicy
}

func NewSubscriptionLedger(subs SubscriptionRepository, journal generic.Store, selection SelectionPolicy) *SubscriptionLedger {
	if !selection.Valid() {
		selection = SelectPurchaseOrder
	}
	return &SubscriptionLedger{
		subs:      subs,
		lines:     journal,
		journal:   generic.NewLedger(journal),
		selection: selection,
	}
}

func (l *SubscriptionLedger) get(ctx context.Context, id generic.SubscriptionID) (*Subscription, error) {
	s, err := l.subs.GetSubscription(ctx, id)
	if err != nil {
		if generic.IsNotFound(err) {
			return nil, notFound("subscription", id, err)
		}
		return nil, err
	}
	return s, nil
}

// GetActive returns the subscription that would fund a booking at now, or
// nil when the member holds none.
func (l *SubscriptionLedger) GetActive(ctx context.Context, userID generic.UserID, now time.Time) (*Subscription, error) {
	all, err := l.subs.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	var usable []Subscription
	for _, s := range all {
		if s.CanBackBooking(now) {
			usable = append(usable, s)
		}
	}
	if len(usable) == 0 {
		return nil, nil
	}
	if l.selection == SelectEarliestExpiry {
		sort.SliceStable(usable, func(i, j int) bool {
			return expiresBefore(usable[i], usable[j])
		})
	}
	picked := usable[0]
	return &picked, nil
}

// expiresBefore orders activated bundles by end date ahead of pending ones.
func expiresBefore(a, b Subscription) bool {
	switch {
	case a.EndDate != nil && b.EndDate != nil:
		return a.EndDate.Before(*b.EndDate)
	case a.EndDate != nil:
		return true
	default:
		return false
	}
}

// fundingError explains why GetActive found nothing.
func (l *SubscriptionLedger) fundingError(ctx context.Context, userID generic.UserID, now time.Time) error {
	all, err := l.subs.ListByUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, s := range all {
		if s.IsLive(now) && s.Remaining == 0 {
			return newError(CodeInsufficientBalance, "subscription %s has no classes left", s.ID)
		}
	}
	return newError(CodeNoActiveSubscription, "user %s has no active subscription", userID)
}

// Open stores a freshly purchased subscription and journals its grant.
func (l *SubscriptionLedger) Open(ctx context.Context, s Subscription, now time.Time) error {
	if err := l.subs.CreateSubscription(ctx, s); err != nil {
		return err
	}
	return l.journal.Append(ctx, l.line(s, generic.TxGrant, s.Duration, string(s.ID), "purchase "+s.PlanID, string(s.ID)+"-grant", now))
}

// Debit consumes one credit for bookingID.
func (l *SubscriptionLedger) Debit(ctx context.Context, id generic.SubscriptionID, bookingID generic.BookingID, now time.Time) error {
	s, err := l.get(ctx, id)
	if err != nil {
		return err
	}
	if s.Status == SubscriptionExpired || s.IsOverdue(now) {
		return newError(CodeNoActiveSubscription, "subscription %s expired", id)
	}
	if s.Remaining <= 0 {
		return newError(CodeInsufficientBalance, "subscription %s has no classes left", id)
	}
	s.Remaining--
	if s.Remaining == 0 && s.Status == SubscriptionActive {
		if err := s.transition(SubscriptionUsed); err != nil {
			return err
		}
	}
	if err := l.subs.UpdateSubscription(ctx, s); err != nil {
		return err
	}
	return l.journal.Append(ctx, l.line(*s, generic.TxDebit, -1, string(bookingID), "booking", string(bookingID)+"-debit", now))
}

// Credit hands one credit back for bookingID, capped at Duration.
// Crediting the same booking twice is a no-op.
func (l *SubscriptionLedger) Credit(ctx context.Context, id generic.SubscriptionID, bookingID generic.BookingID, reason string, now time.Time) error {
	key := string(bookingID) + "-credit"
	done, err := l.lines.Exists(ctx, key)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	s, err := l.get(ctx, id)
	if err != nil {
		return err
	}
	if s.Remaining >= s.Duration {
		return nil
	}
	s.Remaining++
	if s.Status == SubscriptionUsed {
		if err := s.transition(SubscriptionActive); err != nil {
			return err
		}
	}
	if err := l.subs.UpdateSubscription(ctx, s); err != nil {
		return err
	}
	return l.journal.Append(ctx, l.line(*s, generic.TxCredit, 1, string(bookingID), reason, key, now))
}

// ActivateIfFirstUse starts the validity window on the first booking.
func (l *SubscriptionLedger) ActivateIfFirstUse(ctx context.Context, id generic.SubscriptionID, now time.Time) (*Subscription, error) {
	s, err := l.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.StartDate != nil {
		return s, nil
	}
	weeks := s.ValidityWeeks
	if weeks <= 0 {
		weeks = DefaultValidityWeeks
	}
	start := now
	end := now.Add(generic.Weeks(weeks))
	s.StartDate = &start
	s.EndDate = &end
	if err := s.transition(SubscriptionActive); err != nil {
		return nil, err
	}
	if s.Remaining == 0 {
		if err := s.transition(SubscriptionUsed); err != nil {
			return nil, err
		}
	}
	if err := l.subs.UpdateSubscription(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// ExpireOverdue marks every subscription past its end date as expired and
// returns their ids. Running it twice expires nothing the second time.
func (l *SubscriptionLedger) ExpireOverdue(ctx context.Context, now time.Time) ([]generic.SubscriptionID, error) {
	overdue, err := l.subs.ListOverdue(ctx, now)
	if err != nil {
		return nil, err
	}
	var (
		expired []generic.SubscriptionID
		lines   []generic.Transaction
	)
	for i := range overdue {
		s := &overdue[i]
		if err := s.transition(SubscriptionExpired); err != nil {
			return nil, err
		}
		if err := l.subs.UpdateSubscription(ctx, s); err != nil {
			return nil, err
		}
		expired = append(expired, s.ID)

		key := string(s.ID) + "-expiry"
		done, err := l.lines.Exists(ctx, key)
		if err != nil {
			return nil, err
		}
		if !done {
			lines = append(lines, l.line(*s, generic.TxExpiry, 0, string(s.ID), fmt.Sprintf("expired with %d left", s.Remaining), key, now))
		}
	}
	if len(lines) > 0 {
		if err := l.journal.AppendBatch(ctx, lines); err != nil {
			return nil, err
		}
	}
	return expired, nil
}

// History returns the journal of one subscription. Zero bounds return the
// whole journal; a zero to means up to now.
func (l *SubscriptionLedger) History(ctx context.Context, id generic.SubscriptionID, from, to, now time.Time) ([]generic.Transaction, error) {
	if _, err := l.get(ctx, id); err != nil {
		return nil, err
	}
	if from.IsZero() && to.IsZero() {
		return l.journal.Transactions(ctx, id)
	}
	if to.IsZero() {
		to = now
	}
	txs, err := l.journal.TransactionsBetween(ctx, id, from, to)
	if errors.Is(err, generic.ErrInvalidPeriod) {
		return nil, newError(CodeInvalidArgument, "to %s is before from %s", to.Format(time.RFC3339), from.Format(time.RFC3339))
	}
	return txs, err
}

// RecordAttendance journals a zero-delta audit line for an attendance mark.
func (l *SubscriptionLedger) RecordAttendance(ctx context.Context, b Booking, now time.Time) error {
	s, err := l.get(ctx, b.SubscriptionID)
	if err != nil {
		return err
	}
	return l.journal.Append(ctx, l.line(*s, generic.TxAttendance, 0, string(b.ID), string(b.Status), string(b.ID)+"-attendance", now))
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// Drift compares a subscription row against its journal.
type Drift struct {
	SubscriptionID generic.SubscriptionID
	Stored         int
	Journal        int
}

func (d Drift) OK() bool { return d.Stored == d.Journal }

// Reconcile replays the journal and reports any mismatch with the stored
// Remaining counter. Nothing is corrected.
func (l *SubscriptionLedger) Reconcile(ctx context.Context, id generic.SubscriptionID, now time.Time) (Drift, error) {
	s, err := l.get(ctx, id)
	if err != nil {
		return Drift{}, err
	}
	bal, err := l.journal.BalanceAt(ctx, id, now)
	if err != nil {
		return Drift{}, err
	}
	return Drift{SubscriptionID: id, Stored: s.Remaining, Journal: bal.Remaining()}, nil
}

func (l *SubscriptionLedger) line(s Subscription, typ generic.TransactionType, delta int, ref, reason, key string, now time.Time) generic.Transaction {
	return generic.Transaction{
		ID:             generic.TransactionID(generic.NewID("tx")),
		OwnerID:        s.UserID,
		AccountID:      s.ID,
		EffectiveAt:    now,
		Delta:          delta,
		Type:           typ,
		ReferenceID:    ref,
		Reason:         reason,
		IdempotencyKey: key,
		CreatedBy:      "ledger",
		CreatedAt:      now,
	}
}
