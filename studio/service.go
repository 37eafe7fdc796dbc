/*
service.go - Facade exposing the studio operations to transports

PURPOSE:
  The HTTP API and CLI talk to this type only. It owns the clock, hands
  the current time to the engine components and reports each operation's
  outcome to an Observer (metrics) and the structured logger.

OPERATIONS:
  Member:  CreateBooking, CancelBooking, JoinWaitlist, ActiveSubscription,
           PurchasePlan, Quote, MemberSummary, ClassCatalog
  Staff:   MarkAttendance, ScheduleSession, CancelSession, ListBookings,
           ExpireOverdue, Reconcile
*/
package studio

import (
	"context"
	"log/slog"
	"time"

	"github.com/amg/studio-ledger/generic"
)

// Operation names, as reported to the Observer.
const (
	OpCreateBooking      = "create_booking"
	OpCancelBooking      = "cancel_booking"
	OpJoinWaitlist       = "join_waitlist"
	OpMarkAttendance     = "mark_attendance"
	OpActiveSubscription = "active_subscription"
	OpPurchasePlan       = "purchase_plan"
	OpClassCatalog       = "class_catalog"
	OpScheduleSession    = "schedule_session"
	OpCancelSession      = "cancel_session"
	OpExpireOverdue      = "expire_overdue"
)

// Observer receives operation outcomes. code is "" on success.
type Observer interface {
	OperationCompleted(op string, code ErrorCode, elapsed time.Duration)
	SubscriptionsExpired(n int)
}

type nopObserver struct{}

func (nopObserver) OperationCompleted(string, ErrorCode, time.Duration) {}
func (nopObserver) SubscriptionsExpired(int)                            {}

type Config struct {
	Engine        EngineConfig
	Fee           FeePolicy
	ValidityWeeks int
	CatalogDays   int
}

type Service struct {
	store      Store
	plans      PlanCatalog
	cfg        Config
	clock      generic.Clock
	log        *slog.Logger
	obs        Observer
	engine     *BookingEngine
	attendance *AttendanceRecorder
}

type Option func(*Service)

func WithClock(c generic.Clock) Option { return func(s *Service) { s.clock = c } }
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }
func WithObserver(o Observer) Option   { return func(s *Service) { s.obs = o } }

func NewService(store Store, plans PlanCatalog, cfg Config, opts ...Option) *Service {
	s := &Service{
		store: store,
		plans: plans,
		cfg:   cfg,
		clock: generic.SystemClock{},
		log:   slog.Default(),
		obs:   nopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.ValidityWeeks <= 0 {
		s.cfg.ValidityWeeks = DefaultValidityWeeks
	}
	if s.cfg.CatalogDays <= 0 {
		s.cfg.CatalogDays = 35
	}
	s.engine = NewBookingEngine(store, cfg.Engine, s.log)
	s.attendance = NewAttendanceRecorder(store, cfg.Engine, s.log)
	return s
}

func (s *Service) Now() time.Time { return s.clock.Now() }

func (s *Service) observe(op string, start time.Time, err error) {
	code := CodeOf(err)
	if err != nil && code == "" {
		code = "Internal"
	}
	s.obs.OperationCompleted(op, code, time.Since(start))
	if err != nil && !IsClientError(err) && code != CodeNotFound {
		s.log.Error("operation failed", "op", op, "error", err)
	}
}

// =============================================================================
// BOOKINGS
// =============================================================================

func (s *Service) CreateBooking(ctx context.Context, userID generic.UserID, classID generic.ClassID) (*Booking, error) {
	start := time.Now()
	b, err := s.engine.CreateBooking(ctx, userID, classID, s.clock.Now())
	s.observe(OpCreateBooking, start, err)
	return b, err
}

// CancelBooking cancels the booking and, if a place was freed, promotes
// the head of the class waitlist. A failed promotion does not undo the
// cancellation.
func (s *Service) CancelBooking(ctx context.Context, id generic.BookingID) (*Booking, error) {
	start := time.Now()
	now := s.clock.Now()
	b, err := s.engine.CancelBooking(ctx, id, now)
	s.observe(OpCancelBooking, start, err)
	if err != nil {
		return nil, err
	}
	if b.SubscriptionID != "" {
		if _, perr := s.engine.PromoteWaitlist(ctx, b.ClassID, now); perr != nil && CodeOf(perr) != CodeClassStarted {
			s.log.Warn("waitlist promotion failed", "class_id", b.ClassID, "error", perr)
		}
	}
	return b, nil
}

func (s *Service) JoinWaitlist(ctx context.Context, userID generic.UserID, classID generic.ClassID) (*Booking, error) {
	start := time.Now()
	b, err := s.engine.JoinWaitlist(ctx, userID, classID, s.clock.Now())
	s.observe(OpJoinWaitlist, start, err)
	return b, err
}

func (s *Service) MarkAttendance(ctx context.Context, id generic.BookingID, outcome BookingStatus) (*Booking, error) {
	start := time.Now()
	b, err := s.attendance.MarkAttendance(ctx, id, outcome, s.clock.Now())
	s.observe(OpMarkAttendance, start, err)
	return b, err
}

func (s *Service) ListBookings(ctx context.Context, f BookingFilter) ([]Booking, error) {
	return s.store.Bookings().ListBookings(ctx, f)
}

// =============================================================================
// SUBSCRIPTIONS AND PLANS
// =============================================================================

// ActiveSubscription returns the subscription that would fund the member's
// next booking, or nil if there is none.
func (s *Service) ActiveSubscription(ctx context.Context, userID generic.UserID) (*Subscription, error) {
	start := time.Now()
	led := NewSubscriptionLedger(s.store.Subscriptions(), s.store.Journal(), s.cfg.Engine.Selection)
	sub, err := led.GetActive(ctx, userID, s.clock.Now())
	s.observe(OpActiveSubscription, start, err)
	return sub, err
}

func (s *Service) Plans() []Plan { return s.plans.Plans() }

// PlansOfType returns the catalogue entries of one type, cheapest first.
func (s *Service) PlansOfType(t PlanType) ([]Plan, error) {
	if !t.Valid() {
		return nil, newError(CodeInvalidArgument, "unknown plan type %q", t)
	}
	return s.plans.ByType(t), nil
}

func (s *Service) Quote(ctx context.Context, planID string, userID generic.UserID) (*Quote, error) {
	return NewPricingResolver(s.plans, s.store.Fees(), s.cfg.Fee).PriceForPlan(ctx, planID, userID, s.clock.Now())
}

// Purchase is the result of buying a plan. Subscription is nil for the
// annual fee plan; AnnualFee is nil when no fee was charged.
type Purchase struct {
	Quote        Quote
	Subscription *Subscription
	AnnualFee    *AnnualFeeRecord
}

// PurchasePlan records a paid purchase. The quote, the fee record and the
// new subscription are written in one transaction.
func (s *Service) PurchasePlan(ctx context.Context, userID generic.UserID, planID string) (*Purchase, error) {
	start := time.Now()
	now := s.clock.Now()
	if userID == "" {
		err := newError(CodeInvalidArgument, "user is required")
		s.observe(OpPurchasePlan, start, err)
		return nil, err
	}

	var result *Purchase
	err := s.engine.commit(ctx, "purchase plan", func(r Repositories) error {
		result = nil
		pricing := NewPricingResolver(s.plans, r.Fees(), s.cfg.Fee)
		quote, err := pricing.PriceForPlan(ctx, planID, userID, now)
		if err != nil {
			return err
		}
		p := &Purchase{Quote: *quote}

		if quote.Plan.IsAnnualFee() {
			if quote.AnnualFeePaid {
				return newError(CodeAnnualFeeAlreadyPaid, "user %s fee is paid until %s", userID, quote.FeeWindow.End.Format(time.DateOnly))
			}
			if p.AnnualFee, err = pricing.RecordFee(ctx, userID, now); err != nil {
				return err
			}
			result = p
			return nil
		}

		if quote.RequiresAnnualFee {
			if p.AnnualFee, err = pricing.RecordFee(ctx, userID, now); err != nil {
				return err
			}
		}
		p.Subscription = s.newSubscription(userID, quote, p.AnnualFee, now)
		led := NewSubscriptionLedger(r.Subscriptions(), r.Journal(), s.cfg.Engine.Selection)
		if err := led.Open(ctx, *p.Subscription, now); err != nil {
			return err
		}
		result = p
		return nil
	})
	s.observe(OpPurchasePlan, start, err)
	if err != nil {
		return nil, err
	}
	s.log.Info("plan purchased", "user_id", userID, "plan_id", planID, "final_price", result.Quote.FinalPrice.String())
	return result, nil
}

func (s *Service) newSubscription(userID generic.UserID, q *Quote, fee *AnnualFeeRecord, now time.Time) *Subscription {
	weeks := q.Plan.ValidityWeeks
	if weeks <= 0 {
		weeks = s.cfg.ValidityWeeks
	}
	sub := &Subscription{
		ID:            generic.SubscriptionID(generic.NewID("sub")),
		UserID:        userID,
		PlanID:        q.Plan.ID,
		PlanType:      q.Plan.Type,
		Category:      q.Plan.Category,
		Duration:      q.Plan.Credits,
		Remaining:     q.Plan.Credits,
		ValidityWeeks: weeks,
		Price:         q.FinalPrice,
		Status:        SubscriptionPending,
		PurchaseDate:  now,
		HasMatrix:     fee != nil,
	}
	if fee != nil {
		end := fee.ValidTo
		sub.MatrixExpiry = &end
	}
	return sub
}

// ExpireOverdue runs one expiry sweep and returns how many subscriptions
// were expired.
func (s *Service) ExpireOverdue(ctx context.Context) (int, error) {
	start := time.Now()
	now := s.clock.Now()
	var expired []generic.SubscriptionID
	err := s.engine.commit(ctx, "expire overdue", func(r Repositories) error {
		led := NewSubscriptionLedger(r.Subscriptions(), r.Journal(), s.cfg.Engine.Selection)
		var err error
		expired, err = led.ExpireOverdue(ctx, now)
		return err
	})
	s.observe(OpExpireOverdue, start, err)
	if err != nil {
		return 0, err
	}
	if len(expired) > 0 {
		s.obs.SubscriptionsExpired(len(expired))
		s.log.Info("subscriptions expired", "count", len(expired))
	}
	return len(expired), nil
}

func (s *Service) Reconcile(ctx context.Context, id generic.SubscriptionID) (Drift, error) {
	led := NewSubscriptionLedger(s.store.Subscriptions(), s.store.Journal(), s.cfg.Engine.Selection)
	return led.Reconcile(ctx, id, s.clock.Now())
}

// SubscriptionJournal returns the journal lines of one subscription
// effective in [from, to]. Zero bounds return the whole history.
func (s *Service) SubscriptionJournal(ctx context.Context, id generic.SubscriptionID, from, to time.Time) ([]generic.Transaction, error) {
	led := NewSubscriptionLedger(s.store.Subscriptions(), s.store.Journal(), s.cfg.Engine.Selection)
	return led.History(ctx, id, from, to, s.clock.Now())
}

// MemberSummary is the per-member view derived from the subscription rows
// and the journal.
type MemberSummary struct {
	UserID              generic.UserID
	RemainingClasses    int
	JournalRemaining    int
	ActiveSubscriptions int
	NextExpiry          *time.Time
	AnnualFeePaidUntil  *time.Time
	Bookings            []Booking
}

func (s *Service) MemberSummary(ctx context.Context, userID generic.UserID) (*MemberSummary, error) {
	now := s.clock.Now()
	subs, err := s.store.Subscriptions().ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	lines, err := s.store.Journal().LoadByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	byAccount := make(map[generic.SubscriptionID][]generic.Transaction)
	for _, tx := range lines {
		byAccount[tx.AccountID] = append(byAccount[tx.AccountID], tx)
	}

	sum := &MemberSummary{UserID: userID}
	for _, sub := range subs {
		if !sub.IsLive(now) {
			continue
		}
		sum.ActiveSubscriptions++
		sum.RemainingClasses += sub.Remaining
		sum.JournalRemaining += generic.Replay(sub.ID, byAccount[sub.ID], now).Remaining()
		if sub.EndDate != nil && (sum.NextExpiry == nil || sub.EndDate.Before(*sum.NextExpiry)) {
			end := *sub.EndDate
			sum.NextExpiry = &end
		}
	}

	fee, err := NewPricingResolver(s.plans, s.store.Fees(), s.cfg.Fee).PaidFee(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	if fee != nil {
		until := fee.ValidTo
		sum.AnnualFeePaidUntil = &until
	}

	sum.Bookings, err = s.store.Bookings().ListBookings(ctx, BookingFilter{
		UserID:   userID,
		Statuses: []BookingStatus{BookingBooked, BookingWaiting},
	})
	if err != nil {
		return nil, err
	}
	return sum, nil
}

// =============================================================================
// CLASSES
// =============================================================================

// ClassCatalog lists bookable sessions in [from, to). Zero bounds default
// to today and the configured number of days ahead.
func (s *Service) ClassCatalog(ctx context.Context, from, to time.Time) ([]ClassSession, error) {
	start := time.Now()
	if from.IsZero() {
		from = generic.StartOfDay(s.clock.Now())
	}
	if to.IsZero() {
		to = from.AddDate(0, 0, s.cfg.CatalogDays)
	}
	sessions, err := NewCatalog(s.store.Classes()).ListSessions(ctx, from, to)
	s.observe(OpClassCatalog, start, err)
	return sessions, err
}

func (s *Service) GetSession(ctx context.Context, id generic.ClassID) (*ClassSession, error) {
	return NewCatalog(s.store.Classes()).GetSession(ctx, id)
}

func (s *Service) ScheduleSession(ctx context.Context, session ClassSession) error {
	start := time.Now()
	err := s.engine.commit(ctx, "schedule session", func(r Repositories) error {
		return NewCatalog(r.Classes()).Schedule(ctx, session)
	})
	s.observe(OpScheduleSession, start, err)
	return err
}

// SeedSchedule schedules every session not already present and returns how
// many were added.
func (s *Service) SeedSchedule(ctx context.Context, sessions []ClassSession) (int, error) {
	added := 0
	err := s.engine.commit(ctx, "seed schedule", func(r Repositories) error {
		added = 0
		cat := NewCatalog(r.Classes())
		for _, session := range sessions {
			if _, err := r.Classes().GetSession(ctx, session.ID); err == nil {
				continue
			} else if !generic.IsNotFound(err) {
				return err
			}
			if err := cat.Schedule(ctx, session); err != nil {
				return err
			}
			added++
		}
		return nil
	})
	return added, err
}

func (s *Service) CancelSession(ctx context.Context, id generic.ClassID) ([]Booking, error) {
	start := time.Now()
	affected, err := s.engine.CancelSession(ctx, id, s.clock.Now())
	s.observe(OpCancelSession, start, err)
	return affected, err
}
