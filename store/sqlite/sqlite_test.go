package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/amg/studio-ledger/generic"
	"github.com/amg/studio-ledger/store/sqlite"
	"github.com/amg/studio-ledger/studio"
)

var monday08 = time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC)

func eur(v int64) generic.Money { return generic.NewMoneyFromInt(v, generic.EUR) }

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func session(id string, start time.Time, capacity int) studio.ClassSession {
	return studio.ClassSession{
		ID:          generic.ClassID(id),
		StartsAt:    start,
		EndsAt:      start.Add(time.Hour),
		Category:    studio.CategoryGroup,
		Subtype:     "Grupos Spine Corrector 7",
		MaxCapacity: capacity,
		Price:       eur(10),
	}
}

func TestSessions_RoundTripAndOptimisticUpdate(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	require.NoError(t, st.Classes().CreateSession(ctx, session("c1", monday08.Add(48*time.Hour), 7)))
	assert.ErrorIs(t, st.Classes().CreateSession(ctx, session("c1", monday08, 7)), generic.ErrAlreadyExists)

	s, err := st.Classes().GetSession(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, monday08.Add(48*time.Hour), s.StartsAt)
	assert.Equal(t, "10.00 EUR", s.Price.String())

	// GIVEN: two readers of the same version
	stale := *s
	s.CurrentBookings = 1
	require.NoError(t, st.Classes().UpdateSession(ctx, s))
	assert.Equal(t, int64(1), s.Version)

	// WHEN: the stale copy writes
	stale.CurrentBookings = 1
	err = st.Classes().UpdateSession(ctx, &stale)

	// THEN: a retryable conflict
	var vc *generic.VersionConflictError
	require.ErrorAs(t, err, &vc)
	assert.True(t, generic.IsRetryable(err))

	_, err = st.Classes().GetSession(ctx, "nope")
	assert.True(t, generic.IsNotFound(err))
}

func TestListSessions_HalfOpenRangeOrdered(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	require.NoError(t, st.Classes().CreateSession(ctx, session("late", monday08.Add(3*time.Hour), 7)))
	require.NoError(t, st.Classes().CreateSession(ctx, session("early", monday08.Add(time.Hour), 7)))
	require.NoError(t, st.Classes().CreateSession(ctx, session("edge", monday08.Add(4*time.Hour), 7)))

	out, err := st.Classes().ListSessions(ctx, monday08, monday08.Add(4*time.Hour))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, generic.ClassID("early"), out[0].ID)
	assert.Equal(t, generic.ClassID("late"), out[1].ID)
}

func TestSubscriptions_NullableDatesAndOverdue(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	end := monday08.Add(-time.Hour)
	start := end.AddDate(0, 0, -35)
	require.NoError(t, st.Subscriptions().CreateSubscription(ctx, studio.Subscription{
		ID: "pending", UserID: "ana", PlanID: "group-4", PlanType: studio.PlanGroup,
		Duration: 4, Remaining: 4, ValidityWeeks: 5, Price: eur(35),
		Status: studio.SubscriptionPending, PurchaseDate: monday08.Add(-time.Hour),
	}))
	require.NoError(t, st.Subscriptions().CreateSubscription(ctx, studio.Subscription{
		ID: "old", UserID: "ana", PlanID: "group-4", PlanType: studio.PlanGroup,
		Duration: 4, Remaining: 2, ValidityWeeks: 5, Price: eur(35),
		Status: studio.SubscriptionActive, PurchaseDate: start, StartDate: &start, EndDate: &end,
	}))

	p, err := st.Subscriptions().GetSubscription(ctx, "pending")
	require.NoError(t, err)
	assert.Nil(t, p.StartDate)
	assert.Nil(t, p.EndDate)

	subs, err := st.Subscriptions().ListByUser(ctx, "ana")
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, generic.SubscriptionID("old"), subs[0].ID, "purchase order")

	overdue, err := st.Subscriptions().ListOverdue(ctx, monday08)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, generic.SubscriptionID("old"), overdue[0].ID)
	assert.Equal(t, end, *overdue[0].EndDate)
}

func TestBookings_FilterByStatus(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	for i, status := range []studio.BookingStatus{studio.BookingBooked, studio.BookingCancelled, studio.BookingWaiting} {
		require.NoError(t, st.Bookings().CreateBooking(ctx, studio.Booking{
			ID:          generic.BookingID([]string{"b1", "b2", "b3"}[i]),
			UserID:      "ana",
			ClassID:     "c1",
			Status:      status,
			BookingDate: monday08,
			UpdatedAt:   monday08,
		}))
	}

	live, err := st.Bookings().ListBookings(ctx, studio.BookingFilter{
		ClassID:  "c1",
		Statuses: []studio.BookingStatus{studio.BookingBooked, studio.BookingWaiting},
	})
	require.NoError(t, err)
	require.Len(t, live, 2)
	assert.Equal(t, generic.BookingID("b1"), live[0].ID, "insertion order breaks ties")
	assert.Equal(t, generic.BookingID("b3"), live[1].ID)
}

func TestFees_UniquePerYear(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	rec := studio.AnnualFeeRecord{
		ID: "f1", UserID: "ana", Year: 2026,
		ValidFrom: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ValidTo:   time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		Amount:    eur(35), PaidAt: monday08,
	}
	require.NoError(t, st.Fees().CreateFee(ctx, rec))

	rec.ID = "f2"
	assert.ErrorIs(t, st.Fees().CreateFee(ctx, rec), generic.ErrAlreadyExists)

	fees, err := st.Fees().ListFees(ctx, "ana")
	require.NoError(t, err)
	require.Len(t, fees, 1)
	assert.Equal(t, "35.00 EUR", fees[0].Amount.String())
	assert.True(t, fees[0].Covers(monday08))
}

func TestJournal_AppendOnlyWithIdempotency(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	j := st.Journal()

	grant := generic.Transaction{
		ID: "t1", OwnerID: "ana", AccountID: "s1", EffectiveAt: monday08,
		Delta: 4, Type: generic.TxGrant, IdempotencyKey: "s1-grant",
		Metadata: map[string]string{"plan_id": "group-4"},
	}
	require.NoError(t, j.Append(ctx, grant))
	assert.ErrorIs(t, j.Append(ctx, grant), generic.ErrDuplicateIdempotencyKey)

	// batch with a clash writes nothing
	err := j.AppendBatch(ctx, []generic.Transaction{
		{ID: "t2", OwnerID: "ana", AccountID: "s1", EffectiveAt: monday08.Add(time.Hour), Delta: -1, Type: generic.TxDebit, IdempotencyKey: "b1-debit"},
		{ID: "t3", OwnerID: "ana", AccountID: "s1", EffectiveAt: monday08.Add(time.Hour), Delta: -1, Type: generic.TxDebit, IdempotencyKey: "s1-grant"},
	})
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)

	txs, err := j.Load(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "group-4", txs[0].Metadata["plan_id"])

	ok, err := j.Exists(ctx, "b1-debit")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWithTx_RollsBackEveryRepository(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	boom := errors.New("boom")

	err := st.WithTx(ctx, func(r studio.Repositories) error {
		require.NoError(t, r.Classes().CreateSession(ctx, session("c1", monday08.Add(time.Hour), 7)))
		require.NoError(t, r.Journal().Append(ctx, generic.Transaction{
			ID: "t1", OwnerID: "ana", AccountID: "s1", EffectiveAt: monday08, Delta: 1,
			Type: generic.TxGrant, IdempotencyKey: "s1-grant",
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = st.Classes().GetSession(ctx, "c1")
	assert.True(t, generic.IsNotFound(err))
	ok, err := st.Journal().Exists(ctx, "s1-grant")
	require.NoError(t, err)
	assert.False(t, ok)
}

func newService(t *testing.T, st *sqlite.Store, clock generic.Clock) *studio.Service {
	t.Helper()
	plans, err := studio.NewPlanSet(
		studio.Plan{ID: "registration", Type: studio.PlanRegistration, Price: eur(35)},
		studio.Plan{ID: "group-4", Type: studio.PlanGroup, Category: "group", Credits: 4, ValidityWeeks: 5, Price: eur(35)},
	)
	require.NoError(t, err)
	cfg := studio.Config{
		Engine: studio.DefaultEngineConfig(),
		Fee: studio.FeePolicy{
			Amount: eur(35),
			Window: generic.PeriodConfig{Type: generic.PeriodCalendarYear},
		},
	}
	return studio.NewService(st, plans, cfg,
		studio.WithClock(clock),
		studio.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

// TestService_EndToEnd runs the booking flow against SQLite.
func TestService_EndToEnd(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	svc := newService(t, st, generic.NewFixedClock(monday08))

	require.NoError(t, svc.ScheduleSession(ctx, session("c1", monday08.Add(48*time.Hour), 1)))

	purchase, err := svc.PurchasePlan(ctx, "ana", "group-4")
	require.NoError(t, err)
	assert.Equal(t, "70.00 EUR", purchase.Quote.FinalPrice.String())

	b, err := svc.CreateBooking(ctx, "ana", "c1")
	require.NoError(t, err)

	_, err = svc.CreateBooking(ctx, "ben", "c1")
	assert.ErrorIs(t, err, studio.ErrClassFull)

	sub, err := svc.ActiveSubscription(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, 3, sub.Remaining)
	assert.Equal(t, studio.SubscriptionActive, sub.Status)

	_, err = svc.CancelBooking(ctx, b.ID)
	require.NoError(t, err)

	sub, err = svc.ActiveSubscription(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, 4, sub.Remaining)

	s, err := svc.GetSession(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 0, s.CurrentBookings)

	drift, err := svc.Reconcile(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, drift.OK())
}

func TestCreateBooking_ConcurrentLastPlace(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	svc := newService(t, st, generic.NewFixedClock(monday08))
	require.NoError(t, svc.ScheduleSession(ctx, session("last", monday08.Add(48*time.Hour), 1)))

	// GIVEN: eight members with credits and one free place
	const racers = 8
	users := make([]generic.UserID, racers)
	for i := range users {
		users[i] = generic.UserID(fmt.Sprintf("member-%d", i))
		_, err := svc.PurchasePlan(ctx, users[i], "group-4")
		require.NoError(t, err)
	}

	// WHEN: all of them book at once
	codes := make([]studio.ErrorCode, racers)
	var g errgroup.Group
	for i, u := range users {
		g.Go(func() error {
			_, err := svc.CreateBooking(ctx, u, "last")
			codes[i] = studio.CodeOf(err)
			if err != nil && !studio.IsClientError(err) {
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// THEN: exactly one wins and everyone else sees a full class
	got := make(map[studio.ErrorCode]int)
	for _, c := range codes {
		got[c]++
	}
	assert.Equal(t, map[studio.ErrorCode]int{"": 1, studio.CodeClassFull: racers - 1}, got)

	s, err := svc.GetSession(ctx, "last")
	require.NoError(t, err)
	assert.Equal(t, 1, s.CurrentBookings)

	// AND: only the winner paid a credit
	var debited int
	for _, u := range users {
		sub, err := svc.ActiveSubscription(ctx, u)
		require.NoError(t, err)
		require.NotNil(t, sub)
		if sub.Remaining == 3 {
			debited++
			continue
		}
		assert.Equal(t, 4, sub.Remaining, "member %s", u)
	}
	assert.Equal(t, 1, debited)
}
