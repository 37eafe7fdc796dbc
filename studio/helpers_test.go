package studio_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/amg/studio-ledger/generic"
	"github.com/amg/studio-ledger/store/memory"
	"github.com/amg/studio-ledger/studio"
)

// =============================================================================
// TEST INFRASTRUCTURE
// =============================================================================

// monday08 is Monday 2026-03-02 08:00 UTC, inside the 2026 fee season.
var monday08 = time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC)

func eur(v int64) generic.Money { return generic.NewMoneyFromInt(v, generic.EUR) }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPlans(t *testing.T) *studio.PlanSet {
	t.Helper()
	ps, err := studio.NewPlanSet(
		studio.Plan{ID: "registration", Type: studio.PlanRegistration, Name: "Matrícula", Price: eur(35)},
		studio.Plan{ID: "group-single", Type: studio.PlanSingle, Category: "group", Credits: 1, ValidityWeeks: 5, Price: eur(10)},
		studio.Plan{ID: "group-8", Type: studio.PlanGroup, Category: "group", Credits: 8, ValidityWeeks: 5, Price: eur(60)},
		studio.Plan{ID: "group-4", Type: studio.PlanGroup, Category: "group", Credits: 4, ValidityWeeks: 5, Price: eur(35)},
		studio.Plan{ID: "personal-1", Type: studio.PlanMembership, Category: "personal", Credits: 5, ValidityWeeks: 5, Price: eur(110)},
	)
	require.NoError(t, err)
	return ps
}

func testConfig() studio.Config {
	return studio.Config{
		Engine: studio.DefaultEngineConfig(),
		Fee: studio.FeePolicy{
			Amount:      eur(35),
			Window:      generic.PeriodConfig{Type: generic.PeriodCalendarYear},
			SeasonStart: time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
		},
		ValidityWeeks: 5,
	}
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *memory.Store
	clock *generic.FixedClock
	svc   *studio.Service
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, testConfig())
}

func newFixtureWith(t *testing.T, cfg studio.Config) *fixture {
	st := memory.New()
	clock := generic.NewFixedClock(monday08)
	return &fixture{
		t:     t,
		ctx:   context.Background(),
		store: st,
		clock: clock,
		svc:   studio.NewService(st, testPlans(t), cfg, studio.WithClock(clock), studio.WithLogger(quietLogger())),
	}
}

// class schedules a group session starting `in` from the fixture clock.
func (f *fixture) class(id string, in time.Duration, capacity int) generic.ClassID {
	f.t.Helper()
	start := f.clock.Now().Add(in)
	err := f.svc.ScheduleSession(f.ctx, studio.ClassSession{
		ID:          generic.ClassID(id),
		StartsAt:    start,
		EndsAt:      start.Add(time.Hour),
		Category:    studio.CategoryGroup,
		Subtype:     "Grupos Spine Corrector 7",
		MaxCapacity: capacity,
		Price:       eur(10),
	})
	require.NoError(f.t, err)
	return generic.ClassID(id)
}

func (f *fixture) buy(user generic.UserID, planID string) *studio.Subscription {
	f.t.Helper()
	p, err := f.svc.PurchasePlan(f.ctx, user, planID)
	require.NoError(f.t, err)
	require.NotNil(f.t, p.Subscription)
	return p.Subscription
}

func (f *fixture) book(user generic.UserID, class generic.ClassID) *studio.Booking {
	f.t.Helper()
	b, err := f.svc.CreateBooking(f.ctx, user, class)
	require.NoError(f.t, err)
	return b
}

func (f *fixture) sub(id generic.SubscriptionID) *studio.Subscription {
	f.t.Helper()
	s, err := f.store.Subscriptions().GetSubscription(f.ctx, id)
	require.NoError(f.t, err)
	return s
}

func (f *fixture) session(id generic.ClassID) *studio.ClassSession {
	f.t.Helper()
	s, err := f.store.Classes().GetSession(f.ctx, id)
	require.NoError(f.t, err)
	return s
}

func (f *fixture) booking(id generic.BookingID) *studio.Booking {
	f.t.Helper()
	b, err := f.store.Bookings().GetBooking(f.ctx, id)
	require.NoError(f.t, err)
	return b
}

// assertConserved checks remaining = duration - live funded bookings and
// that the journal agrees with the row.
func (f *fixture) assertConserved(id generic.SubscriptionID) {
	f.t.Helper()
	s := f.sub(id)
	live, err := f.store.Bookings().ListBookings(f.ctx, studio.BookingFilter{UserID: s.UserID})
	require.NoError(f.t, err)
	consumed := 0
	for _, b := range live {
		if b.SubscriptionID != id {
			continue
		}
		switch b.Status {
		case studio.BookingBooked, studio.BookingAttended, studio.BookingNoShow:
			consumed++
		}
	}
	require.Equal(f.t, s.Duration-consumed, s.Remaining, "balance conservation for %s", id)

	drift, err := f.svc.Reconcile(f.ctx, id)
	require.NoError(f.t, err)
	require.True(f.t, drift.OK(), "journal drift: %+v", drift)
}
