/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario correctly sets up the expected state:
	- Sessions are scheduled
	- Plans are purchased, with the annual fee where due
	- Bookings, waitlist entries and outcomes are recorded
	- Balances and journals agree

These tests run against the SQLite store so they double as integration tests.
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/amg/studio-ledger/generic"
	"github.com/amg/studio-ledger/studio"
)

func loadScenario(t *testing.T, c *client, id string) {
	t.Helper()
	var resp map[string]string
	c.expect(c.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: id}), http.StatusOK, &resp)
	if resp["scenario"] != id {
		t.Fatalf("Expected scenario %s loaded, got %v", id, resp)
	}
}

func bookingsFor(t *testing.T, h *Handler, user generic.UserID) []studio.Booking {
	t.Helper()
	bs, err := h.Service.ListBookings(context.Background(), studio.BookingFilter{UserID: user})
	if err != nil {
		t.Fatalf("Failed to list bookings: %v", err)
	}
	return bs
}

func TestScenario_NewMember(t *testing.T) {
	// GIVEN: New member scenario
	// WHEN: Loading the scenario
	// THEN: The timetable exists, the fee is paid once and two classes are booked

	h, _ := setupSQLiteHandler(t)
	c := newClient(t, h)
	loadScenario(t, c, "new-member")
	ctx := context.Background()

	sessions, err := h.Service.ClassCatalog(ctx, monday08, monday08.AddDate(0, 0, 14))
	if err != nil {
		t.Fatalf("Failed to list classes: %v", err)
	}
	if len(sessions) == 0 {
		t.Fatal("Expected the timetable to be seeded")
	}

	bookings := bookingsFor(t, h, "lucia")
	if len(bookings) != 2 {
		t.Fatalf("Expected 2 bookings, got %d", len(bookings))
	}
	for _, b := range bookings {
		if b.Status != studio.BookingBooked {
			t.Errorf("Expected booked, got %s", b.Status)
		}
	}

	sum, err := h.Service.MemberSummary(ctx, "lucia")
	if err != nil {
		t.Fatalf("Failed to get summary: %v", err)
	}
	if sum.RemainingClasses != 6 || sum.JournalRemaining != 6 {
		t.Errorf("Expected 6 classes left, got %d (journal %d)", sum.RemainingClasses, sum.JournalRemaining)
	}
	if sum.AnnualFeePaidUntil == nil {
		t.Error("Expected the annual fee to be paid")
	}

	var current ScenarioDTO
	c.expect(c.do(http.MethodGet, "/api/scenarios/current", nil), http.StatusOK, &current)
	if current.ID != "new-member" {
		t.Errorf("Expected current scenario new-member, got %q", current.ID)
	}
}

func TestScenario_FullClass(t *testing.T) {
	h, _ := setupSQLiteHandler(t)
	c := newClient(t, h)
	loadScenario(t, c, "full-class")

	var class SessionDTO
	c.expect(c.do(http.MethodGet, "/api/classes/demo-full", nil), http.StatusOK, &class)
	if class.CurrentBookings != 2 || class.FreeSpots != 0 {
		t.Errorf("Expected a full class, got %d/%d", class.CurrentBookings, class.MaxCapacity)
	}

	carla := bookingsFor(t, h, "carla")
	if len(carla) != 1 || carla[0].Status != studio.BookingWaiting {
		t.Fatalf("Expected Carla on the waitlist, got %+v", carla)
	}

	// Ana cancelling promotes Carla.
	ana := bookingsFor(t, h, "ana")
	c.expect(c.do(http.MethodPost, "/api/bookings/"+string(ana[0].ID)+"/cancel", nil), http.StatusOK, nil)
	carla = bookingsFor(t, h, "carla")
	if carla[0].Status != studio.BookingBooked {
		t.Errorf("Expected Carla promoted, got %s", carla[0].Status)
	}
}

func TestScenario_LateCancellation(t *testing.T) {
	h, _ := setupSQLiteHandler(t)
	c := newClient(t, h)
	loadScenario(t, c, "late-cancellation")

	diego := bookingsFor(t, h, "diego")
	if len(diego) != 1 {
		t.Fatalf("Expected 1 booking, got %d", len(diego))
	}
	c.expectCode(c.do(http.MethodPost, "/api/bookings/"+string(diego[0].ID)+"/cancel", nil),
		http.StatusUnprocessableEntity, studio.CodeCancellationWindowClosed)
}

func TestScenario_ExpiredPack(t *testing.T) {
	h, _ := setupSQLiteHandler(t)
	c := newClient(t, h)
	loadScenario(t, c, "expired-pack")
	ctx := context.Background()

	subs, err := h.deps.Store.Subscriptions().ListByUser(ctx, "elena")
	if err != nil {
		t.Fatalf("Failed to list subscriptions: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("Expected 1 subscription, got %d", len(subs))
	}
	if subs[0].Status != studio.SubscriptionExpired {
		t.Errorf("Expected expired, got %s", subs[0].Status)
	}
	if subs[0].Remaining != 3 {
		t.Errorf("Expected 3 unused credits kept on record, got %d", subs[0].Remaining)
	}

	if sub := c.subscription("elena"); sub != nil {
		t.Errorf("Expected no active subscription, got %+v", sub)
	}
}

func TestScenario_Attendance(t *testing.T) {
	h, _ := setupSQLiteHandler(t)
	c := newClient(t, h)
	loadScenario(t, c, "attendance")

	want := map[generic.UserID]studio.BookingStatus{
		"fran":  studio.BookingAttended,
		"gabri": studio.BookingNoShow,
	}
	for user, status := range want {
		bs := bookingsFor(t, h, user)
		if len(bs) != 1 || bs[0].Status != status {
			t.Errorf("Expected %s to be %s, got %+v", user, status, bs)
		}
		drift, err := h.Service.Reconcile(context.Background(), bs[0].SubscriptionID)
		if err != nil {
			t.Fatalf("Failed to reconcile: %v", err)
		}
		if !drift.OK() || drift.Stored != 3 {
			t.Errorf("Expected 3 credits with no drift for %s, got %+v", user, drift)
		}
	}
}

func TestScenario_ReloadResetsStore(t *testing.T) {
	// GIVEN: One scenario loaded
	h, _ := setupSQLiteHandler(t)
	c := newClient(t, h)
	loadScenario(t, c, "full-class")

	// WHEN: Loading another
	loadScenario(t, c, "late-cancellation")

	// THEN: Nothing from the first remains
	if bs := bookingsFor(t, h, "ana"); len(bs) != 0 {
		t.Errorf("Expected old bookings gone, got %d", len(bs))
	}
	c.expectCode(c.do(http.MethodGet, "/api/classes/demo-full", nil), http.StatusNotFound, studio.CodeNotFound)
}

func TestScenario_ResetAndUnknown(t *testing.T) {
	h, _ := setupMemoryHandler(t)
	c := newClient(t, h)

	var list []ScenarioDTO
	c.expect(c.do(http.MethodGet, "/api/scenarios", nil), http.StatusOK, &list)
	if len(list) != len(loaders) {
		t.Errorf("Expected %d scenarios, got %d", len(loaders), len(list))
	}
	for _, s := range list {
		if _, ok := loaders[s.ID]; !ok {
			t.Errorf("Scenario %s has no loader", s.ID)
		}
	}

	c.expectCode(c.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"}), http.StatusBadRequest, studio.CodeInvalidArgument)

	loadScenario(t, c, "late-cancellation")
	c.expect(c.do(http.MethodPost, "/api/scenarios/reset", nil), http.StatusOK, nil)

	rec := c.do(http.MethodGet, "/api/scenarios/current", nil)
	c.expect(rec, http.StatusOK, nil)
	if got := rec.Body.String(); got != "null\n" {
		t.Errorf("Expected no current scenario, got %s", got)
	}
	if bs := bookingsFor(t, h, "diego"); len(bs) != 0 {
		t.Errorf("Expected reset to clear bookings, got %d", len(bs))
	}
}
