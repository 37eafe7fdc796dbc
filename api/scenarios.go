/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	studio data. Each scenario goes through studio.Service, so every row it
	creates obeys the same rules as a real booking.

AVAILABLE SCENARIOS:

	new-member:        First purchase pays the annual fee, two classes booked
	full-class:        Capacity reached, third member on the waitlist
	late-cancellation: Booking inside the 24h cutoff
	expired-pack:      Pack activated six weeks ago, expired by the sweep
	attendance:        Yesterday's class with one attended and one no-show

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Schedule sessions (timetable or one-off)
 3. Purchase plans for demo members
 4. Book, cancel, or mark attendance
 Scenarios that need history run a second Service whose clock is fixed in
 the past against the same store.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "full-class"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler and its dependencies
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/amg/studio-ledger/generic"
	"github.com/amg/studio-ledger/studio"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "new-member",
		Name:        "New Member",
		Description: "First purchase of the year pays the annual fee; two group classes booked",
	},
	{
		ID:          "full-class",
		Name:        "Full Class",
		Description: "Two-spot class filled by two members, a third waits for a cancellation",
	},
	{
		ID:          "late-cancellation",
		Name:        "Late Cancellation",
		Description: "Class starts in 12 hours; cancelling now is refused and keeps the credit spent",
	},
	{
		ID:          "expired-pack",
		Name:        "Expired Pack",
		Description: "Pack activated six weeks ago with credits left, expired by the sweep",
	},
	{
		ID:          "attendance",
		Name:        "Attendance",
		Description: "Yesterday's class: one member attended, one did not show",
	},
}

type scenarioLoader func(h *Handler, ctx context.Context) error

var loaders = map[string]scenarioLoader{
	"new-member":        (*Handler).loadNewMemberScenario,
	"full-class":        (*Handler).loadFullClassScenario,
	"late-cancellation": (*Handler).loadLateCancellationScenario,
	"expired-pack":      (*Handler).loadExpiredPackScenario,
	"attendance":        (*Handler).loadAttendanceScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeBody(w, r, &req) {
		return
	}
	load, ok := loaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}
	if err := load(h, ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears every row.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type resetter interface {
	Reset(ctx context.Context) error
}

func (h *Handler) reset(ctx context.Context) error {
	rs, ok := h.deps.Store.(resetter)
	if !ok {
		return fmt.Errorf("store %T cannot be reset", h.deps.Store)
	}
	if err := rs.Reset(ctx); err != nil {
		return err
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadNewMemberScenario(ctx context.Context) error {
	if _, err := h.seed(ctx, 14); err != nil {
		return err
	}
	if _, err := h.Service.PurchasePlan(ctx, "lucia", "group-8"); err != nil {
		return err
	}

	sessions, err := h.Service.ClassCatalog(ctx, time.Time{}, time.Time{})
	if err != nil {
		return err
	}
	now := h.deps.Clock.Now()
	booked := 0
	for _, s := range sessions {
		if booked == 2 {
			break
		}
		if s.Category != studio.CategoryGroup || s.HasStarted(now) || s.IsFull() {
			continue
		}
		if _, err := h.Service.CreateBooking(ctx, "lucia", s.ID); err != nil {
			return err
		}
		booked++
	}
	return nil
}

func (h *Handler) loadFullClassScenario(ctx context.Context) error {
	start := h.deps.Clock.Now().Add(48 * time.Hour).Truncate(time.Hour)
	if err := h.Service.ScheduleSession(ctx, demoSession("demo-full", start, 2)); err != nil {
		return err
	}
	for _, user := range []generic.UserID{"ana", "ben", "carla"} {
		if _, err := h.Service.PurchasePlan(ctx, user, "group-4"); err != nil {
			return err
		}
	}
	for _, user := range []generic.UserID{"ana", "ben"} {
		if _, err := h.Service.CreateBooking(ctx, user, "demo-full"); err != nil {
			return err
		}
	}
	_, err := h.Service.JoinWaitlist(ctx, "carla", "demo-full")
	return err
}

func (h *Handler) loadLateCancellationScenario(ctx context.Context) error {
	start := h.deps.Clock.Now().Add(12 * time.Hour)
	if err := h.Service.ScheduleSession(ctx, demoSession("demo-soon", start, 7)); err != nil {
		return err
	}
	if _, err := h.Service.PurchasePlan(ctx, "diego", "group-single"); err != nil {
		return err
	}
	_, err := h.Service.CreateBooking(ctx, "diego", "demo-soon")
	return err
}

func (h *Handler) loadExpiredPackScenario(ctx context.Context) error {
	past := h.deps.Clock.Now().AddDate(0, 0, -42)
	then := h.serviceAt(past)

	if err := then.ScheduleSession(ctx, demoSession("demo-past", past.Add(26*time.Hour), 7)); err != nil {
		return err
	}
	if _, err := then.PurchasePlan(ctx, "elena", "group-4"); err != nil {
		return err
	}
	// First booking starts the five-week validity window.
	if _, err := then.CreateBooking(ctx, "elena", "demo-past"); err != nil {
		return err
	}

	_, err := h.Service.ExpireOverdue(ctx)
	return err
}

func (h *Handler) loadAttendanceScenario(ctx context.Context) error {
	now := h.deps.Clock.Now()
	then := h.serviceAt(now.Add(-48 * time.Hour))

	if err := then.ScheduleSession(ctx, demoSession("demo-yesterday", now.Add(-24*time.Hour), 7)); err != nil {
		return err
	}
	outcomes := map[generic.UserID]studio.BookingStatus{
		"fran":  studio.BookingAttended,
		"gabri": studio.BookingNoShow,
	}
	for _, user := range []generic.UserID{"fran", "gabri"} {
		if _, err := then.PurchasePlan(ctx, user, "group-4"); err != nil {
			return err
		}
		b, err := then.CreateBooking(ctx, user, "demo-yesterday")
		if err != nil {
			return err
		}
		if _, err := h.Service.MarkAttendance(ctx, b.ID, outcomes[user]); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// serviceAt returns a Service over the same store whose clock is frozen at t.
func (h *Handler) serviceAt(t time.Time) *studio.Service {
	return studio.NewService(h.deps.Store, h.deps.Plans, h.deps.Config,
		studio.WithClock(generic.NewFixedClock(t)),
		studio.WithLogger(h.deps.Logger))
}

func demoSession(id string, start time.Time, capacity int) studio.ClassSession {
	return studio.ClassSession{
		ID:          generic.ClassID(id),
		StartsAt:    start,
		EndsAt:      start.Add(time.Hour),
		Category:    studio.CategoryGroup,
		Subtype:     "Grupos Spine Corrector 7",
		Instructor:  "AMG Pilates",
		Location:    "AMG Pilates Studio",
		MaxCapacity: capacity,
		Price:       generic.NewMoneyFromInt(10, generic.EUR),
	}
}
