package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/amg/studio-ledger/factory"
	"github.com/amg/studio-ledger/generic"
	"github.com/amg/studio-ledger/store/memory"
	"github.com/amg/studio-ledger/store/sqlite"
	"github.com/amg/studio-ledger/studio"
)

// monday08 is Monday 2026-03-02 08:00 UTC, inside the 2026 fee season.
var monday08 = time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testServiceConfig() studio.Config {
	return studio.Config{
		Engine: studio.DefaultEngineConfig(),
		Fee: studio.FeePolicy{
			Amount:      generic.NewMoneyFromInt(35, generic.EUR),
			Window:      generic.PeriodConfig{Type: generic.PeriodCalendarYear},
			SeasonStart: time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
		},
		ValidityWeeks: 5,
		CatalogDays:   35,
	}
}

func newTestHandler(t *testing.T, st studio.Store) (*Handler, *generic.FixedClock) {
	t.Helper()
	pf := factory.NewPlanFactory()
	plans, err := pf.DefaultPlans()
	if err != nil {
		t.Fatalf("Failed to load plans: %v", err)
	}
	schedule, err := pf.DefaultSchedule()
	if err != nil {
		t.Fatalf("Failed to load schedule: %v", err)
	}
	clock := generic.NewFixedClock(monday08)
	h := NewHandler(Deps{
		Store:    st,
		Plans:    plans,
		Config:   testServiceConfig(),
		Schedule: schedule,
		Clock:    clock,
		Logger:   quietLogger(),
	})
	return h, clock
}

func setupMemoryHandler(t *testing.T) (*Handler, *generic.FixedClock) {
	return newTestHandler(t, memory.New())
}

func setupSQLiteHandler(t *testing.T) (*Handler, *generic.FixedClock) {
	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return newTestHandler(t, st)
}

// client drives the full router so tests cover routing and status codes.
type client struct {
	t      *testing.T
	router http.Handler
}

func newClient(t *testing.T, h *Handler) *client {
	return &client{t: t, router: NewRouter(h, RouterOptions{})}
}

func (c *client) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			c.t.Fatalf("Failed to marshal body: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c.router.ServeHTTP(rec, req)
	return rec
}

// expect fails the test unless rec has the given status, and decodes the
// body into out when out is non-nil.
func (c *client) expect(rec *httptest.ResponseRecorder, status int, out any) {
	c.t.Helper()
	if rec.Code != status {
		c.t.Fatalf("Expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	if out == nil {
		return
	}
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		c.t.Fatalf("Failed to decode response: %v (%s)", err, rec.Body.String())
	}
}

// expectCode checks an error response's status and code.
func (c *client) expectCode(rec *httptest.ResponseRecorder, status int, code studio.ErrorCode) ErrorResponse {
	c.t.Helper()
	var resp ErrorResponse
	c.expect(rec, status, &resp)
	if resp.Code != string(code) {
		c.t.Errorf("Expected code %s, got %q (%s)", code, resp.Code, resp.Error)
	}
	return resp
}

func (c *client) scheduleClass(id string, start time.Time, capacity int) {
	c.t.Helper()
	rec := c.do(http.MethodPost, "/api/admin/classes", ScheduleSessionRequest{
		ID:          id,
		StartsAt:    start,
		EndsAt:      start.Add(time.Hour),
		Category:    "group",
		Subtype:     "Grupos 7\\1",
		MaxCapacity: capacity,
		Price:       "10.00",
	})
	c.expect(rec, http.StatusCreated, nil)
}

func (c *client) purchase(user, plan string) PurchaseDTO {
	c.t.Helper()
	var p PurchaseDTO
	c.expect(c.do(http.MethodPost, "/api/purchases", PurchaseRequest{UserID: user, PlanID: plan}), http.StatusCreated, &p)
	return p
}

func (c *client) book(user, class string) BookingDTO {
	c.t.Helper()
	var b BookingDTO
	c.expect(c.do(http.MethodPost, "/api/bookings", BookingRequest{UserID: user, ClassID: class}), http.StatusCreated, &b)
	return b
}

func (c *client) subscription(user string) *SubscriptionDTO {
	c.t.Helper()
	var s *SubscriptionDTO
	c.expect(c.do(http.MethodGet, "/api/users/"+user+"/subscription", nil), http.StatusOK, &s)
	return s
}
