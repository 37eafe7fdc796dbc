/*
handlers.go - HTTP API handlers for the studio booking ledger

PURPOSE:
  Exposes studio.Service via REST API. Handles HTTP request/response and
  JSON serialization, and delegates every rule to the studio package.

ENDPOINTS:
  Bookings:
    POST   /api/bookings                   Book a class (create_booking)
    GET    /api/bookings?user_id=&class_id=&status=
    POST   /api/bookings/{id}/cancel       Cancel (cancel_booking)
    POST   /api/bookings/{id}/attendance   Record outcome (mark_attendance)
    POST   /api/waitlist                   Join a full class's waitlist

  Members:
    GET    /api/users/{id}/subscription    Funding subscription or null
    GET    /api/users/{id}/summary         Derived member view

  Plans:
    GET    /api/plans?type=                Catalogue, one type cheapest first
    GET    /api/plans/{id}/quote?user_id=  Price incl. annual fee
    POST   /api/purchases                  Buy a plan (purchase_plan)

  Classes:
    GET    /api/classes?from=&to=          Bookable sessions (class_catalog)
    GET    /api/classes/{id}

  Admin:
    POST   /api/admin/classes              Schedule a session
    POST   /api/admin/classes/{id}/cancel  Cancel a session, credit everyone
    POST   /api/admin/seed?days=           Generate the weekly timetable
    POST   /api/admin/sweep                Expire overdue subscriptions
    GET    /api/admin/subscriptions/{id}/reconcile
    GET    /api/admin/subscriptions/{id}/journal?from=&to=

ERROR HANDLING:
  Errors are returned as ErrorResponse with a status derived from the
  studio.ErrorCode. Retryable is false for rejections that can never
  succeed for the same booking (closed cancellation window, terminal
  booking, class already started):
  - 400: InvalidArgument, malformed input
  - 404: NotFound
  - 409: ClassFull, AlreadyBooked, AlreadyTerminal, InvalidTransition,
         AnnualFeeAlreadyPaid, Conflict
  - 422: NoActiveSubscription, InsufficientBalance,
         CancellationWindowClosed, ClassStarted
  - 500: anything else

SECURITY NOTE:
  No authentication. Admin routes must sit behind a reverse proxy with
  access control in production.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/amg/studio-ledger/generic"
	"github.com/amg/studio-ledger/studio"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Deps are the collaborators a Handler is built from.
type Deps struct {
	Store    studio.Store
	Plans    studio.PlanCatalog
	Config   studio.Config
	Schedule studio.WeeklyTemplate
	Clock    generic.Clock
	Logger   *slog.Logger
	Observer studio.Observer
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *studio.Service
	deps    Deps

	mu              sync.Mutex
	currentScenario string
}

func NewHandler(d Deps) *Handler {
	if d.Clock == nil {
		d.Clock = generic.SystemClock{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	opts := []studio.Option{studio.WithClock(d.Clock), studio.WithLogger(d.Logger)}
	if d.Observer != nil {
		opts = append(opts, studio.WithObserver(d.Observer))
	}
	return &Handler{
		Service: studio.NewService(d.Store, d.Plans, d.Config, opts...),
		deps:    d,
	}
}

// =============================================================================
// BOOKING HANDLERS
// =============================================================================

// CreateBooking books one class for a member.
// POST /api/bookings
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req BookingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID == "" || req.ClassID == "" {
		writeError(w, http.StatusBadRequest, "user_id and class_id are required", nil)
		return
	}

	b, err := h.Service.CreateBooking(r.Context(), generic.UserID(req.UserID), generic.ClassID(req.ClassID))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingDTO(*b))
}

// JoinWaitlist queues a member for a full class.
// POST /api/waitlist
func (h *Handler) JoinWaitlist(w http.ResponseWriter, r *http.Request) {
	var req BookingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID == "" || req.ClassID == "" {
		writeError(w, http.StatusBadRequest, "user_id and class_id are required", nil)
		return
	}

	b, err := h.Service.JoinWaitlist(r.Context(), generic.UserID(req.UserID), generic.ClassID(req.ClassID))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingDTO(*b))
}

// CancelBooking cancels a booking or waitlist entry.
// POST /api/bookings/{id}/cancel
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id := generic.BookingID(chi.URLParam(r, "id"))

	b, err := h.Service.CancelBooking(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*b))
}

// MarkAttendance records attended or no-show.
// POST /api/bookings/{id}/attendance
func (h *Handler) MarkAttendance(w http.ResponseWriter, r *http.Request) {
	var req AttendanceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := generic.BookingID(chi.URLParam(r, "id"))

	b, err := h.Service.MarkAttendance(r.Context(), id, studio.BookingStatus(req.Outcome))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*b))
}

// ListBookings filters bookings by member, class and status. At least one
// of user_id and class_id is required.
// GET /api/bookings
func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := studio.BookingFilter{
		UserID:  generic.UserID(q.Get("user_id")),
		ClassID: generic.ClassID(q.Get("class_id")),
	}
	if f.UserID == "" && f.ClassID == "" {
		writeError(w, http.StatusBadRequest, "user_id or class_id is required", nil)
		return
	}
	if status := q.Get("status"); status != "" {
		for _, s := range strings.Split(status, ",") {
			f.Statuses = append(f.Statuses, studio.BookingStatus(strings.TrimSpace(s)))
		}
	}

	bookings, err := h.Service.ListBookings(r.Context(), f)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTOs(bookings))
}

// =============================================================================
// MEMBER HANDLERS
// =============================================================================

// GetActiveSubscription returns the subscription that funds the member's
// next booking, or null.
// GET /api/users/{id}/subscription
func (h *Handler) GetActiveSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.Service.ActiveSubscription(r.Context(), generic.UserID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionDTO(sub))
}

// GET /api/users/{id}/summary
func (h *Handler) GetMemberSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Service.MemberSummary(r.Context(), generic.UserID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMemberSummaryDTO(sum))
}

// =============================================================================
// PLAN HANDLERS
// =============================================================================

// GET /api/plans
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans := h.Service.Plans()
	if t := r.URL.Query().Get("type"); t != "" {
		var err error
		if plans, err = h.Service.PlansOfType(studio.PlanType(t)); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	dtos := make([]PlanDTO, len(plans))
	for i, p := range plans {
		dtos[i] = toPlanDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// QuotePlan prices a plan for a member, including the annual fee when due.
// GET /api/plans/{id}/quote?user_id=
func (h *Handler) QuotePlan(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}

	q, err := h.Service.Quote(r.Context(), chi.URLParam(r, "id"), generic.UserID(userID))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toQuoteDTO(*q))
}

// PurchasePlan records a paid purchase.
// POST /api/purchases
func (h *Handler) PurchasePlan(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.PlanID == "" {
		writeError(w, http.StatusBadRequest, "plan_id is required", nil)
		return
	}

	p, err := h.Service.PurchasePlan(r.Context(), generic.UserID(req.UserID), req.PlanID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPurchaseDTO(p))
}

// =============================================================================
// CLASS HANDLERS
// =============================================================================

// ListClasses returns bookable sessions in [from, to). Both bounds accept
// YYYY-MM-DD or RFC 3339; omitted bounds use the service defaults.
// GET /api/classes
func (h *Handler) ListClasses(w http.ResponseWriter, r *http.Request) {
	from, err := parseTimeParam(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from", err)
		return
	}
	to, err := parseTimeParam(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to", err)
		return
	}

	sessions, err := h.Service.ClassCatalog(r.Context(), from, to)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]SessionDTO, len(sessions))
	for i, s := range sessions {
		dtos[i] = toSessionDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GET /api/classes/{id}
func (h *Handler) GetClass(w http.ResponseWriter, r *http.Request) {
	s, err := h.Service.GetSession(r.Context(), generic.ClassID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(*s))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// ScheduleClass adds one session to the catalog.
// POST /api/admin/classes
func (h *Handler) ScheduleClass(w http.ResponseWriter, r *http.Request) {
	var req ScheduleSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid price", err)
		return
	}
	currency := generic.EUR
	if req.Currency != "" {
		currency = generic.Currency(strings.ToUpper(req.Currency))
	}
	id := req.ID
	if id == "" {
		id = generic.NewID("cls")
	}

	session := studio.ClassSession{
		ID:          generic.ClassID(id),
		StartsAt:    req.StartsAt,
		EndsAt:      req.EndsAt,
		Category:    studio.Category(req.Category),
		Subtype:     req.Subtype,
		Instructor:  req.Instructor,
		Location:    req.Location,
		Address:     req.Address,
		Description: req.Description,
		MaxCapacity: req.MaxCapacity,
		Price:       generic.Money{Amount: price, Currency: currency},
	}
	if err := h.Service.ScheduleSession(r.Context(), session); err != nil {
		writeDomainError(w, err)
		return
	}

	created, err := h.Service.GetSession(r.Context(), session.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionDTO(*created))
}

// CancelClass soft-cancels a session and credits every booked member.
// POST /api/admin/classes/{id}/cancel
func (h *Handler) CancelClass(w http.ResponseWriter, r *http.Request) {
	affected, err := h.Service.CancelSession(r.Context(), generic.ClassID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTOs(affected))
}

// SeedSchedule generates the weekly timetable for the next days.
// POST /api/admin/seed?days=35
func (h *Handler) SeedSchedule(w http.ResponseWriter, r *http.Request) {
	days := h.deps.Config.CatalogDays
	if days <= 0 {
		days = 35
	}
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer", err)
			return
		}
		days = n
	}

	added, err := h.seed(r.Context(), days)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SeedResultDTO{Added: added})
}

func (h *Handler) seed(ctx context.Context, days int) (int, error) {
	sessions, err := h.deps.Schedule.Generate(h.deps.Clock.Now(), days)
	if err != nil {
		return 0, err
	}
	return h.Service.SeedSchedule(ctx, sessions)
}

// TriggerSweep expires overdue subscriptions now.
// POST /api/admin/sweep
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	n, err := h.Service.ExpireOverdue(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SweepResultDTO{Expired: n})
}

// Reconcile compares a subscription row with its journal.
// GET /api/admin/subscriptions/{id}/reconcile
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	d, err := h.Service.Reconcile(r.Context(), generic.SubscriptionID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DriftDTO{
		SubscriptionID: string(d.SubscriptionID),
		Stored:         d.Stored,
		Journal:        d.Journal,
		OK:             d.OK(),
	})
}

// SubscriptionJournal lists the journal lines behind a subscription.
// GET /api/admin/subscriptions/{id}/journal?from=&to=
func (h *Handler) SubscriptionJournal(w http.ResponseWriter, r *http.Request) {
	from, err := parseTimeParam(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from", err)
		return
	}
	to, err := parseTimeParam(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to", err)
		return
	}

	txs, err := h.Service.SubscriptionJournal(r.Context(), generic.SubscriptionID(chi.URLParam(r, "id")), from, to)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]JournalLineDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toJournalLineDTO(tx)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}

// statusFor maps an error code to its HTTP status.
func statusFor(code studio.ErrorCode) int {
	switch code {
	case studio.CodeInvalidArgument:
		return http.StatusBadRequest
	case studio.CodeNotFound:
		return http.StatusNotFound
	case studio.CodeClassFull, studio.CodeAlreadyBooked, studio.CodeAlreadyTerminal,
		studio.CodeInvalidTransition, studio.CodeAnnualFeeAlreadyPaid, studio.CodeConflict:
		return http.StatusConflict
	case studio.CodeNoActiveSubscription, studio.CodeInsufficientBalance,
		studio.CodeCancellationWindowClosed, studio.CodeClassStarted:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeDomainError(w http.ResponseWriter, err error) {
	code := studio.CodeOf(err)
	status := statusFor(code)

	resp := ErrorResponse{Error: err.Error(), Code: string(code), Retryable: !studio.IsPermanent(err)}
	var se *studio.Error
	if errors.As(err, &se) {
		resp.Error = se.Message
		if resp.Error == "" {
			resp.Error = string(se.Code)
		}
		if se.Err != nil {
			resp.Details = se.Err.Error()
		}
	}
	if status == http.StatusInternalServerError {
		resp = ErrorResponse{Error: "Internal error", Details: err.Error(), Retryable: true}
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if status == http.StatusBadRequest {
		resp.Code = string(studio.CodeInvalidArgument)
	}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// Health reports liveness.
// GET /health
func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}
