/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the booking frontend

ROUTE GROUPS:
  /api/bookings/*   Bookings, cancellations, attendance
  /api/waitlist     Waitlist entries
  /api/users/*      Member views
  /api/plans/*      Catalogue and quotes
  /api/purchases    Plan purchases
  /api/classes/*    Class catalog
  /api/admin/*      Timetable, session cancellation, expiry sweep
  /api/scenarios/*  Demo scenarios
  /health, /metrics

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type RouterOptions struct {
	AllowedOrigins []string
	// Metrics is mounted at /metrics when non-nil.
	Metrics http.Handler
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", Health)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/bookings", func(r chi.Router) {
			r.Get("/", h.ListBookings)
			r.Post("/", h.CreateBooking)
			r.Post("/{id}/cancel", h.CancelBooking)
			r.Post("/{id}/attendance", h.MarkAttendance)
		})
		r.Post("/waitlist", h.JoinWaitlist)

		r.Route("/users/{id}", func(r chi.Router) {
			r.Get("/subscription", h.GetActiveSubscription)
			r.Get("/summary", h.GetMemberSummary)
		})

		r.Route("/plans", func(r chi.Router) {
			r.Get("/", h.ListPlans)
			r.Get("/{id}/quote", h.QuotePlan)
		})
		r.Post("/purchases", h.PurchasePlan)

		r.Route("/classes", func(r chi.Router) {
			r.Get("/", h.ListClasses)
			r.Get("/{id}", h.GetClass)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/classes", h.ScheduleClass)
			r.Post("/classes/{id}/cancel", h.CancelClass)
			r.Post("/seed", h.SeedSchedule)
			r.Post("/sweep", h.TriggerSweep)
			r.Get("/subscriptions/{id}/reconcile", h.Reconcile)
			r.Get("/subscriptions/{id}/journal", h.SubscriptionJournal)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
