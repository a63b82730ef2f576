/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/classes/*    Class schedule, pricing, waitlists
  /api/bookings/*   Reservations, cancellation, settlement
  /api/members/*    Member directory, balances, history
  /api/products/*   Product catalog
  /api/purchases/*  Pending purchases and admin confirmation
  /api/webhooks/*   Payment gateway callbacks
  /api/admin/*      Review queue, manual sweeps
  /metrics          Prometheus metrics
  /health           Liveness probe

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Class routes
		r.Route("/classes", func(r chi.Router) {
			r.Get("/", h.ListClasses)
			r.Post("/", h.CreateClass)
			r.Get("/{id}", h.GetClass)
			r.Put("/{id}/price", h.SetClassPrice)
			r.Post("/{id}/cancel", h.CancelClass)
			r.Get("/{id}/waitlist", h.GetWaitlist)
			r.Delete("/{id}/waitlist/{memberId}", h.LeaveWaitlist)
		})

		// Booking routes
		r.Route("/bookings", func(r chi.Router) {
			r.Post("/", h.CreateBooking)
			r.Get("/{id}", h.GetBooking)
			r.Post("/{id}/cancel", h.CancelBooking)
			r.Post("/{id}/settle", h.SettleBooking)
		})

		// Member routes
		r.Route("/members", func(r chi.Router) {
			r.Post("/", h.CreateMember)
			r.Get("/{id}", h.GetMember)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/bookings", h.GetMemberBookings)
			r.Get("/{id}/purchases", h.GetMemberPurchases)
			r.Post("/{id}/grants", h.CreateGrant)
		})

		// Product routes
		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Post("/", h.CreateProduct)
		})

		// Purchase routes
		r.Route("/purchases", func(r chi.Router) {
			r.Post("/", h.CreatePurchase)
			r.Post("/{id}/confirm", h.ConfirmPurchase)
			r.Post("/{id}/cancel", h.CancelPurchase)
		})

		// Payment gateway callbacks
		r.Post("/webhooks/payment", h.PaymentWebhook)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Get("/unresolved", h.ListUnresolved)
			r.Post("/unresolved/{id}/resolve", h.ResolveUnresolved)
			r.Post("/sweep", h.RunSweep)
		})

		// Demo data (dev convenience)
		r.Post("/scenarios/seed", h.SeedDemo)
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", h.Health)

	return r
}
