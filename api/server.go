/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging through slog, tagged with the request ID
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the frontend

ROUTE GROUPS:
  /api/auth/*           Registration
  /api/users/*          Accounts, ledger history, listings
  /api/rides/*          Ride search, lifecycle and booking
  /api/bookings/*       Booking cancellation and disputes
  /api/employee/*       Dispute handling
  /api/admin/*          Credit grants and ledger audit
  /api/scenarios/*      Demo data (only when the handler has a Resetter)

SECURITY NOTE:
  No authentication middleware. Callers identify users by ID in the path or
  body; the employee and admin groups must sit behind a gateway.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured. An empty
// origins list allows any origin.
func NewRouter(h *Handler, origins ...string) *chi.Mux {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", h.Register)

		// Account routes
		r.Route("/users/{id}", func(r chi.Router) {
			r.Get("/", h.GetUser)
			r.Get("/transactions", h.GetTransactions)
			r.Get("/rides", h.GetUserRides)
			r.Get("/bookings", h.GetUserBookings)
		})

		// Ride routes
		r.Route("/rides", func(r chi.Router) {
			r.Get("/", h.SearchRides)
			r.Post("/", h.PublishRide)
			r.Get("/{id}", h.GetRide)
			r.Delete("/{id}", h.CancelRide)
			r.Get("/{id}/bookings", h.GetRideBookings)
			r.Post("/{id}/book", h.BookRide)
			r.Post("/{id}/start", h.StartRide)
			r.Post("/{id}/complete", h.CompleteRide)
		})

		// Booking routes
		r.Route("/bookings/{id}", func(r chi.Router) {
			r.Delete("/", h.CancelBooking)
			r.Post("/disputes", h.OpenDispute)
		})

		// Employee routes
		r.Route("/employee/disputes", func(r chi.Router) {
			r.Get("/", h.ListDisputes)
			r.Post("/{id}/resolve", h.ResolveDispute)
			r.Post("/{id}/escalate", h.EscalateDispute)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/users/{id}/credits", h.GrantCredits)
			r.Get("/ledger/verify", h.VerifyLedger)
		})

		// Scenario routes
		if h.Resetter != nil {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
				r.Post("/reset", h.ResetDatabase)
			})
		}
	})

	return r
}

// requestLogger logs one line per request once the response is written.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.InfoContext(r.Context(), "http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
