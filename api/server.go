/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for admin frontends

ROUTE GROUPS:
  /health                     Liveness probe
  /api/tenants/{tenantID}/*   Everything else; the tenant is resolved
                              from the URL and unknown tenants 404

SECURITY NOTE:
  No authentication middleware. Deployments front this with their own
  auth layer.

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

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/tenants/{tenantID}", func(r chi.Router) {
		// Ledger
		r.Route("/employees/{employeeID}", func(r chi.Router) {
			r.Get("/balances", h.GetBalances)
			r.Get("/ledger", h.GetLedger)
			r.Post("/allocations", h.CreateAllocation)
			r.Post("/adjustments", h.CreateAdjustment)
			r.Post("/encashments", h.CreateEncashment)
			r.Get("/leave-requests", h.ListLeavesByEmployee)
			r.Get("/carry-forward/preview", h.PreviewCarryForward)
			r.Post("/carry-forward", h.ExecuteCarryForward)
			r.Post("/expirations", h.ExpireCarriedBalance)
		})

		r.Post("/ledger-entries/{entryID}/retract", h.RetractEntry)

		// Leave workflow
		r.Route("/leave-requests", func(r chi.Router) {
			r.Post("/", h.SubmitLeave)
			r.Get("/{id}", h.GetLeave)
			r.Post("/{id}/approve", h.ApproveLeave)
			r.Post("/{id}/reject", h.RejectLeave)
			r.Post("/{id}/cancel", h.CancelLeave)
			r.Put("/{id}/dates", h.ModifyLeaveDates)
		})

		// Attendance
		r.Post("/attendance/backfill", h.BackfillAttendance)

		// Year-end
		r.Post("/carry-forward", h.ExecuteTenantCarryForward)
	})

	return r
}
