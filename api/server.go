/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, the middleware stack and the route table.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Origins from config

ROUTE GROUPS:
  /api/causes/*         Cause catalog
  /api/endowments/*     Endowments, contributions, tranches
  /api/admin/*          Sweep runs

SECURITY NOTE:
  No authentication middleware. Payment confirmations are trusted as
  verified by the payment collaborator in front of this service.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/waqfd/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a router with all routes configured. An empty
// allowedOrigins list allows every origin.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/causes", func(r chi.Router) {
			r.Get("/", h.ListCauses)
			r.Post("/", h.CreateCause)
		})

		r.Route("/endowments", func(r chi.Router) {
			r.Get("/", h.ListEndowments)
			r.Post("/", h.CreateEndowment)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetEndowment)
				r.Get("/allocation", h.GetAllocation)
				r.Get("/tranches", h.GetTranches)
				r.Get("/transactions", h.GetTransactions)
				r.Get("/completion", h.GetCompletion)
				r.Get("/audit", h.GetAudit)

				r.Post("/contributions", h.Contribute)
				r.Post("/contributions/check", h.CheckContribution)
				r.Post("/distributions", h.Distribute)
				r.Post("/returns", h.RecordReturn)
				r.Put("/lock-period", h.UpdateLockPeriod)
				r.Post("/preferences/apply", h.ApplyPreferences)

				r.Route("/tranches/{tid}", func(r chi.Router) {
					r.Post("/resolve", h.ResolveTranche)
					r.Post("/withdraw", h.WithdrawTranche)
					r.Post("/installments/{iid}/pay", h.PayInstallment)
				})
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep", h.TriggerSweep)
			r.Get("/sweeps", h.ListSweepRuns)
		})
	})

	return r
}
