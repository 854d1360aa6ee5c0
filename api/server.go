/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging through logrus
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the review frontend

ROUTE GROUPS:
  /api/charge-periods        Charge period determination
  /api/two-part-tariff/*     Matching and allocation
  /api/supplementary/*       Transaction reconciliation
  /api/licences/*            Licence documents
  /api/regions/*             Licences by region
  /api/bill-runs/*           Bill runs
  /api/transactions          Billed history
  /api/scenarios/*           Demo scenarios
  /metrics                   Prometheus metrics (when enabled)
  /healthz                   Health check

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

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

// RouterOptions configures the optional parts of the router.
type RouterOptions struct {
	CORSOrigins []string
	Metrics     bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Log))
	r.Use(middleware.Recoverer)
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
		}))
	}

	r.Get("/healthz", h.Health)
	if opts.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Post("/charge-periods", h.DetermineChargePeriods)
		r.Post("/two-part-tariff/allocate", h.AllocateTwoPartTariff)
		r.Post("/supplementary/reconcile", h.ReconcileSupplementary)

		// Licence routes
		r.Route("/licences", func(r chi.Router) {
			r.Post("/", h.CreateLicence)
			r.Get("/{id}", h.GetLicence)
		})
		r.Get("/regions/{id}/licences", h.ListRegionLicences)

		// Bill run routes
		r.Route("/bill-runs", func(r chi.Router) {
			r.Post("/", h.CreateBillRun)
			r.Get("/{id}", h.GetBillRun)
			r.Post("/{id}/supplementary", h.RunSupplementary)
			r.Get("/{id}/transactions", h.ListBillRunTransactions)
		})

		r.Get("/transactions", h.ListTransactions)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
