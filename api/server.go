/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestLogger: request-scoped slog logger with a request id
  2. Recoverer:     panic recovery (500 instead of crash)
  3. CORS:          cross-origin requests for the frontend
  4. RequireOwner:  /api/* only, 401 without X-Owner-ID
  5. RegisterOwners: /api/* only, when the handler has an OwnerRegistrar

ROUTE GROUPS:
  /api/entries/*        Ledger entries
  /api/balances/*       Realized and projected balances
  /api/summary          USD analysis
  /api/rates/*          Exchange rates
  /api/automation/*     Allocation rules
  /metrics              Prometheus (when a gatherer is given)
  /health               Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/franga/serve.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	// Gatherer exposes /metrics when non-nil.
	Gatherer prometheus.Gatherer
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(RequestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", OwnerHeader},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(RequireOwner)
		if h.Owners != nil {
			r.Use(RegisterOwners(h.Owners, h.Logger))
		}

		r.Route("/entries", func(r chi.Router) {
			r.Get("/", h.ListEntries)
			r.Post("/", h.CreateEntry)
			r.Put("/{id}", h.UpdateEntry)
			r.Delete("/{id}", h.DeleteEntry)
		})

		r.Route("/balances", func(r chi.Router) {
			r.Get("/", h.GetBalances)
			r.Get("/projected", h.GetProjectedBalances)
		})
		r.Get("/summary", h.GetSummary)

		r.Route("/rates", func(r chi.Router) {
			r.Get("/", h.ListRates)
			r.Put("/{currency}", h.SetRate)
		})

		r.Route("/automation", func(r chi.Router) {
			r.Post("/evaluate", h.EvaluateAutomation)
			r.Get("/runs", h.ListAutomationRuns)
		})
	})

	return r
}
