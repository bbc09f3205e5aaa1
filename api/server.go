/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind proxies (rate limit key)
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Secure:     Security headers, HTTPS redirect in production
  6. CORS:       Cross-origin requests for the school portal
  7. Metrics:    Prometheus request counters (when configured)
  8. httprate:   Per-IP request limit on /api

ROUTE GROUPS:
  /api/users/{user}/periods/*   Ledgers, rates, records and reports by month
  /api/users/{user}/records/*   Daily record entry
  /api/ledgers/{id}/*           Stock movements and lifecycle
  /api/reports/{id}/*           Report views and regeneration
  /api/scenarios/*              Demo data loaders
  /healthz                      Liveness
  /metrics                      Prometheus scrape endpoint (when configured)

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/BilalTali/mdmseva-sub000/observability"
)

// RouterConfig tunes the middleware stack.
type RouterConfig struct {
	AllowedOrigins []string
	// RateLimitPerMin of zero disables rate limiting.
	RateLimitPerMin int
	Production      bool
	// Metrics, when set, instruments every route and serves /metrics.
	Metrics *observability.Metrics
	// Extra mounts additional routes, e.g. job queue health.
	Extra func(r chi.Router)
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		SSLRedirect:        cfg.Production,
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:      !cfg.Production,
	})

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(secureMiddleware.Handler)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Actor-ID"},
		ExposedHeaders: []string{"X-Rates-Source-Period"},
	}))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		if cfg.RateLimitPerMin > 0 {
			r.Use(httprate.Limit(cfg.RateLimitPerMin, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					writeError(w, http.StatusTooManyRequests, "Rate limit exceeded", nil)
				})))
		}

		r.Route("/users/{user}", func(r chi.Router) {
			// Period routes
			r.Post("/periods", h.OpenPeriod)
			r.Route("/periods/{year}/{month}", func(r chi.Router) {
				r.Get("/", h.GetPeriod)
				r.Get("/rates", h.GetRates)
				r.Put("/rates", h.SaveRates)
				r.Get("/records", h.ListRecords)
				r.Post("/resync", h.ResyncPeriod)
				r.Get("/reports", h.ListReports)
				r.Post("/reports", h.GenerateReport)
			})

			// Daily record routes
			r.Post("/records", h.RecordDailyUsage)
			r.Put("/records/{id}", h.EditDailyUsage)
			r.Delete("/records/{id}", h.DeleteDailyUsage)
		})

		// Ledger routes
		r.Route("/ledgers/{id}", func(r chi.Router) {
			r.Get("/", h.GetLedger)
			r.Get("/activity", h.ListActivity)
			r.Post("/lift", h.LiftStock)
			r.Post("/arrange", h.ArrangeStock)
			r.Post("/complete", h.CompleteLedger)
			r.Post("/lock", h.LockLedger)
			r.Post("/unlock", h.UnlockLedger)
			r.Post("/reset", h.ResetLedger)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})

		// Report routes
		r.Route("/reports/{id}", func(r chi.Router) {
			r.Get("/", h.ViewReport)
			r.Get("/stale", h.CheckStale)
			r.Post("/regenerate", h.RegenerateReport)
		})
	})

	if cfg.Extra != nil {
		cfg.Extra(r)
	}

	return r
}
