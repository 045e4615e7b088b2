/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, the middleware stack and the route tree.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, copied into the request logger
  2. Logger:     zerolog request logger in the context, one access line
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the frontend
  5. Metrics:    Prometheus counters per route pattern
  6. Auth:       Bearer token -> ledger.Actor (under /api only)

ROUTE GROUPS:
  /healthz          Store connectivity
  /metrics          Prometheus scrape endpoint
  /api/parent/*     Parent role only
  /api/child/*      Child role only

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Token verification
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/warp/family-ledger/ledger"
	"github.com/warp/family-ledger/metrics"
)

type Options struct {
	Auth           *Authenticator
	Metrics        *metrics.Metrics // optional
	Logger         zerolog.Logger
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts Options) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(hlog.NewHandler(opts.Logger))
	r.Use(requestIDLogger)
	r.Use(hlog.AccessHandler(accessLog))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
	}))
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Use(opts.Auth.Middleware)

		r.Route("/parent", func(r chi.Router) {
			r.Use(RequireRole(ledger.RoleParent))

			r.Route("/children", func(r chi.Router) {
				r.Get("/", h.ListChildren)
				r.Post("/", h.CreateChild)
				r.Get("/{childID}", h.GetChild)
				r.Put("/{childID}", h.UpdateChild)
				r.Post("/{childID}/balance", h.AdjustBalance)
				r.Post("/{childID}/allowance", h.PayAllowance)
			})

			r.Post("/allowances/pay-due", h.PayDueAllowances)

			r.Route("/chores", func(r chi.Router) {
				r.Get("/", h.ListChores)
				r.Post("/", h.CreateChore)
				r.Get("/{choreID}", h.GetChore)
				r.Put("/{choreID}", h.UpdateChore)
				r.Delete("/{choreID}", h.DeleteChore)
				r.Patch("/{choreID}/approve", h.ApproveChore)
			})

			r.Route("/savings-goals", func(r chi.Router) {
				r.Get("/", h.ListGoals)
				r.Get("/{goalID}", h.GetGoal)
				r.Post("/{goalID}/contribute", h.ContributeToGoal)
			})

			r.Get("/transactions", h.ListTransactions)
		})

		r.Route("/child", func(r chi.Router) {
			r.Use(RequireRole(ledger.RoleChild))

			r.Get("/profile", h.Profile)
			r.Get("/dashboard", h.Dashboard)

			r.Route("/chores", func(r chi.Router) {
				r.Get("/", h.ListChores)
				r.Get("/{choreID}", h.GetChore)
				r.Patch("/{choreID}/complete", h.CompleteChore)
			})

			r.Route("/savings-goals", func(r chi.Router) {
				r.Get("/", h.ListGoals)
				r.Post("/", h.CreateGoal)
				r.Get("/{goalID}", h.GetGoal)
				r.Post("/{goalID}/contribute", h.ContributeToGoal)
				r.Delete("/{goalID}", h.DeleteGoal)
			})

			r.Get("/transactions", h.ListTransactions)
			r.Post("/transactions", h.RecordSpending)
		})
	})

	return r
}

// requestIDLogger adds chi's request id to the request-scoped logger, so
// every line the engine logs for this request carries it.
func requestIDLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set("X-Request-Id", id)
			zerolog.Ctx(r.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("request_id", id)
			})
		}
		next.ServeHTTP(w, r)
	})
}

func accessLog(r *http.Request, status, size int, duration time.Duration) {
	ev := hlog.FromRequest(r).Info()
	if status >= http.StatusInternalServerError {
		ev = hlog.FromRequest(r).Error()
	}
	ev.Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Msg("request")
}
