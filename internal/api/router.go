package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/opsloop/internal/api/middleware"
	"github.com/kiranshivaraju/opsloop/internal/api/response"
	"github.com/kiranshivaraju/opsloop/pkg/models"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit
	Logger    *slog.Logger

	Health  http.HandlerFunc
	Metrics http.Handler

	TriggerRun http.HandlerFunc
	LastRun    http.HandlerFunc

	AgentStatus http.HandlerFunc
	SetAutoRun  http.HandlerFunc

	ListIncidents   http.HandlerFunc
	GetIncident     http.HandlerFunc
	ResolveIncident http.HandlerFunc
	RestartCounts   http.HandlerFunc

	RecentLogs http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(mw.Logger(deps.Logger))
	r.Use(mw.Recovery(deps.Logger))

	// Public
	r.Get("/api/v1/health", orNotImplemented(deps.Health))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/api/v1/metrics", deps.Metrics)
	} else {
		r.Get("/api/v1/metrics", orNotImplemented(nil))
	}

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeRead))

			r.Get("/api/v1/runs/last", orNotImplemented(deps.LastRun))
			r.Get("/api/v1/agent/status", orNotImplemented(deps.AgentStatus))
			r.Get("/api/v1/incidents", orNotImplemented(deps.ListIncidents))
			r.Get("/api/v1/incidents/{id}", orNotImplemented(deps.GetIncident))
			r.Get("/api/v1/restart-counts", orNotImplemented(deps.RestartCounts))
			r.Get("/api/v1/logs", orNotImplemented(deps.RecentLogs))
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeRun))

			r.Post("/api/v1/runs", orNotImplemented(deps.TriggerRun))
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeWrite))

			r.Put("/api/v1/agent/auto-run", orNotImplemented(deps.SetAutoRun))
			r.Post("/api/v1/incidents/{id}/resolve", orNotImplemented(deps.ResolveIncident))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
