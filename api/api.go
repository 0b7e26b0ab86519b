// Package api exposes the coordination core over HTTP for operational
// triage and host integration. Failures here never feed back into session
// state.
package api

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/sessionsync/nav"
	"github.com/jmcleod/sessionsync/session"
	"github.com/jmcleod/sessionsync/telemetry"
)

// defaultAnalysisWindow is used when the analysis endpoint gets no window
// parameter.
const defaultAnalysisWindow = 5 * time.Minute

// API holds the dependencies needed by the HTTP handlers.
type API struct {
	store    *session.Store
	tracker  *session.Tracker
	analyzer *telemetry.Analyzer
	guard    *nav.Guard
	logger   *slog.Logger
}

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger. If not set, a default JSON
// logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger.With("component", "api")
	}
}

// WithTracker lets the activity endpoint feed interaction signals into
// the tracker.
func WithTracker(tracker *session.Tracker) Option {
	return func(a *API) {
		a.tracker = tracker
	}
}

// WithGuard enables the navigation breaker reset endpoint.
func WithGuard(guard *nav.Guard) Option {
	return func(a *API) {
		a.guard = guard
	}
}

// New creates a new API instance.
func New(store *session.Store, analyzer *telemetry.Analyzer, opts ...Option) *API {
	a := &API{
		store:    store,
		analyzer: analyzer,
		logger:   slog.New(slog.NewJSONHandler(os.Stderr, nil)).With("component", "api"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Router returns the chi router for the API.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/session", a.handleGetSession)
	r.Post("/session/login", a.handleLogin)
	r.Post("/session/logout", a.handleLogout)
	r.Post("/session/refresh", a.handleRefresh)
	r.Post("/session/activity", a.handleActivity)

	r.Get("/errors", a.handleListErrors)
	r.Post("/errors/{id}/resolve", a.handleResolveError)
	r.Get("/analysis", a.handleAnalysis)
	r.Get("/stats", a.handleStats)

	r.Post("/nav/reset", a.handleNavReset)

	return r
}
