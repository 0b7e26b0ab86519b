package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/sessionsync/session"
)

// SessionResponse is the JSON snapshot of the current session.
type SessionResponse struct {
	State          session.State `json:"state"`
	PrincipalID    string        `json:"principal_id,omitempty"`
	LastActivityAt time.Time     `json:"last_activity_at,omitzero"`
	ExpiresAt      time.Time     `json:"expires_at,omitzero"`
	Sequence       uint64        `json:"sequence"`
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	cur := a.store.Current()
	resp := SessionResponse{
		State:          cur.State,
		LastActivityAt: cur.LastActivityAt,
		ExpiresAt:      cur.ExpiresAt,
		Sequence:       cur.Sequence,
	}
	if cur.Principal != nil {
		resp.PrincipalID = cur.Principal.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

// LoginRequest carries the externally-authenticated principal. The core
// treats it as opaque; authentication itself happens elsewhere.
type LoginRequest struct {
	PrincipalID string `json:"principal_id"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PrincipalID == "" {
		writeError(w, http.StatusBadRequest, "principal_id is required")
		return
	}
	if !a.store.Login(&session.Principal{ID: req.PrincipalID}) {
		writeError(w, http.StatusConflict, "login not accepted")
		return
	}
	a.handleGetSession(w, r)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if !a.store.Logout() {
		writeError(w, http.StatusConflict, "no session to log out")
		return
	}
	a.handleGetSession(w, r)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !a.store.Refresh() {
		writeError(w, http.StatusConflict, "no session to refresh")
		return
	}
	a.handleGetSession(w, r)
}

// ActivityRequest names the interaction signal being forwarded.
type ActivityRequest struct {
	Kind session.SignalKind `json:"kind"`
}

func (a *API) handleActivity(w http.ResponseWriter, r *http.Request) {
	if a.tracker == nil {
		writeError(w, http.StatusNotFound, "activity tracking not enabled")
		return
	}
	var req ActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Kind == "" {
		req.Kind = session.SignalPointer
	}
	a.tracker.Signal(req.Kind)
	a.handleGetSession(w, r)
}

func (a *API) handleListErrors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.analyzer.Reports())
}

func (a *API) handleResolveError(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !a.analyzer.MarkResolved(id) {
		writeError(w, http.StatusNotFound, "unknown report id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"resolved": true})
}

func (a *API) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	window := defaultAnalysisWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid window")
			return
		}
		window = d
	}
	writeJSON(w, http.StatusOK, a.analyzer.AnalyzeErrors(window))
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.analyzer.GetStatistics())
}

func (a *API) handleNavReset(w http.ResponseWriter, r *http.Request) {
	if a.guard == nil {
		writeError(w, http.StatusNotFound, "navigation guard not enabled")
		return
	}
	a.guard.Reset()
	a.logger.Info("navigation breaker reset", "remote_addr", r.RemoteAddr)
	writeJSON(w, http.StatusOK, map[string]bool{"reset": true})
}
