package web

import (
	"errors"
	"net/http"
	"strings"

	"github.com/JonMunkholm/cohortview/internal/cohort"
	"github.com/JonMunkholm/cohortview/internal/logging"
	"github.com/JonMunkholm/cohortview/internal/web/templates"
)

// handleHealth reports liveness plus workspace and upload counters.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":     "ok",
		"workspaces": s.workspaces.Len(),
		"uploads":    s.uploads.Status(),
	})
}

// handleLoginPage shows the sign-in form, or the browser when a stored
// token is still accepted.
func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	ws, err := s.workspaces.Get(r.Context(), logging.SessionID(r.Context()))
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	if ws.Session.Authenticated() {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	s.render(w, r, templates.LoginPage(s.cfg.Security.HTMXScriptURL, "", ""))
}

// handleLogin signs the browser in and loads the first page.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	ws, err := s.workspaces.Get(r.Context(), logging.SessionID(r.Context()))
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	if err := r.ParseForm(); err != nil {
		s.respondError(w, r, errors.Join(errBadRequest, err), http.StatusBadRequest)
		return
	}
	username := strings.TrimSpace(r.PostFormValue("username"))

	ctx, cancel := s.apiContext(r)
	defer cancel()

	if err := ws.Session.Login(ctx, username, r.PostFormValue("password")); err != nil {
		log.Warn("login failed", "username", username, "error", err)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(statusFor(err))
		s.render(w, r, templates.LoginPage(s.cfg.Security.HTMXScriptURL, username, cohort.Describe(err).Message))
		return
	}

	if err := ws.EnsureMounted(ctx); err != nil {
		log.Warn("initial load failed", "error", err)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleLogout signs out and forgets the workspace.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	id := logging.SessionID(r.Context())
	ws, err := s.workspaces.Get(r.Context(), id)
	if err == nil {
		if err := ws.Session.Logout(r.Context()); err != nil {
			logging.FromContext(r.Context()).Warn("logout failed", "error", err)
		}
	}
	s.workspaces.Drop(id)
	s.redirect(w, r, "/login")
}

// handleIndex renders the browser, loading the first page on first visit.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())

	ctx, cancel := s.apiContext(r)
	err := ws.EnsureMounted(ctx)
	cancel()
	if s.sessionExpired(w, r, ws, err) {
		return
	}
	s.render(w, r, templates.Page(s.pageData(ws)))
}

// handleMore appends the next bulk page to the results.
func (s *Server) handleMore(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())

	err := s.dispatch(r, ws, cohort.ScrollNearBottom{})
	if s.sessionExpired(w, r, ws, err) {
		return
	}
	if err != nil {
		// The alert replaces the queued copy; re-rendering the sentinel row
		// would fetch again straight away.
		ws.Inbox.Drain()
		s.respondError(w, r, err, statusFor(err))
		return
	}
	s.render(w, r, templates.Results(ws.Coordinator.Snapshot()))
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())

	if err := ws.EditCriteria(func(c *cohort.Criteria) error {
		return applyCriteriaForm(r, c)
	}); err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}

	err := s.dispatch(r, ws, cohort.SubmitFilter{Criteria: ws.CriteriaSnapshot()})
	if s.sessionExpired(w, r, ws, err) {
		return
	}
	s.renderMain(w, r, ws)
}

func (s *Server) handleClearFilter(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())

	ws.ResetCriteria()

	err := s.dispatch(r, ws, cohort.ClearFilter{})
	if s.sessionExpired(w, r, ws, err) {
		return
	}
	s.renderMain(w, r, ws)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())

	term := strings.TrimSpace(r.FormValue("q"))
	ws.SetSearch(term)

	err := s.dispatch(r, ws, cohort.SubmitSearch{Term: term})
	if s.sessionExpired(w, r, ws, err) {
		return
	}
	s.renderMain(w, r, ws)
}

func (s *Server) handleClearSearch(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	ws.SetSearch("")

	err := s.dispatch(r, ws, cohort.ClearSearch{})
	if s.sessionExpired(w, r, ws, err) {
		return
	}
	s.renderMain(w, r, ws)
}

// viewResponse is the JSON form of the browser state.
type viewResponse struct {
	cohort.View
	Search string                `json:"search"`
	Notes  []cohort.Notification `json:"notes"`
}

// handleView returns the displayed state as JSON.
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	d := s.pageData(ws)
	if d.Notes == nil {
		d.Notes = []cohort.Notification{}
	}
	writeJSON(w, viewResponse{View: d.View, Search: d.Search, Notes: d.Notes})
}
