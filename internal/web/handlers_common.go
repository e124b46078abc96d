package web

// Shared helpers for the page handlers.

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/cohortview/internal/api"
	"github.com/JonMunkholm/cohortview/internal/cohort"
	"github.com/JonMunkholm/cohortview/internal/logging"
	"github.com/JonMunkholm/cohortview/internal/web/templates"
)

// apiContext bounds one round trip to the cohort API.
func (s *Server) apiContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.cfg.API.Timeout)
}

// pageData collects what a page render needs and drains the inbox.
func (s *Server) pageData(ws *Workspace) templates.PageData {
	user, _ := ws.Session.User()
	ed := ws.editor()
	return templates.PageData{
		Username:      user.Username,
		IsAdmin:       user.IsAdmin,
		HTMXScriptURL: s.cfg.Security.HTMXScriptURL,
		View:          ws.Coordinator.Snapshot(),
		Criteria:      ed.items,
		Connectors:    ed.connectors,
		Fields:        s.profile.FilterFields(),
		Search:        ed.search,
		Notes:         ws.Inbox.Drain(),
	}
}

// renderMain answers a state-changing request. htmx gets the main panel;
// a plain form post is sent back to the page.
func (s *Server) renderMain(w http.ResponseWriter, r *http.Request, ws *Workspace) {
	if !isHTMX(r) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	s.render(w, r, templates.Main(s.pageData(ws)))
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := c.Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render failed", "path", r.URL.Path, "error", err)
	}
}

// redirect sends the browser to path, via HX-Redirect for htmx requests.
func (s *Server) redirect(w http.ResponseWriter, r *http.Request, path string) {
	if isHTMX(r) {
		w.Header().Set("HX-Redirect", path)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, path, http.StatusSeeOther)
}

// sessionExpired handles a token the API stopped accepting: the session is
// dropped and the browser sent to sign in. It reports whether it responded.
// Other dispatch failures are already queued as notifications.
func (s *Server) sessionExpired(w http.ResponseWriter, r *http.Request, ws *Workspace, err error) bool {
	if err == nil || !api.IsUnauthorized(err) {
		return false
	}
	logging.FromContext(r.Context()).Warn("api rejected session token", "error", err)
	ws.Session.Invalidate(r.Context())
	s.redirect(w, r, "/login")
	return true
}

// dispatch sends ev to the workspace coordinator under the API timeout.
// A superseded response is not a failure.
func (s *Server) dispatch(r *http.Request, ws *Workspace, ev cohort.Event) error {
	ctx, cancel := s.apiContext(r)
	defer cancel()
	err := ws.Coordinator.Dispatch(ctx, ev)
	if errors.Is(err, cohort.ErrSuperseded) {
		logging.FromContext(r.Context()).Debug("response superseded", "event", cohort.EventName(ev))
		return nil
	}
	return err
}

// parseIntParam parses a non-negative integer path parameter.
func parseIntParam(raw string) (int, bool) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// scriptOrigin returns the scheme and host of an absolute script URL for
// the CSP, or "" for a same-origin path.
func scriptOrigin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
