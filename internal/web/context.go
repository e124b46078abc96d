package web

import (
	"context"
	"net/http"
	"strings"

	"github.com/JonMunkholm/cohortview/internal/logging"
)

type workspaceKey struct{}

// withWorkspace stores the request's workspace in ctx.
func withWorkspace(ctx context.Context, ws *Workspace) context.Context {
	return context.WithValue(ctx, workspaceKey{}, ws)
}

// workspaceFrom returns the workspace set by requireSession.
func workspaceFrom(ctx context.Context) *Workspace {
	ws, _ := ctx.Value(workspaceKey{}).(*Workspace)
	return ws
}

// requireSession loads the browser's workspace and turns away requests
// without a signed-in user.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := s.workspaces.Get(r.Context(), logging.SessionID(r.Context()))
		if err != nil {
			s.respondError(w, r, err, http.StatusInternalServerError)
			return
		}
		if !ws.Session.Authenticated() {
			if strings.HasPrefix(r.URL.Path, "/api/") {
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			s.redirect(w, r, "/login")
			return
		}
		next.ServeHTTP(w, r.WithContext(withWorkspace(r.Context(), ws)))
	})
}
