package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/JonMunkholm/cohortview/internal/logging"
)

// SessionCookie makes sure every request carries a browser session id in
// the named cookie. A missing or malformed id is replaced by a fresh UUID.
// The id is stored in the request context (see logging.SessionID).
func SessionCookie(name string, secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			if c, err := r.Cookie(name); err == nil {
				if u, err := uuid.Parse(c.Value); err == nil {
					id = u.String()
				}
			}
			if id == "" {
				id = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     name,
					Value:    id,
					Path:     "/",
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			ctx := logging.WithSession(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
