package web

// errors.go turns handler errors into responses.
//
// The technical error is logged with the request and session ids; the user
// sees the cohort catalogue message (Describe), rendered as an alert
// fragment for htmx, JSON for API clients, or plain text otherwise.

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/JonMunkholm/cohortview/internal/api"
	"github.com/JonMunkholm/cohortview/internal/cohort"
	"github.com/JonMunkholm/cohortview/internal/logging"
	"github.com/JonMunkholm/cohortview/internal/session"
	"github.com/JonMunkholm/cohortview/internal/web/templates"
	"github.com/JonMunkholm/cohortview/internal/workbook"
)

// ErrorResponse is the JSON body of an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// statusFor picks the HTTP status for err.
func statusFor(err error) int {
	var apiErr *api.Error
	switch {
	case errors.Is(err, session.ErrNotAuthenticated), api.IsUnauthorized(err):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrAdminRequired):
		return http.StatusForbidden
	case errors.Is(err, workbook.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, workbook.ErrUnsupportedType),
		errors.Is(err, workbook.ErrMissingSample),
		errors.Is(err, workbook.ErrEmptyFile),
		errors.Is(err, workbook.ErrNoFile),
		errors.Is(err, cohort.ErrCriterionNotFound):
		return http.StatusBadRequest
	case errors.Is(err, ErrTooManyUploads):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &apiErr):
		if apiErr.Status >= 500 {
			return http.StatusBadGateway
		}
		return http.StatusBadRequest
	case errors.Is(err, errBadRequest), strings.Contains(err.Error(), "invalid"):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

var errBadRequest = errors.New("bad request")

// respondError logs err and writes a user-facing error response.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	msg := cohort.Describe(err)

	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", msg.Code,
	)

	switch {
	case isHTMX(r):
		renderErrorPartial(w, r, msg, statusCode)
	case wantsJSON(r):
		respondErrorJSON(w, msg, statusCode)
	default:
		http.Error(w, msg.Message+" ("+msg.Code+")", statusCode)
	}
}

func respondErrorJSON(w http.ResponseWriter, msg cohort.UserMessage, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// renderErrorPartial prepends an alert to the notification area.
func renderErrorPartial(w http.ResponseWriter, r *http.Request, msg cohort.UserMessage, statusCode int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("HX-Retarget", "#notes")
	w.Header().Set("HX-Reswap", "afterbegin")
	w.WriteHeader(statusCode)
	templates.ErrorAlert(msg.Message, msg.Action, msg.Code).Render(r.Context(), w)
}

// isHTMX checks if the request is an htmx request.
func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// wantsJSON checks if the client prefers a JSON response.
func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json") ||
		strings.Contains(r.Header.Get("Content-Type"), "application/json") ||
		strings.HasPrefix(r.URL.Path, "/api/")
}
