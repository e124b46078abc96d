package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNotAuthenticated is returned before any request is made when a call
// needs a bearer token and none is available.
var ErrNotAuthenticated = errors.New("not authenticated")

// Error is a non-2xx response from the cohort API.
type Error struct {
	Op     string // client method, e.g. "filter"
	Status int
	Detail string // the payload's detail field, if any
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("api: %s: %d %s", e.Op, e.Status, e.category())
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// category gives the error text a stable keyword for cohort.MapError.
func (e *Error) category() string {
	switch {
	case e.Status == http.StatusUnauthorized:
		return "unauthorized"
	case e.Status == http.StatusForbidden:
		return "forbidden"
	case e.Status == http.StatusNotFound:
		return "not found"
	case e.Status == http.StatusRequestEntityTooLarge:
		return "file too large"
	case e.Status == http.StatusTooManyRequests:
		return "rate limit exceeded"
	case e.Status >= 500:
		return "server error"
	default:
		return "request rejected"
	}
}

// UserDetail returns the server-provided message for display.
func (e *Error) UserDetail() string {
	return e.Detail
}

// Unauthorized reports whether the API rejected the credentials.
func (e *Error) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized
}

// IsUnauthorized reports whether err is, or wraps, a 401 response.
func IsUnauthorized(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Unauthorized()
}

// parseDetail extracts the message from an error payload. The API sends
// {"detail": "..."} or, for request validation failures,
// {"detail": [{"msg": "..."}, ...]}.
func parseDetail(body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Detail) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(payload.Detail, &s); err == nil {
		return strings.TrimSpace(s)
	}

	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(payload.Detail, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return ""
}
