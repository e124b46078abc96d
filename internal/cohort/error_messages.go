package cohort

// # Error Codes Reference
//
// User-facing errors carry a code that users can quote to support.
// Codes are grouped by category:
//
// # Authentication (AUTH001-AUTH099)
//
//	AUTH001 - Not signed in: the action needs a signed-in user
//	          Patterns: "not authenticated"
//	AUTH002 - Session expired: the API rejected the stored token
//	          Patterns: "unauthorized", "could not validate credentials"
//	AUTH003 - Login failed: wrong username or password
//	          Patterns: "incorrect username or password", "invalid credentials"
//	AUTH004 - Not permitted: the user lacks the required role
//	          Patterns: "forbidden", "admin required"
//
// # Validation (VAL001-VAL099)
//
//	VAL001 - Invalid number in a numeric filter
//	         Patterns: "invalid number"
//	VAL002 - No usable filter criteria
//	         Patterns: "no filters applied"
//	VAL003 - Blank search term
//	         Patterns: "empty search term"
//
// # Files (FILE001-FILE099)
//
//	FILE001 - File too large              "file too large"
//	FILE002 - Wrong file type             "unsupported file type"
//	FILE003 - Sample column missing       "missing sample column"
//	FILE004 - No file selected            "no file provided"
//	FILE005 - File has no data rows       "empty file"
//	FILE006 - File cannot be parsed       "invalid workbook", "invalid csv"
//
// # Network (NET001-NET099) and remote API (API001-API099)
//
//	NET001 - API unreachable              "connection refused"
//	NET002 - Connection dropped           "connection reset", "eof"
//	NET003 - API host unknown             "no such host"
//	NET004 - Request timed out            "context deadline exceeded", "timeout"
//	API001 - API failed                   "server error"
//	API002 - Resource missing             "not found"
//	API003 - Request or reply not usable  "request rejected", "unexpected response"
//
// # Uploads and throttling
//
//	UPL001 - Cancelled                    "upload cancelled", "context canceled"
//	UPL002 - Too many uploads             "too many uploads"
//	UPL003 - Upload rejected              "upload failed"
//	RATE001 - Too many requests           "rate limit"
//
// # Default (ERR000)
//
// Fallback when no pattern matches. Check the logs for the technical error.
//
// Patterns are matched case-insensitively with strings.Contains. The first
// match wins, so specific patterns come before general ones.

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// Authentication
	{"not authenticated", UserMessage{"You are not signed in", "Sign in and try again", "AUTH001"}},
	{"incorrect username or password", UserMessage{"Login failed", "Check your username and password", "AUTH003"}},
	{"invalid credentials", UserMessage{"Login failed", "Check your username and password", "AUTH003"}},
	{"could not validate credentials", UserMessage{"Your session has expired", "Sign in again", "AUTH002"}},
	{"unauthorized", UserMessage{"Your session has expired", "Sign in again", "AUTH002"}},
	{"admin required", UserMessage{"You do not have permission for this action", "Ask an administrator for access", "AUTH004"}},
	{"forbidden", UserMessage{"You do not have permission for this action", "Ask an administrator for access", "AUTH004"}},

	// Validation
	{"invalid number", UserMessage{"Invalid number in filter", "Enter a plain decimal number", "VAL001"}},
	{"no filters applied", UserMessage{"No filters applied", "Add at least one valid criterion", "VAL002"}},
	{"empty search term", UserMessage{"Search term is empty", "Enter a sample id or a prefix ending in *", "VAL003"}},

	// Files
	{"file too large", UserMessage{"File exceeds the maximum upload size", "Split the file into smaller parts", "FILE001"}},
	{"unsupported file type", UserMessage{"Only .csv and .xlsx files can be uploaded", "Convert the file and try again", "FILE002"}},
	{"missing sample column", UserMessage{"The file has no Sample column", "Add a Sample column header", "FILE003"}},
	{"no file provided", UserMessage{"No file was selected", "Choose a file to upload", "FILE004"}},
	{"empty file", UserMessage{"The file is empty", "Upload a file with data rows", "FILE005"}},
	{"invalid workbook", UserMessage{"The spreadsheet could not be read", "Re-save the file as .xlsx", "FILE006"}},
	{"invalid csv", UserMessage{"The CSV file could not be read", "Ensure the file is comma-separated with consistent columns", "FILE006"}},

	// Uploads
	{"upload cancelled", UserMessage{"Upload was cancelled", "Start a new upload when ready", "UPL001"}},
	{"context canceled", UserMessage{"Request was cancelled", "Please try again", "UPL001"}},
	{"too many uploads", UserMessage{"System is busy processing other uploads", "Please wait a moment and try again", "UPL002"}},
	{"upload failed", UserMessage{"The upload was rejected", "Check the file contents and try again", "UPL003"}},

	// Network
	{"connection refused", UserMessage{"Unable to reach the cohort service", "Please try again in a few moments", "NET001"}},
	{"connection reset", UserMessage{"Connection to the cohort service was interrupted", "Please try again", "NET002"}},
	{"no such host", UserMessage{"The cohort service address is unknown", "Contact support", "NET003"}},
	{"context deadline exceeded", UserMessage{"Request timed out", "Please try again", "NET004"}},
	{"timeout", UserMessage{"Request timed out", "Please try again", "NET004"}},
	{"eof", UserMessage{"Connection to the cohort service was interrupted", "Please try again", "NET002"}},

	// Remote API
	{"server error", UserMessage{"The cohort service failed to process the request", "Please try again later", "API001"}},
	{"not found", UserMessage{"The requested data was not found", "Refresh the page and try again", "API002"}},
	{"request rejected", UserMessage{"The cohort service rejected the request", "Check your input and try again", "API003"}},
	{"unexpected response", UserMessage{"The cohort service sent an unexpected response", "Please try again or contact support", "API003"}},

	// Rate limiting
	{"rate limit", UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE001"}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// It searches through known error patterns (case-insensitive) and returns
// the first match. If no pattern matches, a generic fallback message with
// code ERR000 is returned.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// userDetailer is implemented by errors that carry a message meant for the
// user, such as the detail field of an API error payload.
type userDetailer interface {
	UserDetail() string
}

// Describe is MapError, except that a user detail carried anywhere in the
// error chain replaces the catalogue message.
func Describe(err error) UserMessage {
	msg := MapError(err)
	var d userDetailer
	if errors.As(err, &d) {
		if detail := strings.TrimSpace(d.UserDetail()); detail != "" {
			msg.Message = detail
		}
	}
	return msg
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := Describe(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern rather than the
// ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error, kept for logging, with its user message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError wraps err with its described user message.
// Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      Describe(err),
	}
}
