// Package api is the HTTP client for the remote cohort API.
//
// The client implements cohort.Source and cohort.Downloader for the query
// core and session.Authenticator for the session layer. Bearer credentials
// are read per request from a Credentials value, normally the caller's
// session.Session.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/JonMunkholm/cohortview/internal/cohort"
)

const (
	// DefaultTimeout bounds a single API call.
	DefaultTimeout = 60 * time.Second

	// maxResponseSize caps bodies read into memory, including downloads.
	maxResponseSize = 256 << 20

	// maxErrorBody caps error payloads.
	maxErrorBody = 64 << 10

	// RequestIDHeader carries the correlation id on every call.
	RequestIDHeader = "X-Request-ID"
)

// Credentials supplies the bearer token for a request.
type Credentials interface {
	Token() (string, bool)
}

// User is the account returned by the "me" endpoint.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	IsAdmin   bool   `json:"is_admin"`
	CreatedAt string `json:"created_at"`
}

// Client talks to the cohort API. It is safe for concurrent use.
type Client struct {
	base   *url.URL
	http   *http.Client
	creds  Credentials
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithCredentials sets the token source used for authenticated calls.
func WithCredentials(creds Credentials) Option {
	return func(c *Client) { c.creds = creds }
}

// WithLogger sets the logger for request tracing.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a client for the API rooted at baseURL, e.g.
// "http://cohort.internal:8088/api/v1".
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("api url %q must be absolute http(s)", baseURL)
	}

	c := &Client{
		base:   u,
		http:   &http.Client{Timeout: DefaultTimeout},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ForSession returns a copy of the client that authenticates with creds.
// The copy shares the underlying HTTP client.
func (c *Client) ForSession(creds Credentials) *Client {
	cp := *c
	cp.creds = creds
	return &cp
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// InitialData fetches one page of the unfiltered cohort.
func (c *Client) InitialData(ctx context.Context, offset, limit int) (cohort.Page, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))

	var page cohort.Page
	err := c.doJSON(ctx, "initial data", http.MethodGet, "data/initial", q, nil, &page)
	return page, err
}

// Filter runs a filter query.
func (c *Client) Filter(ctx context.Context, req cohort.FilterRequest) (cohort.TableBatch, error) {
	var batch cohort.TableBatch
	err := c.doJSON(ctx, "filter", http.MethodPost, "data/filter", nil, req, &batch)
	return batch, err
}

// Search runs a sample search. Terms ending in * match by prefix.
func (c *Client) Search(ctx context.Context, term string) (cohort.TableBatch, error) {
	var batch cohort.TableBatch
	body := map[string]string{"query": term}
	err := c.doJSON(ctx, "search", http.MethodPost, "data/search", nil, body, &batch)
	return batch, err
}

// Upload sends a .csv or .xlsx file and returns the server's message.
// It fails with ErrNotAuthenticated without contacting the API when no
// token is available.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	token, ok := c.token()
	if !ok {
		return "", fmt.Errorf("api: upload: %w", ErrNotAuthenticated)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(filename))
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "data/upload", nil, pr)
	if err != nil {
		pr.Close()
		return "", fmt.Errorf("api: upload: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	var out struct {
		Message string `json:"message"`
	}
	if err := c.send(req, "upload", &out); err != nil {
		pr.Close()
		return "", err
	}
	return out.Message, nil
}

// Download fetches the spreadsheet export for samples.
func (c *Client) Download(ctx context.Context, samples []string) ([]byte, error) {
	q := url.Values{}
	q.Set("samples", strings.Join(samples, ","))

	req, err := c.newRequest(ctx, http.MethodGet, "data/download", q, nil)
	if err != nil {
		return nil, fmt.Errorf("api: download: %w", err)
	}
	c.authorize(req)

	resp, err := c.do(req, "download")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("api: download: read body: %w", err)
	}
	return data, nil
}

// Login exchanges a username and password for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := c.newRequest(ctx, http.MethodPost, "auth/token", nil, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("api: login: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var raw json.RawMessage
	if err := c.send(req, "login", &raw); err != nil {
		return "", err
	}

	// {"access_token": "...", "token_type": "bearer"} or a bare JSON string.
	var tok struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(raw, &tok); err == nil && tok.AccessToken != "" {
		return tok.AccessToken, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return s, nil
	}
	return "", errors.New("api: login: unexpected response: no access token")
}

// Me returns the user the token belongs to.
func (c *Client) Me(ctx context.Context, token string) (User, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "auth/me", nil, nil)
	if err != nil {
		return User{}, fmt.Errorf("api: me: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	var u User
	if err := c.send(req, "me", &u); err != nil {
		return User{}, err
	}
	return u, nil
}

func (c *Client) token() (string, bool) {
	if c.creds == nil {
		return "", false
	}
	tok, ok := c.creds.Token()
	return tok, ok && tok != ""
}

func (c *Client) authorize(req *http.Request) {
	if tok, ok := c.token(); ok {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, q url.Values, body io.Reader) (*http.Request, error) {
	u := c.base.JoinPath(path)
	if q != nil {
		u.RawQuery = q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	reqID := middleware.GetReqID(ctx)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	req.Header.Set(RequestIDHeader, reqID)
	return req, nil
}

// doJSON sends an optional JSON body and decodes a JSON reply into out.
func (c *Client) doJSON(ctx context.Context, op, method, path string, q url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("api: %s: encode request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, q, body)
	if err != nil {
		return fmt.Errorf("api: %s: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)
	return c.send(req, op, out)
}

// send performs req and decodes a successful JSON reply into out.
func (c *Client) send(req *http.Request, op string, out any) error {
	resp, err := c.do(req, op)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(out); err != nil {
		return fmt.Errorf("api: %s: unexpected response: %w", op, err)
	}
	return nil
}

// do performs req and converts non-2xx replies into *Error. On success the
// caller owns the response body.
func (c *Client) do(req *http.Request, op string) (*http.Response, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WarnContext(req.Context(), "api call failed",
			"op", op,
			"request_id", req.Header.Get(RequestIDHeader),
			"duration", time.Since(start),
			"error", err,
		)
		return nil, fmt.Errorf("api: %s: %w", op, err)
	}

	c.logger.DebugContext(req.Context(), "api call",
		"op", op,
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"request_id", req.Header.Get(RequestIDHeader),
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &Error{Op: op, Status: resp.StatusCode, Detail: parseDetail(body)}
	}
	return resp, nil
}
