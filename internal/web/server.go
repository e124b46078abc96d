// Package web serves the cohort browser: an htmx front end whose state lives
// server side in one Workspace per browser session.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/cohortview/internal/api"
	"github.com/JonMunkholm/cohortview/internal/cohort"
	"github.com/JonMunkholm/cohortview/internal/config"
	"github.com/JonMunkholm/cohortview/internal/session"
	"github.com/JonMunkholm/cohortview/internal/web/middleware"
)

// Server is the HTTP server for the cohort browser.
type Server struct {
	cfg        *config.Config
	profile    cohort.Profile
	workspaces *Registry
	uploads    *UploadLimiter
	limiters   []*rateLimiter
	router     *chi.Mux
	server     *http.Server
}

// NewServer creates a Server. client talks to the cohort API; store keeps
// browser session tokens.
func NewServer(cfg *config.Config, client *api.Client, store session.TokenStore, profile cohort.Profile) *Server {
	s := &Server{
		cfg:     cfg,
		profile: profile,
		workspaces: NewRegistry(RegistryConfig{
			Client:      client,
			Store:       store,
			Profile:     profile,
			PageSize:    cfg.API.PageSize,
			IdleTimeout: cfg.Session.IdleTimeout,
			TokenMaxAge: cfg.Session.TokenMaxAge,
		}),
		uploads: NewUploadLimiter(cfg.Upload.MaxConcurrent, cfg.Upload.MaxWaitTime),
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.SessionCookie(s.cfg.Session.CookieName, s.cfg.Session.CookieSecure))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(chimw.Compress(5))
	s.router.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))
	s.router.Use(s.securityHeaders)

	if s.cfg.Rate.Enabled {
		s.router.Use(s.newRateLimiter(s.cfg.Rate.RequestsPerMinute, time.Minute).middleware)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Get("/login", s.handleLoginPage)
	s.router.Post("/login", s.handleLogin)
	s.router.Post("/logout", s.handleLogout)

	s.router.Group(func(r chi.Router) {
		r.Use(s.requireSession)

		r.Get("/", s.handleIndex)
		r.Get("/rows/more", s.handleMore)

		r.Post("/criteria", s.handleAddCriterion)
		r.Post("/criteria/{id}", s.handleUpdateCriterion)
		r.Post("/criteria/{id}/delete", s.handleRemoveCriterion)
		r.Post("/connectors/{index}", s.handleSetConnector)

		r.Post("/filter", s.handleFilter)
		r.Post("/filter/clear", s.handleClearFilter)
		r.Post("/search", s.handleSearch)
		r.Post("/search/clear", s.handleClearSearch)

		upload := r.With()
		if s.cfg.Rate.Enabled {
			upload = r.With(s.newRateLimiter(s.cfg.Rate.UploadLimit, time.Minute).middleware)
		}
		upload.Post("/upload", s.handleUpload)
		r.Get("/export", s.handleExport)

		r.Get("/api/view", s.handleView)
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
	return s.server.ListenAndServe()
}

// RunJanitor evicts idle workspaces until ctx is cancelled.
func (s *Server) RunJanitor(ctx context.Context) {
	s.workspaces.Run(ctx)
}

// UploadStatus reports forwarded uploads in flight.
func (s *Server) UploadStatus() UploadLimiterStatus {
	return s.uploads.Status()
}

// WaitForUploads blocks until in-flight uploads finish or ctx is done.
func (s *Server) WaitForUploads(ctx context.Context) error {
	return s.uploads.WaitForDrain(ctx)
}

// Shutdown gracefully stops the server and its background goroutines.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, rl := range s.limiters {
		rl.stop()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func (s *Server) securityHeaders(next http.Handler) http.Handler {
	csp := "default-src 'self'; script-src 'self' " + scriptOrigin(s.cfg.Security.HTMXScriptURL) +
		"; style-src 'self' 'unsafe-inline'; img-src 'self' data:; form-action 'self'"

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		if s.cfg.Security.EnableCSP {
			w.Header().Set("Content-Security-Policy", csp)
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimiter implements a fixed-window request limit per client IP.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int
	window   time.Duration
	done     chan struct{}
	once     sync.Once
}

type visitor struct {
	tokens    int
	lastReset time.Time
}

// newRateLimiter creates a limiter and registers it for shutdown.
func (s *Server) newRateLimiter(rate int, window time.Duration) *rateLimiter {
	rl := &rateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
		done:     make(chan struct{}),
	}
	go rl.cleanup()
	s.limiters = append(s.limiters, rl)
	return rl
}

// cleanup removes stale visitor entries every window until stopped.
func (rl *rateLimiter) cleanup() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()
	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.mu.Lock()
			for ip, v := range rl.visitors {
				if time.Since(v.lastReset) > rl.window*2 {
					delete(rl.visitors, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.once.Do(func() { close(rl.done) })
}

// allow checks if the request should be allowed and consumes a token if so.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	if !exists || time.Since(v.lastReset) > rl.window {
		rl.visitors[ip] = &visitor{tokens: rl.rate - 1, lastReset: time.Now()}
		return true
	}
	if v.tokens <= 0 {
		return false
	}
	v.tokens--
	return true
}

// middleware rate limits by RemoteAddr, which TrustedRealIP has resolved.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(r.RemoteAddr) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
