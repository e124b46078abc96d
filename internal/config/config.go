// Package config provides centralized configuration management for the
// cohort browser server and CLI. It loads configuration from environment
// variables with sensible defaults and validates all settings on startup to
// fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Session store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config holds all server configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	API      APIConfig
	Session  SessionConfig
	Upload   UploadConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
	View     ViewConfig
}

// ClientConfig holds the subset of settings the CLI reads.
type ClientConfig struct {
	API     APIConfig
	Logging LoggingConfig
	View    ViewConfig

	// CredentialsFile is where the CLI keeps its token (default: ~/.cohortview/credentials.yaml)
	CredentialsFile string `env:"COHORT_CREDENTIALS_FILE"`

	// Profile names the entry in the credentials file (default: default)
	Profile string `env:"COHORT_PROFILE" default:"default"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing a response (default: 2m, exports can be large)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"2m"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 90s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"90s"`
}

// APIConfig holds settings for the remote cohort API.
type APIConfig struct {
	// URL is the API base, e.g. http://localhost:8000/api/v1 (required)
	URL string `env:"COHORT_API_URL" envAlt:"API_BASE_URL" required:"true"`

	// Timeout bounds a single API call (default: 60s)
	Timeout time.Duration `env:"COHORT_API_TIMEOUT" default:"60s"`

	// PageSize is the number of samples per bulk page (default: 20)
	PageSize int `env:"COHORT_PAGE_SIZE" default:"20"`
}

// SessionConfig holds browser session settings.
type SessionConfig struct {
	// Store is where tokens are kept: memory or postgres (default: memory)
	Store string `env:"SESSION_STORE" default:"memory"`

	// DatabaseURL is the PostgreSQL connection string, required for the postgres store
	DatabaseURL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 1)
	MinConns int `env:"DB_MIN_CONNS" default:"1"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// CookieName is the browser session cookie (default: cohort_session)
	CookieName string `env:"SESSION_COOKIE_NAME" default:"cohort_session"`

	// CookieSecure marks the cookie Secure; enable behind TLS (default: false)
	CookieSecure bool `env:"SESSION_COOKIE_SECURE" default:"false"`

	// IdleTimeout evicts workspaces not used for this long (default: 30m)
	IdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" default:"30m"`

	// TokenMaxAge prunes persisted tokens older than this (default: 24h)
	TokenMaxAge time.Duration `env:"SESSION_TOKEN_MAX_AGE" default:"24h"`
}

// UploadConfig holds upload forwarding settings.
type UploadConfig struct {
	// MaxFileSize is the maximum allowed file size in bytes (default: 100MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"104857600"`

	// MaxConcurrent is the maximum number of parallel uploads (default: 5)
	MaxConcurrent int `env:"UPLOAD_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long to wait for an upload slot (default: 30s)
	MaxWaitTime time.Duration `env:"UPLOAD_MAX_WAIT_TIME" default:"30s"`

	// Timeout is the maximum duration for a single upload (default: 10m)
	Timeout time.Duration `env:"UPLOAD_TIMEOUT" default:"10m"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 120)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"120"`

	// UploadLimit is requests per minute for the upload endpoint (default: 10)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`

	// HTMXScriptURL is where pages load htmx from
	HTMXScriptURL string `env:"HTMX_SCRIPT_URL" default:"https://unpkg.com/htmx.org@2.0.4"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// ViewConfig holds display settings.
type ViewConfig struct {
	// ProfilePath is an optional YAML file overriding columns and filter fields
	ProfilePath string `env:"COHORT_VIEW_PROFILE"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
