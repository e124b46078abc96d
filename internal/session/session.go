// Package session holds the authentication state of one browser or CLI user.
//
// A Session is created per user, hydrated from a TokenStore, probed against
// the API's "me" endpoint and torn down on logout or a failed probe. It is
// passed by reference to the API client as its Credentials.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/JonMunkholm/cohortview/internal/api"
)

var (
	// ErrNotAuthenticated is returned when an action needs a signed-in user.
	ErrNotAuthenticated = api.ErrNotAuthenticated

	// ErrAdminRequired is returned when an action needs an admin.
	ErrAdminRequired = errors.New("admin required")

	// ErrNoToken is returned by a TokenStore that has no token for a key.
	ErrNoToken = errors.New("no stored token")
)

// Authenticator is the part of the API the session needs.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (string, error)
	Me(ctx context.Context, token string) (api.User, error)
}

// TokenStore persists bearer tokens by session key.
type TokenStore interface {
	// Load returns ErrNoToken when nothing is stored for key.
	Load(ctx context.Context, key string) (string, error)
	Save(ctx context.Context, key, token string) error
	Delete(ctx context.Context, key string) error
}

// Session is the authentication state of one user. It is safe for
// concurrent use.
type Session struct {
	key    string
	auth   Authenticator
	store  TokenStore
	logger *slog.Logger

	mu    sync.RWMutex
	token string
	user  *api.User
}

// New creates an unauthenticated session. key identifies the user's entry
// in store.
func New(key string, auth Authenticator, store TokenStore, logger *slog.Logger) *Session {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{key: key, auth: auth, store: store, logger: logger}
}

// Key returns the session key.
func (s *Session) Key() string {
	return s.key
}

// Hydrate restores a stored token and probes it. A token the API does not
// accept is removed from the store and the session stays unauthenticated;
// that is not an error. Errors are only returned when the store fails.
func (s *Session) Hydrate(ctx context.Context) error {
	token, err := s.store.Load(ctx, s.key)
	if errors.Is(err, ErrNoToken) {
		s.clear()
		return nil
	}
	if err != nil {
		return fmt.Errorf("hydrate session: %w", err)
	}

	user, err := s.auth.Me(ctx, token)
	if err != nil {
		s.logger.WarnContext(ctx, "stored token rejected", "error", err)
		s.clear()
		if delErr := s.store.Delete(ctx, s.key); delErr != nil {
			return fmt.Errorf("hydrate session: drop stale token: %w", delErr)
		}
		return nil
	}

	s.set(token, user)
	return nil
}

// Login exchanges credentials for a token, stores it and loads the user.
func (s *Session) Login(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return errors.New("login: invalid credentials: username and password are required")
	}

	token, err := s.auth.Login(ctx, username, password)
	if err != nil {
		s.clear()
		return fmt.Errorf("login: %w", err)
	}
	if err := s.store.Save(ctx, s.key, token); err != nil {
		s.clear()
		return fmt.Errorf("login: store token: %w", err)
	}

	user, err := s.auth.Me(ctx, token)
	if err != nil {
		s.clear()
		_ = s.store.Delete(ctx, s.key)
		return fmt.Errorf("login: %w", err)
	}

	s.set(token, user)
	s.logger.InfoContext(ctx, "user logged in", "username", user.Username, "admin", user.IsAdmin)
	return nil
}

// Logout forgets the token locally and in the store.
func (s *Session) Logout(ctx context.Context) error {
	s.clear()
	if err := s.store.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Invalidate drops the token after the API rejected it mid-session.
func (s *Session) Invalidate(ctx context.Context) {
	s.clear()
	if err := s.store.Delete(ctx, s.key); err != nil {
		s.logger.WarnContext(ctx, "failed to delete rejected token", "error", err)
	}
}

// Token implements api.Credentials.
func (s *Session) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

// RequireToken returns the token or ErrNotAuthenticated.
func (s *Session) RequireToken() (string, error) {
	tok, ok := s.Token()
	if !ok {
		return "", ErrNotAuthenticated
	}
	return tok, nil
}

// RequireAdmin returns nil only for a signed-in admin.
func (s *Session) RequireAdmin() error {
	if !s.Authenticated() {
		return ErrNotAuthenticated
	}
	if !s.IsAdmin() {
		return ErrAdminRequired
	}
	return nil
}

// User returns the signed-in user.
func (s *Session) User() (api.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return api.User{}, false
	}
	return *s.user, true
}

// Authenticated reports whether a probed token is present.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != "" && s.user != nil
}

// IsAdmin reports whether the signed-in user is an admin.
func (s *Session) IsAdmin() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil && s.user.IsAdmin
}

func (s *Session) set(token string, user api.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.user = &user
}

func (s *Session) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.user = nil
}
