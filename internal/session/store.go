package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"gopkg.in/yaml.v3"
)

// MemoryStore keeps tokens for the life of the process.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]string)}
}

func (m *MemoryStore) Load(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tok, ok := m.tokens[key]
	if !ok {
		return "", ErrNoToken
	}
	return tok, nil
}

func (m *MemoryStore) Save(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[key] = token
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, key)
	return nil
}

// FileStore keeps tokens in a YAML credentials file readable only by the
// owner. The CLI uses it.
type FileStore struct {
	path string
	mu   sync.Mutex
}

type credentialsFile struct {
	Tokens map[string]storedToken `yaml:"tokens"`
}

type storedToken struct {
	Token   string    `yaml:"token"`
	SavedAt time.Time `yaml:"saved_at"`
}

// NewFileStore returns a store backed by path. The file is created on the
// first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the credentials file location.
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) Load(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	creds, err := f.read()
	if err != nil {
		return "", err
	}
	st, ok := creds.Tokens[key]
	if !ok || st.Token == "" {
		return "", ErrNoToken
	}
	return st.Token, nil
}

func (f *FileStore) Save(_ context.Context, key, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	creds, err := f.read()
	if err != nil {
		return err
	}
	creds.Tokens[key] = storedToken{Token: token, SavedAt: time.Now().UTC()}
	return f.write(creds)
}

func (f *FileStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	creds, err := f.read()
	if err != nil {
		return err
	}
	if _, ok := creds.Tokens[key]; !ok {
		return nil
	}
	delete(creds.Tokens, key)
	return f.write(creds)
}

func (f *FileStore) read() (credentialsFile, error) {
	creds := credentialsFile{Tokens: make(map[string]storedToken)}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return creds, nil
	}
	if err != nil {
		return creds, fmt.Errorf("read credentials: %w", err)
	}
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return creds, fmt.Errorf("parse credentials %s: %w", f.path, err)
	}
	if creds.Tokens == nil {
		creds.Tokens = make(map[string]storedToken)
	}
	return creds, nil
}

func (f *FileStore) write(creds credentialsFile) error {
	data, err := yaml.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".credentials-*")
	if err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// DBTX is the subset of pgx shared by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// PostgresStore keeps tokens in the cohort_sessions table so browser
// sessions survive a server restart.
type PostgresStore struct {
	db DBTX
}

// NewPostgresStore returns a store using db. Call Migrate once at startup.
func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

const createSessionsTable = `
CREATE TABLE IF NOT EXISTS cohort_sessions (
	session_key TEXT PRIMARY KEY,
	token       TEXT NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Migrate creates the sessions table if needed.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, createSessionsTable); err != nil {
		return fmt.Errorf("migrate cohort_sessions: %w", err)
	}
	return nil
}

func (p *PostgresStore) Load(ctx context.Context, key string) (string, error) {
	var token string
	err := p.db.QueryRow(ctx,
		`SELECT token FROM cohort_sessions WHERE session_key = $1`, key,
	).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("load session token: %w", err)
	}
	return token, nil
}

func (p *PostgresStore) Save(ctx context.Context, key, token string) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO cohort_sessions (session_key, token, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (session_key) DO UPDATE
		SET token = EXCLUDED.token, updated_at = now()`,
		key, token,
	)
	if err != nil {
		return fmt.Errorf("save session token: %w", err)
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := p.db.Exec(ctx, `DELETE FROM cohort_sessions WHERE session_key = $1`, key); err != nil {
		return fmt.Errorf("delete session token: %w", err)
	}
	return nil
}

// Prune deletes tokens not refreshed within maxAge and returns how many
// were removed.
func (p *PostgresStore) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	tag, err := p.db.Exec(ctx,
		`DELETE FROM cohort_sessions WHERE updated_at < now() - make_interval(secs => $1)`,
		maxAge.Seconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
