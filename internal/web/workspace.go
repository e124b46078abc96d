package web

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/JonMunkholm/cohortview/internal/api"
	"github.com/JonMunkholm/cohortview/internal/cohort"
	"github.com/JonMunkholm/cohortview/internal/session"
)

// Workspace is the state of one browser: who is signed in, what is on
// screen and the filter being edited.
type Workspace struct {
	ID          string
	Session     *session.Session
	Client      *api.Client
	Coordinator *cohort.Coordinator
	Inbox       *cohort.Inbox

	mu       sync.Mutex
	criteria *cohort.Criteria
	search   string
	mounted  bool

	lastUsed atomic.Int64
}

func (ws *Workspace) touch(now time.Time) {
	ws.lastUsed.Store(now.UnixNano())
}

func (ws *Workspace) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, ws.lastUsed.Load()))
}

// EditCriteria runs fn with the criteria under the workspace lock.
func (ws *Workspace) EditCriteria(fn func(c *cohort.Criteria) error) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return fn(ws.criteria)
}

// ResetCriteria drops every criterion.
func (ws *Workspace) ResetCriteria() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.criteria.Reset()
}

// CriteriaSnapshot returns a copy of the criteria for submitting.
func (ws *Workspace) CriteriaSnapshot() *cohort.Criteria {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.criteria.Clone()
}

// SetSearch records the search box contents.
func (ws *Workspace) SetSearch(term string) {
	ws.mu.Lock()
	ws.search = term
	ws.mu.Unlock()
}

// EnsureMounted loads the first page once per workspace. A failed load is
// retried on the next call.
func (ws *Workspace) EnsureMounted(ctx context.Context) error {
	ws.mu.Lock()
	if ws.mounted {
		ws.mu.Unlock()
		return nil
	}
	ws.mounted = true
	ws.mu.Unlock()

	err := ws.Coordinator.Dispatch(ctx, cohort.Mount{})
	if err != nil {
		ws.mu.Lock()
		ws.mounted = false
		ws.mu.Unlock()
	}
	return err
}

type editorState struct {
	items      []cohort.Criterion
	connectors []cohort.Connector
	search     string
}

func (ws *Workspace) editor() editorState {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return editorState{
		items:      ws.criteria.Items(),
		connectors: ws.criteria.Connectors(),
		search:     ws.search,
	}
}

// Pruner is implemented by token stores that can expire old entries.
type Pruner interface {
	Prune(ctx context.Context, maxAge time.Duration) (int64, error)
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Client      *api.Client
	Store       session.TokenStore
	Profile     cohort.Profile
	PageSize    int
	IdleTimeout time.Duration
	TokenMaxAge time.Duration
	Logger      *slog.Logger
}

// Registry holds the live workspaces keyed by browser session id.
type Registry struct {
	cfg   RegistryConfig
	log   *slog.Logger
	now   func() time.Time
	group singleflight.Group

	mu    sync.Mutex
	items map[string]*Workspace
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Store == nil {
		cfg.Store = session.NewMemoryStore()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		cfg:   cfg,
		log:   log,
		now:   time.Now,
		items: make(map[string]*Workspace),
	}
}

// Get returns the workspace for id, creating and hydrating it on first use.
// Concurrent first requests for one id share a single hydration.
func (r *Registry) Get(ctx context.Context, id string) (*Workspace, error) {
	if ws := r.lookup(id); ws != nil {
		return ws, nil
	}

	v, err, _ := r.group.Do(id, func() (any, error) {
		if ws := r.lookup(id); ws != nil {
			return ws, nil
		}
		ws := r.build(id)
		if err := ws.Session.Hydrate(ctx); err != nil {
			return nil, fmt.Errorf("workspace %s: %w", id, err)
		}
		ws.touch(r.now())

		r.mu.Lock()
		r.items[id] = ws
		r.mu.Unlock()
		return ws, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Workspace), nil
}

func (r *Registry) lookup(id string) *Workspace {
	r.mu.Lock()
	defer r.mu.Unlock()
	ws, ok := r.items[id]
	if !ok {
		return nil
	}
	ws.touch(r.now())
	return ws
}

func (r *Registry) build(id string) *Workspace {
	log := r.log.With("session_id", id)
	sess := session.New(id, r.cfg.Client, r.cfg.Store, log)
	client := r.cfg.Client.ForSession(sess)
	inbox := cohort.NewInbox(0)

	return &Workspace{
		ID:      id,
		Session: sess,
		Client:  client,
		Inbox:   inbox,
		Coordinator: cohort.NewCoordinator(client, cohort.Options{
			Profile:  r.cfg.Profile,
			PageSize: r.cfg.PageSize,
			Notifier: inbox,
			Logger:   log,
		}),
		criteria: cohort.NewCriteria(r.cfg.Profile),
	}
}

// Drop forgets a workspace, e.g. after logout.
func (r *Registry) Drop(id string) {
	r.mu.Lock()
	delete(r.items, id)
	r.mu.Unlock()
}

// Len returns the number of live workspaces.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Sweep evicts workspaces idle for longer than the idle timeout and returns
// how many were removed. Their stored tokens are kept so a returning browser
// is signed in again.
func (r *Registry) Sweep() int {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, ws := range r.items {
		if ws.idleSince(now) > r.cfg.IdleTimeout {
			delete(r.items, id)
			n++
		}
	}
	return n
}

// Run sweeps idle workspaces, and prunes stale tokens when the store
// supports it, until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	interval := r.cfg.IdleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.log.Info("evicted idle workspaces", "count", n, "remaining", r.Len())
			}
			r.prune(ctx)
		}
	}
}

func (r *Registry) prune(ctx context.Context) {
	p, ok := r.cfg.Store.(Pruner)
	if !ok || r.cfg.TokenMaxAge <= 0 {
		return
	}
	n, err := p.Prune(ctx, r.cfg.TokenMaxAge)
	if err != nil {
		r.log.Warn("prune session tokens failed", "error", err)
		return
	}
	if n > 0 {
		r.log.Info("pruned session tokens", "count", n)
	}
}
