package cohort

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Mode is the active acquisition mode. Exactly one is active at a time.
type Mode int

const (
	ModeBulk Mode = iota
	ModeFiltered
	ModeSearched
)

func (m Mode) String() string {
	switch m {
	case ModeFiltered:
		return "filtered"
	case ModeSearched:
		return "searched"
	default:
		return "bulk"
	}
}

// MarshalText encodes the mode by name.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Notification texts shown by the coordinator.
const (
	msgFiltered   = "Data filtered successfully!"
	msgNoFilters  = "No filters applied."
	msgNoSamples  = "No samples to download."
	msgUploadDone = "File uploaded successfully!"
)

var (
	// ErrSuperseded is returned when a response arrives after a newer
	// operation was initiated. The response is discarded.
	ErrSuperseded = errors.New("superseded by a newer request")

	// ErrNoSamples is returned by Export when nothing is displayed.
	ErrNoSamples = errors.New("no samples to download")
)

// Downloader fetches the spreadsheet export for a set of samples.
type Downloader interface {
	Download(ctx context.Context, samples []string) ([]byte, error)
}

// Options configures a Coordinator. Zero values select defaults.
type Options struct {
	Profile  Profile
	PageSize int
	Notifier Notifier
	Logger   *slog.Logger
}

// View is a consistent snapshot of the displayed state.
type View struct {
	Mode     Mode        `json:"mode"`
	Columns  []string    `json:"columns"`
	Rows     []MergedRow `json:"rows"`
	Total    int         `json:"total"`
	Loaded   int         `json:"loaded"`
	Cursor   int         `json:"cursor"`
	HasMore  bool        `json:"has_more"`
	Fetching bool        `json:"fetching"`
	Pending  bool        `json:"pending"`
	Epoch    uint64      `json:"epoch"`
}

// Coordinator owns the displayed result set and decides which acquisition
// mode is active. It is safe for concurrent use.
type Coordinator struct {
	src      Source
	columns  []string
	pageSize int
	notifier Notifier
	log      *slog.Logger

	mu    sync.Mutex
	mode  Mode
	epoch uint64

	// pending is set while a replacing operation is in flight.
	pending bool
	// fetching is set while a next-page fetch is in flight.
	fetching bool

	// bulk pagination
	pages     []TableBatch
	cursor    int
	loaded    int
	total     int
	exhausted bool

	// displayed
	merger *Merger
	rows   []MergedRow
	shown  int
}

// NewCoordinator creates a coordinator in Bulk mode with nothing loaded.
// Dispatch Mount to load the first page.
func NewCoordinator(src Source, opts Options) *Coordinator {
	profile := opts.Profile.withDefaults()
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Notifier == nil {
		opts.Notifier = discardNotifier{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Coordinator{
		src:      src,
		columns:  append([]string(nil), profile.Columns...),
		pageSize: opts.PageSize,
		notifier: opts.Notifier,
		log:      opts.Logger,
		mode:     ModeBulk,
		merger:   NewMerger(profile.Columns),
	}
}

// Dispatch handles one UI event. It blocks until the network call the event
// triggers has completed.
//
// Events that are not legal in the current state (a scroll outside Bulk mode,
// a blank search) return nil without doing anything. A response overtaken by
// a newer operation returns ErrSuperseded. Other failures are reported to the
// notifier, returned, and leave the displayed rows unchanged.
func (c *Coordinator) Dispatch(ctx context.Context, ev Event) error {
	switch e := ev.(type) {
	case Mount:
		return c.reload(ctx, "mount")
	case ScrollNearBottom:
		return c.nextPage(ctx)
	case SubmitFilter:
		return c.filter(ctx, e.Criteria)
	case ClearFilter:
		return c.reload(ctx, "clear filter")
	case SubmitSearch:
		return c.search(ctx, e.Term)
	case ClearSearch:
		return c.reload(ctx, "clear search")
	case UploadSucceeded:
		msg := strings.TrimSpace(e.Message)
		if msg == "" {
			msg = msgUploadDone
		}
		c.notify(LevelSuccess, msg, "")
		return c.reload(ctx, "upload")
	case nil:
		return errors.New("dispatch: nil event")
	default:
		return fmt.Errorf("dispatch: unsupported event %T", ev)
	}
}

// begin takes a new epoch and marks a replacing operation as pending.
// Mode and pagination change only once the operation succeeds; until then
// pending blocks scrolling.
func (c *Coordinator) begin() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.pending = true
	c.fetching = false
	return c.epoch
}

// enterLocked switches to mode with empty pagination. Caller holds mu.
func (c *Coordinator) enterLocked(mode Mode) {
	c.mode = mode
	c.pages = nil
	c.cursor = 0
	c.loaded = 0
	c.total = 0
	c.exhausted = false
}

// stale reports whether epoch was overtaken. Caller holds mu.
func (c *Coordinator) stale(epoch uint64) bool {
	return epoch != c.epoch
}

func (c *Coordinator) reload(ctx context.Context, reason string) error {
	epoch := c.begin()
	c.log.DebugContext(ctx, "reloading bulk view", "reason", reason, "epoch", epoch)

	page, err := acquireBulk(ctx, c.src, 0, c.pageSize)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stale(epoch) {
		c.log.DebugContext(ctx, "discarding stale page", "epoch", epoch, "current", c.epoch)
		return ErrSuperseded
	}
	c.pending = false
	if err != nil {
		c.failLocked(ctx, "bulk load failed", err)
		return err
	}

	c.enterLocked(ModeBulk)
	c.pages = []TableBatch{page.Data}
	c.cursor = c.pageSize
	c.loaded = page.Data.FirstTableLen()
	c.total = page.TotalCount
	c.exhausted = c.loaded == 0
	c.replaceLocked(page.Data)
	c.shown = c.total
	return nil
}

func (c *Coordinator) nextPage(ctx context.Context) error {
	c.mu.Lock()
	if c.mode != ModeBulk || c.pending || c.fetching || c.exhausted || c.loaded >= c.total {
		c.mu.Unlock()
		return nil
	}
	c.fetching = true
	epoch := c.epoch
	offset := c.cursor
	c.mu.Unlock()

	page, err := acquireBulk(ctx, c.src, offset, c.pageSize)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stale(epoch) {
		c.log.DebugContext(ctx, "discarding stale page", "offset", offset, "epoch", epoch, "current", c.epoch)
		return ErrSuperseded
	}
	c.fetching = false
	if err != nil {
		c.failLocked(ctx, "next page failed", err)
		return err
	}

	n := page.Data.FirstTableLen()
	c.pages = append(c.pages, page.Data)
	c.cursor += c.pageSize
	c.loaded += n
	c.total = page.TotalCount
	if n == 0 {
		c.exhausted = true
	}
	c.merger.Add(page.Data)
	c.rows = c.merger.Rows()
	c.shown = c.total
	return nil
}

func (c *Coordinator) filter(ctx context.Context, criteria *Criteria) error {
	var (
		req      FilterRequest
		problems []ValidationError
		err      = ErrNoFilters
	)
	if criteria != nil {
		req, problems, err = criteria.Normalize()
	}
	for _, p := range problems {
		c.notify(LevelWarning, fmt.Sprintf("Invalid number for %s: %q. The criterion was skipped.", p.Field, p.Value), MapError(p).Code)
	}
	if errors.Is(err, ErrNoFilters) {
		c.notify(LevelInfo, msgNoFilters, "")
		return c.reload(ctx, "no filters")
	}
	if err != nil {
		return err
	}

	epoch := c.begin()
	c.log.DebugContext(ctx, "applying filter", "filters", len(req.Filters), "epoch", epoch)

	batch, err := acquireFiltered(ctx, c.src, req)
	return c.finishReplace(ctx, epoch, ModeFiltered, batch, err, "filter failed", msgFiltered)
}

func (c *Coordinator) search(ctx context.Context, term string) error {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil
	}

	epoch := c.begin()
	c.log.DebugContext(ctx, "searching", "term", term, "epoch", epoch)

	batch, err := acquireSearched(ctx, c.src, term)
	return c.finishReplace(ctx, epoch, ModeSearched, batch, err, "search failed", "")
}

// finishReplace applies the result of a Filtered or Searched call.
func (c *Coordinator) finishReplace(ctx context.Context, epoch uint64, mode Mode, batch TableBatch, err error, failMsg, okMsg string) error {
	c.mu.Lock()
	if c.stale(epoch) {
		current := c.epoch
		c.mu.Unlock()
		c.log.DebugContext(ctx, "discarding stale result", "epoch", epoch, "current", current)
		return ErrSuperseded
	}
	c.pending = false
	if err != nil {
		c.failLocked(ctx, failMsg, err)
		c.mu.Unlock()
		return err
	}
	c.enterLocked(mode)
	c.replaceLocked(batch)
	c.shown = batch.RecordCount()
	c.mu.Unlock()

	if okMsg != "" {
		c.notify(LevelSuccess, okMsg, "")
	}
	return nil
}

// replaceLocked replaces the displayed rows with batch. Caller holds mu.
func (c *Coordinator) replaceLocked(batch TableBatch) {
	m := NewMerger(c.columns)
	m.Add(batch)
	c.merger = m
	c.rows = m.Rows()
}

// failLocked logs and reports err. Caller holds mu; the notifier must not
// call back into the coordinator.
func (c *Coordinator) failLocked(ctx context.Context, msg string, err error) {
	c.log.WarnContext(ctx, msg, "mode", c.mode, "error", err)
	um := Describe(err)
	c.notify(LevelError, um.Message, um.Code)
}

func (c *Coordinator) notify(level Level, msg, code string) {
	c.notifier.Notify(Notification{
		Level:   level,
		Message: msg,
		Code:    code,
		Time:    time.Now(),
	})
}

// Export downloads the spreadsheet for the displayed samples.
// With nothing displayed it notifies the user and returns ErrNoSamples
// without calling dl.
func (c *Coordinator) Export(ctx context.Context, dl Downloader) ([]byte, error) {
	samples := c.Samples()
	if len(samples) == 0 {
		c.notify(LevelInfo, msgNoSamples, "")
		return nil, ErrNoSamples
	}
	data, err := dl.Download(ctx, samples)
	if err != nil {
		c.log.WarnContext(ctx, "export failed", "samples", len(samples), "error", err)
		um := Describe(err)
		c.notify(LevelError, um.Message, um.Code)
		return nil, fmt.Errorf("export: %w", err)
	}
	return data, nil
}

// Snapshot returns the displayed state.
func (c *Coordinator) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return View{
		Mode:     c.mode,
		Columns:  append([]string(nil), c.columns...),
		Rows:     append([]MergedRow(nil), c.rows...),
		Total:    c.shown,
		Loaded:   c.loaded,
		Cursor:   c.cursor,
		HasMore:  c.hasMoreLocked(),
		Fetching: c.fetching,
		Pending:  c.pending,
		Epoch:    c.epoch,
	}
}

func (c *Coordinator) hasMoreLocked() bool {
	return c.mode == ModeBulk && !c.pending && !c.exhausted && c.loaded < c.total
}

// Mode returns the active mode.
func (c *Coordinator) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Samples returns the distinct samples on display, in display order.
func (c *Coordinator) Samples() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.merger.Samples()
}

// Pages returns the number of bulk pages loaded since Bulk was last entered.
func (c *Coordinator) Pages() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pages)
}
