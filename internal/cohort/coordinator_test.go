package cohort

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeSource serves a synthetic cohort of total samples. Each sample appears
// in a "patients" table and a "qc" table.
type fakeSource struct {
	total  int
	served int // when > 0, samples at or past served are never returned

	mu       sync.Mutex
	offsets  []int
	filters  []FilterRequest
	searches []string

	filterResult TableBatch
	searchResult TableBatch
	initErr      error
	filterErr    error
	searchErr    error

	// When set, the call signals on started and then waits on release.
	initStarted, initRelease     chan struct{}
	searchStarted, searchRelease chan struct{}
}

func (s *fakeSource) InitialData(ctx context.Context, offset, limit int) (Page, error) {
	s.mu.Lock()
	s.offsets = append(s.offsets, offset)
	started, release, err := s.initStarted, s.initRelease, s.initErr
	s.mu.Unlock()

	if started != nil {
		started <- struct{}{}
		<-release
	}
	if err != nil {
		return Page{}, err
	}

	var b TableBatch
	b.Append("patients")
	b.Append("qc")
	end := s.total
	if s.served > 0 && s.served < end {
		end = s.served
	}
	for i := offset; i < offset+limit && i < end; i++ {
		id := fmt.Sprintf("S%03d", i)
		b.Append("patients", Record{"sample": id, "age": float64(20 + i)})
		b.Append("qc", Record{"sample": id, "percent_duplication": 0.1})
	}
	return Page{Data: b, TotalCount: s.total}, nil
}

func (s *fakeSource) Filter(ctx context.Context, req FilterRequest) (TableBatch, error) {
	s.mu.Lock()
	s.filters = append(s.filters, req)
	s.mu.Unlock()
	return s.filterResult, s.filterErr
}

func (s *fakeSource) Search(ctx context.Context, term string) (TableBatch, error) {
	s.mu.Lock()
	s.searches = append(s.searches, term)
	started, release := s.searchStarted, s.searchRelease
	s.mu.Unlock()

	if started != nil {
		started <- struct{}{}
		<-release
	}
	return s.searchResult, s.searchErr
}

func (s *fakeSource) Offsets() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.offsets...)
}

func (s *fakeSource) blockInit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initStarted = make(chan struct{})
	s.initRelease = make(chan struct{})
}

func (s *fakeSource) blockSearch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searchStarted = make(chan struct{})
	s.searchRelease = make(chan struct{})
}

type detailErr struct{ detail string }

func (e detailErr) Error() string      { return "api: 500 server error: " + e.detail }
func (e detailErr) UserDetail() string { return e.detail }

func newTestCoordinator(src Source) (*Coordinator, *Inbox) {
	inbox := NewInbox(0)
	return NewCoordinator(src, Options{Notifier: inbox}), inbox
}

func mustBatch(t *testing.T, raw string) TableBatch {
	t.Helper()
	return batchOf(t, raw)
}

func TestPaginationTerminates(t *testing.T) {
	src := &fakeSource{total: 45}
	c, _ := newTestCoordinator(src)
	ctx := context.Background()

	require.NoError(t, c.Dispatch(ctx, Mount{}))
	for range 5 {
		require.NoError(t, c.Dispatch(ctx, ScrollNearBottom{}))
	}

	assert.Equal(t, []int{0, 20, 40}, src.Offsets())
	v := c.Snapshot()
	assert.Equal(t, ModeBulk, v.Mode)
	assert.Equal(t, 45, v.Loaded)
	assert.Equal(t, 45, v.Total)
	assert.Equal(t, 60, v.Cursor)
	assert.False(t, v.HasMore)
	assert.Len(t, v.Rows, 45)
	assert.Equal(t, 3, c.Pages())
}

func TestScrollIgnoredAfterSearch(t *testing.T) {
	src := &fakeSource{total: 45}
	src.searchResult = mustBatch(t, `{"patients": [{"sample": "A1", "age": 30}]}`)
	c, _ := newTestCoordinator(src)
	ctx := context.Background()

	require.NoError(t, c.Dispatch(ctx, Mount{}))
	require.NoError(t, c.Dispatch(ctx, SubmitSearch{Term: "A1*"}))
	require.NoError(t, c.Dispatch(ctx, ScrollNearBottom{}))
	require.NoError(t, c.Dispatch(ctx, ScrollNearBottom{}))

	assert.Equal(t, []int{0}, src.Offsets(), "no bulk fetch after search")
	v := c.Snapshot()
	assert.Equal(t, ModeSearched, v.Mode)
	assert.Equal(t, 1, v.Total)
	assert.False(t, v.HasMore)
	require.Len(t, v.Rows, 1)
	assert.Equal(t, "A1", v.Rows[0].Sample)
}

func TestScrollIgnoredWhileFiltered(t *testing.T) {
	src := &fakeSource{total: 45}
	src.filterResult = mustBatch(t, `{"patients": [{"sample": "S001"}, {"sample": "S002"}], "qc": [{"sample": "S001"}]}`)
	c, inbox := newTestCoordinator(src)
	ctx := context.Background()

	require.NoError(t, c.Dispatch(ctx, Mount{}))
	crit := NewCriteria(DefaultProfile())
	set(crit, "age", OpGreaterOrEqual, "21")
	require.NoError(t, c.Dispatch(ctx, SubmitFilter{Criteria: crit}))
	require.NoError(t, c.Dispatch(ctx, ScrollNearBottom{}))

	assert.Equal(t, []int{0}, src.Offsets())
	v := c.Snapshot()
	assert.Equal(t, ModeFiltered, v.Mode)
	assert.Equal(t, 3, v.Total, "total counts returned records")
	assert.Len(t, v.Rows, 2)

	require.Len(t, src.filters, 1)
	assert.Equal(t, 21.0, src.filters[0].Filters[0].Value)

	notes := inbox.Drain()
	require.NotEmpty(t, notes)
	assert.Equal(t, "Data filtered successfully!", notes[len(notes)-1].Message)
}

func TestUploadResetsFilteredToBulk(t *testing.T) {
	src := &fakeSource{total: 45}
	src.filterResult = mustBatch(t, `{"patients": [{"sample": "S001"}]}`)
	c, inbox := newTestCoordinator(src)
	ctx := context.Background()

	require.NoError(t, c.Dispatch(ctx, Mount{}))
	require.NoError(t, c.Dispatch(ctx, ScrollNearBottom{}))
	crit := NewCriteria(DefaultProfile())
	set(crit, "gender", OpEqual, "F")
	require.NoError(t, c.Dispatch(ctx, SubmitFilter{Criteria: crit}))
	require.Equal(t, ModeFiltered, c.Mode())
	inbox.Drain()

	src.blockInit()
	done := make(chan error, 1)
	go func() { done <- c.Dispatch(ctx, UploadSucceeded{Message: "Uploaded 3 rows"}) }()
	<-src.initStarted

	// The filtered view stays as it was until the reload completes.
	v := c.Snapshot()
	assert.Equal(t, ModeFiltered, v.Mode)
	assert.Equal(t, 0, v.Cursor)
	assert.True(t, v.Pending)
	assert.False(t, v.HasMore)
	assert.Len(t, v.Rows, 1)
	require.NoError(t, c.Dispatch(ctx, ScrollNearBottom{}), "scroll while reloading is ignored")

	close(src.initRelease)
	require.NoError(t, <-done)

	v = c.Snapshot()
	assert.Equal(t, ModeBulk, v.Mode)
	assert.Equal(t, 20, v.Cursor)
	assert.Equal(t, 20, v.Loaded)
	assert.Len(t, v.Rows, 20)
	assert.Equal(t, []int{0, 20, 0}, src.Offsets())

	notes := inbox.Drain()
	require.NotEmpty(t, notes)
	assert.Equal(t, "Uploaded 3 rows", notes[0].Message)
	assert.Equal(t, LevelSuccess, notes[0].Level)
}

func TestStaleSearchDiscarded(t *testing.T) {
	src := &fakeSource{total: 5}
	src.searchResult = mustBatch(t, `{"patients": [{"sample": "ZZZ"}]}`)
	c, _ := newTestCoordinator(src)
	ctx := context.Background()

	require.NoError(t, c.Dispatch(ctx, Mount{}))
	src.blockSearch()

	done := make(chan error, 1)
	go func() { done <- c.Dispatch(ctx, SubmitSearch{Term: "ZZZ"}) }()
	<-src.searchStarted

	require.NoError(t, c.Dispatch(ctx, ClearSearch{}))
	close(src.searchRelease)
	assert.ErrorIs(t, <-done, ErrSuperseded)

	v := c.Snapshot()
	assert.Equal(t, ModeBulk, v.Mode)
	assert.Len(t, v.Rows, 5)
	assert.NotContains(t, c.Samples(), "ZZZ")
}

func TestSingleNextPageInFlight(t *testing.T) {
	src := &fakeSource{total: 100}
	c, _ := newTestCoordinator(src)
	ctx := context.Background()

	require.NoError(t, c.Dispatch(ctx, Mount{}))
	src.blockInit()

	done := make(chan error, 1)
	go func() { done <- c.Dispatch(ctx, ScrollNearBottom{}) }()
	<-src.initStarted

	assert.True(t, c.Snapshot().Fetching)
	require.NoError(t, c.Dispatch(ctx, ScrollNearBottom{}))
	require.NoError(t, c.Dispatch(ctx, ScrollNearBottom{}))

	close(src.initRelease)
	require.NoError(t, <-done)
	assert.Equal(t, []int{0, 20}, src.Offsets())
	assert.False(t, c.Snapshot().Fetching)
}

func TestFailureKeepsDisplayedRows(t *testing.T) {
	src := &fakeSource{total: 45}
	src.searchErr = detailErr{detail: "search backend down"}
	c, inbox := newTestCoordinator(src)
	ctx := context.Background()

	require.NoError(t, c.Dispatch(ctx, Mount{}))
	before := c.Snapshot()
	inbox.Drain()

	err := c.Dispatch(ctx, SubmitSearch{Term: "S1*"})
	require.Error(t, err)

	after := c.Snapshot()
	assert.Equal(t, before.Rows, after.Rows)
	assert.Equal(t, before.Total, after.Total)
	assert.Equal(t, ModeBulk, after.Mode)
	assert.Equal(t, 20, after.Cursor)
	assert.Equal(t, 20, after.Loaded)
	assert.True(t, after.HasMore)
	assert.False(t, after.Pending)

	notes := inbox.Drain()
	require.Len(t, notes, 1)
	assert.Equal(t, LevelError, notes[0].Level)
	assert.Equal(t, "search backend down", notes[0].Message)
	assert.Equal(t, "API001", notes[0].Code)

	// Scrolling carries on where it left off.
	require.NoError(t, c.Dispatch(ctx, ScrollNearBottom{}))
	assert.Equal(t, []int{0, 20}, src.Offsets())
	assert.Len(t, c.Snapshot().Rows, 40)
}

func TestFailedClearKeepsFilteredView(t *testing.T) {
	src := &fakeSource{total: 45}
	src.filterResult = mustBatch(t, `{"patients": [{"sample": "S001"}]}`)
	c, inbox := newTestCoordinator(src)
	ctx := context.Background()

	require.NoError(t, c.Dispatch(ctx, Mount{}))
	crit := NewCriteria(DefaultProfile())
	set(crit, "gender", OpEqual, "F")
	require.NoError(t, c.Dispatch(ctx, SubmitFilter{Criteria: crit}))
	before := c.Snapshot()
	inbox.Drain()

	src.mu.Lock()
	src.initErr = errors.New("dial tcp: connection refused")
	src.mu.Unlock()
	require.Error(t, c.Dispatch(ctx, ClearFilter{}))

	after := c.Snapshot()
	assert.Equal(t, ModeFiltered, after.Mode)
	assert.Equal(t, before.Rows, after.Rows)
	assert.Equal(t, 1, after.Total)
	assert.Equal(t, 0, after.Loaded)
	assert.False(t, after.HasMore)
	assert.Equal(t, ModeFiltered, c.Mode())

	notes := inbox.Drain()
	require.Len(t, notes, 1)
	assert.Equal(t, "NET001", notes[0].Code)
}

func TestFailedPageKeepsCursor(t *testing.T) {
	src := &fakeSource{total: 45}
	c, inbox := newTestCoordinator(src)
	ctx := context.Background()

	require.NoError(t, c.Dispatch(ctx, Mount{}))
	src.mu.Lock()
	src.initErr = errors.New("dial tcp: connection refused")
	src.mu.Unlock()

	require.Error(t, c.Dispatch(ctx, ScrollNearBottom{}))
	v := c.Snapshot()
	assert.Equal(t, 20, v.Cursor)
	assert.Len(t, v.Rows, 20)
	assert.True(t, v.HasMore)

	notes := inbox.Drain()
	require.Len(t, notes, 1)
	assert.Equal(t, "NET001", notes[0].Code)
}

func TestEmptyFilterFallsBackToBulk(t *testing.T) {
	tests := []struct {
		name     string
		criteria func() *Criteria
		wantWarn int
	}{
		{"nil criteria", func() *Criteria { return nil }, 0},
		{"no criteria", func() *Criteria { return NewCriteria(DefaultProfile()) }, 0},
		{"all invalid", func() *Criteria {
			c := NewCriteria(DefaultProfile())
			set(c, "age", OpGreaterOrEqual, "abc")
			return c
		}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{total: 3}
			src.searchResult = mustBatch(t, `{"t": [{"sample": "X"}]}`)
			c, inbox := newTestCoordinator(src)
			ctx := context.Background()

			require.NoError(t, c.Dispatch(ctx, Mount{}))
			require.NoError(t, c.Dispatch(ctx, SubmitSearch{Term: "X"}))
			inbox.Drain()

			require.NoError(t, c.Dispatch(ctx, SubmitFilter{Criteria: tt.criteria()}))
			assert.Empty(t, src.filters, "empty filter must not reach the network")
			assert.Equal(t, ModeBulk, c.Mode())
			assert.Equal(t, []int{0, 0}, src.Offsets())

			var warnings, infos int
			for _, n := range inbox.Drain() {
				switch n.Level {
				case LevelWarning:
					warnings++
				case LevelInfo:
					infos++
					assert.Equal(t, "No filters applied.", n.Message)
				}
			}
			assert.Equal(t, tt.wantWarn, warnings)
			assert.Equal(t, 1, infos)
		})
	}
}

func TestBlankSearchIsNoop(t *testing.T) {
	src := &fakeSource{total: 3}
	c, _ := newTestCoordinator(src)
	ctx := context.Background()

	require.NoError(t, c.Dispatch(ctx, Mount{}))
	epoch := c.Snapshot().Epoch
	require.NoError(t, c.Dispatch(ctx, SubmitSearch{Term: "   "}))

	assert.Empty(t, src.searches)
	assert.Equal(t, epoch, c.Snapshot().Epoch)
	assert.Equal(t, ModeBulk, c.Mode())
}

func TestBulkTotalFollowsServer(t *testing.T) {
	src := &fakeSource{total: 45}
	c, _ := newTestCoordinator(src)
	ctx := context.Background()

	require.NoError(t, c.Dispatch(ctx, Mount{}))
	src.mu.Lock()
	src.total = 30
	src.mu.Unlock()
	require.NoError(t, c.Dispatch(ctx, ScrollNearBottom{}))

	v := c.Snapshot()
	assert.Equal(t, 30, v.Total)
	assert.Equal(t, 30, v.Loaded)
	assert.False(t, v.HasMore)
}

func TestEmptyPageStopsPagination(t *testing.T) {
	// The server claims 45 samples but only ever returns 20.
	src := &fakeSource{total: 45, served: 20}
	c, _ := newTestCoordinator(src)
	ctx := context.Background()

	require.NoError(t, c.Dispatch(ctx, Mount{}))
	require.NoError(t, c.Dispatch(ctx, ScrollNearBottom{}))
	require.NoError(t, c.Dispatch(ctx, ScrollNearBottom{}))

	assert.Equal(t, []int{0, 20}, src.Offsets())
	v := c.Snapshot()
	assert.False(t, v.HasMore)
	assert.Len(t, v.Rows, 20)
}

type fakeDownloader struct {
	samples []string
	err     error
}

func (d *fakeDownloader) Download(ctx context.Context, samples []string) ([]byte, error) {
	d.samples = samples
	return []byte("xlsx"), d.err
}

func TestExport(t *testing.T) {
	src := &fakeSource{total: 3}
	c, inbox := newTestCoordinator(src)
	ctx := context.Background()
	dl := &fakeDownloader{}

	_, err := c.Export(ctx, dl)
	require.ErrorIs(t, err, ErrNoSamples)
	assert.Nil(t, dl.samples)
	notes := inbox.Drain()
	require.Len(t, notes, 1)
	assert.Equal(t, "No samples to download.", notes[0].Message)

	require.NoError(t, c.Dispatch(ctx, Mount{}))
	data, err := c.Export(ctx, dl)
	require.NoError(t, err)
	assert.Equal(t, []byte("xlsx"), data)
	assert.Equal(t, []string{"S000", "S001", "S002"}, dl.samples)
}

func TestDispatchUnknownEvent(t *testing.T) {
	c, _ := newTestCoordinator(&fakeSource{})
	assert.Error(t, c.Dispatch(context.Background(), nil))
}

func TestConcurrentDispatch(t *testing.T) {
	src := &fakeSource{total: 200}
	src.searchResult = mustBatch(t, `{"t": [{"sample": "A"}]}`)
	c, _ := newTestCoordinator(src)
	ctx := context.Background()
	require.NoError(t, c.Dispatch(ctx, Mount{}))

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var ev Event = ScrollNearBottom{}
			switch i % 4 {
			case 1:
				ev = SubmitSearch{Term: "A"}
			case 2:
				ev = ClearSearch{}
			}
			err := c.Dispatch(ctx, ev)
			if err != nil && !errors.Is(err, ErrSuperseded) {
				t.Errorf("dispatch %s: %v", EventName(ev), err)
			}
		}(i)
	}
	wg.Wait()

	v := c.Snapshot()
	assert.False(t, v.Pending)
	assert.False(t, v.Fetching)
}
