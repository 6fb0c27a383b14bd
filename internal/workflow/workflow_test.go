package workflow

import (
	"context"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/scribesnap/breaker"
	"github.com/ceyewan/scribesnap/db"
	"github.com/ceyewan/scribesnap/internal/blob"
	"github.com/ceyewan/scribesnap/internal/events"
	"github.com/ceyewan/scribesnap/internal/extraction"
	"github.com/ceyewan/scribesnap/internal/store"
	"github.com/ceyewan/scribesnap/retry"
	"github.com/ceyewan/scribesnap/testkit"
	"github.com/ceyewan/scribesnap/xerrors"
)

var (
	pngData  = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 64)...)
	jpegData = append([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}, make([]byte, 64)...)
	epoch    = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
)

// fakeExtractor 按调用次序返回预设结果，超出预设时重复最后一个
type fakeExtractor struct {
	mu      sync.Mutex
	calls   int
	results []func(ctx context.Context) (string, error)
}

func (f *fakeExtractor) Extract(ctx context.Context, _ blob.Object) (string, error) {
	f.mu.Lock()
	i := min(f.calls, len(f.results)-1)
	f.calls++
	fn := f.results[i]
	f.mu.Unlock()
	return fn(ctx)
}

func (f *fakeExtractor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func succeed(text string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return text, nil }
}

func failWith(err error) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return "", err }
}

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturePublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *capturePublisher) Events() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.events...)
}

type fixture struct {
	orch      *Orchestrator
	store     store.Store
	fs        afero.Fs
	breaker   breaker.Breaker
	extractor *fakeExtractor
	publisher *capturePublisher
	sleeps    *atomic.Int32
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	workflow  Config
	breaker   breaker.Config
	wrapStore func(store.Store) store.Store
}

func newFixture(t *testing.T, extractor *fakeExtractor, opts ...fixtureOption) *fixture {
	t.Helper()
	fc := &fixtureConfig{
		workflow: Config{Retry: retry.Config{MaxAttempts: 3}},
		breaker:  breaker.Config{Name: "extraction", FailureThreshold: 5, RecoveryTimeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(fc)
	}

	database, err := db.New(&db.Config{Driver: db.DriverSQLite},
		db.WithSQLiteConnector(testkit.NewSQLiteConnector(t)),
		db.WithSilentMode())
	require.NoError(t, err)
	items, err := store.New(database, &store.Config{CacheSize: -1})
	require.NoError(t, err)
	require.NoError(t, items.Migrate(context.Background()))

	fs := afero.NewMemMapFs()
	clock := func() time.Time { return epoch }
	blobs, err := blob.New(&blob.Config{}, blob.WithFs(fs), blob.WithClock(clock))
	require.NoError(t, err)

	brk, err := breaker.New(&fc.breaker, breaker.WithClock(clock))
	require.NoError(t, err)

	var storeDep store.Store = items
	if fc.wrapStore != nil {
		storeDep = fc.wrapStore(items)
	}

	sleeps := &atomic.Int32{}
	pub := &capturePublisher{}
	orch, err := New(&fc.workflow, Dependencies{
		Blobs:     blobs,
		Store:     storeDep,
		Extractor: extractor,
		Breaker:   brk,
	},
		WithLogger(testkit.NewLogger()),
		WithPublisher(pub),
		WithClock(clock),
		WithRetryOptions(
			retry.WithSleep(func(ctx context.Context, _ time.Duration) error {
				sleeps.Add(1)
				return ctx.Err()
			}),
			retry.WithJitter(func(time.Duration) time.Duration { return 0 }),
		))
	require.NoError(t, err)

	return &fixture{
		orch:      orch,
		store:     items,
		fs:        fs,
		breaker:   brk,
		extractor: extractor,
		publisher: pub,
		sleeps:    sleeps,
	}
}

// countBlobs 统计固定日期目录下的文件数
func (f *fixture) countBlobs(t *testing.T) int {
	t.Helper()
	entries, err := afero.ReadDir(f.fs, epoch.Format("2006/01/02"))
	if os.IsNotExist(err) {
		return 0
	}
	require.NoError(t, err)
	return len(entries)
}

func upload(name string, data []byte) Upload {
	return Upload{Filename: name, Size: int64(len(data)), Data: data}
}

func requireFailure(t *testing.T, err error, kind Kind) *Failure {
	t.Helper()
	require.Error(t, err)
	var f *Failure
	require.ErrorAs(t, err, &f)
	require.Equal(t, kind, f.Kind, "unexpected failure: %v", err)
	return f
}

func TestNew(t *testing.T) {
	deps := Dependencies{}
	_, err := New(nil, deps)
	assert.ErrorIs(t, err, ErrConfigNil)

	_, err = New(&Config{}, deps)
	assert.ErrorIs(t, err, ErrMissingDependency)
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
}

func TestConfigDefaults(t *testing.T) {
	f := newFixture(t, &fakeExtractor{results: []func(context.Context) (string, error){succeed("x")}})
	cfg := f.orch.Config()
	assert.Equal(t, int64(10*1024*1024), cfg.MaxFileSize)
	assert.Equal(t, []string{"png", "jpg", "jpeg"}, cfg.AllowedExtensions)
	assert.Equal(t, "extraction", cfg.Retry.Name)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.MinDelay)
	assert.Equal(t, 60*time.Second, cfg.UnavailableRetryAfter)
}

func TestProcessSuccess(t *testing.T) {
	ext := &fakeExtractor{results: []func(context.Context) (string, error){succeed("# Lecture 1\n\nNotes")}}
	f := newFixture(t, ext)

	item, err := f.orch.Process(context.Background(), upload("notes.PNG", pngData))
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, item.Status)
	assert.Equal(t, "# Lecture 1\n\nNotes", item.Result)
	assert.Zero(t, item.AttemptCount)
	assert.True(t, strings.HasSuffix(item.BlobRef, ".png"))
	assert.Equal(t, 1, ext.Calls())
	assert.Equal(t, 1, f.countBlobs(t))

	stored, err := f.store.Get(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, stored.Status)

	evs := f.publisher.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, item.ID, evs[0].ID)
	assert.Equal(t, "completed", evs[0].Status)

	snap := f.breaker.Snapshot()
	assert.Equal(t, breaker.StateClosed, snap.State)
	assert.Zero(t, snap.ConsecutiveFailures)
}

func TestProcessAcceptsJPEG(t *testing.T) {
	f := newFixture(t, &fakeExtractor{results: []func(context.Context) (string, error){succeed("text")}})
	item, err := f.orch.Process(context.Background(), upload("scan.jpeg", jpegData))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(item.BlobRef, ".jpeg"))
}

func TestProcessValidation(t *testing.T) {
	tests := []struct {
		name   string
		upload Upload
	}{
		{"empty", upload("a.png", nil)},
		{"too large", upload("a.png", append(append([]byte{}, pngData...), make([]byte, 1024)...))},
		{"declared size too large", Upload{Filename: "a.png", Size: 1 << 30, Data: pngData}},
		{"unsupported extension", upload("a.gif", pngData)},
		{"no extension", upload("notes", pngData)},
		{"content mismatch", upload("a.png", []byte("definitely not an image, just some text"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext := &fakeExtractor{results: []func(context.Context) (string, error){succeed("x")}}
			f := newFixture(t, ext, func(c *fixtureConfig) { c.workflow.MaxFileSize = int64(len(pngData)) + 10 })

			_, err := f.orch.Process(context.Background(), tt.upload)
			f2 := requireFailure(t, err, KindValidationFailed)
			assert.NotEmpty(t, f2.Message)

			assert.Zero(t, ext.Calls())
			assert.Zero(t, f.countBlobs(t))
			res, err := f.store.List(context.Background(), store.Filter{}, store.Page{})
			require.NoError(t, err)
			assert.Zero(t, res.TotalCount)
		})
	}
}

func TestProcessRetriesTransientFailures(t *testing.T) {
	transient := extraction.Transient("rate limited", nil)
	ext := &fakeExtractor{results: []func(context.Context) (string, error){
		failWith(transient), failWith(transient), succeed("recovered"),
	}}
	f := newFixture(t, ext)

	item, err := f.orch.Process(context.Background(), upload("a.png", pngData))
	require.NoError(t, err)
	assert.Equal(t, "recovered", item.Result)
	assert.Equal(t, 3, ext.Calls())
	assert.Equal(t, int32(2), f.sleeps.Load())
	assert.Zero(t, f.breaker.Snapshot().ConsecutiveFailures)
}

func TestProcessRetryExhausted(t *testing.T) {
	ext := &fakeExtractor{results: []func(context.Context) (string, error){
		failWith(extraction.Transient("upstream 503", nil)),
	}}
	f := newFixture(t, ext)

	_, err := f.orch.Process(context.Background(), upload("a.png", pngData))
	fail := requireFailure(t, err, KindRetryExhausted)
	assert.Equal(t, 60*time.Second, fail.RetryAfter)
	assert.Equal(t, 3, fail.Details["attempts"])
	assert.Equal(t, 3, ext.Calls())

	// 一次外层调用只计一次熔断失败
	assert.Equal(t, 1, f.breaker.Snapshot().ConsecutiveFailures)

	id, _ := fail.Details["id"].(string)
	item, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, item.Status)
	assert.Equal(t, 1, item.AttemptCount)
	assert.Equal(t, "text extraction failed after 3 attempts", item.ErrorDetail)
	assert.Empty(t, item.Result)

	evs := f.publisher.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, "failed", evs[0].Status)
	assert.Equal(t, 1, evs[0].AttemptCount)
}

func TestProcessPermanentFailureStopsImmediately(t *testing.T) {
	ext := &fakeExtractor{results: []func(context.Context) (string, error){
		failWith(extraction.Permanent("invalid image", nil)),
	}}
	f := newFixture(t, ext)

	_, err := f.orch.Process(context.Background(), upload("a.png", pngData))
	fail := requireFailure(t, err, KindRetryExhausted)
	assert.Equal(t, 1, ext.Calls())
	assert.Zero(t, f.sleeps.Load())

	item, err := f.store.Get(context.Background(), fail.Details["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, item.Status)
	assert.Equal(t, "text extraction rejected the image", item.ErrorDetail)
	assert.Equal(t, 1, f.breaker.Snapshot().ConsecutiveFailures)
}

func TestProcessBreakerOpen(t *testing.T) {
	ext := &fakeExtractor{results: []func(context.Context) (string, error){
		failWith(extraction.Permanent("bad request", nil)),
	}}
	f := newFixture(t, ext, func(c *fixtureConfig) { c.breaker.FailureThreshold = 1 })

	_, err := f.orch.Process(context.Background(), upload("a.png", pngData))
	requireFailure(t, err, KindRetryExhausted)
	require.Equal(t, breaker.StateOpen, f.breaker.State())

	_, err = f.orch.Process(context.Background(), upload("b.png", pngData))
	fail := requireFailure(t, err, KindBreakerOpen)
	assert.Equal(t, 30*time.Second, fail.RetryAfter)
	assert.ErrorIs(t, err, breaker.ErrOpen)

	// 熔断拒绝时不会发起上游调用
	assert.Equal(t, 1, ext.Calls())

	item, err := f.store.Get(context.Background(), fail.Details["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, item.Status)
	assert.Equal(t, "text extraction service unavailable (circuit open)", item.ErrorDetail)
}

func TestProcessCancellation(t *testing.T) {
	started := make(chan struct{})
	ext := &fakeExtractor{results: []func(context.Context) (string, error){
		func(ctx context.Context) (string, error) {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		},
	}}
	f := newFixture(t, ext)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := f.orch.Process(ctx, upload("a.png", pngData))
	fail := requireFailure(t, err, KindUnknown)
	assert.ErrorIs(t, err, context.Canceled)

	// 取消不会写入 completed，失败状态通过脱离取消的 context 落库
	item, err := f.store.Get(context.Background(), fail.Details["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, item.Status)
	assert.Equal(t, "processing cancelled before completion", item.ErrorDetail)

	// 取消不计入熔断失败
	snap := f.breaker.Snapshot()
	assert.Equal(t, breaker.StateClosed, snap.State)
	assert.Zero(t, snap.ConsecutiveFailures)
	assert.Equal(t, 1, ext.Calls())
}

func TestProcessCancelledAfterExtraction(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ext := &fakeExtractor{results: []func(context.Context) (string, error){
		func(context.Context) (string, error) {
			cancel()
			return "too late", nil
		},
	}}
	f := newFixture(t, ext)

	_, err := f.orch.Process(ctx, upload("a.png", pngData))
	fail := requireFailure(t, err, KindUnknown)

	item, err := f.store.Get(context.Background(), fail.Details["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, item.Status)
	assert.Empty(t, item.Result)
}

type failingCreateStore struct {
	store.Store
}

func (failingCreateStore) Create(context.Context, *store.WorkItem) error {
	return xerrors.New("disk full")
}

func TestProcessStorageFailureRemovesBlob(t *testing.T) {
	ext := &fakeExtractor{results: []func(context.Context) (string, error){succeed("x")}}
	f := newFixture(t, ext, func(c *fixtureConfig) {
		c.wrapStore = func(s store.Store) store.Store { return failingCreateStore{s} }
	})

	_, err := f.orch.Process(context.Background(), upload("a.png", pngData))
	requireFailure(t, err, KindStorageFailed)
	assert.Zero(t, ext.Calls())
	assert.Zero(t, f.countBlobs(t))
	assert.Empty(t, f.publisher.Events())
}

func TestGet(t *testing.T) {
	f := newFixture(t, &fakeExtractor{results: []func(context.Context) (string, error){succeed("hello")}})
	ctx := context.Background()

	_, err := f.orch.Get(ctx, "not-a-uuid")
	requireFailure(t, err, KindValidationFailed)

	_, err = f.orch.Get(ctx, uuid.NewString())
	requireFailure(t, err, KindNotFound)

	created, err := f.orch.Process(ctx, upload("a.png", pngData))
	require.NoError(t, err)
	got, err := f.orch.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Result)
}

func TestList(t *testing.T) {
	f := newFixture(t, &fakeExtractor{results: []func(context.Context) (string, error){succeed("hello")}})
	ctx := context.Background()

	for range 3 {
		_, err := f.orch.Process(ctx, upload("a.png", pngData))
		require.NoError(t, err)
	}

	page, err := f.orch.List(ctx, Query{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, int64(3), page.TotalCount)

	next, err := f.orch.List(ctx, Query{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	assert.Len(t, next.Items, 1)
	assert.False(t, next.HasMore)

	_, err = f.orch.List(ctx, Query{Cursor: "%%%"})
	requireFailure(t, err, KindValidationFailed)

	_, err = f.orch.List(ctx, Query{Status: "pending"})
	requireFailure(t, err, KindValidationFailed)

	_, err = f.orch.List(ctx, Query{Sort: "title"})
	requireFailure(t, err, KindValidationFailed)
}

func TestHealth(t *testing.T) {
	ext := &fakeExtractor{results: []func(context.Context) (string, error){
		failWith(extraction.Permanent("bad request", nil)),
	}}
	f := newFixture(t, ext, func(c *fixtureConfig) { c.breaker.FailureThreshold = 1 })
	ctx := context.Background()

	h := f.orch.Health(ctx)
	assert.Equal(t, StatusHealthy, h.Status)
	assert.Equal(t, DatabaseConnected, h.Database)
	assert.Equal(t, ExtractionAvailable, h.Extraction)
	assert.Equal(t, epoch, h.Timestamp)
	assert.True(t, h.Healthy())

	_, err := f.orch.Process(ctx, upload("a.png", pngData))
	require.Error(t, err)

	h = f.orch.Health(ctx)
	assert.Equal(t, StatusDegraded, h.Status)
	assert.Equal(t, ExtractionUnavailable, h.Extraction)
	assert.Equal(t, breaker.StateOpen, h.Breaker.State)
	assert.True(t, h.Healthy())
}

func TestClassify(t *testing.T) {
	assert.Equal(t, retry.ClassRejected, classify(&breaker.OpenError{Name: "x", RetryAfter: time.Second}))
	assert.Equal(t, retry.ClassNonRetryable, classify(extraction.Permanent("bad", nil)))
	assert.Equal(t, retry.ClassNonRetryable, classify(retry.Permanent(xerrors.New("stop"))))
	assert.Equal(t, retry.ClassRetryable, classify(extraction.Transient("busy", nil)))
	assert.Equal(t, retry.ClassRetryable, classify(xerrors.New("connection reset")))
}

func TestOutcomeOf(t *testing.T) {
	assert.Equal(t, breaker.OutcomeSuccess, outcomeOf(nil))
	assert.Equal(t, breaker.OutcomeIgnored, outcomeOf(&retry.Error{Reason: retry.ReasonCanceled}))
	assert.Equal(t, breaker.OutcomeFailure, outcomeOf(&retry.Error{Reason: retry.ReasonExhausted}))
	assert.Equal(t, breaker.OutcomeFailure, outcomeOf(&retry.Error{Reason: retry.ReasonNonRetryable}))
}

func TestAsFailure(t *testing.T) {
	assert.Nil(t, AsFailure(nil))

	f := &Failure{Kind: KindNotFound, Message: "gone"}
	assert.Same(t, f, AsFailure(xerrors.Wrap(f, "lookup")))

	unknown := AsFailure(xerrors.New("boom"))
	assert.Equal(t, KindUnknown, unknown.Kind)
	assert.Equal(t, "An unexpected error occurred", unknown.Message)
}
