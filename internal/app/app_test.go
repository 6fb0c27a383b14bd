package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ceyewan/scribesnap/config"
	"github.com/ceyewan/scribesnap/internal/events"
	"github.com/ceyewan/scribesnap/internal/store"
	"github.com/ceyewan/scribesnap/testkit"
)

var pngData = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 64)...)

// fakeGemini 模拟 generateContent 接口，status 非 200 时返回错误
type fakeGemini struct {
	calls  atomic.Int32
	status int
	text   string
}

func (f *fakeGemini) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	if r.Header.Get("x-goog-api-key") != "test-key" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if f.status != 0 && f.status != http.StatusOK {
		w.WriteHeader(f.status)
		_, _ = io.WriteString(w, `{"error":{"message":"upstream failure"}}`)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"candidates": []map[string]any{{
			"content":      map[string]any{"parts": []map[string]any{{"text": f.text}}},
			"finishReason": "STOP",
		}},
	})
}

func testConfig(t *testing.T, baseURL string) *Config {
	t.Helper()
	cfg, _, err := Load(context.Background(), []string{t.TempDir()}, config.WithLogger(testkit.NewLogger()))
	require.NoError(t, err)

	cfg.Database.SQLite = *testkit.NewSQLiteConfig()
	cfg.Storage.Root = filepath.Join(t.TempDir(), "storage")
	cfg.Extraction.BaseURL = baseURL
	cfg.Extraction.APIKey = "test-key"
	cfg.Extraction.RequestsPerMinute = 600
	cfg.Retry.MaxAttempts = 2
	cfg.Retry.MinDelay = time.Millisecond
	cfg.Retry.MaxDelay = time.Millisecond
	cfg.Retry.JitterMax = time.Millisecond
	cfg.Reconcile.Enabled = false
	return cfg
}

func newTestApp(t *testing.T, cfg *Config) *App {
	t.Helper()
	a, err := New(cfg, WithLogger(testkit.NewLogger()), WithMeter(testkit.NewMeter(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func upload(t *testing.T, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/parse", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestNew(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrConfigNil)

	a := newTestApp(t, testConfig(t, "http://127.0.0.1:1"))
	assert.NotNil(t, a.Logger())
	assert.Nil(t, a.Handler())
	assert.ErrorIs(t, a.Serve(context.Background()), ErrNotBuilt)
}

func TestOpenStoreUnsupportedDriver(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Database.Driver = "oracle"
	a := newTestApp(t, cfg)

	_, err := a.OpenStore(context.Background())
	require.Error(t, err)
	assert.True(t, config.IsInvalidInput(err))
}

func TestOpenStoreIsReused(t *testing.T) {
	a := newTestApp(t, testConfig(t, "http://127.0.0.1:1"))

	first, err := a.OpenStore(context.Background())
	require.NoError(t, err)
	second, err := a.OpenStore(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, second)
	require.NoError(t, first.Ping(context.Background()))
}

func TestEndToEndParse(t *testing.T) {
	gemini := &fakeGemini{text: "Buy milk\nCall mom"}
	upstream := httptest.NewServer(gemini)
	defer upstream.Close()

	natsServer := testkit.NewNATSServer(t)
	cfg := testConfig(t, upstream.URL)
	cfg.Events.Enabled = true
	cfg.Events.NATS.URL = natsServer.ClientURL()

	sub, err := nats.Connect(natsServer.ClientURL())
	require.NoError(t, err)
	defer sub.Close()
	received := make(chan *nats.Msg, 1)
	_, err = sub.ChanSubscribe("scribesnap.notes.completed", received)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	a := newTestApp(t, cfg)
	require.NoError(t, a.Build(context.Background()))
	handler := a.Handler()
	require.NotNil(t, handler)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, upload(t, "note.png", pngData))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var parsed struct {
		ParsedText string `json:"parsed_text"`
		Note       struct {
			ID       string `json:"id"`
			ImageURL string `json:"image_url"`
			Status   string `json:"status"`
		} `json:"note"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &parsed))
	assert.Equal(t, "Buy milk\nCall mom", parsed.ParsedText)
	assert.Equal(t, string(store.StatusCompleted), parsed.Note.Status)
	assert.EqualValues(t, 1, gemini.calls.Load())

	select {
	case msg := <-received:
		var ev events.Event
		require.NoError(t, msgpack.Unmarshal(msg.Data, &ev))
		assert.Equal(t, parsed.Note.ID, ev.ID)
		assert.Equal(t, string(store.StatusCompleted), ev.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("completion event not published")
	}

	// 笔记详情与图片都可以取回
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/notes/"+parsed.Note.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Buy milk")

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, parsed.Note.ImageURL, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, pngData, w.Body.Bytes())

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/notes", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-Total-Count"))

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEndToEndUpstreamFailure(t *testing.T) {
	gemini := &fakeGemini{status: http.StatusServiceUnavailable}
	upstream := httptest.NewServer(gemini)
	defer upstream.Close()

	a := newTestApp(t, testConfig(t, upstream.URL))
	require.NoError(t, a.Build(context.Background()))

	w := httptest.NewRecorder()
	a.Handler().ServeHTTP(w, upload(t, "note.png", pngData))
	require.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "llm_service_error")
	assert.EqualValues(t, 2, gemini.calls.Load())

	items, err := a.OpenStore(context.Background())
	require.NoError(t, err)
	res, err := items.List(context.Background(), store.Filter{Status: store.StatusFailed}, store.Page{Limit: 10})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	// 内部重试两次，记录上只算一次处理
	assert.Equal(t, 1, res.Items[0].AttemptCount)
	assert.NotEmpty(t, res.Items[0].ErrorDetail)
}

func TestReconcileCommand(t *testing.T) {
	a := newTestApp(t, testConfig(t, "http://127.0.0.1:1"))
	n, err := a.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Reconcile.Enabled = true
	a := newTestApp(t, cfg)
	require.NoError(t, a.Build(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestCloseCollectsErrors(t *testing.T) {
	var l lifecycle
	var order []string
	l.register("first", PhaseConnector, func(context.Context) error {
		order = append(order, "first")
		return nil
	})
	l.register("second", PhaseComponent, func(context.Context) error {
		order = append(order, "second")
		return io.ErrClosedPipe
	})

	err := l.closeAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrClosedPipe)
	var closeErr *CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, "second", closeErr.Name)
	assert.Equal(t, []string{"second", "first"}, order)

	assert.NoError(t, l.closeAll(context.Background()))
}
