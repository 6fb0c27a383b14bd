package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	value  float64
	labels []Label
}

type recorder struct {
	mu      sync.Mutex
	records []record
}

func (r *recorder) add(v float64, labels []Label) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record{value: v, labels: append([]Label(nil), labels...)})
}

func (r *recorder) Inc(_ context.Context, labels ...Label)               { r.add(1, labels) }
func (r *recorder) Dec(_ context.Context, labels ...Label)               { r.add(-1, labels) }
func (r *recorder) Add(_ context.Context, v float64, labels ...Label)    { r.add(v, labels) }
func (r *recorder) Set(_ context.Context, v float64, labels ...Label)    { r.add(v, labels) }
func (r *recorder) Record(_ context.Context, v float64, labels ...Label) { r.add(v, labels) }

func labelValue(labels []Label, key string) string {
	for _, l := range labels {
		if l.Key == key {
			return l.Value
		}
	}
	return ""
}

type fixture struct {
	requests, duration, bodySize, inFlight *recorder
	router                                 *gin.Engine
}

func newFixture() *fixture {
	gin.SetMode(gin.TestMode)
	f := &fixture{requests: &recorder{}, duration: &recorder{}, bodySize: &recorder{}, inFlight: &recorder{}}
	m := &HTTPServerMetrics{
		service:  "scribesnap",
		requests: f.requests,
		duration: f.duration,
		bodySize: f.bodySize,
		inFlight: f.inFlight,
	}
	f.router = gin.New()
	f.router.Use(m.GinMiddleware())
	return f
}

func TestGinMiddlewareUsesRouteTemplate(t *testing.T) {
	f := newFixture()
	f.router.GET("/api/notes/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	f.router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/notes/123", nil))

	require.Len(t, f.requests.records, 1)
	labels := f.requests.records[0].labels
	assert.Equal(t, "/api/notes/:id", labelValue(labels, LabelRoute))
	assert.Equal(t, "2xx", labelValue(labels, LabelStatusClass))
	assert.Equal(t, OutcomeSuccess, labelValue(labels, LabelOutcome))
	assert.Equal(t, "scribesnap", labelValue(labels, LabelService))

	require.Len(t, f.inFlight.records, 2)
	assert.Equal(t, 1.0, f.inFlight.records[0].value)
	assert.Equal(t, -1.0, f.inFlight.records[1].value)
	assert.Empty(t, f.bodySize.records)
}

func TestGinMiddlewareUnknownRoute(t *testing.T) {
	f := newFixture()

	f.router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/random-scan-value", nil))

	require.Len(t, f.requests.records, 1)
	labels := f.requests.records[0].labels
	assert.Equal(t, UnknownRoute, labelValue(labels, LabelRoute))
	assert.Equal(t, OutcomeClientError, labelValue(labels, LabelOutcome))
}

func TestGinMiddlewareRecordsBodySize(t *testing.T) {
	f := newFixture()
	f.router.POST("/api/parse", func(c *gin.Context) { c.Status(http.StatusTooManyRequests) })

	body := strings.Repeat("x", 2048)
	f.router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/parse", strings.NewReader(body)))

	require.Len(t, f.bodySize.records, 1)
	assert.Equal(t, 2048.0, f.bodySize.records[0].value)
	assert.Equal(t, "/api/parse", labelValue(f.bodySize.records[0].labels, LabelRoute))
	assert.Equal(t, OutcomeRejected, labelValue(f.requests.records[0].labels, LabelOutcome))
}

func TestObserveNilSafe(t *testing.T) {
	var m *HTTPServerMetrics
	assert.NotPanics(t, func() {
		m.Observe(context.Background(), http.MethodGet, "/", http.StatusOK, time.Millisecond, 0)
	})
}

func TestNewHTTPServerMetrics(t *testing.T) {
	_, err := NewHTTPServerMetrics(nil, nil)
	assert.Error(t, err)

	m, err := NewHTTPServerMetrics(Discard(), &HTTPConfig{Service: "  "})
	require.NoError(t, err)
	assert.Equal(t, "unknown", m.service)
}

func TestHTTPOutcome(t *testing.T) {
	tests := []struct {
		status int
		class  string
		want   string
	}{
		{http.StatusOK, "2xx", OutcomeSuccess},
		{http.StatusCreated, "2xx", OutcomeSuccess},
		{http.StatusNotModified, "3xx", OutcomeSuccess},
		{http.StatusBadRequest, "4xx", OutcomeClientError},
		{http.StatusNotFound, "4xx", OutcomeClientError},
		{http.StatusTooManyRequests, "4xx", OutcomeRejected},
		{http.StatusServiceUnavailable, "5xx", OutcomeServerError},
		{0, "unknown", OutcomeServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPOutcome(tt.status), tt.status)
		assert.Equal(t, tt.class, HTTPStatusClass(tt.status), tt.status)
	}
}
