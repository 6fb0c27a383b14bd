package clog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func newJSONLogger(t *testing.T, level string, opts ...Option) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	opts = append(opts, WithWriter(&buf))
	logger, err := New(&Config{Level: level, Format: "json"}, opts...)
	require.NoError(t, err)
	return logger, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{name: "valid console", config: &Config{Level: "info", Format: "console", Output: "stdout"}},
		{name: "nil config", config: nil},
		{name: "invalid level", config: &Config{Level: "verbose"}, wantErr: true},
		{name: "invalid format", config: &Config{Level: "info", Format: "xml"}, wantErr: true},
		{name: "colored console", config: &Config{Level: "debug", Format: "console", EnableColor: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.validate())
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.Equal(t, "stdout", cfg.Output)
}

func TestLoggerFields(t *testing.T) {
	logger, buf := newJSONLogger(t, "debug", WithNamespace("scribesnap"))

	logger.With(String("note_id", "n-1")).
		WithNamespace("workflow").
		Info("note completed", Int("attempts", 2), Error(errors.New("boom")), Error(nil))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	line := lines[0]
	assert.Equal(t, "note completed", line["msg"])
	assert.Equal(t, "INFO", line["level"])
	assert.Equal(t, "scribesnap.workflow", line[NamespaceKey])
	assert.Equal(t, "n-1", line["note_id"])
	assert.Equal(t, float64(2), line["attempts"])
	assert.Equal(t, "boom", line["err_msg"])
	assert.NotContains(t, line, "")
}

func TestLevelFilterAndSetLevel(t *testing.T) {
	logger, buf := newJSONLogger(t, "warn")

	logger.Info("hidden")
	logger.Warn("shown")
	require.Len(t, decodeLines(t, buf), 1)

	require.NoError(t, logger.SetLevel(DebugLevel))
	logger.Debug("now shown")
	assert.Len(t, decodeLines(t, buf), 2)
}

func TestContextExtraction(t *testing.T) {
	t.Run("request id", func(t *testing.T) {
		logger, buf := newJSONLogger(t, "info", WithStandardContext())
		ctx := WithRequestID(context.Background(), "req-42")

		logger.InfoContext(ctx, "handled")

		lines := decodeLines(t, buf)
		require.Len(t, lines, 1)
		assert.Equal(t, "req-42", lines[0]["request_id"])
		assert.Equal(t, "req-42", RequestIDFrom(ctx))
		assert.Empty(t, RequestIDFrom(context.Background()))
	})

	t.Run("trace context", func(t *testing.T) {
		logger, buf := newJSONLogger(t, "info", WithTraceContext())
		traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
		spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
		sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
		ctx := trace.ContextWithSpanContext(context.Background(), sc)

		logger.InfoContext(ctx, "traced")

		lines := decodeLines(t, buf)
		require.Len(t, lines, 1)
		assert.Equal(t, traceID.String(), lines[0]["trace_id"])
		assert.Equal(t, spanID.String(), lines[0]["span_id"])
	})
}

func TestParseLevel(t *testing.T) {
	for _, s := range []string{"debug", "INFO", "Warn", "error", "fatal"} {
		_, err := ParseLevel(s)
		assert.NoError(t, err, s)
	}
	level, err := ParseLevel("loud")
	assert.Error(t, err)
	assert.Equal(t, InfoLevel, level)
	assert.Equal(t, "warn", WarnLevel.String())
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	assert.NotPanics(t, func() {
		logger.With(String("k", "v")).WithNamespace("x").Error("ignored")
		logger.Flush()
	})
}
