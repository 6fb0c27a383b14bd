package trace

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	oteltrace "go.opentelemetry.io/otel/trace"
)

func setupTracerForTest(t *testing.T) (oteltrace.Tracer, *tracetest.SpanRecorder) {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Tracer("test"), recorder
}

func TestStartProducerSpan(t *testing.T) {
	tracer, recorder := setupTracerForTest(t)

	meta := MessagingMeta{
		System:      MessagingSystemNATS,
		Destination: "scribesnap.notes.completed",
		Operation:   MessagingOperationPublish,
	}
	_, span, headers := StartProducerSpan(context.Background(), tracer, SpanNameMQPublish(meta.Destination), meta)
	span.End()

	assert.NotEmpty(t, headers["traceparent"])

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "mq.publish scribesnap.notes.completed", spans[0].Name())
	assert.Equal(t, oteltrace.SpanKindProducer, spans[0].SpanKind())
}

func TestInjectExtractRoundTrip(t *testing.T) {
	tracer, _ := setupTracerForTest(t)

	ctx, span := tracer.Start(context.Background(), "upstream")
	defer span.End()

	headers := map[string]string{}
	Inject(ctx, headers)
	extracted := Extract(context.Background(), headers)

	assert.Equal(t, span.SpanContext().TraceID(), oteltrace.SpanContextFromContext(extracted).TraceID())
}

func TestMarkSpanError(t *testing.T) {
	tracer, recorder := setupTracerForTest(t)
	_, span := tracer.Start(context.Background(), "work")
	MarkSpanError(span, errors.New("boom"))
	MarkSpanError(span, nil)
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestSpanNameMQPublish(t *testing.T) {
	assert.Equal(t, "mq.publish", SpanNameMQPublish(""))
}
