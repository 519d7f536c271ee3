package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"ferryx/internal/config"
	"ferryx/pkg/metrics"
)

func newRecordingTelemetry(t *testing.T) (*Telemetry, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tel, err := NewWithExporter(config.Tracing{Enabled: true, SampleRate: 1}, "test", sdktrace.WithSyncer(exporter))
	if err != nil {
		t.Fatalf("NewWithExporter() error = %v", err)
	}
	t.Cleanup(func() { tel.Shutdown(context.Background()) })
	return tel, exporter
}

func TestNew_Disabled(t *testing.T) {
	tel, err := New(config.Tracing{Enabled: false}, "test")
	if err != nil {
		t.Fatalf("New failed for disabled tracing: %v", err)
	}

	_, span := tel.StartPublishSpan(context.Background(), "my-app")
	if span.IsRecording() {
		t.Error("disabled tracing should produce non-recording spans")
	}
	span.End()

	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestPublishToFanout_PropagatesTrace(t *testing.T) {
	tel, exporter := newRecordingTelemetry(t)

	ctx, pub := tel.StartPublishSpan(context.Background(), "my-app")
	carrier := tel.Inject(ctx)
	pub.End()

	if carrier["traceparent"] == "" {
		t.Fatalf("carrier missing traceparent: %v", carrier)
	}

	_, fan := tel.StartFanoutSpan(context.Background(), carrier, []string{"prod"})
	fan.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if spans[0].SpanContext.TraceID() != spans[1].SpanContext.TraceID() {
		t.Error("fanout span is not in the publish trace")
	}
	if spans[1].SpanKind != trace.SpanKindConsumer {
		t.Errorf("fanout kind = %v", spans[1].SpanKind)
	}
}

func TestExtract_EmptyCarrier(t *testing.T) {
	tel, _ := newRecordingTelemetry(t)
	ctx := context.Background()
	if got := tel.Extract(ctx, nil); got != ctx {
		t.Error("empty carrier should return ctx unchanged")
	}
}

func TestMiddleware_WrapHTTP(t *testing.T) {
	tel, exporter := newRecordingTelemetry(t)
	registry := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(registry)

	handler := NewMiddleware(tel, m).WrapHTTP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !trace.SpanFromContext(r.Context()).IsRecording() {
			t.Error("handler context carries no span")
		}
		w.WriteHeader(http.StatusBadRequest)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/deploy", nil))

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("POST", "/api/deploy", "400")); got != 1 {
		t.Errorf("requests counter = %v, want 1", got)
	}
	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "POST /api/deploy" {
		t.Fatalf("unexpected spans: %+v", spans)
	}
}
