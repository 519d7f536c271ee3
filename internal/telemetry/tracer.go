package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StartHTTPServerSpan starts a span for an inbound request, continuing any
// trace carried in its headers.
func (t *Telemetry) StartHTTPServerSpan(r *http.Request) (context.Context, trace.Span) {
	ctx := t.propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	return t.tracer.Start(ctx,
		fmt.Sprintf("%s %s", r.Method, r.URL.Path),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", r.Method),
			attribute.String("url.path", r.URL.Path),
			attribute.String("client.address", r.RemoteAddr),
			attribute.String("user_agent.original", r.UserAgent()),
		),
	)
}

// EndHTTPServerSpan ends an HTTP server span with status
func EndHTTPServerSpan(span trace.Span, statusCode int) {
	if span.IsRecording() {
		span.SetAttributes(attribute.Int("http.response.status_code", statusCode))
		if statusCode >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", statusCode))
		}
	}
	span.End()
}

// StartPublishSpan starts the producer span for a deploy event
func (t *Telemetry) StartPublishSpan(ctx context.Context, target string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "deploy publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(attribute.String("ferryx.target", target)),
	)
}

// StartFanoutSpan starts the consumer span for delivering an event to local
// subscribers. carrier holds the producer's trace context, possibly from
// another relay instance.
func (t *Telemetry) StartFanoutSpan(ctx context.Context, carrier map[string]string, groups []string) (context.Context, trace.Span) {
	ctx = t.Extract(ctx, carrier)
	return t.tracer.Start(ctx, "deploy fanout",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.StringSlice("ferryx.groups", groups)),
	)
}

// Inject serializes the trace context of ctx for transport in a message
func (t *Telemetry) Inject(ctx context.Context) map[string]string {
	carrier := propagation.MapCarrier{}
	t.propagator.Inject(ctx, carrier)
	if len(carrier) == 0 {
		return nil
	}
	return carrier
}

// Extract restores a trace context serialized by Inject
func (t *Telemetry) Extract(ctx context.Context, carrier map[string]string) context.Context {
	if len(carrier) == 0 {
		return ctx
	}
	return t.propagator.Extract(ctx, propagation.MapCarrier(carrier))
}

// RecordError records an error on the span from context
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetAttributes sets attributes on the current span
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}
