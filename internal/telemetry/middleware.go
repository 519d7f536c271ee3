package telemetry

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"ferryx/pkg/metrics"
)

// Middleware records a span and request metrics for every HTTP request
type Middleware struct {
	telemetry *Telemetry
	metrics   *metrics.Metrics
}

// NewMiddleware creates a new telemetry middleware. metrics may be nil.
func NewMiddleware(telemetry *Telemetry, metrics *metrics.Metrics) *Middleware {
	return &Middleware{
		telemetry: telemetry,
		metrics:   metrics,
	}
}

// WrapHTTP wraps an HTTP handler with telemetry
func (m *Middleware) WrapHTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := m.telemetry.StartHTTPServerSpan(r)
		r = r.WithContext(ctx)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rw, r)

		if m.metrics != nil {
			path := metrics.NormalizePath(r.URL.Path)
			status := strconv.Itoa(rw.statusCode)
			m.metrics.RequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			m.metrics.RequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		}
		EndHTTPServerSpan(span, rw.statusCode)
	})
}

// responseWriter captures the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// Hijack hands the connection to the WebSocket upgrader
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.wroteHeader = true
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
