package observability

import (
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// statusRecorder captures the response code written downstream.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush passes through so SSE handlers keep working behind the
// middleware.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware instruments each request with a span and the HTTP metric
// family. routeFunc maps a request to its route pattern (not the raw
// URL, which would explode label cardinality).
func (m *Manager) Middleware(routeFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m == nil || (m.tracer == nil && m.metrics == nil) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			ctx := r.Context()
			var span trace.Span
			if m.tracer != nil {
				ctx, span = m.tracer.Tracer("gateway/http").Start(ctx, r.Method+" "+routeFunc(r))
			}

			next.ServeHTTP(rec, r.WithContext(ctx))

			route := routeFunc(r)
			if span != nil {
				span.SetAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.route", route),
					attribute.Int("http.status_code", rec.status),
				)
				span.End()
			}
			if m.metrics != nil {
				m.metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(rec.status), time.Since(start))
			}
		})
	}
}
