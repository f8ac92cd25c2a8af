package middleware

import (
	"net/http"
	"time"

	"github.com/wudi/gateway/internal/metrics"
)

// Metrics records one gateway_requests_total/gateway_request_duration_seconds
// observation per request against collector, keyed by path and method, and
// tracks in-flight requests via gateway_active_requests.
func Metrics(collector *metrics.Collector) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := r.URL.Path
			collector.RecordActiveRequest(route, 1)
			defer collector.RecordActiveRequest(route, -1)

			start := time.Now()
			mrw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(mrw, r)

			collector.RecordRequest(route, r.Method, mrw.status, time.Since(start))
		})
	}
}

type metricsResponseWriter struct {
	http.ResponseWriter
	status int
}

func (mrw *metricsResponseWriter) WriteHeader(status int) {
	mrw.status = status
	mrw.ResponseWriter.WriteHeader(status)
}

func (mrw *metricsResponseWriter) Flush() {
	if f, ok := mrw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
