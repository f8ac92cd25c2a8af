package middleware

import (
	"bufio"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/gateway/internal/logging"
	"github.com/wudi/gateway/internal/sharedctx"
)

// LoggingConfig configures the request logging middleware.
type LoggingConfig struct {
	// SkipPaths are paths that should not be logged (e.g. health checks).
	SkipPaths []string
}

// DefaultLoggingConfig provides default logging settings.
var DefaultLoggingConfig = LoggingConfig{}

// Logging creates a request logging middleware with default config. It
// captures start, wraps the response writer for status/byte counting,
// and emits one structured log line per request through the package's
// global zap logger.
func Logging() Middleware {
	return LoggingWithConfig(DefaultLoggingConfig)
}

// LoggingWithConfig creates a request logging middleware with custom config.
func LoggingWithConfig(cfg LoggingConfig) Middleware {
	skipPaths := make(map[string]bool, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skipPaths[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(lrw, r)

			duration := time.Since(start)
			requestID := GetRequestID(r)
			var identity *sharedctx.Identity
			if rc, ok := sharedctx.FromContext(r.Context()); ok {
				identity = rc.Identity
			}

			fields := []zap.Field{
				zap.String("request_id", requestID),
				zap.String("remote_addr", ExtractClientIP(r)),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", lrw.status),
				zap.Int64("body_bytes", lrw.bytes),
				zap.Duration("response_time", duration),
			}
			if identity != nil {
				fields = append(fields, zap.String("subject", identity.Subject))
			}
			logging.Info("request", fields...)
		})
	}
}

// loggingResponseWriter wraps http.ResponseWriter to capture status and bytes.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (lrw *loggingResponseWriter) WriteHeader(status int) {
	lrw.status = status
	lrw.ResponseWriter.WriteHeader(status)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	n, err := lrw.ResponseWriter.Write(b)
	lrw.bytes += int64(n)
	return n, err
}

// Flush implements http.Flusher.
func (lrw *loggingResponseWriter) Flush() {
	if f, ok := lrw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := lrw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// Status returns the recorded status code.
func (lrw *loggingResponseWriter) Status() int {
	return lrw.status
}

// BytesWritten returns the number of bytes written.
func (lrw *loggingResponseWriter) BytesWritten() int64 {
	return lrw.bytes
}
