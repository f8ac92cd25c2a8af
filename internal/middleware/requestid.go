package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/wudi/gateway/internal/sharedctx"
)

func init() {
	// Batch crypto/rand reads into a pool to avoid a syscall per UUID.
	uuid.EnableRandPool()
}

// RequestIDConfig configures the request ID middleware.
type RequestIDConfig struct {
	Header      string
	Generator   func() string
	TrustHeader bool
}

// DefaultRequestIDConfig provides default request ID settings.
var DefaultRequestIDConfig = RequestIDConfig{
	Header:      "X-Request-ID",
	Generator:   defaultIDGenerator,
	TrustHeader: true,
}

func defaultIDGenerator() string {
	return uuid.New().String()
}

// RequestID creates a request ID middleware with default config. It is
// the first stage of the chain: it stamps request/response headers and
// seeds the sharedctx.RequestContext every later stage reads from.
func RequestID() Middleware {
	return RequestIDWithConfig(DefaultRequestIDConfig)
}

// RequestIDWithConfig creates a request ID middleware with custom config.
func RequestIDWithConfig(cfg RequestIDConfig) Middleware {
	if cfg.Header == "" {
		cfg.Header = "X-Request-ID"
	}
	if cfg.Generator == nil {
		cfg.Generator = defaultIDGenerator
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var requestID string
			if cfg.TrustHeader {
				requestID = r.Header.Get(cfg.Header)
			}
			if requestID == "" {
				requestID = cfg.Generator()
			}

			r.Header.Set(cfg.Header, requestID)
			w.Header().Set(cfg.Header, requestID)

			rc := sharedctx.NewRequestContext(requestID, r.URL.Path)
			next.ServeHTTP(w, sharedctx.WithRequestContext(r, rc))
		})
	}
}

// GetRequestID extracts the request ID from the request context.
func GetRequestID(r *http.Request) string {
	if rc, ok := sharedctx.FromContext(r.Context()); ok {
		return rc.RequestID
	}
	return ""
}

type requestIDKey struct{}

// WithRequestID adds a request ID to the context directly, for callers
// that build requests outside the HTTP middleware chain.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	if rc, ok := sharedctx.FromContext(ctx); ok {
		return rc.RequestID
	}
	return ""
}
