package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/wudi/gateway/internal/middleware"
)

// RequestLogEntry is the per-request outcome recorded by RequestLog,
// the payload the admin "requestLog <id>" command returns.
type RequestLogEntry struct {
	RequestID  string    `json:"requestId"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Status     int       `json:"status"`
	DurationMs int64     `json:"durationMs"`
	StartedAt  time.Time `json:"startedAt"`
}

// RequestLog is a bounded in-memory record of recent request outcomes,
// keyed by request ID, backing admin.RequestLogLookup. It sits outside
// the structured zap logging middleware.Logging installs since that one
// writes a log line, not something a later admin command can look back
// up by ID.
type RequestLog struct {
	cache *lru.Cache[string, RequestLogEntry]
}

// NewRequestLog creates a RequestLog retaining at most size recent
// entries, evicting the least recently touched on overflow.
func NewRequestLog(size int) *RequestLog {
	if size <= 0 {
		size = 1000
	}
	c, _ := lru.New[string, RequestLogEntry](size)
	return &RequestLog{cache: c}
}

// Middleware records each request's outcome under its request ID. It
// must run after middleware.RequestID so GetRequestID resolves.
func (rl *RequestLog) Middleware() middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			id := middleware.GetRequestID(r)
			if id == "" {
				return
			}
			rl.cache.Add(id, RequestLogEntry{
				RequestID:  id,
				Method:     r.Method,
				Path:       r.URL.Path,
				Status:     rec.status,
				DurationMs: time.Since(start).Milliseconds(),
				StartedAt:  start,
			})
		})
	}
}

// RequestLog implements admin.RequestLogLookup, returning the recorded
// entry for id as JSON.
func (rl *RequestLog) RequestLog(id string) (string, bool) {
	entry, ok := rl.cache.Get(id)
	if !ok {
		return "", false
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return "", false
	}
	return string(data), true
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
