// Package ratelimit enforces the per-route, per-client-IP request caps
// declared on an EndpointDescriptor's rateLimit field, counted in Redis so
// the limit holds across every gateway instance sharing the same store.
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wudi/gateway/internal/byroute"
	"github.com/wudi/gateway/internal/config"
	gatewayerrors "github.com/wudi/gateway/internal/errors"
	"github.com/wudi/gateway/internal/logging"
	"github.com/wudi/gateway/internal/middleware"
)

// slidingWindowScript counts requests in a trailing window using a Redis
// sorted set keyed by timestamp. Returns [allowed (0/1), remaining, resetTimestampMs].
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, now .. '-' .. math.random(1000000))
    redis.call('PEXPIRE', key, window)
    return {1, limit - count - 1, now + window}
else
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local reset = now + window
    if #oldest >= 2 then
        reset = tonumber(oldest[2]) + window
    end
    return {0, 0, reset}
end
`)

// Limiter enforces a route's perMinute and perHour caps, each tracked as
// an independent sliding window. A zero cap means that window is
// unlimited.
type Limiter struct {
	client    *redis.Client
	keyPrefix string
	perMinute int
	perHour   int
}

// NewLimiter creates a Limiter for one route. routeID seeds the Redis key
// namespace so routes never share counters.
func NewLimiter(client *redis.Client, routeID string, cfg config.RateLimit) *Limiter {
	return &Limiter{
		client:    client,
		keyPrefix: "gw:ratelimit:" + routeID + ":",
		perMinute: cfg.PerMinute,
		perHour:   cfg.PerHour,
	}
}

// windowResult is the outcome of checking one sliding window.
type windowResult struct {
	allowed   bool
	remaining int
	resetAt   time.Time
}

// checkWindow evaluates a single cap against a single window duration.
// On Redis failure it fails open: the request is allowed and the error
// is logged, since a rate limiter unavailable is not a reason to reject
// all traffic.
func (l *Limiter) checkWindow(ctx context.Context, suffix string, cap int, window time.Duration, clientIP string) windowResult {
	if cap <= 0 {
		return windowResult{allowed: true, remaining: -1}
	}

	key := l.keyPrefix + suffix + ":" + clientIP
	rctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	nowMs := time.Now().UnixMilli()
	windowMs := window.Milliseconds()

	result, err := slidingWindowScript.Run(rctx, l.client, []string{key}, nowMs, windowMs, cap).Int64Slice()
	if err != nil {
		logging.Warn("rate limit check unavailable, failing open", zap.Error(err), zap.String("key", key))
		return windowResult{allowed: true, remaining: -1}
	}

	return windowResult{
		allowed:   result[0] == 1,
		remaining: int(result[1]),
		resetAt:   time.UnixMilli(result[2]),
	}
}

// Allow checks both the perMinute and perHour caps for clientIP,
// returning the more restrictive outcome.
func (l *Limiter) Allow(ctx context.Context, clientIP string) (allowed bool, remaining int, resetAt time.Time) {
	minuteResult := l.checkWindow(ctx, "m", l.perMinute, time.Minute, clientIP)
	if !minuteResult.allowed {
		return false, 0, minuteResult.resetAt
	}

	hourResult := l.checkWindow(ctx, "h", l.perHour, time.Hour, clientIP)
	if !hourResult.allowed {
		return false, 0, hourResult.resetAt
	}

	remaining = minuteResult.remaining
	if hourResult.remaining >= 0 && (remaining < 0 || hourResult.remaining < remaining) {
		remaining = hourResult.remaining
	}
	resetAt = minuteResult.resetAt
	return true, remaining, resetAt
}

// Middleware wraps next with this route's rate limit check.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := middleware.ExtractClientIP(r)
		allowed, remaining, resetAt := l.Allow(r.Context(), clientIP)

		if remaining >= 0 {
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		}
		if !resetAt.IsZero() {
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
		}

		if !allowed {
			retryAfter := int(time.Until(resetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			gatewayerrors.RateLimitError("rate limit exceeded").WriteJSON(w)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RateLimitByRoute holds one Limiter per route that has a rateLimit
// configured. Routes with no cap (perMinute and perHour both zero) get
// no entry, so the chain skips the stage entirely.
type RateLimitByRoute struct {
	byroute.Manager[*Limiter]
	client *redis.Client
}

// NewRateLimitByRoute creates a route-keyed rate limiter manager backed
// by a shared Redis client.
func NewRateLimitByRoute(client *redis.Client) *RateLimitByRoute {
	return &RateLimitByRoute{client: client}
}

// AddRoute installs a Limiter for routeID, unless the descriptor leaves
// both caps at zero.
func (rl *RateLimitByRoute) AddRoute(routeID string, cfg config.RateLimit) {
	if cfg.PerMinute <= 0 && cfg.PerHour <= 0 {
		return
	}
	rl.Add(routeID, NewLimiter(rl.client, routeID, cfg))
}

// Middleware returns the rate limit stage for a route, or nil if the
// route has no limiter installed (meaning: unlimited).
func (rl *RateLimitByRoute) Middleware(routeID string) func(http.Handler) http.Handler {
	l, ok := rl.Get(routeID)
	if !ok {
		return nil
	}
	return l.Middleware
}
