// Package metrics exposes gateway-wide Prometheus metrics: request
// volume/latency, cache hit rate, rule-engine activity, plugin load
// state, event-log queue health, proxy circuit-breaker state, and admin
// command counters.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns one registry and every metric the gateway records
// against it. A process constructs exactly one Collector and shares it
// across the request path and the proxy; the plugin manager and the
// event-log queue do not take one.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDurations *prometheus.HistogramVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	retryTotal  *prometheus.CounterVec

	activeRequests    *prometheus.GaugeVec
	rateLimitRejects  *prometheus.CounterVec

	circuitBreakerState *prometheus.GaugeVec
	backendHealth       *prometheus.GaugeVec

	ruleEvalTotal *prometheus.CounterVec
	ruleSkipTotal *prometheus.CounterVec

	pluginLoaded   *prometheus.GaugeVec
	pluginLoadFail prometheus.Counter

	queueDepth   prometheus.Gauge
	queueDropped prometheus.Counter

	adminCommandsTotal *prometheus.CounterVec
}

// DefaultBuckets are the request-duration histogram buckets, in seconds.
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}

// NewCollector creates a Collector and registers every metric against its
// own registry, so a process can expose /metrics without pulling in
// unrelated collectors registered against prometheus.DefaultRegisterer.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of requests",
		}, []string{"route", "method", "status"}),
		requestDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: DefaultBuckets,
		}, []string{"route"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_cache_hits_total",
			Help: "Total cache hits",
		}, []string{"route"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_cache_misses_total",
			Help: "Total cache misses",
		}, []string{"route"}),
		retryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_retry_total",
			Help: "Total retry attempts",
		}, []string{"route"}),
		activeRequests: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_active_requests",
			Help: "Requests currently in flight",
		}, []string{"route"}),
		rateLimitRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_rate_limit_rejects_total",
			Help: "Total requests rejected by the rate limiter",
		}, []string{"route"}),
		circuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half_open, 2=open)",
		}, []string{"route"}),
		backendHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_backend_health",
			Help: "Backend health (0=unhealthy, 1=healthy)",
		}, []string{"route", "backend"}),
		ruleEvalTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_rule_evaluations_total",
			Help: "Total rule-engine evaluation passes",
		}, []string{"route", "direction"}),
		ruleSkipTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_rule_skips_total",
			Help: "Total rules skipped by override/precondition",
		}, []string{"route", "reason"}),
		pluginLoaded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_plugin_loaded",
			Help: "Plugin load state (1=loaded, 0=unloaded)",
		}, []string{"plugin"}),
		pluginLoadFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_plugin_load_failures_total",
			Help: "Total plugin load failures",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_eventlog_queue_depth",
			Help: "Current depth of the event logger queue",
		}),
		queueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_eventlog_dropped_total",
			Help: "Total event-log entries dropped by the flusher",
		}),
		adminCommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_admin_commands_total",
			Help: "Total admin control-plane commands executed",
		}, []string{"command"}),
	}

	reg.MustRegister(
		c.requestsTotal, c.requestDurations,
		c.cacheHits, c.cacheMisses, c.retryTotal,
		c.activeRequests, c.rateLimitRejects,
		c.circuitBreakerState, c.backendHealth,
		c.ruleEvalTotal, c.ruleSkipTotal,
		c.pluginLoaded, c.pluginLoadFail,
		c.queueDepth, c.queueDropped,
		c.adminCommandsTotal,
	)
	return c
}

// Handler returns the HTTP handler that serves this Collector's registry
// in Prometheus text exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordRequest records a completed request's route, method, status and
// latency.
func (c *Collector) RecordRequest(route, method string, statusCode int, duration time.Duration) {
	c.requestsTotal.WithLabelValues(route, method, itoa(statusCode)).Inc()
	c.requestDurations.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordActiveRequest adjusts the in-flight request gauge for route by delta
// (+1 on request start, -1 on completion).
func (c *Collector) RecordActiveRequest(route string, delta float64) {
	c.activeRequests.WithLabelValues(route).Add(delta)
}

// RecordRateLimitReject records a request rejected by the rate limiter.
func (c *Collector) RecordRateLimitReject(route string) {
	c.rateLimitRejects.WithLabelValues(route).Inc()
}

// RecordCacheHit records a cache hit for route.
func (c *Collector) RecordCacheHit(route string) {
	c.cacheHits.WithLabelValues(route).Inc()
}

// RecordCacheMiss records a cache miss for route.
func (c *Collector) RecordCacheMiss(route string) {
	c.cacheMisses.WithLabelValues(route).Inc()
}

// RecordRetry records a retry attempt against a proxy route's upstream.
func (c *Collector) RecordRetry(route string) {
	c.retryTotal.WithLabelValues(route).Inc()
}

// SetCircuitBreakerState records a proxy route's circuit breaker state
// (gobreaker.Closed=0, HalfOpen=1, Open=2).
func (c *Collector) SetCircuitBreakerState(route string, state int) {
	c.circuitBreakerState.WithLabelValues(route).Set(float64(state))
}

// SetBackendHealth records whether a named backend behind route is
// currently considered healthy.
func (c *Collector) SetBackendHealth(route, backend string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	c.backendHealth.WithLabelValues(route, backend).Set(v)
}

// RecordRuleEval records a rule-engine evaluation pass for a route/direction
// pair ("inbound" or "outbound").
func (c *Collector) RecordRuleEval(route, direction string) {
	c.ruleEvalTotal.WithLabelValues(route, direction).Inc()
}

// RecordRuleSkip records a rule skipped due to an override or unmet
// precondition.
func (c *Collector) RecordRuleSkip(route, reason string) {
	c.ruleSkipTotal.WithLabelValues(route, reason).Inc()
}

// SetPluginLoaded records the current load state of a plugin by name.
func (c *Collector) SetPluginLoaded(name string, loaded bool) {
	v := 0.0
	if loaded {
		v = 1.0
	}
	c.pluginLoaded.WithLabelValues(name).Set(v)
}

// RecordPluginLoadFailure increments the plugin load failure counter.
func (c *Collector) RecordPluginLoadFailure() {
	c.pluginLoadFail.Inc()
}

// SetQueueDepth records the current depth of the event logger queue.
func (c *Collector) SetQueueDepth(depth int64) {
	c.queueDepth.Set(float64(depth))
}

// RecordQueueDropped adds n to the count of dropped event-log entries
// (see the at-most-once decision in DESIGN.md). internal/eventlog does
// not call it.
func (c *Collector) RecordQueueDropped(n int64) {
	c.queueDropped.Add(float64(n))
}

// RecordAdminCommand records an admin control-plane command invocation.
func (c *Collector) RecordAdminCommand(cmd string) {
	c.adminCommandsTotal.WithLabelValues(cmd).Inc()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
