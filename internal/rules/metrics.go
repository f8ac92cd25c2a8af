package rules

import "sync/atomic"

// Metrics tracks rule evaluation statistics with atomic counters.
type Metrics struct {
	Evaluated atomic.Int64
	Matched   atomic.Int64
	Errors    atomic.Int64
	Inserts   atomic.Int64
	Updates   atomic.Int64
	Triggers  atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of Metrics for JSON serialization.
type MetricsSnapshot struct {
	Evaluated int64 `json:"evaluated"`
	Matched   int64 `json:"matched"`
	Errors    int64 `json:"errors"`
	Inserts   int64 `json:"inserts"`
	Updates   int64 `json:"updates"`
	Triggers  int64 `json:"triggers"`
}

// Snapshot returns a point-in-time copy of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Evaluated: m.Evaluated.Load(),
		Matched:   m.Matched.Load(),
		Errors:    m.Errors.Load(),
		Inserts:   m.Inserts.Load(),
		Updates:   m.Updates.Load(),
		Triggers:  m.Triggers.Load(),
	}
}
