// Package stats tracks the counters behind the dashboard `stats` snapshot
// (spec.md §4.7), grounded on odin-ws-server's internal/metrics/metrics.go
// counter-and-snapshot shape, narrowed to the plain map/int64 fields a
// single-owner goroutine needs (no atomics, no Prometheus vectors here —
// those live in internal/metrics for the /metrics surface).
package stats

import "time"

// Aggregator accumulates data-point counters and renders stats snapshots.
// All methods are called only from the single core goroutine.
type Aggregator struct {
	startedAt            time.Time
	totalDataPoints      int64
	dataPointsThisMinute int64
	dataPointsLastMinute int64
}

func New(now time.Time) *Aggregator {
	return &Aggregator{startedAt: now}
}

// RecordDataPoint increments both the lifetime and current-minute counters.
// Called once per accepted `data` frame (internal/arbiter.HandleData
// returning true).
func (a *Aggregator) RecordDataPoint() {
	a.totalDataPoints++
	a.dataPointsThisMinute++
}

// RollMinute is called by the per-minute rate-reset ticker (spec.md §9 open
// question #4: independent of the status-log ticker, may drift against
// it). It freezes the just-completed minute's count and starts a new one.
func (a *Aggregator) RollMinute() {
	a.dataPointsLastMinute = a.dataPointsThisMinute
	a.dataPointsThisMinute = 0
}

func (a *Aggregator) TotalDataPoints() int64      { return a.totalDataPoints }
func (a *Aggregator) DataPointsLastMinute() int64 { return a.dataPointsLastMinute }
func (a *Aggregator) UptimeSeconds(now time.Time) float64 {
	return now.Sub(a.startedAt).Seconds()
}
