// Package monitoring - metrics.go provides simple counters.
//
// DESIGN: Lightweight in-memory counters for operational metrics:
//   - scans/completions: total and completed analysis counts
//   - rejections:        credit and plan-limit rejections
//   - commits/refunds:   settlement outcomes
//   - chunks/bytes:      relay volume
//
// For production, export these to Prometheus or similar.
package monitoring

import (
	"sync/atomic"
	"time"
)

// MetricsCollector collects operational metrics.
type MetricsCollector struct {
	startedAt time.Time

	scans       atomic.Int64
	completions atomic.Int64
	rejections  atomic.Int64

	commits         atomic.Int64
	refunds         atomic.Int64
	inconsistencies atomic.Int64

	chunksRelayed atomic.Int64
	bytesRelayed  atomic.Int64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{startedAt: time.Now()}
}

// RecordScan records an accepted analysis request and, later, whether it
// completed.
func (mc *MetricsCollector) RecordScan(completed bool) {
	mc.scans.Add(1)
	if completed {
		mc.completions.Add(1)
	}
}

// RecordRejection records a request refused before any reservation was made.
func (mc *MetricsCollector) RecordRejection() { mc.rejections.Add(1) }

// RecordCommit records a committed reservation.
func (mc *MetricsCollector) RecordCommit() { mc.commits.Add(1) }

// RecordRefund records a refunded reservation.
func (mc *MetricsCollector) RecordRefund() { mc.refunds.Add(1) }

// RecordInconsistency records a settlement that needs manual reconciliation.
func (mc *MetricsCollector) RecordInconsistency() { mc.inconsistencies.Add(1) }

// RecordRelay records delivered chunk volume.
func (mc *MetricsCollector) RecordRelay(chunks int, bytes int64) {
	mc.chunksRelayed.Add(int64(chunks))
	mc.bytesRelayed.Add(bytes)
}

// Stats is a point-in-time metrics snapshot.
type Stats struct {
	UptimeSeconds   int64 `json:"uptime_seconds"`
	Scans           int64 `json:"scans"`
	Completions     int64 `json:"completions"`
	Rejections      int64 `json:"rejections"`
	Commits         int64 `json:"commits"`
	Refunds         int64 `json:"refunds"`
	Inconsistencies int64 `json:"inconsistencies"`
	ChunksRelayed   int64 `json:"chunks_relayed"`
	BytesRelayed    int64 `json:"bytes_relayed"`
}

// Snapshot returns the current counter values.
func (mc *MetricsCollector) Snapshot() Stats {
	return Stats{
		UptimeSeconds:   int64(time.Since(mc.startedAt).Seconds()),
		Scans:           mc.scans.Load(),
		Completions:     mc.completions.Load(),
		Rejections:      mc.rejections.Load(),
		Commits:         mc.commits.Load(),
		Refunds:         mc.refunds.Load(),
		Inconsistencies: mc.inconsistencies.Load(),
		ChunksRelayed:   mc.chunksRelayed.Load(),
		BytesRelayed:    mc.bytesRelayed.Load(),
	}
}
