package vdbgo

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational
// metrics. Implement this interface to integrate with monitoring systems
// like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    rasterizeCounter   prometheus.Counter
//	    rasterizeHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordRasterize(points int, duration time.Duration, err error) {
//	    p.rasterizeCounter.Inc()
//	    // ... record error state, duration, etc.
//	}
type MetricsCollector interface {
	// RecordRasterize is called after each rasterization pass.
	// points is the number of source points, duration the total time
	// taken, err nil if successful.
	RecordRasterize(points int, duration time.Duration, err error)

	// RecordMove is called after each point-move pass.
	RecordMove(points int, duration time.Duration, err error)

	// RecordMerge is called after each point-grid merge.
	RecordMerge(points int, duration time.Duration, err error)

	// RecordPrune is called after each prune pass.
	RecordPrune(duration time.Duration)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordRasterize(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordMove(int, time.Duration, error)      {}
func (NoopMetricsCollector) RecordMerge(int, time.Duration, error)     {}
func (NoopMetricsCollector) RecordPrune(time.Duration)                 {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	RasterizeCount      atomic.Int64
	RasterizeErrors     atomic.Int64
	RasterizePoints     atomic.Int64
	RasterizeTotalNanos atomic.Int64
	MoveCount           atomic.Int64
	MoveErrors          atomic.Int64
	MovePoints          atomic.Int64
	MoveTotalNanos      atomic.Int64
	MergeCount          atomic.Int64
	MergeErrors         atomic.Int64
	MergePoints         atomic.Int64
	PruneCount          atomic.Int64
	PruneTotalNanos     atomic.Int64
}

// RecordRasterize implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRasterize(points int, duration time.Duration, err error) {
	b.RasterizeCount.Add(1)
	b.RasterizePoints.Add(int64(points))
	b.RasterizeTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.RasterizeErrors.Add(1)
	}
}

// RecordMove implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMove(points int, duration time.Duration, err error) {
	b.MoveCount.Add(1)
	b.MovePoints.Add(int64(points))
	b.MoveTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.MoveErrors.Add(1)
	}
}

// RecordMerge implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMerge(points int, duration time.Duration, err error) {
	b.MergeCount.Add(1)
	b.MergePoints.Add(int64(points))
	if err != nil {
		b.MergeErrors.Add(1)
	}
}

// RecordPrune implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPrune(duration time.Duration) {
	b.PruneCount.Add(1)
	b.PruneTotalNanos.Add(duration.Nanoseconds())
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		RasterizeCount:    b.RasterizeCount.Load(),
		RasterizeErrors:   b.RasterizeErrors.Load(),
		RasterizePoints:   b.RasterizePoints.Load(),
		RasterizeAvgNanos: avg(b.RasterizeTotalNanos.Load(), b.RasterizeCount.Load()),
		MoveCount:         b.MoveCount.Load(),
		MoveErrors:        b.MoveErrors.Load(),
		MovePoints:        b.MovePoints.Load(),
		MoveAvgNanos:      avg(b.MoveTotalNanos.Load(), b.MoveCount.Load()),
		MergeCount:        b.MergeCount.Load(),
		MergeErrors:       b.MergeErrors.Load(),
		MergePoints:       b.MergePoints.Load(),
		PruneCount:        b.PruneCount.Load(),
		PruneAvgNanos:     avg(b.PruneTotalNanos.Load(), b.PruneCount.Load()),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	RasterizeCount    int64
	RasterizeErrors   int64
	RasterizePoints   int64
	RasterizeAvgNanos int64
	MoveCount         int64
	MoveErrors        int64
	MovePoints        int64
	MoveAvgNanos      int64
	MergeCount        int64
	MergeErrors       int64
	MergePoints       int64
	PruneCount        int64
	PruneAvgNanos     int64
}
