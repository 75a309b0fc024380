package tensordb

import (
	"sync/atomic"
	"time"

	"github.com/hupe1980/tensordb/definition"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordAction is called after each dispatched action.
	// duration is the total time taken, err is nil if successful.
	RecordAction(action definition.Action, duration time.Duration, err error)

	// RecordWrite is called after a write was materialized.
	// rewrite reports whether the whole tensor was rewritten.
	RecordWrite(chunks int, bytes int64, rewrite bool)

	// RecordFormula is called after a formula was parsed and its
	// references resolved.
	RecordFormula(refs int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAction(definition.Action, time.Duration, error) {}
func (NoopMetricsCollector) RecordWrite(int, int64, bool)                         {}
func (NoopMetricsCollector) RecordFormula(int, time.Duration, error)              {}

// BasicMetricsCollector provides simple in-memory metrics collection.
type BasicMetricsCollector struct {
	ActionCount      atomic.Int64
	ActionErrors     atomic.Int64
	ActionTotalNanos atomic.Int64
	WriteCount       atomic.Int64
	RewriteCount     atomic.Int64
	ChunksWritten    atomic.Int64
	BytesWritten     atomic.Int64
	FormulaCount     atomic.Int64
	FormulaErrors    atomic.Int64
}

// RecordAction implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAction(_ definition.Action, duration time.Duration, err error) {
	b.ActionCount.Add(1)
	b.ActionTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.ActionErrors.Add(1)
	}
}

// RecordWrite implements MetricsCollector.
func (b *BasicMetricsCollector) RecordWrite(chunks int, bytes int64, rewrite bool) {
	b.WriteCount.Add(1)
	b.ChunksWritten.Add(int64(chunks))
	b.BytesWritten.Add(bytes)
	if rewrite {
		b.RewriteCount.Add(1)
	}
}

// RecordFormula implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFormula(_ int, _ time.Duration, err error) {
	b.FormulaCount.Add(1)
	if err != nil {
		b.FormulaErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		ActionCount:    b.ActionCount.Load(),
		ActionErrors:   b.ActionErrors.Load(),
		ActionAvgNanos: b.getAvgActionNanos(),
		WriteCount:     b.WriteCount.Load(),
		RewriteCount:   b.RewriteCount.Load(),
		ChunksWritten:  b.ChunksWritten.Load(),
		BytesWritten:   b.BytesWritten.Load(),
		FormulaCount:   b.FormulaCount.Load(),
		FormulaErrors:  b.FormulaErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgActionNanos() int64 {
	count := b.ActionCount.Load()
	if count == 0 {
		return 0
	}
	return b.ActionTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	ActionCount    int64
	ActionErrors   int64
	ActionAvgNanos int64
	WriteCount     int64
	RewriteCount   int64
	ChunksWritten  int64
	BytesWritten   int64
	FormulaCount   int64
	FormulaErrors  int64
}
