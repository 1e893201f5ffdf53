package middleware

import (
	"sync/atomic"

	"github.com/hedeqiang/tally/event"
	"github.com/hedeqiang/tally/metrics"
)

// Metrics counts purchases that reach it and mirrors kept ones to a collector.
type Metrics struct {
	collector *metrics.Collector
	processed atomic.Uint64
	dropped   atomic.Uint64
}

// NewMetrics creates a metrics middleware. The collector may be nil.
func NewMetrics(c *metrics.Collector) *Metrics {
	return &Metrics{collector: c}
}

// Wrap decorates the handler with metrics collection.
func (m *Metrics) Wrap(next Handler) Handler {
	return func(p event.Purchase) *event.Purchase {
		result := next(p)
		if result != nil {
			m.processed.Add(1)
			m.collector.Purchase(result.Source)
		} else {
			m.dropped.Add(1)
		}
		return result
	}
}

// Processed returns the number of purchases kept downstream.
func (m *Metrics) Processed() uint64 {
	return m.processed.Load()
}

// Dropped returns the number of purchases dropped downstream.
func (m *Metrics) Dropped() uint64 {
	return m.dropped.Load()
}
