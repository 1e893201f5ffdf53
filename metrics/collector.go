// Package metrics exposes scan counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Window outcomes.
const (
	OutcomeOK            = "ok"
	OutcomeRateLimited   = "rate_limited"
	OutcomeRangeTooLarge = "range_too_large"
	OutcomeError         = "error"
	OutcomePerBlock      = "per_block"
)

// Collector holds the scan counters. A nil *Collector is valid and records nothing.
type Collector struct {
	Windows       *prometheus.CounterVec
	RateLimited   prometheus.Counter
	Shrinks       prometheus.Counter
	BlocksSkipped prometheus.Counter
	Purchases     *prometheus.CounterVec
	DecodeSkipped *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec
}

var _ prometheus.Collector = (*Collector)(nil)

// New creates an unregistered Collector.
func New() *Collector {
	return &Collector{
		Windows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_scan_windows_total",
			Help: "Log windows requested from the primary source, by outcome.",
		}, []string{"outcome"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tally_rate_limited_total",
			Help: "Rate-limit responses received from the primary source.",
		}),
		Shrinks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tally_window_shrinks_total",
			Help: "Times the scan window was halved.",
		}),
		BlocksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tally_blocks_skipped_total",
			Help: "Blocks skipped during per-block fallback scanning.",
		}),
		Purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_purchases_total",
			Help: "Purchases reconstructed, by source.",
		}, []string{"source"}),
		DecodeSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_decode_skipped_total",
			Help: "Logs skipped because they could not be decoded, by source.",
		}, []string{"source"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tally_fetch_duration_seconds",
			Help:    "Latency of log fetches, by source.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.all() {
		m.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, m := range c.all() {
		m.Collect(ch)
	}
}

func (c *Collector) all() []prometheus.Collector {
	return []prometheus.Collector{
		c.Windows, c.RateLimited, c.Shrinks, c.BlocksSkipped,
		c.Purchases, c.DecodeSkipped, c.FetchDuration,
	}
}

// Window records one window request outcome.
func (c *Collector) Window(outcome string) {
	if c == nil {
		return
	}
	c.Windows.WithLabelValues(outcome).Inc()
}

// RateLimit records a throttled request.
func (c *Collector) RateLimit() {
	if c == nil {
		return
	}
	c.RateLimited.Inc()
}

// Shrink records a window halving.
func (c *Collector) Shrink() {
	if c == nil {
		return
	}
	c.Shrinks.Inc()
}

// SkipBlock records a block given up on during per-block scanning.
func (c *Collector) SkipBlock() {
	if c == nil {
		return
	}
	c.BlocksSkipped.Inc()
}

// Purchase records a reconstructed purchase.
func (c *Collector) Purchase(source string) {
	if c == nil {
		return
	}
	c.Purchases.WithLabelValues(source).Inc()
}

// DecodeSkip records an undecodable log.
func (c *Collector) DecodeSkip(source string) {
	if c == nil {
		return
	}
	c.DecodeSkipped.WithLabelValues(source).Inc()
}

// ObserveFetch records the latency of one fetch started at start.
func (c *Collector) ObserveFetch(source string, start time.Time) {
	if c == nil {
		return
	}
	c.FetchDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
}
