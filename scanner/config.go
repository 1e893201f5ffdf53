package scanner

import (
	"time"

	"go.uber.org/zap"

	"github.com/hedeqiang/tally/metrics"
	"github.com/hedeqiang/tally/retry"
)

// Config holds the window and retry settings of a Scanner.
type Config struct {
	// WindowSize is the initial window span. A window covers
	// [cursor, cursor+WindowSize] clamped to the scan end.
	WindowSize uint64

	// MinWindow is the floor for shrinking on range-too-large errors.
	// At the floor the scanner queries block by block.
	MinWindow uint64

	// ErrorFloor is the floor for shrinking on unclassified errors.
	// At the floor such errors are fatal.
	ErrorFloor uint64

	// RateLimitRetries is the rate-limit retry budget for one scan.
	// A negative value disables retries.
	RateLimitRetries int

	// RateLimitBackoff is the pause before retrying a throttled window.
	// A negative value retries without pausing.
	RateLimitBackoff time.Duration
}

// DefaultConfig returns the default scanner settings.
func DefaultConfig() Config {
	return Config{
		WindowSize:       1000,
		MinWindow:        100,
		ErrorFloor:       200,
		RateLimitRetries: 3,
		RateLimitBackoff: 15 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WindowSize == 0 {
		c.WindowSize = d.WindowSize
	}
	if c.MinWindow == 0 {
		c.MinWindow = d.MinWindow
	}
	if c.ErrorFloor == 0 {
		c.ErrorFloor = d.ErrorFloor
	}
	switch {
	case c.RateLimitRetries == 0:
		c.RateLimitRetries = d.RateLimitRetries
	case c.RateLimitRetries < 0:
		c.RateLimitRetries = 0
	}
	switch {
	case c.RateLimitBackoff == 0:
		c.RateLimitBackoff = d.RateLimitBackoff
	case c.RateLimitBackoff < 0:
		c.RateLimitBackoff = 0
	}
	return c
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the scanner's logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scanner) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the collector scan counters are recorded on.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Scanner) {
		s.metrics = c
	}
}

// WithSleep replaces the rate-limit backoff sleep.
func WithSleep(fn retry.SleepFunc) Option {
	return func(s *Scanner) {
		if fn != nil {
			s.sleep = fn
		}
	}
}
