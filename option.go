package tally

import (
	"go.uber.org/zap"

	"github.com/hedeqiang/tally/chain"
	"github.com/hedeqiang/tally/contract"
	"github.com/hedeqiang/tally/decoder"
	"github.com/hedeqiang/tally/metrics"
	"github.com/hedeqiang/tally/retry"
	"github.com/hedeqiang/tally/scanner"
	"github.com/hedeqiang/tally/store"
)

// Option configures an Engine.
type Option func(*Engine)

// WithPrimary sets the node the scan reads from first. A source that also
// implements chain.Caller is used for contract reads.
func WithPrimary(src chain.Source) Option {
	return func(e *Engine) {
		e.primary = src
	}
}

// WithFallback sets the explorer used when the primary source cannot
// produce a result.
func WithFallback(f Fallback) Option {
	return func(e *Engine) {
		e.fallback = f
	}
}

// WithCaller sets the contract reader, overriding the primary source.
func WithCaller(c chain.Caller) Option {
	return func(e *Engine) {
		e.caller = c
	}
}

// WithDecoder replaces the primary source's purchase decoder.
func WithDecoder(d decoder.PurchaseDecoder) Option {
	return func(e *Engine) {
		e.decoder = d
	}
}

// WithEventSignature sets the purchase event signature.
func WithEventSignature(sig string) Option {
	return func(e *Engine) {
		e.config.EventSignature = sig
	}
}

// WithABI decodes purchases with the purchase event of a JSON ABI.
func WithABI(data []byte) Option {
	return func(e *Engine) {
		e.config.ABI = data
	}
}

// WithScannerConfig overrides the scanner configuration.
func WithScannerConfig(cfg scanner.Config) Option {
	return func(e *Engine) {
		e.config.Scanner = cfg
	}
}

// WithWindowSize sets the scanner's initial window size.
func WithWindowSize(n uint64) Option {
	return func(e *Engine) {
		e.config.Scanner.WindowSize = n
	}
}

// WithCapabilities sets the presale methods the contract offers.
func WithCapabilities(c contract.Capabilities) Option {
	return func(e *Engine) {
		e.config.Capabilities = c
	}
}

// WithStartMargin sets the blocks subtracted from a located start block.
func WithStartMargin(n uint64) Option {
	return func(e *Engine) {
		e.config.StartMargin = n
	}
}

// WithDefaultSpan sets how far back from head a run starts when the start
// block cannot be located.
func WithDefaultSpan(n uint64) Option {
	return func(e *Engine) {
		e.config.DefaultSpan = n
	}
}

// WithResolveTimestamps enables block time resolution.
func WithResolveTimestamps(on bool) Option {
	return func(e *Engine) {
		e.config.ResolveTimestamps = on
	}
}

// WithSink sets where finished runs are saved.
func WithSink(s store.Sink) Option {
	return func(e *Engine) {
		e.sink = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetrics sets the prometheus collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) {
		e.metrics = c
	}
}

// WithSleep replaces the sleep used between retries.
func WithSleep(fn retry.SleepFunc) Option {
	return func(e *Engine) {
		if fn != nil {
			e.sleep = fn
		}
	}
}

// WithExplorerSpan sets the default span for explorer-only runs.
func WithExplorerSpan(n uint64) Option {
	return func(e *Engine) {
		e.config.ExplorerSpan = n
	}
}
