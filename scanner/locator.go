package scanner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hedeqiang/tally/chain"
)

// Locator finds the first block at or after a timestamp. Block timestamps
// must be non-decreasing in block number.
type Locator struct {
	src chain.BlockTimer
	log *zap.Logger
}

// LocatorOption configures a Locator.
type LocatorOption func(*Locator)

// WithLocatorLogger sets the locator's logger.
func WithLocatorLogger(l *zap.Logger) LocatorOption {
	return func(loc *Locator) {
		if l != nil {
			loc.log = l
		}
	}
}

// NewLocator creates a Locator over src.
func NewLocator(src chain.BlockTimer, opts ...LocatorOption) *Locator {
	l := &Locator{src: src, log: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Locate returns the smallest block whose timestamp is >= target, or
// head+1 when no block up to the current head qualifies. A failed probe
// aborts the search.
func (l *Locator) Locate(ctx context.Context, target uint64) (uint64, error) {
	head, err := l.src.LatestBlock(ctx)
	if err != nil {
		return 0, fmt.Errorf("scanner: locate: head: %w", err)
	}
	return l.LocateIn(ctx, 0, head+1, target)
}

// LocateIn searches the half-open interval [lo, hi) and returns hi when no
// block in it qualifies.
func (l *Locator) LocateIn(ctx context.Context, lo, hi, target uint64) (uint64, error) {
	probes := 0
	for lo < hi {
		mid := lo + (hi-lo)/2
		ts, err := l.src.BlockTimestamp(ctx, mid)
		probes++
		if err != nil {
			return 0, fmt.Errorf("scanner: locate: probe block %d: %w", mid, err)
		}
		if ts < target {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	l.log.Debug("located block", zap.Uint64("target", target), zap.Uint64("block", lo), zap.Int("probes", probes))
	return lo, nil
}
