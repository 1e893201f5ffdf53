package middleware

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/hedeqiang/tally/event"
)

// RangeGuard drops purchases outside the scanned range.
type RangeGuard struct {
	window  event.Window
	log     *zap.Logger
	dropped atomic.Uint64
}

// NewRangeGuard creates a guard for w. A nil logger is replaced with a no-op.
func NewRangeGuard(w event.Window, l *zap.Logger) *RangeGuard {
	if l == nil {
		l = zap.NewNop()
	}
	return &RangeGuard{window: w, log: l}
}

// Wrap decorates the handler with the range check.
func (g *RangeGuard) Wrap(next Handler) Handler {
	return func(p event.Purchase) *event.Purchase {
		if !g.window.Contains(p.BlockNumber) {
			g.dropped.Add(1)
			g.log.Warn("dropping purchase outside scanned range",
				zap.Uint64("block", p.BlockNumber),
				zap.Stringer("range", g.window),
				zap.String("tx", p.TxHash.Hex()))
			return nil
		}
		return next(p)
	}
}

// Dropped returns the number of purchases dropped.
func (g *RangeGuard) Dropped() uint64 {
	return g.dropped.Load()
}
