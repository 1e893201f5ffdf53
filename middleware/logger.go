package middleware

import (
	"go.uber.org/zap"

	"github.com/hedeqiang/tally/event"
)

// Logger logs each purchase that passes through the pipeline.
type Logger struct {
	logger *zap.Logger
}

// NewLogger creates a logging middleware. A nil logger is replaced with a no-op.
func NewLogger(l *zap.Logger) *Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return &Logger{logger: l}
}

// Wrap decorates the handler with purchase logging.
func (l *Logger) Wrap(next Handler) Handler {
	return func(p event.Purchase) *event.Purchase {
		l.logger.Debug("purchase",
			zap.String("source", p.Source),
			zap.Uint64("block", p.BlockNumber),
			zap.String("tx", p.TxHash.Hex()),
			zap.Uint("log_index", p.LogIndex),
			zap.String("buyer", p.Buyer.Hex()),
			zap.Stringer("native", p.NativeAmount),
			zap.Stringer("tokens", p.TokenAmount),
		)
		return next(p)
	}
}
