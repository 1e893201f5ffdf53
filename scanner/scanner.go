// Package scanner walks a block range against a primary log source and
// locates blocks by timestamp.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hedeqiang/tally/chain"
	"github.com/hedeqiang/tally/decoder"
	"github.com/hedeqiang/tally/event"
	"github.com/hedeqiang/tally/filter"
	"github.com/hedeqiang/tally/metrics"
	"github.com/hedeqiang/tally/retry"
)

// ErrInvalidRange is returned when a request's From is after its To.
var ErrInvalidRange = errors.New("scanner: from block is after to block")

// Request describes one scan.
type Request struct {
	Contract event.Address
	Topic0   event.Hash
	From     uint64
	To       uint64
}

// Result is the outcome of a scan. On error it holds what was gathered
// before the failure.
type Result struct {
	Purchases []event.Purchase

	// Exhausted is set when the rate-limit budget ran out.
	Exhausted bool

	Windows       int
	Retries       int
	Shrinks       int
	SkippedBlocks int
	DecodeSkipped int

	// Covered is the contiguous range completed from Request.From.
	// It is meaningful only when Windows > 0.
	Covered event.Window
}

// Scanner reads purchase logs from a primary source in adaptive windows.
type Scanner struct {
	src     chain.Source
	dec     decoder.PurchaseDecoder
	cfg     Config
	log     *zap.Logger
	metrics *metrics.Collector
	sleep   retry.SleepFunc
}

// New creates a Scanner. Zero Config fields take their defaults.
func New(src chain.Source, dec decoder.PurchaseDecoder, cfg Config, opts ...Option) *Scanner {
	s := &Scanner{
		src:   src,
		dec:   dec,
		cfg:   cfg.withDefaults(),
		log:   zap.NewNop(),
		sleep: retry.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// state is owned by one Scan call.
type state struct {
	cursor     uint64
	windowSize uint64
	budget     retry.Strategy
	throttled  int
	res        Result
}

// Scan collects every purchase log of req.Contract in [req.From, req.To].
//
// Rate-limited windows are retried after a fixed pause until the budget is
// spent, then the scan stops with Exhausted set and a KindSourceExhausted
// error. Range-too-large errors halve the window down to MinWindow, after
// which the window is scanned block by block and failed blocks are skipped.
// Other errors halve the window down to ErrorFloor and are then returned.
func (s *Scanner) Scan(ctx context.Context, req Request) (Result, error) {
	if req.From > req.To {
		return Result{}, fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, req.From, req.To)
	}

	st := &state{
		cursor:     req.From,
		windowSize: s.cfg.WindowSize,
		budget:     retry.Constant(s.cfg.RateLimitRetries, s.cfg.RateLimitBackoff),
	}
	base := filter.NewQuery(filter.WithAddresses(req.Contract), filter.WithSignature(req.Topic0))
	log := s.log.With(zap.String("source", s.src.ID()))

	for {
		if err := ctx.Err(); err != nil {
			return st.res, err
		}

		w := event.Window{From: st.cursor, To: req.To}
		if req.To-st.cursor > st.windowSize {
			w.To = st.cursor + st.windowSize
		}

		logs, err := s.fetch(ctx, base.InWindow(w))
		if err != nil {
			if ctx.Err() != nil {
				return st.res, ctx.Err()
			}

			switch chain.KindOf(err) {
			case chain.KindRateLimit:
				s.metrics.Window(metrics.OutcomeRateLimited)
				s.metrics.RateLimit()
				st.throttled++
				delay, ok := st.budget.Next(st.throttled)
				if !ok {
					st.res.Exhausted = true
					log.Warn("rate-limit budget exhausted", zap.Stringer("window", w), zap.Int("retries", st.res.Retries))
					return st.res, chain.NewError(chain.KindSourceExhausted, s.src.ID(), "scan "+w.String(), err)
				}
				st.res.Retries++
				log.Warn("rate limited, backing off",
					zap.Stringer("window", w),
					zap.Duration("backoff", delay),
					zap.Int("retries_left", s.cfg.RateLimitRetries-st.throttled))
				if err := s.sleep(ctx, delay); err != nil {
					return st.res, err
				}
				continue

			case chain.KindRangeTooLarge:
				s.metrics.Window(metrics.OutcomeRangeTooLarge)
				if st.windowSize > s.cfg.MinWindow {
					s.shrink(st, s.cfg.MinWindow, w, log)
					continue
				}
				log.Info("window at floor, scanning per block", zap.Stringer("window", w))
				if err := s.scanBlocks(ctx, st, base, w, log); err != nil {
					return st.res, err
				}

			default:
				s.metrics.Window(metrics.OutcomeError)
				if st.windowSize > s.cfg.ErrorFloor {
					log.Warn("window failed", zap.Stringer("window", w), zap.Error(err))
					s.shrink(st, s.cfg.ErrorFloor, w, log)
					continue
				}
				return st.res, fmt.Errorf("scanner: window %s: %w", w, err)
			}
		} else {
			s.metrics.Window(metrics.OutcomeOK)
			s.collect(st, logs, log)
		}

		st.res.Windows++
		st.res.Covered = event.Window{From: req.From, To: w.To}
		if w.To >= req.To {
			break
		}
		st.cursor = w.To + 1
	}

	log.Debug("scan complete",
		zap.Uint64("from", req.From),
		zap.Uint64("to", req.To),
		zap.Int("purchases", len(st.res.Purchases)),
		zap.Int("windows", st.res.Windows))
	return st.res, nil
}

func (s *Scanner) shrink(st *state, floor uint64, w event.Window, log *zap.Logger) {
	next := st.windowSize / 2
	if next < floor {
		next = floor
	}
	log.Debug("shrinking window", zap.Stringer("window", w), zap.Uint64("from_size", st.windowSize), zap.Uint64("to_size", next))
	st.windowSize = next
	st.res.Shrinks++
	s.metrics.Shrink()
}

// scanBlocks queries each block of w on its own. Failed blocks are skipped.
func (s *Scanner) scanBlocks(ctx context.Context, st *state, base filter.Query, w event.Window, log *zap.Logger) error {
	for b := w.From; ; b++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		logs, err := s.fetch(ctx, base.InWindow(event.Window{From: b, To: b}))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			st.res.SkippedBlocks++
			s.metrics.SkipBlock()
			log.Debug("skipping block", zap.Uint64("block", b), zap.Error(err))
		} else {
			s.metrics.Window(metrics.OutcomePerBlock)
			s.collect(st, logs, log)
		}

		if b == w.To {
			return nil
		}
	}
}

func (s *Scanner) fetch(ctx context.Context, q filter.Query) ([]event.Log, error) {
	start := time.Now()
	logs, err := s.src.FetchLogs(ctx, q)
	s.metrics.ObserveFetch(s.src.ID(), start)
	return logs, err
}

// collect decodes the logs of one successful request.
func (s *Scanner) collect(st *state, logs []event.Log, log *zap.Logger) {
	for _, l := range logs {
		if l.Removed {
			continue
		}
		p, err := s.dec.DecodePurchase(l)
		if err != nil {
			st.res.DecodeSkipped++
			s.metrics.DecodeSkip(s.src.ID())
			log.Warn("skipping undecodable log", zap.Uint64("block", l.BlockNumber), zap.Error(err))
			continue
		}
		if p.Source == "" {
			p.Source = s.src.ID()
		}
		st.res.Purchases = append(st.res.Purchases, p)
	}
}
