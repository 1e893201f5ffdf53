// Package tally reconstructs the purchases made on a presale contract from
// its on-chain event logs and sums them per buyer.
//
// Usage:
//
//	e := tally.New(
//	    tally.WithPrimary(polygon.New("https://polygon-rpc.com")),
//	    tally.WithFallback(explorer.New(explorer.Config{APIKey: key})),
//	)
//
//	res, err := e.Run(ctx, tally.Request{Contract: addr})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.Summary.Total)
package tally

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/hedeqiang/tally/aggregate"
	"github.com/hedeqiang/tally/chain"
	"github.com/hedeqiang/tally/contract"
	"github.com/hedeqiang/tally/decoder"
	"github.com/hedeqiang/tally/event"
	"github.com/hedeqiang/tally/metrics"
	"github.com/hedeqiang/tally/middleware"
	"github.com/hedeqiang/tally/retry"
	"github.com/hedeqiang/tally/scanner"
	"github.com/hedeqiang/tally/store"
)

// timestampAttempts is the retry budget per block when resolving block times.
const timestampAttempts = 3

// Fallback is a source that returns decoded purchases for a whole range in
// one call. explorer.Client implements it.
type Fallback interface {
	chain.BlockTimer

	ID() string

	// Configured reports whether the source can serve requests.
	Configured() bool

	FetchPurchases(ctx context.Context, contract event.Address, topic0 event.Hash, from, to uint64) ([]event.Purchase, error)
}

// Request describes one run. Nil bounds are derived: the start from the
// contract's start time, the end from the chain head.
type Request struct {
	Contract   event.Address
	StartBlock *uint64
	EndBlock   *uint64
}

// ScanStats reports the primary scan's work.
type ScanStats struct {
	Windows       int
	Retries       int
	Shrinks       int
	SkippedBlocks int
	DecodeSkipped int
}

// Result is the outcome of a run.
type Result struct {
	Contract event.Address
	From     uint64
	To       uint64
	Head     uint64

	// Source names the source the purchases came from. Empty when no
	// source produced a result.
	Source string

	// Purchases are ordered by block number, then log index.
	Purchases []event.Purchase
	Summary   aggregate.Summary

	PrimaryExhausted bool
	FallbackUsed     bool

	Scan ScanStats

	// Dropped counts purchases removed by the pipeline (duplicates and
	// out-of-range logs).
	Dropped int

	// RunID is the sink's id for the saved run, or 0 without a sink.
	RunID int64
}

// Engine runs purchase reconstructions.
type Engine struct {
	primary  chain.Source
	fallback Fallback
	caller   chain.Caller
	decoder  decoder.PurchaseDecoder
	sink     store.Sink
	config   Config
	log      *zap.Logger
	metrics  *metrics.Collector
	sleep    retry.SleepFunc

	topic0  event.Hash
	initErr error
}

// New creates an Engine with the given options.
func New(opts ...Option) *Engine {
	e := &Engine{
		config: DefaultConfig(),
		log:    zap.NewNop(),
		sleep:  retry.Sleep,
	}
	for _, opt := range opts {
		opt(e)
	}

	abiDec := decoder.NewABIDecoder()
	topic0, err := abiDec.RegisterSignature(e.config.EventSignature)
	if err != nil {
		e.initErr = chain.NewError(chain.KindFatalConfig, "tally", "event signature", err)
	}
	if len(e.config.ABI) > 0 && e.initErr == nil {
		topic0, e.initErr = purchaseTopic(abiDec, e.config.ABI, topic0)
	}
	e.topic0 = topic0
	if e.decoder == nil {
		e.decoder = abiDec
	}
	if e.caller == nil {
		if c, ok := e.primary.(chain.Caller); ok {
			e.caller = c
		}
	}
	return e
}

// purchaseTopic registers the ABI's events and returns the purchase event's
// topic0, preferring the event named like the one registered as sig.
func purchaseTopic(dec *decoder.ABIDecoder, data []byte, sig event.Hash) (event.Hash, error) {
	defs, err := dec.RegisterJSON(data)
	if err != nil {
		return event.Hash{}, chain.NewError(chain.KindFatalConfig, "tally", "abi", err)
	}
	var name string
	if def, ok := dec.Lookup(sig); ok {
		name = def.Name
	}
	def, ok := decoder.PurchaseEvent(defs, name)
	if !ok {
		return event.Hash{}, chain.NewError(chain.KindFatalConfig, "tally", "abi", ErrNoPurchaseEvent)
	}
	return def.Topic0, nil
}

// Topic0 returns the purchase event's topic0.
func (e *Engine) Topic0() event.Hash {
	return e.topic0
}

// Run reconstructs the purchases of req.Contract.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	if e.initErr != nil {
		return nil, e.initErr
	}
	if req.Contract.IsZero() {
		return nil, ErrNoContract
	}
	if e.primary == nil && e.fallback == nil {
		return nil, ErrNoSource
	}
	if req.StartBlock != nil && req.EndBlock != nil && *req.StartBlock > *req.EndBlock {
		return nil, ErrInvalidRange
	}

	timer, timerID := e.blockTimer()
	head, err := timer.LatestBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("tally: head from %s: %w", timerID, err)
	}

	res := &Result{Contract: req.Contract, Head: head, To: head}
	if req.EndBlock != nil && *req.EndBlock < head {
		res.To = *req.EndBlock
	}
	res.From = e.startBlock(ctx, req, head, timer)

	log := e.log.With(zap.String("contract", req.Contract.Hex()))
	if res.From > res.To {
		log.Warn("start block is beyond the end of the range, nothing to scan",
			zap.Uint64("from", res.From), zap.Uint64("to", res.To))
		return e.finish(ctx, res, nil)
	}

	log.Info("run started", zap.Uint64("from", res.From), zap.Uint64("to", res.To), zap.Uint64("head", head))

	purchases, err := e.collect(ctx, res, log)
	if err != nil {
		return nil, err
	}

	purchases = e.canonical(purchases, res)
	if e.config.ResolveTimestamps {
		if err := e.resolveTimestamps(ctx, purchases, timer, log); err != nil {
			return nil, err
		}
	}
	return e.finish(ctx, res, purchases)
}

// blockTimer returns the source used for head and block time lookups.
func (e *Engine) blockTimer() (chain.BlockTimer, string) {
	if e.primary != nil {
		return e.primary, e.primary.ID()
	}
	return e.fallback, e.fallback.ID()
}

// startBlock derives the first block to scan.
func (e *Engine) startBlock(ctx context.Context, req Request, head uint64, timer chain.BlockTimer) uint64 {
	if req.StartBlock != nil {
		return *req.StartBlock
	}

	if block, ok := e.locateStart(ctx, req.Contract, head, timer); ok {
		if block > head {
			return block
		}
		if block < e.config.StartMargin {
			return 0
		}
		return block - e.config.StartMargin
	}

	span := e.config.DefaultSpan
	if e.primary == nil {
		span = e.config.ExplorerSpan
	}
	e.log.Warn("start block unknown, scanning a default span back from head",
		zap.Uint64("span", span), zap.Uint64("head", head))
	if head < span {
		return 0
	}
	return head - span
}

// locateStart maps the contract's start time to a block.
func (e *Engine) locateStart(ctx context.Context, addr event.Address, head uint64, timer chain.BlockTimer) (uint64, bool) {
	if !e.config.Capabilities.StartTime {
		return 0, false
	}
	if e.caller == nil {
		e.log.Warn("no contract reader configured, cannot read startTime")
		return 0, false
	}

	ts, err := contract.NewPresale(addr, e.caller, e.config.Capabilities).StartTime(ctx)
	if err != nil {
		e.log.Warn("reading startTime failed", zap.Error(err))
		return 0, false
	}
	if ts == 0 {
		e.log.Warn("contract reports a zero startTime")
		return 0, false
	}

	block, err := scanner.NewLocator(timer, scanner.WithLocatorLogger(e.log)).Locate(ctx, ts)
	if err != nil {
		e.log.Warn("locating start block failed", zap.Uint64("start_time", ts), zap.Error(err))
		return 0, false
	}
	e.log.Info("start block located", zap.Uint64("start_time", ts), zap.Uint64("block", block), zap.Uint64("head", head))
	return block, true
}

// collect runs the primary scan and, when needed, the fallback.
func (e *Engine) collect(ctx context.Context, res *Result, log *zap.Logger) ([]event.Purchase, error) {
	var purchases []event.Purchase

	if e.primary != nil {
		s := scanner.New(e.primary, e.decoder, e.config.Scanner,
			scanner.WithLogger(e.log),
			scanner.WithMetrics(e.metrics),
			scanner.WithSleep(e.sleep),
		)
		sr, err := s.Scan(ctx, scanner.Request{
			Contract: res.Contract,
			Topic0:   e.topic0,
			From:     res.From,
			To:       res.To,
		})
		res.Scan = ScanStats{
			Windows:       sr.Windows,
			Retries:       sr.Retries,
			Shrinks:       sr.Shrinks,
			SkippedBlocks: sr.SkippedBlocks,
			DecodeSkipped: sr.DecodeSkipped,
		}

		switch {
		case err == nil:
			purchases = sr.Purchases
			res.Source = e.primary.ID()
		case chain.IsKind(err, chain.KindSourceExhausted):
			res.PrimaryExhausted = true
			log.Warn("primary source exhausted its rate-limit budget, discarding partial result",
				zap.String("source", e.primary.ID()), zap.Int("partial", len(sr.Purchases)))
		default:
			return nil, fmt.Errorf("tally: primary %s: %w", e.primary.ID(), err)
		}
	}

	if e.primary != nil && !res.PrimaryExhausted && len(purchases) > 0 {
		return purchases, nil
	}

	if e.fallback == nil || !e.fallback.Configured() {
		if e.primary != nil && !res.PrimaryExhausted {
			log.Warn("primary source found no purchases and no fallback is configured")
			return purchases, nil
		}
		return nil, chain.NewError(chain.KindFatalConfig, "tally", "fallback", ErrFallbackRequired)
	}

	if e.primary != nil {
		log.Info("switching to fallback source", zap.String("source", e.fallback.ID()))
	}
	fp, err := e.fallback.FetchPurchases(ctx, res.Contract, e.topic0, res.From, res.To)
	if err != nil {
		return nil, fmt.Errorf("tally: fallback %s: %w", e.fallback.ID(), err)
	}
	res.Source = e.fallback.ID()
	res.FallbackUsed = true
	return fp, nil
}

// canonical drops out-of-range and duplicate purchases and sorts the rest.
func (e *Engine) canonical(purchases []event.Purchase, res *Result) []event.Purchase {
	guard := middleware.NewRangeGuard(event.Window{From: res.From, To: res.To}, e.log)
	dedupe := middleware.NewDedupe()
	out := middleware.Apply(purchases, guard, dedupe, middleware.NewMetrics(e.metrics), middleware.NewLogger(e.log))
	res.Dropped = int(guard.Dropped()) + dedupe.Dropped()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Less(out[j])
	})
	return out
}

// resolveTimestamps fills in block times, one lookup per block. A block that
// keeps failing is left without a time.
func (e *Engine) resolveTimestamps(ctx context.Context, purchases []event.Purchase, timer chain.BlockTimer, log *zap.Logger) error {
	times := make(map[uint64]uint64)
	for i := range purchases {
		p := &purchases[i]
		if p.HasTimestamp() {
			continue
		}

		ts, ok := times[p.BlockNumber]
		if !ok {
			err := retry.DoWith(ctx, retry.Exponential(timestampAttempts), e.sleep, func(ctx context.Context) error {
				var err error
				ts, err = timer.BlockTimestamp(ctx, p.BlockNumber)
				return err
			})
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Warn("block time unavailable", zap.Uint64("block", p.BlockNumber), zap.Error(err))
				ts = 0
			}
			times[p.BlockNumber] = ts
		}
		if ts > 0 {
			p.Timestamp = unixUTC(ts)
		}
	}
	return nil
}

// finish aggregates the purchases and hands the run to the sink.
func (e *Engine) finish(ctx context.Context, res *Result, purchases []event.Purchase) (*Result, error) {
	res.Purchases = purchases
	res.Summary = aggregate.Aggregate(purchases)

	e.log.Info("run finished",
		zap.String("source", res.Source),
		zap.Int("purchases", res.Summary.Count),
		zap.Int("buyers", len(res.Summary.ByBuyer)),
		zap.Stringer("total", res.Summary.Total),
	)

	if e.sink == nil {
		return res, nil
	}
	id, err := e.sink.SaveRun(ctx, store.Run{
		Contract:  res.Contract,
		From:      res.From,
		To:        res.To,
		Head:      res.Head,
		Source:    res.Source,
		Purchases: res.Purchases,
		Summary:   res.Summary,
	})
	if err != nil {
		return res, fmt.Errorf("tally: save run: %w", err)
	}
	res.RunID = id
	return res, nil
}

func unixUTC(ts uint64) time.Time {
	return time.Unix(int64(ts), 0).UTC()
}
