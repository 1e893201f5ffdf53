package middleware

import (
	"math/big"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hedeqiang/tally/event"
	"github.com/hedeqiang/tally/metrics"
)

func purchase(block uint64, tx byte, index uint) event.Purchase {
	return event.Purchase{
		Buyer:        event.Address{0xa},
		NativeAmount: big.NewInt(int64(block)),
		TokenAmount:  big.NewInt(1),
		TxHash:       event.Hash{tx},
		BlockNumber:  block,
		LogIndex:     index,
		Source:       "polygon",
	}
}

func TestPipeline(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)
	collector := metrics.New()

	guard := NewRangeGuard(event.Window{From: 100, To: 200}, log)
	dedupe := NewDedupe()
	m := NewMetrics(collector)

	in := []event.Purchase{
		purchase(150, 1, 0),
		purchase(150, 1, 0), // duplicate
		purchase(150, 1, 1), // same tx, other log
		purchase(99, 2, 0),  // before range
		purchase(201, 3, 0), // after range
		purchase(200, 4, 0),
	}
	out := Apply(in, guard, dedupe, m, NewLogger(log))

	if len(out) != 3 {
		t.Fatalf("kept %d purchases, want 3", len(out))
	}
	if out[0].LogIndex != 0 || out[1].LogIndex != 1 || out[2].BlockNumber != 200 {
		t.Fatalf("unexpected order %v", out)
	}
	if guard.Dropped() != 2 || dedupe.Dropped() != 1 {
		t.Fatalf("guard dropped %d, dedupe dropped %d", guard.Dropped(), dedupe.Dropped())
	}
	if m.Processed() != 3 || m.Dropped() != 0 {
		t.Fatalf("processed=%d dropped=%d", m.Processed(), m.Dropped())
	}
	if got := testutil.ToFloat64(collector.Purchases.WithLabelValues("polygon")); got != 3 {
		t.Fatalf("purchases metric = %v", got)
	}
	if n := logs.FilterMessage("purchase").Len(); n != 3 {
		t.Fatalf("logged %d purchases", n)
	}
	if n := logs.FilterMessage("dropping purchase outside scanned range").Len(); n != 2 {
		t.Fatalf("logged %d range drops", n)
	}
}

type tag string

func (t tag) Wrap(next Handler) Handler {
	return func(p event.Purchase) *event.Purchase {
		p.Source += string(t)
		return next(p)
	}
}

func TestChainOrder(t *testing.T) {
	h := Chain(Pass, tag("a"), tag("b"), tag("c"))
	got := h(event.Purchase{})
	if got == nil || got.Source != "abc" {
		t.Fatalf("got %v", got)
	}
}
