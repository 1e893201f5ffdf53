package scanner

import (
	"context"
	"errors"
	"math/big"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/hedeqiang/tally/chain"
	"github.com/hedeqiang/tally/decoder"
	"github.com/hedeqiang/tally/event"
)

type sleepRecorder struct {
	calls []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.calls = append(r.calls, d)
	return nil
}

func newScanner(src chain.Source, cfg Config, rec *sleepRecorder) *Scanner {
	if rec == nil {
		rec = &sleepRecorder{}
	}
	return New(src, decoder.NewWords(topic0), cfg, WithSleep(rec.sleep))
}

func keys(ps []event.Purchase) []event.Key {
	out := make([]event.Key, len(ps))
	for i, p := range ps {
		out[i] = p.Key()
	}
	sort.Slice(out, func(i, j int) bool {
		return new(big.Int).SetBytes(out[i].TxHash[:]).Cmp(new(big.Int).SetBytes(out[j].TxHash[:])) < 0
	})
	return out
}

func assertSameKeys(t *testing.T, got, want []event.Purchase) {
	t.Helper()
	g, w := keys(got), keys(want)
	if len(g) != len(w) {
		t.Fatalf("got %d purchases, want %d", len(g), len(w))
	}
	for i := range g {
		if g[i] != w[i] {
			t.Fatalf("purchase %d differs: %v vs %v", i, g[i], w[i])
		}
	}
}

func randomHistory(r *rand.Rand, from, to uint64, n int) []event.Log {
	logs := make([]event.Log, 0, n)
	for i := 0; i < n; i++ {
		block := from + uint64(r.Int63n(int64(to-from+1)))
		buyer := buyerA
		if r.Intn(2) == 0 {
			buyer = buyerB
		}
		logs = append(logs, purchaseLog(block, uint(i), buyer, big.NewInt(r.Int63n(1e18)+1), big.NewInt(r.Int63n(1e18))))
	}
	return logs
}

func TestScanCompleteness(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	history := randomHistory(r, 1000, 5000, 200)

	// Noise from another contract and another event must not leak in.
	other := purchaseLog(2000, 999, buyerA, big.NewInt(1), big.NewInt(1))
	other.Address = buyerB
	noise := purchaseLog(2001, 998, buyerA, big.NewInt(1), big.NewInt(1))
	noise.Topics[0] = event.MustHexToHash("0x1234")
	src := &fakeSource{logs: append(append([]event.Log{}, history...), other, noise)}

	req := Request{Contract: contract, Topic0: topic0, From: 1000, To: 5000}
	single, err := newScanner(src, Config{WindowSize: 1 << 20}, nil).Scan(context.Background(), req)
	if err != nil {
		t.Fatalf("single-shot scan: %v", err)
	}
	if single.Windows != 1 || len(single.Purchases) != len(history) {
		t.Fatalf("single-shot: windows=%d purchases=%d", single.Windows, len(single.Purchases))
	}

	for _, size := range []uint64{1, 7, 100, 999, 4000} {
		res, err := newScanner(src, Config{WindowSize: size, MinWindow: 1}, nil).Scan(context.Background(), req)
		if err != nil {
			t.Fatalf("window %d: %v", size, err)
		}
		assertSameKeys(t, res.Purchases, single.Purchases)
		if res.Covered != (event.Window{From: 1000, To: 5000}) {
			t.Fatalf("window %d: covered %s", size, res.Covered)
		}
	}

	// Arbitrary contiguous split reassembled.
	var parts []event.Purchase
	for _, w := range []event.Window{{From: 1000, To: 1733}, {From: 1734, To: 1734}, {From: 1735, To: 5000}} {
		res, err := newScanner(src, DefaultConfig(), nil).Scan(context.Background(), Request{Contract: contract, Topic0: topic0, From: w.From, To: w.To})
		if err != nil {
			t.Fatalf("split %s: %v", w, err)
		}
		parts = append(parts, res.Purchases...)
	}
	assertSameKeys(t, parts, single.Purchases)
}

func TestScanWindowBounds(t *testing.T) {
	src := &fakeSource{}
	_, err := newScanner(src, Config{WindowSize: 100}, nil).Scan(context.Background(), Request{Contract: contract, Topic0: topic0, From: 0, To: 250})
	if err != nil {
		t.Fatal(err)
	}
	want := []event.Window{{From: 0, To: 100}, {From: 101, To: 201}, {From: 202, To: 250}}
	if len(src.calls) != len(want) {
		t.Fatalf("calls = %v", src.calls)
	}
	for i := range want {
		if src.calls[i] != want[i] {
			t.Fatalf("call %d = %s, want %s", i, src.calls[i], want[i])
		}
	}
}

func TestScanShrinkConvergence(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	history := randomHistory(r, 0, 1009, 50)
	src := &fakeSource{
		logs: history,
		fail: func(_ int, w event.Window) error {
			if w.Len() > 1 {
				return sourceErr(chain.KindRangeTooLarge)
			}
			return nil
		},
	}

	res, err := newScanner(src, DefaultConfig(), nil).Scan(context.Background(), Request{Contract: contract, Topic0: topic0, From: 0, To: 1009})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Purchases) != len(history) {
		t.Fatalf("got %d purchases, want %d", len(res.Purchases), len(history))
	}
	if res.Shrinks != 4 {
		t.Fatalf("shrinks = %d, want 4 (1000, 500, 250, 125, 100)", res.Shrinks)
	}

	// Multi-block request sizes never grow, and stop shrinking at the floor.
	last := uint64(1 << 62)
	for _, w := range src.calls {
		if w.Len() == 1 {
			continue
		}
		if w.Len() > last {
			t.Fatalf("window grew from %d to %d", last, w.Len())
		}
		last = w.Len()
	}
	if last != 101 {
		t.Fatalf("smallest multi-block window = %d, want 101", last)
	}
}

func TestScanPerBlockSkipsFailures(t *testing.T) {
	src := &fakeSource{
		logs: []event.Log{purchaseLog(5, 0, buyerA, big.NewInt(1), big.NewInt(2))},
		fail: func(_ int, w event.Window) error {
			if w.Len() > 1 {
				return sourceErr(chain.KindRangeTooLarge)
			}
			if w.From == 3 || w.From == 250 {
				return sourceErr(chain.KindTransient)
			}
			return nil
		},
	}

	cfg := Config{WindowSize: 100, MinWindow: 100}
	res, err := newScanner(src, cfg, nil).Scan(context.Background(), Request{Contract: contract, Topic0: topic0, From: 0, To: 299})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.SkippedBlocks != 2 {
		t.Fatalf("skipped = %d, want 2", res.SkippedBlocks)
	}
	if len(res.Purchases) != 1 || res.Covered.To != 299 {
		t.Fatalf("purchases=%d covered=%s", len(res.Purchases), res.Covered)
	}
}

func TestScanRateLimitExhaustion(t *testing.T) {
	src := &fakeSource{
		fail: func(int, event.Window) error { return sourceErr(chain.KindRateLimit) },
	}
	rec := &sleepRecorder{}

	res, err := newScanner(src, DefaultConfig(), rec).Scan(context.Background(), Request{Contract: contract, Topic0: topic0, From: 0, To: 5000})
	if !chain.IsKind(err, chain.KindSourceExhausted) {
		t.Fatalf("expected source exhausted, got %v", err)
	}
	if !res.Exhausted || res.Retries != 3 {
		t.Fatalf("exhausted=%v retries=%d", res.Exhausted, res.Retries)
	}
	if len(src.calls) != 4 {
		t.Fatalf("calls = %d, want 4", len(src.calls))
	}
	if len(rec.calls) != 3 {
		t.Fatalf("sleeps = %v", rec.calls)
	}
	for _, d := range rec.calls {
		if d != 15*time.Second {
			t.Fatalf("backoff = %v, want 15s", d)
		}
	}
}

func TestScanZeroConfigKeepsRateLimitBudget(t *testing.T) {
	src := &fakeSource{
		fail: func(int, event.Window) error { return sourceErr(chain.KindRateLimit) },
	}
	rec := &sleepRecorder{}

	res, err := newScanner(src, Config{}, rec).Scan(context.Background(), Request{Contract: contract, Topic0: topic0, From: 0, To: 10})
	if !chain.IsKind(err, chain.KindSourceExhausted) {
		t.Fatalf("expected source exhausted, got %v", err)
	}
	if res.Retries != 3 || len(rec.calls) != 3 {
		t.Fatalf("retries=%d sleeps=%v", res.Retries, rec.calls)
	}
	for _, d := range rec.calls {
		if d != 15*time.Second {
			t.Fatalf("backoff = %v, want 15s", d)
		}
	}
}

func TestScanNegativeRetriesDisablesBudget(t *testing.T) {
	src := &fakeSource{
		fail: func(int, event.Window) error { return sourceErr(chain.KindRateLimit) },
	}
	rec := &sleepRecorder{}

	res, err := newScanner(src, Config{RateLimitRetries: -1}, rec).Scan(context.Background(), Request{Contract: contract, Topic0: topic0, From: 0, To: 10})
	if !chain.IsKind(err, chain.KindSourceExhausted) {
		t.Fatalf("expected source exhausted, got %v", err)
	}
	if res.Retries != 0 || len(rec.calls) != 0 || len(src.calls) != 1 {
		t.Fatalf("retries=%d sleeps=%d calls=%d", res.Retries, len(rec.calls), len(src.calls))
	}
}

func TestScanRateLimitBudgetIsPerScan(t *testing.T) {
	// Throttle every other request: three retries across different windows
	// spend the budget, the fourth exhausts it.
	src := &fakeSource{
		fail: func(call int, _ event.Window) error {
			if call%2 == 1 {
				return sourceErr(chain.KindRateLimit)
			}
			return nil
		},
	}
	res, err := newScanner(src, Config{WindowSize: 10}, nil).Scan(context.Background(), Request{Contract: contract, Topic0: topic0, From: 0, To: 1000})
	if !chain.IsKind(err, chain.KindSourceExhausted) {
		t.Fatalf("expected source exhausted, got %v", err)
	}
	if res.Windows != 3 || res.Covered.To != 32 {
		t.Fatalf("windows=%d covered=%s", res.Windows, res.Covered)
	}
}

func TestScanOtherErrors(t *testing.T) {
	src := &fakeSource{
		fail: func(_ int, w event.Window) error {
			if w.Len() > 201 {
				return sourceErr(chain.KindUnknown)
			}
			return nil
		},
	}
	res, err := newScanner(src, DefaultConfig(), nil).Scan(context.Background(), Request{Contract: contract, Topic0: topic0, From: 0, To: 999})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Shrinks != 3 {
		t.Fatalf("shrinks = %d, want 3 (1000, 500, 250, 200)", res.Shrinks)
	}

	boom := errors.New("header not found")
	fatal := &fakeSource{
		fail: func(int, event.Window) error { return chain.NewError(chain.KindUnknown, "fake", "eth_getLogs", boom) },
	}
	res, err = newScanner(fatal, DefaultConfig(), nil).Scan(context.Background(), Request{Contract: contract, Topic0: topic0, From: 0, To: 999})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped source error, got %v", err)
	}
	if chain.IsKind(err, chain.KindSourceExhausted) || res.Exhausted {
		t.Fatal("unclassified errors at the floor are fatal, not exhaustion")
	}
}

func TestScanSkipsUndecodable(t *testing.T) {
	bad := purchaseLog(10, 1, buyerA, big.NewInt(1), big.NewInt(1))
	bad.Data = bad.Data[:40]
	removed := purchaseLog(11, 2, buyerA, big.NewInt(1), big.NewInt(1))
	removed.Removed = true
	src := &fakeSource{logs: []event.Log{purchaseLog(10, 0, buyerB, big.NewInt(3), big.NewInt(4)), bad, removed}}

	res, err := newScanner(src, DefaultConfig(), nil).Scan(context.Background(), Request{Contract: contract, Topic0: topic0, From: 0, To: 20})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Purchases) != 1 || res.DecodeSkipped != 1 {
		t.Fatalf("purchases=%d skipped=%d", len(res.Purchases), res.DecodeSkipped)
	}
	if res.Purchases[0].Source != "fake" {
		t.Fatalf("source = %q", res.Purchases[0].Source)
	}
}

func TestScanScenario(t *testing.T) {
	history := []event.Log{
		purchaseLog(120, 0, buyerA, wei(1, 1), wei(500, 1)),
		purchaseLog(180, 3, buyerB, wei(2, 1), wei(1000, 1)),
		purchaseLog(230, 1, buyerA, wei(1, 2), wei(250, 1)),
	}
	src := &fakeSource{
		logs: history,
		fail: func(call int, _ event.Window) error {
			if call == 1 {
				return sourceErr(chain.KindRateLimit)
			}
			return nil
		},
	}
	rec := &sleepRecorder{}

	res, err := newScanner(src, Config{WindowSize: 100}, rec).Scan(context.Background(), Request{Contract: contract, Topic0: topic0, From: 100, To: 250})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Windows != 2 || res.Retries != 1 || len(rec.calls) != 1 {
		t.Fatalf("windows=%d retries=%d sleeps=%d", res.Windows, res.Retries, len(rec.calls))
	}

	seen := map[event.Hash]int{}
	for _, p := range res.Purchases {
		seen[p.TxHash]++
	}
	for _, l := range history {
		if seen[l.TxHash] != 1 {
			t.Fatalf("tx %s seen %d times", l.TxHash.Hex(), seen[l.TxHash])
		}
	}

	totals := map[event.Address]*big.Int{}
	for _, p := range res.Purchases {
		if totals[p.Buyer] == nil {
			totals[p.Buyer] = new(big.Int)
		}
		totals[p.Buyer].Add(totals[p.Buyer], p.NativeAmount)
	}
	if totals[buyerA].Cmp(wei(3, 2)) != 0 || totals[buyerB].Cmp(wei(2, 1)) != 0 {
		t.Fatalf("totals A=%s B=%s", totals[buyerA], totals[buyerB])
	}
}

func TestScanCancelledDuringBackoff(t *testing.T) {
	src := &fakeSource{
		fail: func(int, event.Window) error { return sourceErr(chain.KindRateLimit) },
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := New(src, decoder.NewWords(topic0), DefaultConfig(), WithSleep(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	_, err := s.Scan(ctx, Request{Contract: contract, Topic0: topic0, From: 0, To: 10})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(src.calls) != 1 {
		t.Fatalf("calls = %d", len(src.calls))
	}
}

func TestScanInvalidRange(t *testing.T) {
	_, err := newScanner(&fakeSource{}, DefaultConfig(), nil).Scan(context.Background(), Request{From: 10, To: 9})
	if !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}
