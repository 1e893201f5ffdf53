package scanner

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/hedeqiang/tally/chain"
	"github.com/hedeqiang/tally/event"
	"github.com/hedeqiang/tally/filter"
	abiutil "github.com/hedeqiang/tally/internal/abi"
)

var (
	topic0   = abiutil.EventSignatureHash("TokensPurchased(address,uint256,uint256)")
	contract = event.MustHexToAddress("0x2699838c090346Eaf93F96069B56B3637828dFAC")
	buyerA   = event.MustHexToAddress("0x000000000000000000000000000000000000000a")
	buyerB   = event.MustHexToAddress("0x000000000000000000000000000000000000000b")
)

func word(v *big.Int) []byte {
	return v.FillBytes(make([]byte, 32))
}

// wei returns n * 10^18 / div.
func wei(n, div int64) *big.Int {
	v := new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
	return v.Div(v, big.NewInt(div))
}

func purchaseLog(block uint64, index uint, buyer event.Address, native, tokens *big.Int) event.Log {
	var tx event.Hash
	new(big.Int).SetUint64(block*1000 + uint64(index) + 1).FillBytes(tx[:])
	return event.Log{
		Address:     contract,
		Topics:      []event.Hash{topic0, buyer.Topic()},
		Data:        append(word(native), word(tokens)...),
		BlockNumber: block,
		TxHash:      tx,
		LogIndex:    index,
	}
}

// fakeSource serves logs from memory. fail, when set, may reject a request.
type fakeSource struct {
	mu     sync.Mutex
	logs   []event.Log
	stamps []uint64
	fail   func(call int, w event.Window) error
	calls  []event.Window
}

func (f *fakeSource) ID() string { return "fake" }

func (f *fakeSource) LatestBlock(context.Context) (uint64, error) {
	return uint64(len(f.stamps)) - 1, nil
}

func (f *fakeSource) BlockTimestamp(_ context.Context, n uint64) (uint64, error) {
	if n >= uint64(len(f.stamps)) {
		return 0, errors.New("no such block")
	}
	return f.stamps[n], nil
}

func (f *fakeSource) FetchLogs(_ context.Context, q filter.Query) ([]event.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := q.Window()
	if !ok {
		return nil, errors.New("unbounded query")
	}
	f.calls = append(f.calls, w)
	if f.fail != nil {
		if err := f.fail(len(f.calls), w); err != nil {
			return nil, err
		}
	}

	m := q.Matcher()
	var out []event.Log
	for _, l := range f.logs {
		if m.Match(l) {
			out = append(out, l)
		}
	}
	return out, nil
}

func sourceErr(kind chain.Kind) error {
	return chain.NewError(kind, "fake", "eth_getLogs", errors.New(kind.String()))
}
