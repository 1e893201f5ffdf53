package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hedeqiang/tally/chain"
	"github.com/hedeqiang/tally/event"
	"github.com/hedeqiang/tally/internal/hex"
)

var (
	contract = event.MustHexToAddress("0x2699838c090346Eaf93F96069B56B3637828dFAC")
	topic0   = event.MustHexToHash("0xa8c2bf6f6bd2a0f1ee4a3dbf1c9e4a40a4aa8b6a4b0e9b3fb9d6b4a9b2c3d4e5")
	buyer    = event.MustHexToAddress("0x00000000000000000000000000000000000000b1")
)

type entry map[string]interface{}

func purchaseEntry(block uint64, native, tokens *big.Int, ts uint64) entry {
	data := append(native.FillBytes(make([]byte, 32)), tokens.FillBytes(make([]byte, 32))...)
	var tx event.Hash
	new(big.Int).SetUint64(block).FillBytes(tx[:])
	return entry{
		"address":         strings.ToLower(contract.Hex()),
		"topics":          []string{topic0.Hex(), buyer.Topic().Hex()},
		"data":            hex.Encode(data),
		"blockNumber":     hex.EncodeUint64(block),
		"timeStamp":       hex.EncodeUint64(ts),
		"logIndex":        "0x",
		"transactionHash": tx.Hex(),
	}
}

type fakeAPI struct {
	mu       sync.Mutex
	requests []map[string]string
	handle   func(q map[string]string) (int, interface{})
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := map[string]string{}
	for k := range r.URL.Query() {
		q[k] = r.URL.Query().Get(k)
	}
	f.mu.Lock()
	f.requests = append(f.requests, q)
	f.mu.Unlock()

	status, body := f.handle(q)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newClient(t *testing.T, api *fakeAPI, cfg Config) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL
	return New(cfg)
}

func TestFetchPurchasesPaging(t *testing.T) {
	api := &fakeAPI{handle: func(q map[string]string) (int, interface{}) {
		from, _ := strconv.ParseUint(q["fromBlock"], 10, 64)
		if from == 50001 {
			return 200, entry{"status": "1", "message": "OK", "result": []entry{
				purchaseEntry(60000, big.NewInt(1500000000000000000), big.NewInt(3000), 1700000000),
			}}
		}
		return 200, entry{"status": "0", "message": "No records found", "result": []entry{}}
	}}
	c := newClient(t, api, Config{APIKey: "key", ChainID: 137})

	got, err := c.FetchPurchases(context.Background(), contract, topic0, 0, 120000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d purchases", len(got))
	}

	wantPages := [][2]string{{"0", "50000"}, {"50001", "100001"}, {"100002", "120000"}}
	if len(api.requests) != len(wantPages) {
		t.Fatalf("requests = %d", len(api.requests))
	}
	for i, q := range api.requests {
		if q["fromBlock"] != wantPages[i][0] || q["toBlock"] != wantPages[i][1] {
			t.Fatalf("page %d = [%s, %s]", i, q["fromBlock"], q["toBlock"])
		}
		if q["module"] != "logs" || q["action"] != "getLogs" || q["apikey"] != "key" || q["chainid"] != "137" {
			t.Fatalf("unexpected query %v", q)
		}
		if q["address"] != contract.Hex() || q["topic0"] != topic0.Hex() {
			t.Fatalf("unexpected filter %v", q)
		}
	}
}

func TestFetchPurchasesRoundTrip(t *testing.T) {
	native := new(big.Int).Mul(big.NewInt(123456789), big.NewInt(1e12))
	tokens := new(big.Int).Lsh(big.NewInt(1), 200)
	api := &fakeAPI{handle: func(map[string]string) (int, interface{}) {
		return 200, entry{"status": "1", "message": "OK", "result": []entry{purchaseEntry(42, native, tokens, 1700000000)}}
	}}

	got, err := newClient(t, api, Config{APIKey: "key"}).FetchPurchases(context.Background(), contract, topic0, 0, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d purchases", len(got))
	}
	p := got[0]
	if p.Buyer != buyer || p.NativeAmount.Cmp(native) != 0 || p.TokenAmount.Cmp(tokens) != 0 {
		t.Fatalf("round trip mismatch: %s", p)
	}
	if p.BlockNumber != 42 || p.LogIndex != 0 || p.Source != SourceID {
		t.Fatalf("unexpected position %+v", p)
	}
	if !p.Timestamp.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("timestamp = %v", p.Timestamp)
	}
}

func TestFetchPurchasesSkipsAndGuards(t *testing.T) {
	short := purchaseEntry(10, big.NewInt(1), big.NewInt(1), 0)
	short["data"] = "0x" + strings.Repeat("00", 40)
	oneTopic := purchaseEntry(11, big.NewInt(1), big.NewInt(1), 0)
	oneTopic["topics"] = []string{topic0.Hex()}
	outside := purchaseEntry(500, big.NewInt(1), big.NewInt(1), 0)
	foreign := purchaseEntry(12, big.NewInt(1), big.NewInt(1), 0)
	foreign["address"] = buyer.Hex()
	good := purchaseEntry(13, big.NewInt(5), big.NewInt(6), 0)

	api := &fakeAPI{handle: func(map[string]string) (int, interface{}) {
		return 200, entry{"status": "1", "message": "OK", "result": []entry{short, oneTopic, outside, foreign, good}}
	}}
	got, err := newClient(t, api, Config{APIKey: "key"}).FetchPurchases(context.Background(), contract, topic0, 0, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].BlockNumber != 13 {
		t.Fatalf("unexpected purchases %v", got)
	}
}

func TestFetchPurchasesAPIError(t *testing.T) {
	api := &fakeAPI{handle: func(map[string]string) (int, interface{}) {
		return 200, entry{"status": "0", "message": "NOTOK", "result": "Invalid API Key"}
	}}
	_, err := newClient(t, api, Config{APIKey: "bad"}).FetchPurchases(context.Background(), contract, topic0, 0, 10)
	if !chain.IsKind(err, chain.KindFatalConfig) {
		t.Fatalf("expected fatal config error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Invalid API Key") {
		t.Fatalf("error should carry the API message: %v", err)
	}
}

func TestFetchPurchasesNoPartialResults(t *testing.T) {
	api := &fakeAPI{handle: func(q map[string]string) (int, interface{}) {
		if q["fromBlock"] == "0" {
			return 200, entry{"status": "1", "message": "OK", "result": []entry{purchaseEntry(5, big.NewInt(1), big.NewInt(1), 0)}}
		}
		return http.StatusBadGateway, entry{}
	}}
	got, err := newClient(t, api, Config{APIKey: "key", Window: 10}).FetchPurchases(context.Background(), contract, topic0, 0, 30)
	if !chain.IsKind(err, chain.KindTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if got != nil {
		t.Fatalf("expected no partial results, got %v", got)
	}
}

func TestFetchPurchasesRequiresKey(t *testing.T) {
	api := &fakeAPI{handle: func(map[string]string) (int, interface{}) { return 200, entry{} }}
	c := newClient(t, api, Config{})
	if c.Configured() {
		t.Fatal("client without key must not report configured")
	}
	_, err := c.FetchPurchases(context.Background(), contract, topic0, 0, 10)
	if !errors.Is(err, ErrNoAPIKey) || !chain.IsKind(err, chain.KindFatalConfig) {
		t.Fatalf("expected ErrNoAPIKey, got %v", err)
	}
	if len(api.requests) != 0 {
		t.Fatal("no request must be sent without a key")
	}
}

func TestProxyLookups(t *testing.T) {
	api := &fakeAPI{handle: func(q map[string]string) (int, interface{}) {
		if q["module"] != "proxy" {
			return 400, entry{}
		}
		switch q["action"] {
		case "eth_blockNumber":
			return 200, entry{"jsonrpc": "2.0", "id": 83, "result": "0x4b7"}
		case "eth_getBlockByNumber":
			if q["tag"] != "0x64" || q["boolean"] != "false" {
				return 200, entry{"jsonrpc": "2.0", "id": 1, "error": entry{"code": -32602, "message": "invalid argument"}}
			}
			return 200, entry{"jsonrpc": "2.0", "id": 1, "result": entry{"number": "0x64", "timestamp": "0x6553f100"}}
		}
		return 400, entry{}
	}}
	c := newClient(t, api, Config{APIKey: "key"})

	head, err := c.LatestBlock(context.Background())
	if err != nil || head != 1207 {
		t.Fatalf("LatestBlock = %d, %v", head, err)
	}
	ts, err := c.BlockTimestamp(context.Background(), 100)
	if err != nil || ts != 0x6553f100 {
		t.Fatalf("BlockTimestamp = %d, %v", ts, err)
	}
	if _, err := c.BlockTimestamp(context.Background(), 101); !chain.IsKind(err, chain.KindFatalConfig) {
		t.Fatalf("expected API error, got %v", err)
	}
}

func TestFetchPurchasesMinimalEntries(t *testing.T) {
	first := purchaseEntry(20, big.NewInt(7), big.NewInt(70), 0)
	second := purchaseEntry(20, big.NewInt(8), big.NewInt(80), 0)
	for _, e := range []entry{first, second} {
		delete(e, "address")
		delete(e, "logIndex")
		delete(e, "timeStamp")
	}

	api := &fakeAPI{handle: func(map[string]string) (int, interface{}) {
		return 200, entry{"status": "1", "message": "OK", "result": []entry{first, second}}
	}}
	got, err := newClient(t, api, Config{APIKey: "key"}).FetchPurchases(context.Background(), contract, topic0, 0, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d purchases, want 2", len(got))
	}
	if got[0].TxHash != got[1].TxHash || got[0].Key() == got[1].Key() {
		t.Fatalf("purchases of one transaction must keep distinct keys: %v %v", got[0].Key(), got[1].Key())
	}
	if got[0].BlockNumber != 20 || got[0].NativeAmount.Int64() != 7 || got[0].HasTimestamp() {
		t.Fatalf("unexpected purchase %+v", got[0])
	}
}

func TestFetchPurchasesSkipsEntryWithoutBlock(t *testing.T) {
	noBlock := purchaseEntry(30, big.NewInt(1), big.NewInt(1), 0)
	delete(noBlock, "blockNumber")
	badAddress := purchaseEntry(31, big.NewInt(1), big.NewInt(1), 0)
	badAddress["address"] = "0xnothex"
	good := purchaseEntry(32, big.NewInt(2), big.NewInt(2), 0)

	api := &fakeAPI{handle: func(map[string]string) (int, interface{}) {
		return 200, entry{"status": "1", "message": "OK", "result": []entry{noBlock, badAddress, good}}
	}}
	got, err := newClient(t, api, Config{APIKey: "key"}).FetchPurchases(context.Background(), contract, topic0, 0, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].BlockNumber != 32 {
		t.Fatalf("unexpected purchases %v", got)
	}
}

func TestFetchPurchasesPacesRequests(t *testing.T) {
	api := &fakeAPI{handle: func(map[string]string) (int, interface{}) {
		return 200, entry{"status": "0", "message": "No records found", "result": []entry{}}
	}}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	var (
		mu     sync.Mutex
		sleeps []time.Duration
	)
	c := New(Config{BaseURL: srv.URL, APIKey: "key", Window: 10, MinInterval: time.Minute},
		WithSleep(func(_ context.Context, d time.Duration) error {
			mu.Lock()
			sleeps = append(sleeps, d)
			mu.Unlock()
			return nil
		}),
	)

	if _, err := c.FetchPurchases(context.Background(), contract, topic0, 0, 40); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.requests) != 4 {
		t.Fatalf("requests = %d, want 4", len(api.requests))
	}
	if len(sleeps) != 3 {
		t.Fatalf("sleeps = %v, want one before each page after the first", sleeps)
	}
	for _, d := range sleeps {
		if d <= 0 || d > time.Minute {
			t.Fatalf("pause = %v, want within (0, 1m]", d)
		}
	}
}

func TestPacerHonoursCancellation(t *testing.T) {
	p := newPacer(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	if err := p.wait(ctx); err != nil {
		t.Fatalf("first request must not wait: %v", err)
	}
	cancel()
	if err := p.wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
