package report

import (
	"bytes"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"github.com/hedeqiang/tally"
	"github.com/hedeqiang/tally/aggregate"
	"github.com/hedeqiang/tally/event"
)

var (
	presale = event.MustHexToAddress("0x2699838c090346Eaf93F96069B56B3637828dFAC")
	buyerA  = event.MustHexToAddress("0x000000000000000000000000000000000000000a")
	buyerB  = event.MustHexToAddress("0x000000000000000000000000000000000000000b")
)

// ether returns n * 10^18 / div.
func ether(n, div int64) *big.Int {
	v := new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
	return v.Div(v, big.NewInt(div))
}

func scenario() *tally.Result {
	purchases := []event.Purchase{
		{Buyer: buyerA, NativeAmount: ether(1, 1), TokenAmount: ether(100, 1), BlockNumber: 10},
		{Buyer: buyerB, NativeAmount: ether(2, 1), TokenAmount: ether(200, 1), BlockNumber: 12, Timestamp: time.Unix(1700000000, 0)},
		{Buyer: buyerA, NativeAmount: ether(1, 2), TokenAmount: ether(50, 1), BlockNumber: 15, LogIndex: 2},
	}
	return &tally.Result{
		Contract:  presale,
		From:      0,
		To:        20,
		Head:      20,
		Source:    "polygon",
		Purchases: purchases,
		Summary:   aggregate.Aggregate(purchases),
	}
}

func TestUnits(t *testing.T) {
	tests := []struct {
		in       *big.Int
		decimals int32
		want     string
	}{
		{ether(7, 2), 18, "3.5"},
		{ether(2, 1), 18, "2"},
		{big.NewInt(1), 18, "0.000000000000000001"},
		{big.NewInt(1234), 0, "1234"},
		{nil, 18, "0"},
	}
	for _, tt := range tests {
		if got := Units(tt.in, tt.decimals).String(); got != tt.want {
			t.Errorf("Units(%v, %d) = %s, want %s", tt.in, tt.decimals, got, tt.want)
		}
	}
}

func TestText(t *testing.T) {
	var buf bytes.Buffer
	if err := Text(&buf, scenario(), DefaultOptions()); err != nil {
		t.Fatalf("Text: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"Purchases found: 3 (blocks 0-20) for presale " + presale.Hex(),
		"Source: polygon\n",
		"- " + buyerB.Hex() + " | amount: 2 MATIC | tokens: 200 | tx: ",
		"time: 2023-11-14T22:13:20Z",
		"time: -\n",
		"- total MATIC: 3.5\n",
		"- unique buyers: 2\n",
		"  " + buyerB.Hex() + ": 2 MATIC\n  " + buyerA.Hex() + ": 1.5 MATIC\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestTextEmpty(t *testing.T) {
	res := &tally.Result{Contract: presale, From: 5, To: 4, Summary: aggregate.Aggregate(nil)}
	var buf bytes.Buffer
	if err := Text(&buf, res, DefaultOptions()); err != nil {
		t.Fatalf("Text: %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "- buyers:\n") || !strings.Contains(out, "- unique buyers: 0\n") || !strings.Contains(out, "- total MATIC: 0\n") {
		t.Fatalf("unexpected empty report:\n%s", out)
	}
}

func TestJSON(t *testing.T) {
	var buf bytes.Buffer
	opts := DefaultOptions()
	opts.Symbol = "ETH"
	if err := JSON(&buf, scenario(), opts); err != nil {
		t.Fatalf("JSON: %v", err)
	}

	var doc document
	if err := sonnet.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Contract != presale.Hex() || doc.Source != "polygon" || doc.ToBlock != 20 {
		t.Fatalf("unexpected header %+v", doc)
	}
	if len(doc.Purchases) != 3 || doc.Purchases[1].Timestamp != 1700000000 || doc.Purchases[0].Timestamp != 0 {
		t.Fatalf("unexpected purchases %+v", doc.Purchases)
	}
	if doc.Purchases[2].Amount != "0.5" || doc.Purchases[2].AmountWei != "500000000000000000" {
		t.Fatalf("unexpected amount %+v", doc.Purchases[2])
	}
	if doc.Totals.Total != "3.5" || doc.Totals.TotalWei != "3500000000000000000" || doc.Totals.Symbol != "ETH" {
		t.Fatalf("unexpected totals %+v", doc.Totals)
	}
	if len(doc.Totals.Buyers) != 2 || doc.Totals.Buyers[0].Buyer != buyerB.Hex() {
		t.Fatalf("unexpected buyers %+v", doc.Totals.Buyers)
	}
}
