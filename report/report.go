// Package report renders a finished run for people (text) and for other
// programs (JSON).
package report

import (
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sugawarayuuta/sonnet"

	"github.com/hedeqiang/tally"
)

// Options controls unit formatting.
type Options struct {
	// Symbol is the native currency's ticker.
	Symbol string

	// Decimals of the native currency and of the sold token.
	Decimals      int32
	TokenDecimals int32
}

// DefaultOptions formats amounts as 18-decimal MATIC and tokens.
func DefaultOptions() Options {
	return Options{Symbol: "MATIC", Decimals: 18, TokenDecimals: 18}
}

// Units converts an amount in the smallest unit to whole units.
func Units(v *big.Int, decimals int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -decimals)
}

// Text writes the run as a purchase listing followed by totals.
func Text(w io.Writer, res *tally.Result, opts Options) error {
	var b strings.Builder

	fmt.Fprintf(&b, "Purchases found: %d (blocks %d-%d) for presale %s\n",
		len(res.Purchases), res.From, res.To, res.Contract.Hex())
	if res.Source != "" {
		fmt.Fprintf(&b, "Source: %s", res.Source)
		if res.PrimaryExhausted {
			b.WriteString(" (primary rate-limited)")
		}
		b.WriteString("\n")
	}

	for _, p := range res.Purchases {
		fmt.Fprintf(&b, "- %s | amount: %s %s | tokens: %s | tx: %s | time: %s\n",
			p.Buyer.Hex(),
			Units(p.NativeAmount, opts.Decimals).String(), opts.Symbol,
			Units(p.TokenAmount, opts.TokenDecimals).StringFixed(0),
			p.TxHash.Hex(),
			blockTime(p.Timestamp),
		)
	}

	fmt.Fprintf(&b, "\nTotals:\n")
	fmt.Fprintf(&b, "- total %s: %s\n", opts.Symbol, Units(res.Summary.Total, opts.Decimals).String())
	fmt.Fprintf(&b, "- unique buyers: %d\n", len(res.Summary.ByBuyer))

	if rows := res.Summary.Buyers(); len(rows) > 0 {
		b.WriteString("- buyers:\n")
		for _, row := range rows {
			fmt.Fprintf(&b, "  %s: %s %s\n", row.Buyer.Hex(), Units(row.Amount, opts.Decimals).String(), opts.Symbol)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func blockTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

type document struct {
	Contract         string     `json:"contract"`
	FromBlock        uint64     `json:"fromBlock"`
	ToBlock          uint64     `json:"toBlock"`
	Head             uint64     `json:"head"`
	Source           string     `json:"source"`
	PrimaryExhausted bool       `json:"primaryExhausted"`
	FallbackUsed     bool       `json:"fallbackUsed"`
	Purchases        []purchase `json:"purchases"`
	Totals           totals     `json:"totals"`
}

type purchase struct {
	Buyer       string `json:"buyer"`
	AmountWei   string `json:"amountWei"`
	Amount      string `json:"amount"`
	Tokens      string `json:"tokens"`
	TxHash      string `json:"txHash"`
	BlockNumber uint64 `json:"blockNumber"`
	LogIndex    uint   `json:"logIndex"`
	Timestamp   int64  `json:"timestamp,omitempty"`
}

type totals struct {
	Symbol    string        `json:"symbol"`
	TotalWei  string        `json:"totalWei"`
	Total     string        `json:"total"`
	Purchases int           `json:"purchases"`
	Buyers    []buyerAmount `json:"buyers"`
}

type buyerAmount struct {
	Buyer     string `json:"buyer"`
	AmountWei string `json:"amountWei"`
	Amount    string `json:"amount"`
}

// JSON writes the run as one JSON document followed by a newline.
func JSON(w io.Writer, res *tally.Result, opts Options) error {
	doc := document{
		Contract:         res.Contract.Hex(),
		FromBlock:        res.From,
		ToBlock:          res.To,
		Head:             res.Head,
		Source:           res.Source,
		PrimaryExhausted: res.PrimaryExhausted,
		FallbackUsed:     res.FallbackUsed,
		Purchases:        make([]purchase, 0, len(res.Purchases)),
		Totals: totals{
			Symbol:    opts.Symbol,
			TotalWei:  wei(res.Summary.Total),
			Total:     Units(res.Summary.Total, opts.Decimals).String(),
			Purchases: res.Summary.Count,
			Buyers:    []buyerAmount{},
		},
	}

	for _, p := range res.Purchases {
		row := purchase{
			Buyer:       p.Buyer.Hex(),
			AmountWei:   wei(p.NativeAmount),
			Amount:      Units(p.NativeAmount, opts.Decimals).String(),
			Tokens:      Units(p.TokenAmount, opts.TokenDecimals).String(),
			TxHash:      p.TxHash.Hex(),
			BlockNumber: p.BlockNumber,
			LogIndex:    p.LogIndex,
		}
		if p.HasTimestamp() {
			row.Timestamp = p.Timestamp.Unix()
		}
		doc.Purchases = append(doc.Purchases, row)
	}
	for _, row := range res.Summary.Buyers() {
		doc.Totals.Buyers = append(doc.Totals.Buyers, buyerAmount{
			Buyer:     row.Buyer.Hex(),
			AmountWei: wei(row.Amount),
			Amount:    Units(row.Amount, opts.Decimals).String(),
		})
	}

	data, err := sonnet.Marshal(doc)
	if err != nil {
		return fmt.Errorf("report: encode: %w", err)
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

func wei(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
