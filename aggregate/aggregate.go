// Package aggregate sums purchase amounts per buyer.
package aggregate

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/hedeqiang/tally/event"
)

// Summary holds per-buyer and overall totals. Amounts are in the smallest
// unit of the chain's native currency (wei).
type Summary struct {
	ByBuyer    map[event.Address]*big.Int
	Total      *big.Int
	TokenTotal *big.Int
	Count      int
}

// BuyerTotal is one row of Summary.Buyers.
type BuyerTotal struct {
	Buyer  event.Address
	Amount *big.Int
}

// Aggregate sums native amounts per buyer and overall. It does not
// deduplicate: every purchase counts once per occurrence.
func Aggregate(purchases []event.Purchase) Summary {
	s := empty()
	for _, p := range purchases {
		s.add(p.Buyer, p.NativeAmount)
		if p.TokenAmount != nil {
			s.TokenTotal.Add(s.TokenTotal, p.TokenAmount)
		}
		s.Count++
	}
	return s
}

// Merge returns the sum of s and o. Neither input is modified.
func (s Summary) Merge(o Summary) Summary {
	out := empty()
	for _, part := range []Summary{s, o} {
		for buyer, amount := range part.ByBuyer {
			out.add(buyer, amount)
		}
		if part.TokenTotal != nil {
			out.TokenTotal.Add(out.TokenTotal, part.TokenTotal)
		}
		out.Count += part.Count
	}
	return out
}

// Buyers returns the per-buyer totals, largest first. Ties are ordered by address.
func (s Summary) Buyers() []BuyerTotal {
	rows := make([]BuyerTotal, 0, len(s.ByBuyer))
	for buyer, amount := range s.ByBuyer {
		rows = append(rows, BuyerTotal{Buyer: buyer, Amount: new(big.Int).Set(amount)})
	}
	sort.Slice(rows, func(i, j int) bool {
		if c := rows[i].Amount.Cmp(rows[j].Amount); c != 0 {
			return c > 0
		}
		return bytes.Compare(rows[i].Buyer[:], rows[j].Buyer[:]) < 0
	})
	return rows
}

// Equal reports whether two summaries hold the same totals.
func (s Summary) Equal(o Summary) bool {
	if s.Count != o.Count || len(s.ByBuyer) != len(o.ByBuyer) {
		return false
	}
	if cmp(s.Total, o.Total) != 0 || cmp(s.TokenTotal, o.TokenTotal) != 0 {
		return false
	}
	for buyer, amount := range s.ByBuyer {
		if cmp(amount, o.ByBuyer[buyer]) != 0 {
			return false
		}
	}
	return true
}

func empty() Summary {
	return Summary{
		ByBuyer:    make(map[event.Address]*big.Int),
		Total:      new(big.Int),
		TokenTotal: new(big.Int),
	}
}

func (s *Summary) add(buyer event.Address, amount *big.Int) {
	if amount == nil {
		amount = new(big.Int)
	}
	acc, ok := s.ByBuyer[buyer]
	if !ok {
		acc = new(big.Int)
		s.ByBuyer[buyer] = acc
	}
	acc.Add(acc, amount)
	s.Total.Add(s.Total, amount)
}

func cmp(a, b *big.Int) int {
	if a == nil {
		a = new(big.Int)
	}
	if b == nil {
		b = new(big.Int)
	}
	return a.Cmp(b)
}
