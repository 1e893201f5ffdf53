package event

import (
	"fmt"
	"math/big"
	"time"
)

// Purchase is one reconstructed purchase event. It is value data: the amounts
// are never mutated after decoding.
type Purchase struct {
	// Buyer is the account that paid.
	Buyer Address

	// NativeAmount is the paid amount in the chain's smallest currency unit (wei).
	NativeAmount *big.Int

	// TokenAmount is the purchased amount in the token's smallest unit.
	TokenAmount *big.Int

	// TxHash identifies the purchase transaction.
	TxHash Hash

	// BlockNumber is the block that included the purchase.
	BlockNumber uint64

	// LogIndex is the log's position in the block.
	LogIndex uint

	// Timestamp is the block time. Zero until resolved.
	Timestamp time.Time

	// Source names the log source that produced the purchase.
	Source string
}

// Key identifies a purchase within a chain.
type Key struct {
	TxHash   Hash
	LogIndex uint
}

// Key returns the purchase's identity.
func (p Purchase) Key() Key {
	return Key{TxHash: p.TxHash, LogIndex: p.LogIndex}
}

// HasTimestamp reports whether the block time has been resolved.
func (p Purchase) HasTimestamp() bool {
	return !p.Timestamp.IsZero()
}

// Less orders purchases by block number, then log index.
func (p Purchase) Less(o Purchase) bool {
	if p.BlockNumber != o.BlockNumber {
		return p.BlockNumber < o.BlockNumber
	}
	return p.LogIndex < o.LogIndex
}

// String implements fmt.Stringer.
func (p Purchase) String() string {
	return fmt.Sprintf("purchase buyer=%s native=%s tokens=%s block=%d tx=%s",
		p.Buyer.Hex(), amountString(p.NativeAmount), amountString(p.TokenAmount), p.BlockNumber, p.TxHash.Hex())
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
