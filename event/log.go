// Package event defines the core data structures for contract logs and the
// purchases reconstructed from them.
package event

import (
	"time"
)

// Hash represents a 32-byte hash.
type Hash [32]byte

// Address represents a 20-byte Ethereum-compatible address.
type Address [20]byte

// Log represents a single raw event log emitted by a smart contract.
type Log struct {
	// Source names the log source that returned this log (e.g. "ethereum", "explorer").
	Source string

	// Address is the contract address that emitted the event.
	Address Address

	// Topics contains the indexed event parameters.
	// Topics[0] is the event signature hash for non-anonymous events.
	Topics []Hash

	// Data holds the non-indexed event parameters (ABI-encoded words).
	Data []byte

	// BlockNumber is the block in which this log was emitted.
	BlockNumber uint64

	// TxHash is the transaction hash that produced this log.
	TxHash Hash

	// LogIndex is the log's position in the block.
	LogIndex uint

	// Removed indicates whether this log was reverted due to a chain reorganization.
	Removed bool

	// Timestamp is the block timestamp, when the source reports it.
	Timestamp time.Time
}

// EventSignature returns the first topic (event signature hash), or a zero hash if no topics exist.
func (l Log) EventSignature() Hash {
	if len(l.Topics) > 0 {
		return l.Topics[0]
	}
	return Hash{}
}
