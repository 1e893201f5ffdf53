// Package chain defines the capabilities a log source offers to the scanner
// and the tagged error type sources report failures with.
package chain

import (
	"context"

	"github.com/hedeqiang/tally/event"
	"github.com/hedeqiang/tally/filter"
)

// BlockTimer resolves the chain head and block timestamps.
type BlockTimer interface {
	// LatestBlock returns the most recent block number.
	LatestBlock(ctx context.Context) (uint64, error)

	// BlockTimestamp returns the unix timestamp of the given block.
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
}

// Source is a primary log source, typically a node's JSON-RPC endpoint.
type Source interface {
	BlockTimer

	// ID returns the source name used in logs and errors (e.g. "ethereum").
	ID() string

	// FetchLogs retrieves logs matching the query. The query always carries
	// both block bounds. Failures are reported as *Error.
	FetchLogs(ctx context.Context, query filter.Query) ([]event.Log, error)
}

// Caller executes read-only contract calls.
type Caller interface {
	// Call runs eth_call against the latest block and returns the raw result.
	Call(ctx context.Context, to event.Address, data []byte) ([]byte, error)
}
