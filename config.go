package tally

import (
	"github.com/hedeqiang/tally/contract"
	"github.com/hedeqiang/tally/scanner"
)

// DefaultEventSignature is the purchase event emitted by the presale contract.
const DefaultEventSignature = "TokensPurchased(address indexed buyer, uint256 amount, uint256 tokens)"

// Config holds the global configuration for an Engine.
type Config struct {
	// Scanner configures the primary source's adaptive window scan.
	Scanner scanner.Config

	// EventSignature is the purchase event. Its canonical form gives topic0.
	EventSignature string

	// ABI is an optional JSON ABI or build artifact. When set, topic0 comes
	// from its purchase event, preferring one named like EventSignature.
	ABI []byte

	// Capabilities lists the presale methods the contract is known to offer.
	Capabilities contract.Capabilities

	// StartMargin is subtracted from a located start block.
	StartMargin uint64

	// DefaultSpan is how far back from head a run starts when the start
	// block cannot be located and a primary source is configured.
	DefaultSpan uint64

	// ExplorerSpan replaces DefaultSpan for explorer-only runs.
	ExplorerSpan uint64

	// ResolveTimestamps fills in block times for purchases that lack one.
	ResolveTimestamps bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Scanner:        scanner.DefaultConfig(),
		EventSignature: DefaultEventSignature,
		Capabilities:   contract.Capabilities{StartTime: true},
		StartMargin:    500,
		DefaultSpan:    2_000_000,
		ExplorerSpan:   200_000,
	}
}
