package tally

import "errors"

var (
	// ErrNoSource is returned when neither a primary nor a fallback source is configured.
	ErrNoSource = errors.New("tally: no log source configured")

	// ErrFallbackRequired is returned when the primary source cannot produce a
	// result and no usable fallback is configured.
	ErrFallbackRequired = errors.New("tally: fallback source required but not configured")

	// ErrInvalidRange is returned when an explicit start block is after the end block.
	ErrInvalidRange = errors.New("tally: start block is after end block")

	// ErrNoContract is returned when the request names no contract.
	ErrNoContract = errors.New("tally: contract address not set")

	// ErrNoPurchaseEvent is returned when a configured ABI declares no event
	// with a buyer address and two amounts.
	ErrNoPurchaseEvent = errors.New("tally: ABI declares no purchase event")
)
