package filter

import (
	"github.com/hedeqiang/tally/event"
)

// AddressFilter matches logs emitted by one of a set of contracts.
type AddressFilter struct {
	addresses map[event.Address]struct{}
}

// NewAddressFilter creates a filter that matches the given addresses.
func NewAddressFilter(addrs ...event.Address) *AddressFilter {
	m := make(map[event.Address]struct{}, len(addrs))
	for _, a := range addrs {
		m[a] = struct{}{}
	}
	return &AddressFilter{addresses: m}
}

// Match reports whether the log's address is in the set.
func (f *AddressFilter) Match(log event.Log) bool {
	_, ok := f.addresses[log.Address]
	return ok
}

// TopicFilter matches logs carrying one of a set of hashes at a topic position.
type TopicFilter struct {
	position int
	hashes   map[event.Hash]struct{}
}

// NewTopicFilter creates a filter for the 0-based topic position.
func NewTopicFilter(position int, hashes ...event.Hash) *TopicFilter {
	m := make(map[event.Hash]struct{}, len(hashes))
	for _, h := range hashes {
		m[h] = struct{}{}
	}
	return &TopicFilter{position: position, hashes: m}
}

// Match reports whether the log has a matching topic at the configured position.
func (f *TopicFilter) Match(log event.Log) bool {
	if f.position >= len(log.Topics) {
		return false
	}
	_, ok := f.hashes[log.Topics[f.position]]
	return ok
}

// BlockRangeFilter matches logs within an inclusive block range.
// A nil bound is open.
type BlockRangeFilter struct {
	from *uint64
	to   *uint64
}

// NewBlockRangeFilter creates a filter matching logs within [from, to].
func NewBlockRangeFilter(from, to *uint64) *BlockRangeFilter {
	return &BlockRangeFilter{from: from, to: to}
}

// Match reports whether the log's block number falls within the range.
func (f *BlockRangeFilter) Match(log event.Log) bool {
	if f.from != nil && log.BlockNumber < *f.from {
		return false
	}
	if f.to != nil && log.BlockNumber > *f.to {
		return false
	}
	return true
}

// all matches when every child matches. An empty set matches everything.
type all []Filter

// AllOf combines filters with AND semantics.
func AllOf(filters ...Filter) Filter {
	return all(filters)
}

func (a all) Match(log event.Log) bool {
	for _, f := range a {
		if !f.Match(log) {
			return false
		}
	}
	return true
}
