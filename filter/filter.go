// Package filter describes log queries and the local predicates used to check
// that a source returned only what was asked for.
package filter

import (
	"github.com/hedeqiang/tally/event"
)

// Filter reports whether a log satisfies some criteria.
type Filter interface {
	Match(log event.Log) bool
}

// Query describes a ranged log request.
type Query struct {
	Addresses []event.Address
	Topics    [][]event.Hash
	FromBlock *uint64
	ToBlock   *uint64
}

// QueryOption configures a Query.
type QueryOption func(*Query)

// NewQuery creates a Query with the given options applied.
func NewQuery(opts ...QueryOption) Query {
	var q Query
	for _, opt := range opts {
		opt(&q)
	}
	return q
}

// WithAddresses adds contract addresses to filter on.
func WithAddresses(addrs ...event.Address) QueryOption {
	return func(q *Query) {
		q.Addresses = append(q.Addresses, addrs...)
	}
}

// WithTopics sets the topic filters.
// Each element in the outer slice corresponds to a topic position.
// Multiple hashes within an inner slice are OR-matched.
func WithTopics(topics ...[]event.Hash) QueryOption {
	return func(q *Query) {
		q.Topics = topics
	}
}

// WithSignature restricts topic0 to a single event signature hash.
func WithSignature(topic0 event.Hash) QueryOption {
	return func(q *Query) {
		if len(q.Topics) == 0 {
			q.Topics = [][]event.Hash{{topic0}}
			return
		}
		q.Topics[0] = []event.Hash{topic0}
	}
}

// WithBlockRange sets both the starting and ending block numbers.
func WithBlockRange(from, to uint64) QueryOption {
	return func(q *Query) {
		q.FromBlock = &from
		q.ToBlock = &to
	}
}

// InWindow returns a copy of q restricted to w.
func (q Query) InWindow(w event.Window) Query {
	out := q
	from, to := w.From, w.To
	out.FromBlock = &from
	out.ToBlock = &to
	return out
}

// Window returns the query's block range and whether both bounds are set.
func (q Query) Window() (event.Window, bool) {
	if q.FromBlock == nil || q.ToBlock == nil {
		return event.Window{}, false
	}
	return event.Window{From: *q.FromBlock, To: *q.ToBlock}, true
}

// Matcher builds the local predicate equivalent to the query.
func (q Query) Matcher() Filter {
	var parts []Filter
	if len(q.Addresses) > 0 {
		parts = append(parts, NewAddressFilter(q.Addresses...))
	}
	for pos, hashes := range q.Topics {
		if len(hashes) > 0 {
			parts = append(parts, NewTopicFilter(pos, hashes...))
		}
	}
	if q.FromBlock != nil || q.ToBlock != nil {
		parts = append(parts, NewBlockRangeFilter(q.FromBlock, q.ToBlock))
	}
	return AllOf(parts...)
}
