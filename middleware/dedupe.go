package middleware

import (
	"sync"

	"github.com/hedeqiang/tally/event"
)

// Dedupe drops purchases whose transaction hash and log index were seen before.
type Dedupe struct {
	mu      sync.Mutex
	seen    map[event.Key]struct{}
	dropped int
}

// NewDedupe creates an empty deduplicator.
func NewDedupe() *Dedupe {
	return &Dedupe{seen: make(map[event.Key]struct{})}
}

// Wrap decorates the handler with deduplication.
func (d *Dedupe) Wrap(next Handler) Handler {
	return func(p event.Purchase) *event.Purchase {
		d.mu.Lock()
		if _, ok := d.seen[p.Key()]; ok {
			d.dropped++
			d.mu.Unlock()
			return nil
		}
		d.seen[p.Key()] = struct{}{}
		d.mu.Unlock()

		return next(p)
	}
}

// Dropped returns the number of duplicates dropped.
func (d *Dedupe) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}
