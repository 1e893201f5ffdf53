package event

import "fmt"

// Window is a contiguous inclusive block range queried as one unit.
type Window struct {
	From uint64
	To   uint64
}

// Valid reports whether From <= To.
func (w Window) Valid() bool {
	return w.From <= w.To
}

// Contains reports whether block lies within the window.
func (w Window) Contains(block uint64) bool {
	return block >= w.From && block <= w.To
}

// Len returns the number of blocks in the window, or 0 for an invalid window.
func (w Window) Len() uint64 {
	if !w.Valid() {
		return 0
	}
	return w.To - w.From + 1
}

// String implements fmt.Stringer.
func (w Window) String() string {
	return fmt.Sprintf("[%d, %d]", w.From, w.To)
}

// Batch holds the purchases decoded from one window.
type Batch struct {
	Purchases []Purchase
	Window    Window
}

// Len returns the number of purchases in the batch.
func (b Batch) Len() int {
	return len(b.Purchases)
}

// IsEmpty reports whether the batch contains no purchases.
func (b Batch) IsEmpty() bool {
	return len(b.Purchases) == 0
}
