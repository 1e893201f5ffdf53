package retry

import "time"

// Fixed allows a bounded number of retries at a constant interval.
// The scanner uses it as its rate-limit budget.
type Fixed struct {
	Attempts int
	Interval time.Duration
}

// Constant returns a Fixed strategy.
func Constant(attempts int, interval time.Duration) Fixed {
	return Fixed{Attempts: attempts, Interval: interval}
}

// Next returns Interval while attempt <= Attempts.
func (f Fixed) Next(attempt int) (time.Duration, bool) {
	if attempt < 1 || attempt > f.Attempts {
		return 0, false
	}
	return f.Interval, true
}
