package link

import "time"

// Sleeper blocks for d. Tests substitute a recording no-op.
type Sleeper func(d time.Duration)

// Retry is a bounded retry loop: at most Attempts calls, Delay between them.
type Retry struct {
	Attempts int
	Delay    time.Duration
	// Deadline bounds the loop's wall time when positive. It matters when
	// each call is itself slow, such as a poll that crosses a serial link.
	Deadline time.Duration
}

// Do calls fn until it returns true, Attempts calls have been made or the
// Deadline has passed, and returns the number of calls. A non-positive
// Attempts still calls fn once. There is no sleep after the final attempt.
func (r Retry) Do(sleep Sleeper, fn func(attempt int) bool) int {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	start := time.Now()
	for attempt := 1; ; attempt++ {
		if fn(attempt) {
			return attempt
		}
		if attempt >= attempts {
			return attempt
		}
		if r.Deadline > 0 && time.Since(start) >= r.Deadline {
			return attempt
		}
		if r.Delay > 0 && sleep != nil {
			sleep(r.Delay)
		}
	}
}

// DefaultReplyWait polls for data every 2µs, 20000 times (~40ms), and gives
// up after 50ms of wall time whatever the poll count.
func DefaultReplyWait() Retry {
	return Retry{Attempts: 20000, Delay: 2 * time.Microsecond, Deadline: 50 * time.Millisecond}
}

// DefaultExchangeRetry retries a whole exchange 10 times, 20ms apart.
func DefaultExchangeRetry() Retry {
	return Retry{Attempts: 10, Delay: 20 * time.Millisecond}
}
