package marketdata

import "time"

// Backoff computes reconnection delays: min(Base << attempt, Cap). A reconnect
// attempt counter past MaxAttempts means the connector should give up and
// hand over to the polling fallback.
type Backoff struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

// DefaultBackoff matches the production feed settings: 1s doubling up to 16s,
// five retries.
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Cap: 16 * time.Second, MaxAttempts: 5}
}

// NextDelay returns the delay before reconnect attempt n (zero-based). Pure.
func (b Backoff) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Shift overflow guard: past 62 bits the duration is garbage anyway.
	if attempt > 30 {
		return b.Cap
	}
	d := b.Base << uint(attempt)
	if d > b.Cap || d <= 0 {
		return b.Cap
	}
	return d
}

// Exhausted reports whether the attempt counter has passed the retry budget.
func (b Backoff) Exhausted(attempt int) bool {
	return attempt > b.MaxAttempts
}
