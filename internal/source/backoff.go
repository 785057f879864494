package source

import "time"

const defaultBackoffBase = 500 * time.Millisecond

// Backoff computes reconnect delays that double per attempt up to Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before reconnect attempt n (zero-based).
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = defaultBackoffBase
	}
	limit := b.Max
	if limit < base {
		limit = base
	}

	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	return d
}
