package client

import (
	"math/rand"
	"time"
)

// Backoff is an exponential backoff with jitter for reconnect loops.
type Backoff struct {
	Base    time.Duration
	Max     time.Duration
	attempt int
}

func NewBackoff(base, max time.Duration) *Backoff {
	return &Backoff{Base: base, Max: max}
}

// Next returns the next delay: base<<attempt capped at max, plus up to 25%
// jitter so a fleet of taps does not reconnect in lockstep.
func (b *Backoff) Next() time.Duration {
	d := b.Base << b.attempt
	if d > b.Max || d <= 0 {
		d = b.Max
	}
	b.attempt++
	return d + time.Duration(rand.Int63n(int64(d)/4+1))
}

func (b *Backoff) Reset() {
	b.attempt = 0
}
