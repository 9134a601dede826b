package translation

import (
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// fullJitter is an exponential schedule where each wait is drawn uniformly
// from [0, min(cap, base*factor^n)].
type fullJitter struct {
	base, cap time.Duration
	factor    float64
	attempt   int
	rand      func(n int64) int64
}

var _ backoff.BackOff = (*fullJitter)(nil)

func newFullJitter(base, cap time.Duration) *fullJitter {
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	if cap < base {
		cap = base
	}
	return &fullJitter{base: base, cap: cap, factor: 2, rand: rand.Int64N}
}

// ceiling is the upper bound of the next wait before jitter.
func (b *fullJitter) ceiling() time.Duration {
	d := float64(b.base)
	for i := 0; i < b.attempt; i++ {
		d *= b.factor
		if d >= float64(b.cap) {
			return b.cap
		}
	}
	return time.Duration(d)
}

// NextBackOff implements backoff.BackOff.
func (b *fullJitter) NextBackOff() time.Duration {
	ceil := b.ceiling()
	b.attempt++
	if ceil <= 0 {
		return 0
	}
	return time.Duration(b.rand(int64(ceil) + 1))
}

// Reset implements backoff.BackOff.
func (b *fullJitter) Reset() { b.attempt = 0 }
