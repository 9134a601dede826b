package admission

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// bucket is one connection's token bucket and when it was last used.
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// bucketPool hands out a token bucket per connection key. Buckets of
// connections that went quiet for longer than ttl are collected on the way,
// every sweepEvery lookups.
type bucketPool struct {
	rps   rate.Limit
	burst int

	mu         sync.Mutex
	buckets    map[string]*bucket
	ttl        time.Duration
	lookups    uint64
	sweepEvery uint64
}

func newBucketPool(rps float64, burst int) *bucketPool {
	if burst <= 0 {
		burst = 1
	}
	return &bucketPool{
		rps:        rate.Limit(rps),
		burst:      burst,
		buckets:    make(map[string]*bucket),
		ttl:        10 * time.Minute,
		sweepEvery: 5000,
	}
}

// get returns the bucket for key, creating it full.
func (p *bucketPool) get(key string, now time.Time) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Sweep before touching key so a stale bucket for key is replaced too.
	p.lookups++
	if p.lookups >= p.sweepEvery {
		for k, b := range p.buckets {
			if now.Sub(b.lastSeen) >= p.ttl {
				delete(p.buckets, k)
			}
		}
		p.lookups = 0
	}

	if b, ok := p.buckets[key]; ok {
		b.lastSeen = now
		return b.limiter
	}
	lim := rate.NewLimiter(p.rps, p.burst)
	p.buckets[key] = &bucket{limiter: lim, lastSeen: now}
	return lim
}

// take consumes one token at now. When the bucket is empty nothing is
// consumed and the wait until the next token is returned.
func (p *bucketPool) take(key string, now time.Time) (bool, time.Duration) {
	r := p.get(key, now).ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// forget drops key's bucket.
func (p *bucketPool) forget(key string) {
	p.mu.Lock()
	delete(p.buckets, key)
	p.mu.Unlock()
}

func (p *bucketPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buckets)
}

// Buckets is a keyed set of token buckets for callers outside admission,
// such as the HTTP edge limiter. It is safe for concurrent use.
type Buckets struct {
	pool *bucketPool
}

// NewBuckets returns buckets refilling at rps with room for burst tokens.
// A burst below 1 is treated as 1.
func NewBuckets(rps float64, burst int) *Buckets {
	return &Buckets{pool: newBucketPool(rps, burst)}
}

// Take consumes one token of key's bucket. When none is available it reports
// how long until one is.
func (b *Buckets) Take(key string, now time.Time) (bool, time.Duration) {
	return b.pool.take(key, now)
}

// Len reports how many buckets are tracked.
func (b *Buckets) Len() int { return b.pool.size() }
