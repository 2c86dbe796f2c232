package internal

import (
	"sync"
	"time"

	"github.com/maypok86/otter/v2"
	"golang.org/x/time/rate"
)

// RateLimiter hands out a token bucket per key. Buckets for keys that go
// quiet expire from the cache.
type RateLimiter struct {
	mu      sync.Mutex
	buckets *otter.Cache[string, *rate.Limiter]
	limit   rate.Limit
	burst   int
}

// NewRateLimiter allows perSecond events per key with the given burst.
// A non-positive rate disables limiting.
func NewRateLimiter(perSecond float64, burst int, idle time.Duration) *RateLimiter {
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		buckets: otter.Must(&otter.Options[string, *rate.Limiter]{
			MaximumSize:      65536,
			InitialCapacity:  256,
			ExpiryCalculator: otter.ExpiryAccessing[string, *rate.Limiter](idle),
		}),
		limit: rate.Limit(perSecond),
		burst: burst,
	}
}

func (r *RateLimiter) Allow(key string) bool {
	if r == nil || r.limit <= 0 {
		return true
	}
	r.mu.Lock()
	limiter, ok := r.buckets.GetIfPresent(key)
	if !ok {
		limiter = rate.NewLimiter(r.limit, r.burst)
		r.buckets.Set(key, limiter)
	}
	r.mu.Unlock()
	return limiter.Allow()
}

// newConnLimiter returns nil when limiting is disabled.
func newConnLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}
