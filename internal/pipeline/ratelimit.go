package pipeline

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// domainBudget bounds validation-oracle calls per domain with a token bucket
// refilling over a rolling window. Buckets start full so a fresh domain can
// spend its whole budget immediately.
type domainBudget struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newDomainBudget(calls int, window time.Duration) *domainBudget {
	if calls <= 0 {
		calls = 1
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &domainBudget{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(calls) / window.Seconds()),
		burst:    calls,
	}
}

// Allow consumes one token for the domain, reporting whether the call may
// proceed.
func (b *domainBudget) Allow(domain string) bool {
	b.mu.Lock()
	lim, ok := b.limiters[domain]
	if !ok {
		lim = rate.NewLimiter(b.limit, b.burst)
		b.limiters[domain] = lim
	}
	b.mu.Unlock()
	return lim.Allow()
}
