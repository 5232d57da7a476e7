package signal

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type visitor struct {
	lim          *rate.Limiter
	blockedUntil time.Time
	lastSeen     time.Time
}

// RateLimiter is a token bucket per remote address. An address that empties
// its bucket is blocked for a fixed period.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	block    time.Duration
	now      func() time.Time
}

// NewRateLimiter allows points events per window with a burst of points.
func NewRateLimiter(points int, window, block time.Duration) *RateLimiter {
	if points <= 0 {
		points = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(float64(points) / window.Seconds()),
		burst:    points,
		block:    block,
		now:      time.Now,
	}
}

func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = now
	if now.Before(v.blockedUntil) {
		return false
	}
	if !v.lim.AllowN(now, 1) {
		v.blockedUntil = now.Add(rl.block)
		return false
	}
	return true
}

func (rl *RateLimiter) Blocked(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	v, ok := rl.visitors[key]
	return ok && rl.now().Before(v.blockedUntil)
}

// Prune forgets addresses idle for longer than idle that are not blocked.
func (rl *RateLimiter) Prune(idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	n := 0
	for k, v := range rl.visitors {
		if now.Sub(v.lastSeen) > idle && !now.Before(v.blockedUntil) {
			delete(rl.visitors, k)
			n++
		}
	}
	return n
}

// Run prunes idle addresses every interval until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context, every, idle time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			rl.Prune(idle)
		}
	}
}
