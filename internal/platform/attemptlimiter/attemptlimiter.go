package attemptlimiter

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter applies a token bucket per receipt code (or any string key) and
// evicts idle entries so an open verification endpoint cannot grow it
// without bound. A nil *Limiter allows everything.
type Limiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu     sync.Mutex
	byKey  map[string]*bucket
	checks uint64
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a per-key limiter; invalid arguments yield nil (allow-all).
func New(perMinute float64, burst int, idleTTL time.Duration) *Limiter {
	if perMinute <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = 15 * time.Minute
	}
	return &Limiter{
		limit:   rate.Limit(perMinute / 60.0),
		burst:   burst,
		idleTTL: idleTTL,
		byKey:   make(map[string]*bucket),
	}
}

// Allow reports whether one attempt may proceed for key at now.
func (l *Limiter) Allow(key string, now time.Time) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.byKey[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byKey[key] = b
	}
	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)

	l.checks++
	if l.checks%256 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.byKey {
			if v.lastSeen.Before(cutoff) {
				delete(l.byKey, k)
			}
		}
	}
	return allowed
}
