// Package ratelimiter provides the in-process token buckets guarding the
// API. State is one mutex-guarded map keyed by credential hash; a janitor
// evicts buckets that refilled to capacity and went idle, so the map only
// holds callers that are actually active. Horizontal scaling would need this
// state in an external cache; that boundary is out of scope here.
package ratelimiter

import (
	"context"
	"sync"
	"time"
)

// Limiter decides whether a keyed caller may proceed.
type Limiter interface {
	// Allow spends one token for key. When denied, RetryAfter says how long
	// until a token is available.
	Allow(ctx context.Context, key string) (Decision, error)
	// Close stops background maintenance. The limiter stays usable.
	Close()
}

// Decision is one admission verdict.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// BucketConfig sizes one token bucket.
type BucketConfig struct {
	Capacity   int64
	RefillRate float64 // tokens per second
}

// NewBucketConfigFromPerMinute derives a bucket from a requests-per-minute
// cap: burst up to the cap, refilling at cap/60 per second.
func NewBucketConfigFromPerMinute(perMinute int) BucketConfig {
	if perMinute <= 0 {
		return BucketConfig{}
	}
	return BucketConfig{
		Capacity:   int64(perMinute),
		RefillRate: float64(perMinute) / 60.0,
	}
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// TokenBucketLimiter implements Limiter with one bucket per key.
type TokenBucketLimiter struct {
	cfg BucketConfig
	now func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	janitorStop chan struct{}
	closeOnce   sync.Once
}

var _ Limiter = (*TokenBucketLimiter)(nil)

// janitorInterval is how often idle buckets are reclaimed.
const janitorInterval = time.Minute

// NewTokenBucketLimiter builds a limiter and starts its janitor. A zero
// capacity or refill rate disables limiting: every Allow passes.
func NewTokenBucketLimiter(cfg BucketConfig) *TokenBucketLimiter {
	l := &TokenBucketLimiter{
		cfg:         cfg,
		now:         time.Now,
		buckets:     make(map[string]*bucket),
		janitorStop: make(chan struct{}),
	}
	go l.janitor()
	return l
}

// Allow spends one token from key's bucket, creating it full on first use.
func (l *TokenBucketLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	if l.cfg.Capacity <= 0 || l.cfg.RefillRate <= 0 {
		return Decision{Allowed: true}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.cfg.Capacity), lastRefill: now}
		l.buckets[key] = b
	}
	l.refill(b, now)

	if b.tokens >= 1 {
		b.tokens--
		return Decision{Allowed: true, Remaining: int64(b.tokens)}, nil
	}
	shortage := 1 - b.tokens
	return Decision{
		Allowed:    false,
		Remaining:  0,
		RetryAfter: time.Duration(shortage / l.cfg.RefillRate * float64(time.Second)),
	}, nil
}

// refill tops b up for the time elapsed since its last refill. Callers hold
// the lock.
func (l *TokenBucketLimiter) refill(b *bucket, now time.Time) {
	delta := now.Sub(b.lastRefill).Seconds()
	if delta <= 0 {
		return
	}
	b.tokens += delta * l.cfg.RefillRate
	if cap := float64(l.cfg.Capacity); b.tokens > cap {
		b.tokens = cap
	}
	b.lastRefill = now
}

// Close stops the janitor.
func (l *TokenBucketLimiter) Close() {
	l.closeOnce.Do(func() { close(l.janitorStop) })
}

func (l *TokenBucketLimiter) janitor() {
	t := time.NewTicker(janitorInterval)
	defer t.Stop()
	for {
		select {
		case <-l.janitorStop:
			return
		case <-t.C:
			l.evictIdle()
		}
	}
}

// evictIdle drops buckets that would be full on their next refill: a caller
// that has not spent a token for a full refill cycle carries no state worth
// keeping.
func (l *TokenBucketLimiter) evictIdle() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for key, b := range l.buckets {
		l.refill(b, now)
		if b.tokens >= float64(l.cfg.Capacity) {
			delete(l.buckets, key)
		}
	}
}

// Len reports the live bucket count. Used by tests and debug logging.
func (l *TokenBucketLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
