// Package ratelimit keeps a token bucket per client key.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// idleAfter is how long a bucket may go unused before it is dropped.
const idleAfter = 5 * time.Minute

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// Limiter allows perSecond requests per key with a burst of twice that.
type Limiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	perSecond float64
	burst     float64
	nextSweep time.Time

	now func() time.Time
}

func New(perSecond float64) *Limiter {
	return &Limiter{
		buckets:   make(map[string]*bucket),
		perSecond: perSecond,
		burst:     math.Max(perSecond*2, 1),
		now:       time.Now,
	}
}

// Allow consumes one token for key. When the bucket is empty it reports
// how long until the next token is available.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &bucket{tokens: l.burst - 1, lastSeen: now}
		return true, 0
	}

	b.tokens = math.Min(l.burst, b.tokens+now.Sub(b.lastSeen).Seconds()*l.perSecond)
	b.lastSeen = now
	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) / l.perSecond * float64(time.Second))
	return false, wait
}

// Len reports the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// sweep drops idle buckets, at most once per idleAfter. Called with mu held.
func (l *Limiter) sweep(now time.Time) {
	if now.Before(l.nextSweep) {
		return
	}
	l.nextSweep = now.Add(idleAfter)
	cutoff := now.Add(-idleAfter)
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}
