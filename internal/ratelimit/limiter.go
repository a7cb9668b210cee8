// Package ratelimit implements the fixed-window limiter and the suspicion
// tracker that guard the login surfaces. Both are keyed by caller-chosen
// strings such as "otp_send:<phone>".
package ratelimit

import (
	"sync"
	"time"

	"github.com/nospoilers/backend/internal/apperr"
	"github.com/nospoilers/backend/internal/clock"
)

// Limit describes one scope's policy.
type Limit struct {
	MaxRequests int
	Window      time.Duration
	Block       time.Duration
}

// BlockDuration is the shared lockout applied when any scope's limit trips.
const BlockDuration = 5 * time.Minute

// Per-scope limits. Window and block duration are shared policy.
var (
	OTPSendLimit   = Limit{MaxRequests: 3, Window: time.Minute, Block: BlockDuration}
	OTPVerifyLimit = Limit{MaxRequests: 8, Window: time.Minute, Block: BlockDuration}
	LoginLimit     = Limit{MaxRequests: 10, Window: time.Minute, Block: BlockDuration}
)

type bucket struct {
	count           int
	windowStartedAt time.Time
	blockedUntil    time.Time
}

// Limiter tracks request buckets per key.
type Limiter struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	clock   clock.Clock
}

func NewLimiter(clk clock.Clock) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		clock:   clk,
	}
}

// Allow admits or denies one request for key under limit. A denial is
// always apperr.ErrRateLimited; callers decide whether to score it.
func (l *Limiter) Allow(key string, limit Limit) error {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{windowStartedAt: now}
		l.buckets[key] = b
	}

	if b.blockedUntil.After(now) {
		return apperr.ErrRateLimited
	}

	if now.Sub(b.windowStartedAt) > limit.Window {
		b.count = 0
		b.windowStartedAt = now
		b.blockedUntil = time.Time{}
	}

	b.count++
	if b.count > limit.MaxRequests {
		b.blockedUntil = now.Add(limit.Block)
		return apperr.ErrRateLimited
	}
	return nil
}

// BlockedUntil reports when key becomes usable again; the zero time means
// it is not blocked.
func (l *Limiter) BlockedUntil(key string) time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if b, ok := l.buckets[key]; ok {
		return b.blockedUntil
	}
	return time.Time{}
}

// Sweep drops buckets whose window and block have both lapsed. Intended
// for a periodic ticker in the daemon; correctness never depends on it.
func (l *Limiter) Sweep() int {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, b := range l.buckets {
		if now.Sub(b.windowStartedAt) > time.Minute && !b.blockedUntil.After(now) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Stats returns a diagnostic snapshot.
func (l *Limiter) Stats() map[string]interface{} {
	now := l.clock.Now()

	l.mu.RLock()
	defer l.mu.RUnlock()

	blocked := 0
	for _, b := range l.buckets {
		if b.blockedUntil.After(now) {
			blocked++
		}
	}
	return map[string]interface{}{
		"tracked_keys": len(l.buckets),
		"blocked_keys": blocked,
	}
}
