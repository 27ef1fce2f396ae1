// Package ratelimit holds the per-connection inbound message limiter used by
// the relay.
package ratelimit

import (
	"sync"
	"time"
)

// One token is stored as 1e9 nano-tokens, so a refill rate of N tokens/sec
// adds exactly N nano-tokens per elapsed nanosecond.
const nanoPerToken = int64(time.Second)

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket refills at an integer rate of tokens per second and holds at
// most capacity tokens. It starts full.
type TokenBucket struct {
	mu    sync.Mutex
	clock Clock

	capacity int64 // nano-tokens
	rate     int64 // tokens/sec == nano-tokens/ns

	avail int64 // nano-tokens
	last  time.Time
}

func NewTokenBucket(clock Clock, capacity, ratePerSecond int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	b := &TokenBucket{
		clock:    clock,
		capacity: toNano(capacity),
		rate:     max(ratePerSecond, 0),
		last:     clock.Now(),
	}
	b.avail = b.capacity
	return b
}

// NewPerSecond returns a bucket allowing bursts of n and a sustained n/sec.
func NewPerSecond(clock Clock, n int) *TokenBucket {
	return NewTokenBucket(clock, int64(n), int64(n))
}

// Allow consumes one token if available.
func (b *TokenBucket) Allow() bool {
	return b.AllowN(1)
}

// AllowN consumes n tokens if available. n <= 0 always succeeds.
func (b *TokenBucket) AllowN(n int64) bool {
	if n <= 0 {
		return true
	}
	cost := toNano(n)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.avail < cost {
		return false
	}
	b.avail -= cost
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	elapsed := now.Sub(b.last).Nanoseconds()
	b.last = now
	// A clock that went backwards just moves the reference point.
	if elapsed <= 0 || b.rate == 0 || b.avail >= b.capacity {
		return
	}

	need := b.capacity - b.avail
	if elapsed >= need/b.rate {
		b.avail = b.capacity
		return
	}
	b.avail = min(b.avail+elapsed*b.rate, b.capacity)
}

func toNano(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > maxInt64/nanoPerToken {
		return maxInt64
	}
	return tokens * nanoPerToken
}
