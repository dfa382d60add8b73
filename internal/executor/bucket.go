package executor

import (
	"sync"
	"time"
)

// TokenBucket is the per-provider rate-limit gate. TryTake never blocks:
// an empty bucket means the executor skips to the next provider in the
// chain rather than waiting, and the skip does not count as a failure.
type TokenBucket struct {
	mu sync.Mutex

	capacity     float64
	tokens       float64
	refillPerSec float64
	last         time.Time

	// now is injectable for tests.
	now func() time.Time
}

// NewTokenBucket creates a full bucket with the given capacity and
// refill rate in tokens per second. A non-positive capacity disables the
// gate (TryTake always succeeds).
func NewTokenBucket(capacity, refillPerSec float64) *TokenBucket {
	b := &TokenBucket{
		capacity:     capacity,
		tokens:       capacity,
		refillPerSec: refillPerSec,
		now:          time.Now,
	}
	b.last = b.now()
	return b
}

// TryTake consumes one token if available.
func (b *TokenBucket) TryTake() bool {
	if b.capacity <= 0 {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Tokens returns the current token count after refilling.
func (b *TokenBucket) Tokens() float64 {
	if b.capacity <= 0 {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	return b.tokens
}

// refill adds tokens for elapsed time. Caller must hold the lock.
func (b *TokenBucket) refill() {
	now := b.now()
	elapsed := now.Sub(b.last).Seconds()
	if elapsed <= 0 {
		return
	}
	b.last = now
	b.tokens += elapsed * b.refillPerSec
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}
