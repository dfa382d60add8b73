package executor

import (
	"math/rand"
	"time"
)

// Backoff computes exponential retry delays: the base delay doubles per
// retry, capped at Max, with jitter so concurrent retries against the
// same provider spread out.
type Backoff struct {
	// Base is the delay before the first retry.
	Base time.Duration
	// Max caps the uncapped exponential delay.
	Max time.Duration
}

// Delay returns the delay before retry number `retry` (0-indexed). The
// returned value is uniformly jittered between half the exponential
// delay and the full delay.
func (b Backoff) Delay(retry int) time.Duration {
	if b.Base <= 0 {
		return 0
	}

	d := b.Base
	for i := 0; i < retry; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			d = b.Max
			break
		}
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}

	half := d / 2
	if half <= 0 {
		return d
	}
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
