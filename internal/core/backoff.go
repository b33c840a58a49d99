package core

import (
	"math/rand"
	"time"
)

// maxBackoff caps the delay between fetch attempts.
const maxBackoff = 30 * time.Second

// RetryDelay returns the pause before retrying after the given attempt
// (1-based): exponential growth from initial, capped, with half-width
// jitter so concurrent retries against the same origin spread out.
func RetryDelay(initial time.Duration, attempt int) time.Duration {
	if initial <= 0 {
		initial = time.Second
	}
	if attempt < 1 {
		attempt = 1
	}
	d := initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			d = maxBackoff
			break
		}
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
