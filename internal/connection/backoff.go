package connection

import (
	"math/rand"
	"time"
)

// backoffDelay returns the wait before reconnect attempt (attempt+1): the
// base delay doubled per attempt, capped at max. With jitter the delay is
// drawn from [d/2, d]; the lower bound of attempt k+1 equals the upper bound
// of attempt k, so the schedule stays non-decreasing up to the cap.
func backoffDelay(base, max time.Duration, attempt int, jitter bool) time.Duration {
	if base <= 0 {
		base = DefaultReconnectBaseDelay
	}
	if max < base {
		max = base
	}

	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max || d <= 0 { // <= 0 guards shift overflow
			d = max
			break
		}
	}
	if d > max {
		d = max
	}

	if jitter && d > 1 {
		half := d / 2
		d = half + time.Duration(rand.Int63n(int64(half)+1))
	}
	return d
}
