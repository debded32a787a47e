package notifier

import "time"

// maxJitter is the upper bound of the uniform jitter added to each backoff.
const maxJitter = 500 * time.Millisecond

// retryDelay returns the wait before the next attempt, given the number of
// failed attempts so far (>= 1):
//
//	min(max, base*2^(attempts-1) + jitter), raised to retryAfter if that is longer.
func retryDelay(attempts int, base, maxDelay, jitter, retryAfter time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := base
	for i := 1; i < attempts && d < maxDelay; i++ {
		d *= 2
	}
	d += jitter
	if d > maxDelay {
		d = maxDelay
	}
	if retryAfter > d {
		d = retryAfter
	}
	return d
}
