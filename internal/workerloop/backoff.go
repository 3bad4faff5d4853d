package workerloop

import (
	"math"
	"math/rand"
	"time"
)

// retryDelay is the capped-exponential-with-jitter backoff between
// retries of a transient store error in the run loop, mirroring
// internal/schedloop's own retryDelay (itself generalized from the
// teacher's per-job retry delay math).
func retryDelay(attempt int) time.Duration {
	const base = 500 * time.Millisecond
	const max = 30 * time.Second

	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if delay > max {
		delay = max
	}
	jitter := time.Duration(rand.Int63n(int64(delay/2+1))) - delay/4
	return delay + jitter
}
