package schedloop

import (
	"math"
	"math/rand"
	"time"
)

// retryDelay is the capped-exponential-with-jitter backoff used between
// retries of a transient store/broker error, generalized from the
// teacher's job-retry delay math (same cap, same +-25% jitter) to the
// loop's own retry-the-whole-cycle concern instead of retry-one-job.
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
