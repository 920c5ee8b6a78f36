package scheduler

import "time"

const (
	// MaxFailureCount caps the consecutive failure counter.
	MaxFailureCount = 10
	// minBackoffBase is the smallest interval backoff grows from, in seconds.
	minBackoffBase = 5
	// maxBackoff caps the backoff before jitter, in seconds.
	maxBackoff = 3600
	// jitterFraction is the largest extra delay added on top of backoff.
	jitterFraction = 0.1
)

// Backoff returns the retry delay after failures consecutive failures:
// min(3600, max(5, interval)·2^failures) seconds, stretched by
// jitter·10% where jitter is in [0, 1).
func Backoff(intervalSeconds, failures int, jitter float64) time.Duration {
	base := intervalSeconds
	if base < minBackoffBase {
		base = minBackoffBase
	}
	secs := base
	for i := 0; i < failures && secs < maxBackoff; i++ {
		secs *= 2
	}
	if secs > maxBackoff {
		secs = maxBackoff
	}
	if jitter < 0 {
		jitter = 0
	}
	if jitter >= 1 {
		jitter = 0.999999
	}
	return time.Duration(float64(secs) * (1 + jitterFraction*jitter) * float64(time.Second))
}
