package retrytaxonomy

import (
	"math"
	"math/rand"
	"time"
)

// MaxJitterFraction bounds backoff jitter at 20% of the computed delay,
// the ceiling chosen for Open Question (b) in the absence of a specified
// jitter curve.
const MaxJitterFraction = 0.2

// Backoff computes the exponential backoff delay for attempt (1-indexed)
// against fc's policy, applying up to MaxJitterFraction of bounded random
// jitter. base is the unit delay multiplied by the class's backoff base
// raised to (attempt-1).
func Backoff(fc FailureClass, attempt int, base time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := PolicyFor(fc).BackoffBase
	if mult <= 0 {
		mult = 1
	}
	delay := float64(base) * math.Pow(mult, float64(attempt-1))
	jitter := delay * MaxJitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter, not security sensitive
	delay += jitter
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
