package dispatch

import (
	"math"
	"math/rand/v2"
	"time"

	"letterdrop/internal/types"
)

// RetryPolicy governs how failed sends are retried.
type RetryPolicy struct {
	// MaxAttempts is the total attempt budget per task. Once reached, the
	// task is dead-lettered.
	MaxAttempts int
	// BaseDelay is the delay after the first failure.
	BaseDelay time.Duration
	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration
}

// DefaultRetryPolicy matches the dispatch config defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    2 * time.Minute,
	}
}

// Backoff returns the delay before the next attempt, given the number of
// attempts already made (>= 1). Exponential doubling from BaseDelay, clamped
// to MaxDelay, with ±25% jitter so a burst of same-issue failures does not
// come due as a thundering herd.
func (p RetryPolicy) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	base := float64(p.BaseDelay) * math.Pow(2, float64(attempts-1))
	if max := float64(p.MaxDelay); base > max {
		base = max
	}
	// Jitter in [0.75, 1.25).
	jittered := base * (0.75 + rand.Float64()*0.5)
	return time.Duration(jittered)
}

// Exhausted reports whether attempts has consumed the retry budget.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// IsPermanentDeliveryError reports whether a send error should fail the task
// outright rather than be retried. Only errors the provider has positively
// classified as unrecoverable for this recipient count: blocked addresses
// and invalid recipients. Everything else, including timeouts and unknown
// errors, is treated as transient.
func IsPermanentDeliveryError(err error) bool {
	switch types.ErrorCodeOf(err) {
	case types.ErrCodeEmailBlocked, types.ErrCodeValidationInvalidRecipient:
		return true
	default:
		return false
	}
}
