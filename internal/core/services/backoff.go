package services

import (
	"math/rand"
	"time"
)

// BackoffPolicy computes the delay before a failed source is retried.
type BackoffPolicy struct {
	// Base is the delay after the first failure.
	Base time.Duration

	// Max caps the delay.
	Max time.Duration

	// Multiplier is the growth factor per consecutive failure.
	Multiplier float64

	// Jitter scales the delay by a random factor in [0.5, 1.0).
	Jitter bool
}

// DefaultBackoffPolicy returns sensible defaults for sync retries.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Base:       30 * time.Second,
		Max:        30 * time.Minute,
		Multiplier: 2.0,
	}
}

// Delay returns the wait after the given number of consecutive failures.
// failures <= 0 yields no delay.
func (p BackoffPolicy) Delay(failures int) time.Duration {
	if failures <= 0 || p.Base <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 2.0
	}
	delay := float64(p.Base)
	for i := 1; i < failures; i++ {
		delay *= mult
		if p.Max > 0 && delay >= float64(p.Max) {
			delay = float64(p.Max)
			break
		}
	}
	if p.Max > 0 && delay > float64(p.Max) {
		delay = float64(p.Max)
	}
	if p.Jitter {
		delay *= 0.5 + rand.Float64()*0.5 //nolint:gosec // jitter does not need crypto randomness
	}
	return time.Duration(delay)
}
