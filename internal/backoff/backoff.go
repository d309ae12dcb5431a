// Package backoff computes retry delays for failed sync jobs.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

const (
	DefaultBase = 5 * time.Second
	DefaultMax  = time.Hour

	// jitterFraction scales the random perturbation: delay * 0.2 * (r - 0.5).
	jitterFraction = 0.2

	maxShift = 62
)

// Policy is exponential backoff with jitter. Rand returns values in [0, 1);
// nil means math/rand's global source.
type Policy struct {
	Base time.Duration
	Max  time.Duration
	Rand func() float64
}

// Default returns the 5s base / 1h cap policy.
func Default() Policy {
	return Policy{Base: DefaultBase, Max: DefaultMax}
}

// Delay returns the wait before retry number attempt (1-based).
// Attempts below 1 are treated as 1. Jitter is applied before the cap, so
// once the exponential term passes Max the delay is exactly Max.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base, maxDelay := p.Base, p.Max
	if base <= 0 {
		base = DefaultBase
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMax
	}

	// base * 2^(attempt-1) in float; the exponent is capped so the product stays finite
	shift := attempt - 1
	if shift > maxShift {
		shift = maxShift
	}
	exp := float64(base) * math.Pow(2, float64(shift))

	r := rand.Float64
	if p.Rand != nil {
		r = p.Rand
	}
	delay := exp + exp*jitterFraction*(r()-0.5)

	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// NextRetryAt is now plus Delay(attempt), or plus retryAfter when the provider asked for it.
func (p Policy) NextRetryAt(now time.Time, attempt int, retryAfter time.Duration) time.Time {
	if retryAfter > 0 {
		return now.Add(retryAfter)
	}
	return now.Add(p.Delay(attempt))
}

// Seeded returns a Rand func backed by a deterministic source, for tests and replays.
func Seeded(seed int64) func() float64 {
	return rand.New(rand.NewSource(seed)).Float64
}
