package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// DefaultJitter is the fraction of the base delay applied as uniform jitter.
const DefaultJitter = 0.2

// Policy computes retry delays with bounded exponential growth and jitter.
type Policy struct {
	Min    time.Duration
	Max    time.Duration
	Jitter float64

	rand func() float64
}

// New returns a policy with the default jitter and a process-wide random source.
func New(minDelay, maxDelay time.Duration) Policy {
	return Policy{
		Min:    minDelay,
		Max:    maxDelay,
		Jitter: DefaultJitter,
	}
}

// WithRand returns a copy of the policy that draws jitter from fn.
// fn must return values in [0, 1).
func (p Policy) WithRand(fn func() float64) Policy {
	p.rand = fn
	return p
}

// Base returns the pre-jitter delay: min(Min * 2^attempt, Max).
func (p Policy) Base(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := float64(p.Min) * math.Pow(2, float64(attempt))
	if p.Max > 0 && base > float64(p.Max) {
		return p.Max
	}
	return time.Duration(base)
}

// Delay returns Base(attempt) adjusted by up to ±Jitter of itself.
func (p Policy) Delay(attempt int) time.Duration {
	base := float64(p.Base(attempt))
	r := rand.Float64
	if p.rand != nil {
		r = p.rand
	}
	jitter := base * p.Jitter * (r()*2 - 1)
	d := time.Duration(base + jitter)
	if d < 0 {
		return 0
	}
	return d
}
