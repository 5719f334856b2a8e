package orchestrator

import (
	"math/rand"
	"time"
)

// RetryPolicy computes per-attempt backoff for retryable fetch failures.
// Delays grow exponentially from Base up to Max, with a random jitter
// fraction so concurrent workers do not retry in lockstep.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
	Jitter      float64

	randFloat func() float64
}

func (p *RetryPolicy) applyDefaults() {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.Base <= 0 {
		p.Base = 500 * time.Millisecond
	}
	if p.Max <= 0 {
		p.Max = 30 * time.Second
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = 0.2
	}
	if p.randFloat == nil {
		p.randFloat = rand.Float64
	}
}

// Backoff returns the delay before the given 1-based attempt. Attempt 1 has
// no delay.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := p.Base
	for i := 2; i < attempt; i++ {
		d *= 2
		if d >= p.Max {
			d = p.Max
			break
		}
	}
	if d > p.Max {
		d = p.Max
	}
	if p.Jitter > 0 {
		d += time.Duration(float64(d) * p.Jitter * p.randFloat())
	}
	return d
}
