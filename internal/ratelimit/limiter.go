// Package ratelimit implements the adaptive limiter that paces every
// outbound request. Pacing rides on golang.org/x/time/rate; the adaptation
// loop adjusts the limiter's interval from observed outcomes: consecutive
// successes shrink the delay toward a floor, throttling and network failures
// grow it multiplicatively up to a cap, and sustained pressure raises the
// floor itself.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/scotusdata/harvester/internal/harvest"
)

// Config holds the limiter tuning knobs.
type Config struct {
	InitialDelay   time.Duration
	MinDelay       time.Duration
	MaxDelay       time.Duration
	BackoffFactor  float64
	RecoveryFactor float64
	// Jitter is the fraction of the current delay randomized per acquire,
	// in [0, 1). Prevents synchronized bursts across workers.
	Jitter float64
}

func (c *Config) applyDefaults() {
	if c.InitialDelay <= 0 {
		c.InitialDelay = time.Second
	}
	if c.MinDelay <= 0 {
		c.MinDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 60 * time.Second
	}
	if c.BackoffFactor <= 1 {
		c.BackoffFactor = 2.0
	}
	if c.RecoveryFactor <= 0 || c.RecoveryFactor >= 1 {
		c.RecoveryFactor = 0.95
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		c.Jitter = 0.25
	}
}

// Limiter is the single serialization point for outbound request pacing.
// Safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	pacer   *rate.Limiter
	cfg     Config
	delay   time.Duration
	floor   time.Duration
	streak  int // consecutive successes (>0) or failures (<0)
	logger  *zap.Logger
	randInt func(int64) int64
}

// New constructs a Limiter from cfg. Zero-value fields get defaults.
func New(cfg Config, logger *zap.Logger) *Limiter {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		pacer:   rate.NewLimiter(rate.Every(cfg.InitialDelay), 1),
		cfg:     cfg,
		delay:   cfg.InitialDelay,
		floor:   cfg.MinDelay,
		logger:  logger,
		randInt: rand.Int63n,
	}
}

// Acquire blocks until issuing one request is safe, then applies per-call
// jitter. Returns the context error if the wait is abandoned.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.pacer.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if j := l.jitter(); j > 0 {
		t := time.NewTimer(j)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return fmt.Errorf("rate limit jitter wait: %w", ctx.Err())
		case <-t.C:
		}
	}
	return nil
}

func (l *Limiter) jitter() time.Duration {
	l.mu.Lock()
	delay := l.delay
	frac := l.cfg.Jitter
	l.mu.Unlock()
	if frac <= 0 {
		return 0
	}
	span := int64(float64(delay) * frac)
	if span <= 0 {
		return 0
	}
	return time.Duration(l.randInt(span))
}

// Report adapts the delay to the observed outcome and reprograms the pacer.
func (l *Limiter) Report(o harvest.Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch o {
	case harvest.OutcomeSuccess:
		if l.streak < 0 {
			l.streak = 0
		}
		l.streak++
		factor := l.cfg.RecoveryFactor
		if l.streak >= 10 {
			// Recover faster once the remote has proven healthy.
			factor *= 0.9
		}
		l.delay = maxDuration(l.floor, time.Duration(float64(l.delay)*factor))
		if l.streak >= 20 && l.floor > l.cfg.MinDelay {
			l.floor = maxDuration(l.cfg.MinDelay, time.Duration(float64(l.floor)*0.95))
		}
	case harvest.OutcomeRateLimited, harvest.OutcomeNetwork:
		if l.streak > 0 {
			l.streak = 0
		}
		l.streak--
		l.delay = minDuration(l.cfg.MaxDelay, time.Duration(float64(l.delay)*l.cfg.BackoffFactor))
		if l.streak <= -3 {
			// Sustained pressure: raise the floor so recovery stays cautious.
			l.floor = minDuration(l.delay, time.Duration(float64(l.floor)*1.5))
		}
		l.logger.Warn("rate limiter backing off",
			zap.String("outcome", string(o)),
			zap.Duration("delay", l.delay),
			zap.Duration("floor", l.floor),
		)
	}

	l.pacer.SetLimit(rate.Every(l.delay))
}

// Delay returns the current spacing between outbound requests.
func (l *Limiter) Delay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.delay
}

// Saturated reports whether the delay sits at the configured maximum, the
// fatal-slowdown signal the orchestrator surfaces in its report.
func (l *Limiter) Saturated() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.delay >= l.cfg.MaxDelay
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
