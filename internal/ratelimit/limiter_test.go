package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scotusdata/harvester/internal/harvest"
)

func newTestLimiter(t *testing.T, cfg Config) *Limiter {
	t.Helper()
	l := New(cfg, zap.NewNop())
	l.randInt = func(int64) int64 { return 0 } // deterministic jitter
	return l
}

func TestLimiter_DelayGrowsMonotonicallyUnderThrottling(t *testing.T) {
	t.Parallel()

	l := newTestLimiter(t, Config{
		InitialDelay: 100 * time.Millisecond,
		MinDelay:     50 * time.Millisecond,
		MaxDelay:     2 * time.Second,
	})

	prev := l.Delay()
	for i := 0; i < 12; i++ {
		l.Report(harvest.OutcomeRateLimited)
		cur := l.Delay()
		require.GreaterOrEqual(t, cur, prev, "delay must be non-decreasing under throttling")
		require.LessOrEqual(t, cur, 2*time.Second, "delay must be capped at the maximum")
		prev = cur
	}
	require.True(t, l.Saturated())
}

func TestLimiter_SuccessShrinksDelayTowardFloor(t *testing.T) {
	t.Parallel()

	l := newTestLimiter(t, Config{
		InitialDelay: 100 * time.Millisecond,
		MinDelay:     50 * time.Millisecond,
		MaxDelay:     2 * time.Second,
	})

	l.Report(harvest.OutcomeRateLimited)
	l.Report(harvest.OutcomeRateLimited)
	grown := l.Delay()

	for i := 0; i < 200; i++ {
		l.Report(harvest.OutcomeSuccess)
	}
	require.Less(t, l.Delay(), grown)
	require.GreaterOrEqual(t, l.Delay(), 50*time.Millisecond)
	require.False(t, l.Saturated())
}

func TestLimiter_SustainedFailureRaisesFloor(t *testing.T) {
	t.Parallel()

	l := newTestLimiter(t, Config{
		InitialDelay: 100 * time.Millisecond,
		MinDelay:     50 * time.Millisecond,
		MaxDelay:     10 * time.Second,
	})

	for i := 0; i < 5; i++ {
		l.Report(harvest.OutcomeNetwork)
	}
	raisedFloor := l.floor
	require.Greater(t, raisedFloor, 50*time.Millisecond)

	// A single success must not drop the delay below the raised floor.
	l.Report(harvest.OutcomeSuccess)
	require.GreaterOrEqual(t, l.Delay(), raisedFloor)
}

func TestLimiter_AcquireHonorsContext(t *testing.T) {
	t.Parallel()

	l := newTestLimiter(t, Config{
		InitialDelay: time.Hour,
		MinDelay:     time.Hour,
		MaxDelay:     2 * time.Hour,
	})
	// First token is available immediately.
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx)
	require.Error(t, err)
}
