package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scotusdata/harvester/internal/clock/system"
	"github.com/scotusdata/harvester/internal/harvest"
)

func newTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := New(dir, system.New(), zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestStore_Lifecycle(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, t.TempDir())
	defer s.Close()
	ctx := context.Background()
	key := harvest.CaseKey("2022", "21-476")

	require.NoError(t, s.MarkPending(ctx, key))
	require.NoError(t, s.MarkInProgress(ctx, key))
	require.NoError(t, s.MarkSucceeded(ctx, key))

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Succeeded, 1)
	require.Empty(t, snap.Pending)
	require.Empty(t, snap.Failed)
	require.Equal(t, key, snap.Succeeded[0].Key)
	require.Equal(t, 1, snap.Succeeded[0].Attempts)
	require.False(t, snap.Succeeded[0].UpdatedAt.IsZero())
}

func TestStore_SucceededIsNotRequeued(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, t.TempDir())
	defer s.Close()
	ctx := context.Background()
	key := harvest.CaseKey("2022", "21-476")

	require.NoError(t, s.MarkPending(ctx, key))
	require.NoError(t, s.MarkSucceeded(ctx, key))
	require.NoError(t, s.MarkPending(ctx, key))

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Succeeded, 1)
	require.Empty(t, snap.Pending)
}

func TestStore_SucceededIsTerminal(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, t.TempDir())
	defer s.Close()
	ctx := context.Background()
	key := harvest.CaseKey("2022", "21-476")

	require.NoError(t, s.MarkPending(ctx, key))
	require.NoError(t, s.MarkInProgress(ctx, key))
	require.NoError(t, s.MarkSucceeded(ctx, key))

	// Late marks from a racing worker must not revive a completed key.
	require.NoError(t, s.MarkFailed(ctx, key, "late failure"))
	require.NoError(t, s.MarkInProgress(ctx, key))

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Succeeded, 1)
	require.Empty(t, snap.Failed)
	require.Empty(t, snap.Succeeded[0].Reason)
	require.Equal(t, 1, snap.Succeeded[0].Attempts)
}

func TestStore_FailedCanBeRequeued(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, t.TempDir())
	defer s.Close()
	ctx := context.Background()
	key := harvest.ArgumentKey("https://api.example.org/arg/1")

	require.NoError(t, s.MarkPending(ctx, key))
	require.NoError(t, s.MarkInProgress(ctx, key))
	require.NoError(t, s.MarkFailed(ctx, key, "http status 503"))

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Failed, 1)
	require.Equal(t, "http status 503", snap.Failed[0].Reason)

	require.NoError(t, s.MarkPending(ctx, key))
	snap, err = s.Snapshot(ctx)
	require.NoError(t, err)
	require.Empty(t, snap.Failed)
	require.Len(t, snap.Pending, 1)
	require.Empty(t, snap.Pending[0].Reason, "re-queueing clears the failure reason")
	require.Equal(t, 1, snap.Pending[0].Attempts, "attempt history survives a re-queue")
}

func TestStore_SurvivesReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()
	done := harvest.CaseKey("2022", "21-1")
	failed := harvest.CaseKey("2022", "21-2")

	s := newTestStore(t, dir)
	require.NoError(t, s.MarkSucceeded(ctx, done))
	require.NoError(t, s.MarkFailed(ctx, failed, "timeout"))
	require.NoError(t, s.Close())

	s = newTestStore(t, dir)
	defer s.Close()
	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Succeeded, 1)
	require.Len(t, snap.Failed, 1)
	require.Equal(t, done, snap.Succeeded[0].Key)
	require.Equal(t, "timeout", snap.Failed[0].Reason)
}

func TestStore_InterruptedItemsFailOnOpen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()
	key := harvest.AudioKey("https://media.example.org/a.mp3")

	s := newTestStore(t, dir)
	require.NoError(t, s.MarkInProgress(ctx, key))
	require.NoError(t, s.Close())

	// A new run must see the crashed item as failed, not stuck in progress.
	s = newTestStore(t, dir)
	defer s.Close()
	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Failed, 1)
	require.Equal(t, "interrupted", snap.Failed[0].Reason)
}

func TestStore_Stats(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, t.TempDir())
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.MarkPending(ctx, harvest.CaseKey("2022", "21-1")))
	require.NoError(t, s.MarkSucceeded(ctx, harvest.CaseKey("2022", "21-2")))
	require.NoError(t, s.MarkSucceeded(ctx, harvest.CaseKey("2022", "21-3")))
	require.NoError(t, s.MarkFailed(ctx, harvest.CaseKey("2022", "21-4"), "boom"))

	counts, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, counts[harvest.StatePending])
	require.Equal(t, 2, counts[harvest.StateSucceeded])
	require.Equal(t, 1, counts[harvest.StateFailed])
}
