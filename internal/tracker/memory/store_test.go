package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scotusdata/harvester/internal/clock/system"
	"github.com/scotusdata/harvester/internal/harvest"
)

func TestStore_Lifecycle(t *testing.T) {
	t.Parallel()

	s := New(system.New())
	ctx := context.Background()
	key := harvest.CaseKey("2022", "21-476")

	require.NoError(t, s.MarkPending(ctx, key))
	require.NoError(t, s.MarkInProgress(ctx, key))
	require.NoError(t, s.MarkFailed(ctx, key, "timeout"))

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Failed, 1)
	require.Equal(t, "timeout", snap.Failed[0].Reason)
	require.Equal(t, 1, snap.Failed[0].Attempts)

	// Re-queue, attempt again, succeed.
	require.NoError(t, s.MarkPending(ctx, key))
	require.NoError(t, s.MarkInProgress(ctx, key))
	require.NoError(t, s.MarkSucceeded(ctx, key))

	snap, err = s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Succeeded, 1)
	require.Equal(t, 2, snap.Succeeded[0].Attempts)

	// Succeeded keys never re-enter the queue.
	require.NoError(t, s.MarkPending(ctx, key))
	snap, err = s.Snapshot(ctx)
	require.NoError(t, err)
	require.Empty(t, snap.Pending)
	require.Len(t, snap.Succeeded, 1)
}

func TestStore_SucceededIsTerminal(t *testing.T) {
	t.Parallel()

	s := New(system.New())
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
	require.Equal(t, 1, snap.Succeeded[0].Attempts)
}
