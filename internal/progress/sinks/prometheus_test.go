package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/scotusdata/harvester/internal/progress"
)

func TestPrometheusSink_CountsKeyOutcomes(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now().UTC()
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart},
		{RunID: runID, TS: now, Stage: progress.StageKeyDone, Key: "case/2022/21-476", Kind: "case", Bytes: 1024, Dur: time.Second},
		{RunID: runID, TS: now, Stage: progress.StageKeyFailed, Key: "argument/x", Kind: "argument", Note: "timeout"},
		{RunID: runID, TS: now, Stage: progress.StageKeyCached, Key: "case/2022/21-333", Kind: "case"},
		{RunID: runID, TS: now, Stage: progress.StageKeyRetry, Key: "argument/x", Kind: "argument", Attempt: 2},
		{RunID: runID, TS: now, Stage: progress.StageLimiterBackoff},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.keysProcessed.WithLabelValues("case", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.keysProcessed.WithLabelValues("case", "cached")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.keysProcessed.WithLabelValues("argument", "failed")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.keyRetries.WithLabelValues("argument")))
	require.Equal(t, 1024.0, testutil.ToFloat64(sink.keyBytes.WithLabelValues("case")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.limiterBackoffs))
}

func TestPrometheusSink_DoubleRegisterFails(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
