package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func (s *captureSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return nil
}

func (s *captureSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func validEvent(stage Stage) Event {
	return Event{
		RunID: UUIDToBytes(uuid.New()),
		TS:    time.Now().UTC(),
		Stage: stage,
		Key:   "case/2022/21-476",
		Kind:  "case",
	}
}

func TestHub_DeliversEventsToSinks(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchWait: 10 * time.Millisecond}, sink)

	for i := 0; i < 5; i++ {
		hub.Emit(validEvent(StageKeyDone))
	}
	require.Eventually(t, func() bool { return sink.count() == 5 }, time.Second, 5*time.Millisecond)
	require.NoError(t, hub.Close(context.Background()))
	require.True(t, sink.closed)
}

func TestHub_CloseFlushesPendingEvents(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchWait: time.Hour}, sink)

	hub.Emit(validEvent(StageKeyDone))
	hub.Emit(validEvent(StageKeyFailed))
	require.NoError(t, hub.Close(context.Background()))
	require.Equal(t, 2, sink.count())

	// Emits after close are ignored, not panics.
	hub.Emit(validEvent(StageKeyDone))
	require.Equal(t, 2, sink.count())
}

func TestHub_DiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchWait: 10 * time.Millisecond}, sink)

	hub.Emit(Event{Stage: StageKeyDone}) // missing run id and timestamp
	hub.Emit(validEvent(StageKeyDone))
	require.NoError(t, hub.Close(context.Background()))
	require.Equal(t, 1, sink.count())
}

func TestEvent_Validate(t *testing.T) {
	t.Parallel()

	e := validEvent(StageKeyStart)
	require.NoError(t, e.Validate())

	missingKey := e
	missingKey.Key = ""
	require.Error(t, missingKey.Validate())

	runScoped := e
	runScoped.Stage = StageRunStart
	runScoped.Key = ""
	require.NoError(t, runScoped.Validate())

	unknown := e
	unknown.Stage = "NOT_A_STAGE"
	require.Error(t, unknown.Validate())
}
