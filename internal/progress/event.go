// Package progress defines the event stream harvest runs emit to reporting
// sinks. The harvest core only writes to an Emitter; where events end up is a
// sink concern.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageRunStart       Stage = "RUN_START"
	StageRunDone        Stage = "RUN_DONE"
	StageKeyStart       Stage = "KEY_START"
	StageKeyDone        Stage = "KEY_DONE"
	StageKeyFailed      Stage = "KEY_FAILED"
	StageKeyCached      Stage = "KEY_CACHED"
	StageKeyRetry       Stage = "KEY_RETRY"
	StageLimiterBackoff Stage = "LIMITER_BACKOFF"
)

// Event captures one harvest milestone.
type Event struct {
	// RunID identifies the harvest run in 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Key is the canonical work key for key-scoped stages.
	Key string
	// Kind labels the key's resource kind (case_list, case, argument, audio).
	Kind string
	// Bytes carries the payload size for completed fetches.
	Bytes int64
	// Attempt is the 1-based attempt number for retry stages.
	Attempt int
	// Dur captures latency for key completions and run totals.
	Dur time.Duration
	// Note attaches low-volume context such as failure reasons.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageLimiterBackoff:
	case StageKeyStart, StageKeyDone, StageKeyFailed, StageKeyCached, StageKeyRetry:
		if e.Key == "" {
			return fmt.Errorf("%s requires a key", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID back to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
