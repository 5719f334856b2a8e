// Package memory provides an in-process harvest.Tracker for tests and dry
// runs. Semantics mirror the SQLite store; nothing survives the process.
package memory

import (
	"context"
	"sync"

	"github.com/scotusdata/harvester/internal/harvest"
)

// Store implements harvest.Tracker on a mutex-guarded map.
type Store struct {
	mu      sync.RWMutex
	records map[string]harvest.Record
	clock   harvest.Clock
}

// New constructs an empty Store.
func New(clock harvest.Clock) *Store {
	return &Store{
		records: make(map[string]harvest.Record),
		clock:   clock,
	}
}

// MarkPending registers a key, or re-queues a failed one. Succeeded keys are
// left untouched.
func (s *Store) MarkPending(_ context.Context, key harvest.WorkKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key.String()]
	if ok && rec.State == harvest.StateSucceeded {
		return nil
	}
	if !ok {
		rec = harvest.Record{Key: key}
	}
	rec.State = harvest.StatePending
	rec.Reason = ""
	rec.UpdatedAt = s.clock.Now()
	s.records[key.String()] = rec
	return nil
}

// MarkInProgress records an attempt start and bumps the attempt counter.
// Succeeded keys are terminal and left untouched.
func (s *Store) MarkInProgress(_ context.Context, key harvest.WorkKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.get(key)
	if rec.State == harvest.StateSucceeded {
		return nil
	}
	rec.State = harvest.StateInProgress
	rec.Reason = ""
	rec.Attempts++
	rec.UpdatedAt = s.clock.Now()
	s.records[key.String()] = rec
	return nil
}

// MarkSucceeded records terminal success. Idempotent.
func (s *Store) MarkSucceeded(_ context.Context, key harvest.WorkKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.get(key)
	rec.State = harvest.StateSucceeded
	rec.Reason = ""
	rec.UpdatedAt = s.clock.Now()
	s.records[key.String()] = rec
	return nil
}

// MarkFailed records a failure with its reason. Succeeded keys are terminal
// and left untouched.
func (s *Store) MarkFailed(_ context.Context, key harvest.WorkKey, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.get(key)
	if rec.State == harvest.StateSucceeded {
		return nil
	}
	rec.State = harvest.StateFailed
	rec.Reason = reason
	rec.UpdatedAt = s.clock.Now()
	s.records[key.String()] = rec
	return nil
}

// Snapshot returns the current ledger grouped by state.
func (s *Store) Snapshot(_ context.Context) (harvest.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var snap harvest.Snapshot
	for _, rec := range s.records {
		switch rec.State {
		case harvest.StateSucceeded:
			snap.Succeeded = append(snap.Succeeded, rec)
		case harvest.StateFailed:
			snap.Failed = append(snap.Failed, rec)
		default:
			snap.Pending = append(snap.Pending, rec)
		}
	}
	return snap, nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// get returns the record for key, creating one if absent. Caller holds mu.
func (s *Store) get(key harvest.WorkKey) harvest.Record {
	if rec, ok := s.records[key.String()]; ok {
		return rec
	}
	return harvest.Record{Key: key}
}
