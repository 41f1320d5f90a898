// SPDX-License-Identifier: Apache-2.0

// Package eventlog holds the authoritative, append-only event sequence of
// the current recording session.
package eventlog

import (
	"fmt"
	"sync"

	"github.com/adiadia/session-recorder/internal/domain"
	"github.com/adiadia/session-recorder/internal/metrics"
)

// Store is the in-memory event log. Order is append order. Every change
// bumps Version and calls the change hook, which the write-through flusher
// uses to persist snapshots.
type Store struct {
	mu       sync.RWMutex
	records  []domain.EventRecord
	nextSeq  int64
	version  uint64
	onChange func()

	// generation changes whenever the log is cleared or replaced, so
	// readers can tell a new session from more of the same one.
	generation uint64
}

func NewStore() *Store {
	return &Store{nextSeq: 1}
}

// OnChange registers fn to run after every append and clear. fn is
// called without the store lock held and must not block.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Append validates rec, assigns its sequence number and appends it.
func (s *Store) Append(rec domain.EventRecord) (domain.EventRecord, error) {
	if err := rec.Validate(); err != nil {
		return domain.EventRecord{}, fmt.Errorf("append %q: %w", rec.Type, err)
	}
	rec.Details = cloneDetails(rec.Details)
	rec.Time = rec.Time.UTC()

	s.mu.Lock()
	rec.Seq = s.nextSeq
	s.nextSeq++
	s.records = append(s.records, rec)
	s.version++
	hook := s.onChange
	s.mu.Unlock()

	metrics.IncEventsAppended(rec.Type)
	if hook != nil {
		hook()
	}
	return rec, nil
}

// All returns a copy of the log in append order.
func (s *Store) All() []domain.EventRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.EventRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Since returns records with Seq greater than seq.
func (s *Store) Since(seq int64) []domain.EventRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// Seq is dense from 1 within a session, so the offset is direct.
	start := 0
	if seq > 0 && len(s.records) > 0 {
		start = int(seq - s.records[0].Seq + 1)
	}
	if start < 0 {
		start = 0
	}
	if start >= len(s.records) {
		return nil
	}
	out := make([]domain.EventRecord, len(s.records)-start)
	copy(out, s.records[start:])
	return out
}

// Generation identifies the current log contents across Clear and Restore.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Follow returns the records after seq for a reader that last saw
// generation gen. When the log was cleared or replaced since then, or seq is
// past the end of the log, it returns the whole log with reset set. The
// returned generation is the current one.
func (s *Store) Follow(gen uint64, seq int64) (records []domain.EventRecord, current uint64, reset bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last int64
	if n := len(s.records); n > 0 {
		last = s.records[n-1].Seq
	}
	if gen != s.generation || seq > last {
		reset = true
		seq = 0
	}

	start := int(seq)
	if len(s.records) > 0 && seq > 0 {
		start = int(seq - s.records[0].Seq + 1)
	}
	if start < len(s.records) {
		records = make([]domain.EventRecord, len(s.records)-start)
		copy(records, s.records[start:])
	}
	return records, s.generation, reset
}

// LastSeq is the sequence number of the newest record, or 0 when empty.
func (s *Store) LastSeq() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) == 0 {
		return 0
	}
	return s.records[len(s.records)-1].Seq
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Clear empties the log and restarts sequence numbering.
func (s *Store) Clear() {
	s.mu.Lock()
	s.records = nil
	s.nextSeq = 1
	s.version++
	s.generation++
	hook := s.onChange
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
}

// Restore replaces the log with records loaded from durable storage.
// Records are renumbered in slice order; the change hook is not called.
func (s *Store) Restore(records []domain.EventRecord) error {
	restored := make([]domain.EventRecord, 0, len(records))
	for i, rec := range records {
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("restore record %d: %w", i, err)
		}
		rec.Seq = int64(i + 1)
		rec.Time = rec.Time.UTC()
		rec.Details = cloneDetails(rec.Details)
		restored = append(restored, rec)
	}

	s.mu.Lock()
	s.records = restored
	s.nextSeq = int64(len(restored) + 1)
	s.version++
	s.generation++
	s.mu.Unlock()
	return nil
}

// Snapshot returns the log together with the version it corresponds to.
func (s *Store) Snapshot() ([]domain.EventRecord, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.EventRecord, len(s.records))
	copy(out, s.records)
	return out, s.version
}

// cloneDetails deep-copies the map and slice containers of details so the
// stored record shares nothing mutable with the caller.
func cloneDetails(details map[string]any) map[string]any {
	if details == nil {
		return map[string]any{}
	}
	return cloneMap(details)
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return t
		}
		return cloneMap(t)
	case []any:
		if t == nil {
			return t
		}
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case map[string]string:
		if t == nil {
			return t
		}
		out := make(map[string]string, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out
	case []string:
		if t == nil {
			return t
		}
		return append([]string(nil), t...)
	case []int:
		if t == nil {
			return t
		}
		return append([]int(nil), t...)
	case []float64:
		if t == nil {
			return t
		}
		return append([]float64(nil), t...)
	default:
		return v
	}
}
