// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"sync"

	"github.com/adiadia/session-recorder/internal/domain"
)

// MemoryStorage keeps snapshots in process. Used when no durable driver is
// configured and in tests.
type MemoryStorage struct {
	mu   sync.RWMutex
	data map[string][]domain.EventRecord
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string][]domain.EventRecord)}
}

func (m *MemoryStorage) Put(_ context.Context, key string, records []domain.EventRecord) error {
	if err := checkKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = cloneRecords(records)
	return nil
}

func (m *MemoryStorage) Get(_ context.Context, key string) ([]domain.EventRecord, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneRecords(m.data[key]), nil
}

func cloneRecords(in []domain.EventRecord) []domain.EventRecord {
	out := make([]domain.EventRecord, len(in))
	for i, r := range in {
		if r.Details != nil {
			details := make(map[string]any, len(r.Details))
			for k, v := range r.Details {
				details[k] = v
			}
			r.Details = details
		}
		out[i] = r
	}
	return out
}
