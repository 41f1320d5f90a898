// SPDX-License-Identifier: Apache-2.0

// Package repository persists snapshots of the event log. Every backend
// stores the whole log under a single key and replaces it on Put.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/adiadia/session-recorder/internal/domain"
)

// DefaultKey is the storage key the recorder writes the log under.
const DefaultKey = "recordedEvents"

var ErrEmptyKey = errors.New("empty storage key")

type Storage interface {
	Put(ctx context.Context, key string, records []domain.EventRecord) error
	Get(ctx context.Context, key string) ([]domain.EventRecord, error)
}

func checkKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return nil
}

func encodeDetails(details map[string]any) ([]byte, error) {
	if details == nil {
		details = map[string]any{}
	}
	b, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("encode details: %w", err)
	}
	return b, nil
}

func decodeDetails(raw []byte) (map[string]any, error) {
	details := map[string]any{}
	if len(raw) == 0 {
		return details, nil
	}
	if err := json.Unmarshal(raw, &details); err != nil {
		return nil, fmt.Errorf("decode details: %w", err)
	}
	return details, nil
}
