// SPDX-License-Identifier: Apache-2.0

// Package worker persists the event log in the background. The flusher
// writes whole snapshots and skips versions it has already stored.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/adiadia/session-recorder/internal/domain"
	"github.com/adiadia/session-recorder/internal/metrics"
)

const (
	DefaultFlushInterval = 2 * time.Second
	finalFlushTimeout    = 5 * time.Second
)

// Snapshotter is the log being persisted.
type Snapshotter interface {
	Snapshot() ([]domain.EventRecord, uint64)
}

// Restorer receives a persisted log on startup.
type Restorer interface {
	Restore(records []domain.EventRecord) error
}

type Storage interface {
	Put(ctx context.Context, key string, records []domain.EventRecord) error
	Get(ctx context.Context, key string) ([]domain.EventRecord, error)
}

type Deps struct {
	Source   Snapshotter
	Storage  Storage
	Key      string
	Interval time.Duration
	Logger   *slog.Logger
}

type Flusher struct {
	source   Snapshotter
	storage  Storage
	key      string
	interval time.Duration
	logger   *slog.Logger

	trigger chan struct{}

	mu      sync.Mutex
	flushed uint64
	stored  bool
}

func New(deps Deps) *Flusher {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}

	interval := deps.Interval
	if interval <= 0 {
		interval = DefaultFlushInterval
	}

	return &Flusher{
		source:   deps.Source,
		storage:  deps.Storage,
		key:      deps.Key,
		interval: interval,
		logger:   l,
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger asks Run to flush soon. It never blocks; triggers that arrive
// while one is pending are merged.
func (f *Flusher) Trigger() {
	select {
	case f.trigger <- struct{}{}:
	default:
	}
}

// Restore loads the persisted log into target. The loaded version counts
// as already stored.
func (f *Flusher) Restore(ctx context.Context, target Restorer) (int, error) {
	records, err := f.storage.Get(ctx, f.key)
	if err != nil {
		return 0, err
	}
	if err := target.Restore(records); err != nil {
		return 0, err
	}

	_, version := f.source.Snapshot()
	f.mu.Lock()
	f.flushed = version
	f.stored = true
	f.mu.Unlock()

	f.logger.Info("event log restored", "key", f.key, "records", len(records))
	return len(records), nil
}

// ProcessOnce writes the current snapshot unless that version is already
// stored.
func (f *Flusher) ProcessOnce(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	records, version := f.source.Snapshot()
	if f.stored && version == f.flushed {
		return nil
	}

	started := time.Now()
	err := f.storage.Put(ctx, f.key, records)
	metrics.ObservePersistenceDuration(time.Since(started))
	if err != nil {
		metrics.IncPersistenceFailure()
		f.logger.Error("persist event log failed",
			"key", f.key,
			"version", version,
			"records", len(records),
			"error", err,
		)
		return err
	}

	f.flushed = version
	f.stored = true
	f.logger.Debug("event log persisted",
		"key", f.key,
		"version", version,
		"records", len(records),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return nil
}

// Run flushes on every trigger and tick until ctx is done, then makes a
// final flush.
func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			finalCtx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
			if err := f.ProcessOnce(finalCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				f.logger.Error("final flush failed", "error", err)
			}
			cancel()
			return
		case <-f.trigger:
		case <-ticker.C:
		}
		// Failures are logged and retried on the next tick.
		_ = f.ProcessOnce(ctx)
	}
}
