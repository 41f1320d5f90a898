// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// LocalBus broadcasts to capture contexts living in the same process.
type LocalBus struct {
	mu        sync.RWMutex
	receivers map[string]Receiver
	timeout   time.Duration
}

func NewLocalBus(timeout time.Duration) *LocalBus {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &LocalBus{
		receivers: make(map[string]Receiver),
		timeout:   timeout,
	}
}

// Subscribe registers r and returns a function removing it again.
func (b *LocalBus) Subscribe(r Receiver) func() {
	id := r.ID()
	b.mu.Lock()
	b.receivers[id] = r
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if cur, ok := b.receivers[id]; ok && cur == r {
			delete(b.receivers, id)
		}
	}
}

func (b *LocalBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.receivers)
}

// Broadcast delivers msg to every receiver in id order. A failing receiver
// does not stop delivery to the others.
func (b *LocalBus) Broadcast(ctx context.Context, msg Message) []error {
	b.mu.RLock()
	targets := make([]Receiver, 0, len(b.receivers))
	for _, r := range b.receivers {
		targets = append(targets, r)
	}
	b.mu.RUnlock()

	sort.Slice(targets, func(i, j int) bool { return targets[i].ID() < targets[j].ID() })

	var errs []error
	for _, r := range targets {
		dctx, cancel := context.WithTimeout(ctx, b.timeout)
		_, err := r.HandleMessage(dctx, msg)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("deliver %s to %s: %w", msg.Action, r.ID(), err))
		}
	}
	return errs
}
