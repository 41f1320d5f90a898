// SPDX-License-Identifier: Apache-2.0

package capture

import "github.com/adiadia/session-recorder/internal/dom"

type inputEntry struct {
	el        *dom.Element
	committed string
	pending   string
}

// InputTracker is the side table of text-control values keyed by node id.
// It holds the last committed value of each control and whatever was typed
// since.
type InputTracker struct {
	entries map[dom.NodeID]*inputEntry
}

func NewInputTracker() *InputTracker {
	return &InputTracker{entries: make(map[dom.NodeID]*inputEntry)}
}

// Track starts tracking el with its current value as the baseline. Tracking
// an already tracked control is a no-op.
func (t *InputTracker) Track(el *dom.Element) bool {
	if el == nil {
		return false
	}
	id := el.NodeID()
	if _, ok := t.entries[id]; ok {
		return false
	}
	t.entries[id] = &inputEntry{el: el, committed: el.Value, pending: el.Value}
	return true
}

func (t *InputTracker) entry(el *dom.Element) *inputEntry {
	id := el.NodeID()
	e, ok := t.entries[id]
	if !ok {
		// Controls seen for the first time through a signal start empty.
		e = &inputEntry{el: el}
		t.entries[id] = e
	}
	return e
}

// Typed records the control's current value as pending.
func (t *InputTracker) Typed(el *dom.Element) {
	t.entry(el).pending = el.Value
}

// Blur commits the control's value when it is non-empty and differs from the
// last committed value.
func (t *InputTracker) Blur(el *dom.Element) (string, bool) {
	e := t.entry(el)
	value := el.Value
	e.pending = value
	if value == "" || value == e.committed {
		return "", false
	}
	e.committed = value
	return value, true
}

// Enter commits the control's current non-empty value unconditionally.
func (t *InputTracker) Enter(el *dom.Element) (string, bool) {
	e := t.entry(el)
	value := el.Value
	e.pending = value
	if value == "" {
		return "", false
	}
	e.committed = value
	return value, true
}

func (t *InputTracker) Committed(el *dom.Element) (string, bool) {
	e, ok := t.entries[el.NodeID()]
	if !ok {
		return "", false
	}
	return e.committed, true
}

// Sweep drops entries whose element is no longer attached and returns how
// many were removed.
func (t *InputTracker) Sweep(attached func(*dom.Element) bool) int {
	removed := 0
	for id, e := range t.entries {
		if !attached(e.el) {
			delete(t.entries, id)
			removed++
		}
	}
	return removed
}

func (t *InputTracker) Clear() {
	clear(t.entries)
}

func (t *InputTracker) Len() int {
	return len(t.entries)
}
