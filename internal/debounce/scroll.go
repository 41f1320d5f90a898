// SPDX-License-Identifier: Apache-2.0

// Package debounce turns high-frequency pointer, scroll and resize signals
// into discrete gesture transitions. Every tracker is driven by the signal's
// own timestamp, so behavior is deterministic for a given signal sequence.
package debounce

import "time"

// DefaultScrollInterval is the collapse window for consecutive scroll signals.
const DefaultScrollInterval = 100 * time.Millisecond

type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

type ScrollEvent struct {
	X         float64
	Y         float64
	Direction Direction
}

// Scroll accepts at most one scroll signal per interval.
type Scroll struct {
	interval time.Duration
	lastAt   time.Time
	lastY    float64
}

func NewScroll(interval time.Duration) *Scroll {
	if interval <= 0 {
		interval = DefaultScrollInterval
	}
	return &Scroll{interval: interval}
}

// Observe returns the logical scroll event for a signal at time at, or
// ok=false when the signal falls inside the current window.
func (s *Scroll) Observe(at time.Time, x, y float64) (ScrollEvent, bool) {
	if !s.lastAt.IsZero() && at.Sub(s.lastAt) < s.interval {
		return ScrollEvent{}, false
	}
	s.lastAt = at

	dir := DirectionUp
	if y > s.lastY {
		dir = DirectionDown
	}
	s.lastY = y

	return ScrollEvent{X: x, Y: y, Direction: dir}, true
}

func (s *Scroll) Reset() {
	s.lastAt = time.Time{}
	s.lastY = 0
}
