// SPDX-License-Identifier: Apache-2.0

package debounce

import (
	"math"
	"time"
)

const (
	ScrollDragMinDelta   = 50.0
	ScrollDragMinElapsed = 200 * time.Millisecond
)

type ScrollDragEvent struct {
	Direction Direction
	DeltaY    float64
	DeltaTime time.Duration
	EndY      float64
}

// ScrollDrag detects a press-and-hold vertical pan. A press emits at most
// one event.
type ScrollDrag struct {
	gesture
	startY float64
}

func NewScrollDrag(timeout time.Duration) *ScrollDrag {
	return &ScrollDrag{gesture: gesture{timeout: timeout}}
}

// Press starts tracking for the primary button only (button 0).
func (s *ScrollDrag) Press(at time.Time, button int, clientY float64) {
	if button != 0 {
		return
	}
	s.begin(at)
	s.startY = clientY
}

// Move emits once vertical travel exceeds ScrollDragMinDelta and the press
// is older than ScrollDragMinElapsed; the press is consumed afterwards.
func (s *ScrollDrag) Move(at time.Time, clientY float64) (ScrollDragEvent, bool) {
	if !s.active(at) {
		return ScrollDragEvent{}, false
	}
	deltaY := clientY - s.startY
	elapsed := at.Sub(s.startedAt)
	if math.Abs(deltaY) <= ScrollDragMinDelta || elapsed <= ScrollDragMinElapsed {
		return ScrollDragEvent{}, false
	}
	s.Release()

	dir := DirectionUp
	if deltaY > 0 {
		dir = DirectionDown
	}
	return ScrollDragEvent{
		Direction: dir,
		DeltaY:    deltaY,
		DeltaTime: elapsed,
		EndY:      clientY,
	}, true
}

// Release ends tracking (pointer up or pointer leaving the page).
func (s *ScrollDrag) Release() {
	s.open = false
	s.startY = 0
}
