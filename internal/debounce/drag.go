// SPDX-License-Identifier: Apache-2.0

package debounce

import (
	"math"
	"time"

	"github.com/adiadia/session-recorder/internal/dom"
	"github.com/adiadia/session-recorder/internal/domain"
)

// DefaultGestureTimeout bounds how long an unresolved gesture is kept.
const DefaultGestureTimeout = 10 * time.Second

// DragThreshold is the pointer travel, in CSS pixels on either axis, that
// separates a click from a manual drag. Movement must exceed it.
const DragThreshold = 10.0

type Point struct {
	X float64
	Y float64
}

func Distance(a, b Point) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}

// gesture is the open/closed bookkeeping shared by all gesture classes.
type gesture struct {
	timeout   time.Duration
	open      bool
	startedAt time.Time
}

func (g *gesture) begin(at time.Time) {
	g.open = true
	g.startedAt = at
}

// active reports whether the gesture is open at time at, discarding it when
// it has outlived the timeout.
func (g *gesture) active(at time.Time) bool {
	if !g.open {
		return false
	}
	if g.timeout > 0 && at.Sub(g.startedAt) > g.timeout {
		g.open = false
		return false
	}
	return true
}

// NativeDrag follows the browser drag-and-drop protocol: dragstart, then
// either drop or a cancelled dragend.
type NativeDrag struct {
	gesture
	source   *dom.Element
	startLoc domain.Locator
}

func NewNativeDrag(timeout time.Duration) *NativeDrag {
	return &NativeDrag{gesture: gesture{timeout: timeout}}
}

// Start opens a drag from source, replacing any unresolved one.
func (d *NativeDrag) Start(at time.Time, source *dom.Element, loc domain.Locator) {
	d.begin(at)
	d.source = source
	d.startLoc = loc
}

// Active reports whether a drag is in progress.
func (d *NativeDrag) Active(at time.Time) bool {
	return d.active(at)
}

// Finish closes the open drag and returns its source and dragstart locator.
// ok is false when no drag was open; callers use that to tell a cancelled
// dragend from one that follows a drop.
func (d *NativeDrag) Finish(at time.Time) (source *dom.Element, startLoc domain.Locator, ok bool) {
	if !d.active(at) {
		d.Reset()
		return nil, domain.Locator{}, false
	}
	source, startLoc = d.source, d.startLoc
	d.Reset()
	return source, startLoc, true
}

func (d *NativeDrag) Reset() {
	d.open = false
	d.source = nil
	d.startLoc = domain.Locator{}
}

type ManualDragStart struct {
	Source *dom.Element
	Start  Point
}

type ManualDrop struct {
	Source   *dom.Element
	Start    Point
	End      Point
	Distance float64
}

// ManualDrag detects press-move-release drags on elements that do not use
// the native protocol.
type ManualDrag struct {
	gesture
	source   *dom.Element
	start    Point
	dragging bool
}

func NewManualDrag(timeout time.Duration) *ManualDrag {
	return &ManualDrag{gesture: gesture{timeout: timeout}}
}

// Press records a candidate drag origin (page coordinates).
func (m *ManualDrag) Press(at time.Time, source *dom.Element, pos Point) {
	m.begin(at)
	m.source = source
	m.start = pos
	m.dragging = false
}

// Move promotes the press to a drag once travel exceeds DragThreshold on
// either axis. It reports the promotion exactly once per press.
func (m *ManualDrag) Move(at time.Time, pos Point) (ManualDragStart, bool) {
	if !m.active(at) {
		m.Reset()
		return ManualDragStart{}, false
	}
	if m.dragging {
		return ManualDragStart{}, false
	}
	dx := math.Abs(pos.X - m.start.X)
	dy := math.Abs(pos.Y - m.start.Y)
	if dx <= DragThreshold && dy <= DragThreshold {
		return ManualDragStart{}, false
	}
	m.dragging = true
	return ManualDragStart{Source: m.source, Start: m.start}, true
}

// Dragging reports whether the current press has been promoted.
func (m *ManualDrag) Dragging() bool {
	return m.open && m.dragging
}

// Release ends the press. It returns the drop when the press had been
// promoted to a drag.
func (m *ManualDrag) Release(at time.Time, pos Point) (ManualDrop, bool) {
	defer m.Reset()
	if !m.active(at) || !m.dragging {
		return ManualDrop{}, false
	}
	return ManualDrop{
		Source:   m.source,
		Start:    m.start,
		End:      pos,
		Distance: Distance(m.start, pos),
	}, true
}

func (m *ManualDrag) Reset() {
	m.open = false
	m.source = nil
	m.start = Point{}
	m.dragging = false
}
