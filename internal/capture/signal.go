// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"time"

	"github.com/adiadia/session-recorder/internal/dom"
	"github.com/adiadia/session-recorder/internal/domain"
)

// SignalKind names a raw DOM or window signal.
type SignalKind string

const (
	SignalClick       SignalKind = "click"
	SignalContextMenu SignalKind = "contextmenu"
	SignalInput       SignalKind = "input"
	SignalChange      SignalKind = "change"
	SignalBlur        SignalKind = "blur"
	SignalKeyDown     SignalKind = "keydown"
	SignalDragStart   SignalKind = "dragstart"
	SignalDrop        SignalKind = "drop"
	SignalDragEnd     SignalKind = "dragend"
	SignalMouseDown   SignalKind = "mousedown"
	SignalMouseMove   SignalKind = "mousemove"
	SignalMouseUp     SignalKind = "mouseup"
	SignalMouseLeave  SignalKind = "mouseleave"
	SignalScroll      SignalKind = "scroll"
	SignalResize      SignalKind = "resize"
	SignalFrameLoad   SignalKind = "frameload"
	SignalFrameClick  SignalKind = "frameclick"
	SignalPopState    SignalKind = "popstate"
	SignalFocusLost   SignalKind = "focuslost"
)

// Signal is one raw observation. Only the fields relevant to Kind are read.
type Signal struct {
	Kind   SignalKind
	At     time.Time
	Target *dom.Element
	// Frame is the iframe element for frame signals.
	Frame *dom.Element

	Key    string
	Button int

	PageX, PageY     float64
	ClientX, ClientY float64
	OffsetX, OffsetY float64
	ScrollX, ScrollY float64

	Width, Height int

	// HistoryState is true when popstate carried a non-null state object.
	HistoryState bool
}

// Event is a normalized event ready to be sent to the authority.
type Event struct {
	Type     string
	Details  map[string]any
	Priority domain.Priority
}
