// SPDX-License-Identifier: Apache-2.0

package debounce

type ResizeKind string

const (
	ResizeMaximize ResizeKind = "maximize"
	ResizeMinimize ResizeKind = "minimize"
)

type ResizeEvent struct {
	Kind      ResizeKind
	OldWidth  int
	OldHeight int
	NewWidth  int
	NewHeight int
}

// Resize classifies viewport size changes against the last known size.
type Resize struct {
	width  int
	height int
}

func NewResize(width, height int) *Resize {
	return &Resize{width: width, height: height}
}

// Observe classifies a new size. Both dimensions growing is a maximize, both
// shrinking a minimize; anything else is dropped. The last known size is
// updated either way.
func (r *Resize) Observe(width, height int) (ResizeEvent, bool) {
	ev := ResizeEvent{
		OldWidth:  r.width,
		OldHeight: r.height,
		NewWidth:  width,
		NewHeight: height,
	}
	r.width, r.height = width, height

	switch {
	case width > ev.OldWidth && height > ev.OldHeight:
		ev.Kind = ResizeMaximize
	case width < ev.OldWidth && height < ev.OldHeight:
		ev.Kind = ResizeMinimize
	default:
		return ResizeEvent{}, false
	}
	return ev, true
}
