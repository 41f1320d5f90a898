// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"strings"
	"time"

	"github.com/adiadia/session-recorder/internal/debounce"
	"github.com/adiadia/session-recorder/internal/dom"
	"github.com/adiadia/session-recorder/internal/domain"
	"github.com/adiadia/session-recorder/internal/locator"
	"github.com/adiadia/session-recorder/internal/metrics"
)

const (
	maskedValue       = "********"
	maxClickTextRunes = 50
)

// Normalizer maps raw signals of one document onto events. It is not safe
// for concurrent use; Context serializes access.
type Normalizer struct {
	doc      *dom.Document
	resolver *locator.Resolver
	inputs   *InputTracker

	scroll     *debounce.Scroll
	resize     *debounce.Resize
	nativeDrag *debounce.NativeDrag
	manualDrag *debounce.ManualDrag
	scrollDrag *debounce.ScrollDrag

	recording bool
}

func NewNormalizer(doc *dom.Document, resolver *locator.Resolver, gestureTimeout time.Duration) *Normalizer {
	if resolver == nil {
		resolver = locator.New()
	}
	return &Normalizer{
		doc:        doc,
		resolver:   resolver,
		inputs:     NewInputTracker(),
		scroll:     debounce.NewScroll(debounce.DefaultScrollInterval),
		resize:     debounce.NewResize(doc.Viewport.Width, doc.Viewport.Height),
		nativeDrag: debounce.NewNativeDrag(gestureTimeout),
		manualDrag: debounce.NewManualDrag(gestureTimeout),
		scrollDrag: debounce.NewScrollDrag(gestureTimeout),
	}
}

// SetRecording gates Normalize. Leaving the recording state discards input
// tracking and every open gesture.
func (n *Normalizer) SetRecording(recording bool) {
	if n.recording && !recording {
		n.inputs.Clear()
		n.resetGestures()
		n.scroll.Reset()
	}
	n.recording = recording
}

func (n *Normalizer) Recording() bool {
	return n.recording
}

func (n *Normalizer) Inputs() *InputTracker {
	return n.inputs
}

// Normalize returns the events sig produces. It returns nil when the signal
// is dropped (not recording, debounced, or incomplete gesture). A single
// pointer move may complete two gesture classes at once.
func (n *Normalizer) Normalize(sig Signal) []Event {
	if !n.recording {
		return nil
	}

	switch sig.Kind {
	case SignalClick:
		return n.click(sig)
	case SignalContextMenu:
		return n.rightClick(sig)
	case SignalInput:
		return n.input(sig)
	case SignalChange:
		return n.change(sig)
	case SignalBlur:
		return n.blur(sig)
	case SignalKeyDown:
		return n.keyDown(sig)
	case SignalDragStart:
		return n.dragStart(sig)
	case SignalDrop:
		return n.drop(sig)
	case SignalDragEnd:
		return n.dragEnd(sig)
	case SignalMouseDown:
		if sig.Target != nil {
			n.manualDrag.Press(sig.At, sig.Target, debounce.Point{X: sig.PageX, Y: sig.PageY})
		}
		n.scrollDrag.Press(sig.At, sig.Button, sig.ClientY)
		return nil
	case SignalMouseMove:
		return n.mouseMove(sig)
	case SignalMouseUp:
		n.scrollDrag.Release()
		return n.mouseUp(sig)
	case SignalMouseLeave:
		n.scrollDrag.Release()
		return nil
	case SignalScroll:
		return n.scrolled(sig)
	case SignalResize:
		return n.resized(sig)
	case SignalFrameLoad:
		return n.frameLoad(sig)
	case SignalFrameClick:
		return n.frameClick(sig)
	case SignalPopState:
		return n.popState(sig)
	case SignalFocusLost:
		n.resetGestures()
		return nil
	}
	return nil
}

func (n *Normalizer) resetGestures() {
	n.nativeDrag.Reset()
	n.manualDrag.Reset()
	n.scrollDrag.Release()
}

func (n *Normalizer) locate(el *dom.Element) (domain.Locator, bool) {
	return n.resolver.Resolve(el)
}

// setLocator adds the locator fields under the given keys, omitting them when
// no locator could be computed.
func setLocator(details map[string]any, loc domain.Locator, ok bool, typeKey, exprKey string) {
	if !ok || loc.IsZero() {
		return
	}
	details[typeKey] = string(loc.Kind)
	details[exprKey] = loc.Expression
}

func single(eventType string, details map[string]any) []Event {
	return []Event{{Type: eventType, Details: details}}
}

func (n *Normalizer) click(sig Signal) []Event {
	el := sig.Target
	if el == nil {
		return nil
	}
	details := map[string]any{
		"target": map[string]any{
			"tagName":     el.TagName(),
			"className":   el.ClassName,
			"id":          el.ID,
			"textContent": truncateRunes(strings.TrimSpace(el.TextContent), maxClickTextRunes),
		},
		"offsetX": sig.OffsetX,
		"offsetY": sig.OffsetY,
		"pageX":   sig.PageX,
		"pageY":   sig.PageY,
	}
	loc, ok := n.locate(el)
	setLocator(details, loc, ok, "locatorType", "locatorExpression")
	return single(domain.EventClick, details)
}

func (n *Normalizer) rightClick(sig Signal) []Event {
	el := sig.Target
	if el == nil {
		return nil
	}
	details := map[string]any{"tagName": el.TagName()}
	loc, ok := n.locate(el)
	setLocator(details, loc, ok, "locatorType", "locatorExpression")
	return single(domain.EventRightClick, details)
}

func (n *Normalizer) input(sig Signal) []Event {
	el := sig.Target
	switch {
	case el == nil:
		return nil
	case el.IsFileInput():
		return n.fileUpload(sig)
	case el.IsTextControl():
		n.inputs.Typed(el)
	}
	return nil
}

func (n *Normalizer) change(sig Signal) []Event {
	el := sig.Target
	switch {
	case el == nil:
		return nil
	case el.IsFileInput():
		return n.fileUpload(sig)
	case el.Is("select"):
		details := map[string]any{
			"value": el.Value,
			"type":  "select",
		}
		loc, ok := n.locate(el)
		setLocator(details, loc, ok, "locatorType", "locatorExpression")
		return single(domain.EventInput, details)
	}
	return nil
}

func (n *Normalizer) blur(sig Signal) []Event {
	el := sig.Target
	if el == nil || !el.IsTextControl() {
		return nil
	}
	value, ok := n.inputs.Blur(el)
	if !ok {
		return nil
	}
	return single(domain.EventInput, n.inputDetails(el, value))
}

func (n *Normalizer) keyDown(sig Signal) []Event {
	el := sig.Target
	if sig.Key != "Enter" || el == nil || !el.IsTextControl() {
		return nil
	}
	value, ok := n.inputs.Enter(el)
	if !ok {
		return nil
	}
	details := n.inputDetails(el, value)
	details["enterKey"] = true
	return single(domain.EventInput, details)
}

func (n *Normalizer) inputDetails(el *dom.Element, value string) map[string]any {
	if el.IsPassword() {
		value = maskedValue
	}
	details := map[string]any{
		"value": value,
		"type":  controlType(el),
	}
	loc, ok := n.locate(el)
	setLocator(details, loc, ok, "locatorType", "locatorExpression")
	return details
}

func (n *Normalizer) fileUpload(sig Signal) []Event {
	el := sig.Target
	names := make([]string, len(el.Files))
	copy(names, el.Files)

	details := map[string]any{
		"fileCount": len(names),
		"fileNames": names,
		"inputType": "file",
		"eventType": string(sig.Kind),
		"timestamp": sig.At.UnixMilli(),
	}
	loc, ok := n.locate(el)
	setLocator(details, loc, ok, "locatorType", "locatorExpression")
	return []Event{{Type: domain.EventFileUpload, Details: details, Priority: domain.PriorityHigh}}
}

func (n *Normalizer) dragStart(sig Signal) []Event {
	el := sig.Target
	if el == nil {
		return nil
	}
	loc, ok := n.locate(el)
	n.nativeDrag.Start(sig.At, el, loc)

	details := elementDetails(el, "")
	details["pageX"] = sig.PageX
	details["pageY"] = sig.PageY
	setLocator(details, loc, ok, "locatorType", "locatorExpression")
	return single(domain.EventDragStart, details)
}

func (n *Normalizer) drop(sig Signal) []Event {
	if !n.nativeDrag.Active(sig.At) {
		return nil
	}
	source, startLoc, _ := n.nativeDrag.Finish(sig.At)

	details := elementDetails(source, "dragged")
	details["pageX"] = sig.PageX
	details["pageY"] = sig.PageY
	n.setSourceLocator(details, source, startLoc)
	if target := sig.Target; target != nil {
		for k, v := range elementDetails(target, "dropTarget") {
			details[k] = v
		}
		loc, ok := n.locate(target)
		setLocator(details, loc, ok, "dropLocatorType", "dropLocatorExpression")
	}
	return single(domain.EventDrop, details)
}

func (n *Normalizer) dragEnd(sig Signal) []Event {
	source, startLoc, ok := n.nativeDrag.Finish(sig.At)
	if !ok {
		return nil
	}
	details := elementDetails(source, "")
	details["pageX"] = sig.PageX
	details["pageY"] = sig.PageY
	details["cancelled"] = true
	loc, found := n.locate(source)
	if !found {
		loc, found = startLoc, !startLoc.IsZero()
	}
	setLocator(details, loc, found, "locatorType", "locatorExpression")
	return single(domain.EventDragEnd, details)
}

// setSourceLocator resolves the drag source again and falls back to the
// locator taken at dragstart when the source has since been detached.
func (n *Normalizer) setSourceLocator(details map[string]any, source *dom.Element, startLoc domain.Locator) {
	loc, ok := n.locate(source)
	if !ok {
		loc, ok = startLoc, !startLoc.IsZero()
	}
	setLocator(details, loc, ok, "dragLocatorType", "dragLocatorExpression")
}

func (n *Normalizer) mouseMove(sig Signal) []Event {
	var out []Event

	if start, ok := n.manualDrag.Move(sig.At, debounce.Point{X: sig.PageX, Y: sig.PageY}); ok {
		details := elementDetails(start.Source, "")
		details["startX"] = start.Start.X
		details["startY"] = start.Start.Y
		loc, found := n.locate(start.Source)
		setLocator(details, loc, found, "locatorType", "locatorExpression")
		out = append(out, Event{Type: domain.EventManualDragStart, Details: details})
	}

	if ev, ok := n.scrollDrag.Move(sig.At, sig.ClientY); ok {
		out = append(out, Event{Type: domain.EventScrollDrag, Details: map[string]any{
			"direction": string(ev.Direction),
			"deltaY":    ev.DeltaY,
			"deltaTime": ev.DeltaTime.Milliseconds(),
			"endY":      ev.EndY,
		}})
	}
	return out
}

func (n *Normalizer) mouseUp(sig Signal) []Event {
	drop, ok := n.manualDrag.Release(sig.At, debounce.Point{X: sig.PageX, Y: sig.PageY})
	if !ok {
		return nil
	}

	details := elementDetails(drop.Source, "dragged")
	loc, found := n.locate(drop.Source)
	setLocator(details, loc, found, "dragLocatorType", "dragLocatorExpression")

	if target := n.doc.ElementFromPoint(sig.ClientX, sig.ClientY); target != nil {
		for k, v := range elementDetails(target, "dropTarget") {
			details[k] = v
		}
		loc, found := n.locate(target)
		setLocator(details, loc, found, "dropLocatorType", "dropLocatorExpression")
	}

	details["startX"] = drop.Start.X
	details["startY"] = drop.Start.Y
	details["endX"] = drop.End.X
	details["endY"] = drop.End.Y
	details["distance"] = drop.Distance
	return single(domain.EventManualDrop, details)
}

func (n *Normalizer) scrolled(sig Signal) []Event {
	ev, ok := n.scroll.Observe(sig.At, sig.ScrollX, sig.ScrollY)
	if !ok {
		return nil
	}
	return single(domain.EventScroll, map[string]any{
		"scrollX":   ev.X,
		"scrollY":   ev.Y,
		"direction": string(ev.Direction),
	})
}

func (n *Normalizer) resized(sig Signal) []Event {
	ev, ok := n.resize.Observe(sig.Width, sig.Height)
	if !ok {
		return nil
	}
	eventType := domain.EventWindowMaximize
	if ev.Kind == debounce.ResizeMinimize {
		eventType = domain.EventWindowMinimize
	}
	return single(eventType, map[string]any{
		"oldWidth":  ev.OldWidth,
		"oldHeight": ev.OldHeight,
		"newWidth":  ev.NewWidth,
		"newHeight": ev.NewHeight,
	})
}

func (n *Normalizer) frameLoad(sig Signal) []Event {
	frame := sig.Frame
	if frame == nil {
		frame = sig.Target
	}
	if frame == nil || !frame.Is("iframe") {
		return nil
	}
	return single(domain.EventIframe, map[string]any{"src": frame.Src})
}

// frameClick reports clicks inside an iframe whose document this page may
// read. Anything else is dropped.
func (n *Normalizer) frameClick(sig Signal) []Event {
	frameEl, el := sig.Frame, sig.Target
	if frameEl == nil || el == nil {
		return nil
	}
	frame := frameEl.ContentFrame
	if !frame.AccessibleFrom(n.doc.Origin()) || el.OwnerDocument() != frame.Document {
		metrics.IncCaptureDropped(metrics.DropCrossOrigin)
		return nil
	}
	return single(domain.EventIframeClick, map[string]any{
		"iframeSrc": frameEl.Src,
		"tagName":   el.TagName(),
		"className": el.ClassName,
		"id":        el.ID,
		"offsetX":   sig.OffsetX,
		"offsetY":   sig.OffsetY,
	})
}

func (n *Normalizer) popState(sig Signal) []Event {
	direction := "back"
	if sig.HistoryState {
		direction = "forward"
	}
	return single(domain.EventHistoryNavigation, map[string]any{
		"direction": direction,
		"url":       n.doc.URL,
		"title":     n.doc.Title,
	})
}

// elementDetails describes el with optionally prefixed keys
// (tagName or draggedTagName, and so on).
func elementDetails(el *dom.Element, prefix string) map[string]any {
	key := func(name string) string {
		if prefix == "" {
			return name
		}
		return prefix + strings.ToUpper(name[:1]) + name[1:]
	}
	details := map[string]any{}
	if el == nil {
		return details
	}
	details[key("tagName")] = el.TagName()
	details[key("id")] = el.ID
	details[key("className")] = el.ClassName
	return details
}

func controlType(el *dom.Element) string {
	switch {
	case el.Is("textarea"):
		return "textarea"
	case el.Is("select"):
		return "select"
	case el.Type == "":
		return "text"
	default:
		return strings.ToLower(el.Type)
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
