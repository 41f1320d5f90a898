// SPDX-License-Identifier: Apache-2.0

// Package dom is the capture side's view of a page: elements, shadow roots,
// frames and documents, with just enough structure for locators, hit-testing
// and listener attachment.
package dom

import (
	"strings"

	"github.com/google/uuid"
)

// NodeID identifies an element for as long as the element value lives. It is
// assigned on first observation and never reused.
type NodeID string

type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

func (r Rect) Contains(x, y float64) bool {
	if r.Empty() {
		return false
	}
	return x >= r.X && x < r.X+r.Width && y >= r.Y && y < r.Y+r.Height
}

// Element is a DOM element. Attribute fields mirror the DOM properties the
// recorder reads; structure is only changed through the methods below.
type Element struct {
	Tag         string
	ID          string
	Name        string
	ClassName   string
	Type        string
	Value       string
	TextContent string
	Files       []string
	Src         string
	Rect        Rect

	// ContentFrame is set on iframe elements once the frame has loaded.
	ContentFrame *Frame

	nodeID     NodeID
	parent     *Element
	shadowRoot *ShadowRoot // root this element is a direct child of
	children   []*Element
	shadow     *ShadowRoot // shadow tree hosted by this element
	doc        *Document   // set on the document element only
}

func NewElement(tag string) *Element {
	return &Element{Tag: strings.ToLower(strings.TrimSpace(tag))}
}

// NodeID returns the element's stable identifier, assigning one on first use.
func (e *Element) NodeID() NodeID {
	if e.nodeID == "" {
		e.nodeID = NodeID(uuid.NewString())
	}
	return e.nodeID
}

// TagName is the upper-case tag name, as the DOM reports it for HTML elements.
func (e *Element) TagName() string {
	return strings.ToUpper(e.Tag)
}

func (e *Element) Is(tag string) bool {
	return e != nil && strings.EqualFold(e.Tag, tag)
}

func (e *Element) Parent() *Element {
	return e.parent
}

func (e *Element) Children() []*Element {
	return e.children
}

// ContainingShadowRoot returns the shadow root e is a direct child of, if any.
func (e *Element) ContainingShadowRoot() *ShadowRoot {
	return e.shadowRoot
}

func (e *Element) ShadowRoot() *ShadowRoot {
	return e.shadow
}

// AttachShadow creates (or returns) the shadow root hosted by e.
func (e *Element) AttachShadow() *ShadowRoot {
	if e.shadow == nil {
		e.shadow = &ShadowRoot{host: e}
	}
	return e.shadow
}

// AppendChild moves child under e and returns it.
func (e *Element) AppendChild(child *Element) *Element {
	if child == nil || child == e {
		return child
	}
	child.Remove()
	child.parent = e
	e.children = append(e.children, child)
	return child
}

// Remove detaches e from its parent or shadow root.
func (e *Element) Remove() {
	switch {
	case e.parent != nil:
		e.parent.children = removeChild(e.parent.children, e)
		e.parent = nil
	case e.shadowRoot != nil:
		e.shadowRoot.children = removeChild(e.shadowRoot.children, e)
		e.shadowRoot = nil
	}
}

// Siblings returns the child list e belongs to, or nil when e has no parent.
func (e *Element) Siblings() []*Element {
	switch {
	case e.parent != nil:
		return e.parent.children
	case e.shadowRoot != nil:
		return e.shadowRoot.children
	default:
		return nil
	}
}

// OwnerDocument walks up to the document e is connected to. Detached
// elements return nil.
func (e *Element) OwnerDocument() *Document {
	for cur := e; cur != nil; {
		if cur.doc != nil {
			return cur.doc
		}
		switch {
		case cur.parent != nil:
			cur = cur.parent
		case cur.shadowRoot != nil:
			cur = cur.shadowRoot.host
		default:
			return nil
		}
	}
	return nil
}

func (e *Element) IsConnected() bool {
	return e != nil && e.OwnerDocument() != nil
}

// Classes splits ClassName on whitespace.
func (e *Element) Classes() []string {
	return strings.Fields(e.ClassName)
}

// IsButtonControl reports whether e is a button-type control.
func (e *Element) IsButtonControl() bool {
	if e.Is("button") {
		return true
	}
	if !e.Is("input") {
		return false
	}
	switch strings.ToLower(e.Type) {
	case "button", "submit", "reset", "image":
		return true
	}
	return false
}

// IsTextControl reports whether e is an input or textarea whose value is
// tracked as typed text. File inputs and button-type inputs are excluded.
func (e *Element) IsTextControl() bool {
	if e.Is("textarea") {
		return true
	}
	if !e.Is("input") || e.IsButtonControl() {
		return false
	}
	switch strings.ToLower(e.Type) {
	case "file", "checkbox", "radio", "hidden":
		return false
	}
	return true
}

func (e *Element) IsFileInput() bool {
	return e.Is("input") && strings.EqualFold(e.Type, "file")
}

func (e *Element) IsPassword() bool {
	return e.Is("input") && strings.EqualFold(e.Type, "password")
}

// ShadowRoot is the root of a shadow tree.
type ShadowRoot struct {
	host     *Element
	children []*Element
}

func (s *ShadowRoot) Host() *Element {
	return s.host
}

func (s *ShadowRoot) Children() []*Element {
	return s.children
}

func (s *ShadowRoot) AppendChild(child *Element) *Element {
	if child == nil {
		return nil
	}
	child.Remove()
	child.shadowRoot = s
	s.children = append(s.children, child)
	return child
}

func removeChild(list []*Element, target *Element) []*Element {
	for i, c := range list {
		if c == target {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}
