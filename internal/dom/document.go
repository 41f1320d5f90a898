// SPDX-License-Identifier: Apache-2.0

package dom

import (
	"net/url"
	"strings"
)

// Navigation types as reported by the navigation timing entry.
const (
	NavigationNavigate    = "navigate"
	NavigationReload      = "reload"
	NavigationBackForward = "back_forward"
	NavigationPrerender   = "prerender"
)

type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Document is a loaded page: an html root with head and body.
type Document struct {
	URL            string
	Title          string
	NavigationType string
	Viewport       Viewport

	root *Element
	head *Element
	body *Element
}

func NewDocument(rawURL, title string) *Document {
	d := &Document{
		URL:            rawURL,
		Title:          title,
		NavigationType: NavigationNavigate,
	}
	d.root = NewElement("html")
	d.root.doc = d
	d.head = d.root.AppendChild(NewElement("head"))
	d.body = d.root.AppendChild(NewElement("body"))
	return d
}

func (d *Document) DocumentElement() *Element {
	return d.root
}

func (d *Document) Head() *Element {
	return d.head
}

func (d *Document) Body() *Element {
	return d.body
}

// Origin is scheme://host[:port] of the document URL, or "" when it has none.
func (d *Document) Origin() string {
	return originOf(d.URL)
}

// ElementFromPoint returns the topmost element whose box contains (x, y).
// Later elements in tree order paint over earlier ones, shadow trees included.
// It returns nil when nothing is hit.
func (d *Document) ElementFromPoint(x, y float64) *Element {
	var hit *Element
	Walk(d.body, func(el *Element) bool {
		if el.Rect.Contains(x, y) {
			hit = el
		}
		return true
	})
	return hit
}

// Frame is the browsing context of an iframe element.
type Frame struct {
	Src string
	// Document is nil until the frame has loaded, and stays nil when the
	// embedding policy denies access to it.
	Document *Document
}

func (f *Frame) Origin() string {
	if f == nil {
		return ""
	}
	if f.Document != nil {
		return f.Document.Origin()
	}
	return originOf(f.Src)
}

// AccessibleFrom reports whether a document at origin may read the frame's
// document: same origin and a document is exposed.
func (f *Frame) AccessibleFrom(origin string) bool {
	if f == nil || f.Document == nil || origin == "" {
		return false
	}
	return strings.EqualFold(f.Origin(), origin)
}

func originOf(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}
