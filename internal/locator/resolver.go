// SPDX-License-Identifier: Apache-2.0

// Package locator computes a reference that can find an element again:
// id, then name, then tag+class CSS, then a positional XPath.
package locator

import (
	"strconv"
	"strings"

	"github.com/adiadia/session-recorder/internal/dom"
	"github.com/adiadia/session-recorder/internal/domain"
)

// Resolver is stateless; the zero value is ready to use.
type Resolver struct{}

func New() *Resolver {
	return &Resolver{}
}

// Resolve returns the locator for el, or ok=false when none can be computed
// (nil, detached or malformed elements). It never panics.
func (r *Resolver) Resolve(el *dom.Element) (loc domain.Locator, ok bool) {
	defer func() {
		if recover() != nil {
			loc, ok = domain.Locator{}, false
		}
	}()

	if el == nil || strings.TrimSpace(el.Tag) == "" || !el.IsConnected() {
		return domain.Locator{}, false
	}

	if el.ID != "" {
		return domain.Locator{Kind: domain.LocatorID, Expression: el.ID}, true
	}
	if el.Name != "" && !el.IsButtonControl() {
		return domain.Locator{Kind: domain.LocatorName, Expression: el.Name}, true
	}
	if classes := el.Classes(); len(classes) > 0 {
		return domain.Locator{
			Kind:       domain.LocatorCSS,
			Expression: strings.ToLower(el.Tag) + "." + strings.Join(classes, "."),
		}, true
	}

	path, ok := r.XPath(el)
	if !ok {
		return domain.Locator{}, false
	}
	return domain.Locator{Kind: domain.LocatorXPath, Expression: path}, true
}

// XPath builds a 1-indexed positional path from the document root to el.
// Elements inside a shadow tree are positioned among the shadow root's
// children and the walk continues at the host.
func (r *Resolver) XPath(el *dom.Element) (string, bool) {
	if el == nil || !el.IsConnected() {
		return "", false
	}

	var segments []string
	for cur := el; cur != nil; {
		tag := strings.ToLower(cur.Tag)
		if tag == "" {
			return "", false
		}

		if cur.Parent() == nil && cur.ContainingShadowRoot() == nil {
			// Document element.
			segments = append(segments, tag)
			break
		}

		segments = append(segments, tag+"["+strconv.Itoa(position(cur))+"]")

		if sr := cur.ContainingShadowRoot(); sr != nil {
			cur = sr.Host()
		} else {
			cur = cur.Parent()
		}
	}

	var b strings.Builder
	for i := len(segments) - 1; i >= 0; i-- {
		b.WriteByte('/')
		b.WriteString(segments[i])
	}
	return normalizeBody(b.String()), true
}

// Attached reports whether el is still part of a document. Callers use it to
// decide when per-node side tables may drop an entry.
func (r *Resolver) Attached(el *dom.Element) bool {
	return el != nil && el.IsConnected()
}

// position counts preceding siblings sharing el's tag, 1-indexed.
func position(el *dom.Element) int {
	ix := 1
	for _, sib := range el.Siblings() {
		if sib == el {
			break
		}
		if strings.EqualFold(sib.Tag, el.Tag) {
			ix++
		}
	}
	return ix
}

// normalizeBody drops the index from the singular /html/body prefix so paths
// read /html/body/div[2] rather than /html/body[1]/div[2].
func normalizeBody(path string) string {
	if rest, ok := strings.CutPrefix(path, "/html/body[1]"); ok {
		return "/html/body" + rest
	}
	if rest, ok := strings.CutPrefix(path, "/html/head[1]"); ok {
		return "/html/head" + rest
	}
	return path
}
