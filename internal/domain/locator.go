// SPDX-License-Identifier: Apache-2.0

package domain

type LocatorKind string

const (
	LocatorID    LocatorKind = "id"
	LocatorName  LocatorKind = "name"
	LocatorCSS   LocatorKind = "css"
	LocatorXPath LocatorKind = "xpath"
)

// Locator describes how to find an element again later.
type Locator struct {
	Kind       LocatorKind `json:"kind"`
	Expression string      `json:"expression"`
}

// IsZero reports the "no locator" result.
func (l Locator) IsZero() bool {
	return l.Kind == "" || l.Expression == ""
}
