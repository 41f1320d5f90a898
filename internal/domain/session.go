// SPDX-License-Identifier: Apache-2.0

package domain

import "time"

type WindowState string

const (
	WindowNormal     WindowState = "normal"
	WindowMinimized  WindowState = "minimized"
	WindowMaximized  WindowState = "maximized"
	WindowFullscreen WindowState = "fullscreen"
)

// ParseWindowState maps browser-reported states onto WindowState. Unknown values are normal.
func ParseWindowState(raw string) WindowState {
	switch WindowState(raw) {
	case WindowMinimized, WindowMaximized, WindowFullscreen:
		return WindowState(raw)
	default:
		return WindowNormal
	}
}

// SessionState is owned by the session authority. A nil id means "none".
type SessionState struct {
	IsRecording      bool        `json:"isRecording"`
	ActiveTabID      *int        `json:"activeTabId"`
	WindowID         *int        `json:"windowId"`
	WindowState      WindowState `json:"windowState"`
	SessionStartTime time.Time   `json:"sessionStartTime"`
}

// DefaultSessionState is the state before a start and after a stop.
func DefaultSessionState() SessionState {
	return SessionState{WindowState: WindowNormal}
}

type Tab struct {
	ID     int    `json:"id"`
	URL    string `json:"url"`
	Title  string `json:"title,omitempty"`
	Active bool   `json:"active"`
}

type Window struct {
	ID     int         `json:"id"`
	State  WindowState `json:"state"`
	Width  int         `json:"width"`
	Height int         `json:"height"`
}

type Screen struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type Download struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// IntPtr is a helper for optional ids.
func IntPtr(v int) *int {
	return &v
}
