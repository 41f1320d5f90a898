// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"strings"
	"time"
)

// TimeLayout is the ISO-8601 form used for event timestamps (millisecond precision, UTC).
const TimeLayout = "2006-01-02T15:04:05.000Z"

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Event type tags produced by the authority and by capture contexts.
const (
	EventNavigation        = "navigation"
	EventWindowState       = "windowState"
	EventWindowStateChange = "windowStateChange"
	EventWindowMaximize    = "windowMaximize"
	EventWindowMinimize    = "windowMinimize"
	EventTabSwitch         = "tabswitch"
	EventDownload          = "download"
	EventPageLoad          = "pageload"
	EventRefresh           = "refresh"
	EventClick             = "click"
	EventRightClick        = "rightclick"
	EventInput             = "input"
	EventFileUpload        = "Fileupload"
	EventDragStart         = "dragstart"
	EventDrop              = "drop"
	EventDragEnd           = "dragend"
	EventManualDragStart   = "manualDragStart"
	EventManualDrop        = "manualDrop"
	EventScroll            = "scroll"
	EventScrollDrag        = "scrollDrag"
	EventIframe            = "iframe"
	EventIframeClick       = "iframeClick"
	EventHistoryNavigation = "historyNavigation"
)

// EventRecord is one entry of the event log. Records are never mutated after append.
type EventRecord struct {
	Seq      int64          `json:"seq"`
	Type     string         `json:"type"`
	Time     time.Time      `json:"time"`
	Details  map[string]any `json:"details"`
	Priority Priority       `json:"priority,omitempty"`
}

// Timestamp renders the record time in TimeLayout.
func (r EventRecord) Timestamp() string {
	return FormatTime(r.Time)
}

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Validate checks the invariants every appended record must hold.
func (r EventRecord) Validate() error {
	if strings.TrimSpace(r.Type) == "" {
		return ErrInvalidEvent
	}
	if r.Time.IsZero() {
		return ErrInvalidEvent
	}
	switch r.Priority {
	case "", PriorityNormal, PriorityHigh:
	default:
		return ErrInvalidEvent
	}
	return nil
}

// ParsePriority maps free-form input onto a Priority. Unknown values are normal.
func ParsePriority(raw string) Priority {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(PriorityHigh):
		return PriorityHigh
	case "":
		return ""
	default:
		return PriorityNormal
	}
}
