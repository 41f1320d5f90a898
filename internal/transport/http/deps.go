// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"

	"github.com/adiadia/session-recorder/internal/domain"
)

// SessionController is the session authority as seen by the HTTP API.
type SessionController interface {
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) error
	LogEvent(ctx context.Context, eventType string, details map[string]any, priority domain.Priority) error
	IsRecording() bool
	State() domain.SessionState
	EventLog(ctx context.Context) (string, error)
}

// ChromeObserver receives browser chrome notifications.
type ChromeObserver interface {
	OnNavigationCompleted(ctx context.Context, tabID, frameID int) error
	OnTabActivated(ctx context.Context, tabID int) error
	OnWindowBoundsChanged(ctx context.Context, windowID int) error
	OnDownloadCreated(ctx context.Context, d domain.Download) error
}

// BrowserOracle is the writable view of tabs, windows and the screen.
type BrowserOracle interface {
	UpsertTab(tab domain.Tab)
	RemoveTab(id int) error
	ActivateTab(id int) error
	Tabs() []domain.Tab
	UpsertWindow(w domain.Window)
	FocusWindow(id int) error
	SetScreen(s domain.Screen)
}

// EventStreamer follows the event log across sessions; see eventlog.Store.
type EventStreamer interface {
	Generation() uint64
	Follow(gen uint64, seq int64) ([]domain.EventRecord, uint64, bool)
}

type Exporter interface {
	Save(ctx context.Context, xml string) (name, location string, err error)
}

type HealthChecker interface {
	Check(ctx context.Context) error
}
