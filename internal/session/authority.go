// SPDX-License-Identifier: Apache-2.0

// Package session owns the recording state machine. The Authority is the
// only writer of SessionState and of the event log.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/adiadia/session-recorder/internal/domain"
	"github.com/adiadia/session-recorder/internal/messaging"
	"github.com/adiadia/session-recorder/internal/metrics"
	"github.com/adiadia/session-recorder/internal/xmlexport"
)

type Store interface {
	Append(rec domain.EventRecord) (domain.EventRecord, error)
	Clear()
	All() []domain.EventRecord
}

// Inspector answers questions about browser chrome.
type Inspector interface {
	ActiveTab(ctx context.Context) (domain.Tab, error)
	Tab(ctx context.Context, id int) (domain.Tab, error)
	Window(ctx context.Context, id int) (domain.Window, error)
	CurrentWindow(ctx context.Context) (domain.Window, error)
	Screen(ctx context.Context) (domain.Screen, error)
}

type Options struct {
	Logger *slog.Logger
	Now    func() time.Time
}

type Authority struct {
	store       Store
	inspector   Inspector
	broadcaster messaging.Broadcaster
	logger      *slog.Logger
	now         func() time.Time

	mu    sync.Mutex
	state domain.SessionState

	broadcastMu sync.Mutex
}

func NewAuthority(store Store, inspector Inspector, broadcaster messaging.Broadcaster, opts Options) *Authority {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Authority{
		store:       store,
		inspector:   inspector,
		broadcaster: broadcaster,
		logger:      opts.Logger,
		now:         opts.Now,
		state:       domain.DefaultSessionState(),
	}
}

// StartRecording clears the log and opens a session on the active tab. The
// log starts with the tab's navigation followed by the window state.
func (a *Authority) StartRecording(ctx context.Context) error {
	a.mu.Lock()
	if a.state.IsRecording {
		a.mu.Unlock()
		return domain.ErrAlreadyRecording
	}

	tab, err := a.inspector.ActiveTab(ctx)
	if err != nil {
		a.mu.Unlock()
		a.logger.Warn("start recording rejected", "error", err)
		return domain.ErrNoActiveTab
	}

	state := domain.SessionState{
		IsRecording:      true,
		ActiveTabID:      domain.IntPtr(tab.ID),
		WindowState:      domain.WindowNormal,
		SessionStartTime: a.now().UTC(),
	}
	if win, err := a.inspector.CurrentWindow(ctx); err == nil {
		state.WindowID = domain.IntPtr(win.ID)
		state.WindowState = domain.ParseWindowState(string(win.State))
	} else {
		a.logger.Warn("current window unavailable", "error", err)
	}

	a.store.Clear()
	a.state = state
	err = a.appendLocked(domain.EventNavigation, map[string]any{"url": tab.URL}, "")
	if err == nil {
		err = a.appendLocked(domain.EventWindowState, map[string]any{"state": string(state.WindowState)}, "")
	}
	if err != nil {
		// A session without its seed records is not started.
		a.state = domain.DefaultSessionState()
		a.store.Clear()
		a.mu.Unlock()
		return fmt.Errorf("seed session log: %w", err)
	}
	a.mu.Unlock()

	metrics.IncSessionTransition(metrics.TransitionStart)
	a.logger.Info("recording started",
		"tab_id", tab.ID,
		"window_state", state.WindowState,
	)
	a.broadcast(ctx)
	return nil
}

// StopRecording closes the session. The log is kept for export.
func (a *Authority) StopRecording(ctx context.Context) error {
	a.mu.Lock()
	if !a.state.IsRecording {
		a.mu.Unlock()
		return domain.ErrNotRecording
	}
	started := a.state.SessionStartTime
	a.state = domain.DefaultSessionState()
	a.mu.Unlock()

	metrics.IncSessionTransition(metrics.TransitionStop)
	a.logger.Info("recording stopped", "duration_ms", a.now().Sub(started).Milliseconds())
	a.broadcast(ctx)
	return nil
}

// LogEvent appends an event reported by a capture context. It is a no-op
// while idle. Priority is kept for file uploads (default normal) and
// whenever high is requested.
func (a *Authority) LogEvent(_ context.Context, eventType string, details map[string]any, priority domain.Priority) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.state.IsRecording {
		return nil
	}
	if strings.TrimSpace(eventType) == "" {
		return domain.ErrInvalidEvent
	}

	p := domain.ParsePriority(string(priority))
	switch {
	case eventType == domain.EventFileUpload && p == "":
		p = domain.PriorityNormal
	case eventType != domain.EventFileUpload && p != domain.PriorityHigh:
		p = ""
	}
	if eventType == domain.EventFileUpload {
		a.logger.Debug("file upload logged", "file_names", details["fileNames"])
	}
	return a.appendLocked(eventType, details, p)
}

func (a *Authority) IsRecording() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.IsRecording
}

func (a *Authority) State() domain.SessionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.state
	if s.ActiveTabID != nil {
		s.ActiveTabID = domain.IntPtr(*s.ActiveTabID)
	}
	if s.WindowID != nil {
		s.WindowID = domain.IntPtr(*s.WindowID)
	}
	return s
}

func (a *Authority) Events() []domain.EventRecord {
	return a.store.All()
}

// EventLog renders the current log as XML.
func (a *Authority) EventLog(_ context.Context) (string, error) {
	return xmlexport.Serialize(a.store.All()), nil
}

// appendLocked must be called with a.mu held.
func (a *Authority) appendLocked(eventType string, details map[string]any, priority domain.Priority) error {
	rec, err := a.store.Append(domain.EventRecord{
		Type:     eventType,
		Time:     a.now(),
		Details:  details,
		Priority: priority,
	})
	if err != nil {
		a.logger.Error("append event failed", "event_type", eventType, "error", err)
		return err
	}
	a.logger.Debug("event appended", "event_type", rec.Type, "seq", rec.Seq)
	return nil
}

// broadcast pushes the recording flag to every capture context. Failed
// deliveries are logged and counted; they never fail the transition.
// Broadcasts are serialized and carry the state current at send time, so a
// stale flag never arrives last.
func (a *Authority) broadcast(ctx context.Context) {
	if a.broadcaster == nil {
		return
	}
	a.broadcastMu.Lock()
	defer a.broadcastMu.Unlock()

	recording := a.IsRecording()
	for _, err := range a.broadcaster.Broadcast(ctx, messaging.RecordingState(recording)) {
		metrics.IncDeliveryFailure(metrics.DeliveryBroadcast)
		a.logger.Warn("recording state delivery failed",
			"is_recording", recording,
			"error", err,
		)
	}
}
