// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"

	"github.com/adiadia/session-recorder/internal/domain"
)

// maximizedBySizeState marks a window that fills the screen without the
// browser reporting it as maximized.
const maximizedBySizeState = "maximized-by-size"

// OnNavigationCompleted logs top-frame navigations of any tab.
func (a *Authority) OnNavigationCompleted(ctx context.Context, tabID, frameID int) error {
	if frameID != 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.state.IsRecording {
		return nil
	}

	tab, err := a.inspector.Tab(ctx, tabID)
	if err != nil {
		return err
	}
	if tab.URL == "" {
		return nil
	}
	return a.appendLocked(domain.EventNavigation, map[string]any{"url": tab.URL}, "")
}

// OnTabActivated logs a tab switch when a different tab becomes active.
func (a *Authority) OnTabActivated(ctx context.Context, tabID int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.state.IsRecording {
		return nil
	}

	tab, err := a.inspector.Tab(ctx, tabID)
	if err != nil {
		return err
	}
	if tab.URL == "" {
		return nil
	}
	if a.state.ActiveTabID != nil && *a.state.ActiveTabID == tabID {
		return nil
	}
	a.state.ActiveTabID = domain.IntPtr(tabID)
	return a.appendLocked(domain.EventTabSwitch, map[string]any{"url": tab.URL}, "")
}

// OnWindowBoundsChanged logs state changes of the recorded window, and a
// maximize when the window grows to cover the screen without changing state.
func (a *Authority) OnWindowBoundsChanged(ctx context.Context, windowID int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.state.IsRecording || a.state.WindowID == nil || *a.state.WindowID != windowID {
		return nil
	}

	win, err := a.inspector.Window(ctx, windowID)
	if err != nil {
		return err
	}
	current := domain.ParseWindowState(string(win.State))

	if current != a.state.WindowState {
		previous := a.state.WindowState
		a.state.WindowState = current
		return a.appendLocked(domain.EventWindowStateChange, map[string]any{
			"previousState": string(previous),
			"currentState":  string(current),
		}, "")
	}

	screen, err := a.inspector.Screen(ctx)
	if err != nil {
		return err
	}
	if coversScreen(win, screen) && a.state.WindowState != domain.WindowMaximized {
		a.state.WindowState = domain.WindowMaximized
		return a.appendLocked(domain.EventWindowMaximize, map[string]any{"state": maximizedBySizeState}, "")
	}
	return nil
}

// OnDownloadCreated logs a download started while recording.
func (a *Authority) OnDownloadCreated(_ context.Context, d domain.Download) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.state.IsRecording {
		return nil
	}
	return a.appendLocked(domain.EventDownload, map[string]any{
		"filename": d.Filename,
		"url":      d.URL,
	}, "")
}

func coversScreen(w domain.Window, s domain.Screen) bool {
	if s.Width <= 0 || s.Height <= 0 {
		return false
	}
	return w.Width >= s.Width && w.Height >= s.Height
}
