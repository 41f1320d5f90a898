// SPDX-License-Identifier: Apache-2.0

// Package browser tracks browser-chrome state (tabs, windows, screen) as
// reported by the host. The session authority reads it to resolve the
// active tab and the recorded window.
package browser

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/adiadia/session-recorder/internal/domain"
)

type Tracker struct {
	mu            sync.RWMutex
	tabs          map[int]domain.Tab
	windows       map[int]domain.Window
	activeTabID   *int
	currentWindow *int
	screen        domain.Screen
}

func NewTracker() *Tracker {
	return &Tracker{
		tabs:    make(map[int]domain.Tab),
		windows: make(map[int]domain.Window),
	}
}

// UpsertTab records tab. A tab reported as active becomes the active tab.
func (t *Tracker) UpsertTab(tab domain.Tab) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tab.Active {
		t.setActiveLocked(tab.ID)
	} else if t.activeTabID != nil && *t.activeTabID == tab.ID {
		tab.Active = true
	}
	t.tabs[tab.ID] = tab
}

func (t *Tracker) RemoveTab(id int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.tabs[id]; !ok {
		return fmt.Errorf("tab %d: %w", id, domain.ErrTabNotFound)
	}
	delete(t.tabs, id)
	if t.activeTabID != nil && *t.activeTabID == id {
		t.activeTabID = nil
	}
	return nil
}

// ActivateTab marks id as the active tab.
func (t *Tracker) ActivateTab(id int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.tabs[id]; !ok {
		return fmt.Errorf("tab %d: %w", id, domain.ErrTabNotFound)
	}
	t.setActiveLocked(id)
	return nil
}

func (t *Tracker) setActiveLocked(id int) {
	for tid, tab := range t.tabs {
		if tab.Active && tid != id {
			tab.Active = false
			t.tabs[tid] = tab
		}
	}
	if tab, ok := t.tabs[id]; ok {
		tab.Active = true
		t.tabs[id] = tab
	}
	t.activeTabID = domain.IntPtr(id)
}

// UpsertWindow records w. The first window reported becomes the current one.
func (t *Tracker) UpsertWindow(w domain.Window) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w.State = domain.ParseWindowState(string(w.State))
	t.windows[w.ID] = w
	if t.currentWindow == nil {
		t.currentWindow = domain.IntPtr(w.ID)
	}
}

func (t *Tracker) FocusWindow(id int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.windows[id]; !ok {
		return fmt.Errorf("window %d: %w", id, domain.ErrWindowNotFound)
	}
	t.currentWindow = domain.IntPtr(id)
	return nil
}

func (t *Tracker) SetScreen(s domain.Screen) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.screen = s
}

func (t *Tracker) ActiveTab(_ context.Context) (domain.Tab, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.activeTabID == nil {
		return domain.Tab{}, domain.ErrNoActiveTab
	}
	tab, ok := t.tabs[*t.activeTabID]
	if !ok {
		return domain.Tab{}, domain.ErrNoActiveTab
	}
	return tab, nil
}

func (t *Tracker) Tab(_ context.Context, id int) (domain.Tab, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tab, ok := t.tabs[id]
	if !ok {
		return domain.Tab{}, fmt.Errorf("tab %d: %w", id, domain.ErrTabNotFound)
	}
	return tab, nil
}

// Tabs lists known tabs ordered by id.
func (t *Tracker) Tabs() []domain.Tab {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.Tab, 0, len(t.tabs))
	for _, tab := range t.tabs {
		out = append(out, tab)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *Tracker) Window(_ context.Context, id int) (domain.Window, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	w, ok := t.windows[id]
	if !ok {
		return domain.Window{}, fmt.Errorf("window %d: %w", id, domain.ErrWindowNotFound)
	}
	return w, nil
}

func (t *Tracker) CurrentWindow(ctx context.Context) (domain.Window, error) {
	t.mu.RLock()
	id := t.currentWindow
	t.mu.RUnlock()
	if id == nil {
		return domain.Window{}, domain.ErrWindowNotFound
	}
	return t.Window(ctx, *id)
}

func (t *Tracker) Screen(_ context.Context) (domain.Screen, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.screen, nil
}
