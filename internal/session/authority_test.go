// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/adiadia/session-recorder/internal/browser"
	"github.com/adiadia/session-recorder/internal/domain"
	"github.com/adiadia/session-recorder/internal/eventlog"
	"github.com/adiadia/session-recorder/internal/messaging"
)

type captureBroadcaster struct {
	mu   sync.Mutex
	sent []bool
	fail bool
}

func (b *captureBroadcaster) Broadcast(_ context.Context, msg messaging.Message) []error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, msg.IsRecording)
	if b.fail {
		return []error{errors.New("tab 1: receiving end does not exist"), errors.New("tab 2: closed")}
	}
	return nil
}

type fixture struct {
	authority *Authority
	store     *eventlog.Store
	tracker   *browser.Tracker
	bcast     *captureBroadcaster
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	tracker := browser.NewTracker()
	tracker.UpsertTab(domain.Tab{ID: 7, URL: "https://shop.example/cart", Active: true})
	tracker.UpsertTab(domain.Tab{ID: 8, URL: "https://shop.example/help"})
	tracker.UpsertWindow(domain.Window{ID: 1, State: domain.WindowNormal, Width: 1200, Height: 800})
	tracker.SetScreen(domain.Screen{Width: 1920, Height: 1080})

	store := eventlog.NewStore()
	bcast := &captureBroadcaster{}
	clock := time.Date(2025, 5, 5, 10, 0, 0, 0, time.UTC)
	a := NewAuthority(store, tracker, bcast, Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now: func() time.Time {
			clock = clock.Add(time.Millisecond)
			return clock
		},
	})
	return fixture{authority: a, store: store, tracker: tracker, bcast: bcast}
}

func types(records []domain.EventRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Type
	}
	return out
}

func TestStartSeedsLogAndBroadcasts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _ = f.store.Append(domain.EventRecord{Type: "stale", Time: time.Now()})
	if err := f.authority.StartRecording(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	got := types(f.store.All())
	if strings.Join(got, ",") != "navigation,windowState" {
		t.Fatalf("unexpected seed events %v", got)
	}
	if f.store.All()[0].Details["url"] != "https://shop.example/cart" {
		t.Fatalf("unexpected navigation details %+v", f.store.All()[0].Details)
	}

	state := f.authority.State()
	if !state.IsRecording || *state.ActiveTabID != 7 || *state.WindowID != 1 || state.WindowState != domain.WindowNormal {
		t.Fatalf("unexpected state %+v", state)
	}
	if len(f.bcast.sent) != 1 || !f.bcast.sent[0] {
		t.Fatalf("expected one true broadcast got %v", f.bcast.sent)
	}
}

func TestStartTwiceConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.authority.StartRecording(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	before := f.store.Len()

	err := f.authority.StartRecording(ctx)
	if !errors.Is(err, domain.ErrAlreadyRecording) || err.Error() != "Already recording" {
		t.Fatalf("expected ErrAlreadyRecording got %v", err)
	}
	if f.store.Len() != before {
		t.Fatal("conflicting start must not touch the log")
	}
}

func TestStopWhileIdleConflicts(t *testing.T) {
	f := newFixture(t)
	err := f.authority.StopRecording(context.Background())
	if !errors.Is(err, domain.ErrNotRecording) || err.Error() != "No recording in progress" {
		t.Fatalf("expected ErrNotRecording got %v", err)
	}
	if len(f.bcast.sent) != 0 {
		t.Fatal("conflicting stop must not broadcast")
	}
}

func TestStartWithoutActiveTab(t *testing.T) {
	f := newFixture(t)
	if err := f.tracker.RemoveTab(7); err != nil {
		t.Fatalf("remove tab: %v", err)
	}

	err := f.authority.StartRecording(context.Background())
	if !errors.Is(err, domain.ErrNoActiveTab) {
		t.Fatalf("expected ErrNoActiveTab got %v", err)
	}
	if f.authority.IsRecording() {
		t.Fatal("state must stay idle")
	}
}

func TestStartFailsWhenSeedRecordsAreRejected(t *testing.T) {
	f := newFixture(t)
	// A zero clock makes every record invalid.
	f.authority.now = func() time.Time { return time.Time{} }

	err := f.authority.StartRecording(context.Background())
	if !errors.Is(err, domain.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent got %v", err)
	}
	if f.authority.IsRecording() {
		t.Fatal("state must stay idle when the log cannot be seeded")
	}
	if f.store.Len() != 0 {
		t.Fatalf("expected empty log got %v", types(f.store.All()))
	}
	if len(f.bcast.sent) != 0 {
		t.Fatalf("expected no broadcast got %v", f.bcast.sent)
	}
}

func TestBroadcastFailuresDoNotFailTransitions(t *testing.T) {
	f := newFixture(t)
	f.bcast.fail = true
	ctx := context.Background()

	if err := f.authority.StartRecording(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.authority.StopRecording(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if f.authority.IsRecording() {
		t.Fatal("expected idle after stop")
	}
}

func TestStopResetsStateAndKeepsLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.authority.StartRecording(ctx)
	_ = f.authority.StopRecording(ctx)

	state := f.authority.State()
	if state.IsRecording || state.ActiveTabID != nil || state.WindowID != nil || state.WindowState != domain.WindowNormal {
		t.Fatalf("expected default state got %+v", state)
	}
	if f.store.Len() != 2 {
		t.Fatalf("expected log kept after stop, got %d records", f.store.Len())
	}
	if got := f.bcast.sent; len(got) != 2 || got[1] {
		t.Fatalf("expected true,false broadcasts got %v", got)
	}
}

func TestLogEventRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.authority.LogEvent(ctx, "click", nil, ""); err != nil {
		t.Fatalf("idle log: %v", err)
	}
	if f.store.Len() != 0 {
		t.Fatal("idle log must not append")
	}

	_ = f.authority.StartRecording(ctx)

	if err := f.authority.LogEvent(ctx, "  ", nil, ""); !errors.Is(err, domain.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent got %v", err)
	}

	cases := []struct {
		eventType string
		priority  domain.Priority
		want      domain.Priority
	}{
		{eventType: domain.EventFileUpload, priority: "", want: domain.PriorityNormal},
		{eventType: domain.EventFileUpload, priority: domain.PriorityHigh, want: domain.PriorityHigh},
		{eventType: domain.EventClick, priority: domain.PriorityNormal, want: ""},
		{eventType: domain.EventClick, priority: domain.PriorityHigh, want: domain.PriorityHigh},
		{eventType: domain.EventClick, priority: "urgent", want: ""},
	}
	for _, tc := range cases {
		if err := f.authority.LogEvent(ctx, tc.eventType, map[string]any{}, tc.priority); err != nil {
			t.Fatalf("log %s: %v", tc.eventType, err)
		}
		all := f.store.All()
		last := all[len(all)-1]
		if last.Priority != tc.want {
			t.Fatalf("%s/%q: expected priority %q got %q", tc.eventType, tc.priority, tc.want, last.Priority)
		}
	}
}

func TestEventTimesAreMonotonicAndFormatted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.authority.StartRecording(ctx)
	_ = f.authority.LogEvent(ctx, "click", nil, "")

	all := f.store.All()
	for i := 1; i < len(all); i++ {
		if !all[i].Time.After(all[i-1].Time) {
			t.Fatalf("expected increasing times, %s then %s", all[i-1].Timestamp(), all[i].Timestamp())
		}
	}
	if got := all[0].Timestamp(); got != "2025-05-05T10:00:00.002Z" {
		t.Fatalf("unexpected timestamp %s", got)
	}
}

func TestEventLogXML(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.authority.StartRecording(ctx)

	log, err := f.authority.EventLog(ctx)
	if err != nil {
		t.Fatalf("event log: %v", err)
	}
	if !strings.Contains(log, "<type>navigation</type>") || !strings.HasSuffix(log, "</eventLog>") {
		t.Fatalf("unexpected log %s", log)
	}
}

func TestStartStopProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	// 0 = start, 1 = stop, 2 = log event
	properties.Property("transitions follow the idle/recording model", prop.ForAll(
		func(ops []int) bool {
			f := newFixture(t)
			ctx := context.Background()
			recording := false
			for _, op := range ops {
				switch op {
				case 0:
					err := f.authority.StartRecording(ctx)
					if recording != errors.Is(err, domain.ErrAlreadyRecording) {
						return false
					}
					if !recording && err != nil {
						return false
					}
					recording = true
				case 1:
					err := f.authority.StopRecording(ctx)
					if recording == errors.Is(err, domain.ErrNotRecording) {
						return false
					}
					recording = false
				case 2:
					before := f.store.Len()
					if err := f.authority.LogEvent(ctx, "click", nil, ""); err != nil {
						return false
					}
					grew := f.store.Len() == before+1
					if grew != recording {
						return false
					}
				}
				if f.authority.IsRecording() != recording {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 2)),
	))

	properties.TestingRun(t)
}
