// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/adiadia/session-recorder/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMailboxPreservesArrivalOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	handler := HandlerFunc(func(_ context.Context, msg Message) Response {
		mu.Lock()
		seen = append(seen, msg.Type)
		mu.Unlock()
		return Response{Success: true}
	})

	mb := NewMailbox(handler, 16, time.Second, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mb.Run(ctx)

	for _, typ := range []string{"a", "b", "c"} {
		if err := mb.Notify(ctx, Message{Action: ActionLogEvent, Type: typ}); err != nil {
			t.Fatalf("notify %s: %v", typ, err)
		}
	}
	// A request queued behind the notifications is answered after them.
	if _, err := mb.Request(ctx, Message{Action: ActionLogEvent, Type: "d"}); err != nil {
		t.Fatalf("request: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"a", "b", "c", "d"}
	if len(seen) != len(want) {
		t.Fatalf("expected %v got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("expected %v got %v", want, seen)
		}
	}
}

func TestMailboxRequestTimesOut(t *testing.T) {
	release := make(chan struct{})
	handler := HandlerFunc(func(_ context.Context, _ Message) Response {
		<-release
		return Response{Success: true}
	})

	mb := NewMailbox(handler, 4, 20*time.Millisecond, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mb.Run(ctx)
	defer close(release)

	_, err := mb.Request(ctx, Message{Action: ActionCheckRecordingState})
	if !errors.Is(err, ErrRequestTimeout) {
		t.Fatalf("expected ErrRequestTimeout got %v", err)
	}
}

func TestMailboxFullRejectsNotify(t *testing.T) {
	mb := NewMailbox(HandlerFunc(func(context.Context, Message) Response { return Response{} }), 1, time.Second, discardLogger())

	if err := mb.Notify(context.Background(), Message{Action: ActionLogEvent}); err != nil {
		t.Fatalf("first notify: %v", err)
	}
	if err := mb.Notify(context.Background(), Message{Action: ActionLogEvent}); !errors.Is(err, ErrMailboxFull) {
		t.Fatalf("expected ErrMailboxFull got %v", err)
	}
}

func TestMailboxClosedRejects(t *testing.T) {
	mb := NewMailbox(HandlerFunc(func(context.Context, Message) Response { return Response{} }), 1, time.Second, discardLogger())
	mb.Close()
	mb.Close()

	if err := mb.Notify(context.Background(), Message{}); !errors.Is(err, ErrMailboxClosed) {
		t.Fatalf("expected ErrMailboxClosed got %v", err)
	}
}

func TestMailboxSurvivesHandlerPanic(t *testing.T) {
	calls := 0
	handler := HandlerFunc(func(_ context.Context, msg Message) Response {
		calls++
		if msg.Type == "boom" {
			panic("boom")
		}
		return Response{Success: true}
	})

	mb := NewMailbox(handler, 4, time.Second, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mb.Run(ctx)

	resp, err := mb.Request(ctx, Message{Action: ActionLogEvent, Type: "boom"})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.Success {
		t.Fatalf("expected failure response after panic")
	}

	resp, err = mb.Request(ctx, Message{Action: ActionLogEvent, Type: "ok"})
	if err != nil || !resp.Success {
		t.Fatalf("expected mailbox to keep serving, resp=%+v err=%v", resp, err)
	}
}

type fakeAuthority struct {
	recording bool
	startErr  error
	logged    []string
	priority  domain.Priority
}

func (f *fakeAuthority) StartRecording(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.recording = true
	return nil
}

func (f *fakeAuthority) StopRecording(context.Context) error {
	if !f.recording {
		return domain.ErrNotRecording
	}
	f.recording = false
	return nil
}

func (f *fakeAuthority) LogEvent(_ context.Context, eventType string, _ map[string]any, priority domain.Priority) error {
	if eventType == "" {
		return domain.ErrInvalidEvent
	}
	f.logged = append(f.logged, eventType)
	f.priority = priority
	return nil
}

func (f *fakeAuthority) IsRecording() bool { return f.recording }

func (f *fakeAuthority) EventLog(context.Context) (string, error) {
	return "<eventLog></eventLog>", nil
}

func TestDispatcherActions(t *testing.T) {
	auth := &fakeAuthority{}
	d := NewDispatcher(auth, discardLogger())
	ctx := context.Background()

	resp := d.Handle(ctx, Message{Action: ActionStopRecording, RequestID: "r1"})
	if resp.Success || resp.Error != "No recording in progress" {
		t.Fatalf("unexpected stop response %+v", resp)
	}
	if resp.RequestID != "r1" {
		t.Fatalf("expected request id echoed, got %q", resp.RequestID)
	}

	if resp := d.Handle(ctx, Message{Action: ActionStartRecording}); !resp.Success {
		t.Fatalf("start failed: %+v", resp)
	}

	resp = d.Handle(ctx, Message{Action: ActionCheckRecordingState})
	if resp.IsRecording == nil || !*resp.IsRecording {
		t.Fatalf("expected isRecording=true got %+v", resp)
	}

	resp = d.Handle(ctx, Message{Action: ActionLogEvent, Type: "Fileupload", Priority: domain.PriorityHigh})
	if !resp.Success || auth.priority != domain.PriorityHigh {
		t.Fatalf("log event: %+v priority=%q", resp, auth.priority)
	}

	resp = d.Handle(ctx, Message{Action: ActionGetEventLog})
	if resp.Format != FormatXML || resp.Log == "" {
		t.Fatalf("unexpected log response %+v", resp)
	}

	resp = d.Handle(ctx, Message{Action: "bogus"})
	if resp.Success {
		t.Fatalf("expected unknown action to fail")
	}
}

type stubReceiver struct {
	id   string
	err  error
	got  []Message
	lock sync.Mutex
}

func (s *stubReceiver) ID() string { return s.id }

func (s *stubReceiver) HandleMessage(_ context.Context, msg Message) (Response, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.got = append(s.got, msg)
	if s.err != nil {
		return Response{}, s.err
	}
	return Response{Success: true}, nil
}

func TestLocalBusIsolatesFailures(t *testing.T) {
	bus := NewLocalBus(time.Second)
	bad := &stubReceiver{id: "a", err: errors.New("gone")}
	good := &stubReceiver{id: "b"}
	bus.Subscribe(bad)
	unsubscribe := bus.Subscribe(good)

	errs := bus.Broadcast(context.Background(), RecordingState(true))
	if len(errs) != 1 {
		t.Fatalf("expected one delivery failure got %v", errs)
	}
	if len(good.got) != 1 || !good.got[0].IsRecording {
		t.Fatalf("healthy receiver did not get the update: %+v", good.got)
	}

	unsubscribe()
	if bus.Len() != 1 {
		t.Fatalf("expected 1 receiver after unsubscribe got %d", bus.Len())
	}
}

func TestBroadcastersConcatenateFailures(t *testing.T) {
	b1 := NewLocalBus(time.Second)
	b1.Subscribe(&stubReceiver{id: "x", err: errors.New("x")})
	b2 := NewLocalBus(time.Second)
	b2.Subscribe(&stubReceiver{id: "y", err: errors.New("y")})

	errs := Broadcasters{b1, nil, b2}.Broadcast(context.Background(), RecordingState(false))
	if len(errs) != 2 {
		t.Fatalf("expected 2 failures got %d", len(errs))
	}
}
