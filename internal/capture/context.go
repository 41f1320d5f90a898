// SPDX-License-Identifier: Apache-2.0

// Package capture is the page-side half of the recorder. A Context observes
// one document, keeps a local copy of the recording flag, and forwards
// normalized events to the session authority through a Messenger.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adiadia/session-recorder/internal/dom"
	"github.com/adiadia/session-recorder/internal/domain"
	"github.com/adiadia/session-recorder/internal/locator"
	"github.com/adiadia/session-recorder/internal/messaging"
	"github.com/adiadia/session-recorder/internal/metrics"
)

var ErrContextClosed = errors.New("capture context closed")

type Options struct {
	// ID overrides the generated context id.
	ID             string
	GestureTimeout time.Duration
	Logger         *slog.Logger
	Now            func() time.Time
}

type Context struct {
	id        string
	doc       *dom.Document
	messenger messaging.Messenger
	resolver  *locator.Resolver
	logger    *slog.Logger
	now       func() time.Time

	mu         sync.Mutex
	normalizer *Normalizer
	closed     bool
	// pushes counts applied state pushes. A pull reply is only applied when
	// no push landed while it was in flight.
	pushes uint64
}

func NewContext(doc *dom.Document, messenger messaging.Messenger, opts Options) *Context {
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	resolver := locator.New()
	return &Context{
		id:         opts.ID,
		doc:        doc,
		messenger:  messenger,
		resolver:   resolver,
		logger:     opts.Logger.With("context_id", opts.ID),
		now:        opts.Now,
		normalizer: NewNormalizer(doc, resolver, opts.GestureTimeout),
	}
}

func (c *Context) ID() string {
	return c.id
}

func (c *Context) Document() *dom.Document {
	return c.doc
}

func (c *Context) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.normalizer.Recording()
}

// Init attaches listeners and pulls the recording state from the authority.
// When a session is already running it logs the page load, and a refresh
// when the document was reloaded. If the authority cannot be reached the
// context stays idle.
func (c *Context) Init(ctx context.Context) error {
	c.AttachListeners()

	c.mu.Lock()
	pushesBefore := c.pushes
	c.mu.Unlock()

	resp, err := c.messenger.Request(ctx, messaging.Message{
		Action:    messaging.ActionCheckRecordingState,
		ContextID: c.id,
	})
	if err != nil {
		metrics.IncDeliveryFailure(metrics.DeliveryRequest)
		c.logger.Warn("recording state check failed", "error", err)
		return err
	}
	recording := resp.IsRecording != nil && *resp.IsRecording

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrContextClosed
	}
	if c.pushes != pushesBefore {
		// The pushed state is newer than the reply.
		recording = c.normalizer.Recording()
		c.logger.Debug("recording state pushed during pull", "is_recording", recording)
	}
	c.normalizer.SetRecording(recording)
	if !recording {
		return nil
	}

	page := map[string]any{"url": c.doc.URL, "title": c.doc.Title}
	c.send(ctx, Event{Type: domain.EventPageLoad, Details: page})
	if c.doc.NavigationType == dom.NavigationReload {
		c.send(ctx, Event{Type: domain.EventRefresh, Details: map[string]any{"url": c.doc.URL, "title": c.doc.Title}})
	}
	return nil
}

// HandleMessage accepts pushes from the authority.
func (c *Context) HandleMessage(_ context.Context, msg messaging.Message) (messaging.Response, error) {
	switch msg.Action {
	case messaging.ActionUpdateRecordingState:
		if err := c.UpdateRecordingState(msg.IsRecording); err != nil {
			return messaging.Response{}, err
		}
		return messaging.Response{Success: true, RequestID: msg.RequestID}, nil
	default:
		return messaging.Failure(messaging.ErrUnknownAction), nil
	}
}

func (c *Context) UpdateRecordingState(recording bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrContextClosed
	}
	if c.normalizer.Recording() != recording {
		c.logger.Info("recording state updated", "is_recording", recording)
	}
	c.pushes++
	c.normalizer.SetRecording(recording)
	return nil
}

// Dispatch normalizes sig and forwards the resulting events. Delivery
// failures are logged and counted; the events are dropped.
func (c *Context) Dispatch(ctx context.Context, sig Signal) ([]Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		metrics.IncCaptureDropped(metrics.DropContextClosed)
		return nil, ErrContextClosed
	}
	if !c.normalizer.Recording() {
		metrics.IncCaptureDropped(metrics.DropNotRecording)
		return nil, nil
	}
	if sig.At.IsZero() {
		sig.At = c.now()
	}

	events := c.normalizer.Normalize(sig)
	for _, ev := range events {
		c.send(ctx, ev)
	}
	return events, nil
}

// send must be called with c.mu held.
func (c *Context) send(ctx context.Context, ev Event) {
	if !c.normalizer.Recording() {
		return
	}
	err := c.messenger.Notify(ctx, messaging.Message{
		Action:    messaging.ActionLogEvent,
		Type:      ev.Type,
		Details:   ev.Details,
		Priority:  ev.Priority,
		ContextID: c.id,
	})
	if err != nil {
		metrics.IncDeliveryFailure(metrics.DeliveryNotify)
		c.logger.Warn("event delivery failed",
			"event_type", ev.Type,
			"error", err,
		)
	}
}

// AttachListeners scans the document, shadow trees included, for text
// controls not yet tracked and drops entries for controls that have been
// removed. It returns the number of newly tracked controls.
func (c *Context) AttachListeners() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	inputs := c.normalizer.Inputs()
	if removed := inputs.Sweep(c.resolver.Attached); removed > 0 {
		c.logger.Debug("input tracking swept", "removed", removed)
	}

	attached := 0
	dom.Walk(c.doc.DocumentElement(), func(el *dom.Element) bool {
		if el.IsTextControl() && inputs.Track(el) {
			attached++
		}
		return true
	})
	return attached
}

// Close detaches the context. Later calls fail with ErrContextClosed.
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.normalizer.SetRecording(false)
}
