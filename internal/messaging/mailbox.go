// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultMailboxSize    = 256
	DefaultRequestTimeout = 5 * time.Second
)

type envelope struct {
	ctx   context.Context
	msg   Message
	reply chan Response
}

// Mailbox serializes inbound messages onto a single goroutine in arrival
// order. It implements Messenger for in-process capture contexts.
type Mailbox struct {
	handler Handler
	queue   chan envelope
	timeout time.Duration
	logger  *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

func NewMailbox(handler Handler, size int, timeout time.Duration, logger *slog.Logger) *Mailbox {
	if size <= 0 {
		size = DefaultMailboxSize
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailbox{
		handler: handler,
		queue:   make(chan envelope, size),
		timeout: timeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Run processes messages until ctx is canceled or Close is called.
func (m *Mailbox) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case env := <-m.queue:
			m.process(env)
		}
	}
}

func (m *Mailbox) process(env envelope) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("message handler panicked",
				"action", env.msg.Action,
				"panic", fmt.Sprint(r),
			)
			if env.reply != nil {
				env.reply <- Response{Success: false, Error: "internal error", RequestID: env.msg.RequestID}
			}
		}
	}()

	resp := m.handler.Handle(env.ctx, env.msg)
	if env.reply != nil {
		env.reply <- resp
	}
}

// Notify enqueues msg without waiting for it to be handled.
func (m *Mailbox) Notify(ctx context.Context, msg Message) error {
	return m.enqueue(envelope{ctx: context.WithoutCancel(ctx), msg: msg})
}

// Request enqueues msg and waits for its reply, at most the mailbox timeout.
func (m *Mailbox) Request(ctx context.Context, msg Message) (Response, error) {
	env := envelope{
		ctx:   context.WithoutCancel(ctx),
		msg:   msg,
		reply: make(chan Response, 1),
	}
	if err := m.enqueue(env); err != nil {
		return Response{}, err
	}

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case resp := <-env.reply:
		return resp, nil
	case <-timer.C:
		return Response{}, fmt.Errorf("%s: %w", msg.Action, ErrRequestTimeout)
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

func (m *Mailbox) enqueue(env envelope) error {
	select {
	case <-m.done:
		return ErrMailboxClosed
	default:
	}

	select {
	case m.queue <- env:
		return nil
	default:
		return ErrMailboxFull
	}
}

// Close stops Run. Messages still queued are dropped.
func (m *Mailbox) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
	})
}
