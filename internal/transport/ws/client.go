// SPDX-License-Identifier: Apache-2.0

package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/adiadia/session-recorder/internal/auth"
	"github.com/adiadia/session-recorder/internal/messaging"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

var ErrClientClosed = errors.New("websocket client closed")

type ClientOptions struct {
	ContextID    string
	Header       http.Header
	Timeout      time.Duration
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// Client is a Messenger for a capture context in another process. Pushes
// from the authority go to the receiver set with SetReceiver.
type Client struct {
	conn         *websocket.Conn
	timeout      time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]chan messaging.Response
	receiver messaging.Receiver

	done      chan struct{}
	closeOnce sync.Once
}

func Dial(ctx context.Context, url string, opts ClientOptions) (*Client, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = messaging.DefaultRequestTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	header := opts.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if opts.ContextID != "" {
		header.Set(auth.HeaderCaptureContext, opts.ContextID)
	}

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{
		conn:         conn,
		timeout:      opts.Timeout,
		writeTimeout: opts.WriteTimeout,
		logger:       opts.Logger,
		pending:      make(map[string]chan messaging.Response),
		done:         make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// SetReceiver routes pushed messages to r.
func (c *Client) SetReceiver(r messaging.Receiver) {
	c.mu.Lock()
	c.receiver = r
	c.mu.Unlock()
}

func (c *Client) Notify(ctx context.Context, msg messaging.Message) error {
	return c.write(ctx, messaging.Envelope{Message: &msg})
}

func (c *Client) Request(ctx context.Context, msg messaging.Message) (messaging.Response, error) {
	if msg.RequestID == "" {
		msg.RequestID = uuid.NewString()
	}
	reply := make(chan messaging.Response, 1)

	c.mu.Lock()
	c.pending[msg.RequestID] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.RequestID)
		c.mu.Unlock()
	}()

	if err := c.write(ctx, messaging.Envelope{Message: &msg}); err != nil {
		return messaging.Response{}, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp := <-reply:
		return resp, nil
	case <-timer.C:
		return messaging.Response{}, fmt.Errorf("%s: %w", msg.Action, messaging.ErrRequestTimeout)
	case <-c.done:
		return messaging.Response{}, ErrClientClosed
	case <-ctx.Done():
		return messaging.Response{}, ctx.Err()
	}
}

func (c *Client) write(ctx context.Context, env messaging.Envelope) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, c.conn, env)
}

func (c *Client) readLoop() {
	defer c.shutdown()

	ctx := context.Background()
	for {
		var env messaging.Envelope
		if err := wsjson.Read(ctx, c.conn, &env); err != nil {
			if websocket.CloseStatus(err) == -1 {
				c.logger.Debug("websocket client read ended", "error", err)
			}
			return
		}

		switch {
		case env.Response != nil:
			c.mu.Lock()
			reply, ok := c.pending[env.Response.RequestID]
			c.mu.Unlock()
			if ok {
				reply <- *env.Response
			}
		case env.Message != nil:
			c.mu.Lock()
			r := c.receiver
			c.mu.Unlock()
			if r == nil {
				continue
			}
			if _, err := r.HandleMessage(ctx, *env.Message); err != nil {
				c.logger.Warn("push handling failed", "action", env.Message.Action, "error", err)
			}
		}
	}
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Close() error {
	c.shutdown()
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
