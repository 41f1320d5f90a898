// SPDX-License-Identifier: Apache-2.0

// Package ws carries the message contract over WebSocket. The Hub is the
// authority side; Client is the capture-context side.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/adiadia/session-recorder/internal/auth"
	"github.com/adiadia/session-recorder/internal/messaging"
	"github.com/adiadia/session-recorder/internal/metrics"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

const defaultWriteTimeout = 5 * time.Second

type HubOptions struct {
	// OriginPatterns lists extra origins allowed to connect. Same-origin and
	// origin-less clients are always allowed.
	OriginPatterns []string
	WriteTimeout   time.Duration
	Logger         *slog.Logger
}

type peer struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (p *peer) write(ctx context.Context, timeout time.Duration, env messaging.Envelope) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return wsjson.Write(wctx, p.conn, env)
}

// Hub accepts capture-context connections, feeds their messages to the
// authority and pushes broadcasts back to them.
type Hub struct {
	messenger    messaging.Messenger
	origins      []string
	writeTimeout time.Duration
	logger       *slog.Logger

	mu    sync.RWMutex
	peers map[string]*peer
}

func NewHub(messenger messaging.Messenger, opts HubOptions) *Hub {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	return &Hub{
		messenger:    messenger,
		origins:      opts.OriginPatterns,
		writeTimeout: opts.WriteTimeout,
		logger:       opts.Logger,
		peers:        make(map[string]*peer),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.CaptureContextFromContext(r.Context())
	if !ok {
		id = uuid.NewString()
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", "context_id", id, "error", err)
		return
	}

	p := &peer{id: id, conn: conn}
	h.register(p)
	metrics.AddCaptureContexts(1)
	h.logger.Info("capture context connected", "context_id", id)

	// The request context ends with the handler; the connection outlives
	// individual reads.
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		h.unregister(p)
		metrics.AddCaptureContexts(-1)
		_ = conn.Close(websocket.StatusNormalClosure, "")
		h.logger.Info("capture context disconnected", "context_id", id)
	}()

	for {
		var env messaging.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				h.logger.Debug("websocket read ended", "context_id", id, "error", err)
			}
			return
		}
		if env.Message == nil {
			// Replies to pushes carry nothing the hub needs.
			continue
		}
		h.handleMessage(ctx, p, *env.Message)
	}
}

func (h *Hub) handleMessage(ctx context.Context, p *peer, msg messaging.Message) {
	msg.ContextID = p.id

	if msg.RequestID == "" {
		if err := h.messenger.Notify(ctx, msg); err != nil {
			metrics.IncDeliveryFailure(metrics.DeliveryNotify)
			h.logger.Warn("notify from capture context failed",
				"context_id", p.id,
				"action", msg.Action,
				"error", err,
			)
		}
		return
	}

	// Requests may wait on the authority; keep reading meanwhile.
	go func() {
		resp, err := h.messenger.Request(ctx, msg)
		if err != nil {
			metrics.IncDeliveryFailure(metrics.DeliveryRequest)
			h.logger.Warn("request from capture context failed",
				"context_id", p.id,
				"action", msg.Action,
				"request_id", msg.RequestID,
				"error", err,
			)
			resp = messaging.Failure(err)
		}
		resp.RequestID = msg.RequestID
		if err := p.write(ctx, h.writeTimeout, messaging.Envelope{Response: &resp}); err != nil {
			h.logger.Debug("reply to capture context failed", "context_id", p.id, "error", err)
		}
	}()
}

func (h *Hub) register(p *peer) {
	h.mu.Lock()
	old := h.peers[p.id]
	h.peers[p.id] = p
	h.mu.Unlock()

	if old != nil {
		_ = old.conn.Close(websocket.StatusPolicyViolation, "replaced by a newer connection")
	}
}

func (h *Hub) unregister(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.peers[p.id]; ok && cur == p {
		delete(h.peers, p.id)
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Broadcast pushes msg to every connected capture context in id order.
func (h *Hub) Broadcast(ctx context.Context, msg messaging.Message) []error {
	h.mu.RLock()
	targets := make([]*peer, 0, len(h.peers))
	for _, p := range h.peers {
		targets = append(targets, p)
	}
	h.mu.RUnlock()

	sort.Slice(targets, func(i, j int) bool { return targets[i].id < targets[j].id })

	var errs []error
	for _, p := range targets {
		m := msg
		if err := p.write(ctx, h.writeTimeout, messaging.Envelope{Message: &m}); err != nil {
			errs = append(errs, fmt.Errorf("push %s to %s: %w", msg.Action, p.id, err))
		}
	}
	return errs
}

// Close disconnects every capture context.
func (h *Hub) Close() {
	h.mu.Lock()
	peers := h.peers
	h.peers = make(map[string]*peer)
	h.mu.Unlock()

	for _, p := range peers {
		_ = p.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}
