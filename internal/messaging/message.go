// SPDX-License-Identifier: Apache-2.0

// Package messaging carries messages between capture contexts and the
// session authority. Two call shapes exist: Notify (fire and forget) and
// Request (exactly one reply, bounded by a timeout).
package messaging

import (
	"context"
	"errors"

	"github.com/adiadia/session-recorder/internal/domain"
)

type Action string

const (
	ActionStartRecording       Action = "startRecording"
	ActionStopRecording        Action = "stopRecording"
	ActionLogEvent             Action = "logEvent"
	ActionCheckRecordingState  Action = "checkRecordingState"
	ActionGetEventLog          Action = "getEventLog"
	ActionUpdateRecordingState Action = "updateRecordingState"
)

// FormatXML is the only log format the authority produces.
const FormatXML = "xml"

var (
	ErrRequestTimeout = errors.New("request timed out")
	ErrMailboxFull    = errors.New("mailbox full")
	ErrMailboxClosed  = errors.New("mailbox closed")
	ErrUnknownAction  = errors.New("unknown action")
)

type Message struct {
	Action      Action          `json:"action"`
	Type        string          `json:"type,omitempty"`
	Details     map[string]any  `json:"details,omitempty"`
	Priority    domain.Priority `json:"priority,omitempty"`
	IsRecording bool            `json:"isRecording,omitempty"`
	RequestID   string          `json:"requestId,omitempty"`
	// ContextID names the capture context that sent the message.
	ContextID string `json:"contextId,omitempty"`
}

type Response struct {
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	IsRecording *bool  `json:"isRecording,omitempty"`
	Log         string `json:"log,omitempty"`
	Format      string `json:"format,omitempty"`
	RequestID   string `json:"requestId,omitempty"`
}

// Envelope is the wire frame on bidirectional transports. Exactly one field
// is set.
type Envelope struct {
	Message  *Message  `json:"message,omitempty"`
	Response *Response `json:"response,omitempty"`
}

func RecordingState(recording bool) Message {
	return Message{Action: ActionUpdateRecordingState, IsRecording: recording}
}

func Failure(err error) Response {
	return Response{Success: false, Error: err.Error()}
}

// Messenger is how a capture context reaches the authority.
type Messenger interface {
	Notify(ctx context.Context, msg Message) error
	Request(ctx context.Context, msg Message) (Response, error)
}

// Handler answers a single message.
type Handler interface {
	Handle(ctx context.Context, msg Message) Response
}

type HandlerFunc func(ctx context.Context, msg Message) Response

func (f HandlerFunc) Handle(ctx context.Context, msg Message) Response {
	return f(ctx, msg)
}

// Receiver is a capture context as seen by a broadcaster.
type Receiver interface {
	ID() string
	HandleMessage(ctx context.Context, msg Message) (Response, error)
}

// Broadcaster pushes a message to every known capture context. Each returned
// error is one failed delivery.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg Message) []error
}

// Broadcasters fans a message out over several transports.
type Broadcasters []Broadcaster

func (bs Broadcasters) Broadcast(ctx context.Context, msg Message) []error {
	var errs []error
	for _, b := range bs {
		if b == nil {
			continue
		}
		errs = append(errs, b.Broadcast(ctx, msg)...)
	}
	return errs
}
