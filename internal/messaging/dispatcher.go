// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/adiadia/session-recorder/internal/domain"
)

// Authority is the part of the session authority reachable by messages.
type Authority interface {
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) error
	LogEvent(ctx context.Context, eventType string, details map[string]any, priority domain.Priority) error
	IsRecording() bool
	EventLog(ctx context.Context) (string, error)
}

// Dispatcher maps messages onto Authority calls and shapes the replies.
type Dispatcher struct {
	authority Authority
	logger    *slog.Logger
}

func NewDispatcher(authority Authority, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{authority: authority, logger: logger}
}

func (d *Dispatcher) Handle(ctx context.Context, msg Message) Response {
	resp := d.handle(ctx, msg)
	resp.RequestID = msg.RequestID
	return resp
}

func (d *Dispatcher) handle(ctx context.Context, msg Message) Response {
	switch msg.Action {
	case ActionStartRecording:
		if err := d.authority.StartRecording(ctx); err != nil {
			return Failure(err)
		}
		return Response{Success: true}

	case ActionStopRecording:
		if err := d.authority.StopRecording(ctx); err != nil {
			return Failure(err)
		}
		return Response{Success: true}

	case ActionLogEvent:
		if err := d.authority.LogEvent(ctx, msg.Type, msg.Details, msg.Priority); err != nil {
			d.logger.Warn("log event rejected",
				"event_type", msg.Type,
				"context_id", msg.ContextID,
				"error", err,
			)
			return Failure(err)
		}
		return Response{Success: true}

	case ActionCheckRecordingState:
		recording := d.authority.IsRecording()
		return Response{Success: true, IsRecording: &recording}

	case ActionGetEventLog:
		log, err := d.authority.EventLog(ctx)
		if err != nil {
			d.logger.Error("event log export failed", "error", err)
			return Failure(err)
		}
		return Response{Success: true, Log: log, Format: FormatXML}

	default:
		return Failure(fmt.Errorf("%w: %q", ErrUnknownAction, msg.Action))
	}
}
