package logging

import (
	"github.com/rs/zerolog"
)

// SessionContext contains faucet session fields for structured logging.
type SessionContext struct {
	SessionID  string
	RemoteAddr string
	TargetAddr string
	QueueIdx   int64
}

// WithSessionContext adds all non-empty session context fields to a log event.
func WithSessionContext(event *zerolog.Event, ctx *SessionContext) *zerolog.Event {
	if ctx == nil {
		return event
	}

	if ctx.SessionID != "" {
		event = event.Str(FieldSessionID, ctx.SessionID)
	}
	if ctx.RemoteAddr != "" {
		event = event.Str(FieldRemoteAddr, ctx.RemoteAddr)
	}
	if ctx.TargetAddr != "" {
		event = event.Str(FieldTargetAddr, ctx.TargetAddr)
	}
	if ctx.QueueIdx > 0 {
		event = event.Int64(FieldQueueIdx, ctx.QueueIdx)
	}

	return event
}
