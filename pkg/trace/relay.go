package trace

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys used throughout the application
const (
	// Relay attributes
	AttrSessionID     = "session.id"
	AttrSessionState  = "session.state"
	AttrClientOrigin  = "client.origin"
	AttrUpstreamState = "upstream.state"
	AttrCloseReason   = "close.reason"
	AttrMessageSize   = "message.size"
	AttrMessageBinary = "message.binary"

	// Call attributes
	AttrCallUserID     = "call.user_id"
	AttrCallAgentID    = "call.agent_id"
	AttrCallTranscript = "call.transcript_entries"

	// Error attributes
	AttrErrorType    = "error.type"
	AttrErrorMessage = "error.message"
)

// SessionAttrs creates attributes for a relay session
func SessionAttrs(sessionID, origin string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrSessionID, sessionID),
		attribute.String(AttrClientOrigin, origin),
	}
}

// StartRelaySession creates the span covering a relay session's lifetime
func StartRelaySession(ctx context.Context, sessionID, origin string) (context.Context, trace.Span) {
	return StartSpan(ctx, "relay.session",
		trace.WithAttributes(SessionAttrs(sessionID, origin)...),
	)
}

// RecordUpstreamConnect annotates the session span with the upstream dial outcome
func RecordUpstreamConnect(span trace.Span, err error) {
	if err != nil {
		RecordError(span, err)
		return
	}
	span.AddEvent("upstream.connected")
}

// RecordSessionClose annotates the session span with the final close reason
func RecordSessionClose(span trace.Span, reason string) {
	span.SetAttributes(attribute.String(AttrCloseReason, reason))
}

// StartCallSpan creates the span covering one orchestrated call
func StartCallSpan(ctx context.Context, userID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "call.session",
		trace.WithAttributes(attribute.String(AttrCallUserID, userID)),
	)
}
