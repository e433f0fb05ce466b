package tunelink

import (
	"io"

	internalaudit "github.com/tunelink/tunelink/internal/audit"
)

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives AuditEvent values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an AuditSink that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based AuditSink.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an AuditSink that writes JSON-encoded events, one per
// line, to an io.Writer.
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a ChannelSink with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a JSONWriterSink that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// Audit event types emitted by the engine.
const (
	AuditAuthSet         = "auth_set"
	AuditIdentityCleared = "identity_cleared"
	AuditSessionCleared  = "session_cleared"
	AuditTokenRefresh    = "token_refresh"
	AuditAccountLink     = "account_link"
	AuditLinkStatus      = "link_status"
	AuditProofGenerated  = "proof_generated"
	AuditProofValidated  = "proof_validated"
	AuditProofStored     = "proof_stored"
)
