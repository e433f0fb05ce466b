// Package audit defines the structured audit event model and the sinks
// that consume it (channel, JSON line writer, no-op).
//
// This package owns event shape and sink delivery only. Deciding which
// events to emit belongs to the engine, and no I/O happens here beyond
// what a caller-supplied Sink does.
package audit
