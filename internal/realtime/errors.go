package realtime

import (
	"errors"
	"fmt"
)

// ErrUnexpectedDisconnect is reported when the transport drops outside of a
// user-initiated stop.
var ErrUnexpectedDisconnect = errors.New("transport disconnected unexpectedly")

// ErrSessionActive is returned when a session start races an existing session
var ErrSessionActive = errors.New("a session is already active")

// ErrSessionClosed is returned for operations on a closed session
var ErrSessionClosed = errors.New("session is closed")

// NegotiationError reports a failed transport negotiation. The attempt is
// fatal; callers decide whether to retry from scratch.
type NegotiationError struct {
	Stage string // "credential", "sdp", "media"
	Err   error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation failed at %s: %v", e.Stage, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a malformed or unexpected inbound event. It is
// logged and dropped; the session continues.
type ProtocolError struct {
	EventType string
	Err       error
}

func (e *ProtocolError) Error() string {
	if e.EventType != "" {
		return fmt.Sprintf("protocol error in %q event: %v", e.EventType, e.Err)
	}
	return fmt.Sprintf("protocol error: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
