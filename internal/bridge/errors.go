package bridge

import (
	"errors"
	"fmt"
)

// Domain errors for the bridge package.
var (
	// ErrNotConnected is returned when the gateway has no live session, or
	// when the session closed while a caller was waiting on it.
	ErrNotConnected = errors.New("bridge: gateway not connected")

	// ErrTimeout is returned by AwaitAck when no reply arrived in time.
	ErrTimeout = errors.New("bridge: timed out waiting for reply")

	// ErrUnknownRequest is returned by AwaitAck for a request ID that was
	// never issued, was already awaited, or has been swept.
	ErrUnknownRequest = errors.New("bridge: unknown request id")

	// ErrBackpressure is returned by Send when the session's write queue is full.
	ErrBackpressure = errors.New("bridge: session write queue full")

	// ErrProtocol is the root of every envelope validation failure.
	ErrProtocol = errors.New("bridge: protocol error")

	// ErrClosed is returned once the Manager has been shut down.
	ErrClosed = errors.New("bridge: manager closed")
)

// CodecError describes an envelope that could not be encoded or decoded.
// It matches ErrProtocol with errors.Is.
type CodecError struct {
	Reason string
	Err    error
}

func (e *CodecError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bridge: %s: %v", e.Reason, e.Err)
	}
	return "bridge: " + e.Reason
}

// Unwrap exposes ErrProtocol and the underlying cause, if any.
func (e *CodecError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrProtocol, e.Err}
	}
	return []error{ErrProtocol}
}

func codecErr(reason string, err error) error {
	return &CodecError{Reason: reason, Err: err}
}
