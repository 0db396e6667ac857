// ABOUTME: Error taxonomy for gateway sessions
// ABOUTME: Sentinels for protocol and lifecycle failures plus typed errors carrying context

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrProtocol matches every protocol violation, including an unexpected
	// first envelope during the handshake.
	ErrProtocol = errors.New("gateway protocol violation")

	// ErrLivenessTimeout ends a session whose previous heartbeat was never
	// acknowledged by the time the next one was due.
	ErrLivenessTimeout = errors.New("heartbeat not acknowledged")

	// ErrAlreadyDisconnected is returned by Disconnect on a session that is
	// closed or was never connected.
	ErrAlreadyDisconnected = errors.New("already disconnected")

	// ErrInvalidPhase is returned when an operation is not allowed in the
	// session's current phase.
	ErrInvalidPhase = errors.New("operation not valid in current phase")

	// ErrNoData is returned by NextEvent once the session has ended and every
	// buffered event was consumed.
	ErrNoData = errors.New("no more events")

	// ErrInvalidConfig wraps every configuration validation failure.
	ErrInvalidConfig = errors.New("invalid session config")
)

// ConnectError reports a failure to establish the transport.
type ConnectError struct {
	Endpoint string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// UnexpectedHandshakeEventError is returned when the first envelope after
// connecting is not Hello.
type UnexpectedHandshakeEventError struct {
	Op OpCode
}

func (e *UnexpectedHandshakeEventError) Error() string {
	return fmt.Sprintf("expected hello during handshake, got %s", e.Op)
}

func (e *UnexpectedHandshakeEventError) Is(target error) bool {
	return target == ErrProtocol
}

// UnexpectedEventError reports a well-formed envelope that is not valid in
// the session's phase, such as a second Hello. It is not fatal.
type UnexpectedEventError struct {
	Op    OpCode
	Phase Phase
}

func (e *UnexpectedEventError) Error() string {
	return fmt.Sprintf("unexpected %s while %s", e.Op, e.Phase)
}

// UnknownOpCodeError reports an inbound op code the client does not handle.
// The session skips the envelope and stays live.
type UnknownOpCodeError struct {
	Op  OpCode
	Raw json.RawMessage
}

func (e *UnknownOpCodeError) Error() string {
	return fmt.Sprintf("unknown op code %d", int(e.Op))
}

// DecodeError reports a frame or dispatch payload that could not be decoded.
// Sequence is set when the frame was a dispatch whose sequence number could
// still be read, so tracking can advance past it.
type DecodeError struct {
	Op       OpCode
	Event    string
	Sequence *uint64
	Err      error
}

func (e *DecodeError) Error() string {
	if e.Event != "" {
		return fmt.Sprintf("decode %s: %v", e.Event, e.Err)
	}
	return fmt.Sprintf("decode envelope: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// TransportError reports a send or receive failure on a live connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsFatal reports whether err ends a session rather than skipping one
// envelope.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var (
		unknown    *UnknownOpCodeError
		decode     *DecodeError
		unexpected *UnexpectedEventError
	)
	switch {
	case errors.As(err, &unknown), errors.As(err, &decode), errors.As(err, &unexpected):
		return false
	}
	return true
}
