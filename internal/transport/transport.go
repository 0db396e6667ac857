// ABOUTME: Transport contracts for the gateway frame stream
// ABOUTME: Defines Dialer and Conn plus websocket close codes

package transport

import (
	"context"
	"errors"
)

// Websocket close codes used by the gateway client.
const (
	CloseNormal         = 1000
	CloseGoingAway      = 1001
	CloseAbnormal       = 1006
	CloseUnknownError   = 4000
	CloseSessionTimeout = 4009
)

// ErrClosed is returned by Send or Receive after Close has been called.
var ErrClosed = errors.New("transport closed")

// Conn is one open frame stream.
type Conn interface {
	// Receive blocks until the next frame arrives. It returns io.EOF when the
	// peer ended the stream with a normal close.
	Receive() ([]byte, error)

	// Send writes one text frame.
	Send(frame []byte) error

	// Close sends a close frame with the given code and reason, then releases
	// the underlying connection whether or not the peer acknowledged.
	Close(code int, reason string) error
}

// Dialer opens Conns.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, endpoint string) (Conn, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, endpoint string) (Conn, error) {
	return f(ctx, endpoint)
}
