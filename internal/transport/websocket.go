// ABOUTME: gorilla/websocket implementation of the transport contracts
// ABOUTME: Splits send and receive locking and bounds writes with deadlines

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultCloseTimeout     = 5 * time.Second
	defaultReadLimit        = 16 << 20
)

// Options configures a WebSocketDialer. Zero values select defaults.
type Options struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	CloseTimeout     time.Duration
	ReadLimit        int64
	Header           http.Header
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = defaultCloseTimeout
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = defaultReadLimit
	}
	return o
}

// WebSocketDialer dials gateway endpoints over websockets.
type WebSocketDialer struct {
	opts   Options
	dialer *websocket.Dialer
}

// NewWebSocketDialer creates a dialer with the given options.
func NewWebSocketDialer(opts Options) *WebSocketDialer {
	opts = opts.withDefaults()
	return &WebSocketDialer{
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
	}
}

// Dial opens a websocket connection to endpoint.
func (d *WebSocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	ws, resp, err := d.dialer.DialContext(ctx, endpoint, d.opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing %s: %w (status %d)", endpoint, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dialing %s: %w", endpoint, err)
	}
	ws.SetReadLimit(d.opts.ReadLimit)
	return newWebSocketConn(ws, d.opts), nil
}

// WebSocketConn is a Conn backed by a gorilla websocket.
type WebSocketConn struct {
	ws   *websocket.Conn
	opts Options

	sendMu sync.Mutex
	recvMu sync.Mutex

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newWebSocketConn(ws *websocket.Conn, opts Options) *WebSocketConn {
	return &WebSocketConn{ws: ws, opts: opts.withDefaults()}
}

// Wrap adapts an already established websocket connection.
func Wrap(ws *websocket.Conn, opts Options) *WebSocketConn {
	return newWebSocketConn(ws, opts)
}

// Receive reads the next data frame.
func (c *WebSocketConn) Receive() ([]byte, error) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			if c.closed.Load() {
				return nil, ErrClosed
			}
			return nil, err
		}
		switch kind {
		case websocket.TextMessage, websocket.BinaryMessage:
			return data, nil
		}
	}
}

// Send writes one text frame, bounded by the write timeout.
func (c *WebSocketConn) Send(frame []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// Close sends a close frame and tears down the connection. Only the first
// call has any effect; later calls return the first call's result.
func (c *WebSocketConn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		msg := websocket.FormatCloseMessage(code, reason)
		deadline := time.Now().Add(c.opts.CloseTimeout)
		writeErr := c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
		if errors.Is(writeErr, websocket.ErrCloseSent) {
			writeErr = nil
		}
		closeErr := c.ws.Close()
		c.closeErr = errors.Join(writeErr, closeErr)
	})
	return c.closeErr
}
