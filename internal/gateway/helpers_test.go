// ABOUTME: In-memory transport and frame builders shared by gateway tests
// ABOUTME: Lets tests script server frames and inspect what the session sent

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/gatewaykit/internal/transport"
)

type fakeConn struct {
	inbound chan []byte
	sent    chan []byte
	closed  chan struct{}

	mu          sync.Mutex
	closeOnce   sync.Once
	closeCode   int
	closeReason string
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 256),
		sent:    make(chan []byte, 256),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Receive() ([]byte, error) {
	select {
	case <-c.closed:
		return nil, transport.ErrClosed
	default:
	}
	select {
	case frame, ok := <-c.inbound:
		if !ok {
			return nil, io.EOF
		}
		return frame, nil
	case <-c.closed:
		return nil, transport.ErrClosed
	}
}

func (c *fakeConn) Send(frame []byte) error {
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}
	c.sent <- append([]byte(nil), frame...)
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeCode, c.closeReason = code, reason
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

// push queues a frame as if the server sent it.
func (c *fakeConn) push(frame string) {
	c.inbound <- []byte(frame)
}

// hangUp ends the server side of the stream.
func (c *fakeConn) hangUp() {
	close(c.inbound)
}

func (c *fakeConn) closedWith() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason
}

// expectSent waits for the next outbound frame with the given op, skipping
// any others.
func (c *fakeConn) expectSent(t *testing.T, op OpCode) Envelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case frame := <-c.sent:
			env, err := DecodeEnvelope(frame)
			require.NoError(t, err)
			if env.Op == op {
				return env
			}
		case <-deadline:
			t.Fatalf("no %s frame sent", op)
		}
	}
}

func helloFrame(intervalMS int) string {
	return fmt.Sprintf(`{"op":10,"d":{"heartbeat_interval":%d}}`, intervalMS)
}

func dispatchFrame(name string, seq uint64, data string) string {
	return fmt.Sprintf(`{"op":0,"s":%d,"t":%q,"d":%s}`, seq, name, data)
}

const readyPayload = `{"v":10,"user":{"id":"80351110224678912","username":"nelly"},` +
	`"guilds":[{"id":"41771983423143937","unavailable":true}],` +
	`"session_id":"abc123","resume_gateway_url":"wss://resume.example.test"}`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dialerFor(conn transport.Conn) transport.Dialer {
	return transport.DialerFunc(func(ctx context.Context, endpoint string) (transport.Conn, error) {
		return conn, nil
	})
}

// quietConfig never beats before an hour has passed unless the test
// overrides the interval or jitter.
func quietConfig() Config {
	return Config{
		Token:   "test-token",
		Intents: IntentGuilds | IntentGuildMessages,
		Jitter:  func() float64 { return 1 },
	}
}

func newTestSession(t *testing.T, cfg Config, conn *fakeConn, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{WithDialer(dialerFor(conn)), WithLogger(discardLogger())}, opts...)
	s, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Disconnect(ctx)
	})
	return s
}

// startLive drives a session through the handshake and returns it live.
func startLive(t *testing.T, cfg Config, conn *fakeConn, intervalMS int, opts ...Option) *Session {
	t.Helper()
	s := newTestSession(t, cfg, conn, opts...)
	conn.push(helloFrame(intervalMS))
	require.NoError(t, s.Connect(t.Context(), "wss://gateway.example.test"))
	conn.expectSent(t, OpIdentify)
	_, err := s.Run(t.Context())
	require.NoError(t, err)
	return s
}

// collectErrors returns a handler that forwards reported errors to a channel.
func collectErrors() (func(error), <-chan error) {
	ch := make(chan error, 64)
	return func(err error) { ch <- err }, ch
}

func nextEvent(t *testing.T, s *Session) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	ev, err := s.NextEvent(ctx)
	require.NoError(t, err)
	return ev
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session did not close")
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}
