// ABOUTME: Tests for the reconnect runner against a scripted in-memory gateway
// ABOUTME: Covers resume after a drop, identify fallback, reconnect requests, and replay filtering

package resume

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/gatewaykit/internal/dedupe"
	"github.com/2389/gatewaykit/internal/gateway"
	"github.com/2389/gatewaykit/internal/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// pipeConn is the client end of a scripted connection; the script drives
// the server end through the same channels.
type pipeConn struct {
	toClient   chan []byte
	fromClient chan []byte
	closed     chan struct{}
	once       sync.Once
}

func newPipeConn() *pipeConn {
	return &pipeConn{
		toClient:   make(chan []byte, 64),
		fromClient: make(chan []byte, 64),
		closed:     make(chan struct{}),
	}
}

func (p *pipeConn) Receive() ([]byte, error) {
	select {
	case frame, ok := <-p.toClient:
		if !ok {
			return nil, io.EOF
		}
		return frame, nil
	case <-p.closed:
		return nil, transport.ErrClosed
	}
}

func (p *pipeConn) Send(frame []byte) error {
	select {
	case <-p.closed:
		return transport.ErrClosed
	case p.fromClient <- append([]byte(nil), frame...):
		return nil
	}
}

func (p *pipeConn) Close(int, string) error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *pipeConn) push(frame string) { p.toClient <- []byte(frame) }

func (p *pipeConn) hangUp() { close(p.toClient) }

// expect waits for the next client frame with op.
func (p *pipeConn) expect(op gateway.OpCode) (gateway.Envelope, error) {
	timeout := time.After(2 * time.Second)
	for {
		select {
		case frame := <-p.fromClient:
			env, err := gateway.DecodeEnvelope(frame)
			if err != nil {
				return gateway.Envelope{}, err
			}
			if env.Op == op {
				return env, nil
			}
		case <-timeout:
			return gateway.Envelope{}, fmt.Errorf("no %s frame", op)
		}
	}
}

type script func(t *testing.T, c *pipeConn)

type fakeGateway struct {
	t       *testing.T
	scripts []script

	mu        sync.Mutex
	endpoints []string
}

func (g *fakeGateway) Dial(_ context.Context, endpoint string) (transport.Conn, error) {
	g.mu.Lock()
	i := len(g.endpoints)
	g.endpoints = append(g.endpoints, endpoint)
	g.mu.Unlock()

	if i >= len(g.scripts) {
		return nil, errors.New("connection refused")
	}
	c := newPipeConn()
	go g.scripts[i](g.t, c)
	return c, nil
}

func (g *fakeGateway) dialed() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.endpoints...)
}

type sessionCounter struct {
	mu      sync.Mutex
	started []bool
}

func (s *sessionCounter) SessionStarted(resumed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, resumed)
}

func (s *sessionCounter) snapshot() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.started...)
}

const (
	mainEndpoint   = "wss://gateway.example.test"
	resumeEndpoint = "wss://resume.example.test"
	hello          = `{"op":10,"d":{"heartbeat_interval":3600000}}`
)

func ready(sessionID string, seq int) string {
	return fmt.Sprintf(`{"op":0,"s":%d,"t":"READY","d":{"v":10,"user":{"id":"1","username":"bot"},"guilds":[],`+
		`"session_id":%q,"resume_gateway_url":%q}}`, seq, sessionID, resumeEndpoint)
}

func message(seq int, id int) string {
	return fmt.Sprintf(`{"op":0,"s":%d,"t":"MESSAGE_CREATE","d":{"id":"%d","channel_id":"5","content":"m%d"}}`, seq, id, id)
}

func newTestRunner(t *testing.T, gw *fakeGateway, store CursorStore, obs Observer) *Runner {
	t.Helper()
	window := dedupe.New(time.Minute, 100)
	t.Cleanup(window.Close)

	r, err := NewRunner(Options{
		Config: gateway.Config{
			Token:   "token",
			Intents: gateway.IntentGuildMessages,
			Jitter:  func() float64 { return 1 },
		},
		Endpoint:       mainEndpoint,
		Store:          store,
		Dedupe:         window,
		MinBackoff:     10 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
		SessionOptions: []gateway.Option{gateway.WithDialer(gw), gateway.WithLogger(discardLogger())},
		Observer:       obs,
		Logger:         discardLogger(),
	})
	require.NoError(t, err)
	return r
}

// runUntil runs r, feeding events to a channel, until stop reports true for
// an event.
func runUntil(t *testing.T, r *Runner, stop func(gateway.Event) bool) []gateway.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	var (
		mu     sync.Mutex
		events []gateway.Event
	)
	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx, func(_ context.Context, ev gateway.Event) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
			if stop(ev) {
				cancel()
			}
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("runner did not stop")
	}
	require.NotErrorIs(t, ctx.Err(), context.DeadlineExceeded, "stop condition never met")

	mu.Lock()
	defer mu.Unlock()
	return events
}

func messageIDs(events []gateway.Event) []string {
	var ids []string
	for _, ev := range events {
		if m, ok := ev.(gateway.MessageCreate); ok {
			ids = append(ids, m.Message.ID.String())
		}
	}
	return ids
}

func isMessage(id string) func(gateway.Event) bool {
	return func(ev gateway.Event) bool {
		m, ok := ev.(gateway.MessageCreate)
		return ok && m.Message.ID.String() == id
	}
}

func TestRunner_ResumesAfterDrop(t *testing.T) {
	gw := &fakeGateway{t: t, scripts: []script{
		func(t *testing.T, c *pipeConn) {
			c.push(hello)
			_, err := c.expect(gateway.OpIdentify)
			assert.NoError(t, err)
			c.push(ready("s1", 1))
			c.push(message(2, 10))
			c.hangUp()
		},
		func(t *testing.T, c *pipeConn) {
			c.push(hello)
			env, err := c.expect(gateway.OpResume)
			if !assert.NoError(t, err) {
				return
			}
			assert.JSONEq(t, `{"token":"token","session_id":"s1","seq":2}`, string(env.Data))
			c.push(message(2, 10))
			c.push(`{"op":0,"s":3,"t":"RESUMED","d":{}}`)
			c.push(message(4, 11))
		},
	}}
	store := NewMemoryStore()
	obs := &sessionCounter{}
	r := newTestRunner(t, gw, store, obs)

	events := runUntil(t, r, isMessage("11"))

	assert.Equal(t, []string{"10", "11"}, messageIDs(events))
	assert.Equal(t, []string{mainEndpoint, resumeEndpoint}, gw.dialed())
	assert.Equal(t, []bool{false, true}, obs.snapshot())

	c, err := store.Load(t.Context(), "0/1")
	require.NoError(t, err)
	assert.Equal(t, "s1", c.SessionID)
	assert.Equal(t, uint64(4), c.Sequence)
	assert.Equal(t, resumeEndpoint, c.ResumeURL)
}

func TestRunner_InvalidSessionFallsBackToIdentify(t *testing.T) {
	gw := &fakeGateway{t: t, scripts: []script{
		func(t *testing.T, c *pipeConn) {
			c.push(hello)
			_, err := c.expect(gateway.OpResume)
			assert.NoError(t, err)
			c.push(`{"op":9,"d":false}`)
		},
		func(t *testing.T, c *pipeConn) {
			c.push(hello)
			_, err := c.expect(gateway.OpIdentify)
			assert.NoError(t, err)
			c.push(ready("fresh", 1))
			c.push(message(2, 20))
		},
	}}
	store := NewMemoryStore()
	require.NoError(t, store.Save(t.Context(), &Cursor{ShardKey: "0/1", SessionID: "stale", Sequence: 5}))
	r := newTestRunner(t, gw, store, nil)

	events := runUntil(t, r, isMessage("20"))

	assert.Contains(t, events, gateway.Event(gateway.InvalidSession{Resumable: false}))
	assert.Equal(t, []string{mainEndpoint, mainEndpoint}, gw.dialed())

	c, err := store.Load(t.Context(), "0/1")
	require.NoError(t, err)
	assert.Equal(t, "fresh", c.SessionID)
	assert.Equal(t, uint64(2), c.Sequence)
}

func TestRunner_ReidentifyDeliversGuildsAgain(t *testing.T) {
	const guild = `{"op":0,"s":%d,"t":"GUILD_CREATE","d":{"id":"7","name":"lounge"}}`
	gw := &fakeGateway{t: t, scripts: []script{
		func(t *testing.T, c *pipeConn) {
			c.push(hello)
			_, err := c.expect(gateway.OpIdentify)
			assert.NoError(t, err)
			c.push(ready("s1", 1))
			c.push(fmt.Sprintf(guild, 2))
			c.push(message(3, 40))
			c.push(`{"op":9,"d":false}`)
		},
		func(t *testing.T, c *pipeConn) {
			c.push(hello)
			_, err := c.expect(gateway.OpIdentify)
			assert.NoError(t, err)
			c.push(ready("fresh", 1))
			c.push(fmt.Sprintf(guild, 2))
			c.push(message(3, 40))
			c.push(message(4, 41))
		},
	}}
	r := newTestRunner(t, gw, NewMemoryStore(), nil)

	events := runUntil(t, r, isMessage("41"))

	guilds := 0
	for _, ev := range events {
		if name, _, ok := gateway.DispatchInfo(ev); ok && name == gateway.EventGuildCreate {
			guilds++
		}
	}
	assert.Equal(t, 2, guilds)
	assert.Equal(t, []string{"40", "40", "41"}, messageIDs(events))
}

func TestRunner_DeliversRepeatsOutsideReplay(t *testing.T) {
	gw := &fakeGateway{t: t, scripts: []script{
		func(t *testing.T, c *pipeConn) {
			c.push(hello)
			_, err := c.expect(gateway.OpIdentify)
			assert.NoError(t, err)
			c.push(ready("s1", 1))
			c.push(message(2, 50))
			c.hangUp()
		},
		func(t *testing.T, c *pipeConn) {
			c.push(hello)
			_, err := c.expect(gateway.OpResume)
			assert.NoError(t, err)
			c.push(message(2, 50))
			c.push(`{"op":0,"s":3,"t":"RESUMED","d":{}}`)
			c.push(message(4, 50))
			c.push(message(5, 51))
		},
	}}
	r := newTestRunner(t, gw, NewMemoryStore(), nil)

	events := runUntil(t, r, isMessage("51"))

	assert.Equal(t, []string{"50", "50", "51"}, messageIDs(events))
}

func TestRunner_ReconnectRequestResumesImmediately(t *testing.T) {
	gw := &fakeGateway{t: t, scripts: []script{
		func(t *testing.T, c *pipeConn) {
			c.push(hello)
			_, err := c.expect(gateway.OpIdentify)
			assert.NoError(t, err)
			c.push(ready("s1", 1))
			c.push(`{"op":7,"d":null}`)
		},
		func(t *testing.T, c *pipeConn) {
			c.push(hello)
			env, err := c.expect(gateway.OpResume)
			if !assert.NoError(t, err) {
				return
			}
			assert.JSONEq(t, `{"token":"token","session_id":"s1","seq":1}`, string(env.Data))
			c.push(message(2, 30))
		},
	}}
	r := newTestRunner(t, gw, NewMemoryStore(), nil)

	events := runUntil(t, r, isMessage("30"))

	assert.Contains(t, events, gateway.Event(gateway.Reconnect{}))
	assert.Equal(t, []string{mainEndpoint, resumeEndpoint}, gw.dialed())
}

func TestRunner_RetriesFailedDials(t *testing.T) {
	var attempts int
	var mu sync.Mutex
	gw := &fakeGateway{t: t}
	dialer := transport.DialerFunc(func(ctx context.Context, endpoint string) (transport.Conn, error) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			return nil, errors.New("connection refused")
		}
		gw.scripts = []script{func(t *testing.T, c *pipeConn) {
			c.push(hello)
			_, err := c.expect(gateway.OpIdentify)
			assert.NoError(t, err)
			c.push(ready("s1", 1))
			c.push(message(2, 40))
		}}
		return gw.Dial(ctx, endpoint)
	})

	r, err := NewRunner(Options{
		Config:         gateway.Config{Token: "token", Jitter: func() float64 { return 1 }},
		Endpoint:       mainEndpoint,
		MinBackoff:     5 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		SessionOptions: []gateway.Option{gateway.WithDialer(dialer), gateway.WithLogger(discardLogger())},
		Logger:         discardLogger(),
	})
	require.NoError(t, err)

	events := runUntil(t, r, isMessage("40"))
	assert.Equal(t, []string{"40"}, messageIDs(events))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, attempts)
}

func TestNewRunner_Validates(t *testing.T) {
	_, err := NewRunner(Options{Config: gateway.Config{Token: "t"}})
	assert.ErrorIs(t, err, gateway.ErrInvalidConfig)

	_, err = NewRunner(Options{Endpoint: mainEndpoint})
	assert.ErrorIs(t, err, gateway.ErrInvalidConfig)
}

func TestNewRunner_Defaults(t *testing.T) {
	r, err := NewRunner(Options{Config: gateway.Config{Token: "t"}, Endpoint: mainEndpoint})
	require.NoError(t, err)
	assert.Equal(t, "0/1", r.opts.ShardKey)
	assert.Equal(t, DefaultMinBackoff, r.opts.MinBackoff)
	assert.Equal(t, DefaultMaxBackoff, r.opts.MaxBackoff)
	assert.Equal(t, DefaultSaveEvery, r.opts.SaveEvery)
	assert.IsType(t, &MemoryStore{}, r.opts.Store)
}
