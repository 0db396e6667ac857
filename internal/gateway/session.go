// ABOUTME: Session state machine driving one gateway connection
// ABOUTME: Handshake, receive loop, heartbeat scheduling, sequence tracking, and ordered shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/2389/gatewaykit/internal/entity"
	"github.com/2389/gatewaykit/internal/feed"
	"github.com/2389/gatewaykit/internal/shard"
	"github.com/2389/gatewaykit/internal/transport"
)

const closeReason = "Disconnected"

// ErrReservedCommand is returned by SendCommand for op codes the session
// sends itself.
var ErrReservedCommand = errors.New("command is managed by the session")

// Session is one connection to the gateway. It is safe for concurrent use.
type Session struct {
	cfg      Config
	id       string
	dialer   transport.Dialer
	decoder  *Decoder
	logger   *slog.Logger
	observer Observer
	limiter  *rate.Limiter

	// sendMu serializes every outbound frame.
	sendMu sync.Mutex

	// stalled is set while the receive loop waits for room in a full Block
	// feed; stallEnded is when the last such wait finished, in unix nanos.
	stalled    atomic.Bool
	stallEnded atomic.Int64

	mu            sync.Mutex
	phase         Phase
	endpoint      string
	conn          transport.Conn
	interval      time.Duration
	lastSeq       uint64
	hasSeq        bool
	shard         *shard.Assignment
	sessionID     string
	resumeURL     string
	feed          *feed.Feed[Event]
	stopHeartbeat context.CancelFunc
	stopReceive   context.CancelFunc
	heartbeatDone chan struct{}
	receiveDone   chan struct{}
	err           error

	closeOnce sync.Once
	done      chan struct{}
}

// New validates cfg and returns a disconnected session.
func New(cfg Config, opts ...Option) (*Session, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		cfg:      cfg,
		id:       uuid.NewString(),
		logger:   slog.Default(),
		observer: nopObserver{},
		shard:    cfg.Shard,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dialer == nil {
		s.dialer = transport.NewWebSocketDialer(transport.Options{HandshakeTimeout: cfg.HandshakeTimeout})
	}
	s.logger = s.logger.With("component", "session", "session", s.id)
	s.decoder = NewDecoder(cfg.Registry, cfg.HTTPClient)
	s.limiter = commandLimiter(cfg)
	if cfg.Resume != nil {
		s.sessionID = cfg.Resume.SessionID
		s.lastSeq = cfg.Resume.Sequence
		s.hasSeq = true
	}
	return s, nil
}

// ID returns the local identifier used in logs.
func (s *Session) ID() string { return s.id }

// Phase returns the current lifecycle phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// LastSequence returns the highest dispatch sequence seen, if any.
func (s *Session) LastSequence() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq, s.hasSeq
}

// SessionID returns the server-assigned session id from READY, or the id
// being resumed.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// ResumeURL returns the endpoint READY advertised for resuming.
func (s *Session) ResumeURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumeURL
}

// HeartbeatInterval returns the period announced by Hello.
func (s *Session) HeartbeatInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Shard returns the assignment sent with identify.
func (s *Session) Shard() (shard.Assignment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shard == nil {
		return shard.Assignment{}, false
	}
	return *s.shard, true
}

// Done is closed once the session reaches PhaseClosed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the error that ended the session, or nil after a requested
// disconnect.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// WithShard assigns the shard that owns guildID out of totalShards. Only
// allowed before Connect.
func (s *Session) WithShard(guildID, totalShards uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseDisconnected {
		return fmt.Errorf("set shard while %s: %w", s.phase, ErrInvalidPhase)
	}
	a, err := shard.For(guildID, totalShards)
	if err != nil {
		return err
	}
	s.shard = &a
	return nil
}

func (s *Session) setPhaseLocked(to Phase) {
	from := s.phase
	if from == to {
		return
	}
	s.phase = to
	s.observer.PhaseChanged(from, to)
	s.logger.Debug("phase changed", "from", from.String(), "to", to.String())
}

// Connect dials endpoint, waits for Hello and authenticates. On success the
// session is Authenticated; on failure it is Closed.
func (s *Session) Connect(ctx context.Context, endpoint string) error {
	s.mu.Lock()
	if s.phase != PhaseDisconnected {
		phase := s.phase
		s.mu.Unlock()
		return fmt.Errorf("connect while %s: %w", phase, ErrInvalidPhase)
	}
	s.endpoint = endpoint
	s.setPhaseLocked(PhaseHandshaking)
	s.mu.Unlock()

	hctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	s.logger.Info("connecting", "endpoint", endpoint)
	conn, err := s.dialer.Dial(hctx, endpoint)
	if err != nil {
		err = &ConnectError{Endpoint: endpoint, Err: err}
		s.shutdown(err)
		return err
	}
	if !s.attach(conn) {
		_ = conn.Close(transport.CloseNormal, closeReason)
		return &ConnectError{Endpoint: endpoint, Err: ErrAlreadyDisconnected}
	}

	hello, err := s.awaitHello(hctx, endpoint, conn)
	if err != nil {
		s.shutdown(err)
		return err
	}
	s.mu.Lock()
	s.interval = hello.HeartbeatInterval
	s.mu.Unlock()
	s.logger.Debug("received hello", "heartbeat_interval", hello.HeartbeatInterval)

	if err := s.authenticate(hctx); err != nil {
		if !errors.Is(err, ErrInvalidConfig) {
			err = &ConnectError{Endpoint: endpoint, Err: err}
		}
		s.shutdown(err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseHandshaking {
		return &ConnectError{Endpoint: endpoint, Err: ErrAlreadyDisconnected}
	}
	s.setPhaseLocked(PhaseAuthenticated)
	return nil
}

// attach records conn unless the session was closed while dialing.
func (s *Session) attach(conn transport.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseHandshaking {
		return false
	}
	s.conn = conn
	return true
}

func (s *Session) awaitHello(ctx context.Context, endpoint string, conn transport.Conn) (Hello, error) {
	type result struct {
		frame []byte
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		frame, err := conn.Receive()
		ch <- result{frame: frame, err: err}
	}()

	var r result
	select {
	case <-ctx.Done():
		_ = conn.Close(transport.CloseNormal, closeReason)
		return Hello{}, &ConnectError{Endpoint: endpoint, Err: fmt.Errorf("waiting for hello: %w", ctx.Err())}
	case r = <-ch:
	}
	if r.err != nil {
		return Hello{}, &ConnectError{Endpoint: endpoint, Err: fmt.Errorf("waiting for hello: %w", r.err)}
	}

	env, err := DecodeEnvelope(r.frame)
	if err != nil {
		return Hello{}, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	s.observer.FrameReceived(env.Op)
	if env.Op != OpHello {
		return Hello{}, &UnexpectedHandshakeEventError{Op: env.Op}
	}
	ev, err := s.decoder.Decode(env)
	if err != nil {
		return Hello{}, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return ev.(Hello), nil
}

func (s *Session) authenticate(ctx context.Context) error {
	s.mu.Lock()
	resume := s.cfg.Resume
	id := s.cfg.identify(s.shard)
	s.mu.Unlock()

	var (
		frame []byte
		err   error
	)
	if resume != nil {
		frame, err = EncodeResume(Resume{Token: s.cfg.Token, SessionID: resume.SessionID, Sequence: resume.Sequence})
		s.logger.Info("resuming", "session_id", resume.SessionID, "seq", resume.Sequence)
	} else {
		frame, err = EncodeIdentify(id)
		s.logger.Info("identifying", "intents", id.Intents.String(), "shard", shardLabel(id.Shard))
	}
	if err != nil {
		return err
	}
	return s.send(ctx, frame)
}

func shardLabel(a *shard.Assignment) string {
	if a == nil {
		return "none"
	}
	return a.String()
}

// commandLimiter paces everything except heartbeats. HeartbeatReserve of
// the burst, and the same share of the rate, is kept back for heartbeats,
// which skip the limiter.
func commandLimiter(cfg Config) *rate.Limiter {
	burst := cfg.CommandBurst - cfg.HeartbeatReserve
	if burst < 1 {
		burst = 1
	}
	limit := cfg.CommandLimit
	if limit != rate.Inf {
		limit = limit * rate.Limit(burst) / rate.Limit(cfg.CommandBurst)
	}
	return rate.NewLimiter(limit, burst)
}

// send paces frames through the command budget and writes them one at a
// time.
func (s *Session) send(ctx context.Context, frame []byte) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for command budget: %w", err)
	}
	return s.write(frame)
}

// write sends frame without waiting for command budget.
func (s *Session) write(frame []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return &TransportError{Op: "send", Err: transport.ErrClosed}
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := conn.Send(frame); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	return nil
}

func (s *Session) sendHeartbeat(context.Context) error {
	var seq *uint64
	if v, ok := s.LastSequence(); ok {
		seq = &v
	}
	frame, err := EncodeHeartbeat(seq)
	if err != nil {
		return err
	}
	return s.write(frame)
}

// SendCommand sends an arbitrary command such as a presence update while
// the session is live. Heartbeat, identify and resume are rejected.
func (s *Session) SendCommand(ctx context.Context, op OpCode, data any) error {
	switch op {
	case OpHeartbeat, OpIdentify, OpResume:
		return fmt.Errorf("%s: %w", op, ErrReservedCommand)
	}
	if phase := s.Phase(); phase != PhaseLive {
		return fmt.Errorf("send %s while %s: %w", op, phase, ErrInvalidPhase)
	}
	frame, err := Encode(op, data)
	if err != nil {
		return err
	}
	return s.send(ctx, frame)
}

// Run starts the heartbeat scheduler and the receive loop and returns the
// feed that carries events in arrival order. Canceling ctx ends the session.
func (s *Session) Run(ctx context.Context) (*feed.Feed[Event], error) {
	s.mu.Lock()
	if s.phase != PhaseAuthenticated {
		phase := s.phase
		s.mu.Unlock()
		return nil, fmt.Errorf("run while %s: %w", phase, ErrInvalidPhase)
	}
	f, err := feed.New(s.cfg.FeedPolicy, s.cfg.FeedSize, s.dropped)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	hbCtx, stopHeartbeat := context.WithCancel(context.Background())
	rxCtx, stopReceive := context.WithCancel(context.Background())
	hbDone, rxDone := make(chan struct{}), make(chan struct{})
	hb := newHeartbeater(s.interval, s.cfg.Jitter(), s.sendHeartbeat, s.fail, s.observer, s.logger)
	hb.stalled = s.consumerStalled
	conn := s.conn

	s.feed = f
	s.stopHeartbeat, s.stopReceive = stopHeartbeat, stopReceive
	s.heartbeatDone, s.receiveDone = hbDone, rxDone
	s.setPhaseLocked(PhaseLive)
	s.mu.Unlock()

	s.logger.Info("session live", "heartbeat_interval", hb.interval)

	go func() {
		defer close(hbDone)
		hb.run(hbCtx)
	}()
	go s.receiveLoop(rxCtx, conn, hb, f, rxDone)
	go func() {
		select {
		case <-ctx.Done():
			s.shutdown(ctx.Err())
		case <-s.done:
		}
	}()
	return f, nil
}

// NextEvent pulls the next event. It returns ErrNoData once the session has
// ended and every buffered event was consumed.
func (s *Session) NextEvent(ctx context.Context) (Event, error) {
	s.mu.Lock()
	f := s.feed
	s.mu.Unlock()
	if f == nil {
		return nil, fmt.Errorf("next event before run: %w", ErrInvalidPhase)
	}
	ev, err := f.Next(ctx)
	if errors.Is(err, feed.ErrDrained) {
		return nil, ErrNoData
	}
	return ev, err
}

// Disconnect closes the session with a normal closure. Callers racing an
// in-progress close wait for it and return nil.
func (s *Session) Disconnect(ctx context.Context) error {
	switch s.Phase() {
	case PhaseDisconnected, PhaseClosed:
		return ErrAlreadyDisconnected
	}
	go s.shutdown(nil)
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) receiveLoop(ctx context.Context, conn transport.Conn, hb *heartbeater, f *feed.Feed[Event], done chan struct{}) {
	defer close(done)
	for {
		frame, err := conn.Receive()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.fail(&TransportError{Op: "receive", Err: err})
			return
		}
		s.handleFrame(ctx, frame, hb, f)
	}
}

func (s *Session) handleFrame(ctx context.Context, frame []byte, hb *heartbeater, f *feed.Feed[Event]) {
	env, err := DecodeEnvelope(frame)
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) && de.Sequence != nil {
			s.advanceSequence(*de.Sequence)
		}
		s.report(err, DropDecodeError)
		return
	}
	s.observer.FrameReceived(env.Op)

	ev, err := s.decoder.Decode(env)
	if env.Op == OpDispatch && env.Sequence != nil {
		s.advanceSequence(*env.Sequence)
	}
	if err != nil {
		var unknown *UnknownOpCodeError
		if errors.As(err, &unknown) {
			s.report(err, DropUnknownOp)
		} else {
			s.report(err, DropDecodeError)
		}
		return
	}

	switch e := ev.(type) {
	case Hello:
		s.report(&UnexpectedEventError{Op: OpHello, Phase: PhaseLive}, DropUnexpected)
		return
	case HeartbeatRequest:
		hb.request()
	case HeartbeatAck:
		hb.ack()
	case Ready:
		s.recordReady(e.Data)
	case Reconnect:
		s.logger.Info("server requested reconnect")
	case InvalidSession:
		s.logger.Warn("session invalidated", "resumable", e.Resumable)
	case Dispatch:
		if e.Name == EventResumed {
			s.logger.Info("session resumed", "seq", e.Sequence)
		}
	}

	if name, _, ok := DispatchInfo(ev); ok {
		s.observer.DispatchReceived(name)
	} else if IsControl(ev) && !s.cfg.ForwardControlEvents {
		return
	}
	if err := s.publish(ctx, f, ev); err != nil && ctx.Err() == nil && !errors.Is(err, feed.ErrClosed) {
		s.logger.Warn("publishing event", "error", err)
	}
}

// publish hands ev to the feed. While a full Block feed holds the receive
// loop, frames behind ev (heartbeat acks included) stay unread, so the wait
// is recorded for the heartbeat scheduler.
func (s *Session) publish(ctx context.Context, f *feed.Feed[Event], ev Event) error {
	if f.Policy() != feed.Block || !f.Full() {
		return f.Publish(ctx, ev)
	}
	s.stalled.Store(true)
	defer func() {
		s.stallEnded.Store(time.Now().UnixNano())
		s.stalled.Store(false)
	}()
	s.logger.Debug("feed full, waiting for the consumer")
	return f.Publish(ctx, ev)
}

// consumerStalled reports whether the receive loop waited on the consumer
// at any point since the given time.
func (s *Session) consumerStalled(since int64) bool {
	return s.stalled.Load() || s.stallEnded.Load() >= since
}

func (s *Session) recordReady(r *entity.Ready) {
	s.mu.Lock()
	s.sessionID = r.SessionID
	s.resumeURL = r.ResumeGatewayURL
	s.mu.Unlock()
	s.logger.Info("session ready",
		"session_id", r.SessionID,
		"user", r.User.Username,
		"guilds", len(r.Guilds))
}

// advanceSequence keeps the highest sequence seen.
func (s *Session) advanceSequence(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasSeq && seq < s.lastSeq {
		s.logger.Warn("sequence moved backwards", "seq", seq, "last_seq", s.lastSeq)
		return
	}
	s.lastSeq = seq
	s.hasSeq = true
}

func (s *Session) report(err error, reason string) {
	s.observer.EventDropped(reason)
	if s.cfg.ErrorHandler != nil {
		s.cfg.ErrorHandler(err)
		return
	}
	s.logger.Warn("skipping envelope", "reason", reason, "error", err)
}

func (s *Session) dropped(ev Event) {
	s.observer.EventDropped(DropFeedOverflow)
	name, seq, _ := DispatchInfo(ev)
	s.logger.Warn("feed full, dropped oldest event", "event", name, "seq", seq)
}

// fail ends the session from inside one of its own goroutines.
func (s *Session) fail(err error) {
	go s.shutdown(err)
}

// shutdown stops the scheduler, then the receive loop, then closes the
// transport. It runs once; later calls return immediately.
func (s *Session) shutdown(cause error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = cause
		s.setPhaseLocked(PhaseClosing)
		conn, f := s.conn, s.feed
		stopHeartbeat, stopReceive := s.stopHeartbeat, s.stopReceive
		hbDone, rxDone := s.heartbeatDone, s.receiveDone
		s.mu.Unlock()

		if cause != nil {
			s.logger.Warn("session ending", "error", cause)
		} else {
			s.logger.Info("disconnecting")
		}

		if stopHeartbeat != nil {
			stopHeartbeat()
			<-hbDone
		}
		if stopReceive != nil {
			stopReceive()
		}
		if conn != nil {
			s.closeTransport(conn)
		}
		if rxDone != nil {
			select {
			case <-rxDone:
			case <-time.After(s.cfg.CloseTimeout):
				s.logger.Warn("receive loop did not stop", "timeout", s.cfg.CloseTimeout)
			}
		}
		if f != nil {
			f.Close()
		}

		s.mu.Lock()
		s.setPhaseLocked(PhaseClosed)
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *Session) closeTransport(conn transport.Conn) {
	errCh := make(chan error, 1)
	go func() {
		errCh <- conn.Close(transport.CloseNormal, closeReason)
	}()
	timer := time.NewTimer(s.cfg.CloseTimeout)
	defer timer.Stop()
	select {
	case err := <-errCh:
		if err != nil {
			s.logger.Debug("close frame not delivered", "error", err)
		}
	case <-timer.C:
		s.logger.Warn("transport close timed out", "timeout", s.cfg.CloseTimeout)
	}
}
