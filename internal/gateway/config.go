// ABOUTME: Session configuration and functional options
// ABOUTME: Applies defaults and validates the config before a session is built

package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"github.com/2389/gatewaykit/internal/entity"
	"github.com/2389/gatewaykit/internal/feed"
	"github.com/2389/gatewaykit/internal/shard"
	"github.com/2389/gatewaykit/internal/transport"
)

// Defaults applied by New.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultCloseTimeout     = 5 * time.Second

	// The server accepts 120 commands per 60 seconds on one connection.
	DefaultCommandBurst  = 120
	DefaultCommandWindow = 60 * time.Second

	// Heartbeats skip the command limiter; this much of the budget is left
	// unused by other commands to make room for them.
	DefaultHeartbeatReserve = 3
)

// ResumeState identifies a previous session to continue instead of
// identifying afresh.
type ResumeState struct {
	SessionID string
	Sequence  uint64
}

// Config holds everything a session needs. Token is the only required field.
type Config struct {
	Token          string
	Intents        Intents
	Shard          *shard.Assignment
	Properties     ConnectionProperties
	Compress       *bool
	LargeThreshold *int
	Presence       json.RawMessage

	// Resume, when set, makes Connect send a resume command instead of
	// identify.
	Resume *ResumeState

	HandshakeTimeout time.Duration
	CloseTimeout     time.Duration

	// Jitter returns the fraction of the interval to wait before the first
	// heartbeat. Values are clamped to [0,1].
	Jitter func() float64

	// FeedPolicy decides what happens when the consumer falls behind. With
	// Block the receive loop waits for room, so heartbeat acks queue behind
	// unread events; the session then forgives missed acks for as long as
	// it is held up instead of declaring the connection dead. A consumer
	// that never resumes leaves the session open until the server drops
	// it. DropOldest and Unbounded never hold up the receive loop.
	FeedPolicy feed.Policy
	FeedSize   int

	// ForwardControlEvents also publishes heartbeat requests and acks to
	// the feed.
	ForwardControlEvents bool

	Registry   *Registry
	HTTPClient entity.ResourceClient

	// ErrorHandler receives errors that skip one envelope without ending
	// the session. Defaults to logging them.
	ErrorHandler func(error)

	// CommandLimit and CommandBurst describe the server's command budget.
	// HeartbeatReserve commands of it are kept for heartbeats; zero selects
	// DefaultHeartbeatReserve and a negative value reserves nothing.
	CommandLimit     rate.Limit
	CommandBurst     int
	HeartbeatReserve int
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = DefaultCloseTimeout
	}
	if c.Jitter == nil {
		c.Jitter = rand.Float64
	}
	if c.FeedPolicy == "" {
		c.FeedPolicy = feed.Block
	}
	if c.FeedSize <= 0 {
		c.FeedSize = feed.DefaultSize
	}
	if c.Registry == nil {
		c.Registry = DefaultRegistry()
	}
	if c.CommandBurst <= 0 {
		c.CommandBurst = DefaultCommandBurst
	}
	if c.CommandLimit == 0 {
		c.CommandLimit = rate.Every(DefaultCommandWindow / DefaultCommandBurst)
	}
	switch {
	case c.HeartbeatReserve == 0:
		c.HeartbeatReserve = DefaultHeartbeatReserve
	case c.HeartbeatReserve < 0:
		c.HeartbeatReserve = 0
	}
	c.Properties = c.Properties.withDefaults()
	return c
}

// Validate checks the config. New calls it after applying defaults.
func (c Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidConfig)
	}
	if c.Compress != nil && *c.Compress {
		return fmt.Errorf("%w: payload compression is not supported", ErrInvalidConfig)
	}
	if _, err := feed.ParsePolicy(string(c.FeedPolicy)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Resume != nil && c.Resume.SessionID == "" {
		return fmt.Errorf("%w: resume requires a session id", ErrInvalidConfig)
	}
	return c.identify(c.Shard).Validate()
}

func (c Config) identify(a *shard.Assignment) Identify {
	return Identify{
		Token:          c.Token,
		Properties:     c.Properties,
		Compress:       c.Compress,
		LargeThreshold: c.LargeThreshold,
		Shard:          a,
		Presence:       c.Presence,
		Intents:        c.Intents,
	}
}

// Option customizes a Session.
type Option func(*Session)

// WithDialer replaces the default websocket dialer.
func WithDialer(d transport.Dialer) Option {
	return func(s *Session) {
		s.dialer = d
	}
}

// WithLogger sets the logger. A nil logger keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver installs an activity observer such as a metrics collector.
func WithObserver(o Observer) Option {
	return func(s *Session) {
		if o != nil {
			s.observer = o
		}
	}
}
