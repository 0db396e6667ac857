// ABOUTME: Prometheus collectors fed by session and runner observer hooks
// ABOUTME: Frames, dispatches, drops, heartbeats, liveness, phases, and reconnects

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/2389/gatewaykit/internal/gateway"
	"github.com/2389/gatewaykit/internal/resume"
)

// Config configures a Collector.
type Config struct {
	// Namespace is the metrics namespace (default: "gatewaykit").
	Namespace string

	Subsystem   string
	ConstLabels prometheus.Labels

	// Buckets for the heartbeat latency histogram, in seconds.
	Buckets []float64

	// Registry receives the collectors (default: prometheus.DefaultRegisterer).
	Registry prometheus.Registerer

	// Gatherer is what Handler serves. Defaults to Registry when it can
	// gather, else prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

// Option configures a Collector.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the heartbeat latency buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the registry the collectors register with.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "gatewaykit",
		Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Collector records session activity.
type Collector struct {
	gatherer prometheus.Gatherer

	framesTotal      *prometheus.CounterVec
	dispatchesTotal  *prometheus.CounterVec
	droppedTotal     *prometheus.CounterVec
	heartbeatsSent   prometheus.Counter
	heartbeatLatency prometheus.Histogram
	livenessTimeouts prometheus.Counter
	sessionsByPhase  *prometheus.GaugeVec
	sessionsStarted  *prometheus.CounterVec
}

var (
	_ gateway.Observer = (*Collector)(nil)
	_ resume.Observer  = (*Collector)(nil)
)

// New registers the collectors and returns them. Registering twice with the
// same registry panics, as promauto does.
func New(opts ...Option) *Collector {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.Gatherer == nil {
		if g, ok := config.Registry.(prometheus.Gatherer); ok {
			config.Gatherer = g
		} else {
			config.Gatherer = prometheus.DefaultGatherer
		}
	}

	factory := promauto.With(config.Registry)
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}, labels)
	}

	return &Collector{
		gatherer:        config.Gatherer,
		framesTotal:     counter("frames_received_total", "Inbound envelopes by op code", "op"),
		dispatchesTotal: counter("dispatch_events_total", "Dispatch events by event name", "event"),
		droppedTotal:    counter("events_dropped_total", "Envelopes or events dropped, by reason", "reason"),
		sessionsStarted: counter("sessions_started_total", "Sessions started by the runner, by handshake mode", "mode"),

		heartbeatsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "heartbeats_sent_total",
			Help:        "Heartbeats sent",
			ConstLabels: config.ConstLabels,
		}),
		heartbeatLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "heartbeat_ack_seconds",
			Help:        "Time from a scheduled heartbeat to its acknowledgement",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),
		livenessTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "liveness_timeouts_total",
			Help:        "Sessions ended because a heartbeat was not acknowledged",
			ConstLabels: config.ConstLabels,
		}),
		sessionsByPhase: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "sessions",
			Help:        "Sessions currently in each active phase",
			ConstLabels: config.ConstLabels,
		}, []string{"phase"}),
	}
}

// PhaseChanged moves one session between phase gauges. Disconnected and
// Closed are not tracked.
func (c *Collector) PhaseChanged(from, to gateway.Phase) {
	if from != gateway.PhaseDisconnected && from != gateway.PhaseClosed {
		c.sessionsByPhase.WithLabelValues(from.String()).Dec()
	}
	if to != gateway.PhaseDisconnected && to != gateway.PhaseClosed {
		c.sessionsByPhase.WithLabelValues(to.String()).Inc()
	}
}

func (c *Collector) FrameReceived(op gateway.OpCode) {
	c.framesTotal.WithLabelValues(op.String()).Inc()
}

func (c *Collector) DispatchReceived(name string) {
	c.dispatchesTotal.WithLabelValues(name).Inc()
}

func (c *Collector) EventDropped(reason string) {
	c.droppedTotal.WithLabelValues(reason).Inc()
}

func (c *Collector) HeartbeatSent() {
	c.heartbeatsSent.Inc()
}

func (c *Collector) HeartbeatAcked(rtt time.Duration) {
	c.heartbeatLatency.Observe(rtt.Seconds())
}

func (c *Collector) LivenessTimeout() {
	c.livenessTimeouts.Inc()
}

// SessionStarted counts a runner attempt as a resume or a fresh identify.
func (c *Collector) SessionStarted(resumed bool) {
	mode := "identify"
	if resumed {
		mode = "resume"
	}
	c.sessionsStarted.WithLabelValues(mode).Inc()
}
