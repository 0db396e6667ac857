// ABOUTME: Heartbeat scheduler for a live session
// ABOUTME: Jittered first beat, periodic beats, out-of-band requests, and missed-ack detection

package gateway

import (
	"context"
	"log/slog"
	"math"
	"sync/atomic"
	"time"
)

type heartbeater struct {
	interval time.Duration
	jitter   float64
	beat     func(ctx context.Context) error
	fail     func(err error)
	observer Observer
	logger   *slog.Logger

	// stalled reports whether the receive loop has been held up by the
	// consumer since the given beat. A missed ack is forgiven while it is.
	stalled func(since int64) bool

	pending  atomic.Bool
	sentAt   atomic.Int64
	requests chan struct{}
}

func newHeartbeater(interval time.Duration, jitter float64, beat func(context.Context) error, fail func(error), observer Observer, logger *slog.Logger) *heartbeater {
	return &heartbeater{
		interval: interval,
		jitter:   clampJitter(jitter),
		beat:     beat,
		fail:     fail,
		observer: observer,
		logger:   logger,
		requests: make(chan struct{}, 1),
	}
}

func clampJitter(j float64) float64 {
	if math.IsNaN(j) || j < 0 {
		return 0
	}
	if j > 1 {
		return 1
	}
	return j
}

// run beats until ctx is canceled or the session must end. A beat that is
// due while the previous one is still unacknowledged ends the session,
// unless the ack may be sitting unread behind a stalled consumer.
func (h *heartbeater) run(ctx context.Context) {
	first := time.Duration(float64(h.interval) * h.jitter)
	timer := time.NewTimer(first)
	defer timer.Stop()

	h.logger.Debug("heartbeat scheduler started", "interval", h.interval, "first_beat", first)
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.requests:
			if err := h.beat(ctx); err != nil {
				if ctx.Err() == nil {
					h.fail(err)
				}
				return
			}
			h.observer.HeartbeatSent()
		case <-timer.C:
			if h.pending.Load() {
				if h.stalled == nil || !h.stalled(h.sentAt.Load()) {
					h.logger.Warn("heartbeat ack missed", "interval", h.interval)
					h.observer.LivenessTimeout()
					h.fail(ErrLivenessTimeout)
					return
				}
				h.logger.Debug("heartbeat ack held up by a slow consumer")
			}
			h.pending.Store(true)
			h.sentAt.Store(time.Now().UnixNano())
			if err := h.beat(ctx); err != nil {
				if ctx.Err() == nil {
					h.fail(err)
				}
				return
			}
			h.observer.HeartbeatSent()
			timer.Reset(h.interval)
		}
	}
}

// request schedules an immediate beat. Requests arriving while one is
// already queued collapse into it.
func (h *heartbeater) request() {
	select {
	case h.requests <- struct{}{}:
	default:
	}
}

// ack clears the pending flag and reports the round trip of the last
// scheduled beat.
func (h *heartbeater) ack() {
	if !h.pending.Swap(false) {
		return
	}
	rtt := time.Since(time.Unix(0, h.sentAt.Load()))
	h.observer.HeartbeatAcked(rtt)
}
