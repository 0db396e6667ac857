// ABOUTME: Reconnect loop around gateway sessions with resume and backoff
// ABOUTME: Persists cursors, resumes after drops, re-identifies on invalid sessions

package resume

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/gatewaykit/internal/dedupe"
	"github.com/2389/gatewaykit/internal/gateway"
)

const (
	DefaultMinBackoff = 1 * time.Second
	DefaultMaxBackoff = 30 * time.Second
	DefaultSaveEvery  = 50
)

// Handler receives every dispatch-class and reconnect-related event.
type Handler func(ctx context.Context, ev gateway.Event)

// Observer is notified each time the runner starts a session.
type Observer interface {
	SessionStarted(resumed bool)
}

// Options configures a Runner.
type Options struct {
	// Config is the base session config. Its Resume field is managed by the
	// runner.
	Config   gateway.Config
	Endpoint string

	// ShardKey names the cursor. Defaults to the shard assignment, or "0/1".
	ShardKey string
	Store    CursorStore
	Dedupe   *dedupe.Window

	MinBackoff time.Duration
	MaxBackoff time.Duration

	// SaveEvery persists the cursor after this many dispatches.
	SaveEvery int

	SessionOptions []gateway.Option
	Observer       Observer
	Logger         *slog.Logger
}

// Runner drives sessions until its context ends or a session fails in a
// way retrying cannot fix.
type Runner struct {
	opts   Options
	logger *slog.Logger
}

// NewRunner validates opts and applies defaults.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is required", gateway.ErrInvalidConfig)
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.ShardKey == "" {
		opts.ShardKey = "0/1"
		if opts.Config.Shard != nil {
			opts.ShardKey = opts.Config.Shard.String()
		}
	}
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = DefaultMinBackoff
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = max(DefaultMaxBackoff, opts.MinBackoff)
	}
	if opts.SaveEvery <= 0 {
		opts.SaveEvery = DefaultSaveEvery
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		opts:   opts,
		logger: logger.With("component", "resume", "shard", opts.ShardKey),
	}, nil
}

type outcome int

const (
	// the context ended
	outcomeStopped outcome = iota
	// reconnect at once, resuming
	outcomeResume
	// reconnect after backoff
	outcomeRetry
)

// Run connects and reconnects until ctx is canceled. It returns nil on
// cancellation and an error only when retrying cannot help.
func (r *Runner) Run(ctx context.Context, handle Handler) error {
	delay := r.opts.MinBackoff
	for {
		result, established, err := r.runOnce(ctx, handle)
		if err != nil && errors.Is(err, gateway.ErrInvalidConfig) {
			return err
		}
		if established {
			delay = r.opts.MinBackoff
		}

		switch result {
		case outcomeStopped:
			return nil
		case outcomeResume:
			r.logger.Info("reconnecting", "reason", err)
			continue
		case outcomeRetry:
			r.logger.Warn("session ended, retrying", "error", err, "retry_in", delay)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
			delay = min(delay*2, r.opts.MaxBackoff)
		}
	}
}

// runOnce runs one session to completion. established reports whether the
// session got as far as delivering events.
func (r *Runner) runOnce(ctx context.Context, handle Handler) (outcome, bool, error) {
	if ctx.Err() != nil {
		return outcomeStopped, false, nil
	}

	cursor, err := r.opts.Store.Load(ctx, r.opts.ShardKey)
	if err != nil && !errors.Is(err, ErrNotFound) {
		r.logger.Warn("loading cursor failed, identifying", "error", err)
	}

	cfg := r.opts.Config
	cfg.Resume = nil
	endpoint := r.opts.Endpoint
	if cursor != nil && cursor.SessionID != "" {
		cfg.Resume = &gateway.ResumeState{SessionID: cursor.SessionID, Sequence: cursor.Sequence}
		if cursor.ResumeURL != "" {
			endpoint = cursor.ResumeURL
		}
	}
	resuming := cfg.Resume != nil

	sess, err := gateway.New(cfg, r.opts.SessionOptions...)
	if err != nil {
		return outcomeRetry, false, err
	}
	if r.opts.Observer != nil {
		r.opts.Observer.SessionStarted(resuming)
	}

	if err := sess.Connect(ctx, endpoint); err != nil {
		if ctx.Err() != nil {
			return outcomeStopped, false, nil
		}
		if resuming {
			// a dead resume endpoint must not pin the runner to it
			r.forget(ctx, "resume connect failed")
		}
		return outcomeRetry, false, err
	}
	if _, err := sess.Run(ctx); err != nil {
		return outcomeRetry, false, err
	}
	if !resuming && r.opts.Dedupe != nil {
		// a fresh session replays nothing from earlier ones
		r.opts.Dedupe.Reset()
	}

	// replaying lasts from a resume until RESUMED ends the backlog
	replaying := resuming
	var (
		established bool
		reconnect   bool
		invalidated bool
		dispatches  int
	)
	for {
		ev, err := sess.NextEvent(ctx)
		if err != nil {
			break
		}

		switch e := ev.(type) {
		case gateway.Ready:
			established = true
			r.save(ctx, sess, cursor)
		case gateway.Reconnect:
			reconnect = true
			r.disconnect(sess)
		case gateway.InvalidSession:
			if !e.Resumable {
				invalidated = true
				r.forget(ctx, "session invalidated")
			} else {
				reconnect = true
			}
			r.disconnect(sess)
		}

		if _, _, ok := gateway.DispatchInfo(ev); ok {
			established = true
			dispatches++
			if d, ok := ev.(gateway.Dispatch); ok && d.Name == gateway.EventResumed {
				replaying = false
			}
			if r.duplicate(ev, replaying) {
				continue
			}
			if dispatches%r.opts.SaveEvery == 0 {
				r.save(ctx, sess, cursor)
			}
		}
		handle(ctx, ev)
	}

	if !invalidated {
		r.save(context.WithoutCancel(ctx), sess, cursor)
	}

	switch {
	case ctx.Err() != nil:
		return outcomeStopped, established, nil
	case reconnect:
		return outcomeResume, established, errors.New("server requested reconnect")
	case invalidated:
		return outcomeRetry, established, errors.New("session invalidated")
	}
	return outcomeRetry, established, sess.Err()
}

// duplicate records ev in the dedupe window and, while replaying, reports
// whether it was delivered before.
func (r *Runner) duplicate(ev gateway.Event, replaying bool) bool {
	if r.opts.Dedupe == nil {
		return false
	}
	key, ok := dedupe.Key(ev)
	if !ok || !r.opts.Dedupe.Observe(key) || !replaying {
		return false
	}
	r.logger.Debug("dropping replayed event", "key", key)
	return true
}

func (r *Runner) save(ctx context.Context, sess *gateway.Session, previous *Cursor) {
	sessionID := sess.SessionID()
	seq, ok := sess.LastSequence()
	if sessionID == "" || !ok {
		return
	}
	resumeURL := sess.ResumeURL()
	if resumeURL == "" && previous != nil && previous.SessionID == sessionID {
		resumeURL = previous.ResumeURL
	}
	c := &Cursor{
		ShardKey:  r.opts.ShardKey,
		SessionID: sessionID,
		ResumeURL: resumeURL,
		Sequence:  seq,
	}
	if err := r.opts.Store.Save(ctx, c); err != nil {
		r.logger.Warn("saving cursor failed", "error", err)
	}
}

func (r *Runner) forget(ctx context.Context, reason string) {
	r.logger.Info("discarding cursor", "reason", reason)
	if err := r.opts.Store.Delete(context.WithoutCancel(ctx), r.opts.ShardKey); err != nil {
		r.logger.Warn("deleting cursor failed", "error", err)
	}
}

func (r *Runner) disconnect(sess *gateway.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), gateway.DefaultCloseTimeout*2)
	defer cancel()
	if err := sess.Disconnect(ctx); err != nil && !errors.Is(err, gateway.ErrAlreadyDisconnected) {
		r.logger.Warn("disconnect failed", "error", err)
	}
}
