// ABOUTME: The tail subcommand streams gateway events to the log
// ABOUTME: Runs the resume runner or a single session next to the metrics server

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/2389/gatewaykit/internal/config"
	"github.com/2389/gatewaykit/internal/dedupe"
	"github.com/2389/gatewaykit/internal/gateway"
	"github.com/2389/gatewaykit/internal/metrics"
	"github.com/2389/gatewaykit/internal/rest"
	"github.com/2389/gatewaykit/internal/resume"
)

func tailCmd() *cobra.Command {
	var (
		configPath string
		quiet      bool
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Connect to the gateway and log every event",
		Long: `Connect to the gateway and log every event until interrupted.

With resume enabled, dropped connections are resumed from the last
persisted sequence and replayed events are filtered out.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runTail(ctx, config.ResolvePath(configPath), !quiet)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file (default: $GATEWAYKIT_CONFIG or $XDG_CONFIG_HOME/gatewaykit/config.yaml)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Skip the startup banner")
	return cmd
}

func runTail(ctx context.Context, configPath string, showBanner bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg.Logging, os.Stderr)

	sessCfg, err := cfg.SessionConfig()
	if err != nil {
		return fmt.Errorf("building session config: %w", err)
	}
	restOpts := cfg.RESTOptions()
	restOpts.Logger = logger
	client := rest.New(cfg.Gateway.Token, restOpts)
	sessCfg.HTTPClient = client

	endpoint, err := resolveEndpoint(ctx, cfg.Gateway.URL, client, logger)
	if err != nil {
		return err
	}

	if showBanner {
		printBanner()
		green := color.New(color.FgGreen)
		green.Print("    ▶ ")
		fmt.Printf("Config:   %s\n", configPath)
		green.Print("    ▶ ")
		fmt.Printf("Endpoint: %s\n", endpoint)
		green.Print("    ▶ ")
		fmt.Printf("Intents:  %s\n", sessCfg.Intents)
		if sessCfg.Shard != nil {
			green.Print("    ▶ ")
			fmt.Printf("Shard:    %s\n", sessCfg.Shard)
		}
		if cfg.Metrics.Enabled {
			green.Print("    ▶ ")
			fmt.Printf("Metrics:  http://%s%s\n", cfg.Metrics.Addr, cfg.Metrics.Path)
		}
		fmt.Println()
	}

	collector := metrics.New(metrics.WithRegistry(prometheus.NewRegistry()))
	tracker := &phaseTracker{Observer: collector}
	sessOpts := []gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithObserver(tracker),
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer stop()
		if cfg.Resume.Enabled {
			return runResumable(gctx, cfg, sessCfg, endpoint, sessOpts, collector, logger)
		}
		return runSingle(gctx, sessCfg, endpoint, sessOpts, collector, logger)
	})

	if cfg.Metrics.Enabled {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           metrics.Router(collector, cfg.Metrics.Path, tracker.health, logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("serving metrics", "addr", cfg.Metrics.Addr, "path", cfg.Metrics.Path)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// resolveEndpoint returns the configured URL, or asks the REST API for one.
func resolveEndpoint(ctx context.Context, configured string, client *rest.Client, logger *slog.Logger) (string, error) {
	if configured != "" {
		return configured, nil
	}
	info, err := client.GatewayBot(ctx)
	if err != nil {
		return "", fmt.Errorf("discovering gateway url: %w", err)
	}
	logger.Info("discovered gateway",
		"url", info.URL,
		"recommended_shards", info.Shards,
		"identifies_remaining", info.SessionStartLimit.Remaining)
	return withProtocolQuery(info.URL)
}

// withProtocolQuery pins the API version and JSON encoding unless the URL
// already names them.
func withProtocolQuery(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing gateway url %q: %w", raw, err)
	}
	q := u.Query()
	if q.Get("v") == "" {
		q.Set("v", "10")
	}
	if q.Get("encoding") == "" {
		q.Set("encoding", "json")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func runResumable(ctx context.Context, cfg *config.Config, sessCfg gateway.Config, endpoint string, sessOpts []gateway.Option, collector *metrics.Collector, logger *slog.Logger) error {
	store, err := resume.OpenSQLite(cfg.Resume.Database, logger)
	if err != nil {
		return fmt.Errorf("opening cursor store: %w", err)
	}
	defer store.Close()

	window := dedupe.New(cfg.Resume.DedupeTTL, cfg.Resume.DedupeSize)
	defer window.Close()

	runner, err := resume.NewRunner(resume.Options{
		Config:         sessCfg,
		Endpoint:       endpoint,
		Store:          store,
		Dedupe:         window,
		MinBackoff:     cfg.Resume.MinBackoff,
		MaxBackoff:     cfg.Resume.MaxBackoff,
		SaveEvery:      cfg.Resume.SaveEvery,
		SessionOptions: sessOpts,
		Observer:       collector,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	return runner.Run(ctx, func(_ context.Context, ev gateway.Event) {
		logEvent(logger, ev)
	})
}

func runSingle(ctx context.Context, sessCfg gateway.Config, endpoint string, sessOpts []gateway.Option, collector *metrics.Collector, logger *slog.Logger) error {
	sess, err := gateway.New(sessCfg, sessOpts...)
	if err != nil {
		return err
	}
	collector.SessionStarted(false)

	if err := sess.Connect(ctx, endpoint); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("connecting: %w", err)
	}
	if _, err := sess.Run(ctx); err != nil {
		return fmt.Errorf("starting session: %w", err)
	}

	for {
		ev, err := sess.NextEvent(ctx)
		if err != nil {
			break
		}
		logEvent(logger, ev)
	}
	<-sess.Done()

	if err := sess.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("session ended: %w", err)
	}
	return nil
}

func logEvent(logger *slog.Logger, ev gateway.Event) {
	switch e := ev.(type) {
	case gateway.Ready:
		logger.Info("ready",
			"seq", e.Sequence,
			"session_id", e.Data.SessionID,
			"user", e.Data.User.DisplayName(),
			"guilds", len(e.Data.Guilds))
	case gateway.MessageCreate:
		logger.Info("message",
			"seq", e.Sequence,
			"channel_id", e.Message.ChannelID,
			"author", e.Message.Author.DisplayName(),
			"content", e.Message.Content)
	case gateway.Reconnect:
		logger.Warn("server requested reconnect")
	case gateway.InvalidSession:
		logger.Warn("session invalidated", "resumable", e.Resumable)
	default:
		if name, seq, ok := gateway.DispatchInfo(ev); ok {
			logger.Info("dispatch", "event", name, "seq", seq)
			return
		}
		logger.Debug("control event", "type", fmt.Sprintf("%T", ev))
	}
}

// phaseTracker remembers the latest session phase for the health probe.
type phaseTracker struct {
	gateway.Observer
	phase atomic.Int32
}

func (p *phaseTracker) PhaseChanged(from, to gateway.Phase) {
	p.phase.Store(int32(to))
	p.Observer.PhaseChanged(from, to)
}

func (p *phaseTracker) health() (bool, string) {
	phase := gateway.Phase(p.phase.Load())
	return phase == gateway.PhaseLive, phase.String()
}
