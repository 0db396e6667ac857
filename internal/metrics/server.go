// ABOUTME: HTTP router exposing Prometheus metrics and a health probe
// ABOUTME: Built on chi with request logging and panic recovery

package metrics

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Health reports whether the process is healthy and a short status.
type Health func() (ok bool, status string)

// Handler serves the collector's gatherer in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// Router mounts the metrics handler at path and a JSON health probe at
// /healthz.
func Router(c *Collector, path string, health Health, logger *slog.Logger) http.Handler {
	if path == "" {
		path = "/metrics"
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "metrics-server")

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
			next.ServeHTTP(ww, req)
			logger.Debug("http request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start))
		})
	})

	r.Method(http.MethodGet, path, c.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		ok, status := true, "ok"
		if health != nil {
			ok, status = health()
		}
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": ok, "status": status})
	})
	return r
}
