// ABOUTME: Tests for the Prometheus collector and its HTTP router
// ABOUTME: Uses private registries and prometheus testutil to read values back

package metrics

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/gatewaykit/internal/gateway"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return New(WithRegistry(reg), WithNamespace("test")), reg
}

func TestCollector_CountsFramesAndDispatches(t *testing.T) {
	c, _ := newTestCollector(t)

	c.FrameReceived(gateway.OpDispatch)
	c.FrameReceived(gateway.OpDispatch)
	c.FrameReceived(gateway.OpHeartbeatAck)
	c.DispatchReceived("MESSAGE_CREATE")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.framesTotal.WithLabelValues("dispatch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.framesTotal.WithLabelValues("heartbeat_ack")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.dispatchesTotal.WithLabelValues("MESSAGE_CREATE")))
}

func TestCollector_Drops(t *testing.T) {
	c, _ := newTestCollector(t)

	c.EventDropped(gateway.DropUnknownOp)
	c.EventDropped(gateway.DropFeedOverflow)
	c.EventDropped(gateway.DropFeedOverflow)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.droppedTotal.WithLabelValues("unknown_op")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.droppedTotal.WithLabelValues("feed_overflow")))
}

func TestCollector_Heartbeats(t *testing.T) {
	c, reg := newTestCollector(t)

	c.HeartbeatSent()
	c.HeartbeatSent()
	c.HeartbeatAcked(40 * time.Millisecond)
	c.LivenessTimeout()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.heartbeatsSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.livenessTimeouts))

	count, err := testutil.GatherAndCount(reg, "test_heartbeat_ack_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCollector_PhaseGauge(t *testing.T) {
	c, _ := newTestCollector(t)

	c.PhaseChanged(gateway.PhaseDisconnected, gateway.PhaseHandshaking)
	c.PhaseChanged(gateway.PhaseHandshaking, gateway.PhaseAuthenticated)
	c.PhaseChanged(gateway.PhaseAuthenticated, gateway.PhaseLive)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessionsByPhase.WithLabelValues("live")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.sessionsByPhase.WithLabelValues("handshaking")))

	c.PhaseChanged(gateway.PhaseLive, gateway.PhaseClosing)
	c.PhaseChanged(gateway.PhaseClosing, gateway.PhaseClosed)

	assert.Equal(t, 0.0, testutil.ToFloat64(c.sessionsByPhase.WithLabelValues("live")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.sessionsByPhase.WithLabelValues("closing")))
}

func TestCollector_SessionsStarted(t *testing.T) {
	c, _ := newTestCollector(t)

	c.SessionStarted(false)
	c.SessionStarted(true)
	c.SessionStarted(true)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessionsStarted.WithLabelValues("identify")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.sessionsStarted.WithLabelValues("resume")))
}

func TestCollector_ConstLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(WithRegistry(reg), WithConstLabels(prometheus.Labels{"shard": "0/1"}), WithSubsystem("gw"))
	c.HeartbeatSent()

	expected := `
# HELP gatewaykit_gw_heartbeats_sent_total Heartbeats sent
# TYPE gatewaykit_gw_heartbeats_sent_total counter
gatewaykit_gw_heartbeats_sent_total{shard="0/1"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "gatewaykit_gw_heartbeats_sent_total"))
}

func TestRouter_ServesMetricsAndHealth(t *testing.T) {
	c, _ := newTestCollector(t)
	c.DispatchReceived("READY")

	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(Router(c, "/metrics", func() (bool, string) {
		if healthy.Load() {
			return true, "live"
		}
		return false, "closed"
	}, slog.New(slog.NewTextHandler(io.Discard, nil))))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `test_dispatch_events_total{event="READY"} 1`)

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true,"status":"live"}`, string(body))

	healthy.Store(false)
	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
