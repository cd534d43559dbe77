package monitoring

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chathub/internal/core/domain"
	"chathub/internal/core/ports"
	"chathub/pkg/wire"
)

func TestPrometheusCollector_Counters(t *testing.T) {
	c := NewPrometheusCollector(nil)

	c.FrameSent(domain.TransportUDP, wire.KindData)
	c.FrameSent(domain.TransportUDP, wire.KindData)
	c.FrameSent(domain.TransportUDP, wire.KindAck)
	c.FrameReceived(domain.TransportTCP, wire.KindData)
	c.Retransmission(domain.TransportUDP)
	c.PermanentLoss(domain.TransportUDP, 3)
	c.Duplicate(domain.TransportUDP)
	c.SimulatedDrop(domain.TransportUDP, ports.Inbound)
	c.SimulatedDrop(domain.TransportUDP, ports.Outbound)
	c.SimulatedDrop(domain.TransportUDP, ports.Outbound)
	c.DecryptFailure(domain.TransportUDP)
	c.PeersActive(domain.TransportTCP, 4)
	c.PeersActive(domain.TransportTCP, 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.framesSent.WithLabelValues("udp", "data")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.framesSent.WithLabelValues("udp", "ack")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.framesReceived.WithLabelValues("tcp", "data")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retransmissions.WithLabelValues("udp")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.permanentLoss.WithLabelValues("udp")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.duplicates.WithLabelValues("udp")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.simulatedDrops.WithLabelValues("udp", "inbound")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.simulatedDrops.WithLabelValues("udp", "outbound")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.decryptFailures.WithLabelValues("udp")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.peersActive.WithLabelValues("tcp")))
}

func TestPrometheusCollector_Latency(t *testing.T) {
	c := NewPrometheusCollector(nil)
	c.Latency(domain.TransportUDP, 12.5)
	c.Latency(domain.TransportUDP, -3)

	assert.Equal(t, 1, testutil.CollectAndCount(c.latency, "chathub_latency_seconds"))
	expected := `
# HELP chathub_latency_seconds One-way message latency and ack round trips
# TYPE chathub_latency_seconds histogram
chathub_latency_seconds_bucket{transport="udp",le="0.001"} 0
chathub_latency_seconds_bucket{transport="udp",le="0.005"} 0
chathub_latency_seconds_bucket{transport="udp",le="0.01"} 0
chathub_latency_seconds_bucket{transport="udp",le="0.05"} 1
chathub_latency_seconds_bucket{transport="udp",le="0.1"} 1
chathub_latency_seconds_bucket{transport="udp",le="0.5"} 1
chathub_latency_seconds_bucket{transport="udp",le="1"} 1
chathub_latency_seconds_bucket{transport="udp",le="2"} 1
chathub_latency_seconds_bucket{transport="udp",le="5"} 1
chathub_latency_seconds_bucket{transport="udp",le="+Inf"} 1
chathub_latency_seconds_sum{transport="udp"} 0.0125
chathub_latency_seconds_count{transport="udp"} 1
`
	require.NoError(t, testutil.CollectAndCompare(c.latency, strings.NewReader(expected)))
}

func TestPrometheusCollector_SeparateRegistries(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusCollector(reg)
	assert.Panics(t, func() { NewPrometheusCollector(reg) }, "duplicate registration")
	assert.NotPanics(t, func() {
		NewPrometheusCollector(nil)
		NewPrometheusCollector(nil)
	})
}

func TestPrometheusCollector_Handler(t *testing.T) {
	c := NewPrometheusCollector(nil)
	c.Duplicate(domain.TransportUDP)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `chathub_duplicates_total{transport="udp"} 1`)
}

func TestHealthChecker_CheckAll(t *testing.T) {
	h := NewHealthChecker()
	assert.Equal(t, StatusHealthy, h.CheckAll(context.Background()).Status)

	var addr net.Addr
	connected := true
	h.AddListenerCheck("listener", func() net.Addr { return addr }, 0, time.Second)
	h.AddConnectionCheck("client", func() bool { return connected }, 0, time.Second)
	h.AddCheck("flaky", func(context.Context) (bool, error) { return false, nil }, 0, 0)

	status := h.CheckAll(context.Background())
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Equal(t, "not listening", status.Checks["listener"])
	assert.Equal(t, StatusHealthy, status.Checks["client"])
	assert.Equal(t, "check failed", status.Checks["flaky"])
	assert.False(t, h.IsReady(context.Background()))

	addr = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 12345}
	connected = false
	status = h.CheckAll(context.Background())
	assert.Equal(t, StatusHealthy, status.Checks["listener"])
	assert.Equal(t, "not connected", status.Checks["client"])
}

func TestHealthChecker_Timeout(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("slow", func(ctx context.Context) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	}, 0, 10*time.Millisecond)

	status := h.CheckAll(context.Background())
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Equal(t, context.DeadlineExceeded.Error(), status.Checks["slow"])
}

func TestHealthChecker_Background(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("tick", func(context.Context) (bool, error) { return false, errors.New("down") }, 5*time.Millisecond, time.Second)
	h.AddCheck("once", func(context.Context) (bool, error) { return true, nil }, 0, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reports atomic.Int32
	h.StartBackgroundChecks(ctx, func(name string, healthy bool, err error) {
		if name == "tick" && !healthy && err != nil {
			reports.Add(1)
		}
	})
	assert.Eventually(t, func() bool { return reports.Load() >= 2 }, time.Second, 5*time.Millisecond)
}
