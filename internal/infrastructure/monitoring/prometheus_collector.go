package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chathub/internal/core/domain"
	"chathub/internal/core/ports"
	"chathub/pkg/wire"
)

// PrometheusCollector exports transport counters. It implements
// ports.MetricsRecorder.
type PrometheusCollector struct {
	registry *prometheus.Registry

	// Counters
	framesSent      *prometheus.CounterVec
	framesReceived  *prometheus.CounterVec
	retransmissions *prometheus.CounterVec
	permanentLoss   *prometheus.CounterVec
	duplicates      *prometheus.CounterVec
	simulatedDrops  *prometheus.CounterVec
	decryptFailures *prometheus.CounterVec

	// Histograms
	latency *prometheus.HistogramVec

	// Gauges
	peersActive *prometheus.GaugeVec
}

var _ ports.MetricsRecorder = (*PrometheusCollector)(nil)

// NewPrometheusCollector registers every metric on reg. A nil reg gets a
// fresh registry, so several collectors can live in one process.
func NewPrometheusCollector(reg *prometheus.Registry) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		registry: reg,

		framesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chathub_frames_sent_total",
			Help: "Frames written to the network, by transport and kind",
		}, []string{"transport", "kind"}),

		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chathub_frames_received_total",
			Help: "Frames accepted from the network, by transport and kind",
		}, []string{"transport", "kind"}),

		retransmissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chathub_retransmissions_total",
			Help: "Data frames sent again after an ack timeout",
		}, []string{"transport"}),

		permanentLoss: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chathub_permanent_loss_total",
			Help: "Data frames abandoned after the retry limit",
		}, []string{"transport"}),

		duplicates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chathub_duplicates_total",
			Help: "Data frames suppressed as already delivered",
		}, []string{"transport"}),

		simulatedDrops: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chathub_simulated_drops_total",
			Help: "Frames discarded by the loss simulator",
		}, []string{"transport", "direction"}),

		decryptFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chathub_decrypt_failures_total",
			Help: "Encrypted payloads that could not be opened",
		}, []string{"transport"}),

		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chathub_latency_seconds",
			Help:    "One-way message latency and ack round trips",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}, []string{"transport"}),

		peersActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chathub_peers_active",
			Help: "Currently registered peers",
		}, []string{"transport"}),
	}
}

func (p *PrometheusCollector) FrameSent(t domain.Transport, kind wire.Kind) {
	p.framesSent.WithLabelValues(string(t), kind.String()).Inc()
}

func (p *PrometheusCollector) FrameReceived(t domain.Transport, kind wire.Kind) {
	p.framesReceived.WithLabelValues(string(t), kind.String()).Inc()
}

func (p *PrometheusCollector) Retransmission(t domain.Transport) {
	p.retransmissions.WithLabelValues(string(t)).Inc()
}

func (p *PrometheusCollector) PermanentLoss(t domain.Transport, n int) {
	p.permanentLoss.WithLabelValues(string(t)).Add(float64(n))
}

func (p *PrometheusCollector) Duplicate(t domain.Transport) {
	p.duplicates.WithLabelValues(string(t)).Inc()
}

func (p *PrometheusCollector) SimulatedDrop(t domain.Transport, dir ports.Direction) {
	p.simulatedDrops.WithLabelValues(string(t), dir.String()).Inc()
}

func (p *PrometheusCollector) DecryptFailure(t domain.Transport) {
	p.decryptFailures.WithLabelValues(string(t)).Inc()
}

// Latency takes milliseconds, as the stats snapshots do. Negative samples
// are clock skew and are dropped.
func (p *PrometheusCollector) Latency(t domain.Transport, ms float64) {
	if ms < 0 {
		return
	}
	p.latency.WithLabelValues(string(t)).Observe(ms / 1000)
}

func (p *PrometheusCollector) PeersActive(t domain.Transport, n int) {
	p.peersActive.WithLabelValues(string(t)).Set(float64(n))
}

// Handler serves the collector's registry in the exposition format.
func (p *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
