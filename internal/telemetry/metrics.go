package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the relay gateway.
type Metrics struct {
	RequestTotal      *prometheus.CounterVec
	RequestDurationMs *prometheus.HistogramVec
	StreamChunksTotal prometheus.Counter
	StreamBytesTotal  prometheus.Counter
	UpstreamUp        prometheus.Gauge
	RateLimitedTotal  prometheus.Counter
}

// NewMetrics creates the relay metrics and registers them with reg. A nil reg
// registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RequestTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_requests_total",
			Help: "Total number of relayed chat-completion requests.",
		}, []string{"mode", "outcome", "status"}),

		RequestDurationMs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_request_duration_ms",
			Help:    "Relay duration in milliseconds, until the last byte for streams.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 300000},
		}, []string{"mode"}),

		StreamChunksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_stream_chunks_total",
			Help: "Total chunks forwarded from upstream streams.",
		}),

		StreamBytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_stream_bytes_total",
			Help: "Total bytes forwarded from upstream streams.",
		}),

		UpstreamUp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_upstream_up",
			Help: "1 if the last upstream health probe succeeded, 0 otherwise.",
		}),

		RateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_rate_limited_total",
			Help: "Total requests rejected by the rate limiter.",
		}),
	}
}

// RecordRequest records metrics for a completed relay. It is a no-op on a nil receiver.
func (m *Metrics) RecordRequest(labels RequestLabels) {
	if m == nil {
		return
	}
	m.RequestTotal.WithLabelValues(labels.Mode, labels.Outcome, labels.Status).Inc()
	m.RequestDurationMs.WithLabelValues(labels.Mode).Observe(labels.DurationMs)

	if labels.Chunks > 0 {
		m.StreamChunksTotal.Add(float64(labels.Chunks))
		m.StreamBytesTotal.Add(float64(labels.Bytes))
	}
}

// SetUpstreamUp records the result of an upstream health probe.
func (m *Metrics) SetUpstreamUp(up bool) {
	if m == nil {
		return
	}
	if up {
		m.UpstreamUp.Set(1)
		return
	}
	m.UpstreamUp.Set(0)
}

// RecordRateLimited counts a request rejected before reaching the relay.
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}

const (
	ModeBuffered = "buffered"
	ModeStream   = "stream"
)

// RequestLabels holds the label values for recording a relay.
type RequestLabels struct {
	Mode       string
	Outcome    string
	Status     string
	DurationMs float64
	Chunks     int
	Bytes      int64
}
