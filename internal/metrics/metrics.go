// Package metrics provides Prometheus metrics for the conference core and relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "orbit"

type Metrics struct {
	// Peer links
	PeerLinks        prometheus.Gauge
	Negotiations     *prometheus.CounterVec
	PeerDisconnected prometheus.Counter

	// Speech
	Transcripts    *prometheus.CounterVec
	SpeechRestarts prometheus.Counter
	SpeechErrors   *prometheus.CounterVec

	// Translation
	ProviderCalls   *prometheus.CounterVec
	ProviderLatency *prometheus.HistogramVec
	BatchesDropped  *prometheus.CounterVec
	PlaybackQueue   prometheus.Gauge

	// Relay
	RelayConnections prometheus.Gauge
	RelayMessages    *prometheus.CounterVec

	// Events
	PublishTotal  *prometheus.CounterVec
	PublishErrors *prometheus.CounterVec
}

// DefaultMetrics is the process-wide instance registered with the default registry.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PeerLinks: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peer_links_active",
			Help:      "Number of peer links not yet closed",
		}),
		Negotiations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "negotiations_total",
			Help:      "Negotiation messages handled by kind and result",
		}, []string{"kind", "result"}),
		PeerDisconnected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_disconnected_total",
			Help:      "Peer links closed after a transport failure",
		}),
		Transcripts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_total",
			Help:      "Transcript segments by kind",
		}, []string{"kind"}),
		SpeechRestarts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_restarts_total",
			Help:      "Listening sessions restarted after idle end",
		}),
		SpeechErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_errors_total",
			Help:      "Speech recognition errors",
		}, []string{"provider"}),
		ProviderCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translation_calls_total",
			Help:      "Translation provider calls by mode and result",
		}, []string{"mode", "result"}),
		ProviderLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "translation_latency_seconds",
			Help:      "Translation provider latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"mode"}),
		BatchesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_dropped_total",
			Help:      "Translation batches dropped",
		}, []string{"reason"}),
		PlaybackQueue: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playback_queue_depth",
			Help:      "Clips waiting for playback",
		}),
		RelayConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_connections_active",
			Help:      "Open signaling connections on the relay",
		}),
		RelayMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_messages_total",
			Help:      "Signaling messages handled by the relay",
		}, []string{"type"}),
		PublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events published by topic",
		}, []string{"topic"}),
		PublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_publish_errors_total",
			Help:      "Event publish failures by topic",
		}, []string{"topic"}),
	}
}

func (m *Metrics) RecordNegotiation(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Negotiations.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) RecordProviderCall(mode string, err error, seconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ProviderCalls.WithLabelValues(mode, result).Inc()
	m.ProviderLatency.WithLabelValues(mode).Observe(seconds)
}

func (m *Metrics) RecordPublish(topic string, err error) {
	m.PublishTotal.WithLabelValues(topic).Inc()
	if err != nil {
		m.PublishErrors.WithLabelValues(topic).Inc()
	}
}
