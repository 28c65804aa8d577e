// Package metrics exposes the gateway's Prometheus registry and adapts
// it to the pipeline's observer hooks.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-go/voiceswitch/pkg/core/events"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration *prometheus.HistogramVec

	SwitchesTotal        *prometheus.CounterVec
	ProviderLatency      *prometheus.HistogramVec
	ProviderConnects     *prometheus.CounterVec
	DroppedEventsTotal   *prometheus.CounterVec
	TranscriptFlushBytes prometheus.Counter

	ErrorsTotal *prometheus.CounterVec
}

// New creates a Metrics instance with all metrics registered on a fresh
// registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "voiceswitch"
	}

	registry := prometheus.NewRegistry()

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of active realtime sessions",
		},
	)

	sessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of realtime sessions",
		},
		[]string{"style", "status"},
	)

	sessionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Realtime session duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"style"},
	)

	switchesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_switches_total",
			Help:      "Total number of mid-session provider switches",
		},
		[]string{"from", "to"},
	)

	providerLatency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_latency_ms",
			Help:      "Upstream provider round-trip latency in milliseconds",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"provider"},
	)

	providerConnects := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_connects_total",
			Help:      "Total upstream provider connection opens, including reconnects",
		},
		[]string{"provider"},
	)

	droppedEventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_events_total",
			Help:      "Client events dropped before reaching a provider",
		},
		[]string{"reason"},
	)

	transcriptFlushBytes := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_flush_bytes_total",
			Help:      "Total bytes of conversation transcript persisted",
		},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors",
		},
		[]string{"component", "error_type"},
	)

	registry.MustRegister(
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		switchesTotal,
		providerLatency,
		providerConnects,
		droppedEventsTotal,
		transcriptFlushBytes,
		errorsTotal,
	)

	return &Metrics{
		registry:             registry,
		SessionsActive:       sessionsActive,
		SessionsTotal:        sessionsTotal,
		SessionDuration:      sessionDuration,
		SwitchesTotal:        switchesTotal,
		ProviderLatency:      providerLatency,
		ProviderConnects:     providerConnects,
		DroppedEventsTotal:   droppedEventsTotal,
		TranscriptFlushBytes: transcriptFlushBytes,
		ErrorsTotal:          errorsTotal,
	}
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSessionStart records a new session opening.
func (m *Metrics) RecordSessionStart() {
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session closing.
func (m *Metrics) RecordSessionEnd(style events.Style, status string, duration time.Duration) {
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(string(style), status).Inc()
	m.SessionDuration.WithLabelValues(string(style)).Observe(duration.Seconds())
}

// RecordError records an error.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// SwitchPerformed implements the pipeline observer.
func (m *Metrics) SwitchPerformed(from, to events.Style) {
	m.SwitchesTotal.WithLabelValues(string(from), string(to)).Inc()
}

// LatencySample implements the pipeline observer.
func (m *Metrics) LatencySample(p events.Style, latencyMs float64) {
	m.ProviderLatency.WithLabelValues(string(p)).Observe(latencyMs)
}

// ProviderConnected implements the pipeline observer.
func (m *Metrics) ProviderConnected(p events.Style) {
	m.ProviderConnects.WithLabelValues(string(p)).Inc()
}

// EventDropped implements the pipeline observer.
func (m *Metrics) EventDropped(reason string) {
	m.DroppedEventsTotal.WithLabelValues(reason).Inc()
}

// TranscriptFlushed implements the pipeline observer.
func (m *Metrics) TranscriptFlushed(bytes int) {
	m.TranscriptFlushBytes.Add(float64(bytes))
}
