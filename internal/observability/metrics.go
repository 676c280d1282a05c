package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	envelopesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "osistack",
			Subsystem: "pipeline",
			Name:      "envelopes_sent_total",
			Help:      "Envelopes encapsulated and passed downward, per layer.",
		},
		[]string{"layer"},
	)
	envelopesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "osistack",
			Subsystem: "pipeline",
			Name:      "envelopes_received_total",
			Help:      "Envelopes decapsulated and passed upward, per layer.",
		},
		[]string{"layer"},
	)
	envelopesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "osistack",
			Subsystem: "pipeline",
			Name:      "envelopes_dropped_total",
			Help:      "Envelopes dropped at a layer boundary, per reason.",
		},
		[]string{"layer", "reason"},
	)
	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "osistack",
			Subsystem: "transport",
			Name:      "connections_active",
			Help:      "Connections currently in the transport table.",
		},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "osistack",
			Subsystem: "session",
			Name:      "sessions_active",
			Help:      "Sessions currently in the session table.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(envelopesSent, envelopesReceived, envelopesDropped,
			activeConnections, activeSessions)
	})
}

func RecordSent(layer string) {
	RegisterMetrics()
	envelopesSent.WithLabelValues(layer).Inc()
}

func RecordReceived(layer string) {
	RegisterMetrics()
	envelopesReceived.WithLabelValues(layer).Inc()
}

func RecordDrop(layer, reason string) {
	RegisterMetrics()
	envelopesDropped.WithLabelValues(layer, reason).Inc()
}

func SetActiveConnections(n int) {
	RegisterMetrics()
	activeConnections.Set(float64(n))
}

func SetActiveSessions(n int) {
	RegisterMetrics()
	activeSessions.Set(float64(n))
}
