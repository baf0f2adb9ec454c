package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation results.
const (
	ResultOK        = "ok"
	ResultRejected  = "rejected"
	ResultTransport = "transport_error"
	ResultClosed    = "closed"
)

var (
	registerOnce sync.Once

	sessionOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wfsctl",
			Subsystem: "session",
			Name:      "operations_total",
			Help:      "Session operations by method and result.",
		},
		[]string{"op", "result"},
	)
	sessionProbes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wfsctl",
			Subsystem: "session",
			Name:      "probes_total",
			Help:      "Liveness probes sent by the health monitor.",
		},
		[]string{"healthy"},
	)
	sessionReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wfsctl",
			Subsystem: "session",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts by result.",
		},
		[]string{"result"},
	)
	sessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wfsctl",
			Subsystem: "session",
			Name:      "state_transitions_total",
			Help:      "Connectivity state transitions observed by the health monitor.",
		},
		[]string{"from", "to"},
	)
	sessionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "wfsctl",
			Subsystem: "session",
			Name:      "open",
			Help:      "Sessions currently open in this process.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			sessionOperations,
			sessionProbes,
			sessionReconnects,
			sessionTransitions,
			sessionsOpen,
		)
	})
}

func RecordOperation(op, result string) {
	RegisterMetrics()
	sessionOperations.WithLabelValues(op, result).Inc()
}

func RecordProbe(healthy bool) {
	RegisterMetrics()
	label := "false"
	if healthy {
		label = "true"
	}
	sessionProbes.WithLabelValues(label).Inc()
}

func RecordReconnect(result string) {
	RegisterMetrics()
	sessionReconnects.WithLabelValues(result).Inc()
}

func RecordTransition(from, to string) {
	RegisterMetrics()
	sessionTransitions.WithLabelValues(from, to).Inc()
}

func SessionOpened() {
	RegisterMetrics()
	sessionsOpen.Inc()
}

func SessionClosed() {
	RegisterMetrics()
	sessionsOpen.Dec()
}
