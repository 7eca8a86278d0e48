package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are client-side session counters. A nil *Metrics records nothing.
type Metrics struct {
	failovers         *prometheus.CounterVec
	heartbeatFailures prometheus.Counter
	releases          prometheus.Counter
	terminal          *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		failovers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomgate",
			Subsystem: "session",
			Name:      "failovers_total",
			Help:      "Fallback connect attempts by result.",
		}, []string{"result"}),
		heartbeatFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "roomgate",
			Subsystem: "session",
			Name:      "heartbeat_failures_total",
			Help:      "Lease renewals that failed to send.",
		}),
		releases: f.NewCounter(prometheus.CounterOpts{
			Namespace: "roomgate",
			Subsystem: "session",
			Name:      "releases_total",
			Help:      "Release beacons sent.",
		}),
		terminal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomgate",
			Subsystem: "session",
			Name:      "ended_total",
			Help:      "Sessions that reached the terminal state, by reason.",
		}, []string{"reason"}),
	}
}

func (m *Metrics) failover(ok bool) {
	if m == nil {
		return
	}
	result := "fail"
	if ok {
		result = "ok"
	}
	m.failovers.WithLabelValues(result).Inc()
}

func (m *Metrics) heartbeatFailure() {
	if m != nil {
		m.heartbeatFailures.Inc()
	}
}

func (m *Metrics) release() {
	if m != nil {
		m.releases.Inc()
	}
}

func (m *Metrics) ended(reason string) {
	if m != nil {
		m.terminal.WithLabelValues(reason).Inc()
	}
}
