package admission

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Admission outcomes used as the "outcome" label.
const (
	OutcomeAdmitted     = "admitted"
	OutcomeRejoined     = "rejoined"
	OutcomeNotFound     = "code_not_found"
	OutcomeNotActivated = "not_activated"
	OutcomeRoomConflict = "room_conflict"
	OutcomeStoreError   = "store_error"
	OutcomeInvalid      = "invalid"
)

// Metrics are the Prometheus collectors for admission and reaping.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	admissions     *prometheus.CounterVec
	binds          prometheus.Counter
	bindRaces      prometheus.Counter
	lazyReclaims   prometheus.Counter
	renews         *prometheus.CounterVec
	releases       prometheus.Counter
	sweptLeases    prometheus.Counter
	deletedCodes   prometheus.Counter
	sweepFailures  prometheus.Counter
	sweepDurations prometheus.Histogram
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		admissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomgate",
			Name:      "admissions_total",
			Help:      "Admission decisions by outcome.",
		}, []string{"outcome"}),
		binds: f.NewCounter(prometheus.CounterOpts{
			Namespace: "roomgate",
			Name:      "lease_binds_total",
			Help:      "Leases bound to a room.",
		}),
		bindRaces: f.NewCounter(prometheus.CounterOpts{
			Namespace: "roomgate",
			Name:      "lease_bind_races_total",
			Help:      "Binds lost to a concurrent request and resolved by re-validation.",
		}),
		lazyReclaims: f.NewCounter(prometheus.CounterOpts{
			Namespace: "roomgate",
			Name:      "lease_lazy_reclaims_total",
			Help:      "Timed-out leases cleared during validation.",
		}),
		renews: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomgate",
			Name:      "lease_renewals_total",
			Help:      "Heartbeat renewals by whether a bound lease was refreshed.",
		}, []string{"applied"}),
		releases: f.NewCounter(prometheus.CounterOpts{
			Namespace: "roomgate",
			Name:      "lease_releases_total",
			Help:      "Release calls.",
		}),
		sweptLeases: f.NewCounter(prometheus.CounterOpts{
			Namespace: "roomgate",
			Name:      "reaper_reclaimed_leases_total",
			Help:      "Leases reclaimed by the reaper.",
		}),
		deletedCodes: f.NewCounter(prometheus.CounterOpts{
			Namespace: "roomgate",
			Name:      "reaper_deleted_codes_total",
			Help:      "Expired codes deleted by the reaper.",
		}),
		sweepFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "roomgate",
			Name:      "reaper_sweep_failures_total",
			Help:      "Reaper sweeps that failed.",
		}),
		sweepDurations: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "roomgate",
			Name:      "reaper_sweep_duration_seconds",
			Help:      "Wall time of one reaper sweep.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}
}

func (m *Metrics) admission(outcome string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) bind() {
	if m != nil {
		m.binds.Inc()
	}
}

func (m *Metrics) bindRace() {
	if m != nil {
		m.bindRaces.Inc()
	}
}

func (m *Metrics) lazyReclaim() {
	if m != nil {
		m.lazyReclaims.Inc()
	}
}

func (m *Metrics) renew(applied bool) {
	if m == nil {
		return
	}
	label := "false"
	if applied {
		label = "true"
	}
	m.renews.WithLabelValues(label).Inc()
}

func (m *Metrics) release() {
	if m != nil {
		m.releases.Inc()
	}
}

func (m *Metrics) sweep(res SweepResult, seconds float64, err error) {
	if m == nil {
		return
	}
	m.sweepDurations.Observe(seconds)
	if err != nil {
		m.sweepFailures.Inc()
	}
	m.sweptLeases.Add(float64(res.ReclaimedLeases))
	m.deletedCodes.Add(float64(res.DeletedCodes))
}
