package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks policy lifecycle operations.
type Metrics struct {
	PoliciesCreated     prometheus.Counter
	PoliciesActivated   prometheus.Counter
	DefaultPolicyServed prometheus.Counter
	VersionConflicts    prometheus.Counter
	SnapshotsTaken      prometheus.Counter
	ActivateDuration    prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		PoliciesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tourops_policies_created_total",
			Help: "Total number of policy versions created",
		}),
		PoliciesActivated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tourops_policies_activated_total",
			Help: "Total number of policy activations committed",
		}),
		DefaultPolicyServed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tourops_policy_default_served_total",
			Help: "Active-policy lookups answered with the system default",
		}),
		VersionConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tourops_policy_version_conflicts_total",
			Help: "Policy creates retried after a concurrent version collision",
		}),
		SnapshotsTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tourops_policy_snapshots_total",
			Help: "Total number of policy snapshots bound to orders",
		}),
		ActivateDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "tourops_policy_activate_duration_seconds",
			Help:    "Duration of policy activation transactions",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

func (m *Metrics) IncrementCreated() {
	if m == nil {
		return
	}
	m.PoliciesCreated.Inc()
}

func (m *Metrics) IncrementActivated() {
	if m == nil {
		return
	}
	m.PoliciesActivated.Inc()
}

func (m *Metrics) IncrementDefaultServed() {
	if m == nil {
		return
	}
	m.DefaultPolicyServed.Inc()
}

func (m *Metrics) IncrementVersionConflict() {
	if m == nil {
		return
	}
	m.VersionConflicts.Inc()
}

func (m *Metrics) IncrementSnapshot() {
	if m == nil {
		return
	}
	m.SnapshotsTaken.Inc()
}

// ObserveActivate records activation latency. Call with the start time.
func (m *Metrics) ObserveActivate(start time.Time) {
	if m == nil {
		return
	}
	m.ActivateDuration.Observe(time.Since(start).Seconds())
}
