package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks transition validation outcomes and status changes.
type Metrics struct {
	Validations   *prometheus.CounterVec
	BatchDropped  prometheus.Counter
	StatusChanges *prometheus.CounterVec
	Reverts       prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Validations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tourops_transition_validations_total",
			Help: "Transition validations by guarded and can_proceed outcome",
		}, []string{"guarded", "can_proceed"}),
		BatchDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tourops_transition_batch_candidates_dropped_total",
			Help: "Candidates omitted from batch evaluation after an error",
		}),
		StatusChanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tourops_status_changes_total",
			Help: "Applied status changes, labelled by whether blockers were overridden",
		}, []string{"forced"}),
		Reverts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tourops_status_change_reverts_total",
			Help: "Status changes reverted because the audit write failed",
		}),
	}
}

func (m *Metrics) ObserveResult(guarded, canProceed bool) {
	if m == nil {
		return
	}
	m.Validations.WithLabelValues(strconv.FormatBool(guarded), strconv.FormatBool(canProceed)).Inc()
}

func (m *Metrics) IncrementBatchDropped() {
	if m == nil {
		return
	}
	m.BatchDropped.Inc()
}

func (m *Metrics) IncrementStatusChange(forced bool) {
	if m == nil {
		return
	}
	m.StatusChanges.WithLabelValues(strconv.FormatBool(forced)).Inc()
}

func (m *Metrics) IncrementRevert() {
	if m == nil {
		return
	}
	m.Reverts.Inc()
}
