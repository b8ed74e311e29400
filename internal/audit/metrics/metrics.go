package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the audit write path and its cache accelerator.
type Metrics struct {
	RecordsWritten   prometheus.Counter
	Duplicates       prometheus.Counter
	CacheHits        *prometheus.CounterVec
	CacheMisses      *prometheus.CounterVec
	CacheDegraded    *prometheus.CounterVec
	CacheSyncDropped prometheus.Counter
	StreamFailures   prometheus.Counter
	LogDuration      prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		RecordsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tourops_audit_records_written_total",
			Help: "Audit records durably written",
		}),
		Duplicates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tourops_audit_duplicates_total",
			Help: "Audit writes collapsed by the dedup lock",
		}),
		CacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tourops_audit_cache_hits_total",
			Help: "Audit reads answered from the cache",
		}, []string{"read"}),
		CacheMisses: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tourops_audit_cache_misses_total",
			Help: "Audit reads that fell through to durable storage",
		}, []string{"read"}),
		CacheDegraded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tourops_audit_cache_degraded_total",
			Help: "Cache operations that failed and were recovered locally",
		}, []string{"op"}),
		CacheSyncDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tourops_audit_cache_sync_dropped_total",
			Help: "Cache updates dropped because the sync queue was full",
		}),
		StreamFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tourops_audit_stream_failures_total",
			Help: "Audit records that could not be published to the stream",
		}),
		LogDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "tourops_audit_log_duration_seconds",
			Help:    "Duration of the audit write path",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

func (m *Metrics) IncrementWritten() {
	if m == nil {
		return
	}
	m.RecordsWritten.Inc()
}

func (m *Metrics) IncrementDuplicate() {
	if m == nil {
		return
	}
	m.Duplicates.Inc()
}

// ObserveCacheRead records whether a read of the given kind hit the cache.
func (m *Metrics) ObserveCacheRead(read string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.WithLabelValues(read).Inc()
		return
	}
	m.CacheMisses.WithLabelValues(read).Inc()
}

func (m *Metrics) IncrementCacheDegraded(op string) {
	if m == nil {
		return
	}
	m.CacheDegraded.WithLabelValues(op).Inc()
}

func (m *Metrics) IncrementSyncDropped() {
	if m == nil {
		return
	}
	m.CacheSyncDropped.Inc()
}

func (m *Metrics) IncrementStreamFailure() {
	if m == nil {
		return
	}
	m.StreamFailures.Inc()
}

func (m *Metrics) ObserveLog(start time.Time) {
	if m == nil {
		return
	}
	m.LogDuration.Observe(time.Since(start).Seconds())
}
