package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the recorder's escalation channel to Prometheus.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	recorded  *prometheus.CounterVec
	conflicts prometheus.Counter
	failures  *prometheus.CounterVec
	attempts  prometheus.Histogram
	dropped   prometheus.Counter
	breaks    *prometheus.CounterVec
}

// NewMetrics registers the audit collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		recorded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_entries_recorded_total",
			Help: "Audit entries durably appended, labeled by event status.",
		}, []string{"status"}),
		conflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "audit_chain_conflicts_total",
			Help: "Compare-and-swap conflicts on the chain head (retried internally).",
		}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_record_failures_total",
			Help: "Record calls that failed, labeled by failure class.",
		}, []string{"reason"}),
		attempts: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "audit_record_attempts",
			Help:    "Head advance attempts needed per successful record.",
			Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16},
		}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "audit_async_dropped_total",
			Help: "Events dropped by the async dispatcher because its buffer was full.",
		}),
		breaks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_verification_breaks_total",
			Help: "Chain verification runs that found a break, labeled by reason.",
		}, []string{"reason"}),
	}
}

func (m *Metrics) recordedEntry(s Status, attempts int) {
	if m == nil {
		return
	}
	m.recorded.WithLabelValues(string(s)).Inc()
	m.attempts.Observe(float64(attempts))
}

func (m *Metrics) conflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

func (m *Metrics) failure(kind error) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(reason(kind)).Inc()
}

func (m *Metrics) drop() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *Metrics) verificationBreak(r Reason) {
	if m == nil {
		return
	}
	m.breaks.WithLabelValues(string(r)).Inc()
}
