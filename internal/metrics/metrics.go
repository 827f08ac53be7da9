package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"psychometric/sessions/internal/session"
)

const namespace = "test_sessions"

// Metrics is safe to use as a nil pointer; every method becomes a no-op.
type Metrics struct {
	passes       *prometheus.CounterVec
	passDuration prometheus.Histogram
	transitions  *prometheus.CounterVec
	itemErrors   prometheus.Counter
	access       *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_passes_total",
			Help:      "Reconciliation passes by result (ok, failed, skipped).",
		}, []string{"result"}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_pass_duration_seconds",
			Help:      "Duration of reconciliation passes.",
			Buckets:   prometheus.DefBuckets,
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Applied status transitions by target status.",
		}, []string{"to"}),
		itemErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_item_errors_total",
			Help:      "Sessions that failed to transition during a pass.",
		}),
		access: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_evaluations_total",
			Help:      "Access evaluations by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.passes, m.passDuration, m.transitions, m.itemErrors, m.access)
	}
	return m
}

func (m *Metrics) PassFinished(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(result).Inc()
	if result != "skipped" {
		m.passDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) Transition(to session.Status) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(to)).Inc()
}

func (m *Metrics) ItemFailed() {
	if m == nil {
		return
	}
	m.itemErrors.Inc()
}

func (m *Metrics) AccessEvaluated(outcome session.Outcome) {
	if m == nil {
		return
	}
	m.access.WithLabelValues(string(outcome)).Inc()
}
