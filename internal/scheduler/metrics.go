package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "chapters"

// Metrics are the Prometheus collectors of the scheduler.
type Metrics struct {
	Polls        prometheus.Counter
	PollDuration prometheus.Histogram
	Outcomes     *prometheus.CounterVec
	Transitions  *prometheus.CounterVec
	Blocked      *prometheus.CounterVec
	Winners      *prometheus.CounterVec
	Failures     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Polls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "scheduler",
			Name:      "polls_total",
			Help:      "Number of phase checks run.",
		}),
		PollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "scheduler",
			Name:      "poll_duration_seconds",
			Help:      "Duration of one phase check over all active cycles.",
			Buckets:   prometheus.DefBuckets,
		}),
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "scheduler",
			Name:      "cycle_outcomes_total",
			Help:      "Per-cycle results of phase checks.",
		}, []string{"outcome"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "scheduler",
			Name:      "transitions_total",
			Help:      "Phase transitions by source, destination and trigger.",
		}, []string{"from", "to", "trigger"}),
		Blocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "scheduler",
			Name:      "blocked_transitions_total",
			Help:      "Refused transitions by reason.",
		}, []string{"reason"}),
		Winners: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "scheduler",
			Name:      "auto_selections_total",
			Help:      "Books selected by the vote tally, by how the winner was decided.",
		}, []string{"decision"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "scheduler",
			Name:      "failures_total",
			Help:      "Errors while processing cycles, by stage.",
		}, []string{"stage"}),
	}
	if reg != nil {
		reg.MustRegister(m.Polls, m.PollDuration, m.Outcomes, m.Transitions, m.Blocked, m.Winners, m.Failures)
	}
	return m
}
