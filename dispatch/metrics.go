package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var jobLabels = []string{"module", "queue", "job"}

// Metrics counts job-run outcomes for the /metrics endpoint.
type Metrics struct {
	runsStarted   *prometheus.CounterVec
	runsSucceeded *prometheus.CounterVec
	runsFailed    *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	eventsDropped prometheus.Counter
}

// NewMetrics registers the dispatcher metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		runsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedeater",
			Subsystem: "dispatcher",
			Name:      "runs_started_total",
			Help:      "Job runs started.",
		}, jobLabels),
		runsSucceeded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedeater",
			Subsystem: "dispatcher",
			Name:      "runs_succeeded_total",
			Help:      "Job runs finished in success.",
		}, jobLabels),
		runsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedeater",
			Subsystem: "dispatcher",
			Name:      "runs_failed_total",
			Help:      "Job runs finished in error.",
		}, jobLabels),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "feedeater",
			Subsystem: "dispatcher",
			Name:      "run_duration_seconds",
			Help:      "Handler wall time per job run.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, jobLabels),
		eventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "feedeater",
			Subsystem: "dispatcher",
			Name:      "events_dropped_total",
			Help:      "Job-run events dropped before a run row was created.",
		}),
	}
}
