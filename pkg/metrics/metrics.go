// Package metrics exposes the service's Prometheus collectors. Everything
// registers against the default registry; the HTTP layer serves it via
// promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "steward",
		Name:      "runs_total",
		Help:      "Completed orchestration runs by outcome.",
	}, []string{"outcome"})

	RunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "steward",
		Name:      "run_duration_seconds",
		Help:      "Wall time of one orchestration run.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	TaskOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "steward",
		Name:      "task_outcomes_total",
		Help:      "Dispatched task outcomes by terminal state.",
	}, []string{"state"})

	StreamFrames = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "steward",
		Name:      "stream_frames_total",
		Help:      "Frames written to client streams by event type.",
	}, []string{"event"})

	ReconcilerQueries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "steward",
		Name:      "reconciler_queries_total",
		Help:      "Task store reconciliation queries by result.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(
		RunsTotal,
		RunDuration,
		TaskOutcomes,
		StreamFrames,
		ReconcilerQueries,
	)
}
