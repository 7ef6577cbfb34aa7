// Package metrics provides Prometheus metrics for the rating and
// leaderboard engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "resonate"

var (
	// Submission path.
	submissionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "submissions_total",
		Help:      "Accepted gameplay submissions.",
	})
	submissionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "submission_errors_total",
		Help:      "Submissions rejected or failed while processing.",
	})

	// Leaderboard registry.
	boardBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "leaderboard_builds_total",
		Help:      "Leaderboard materializations from persistence.",
	}, []string{"kind"})
	boardBuildDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "leaderboard_build_duration_seconds",
		Help:      "Time spent loading and building one leaderboard.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})
	boardBuildSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "leaderboard_build_size",
		Help:      "Entry count of freshly built leaderboards.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
	}, []string{"kind"})
	residentBoards = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "leaderboard_resident_boards",
		Help:      "Leaderboards currently held in memory.",
	}, []string{"kind"})
	boardEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "leaderboard_evictions_total",
		Help:      "Leaderboards dropped from the registry cache.",
	}, []string{"kind", "reason"})
	queryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "query_duration_seconds",
		Help:      "Latency of standings queries.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	// Vote aggregation.
	voteRecomputes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chart_rating_recomputes_total",
		Help:      "Chart rating recomputations triggered by vote changes.",
	})

	// Reconciliation.
	reconcileCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_cycles_total",
		Help:      "Reconciliation cycles by outcome.",
	}, []string{"outcome"})
	reconcileSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_skipped_ticks_total",
		Help:      "Scheduler ticks skipped because a cycle was still running.",
	})
	reconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "reconcile_cycle_duration_seconds",
		Help:      "Wall time of one full reconciliation cycle.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
	})
	reconcileCorrections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_corrections_total",
		Help:      "Drift corrections written back, by entity class and field.",
	}, []string{"entity", "field"})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordSubmission counts one accepted submission.
func RecordSubmission() { submissionsTotal.Inc() }

// RecordSubmissionError counts one failed or rejected submission.
func RecordSubmissionError() { submissionErrors.Inc() }

// RecordBoardBuild records a finished leaderboard build.
func RecordBoardBuild(kind string, d time.Duration, size int) {
	boardBuilds.WithLabelValues(kind).Inc()
	boardBuildDuration.WithLabelValues(kind).Observe(d.Seconds())
	boardBuildSize.WithLabelValues(kind).Observe(float64(size))
}

// UpdateResidentBoards sets the resident board gauge for a kind.
func UpdateResidentBoards(kind string, n int) {
	residentBoards.WithLabelValues(kind).Set(float64(n))
}

// RecordBoardEviction counts a board dropped from the cache.
func RecordBoardEviction(kind, reason string) {
	boardEvictions.WithLabelValues(kind, reason).Inc()
}

// RecordQueryLatency records one standings query.
func RecordQueryLatency(op string, d time.Duration) {
	queryLatency.WithLabelValues(op).Observe(d.Seconds())
}

// RecordVoteRecompute counts one chart rating recomputation.
func RecordVoteRecompute() { voteRecomputes.Inc() }

// RecordReconcileCycle records a finished cycle and its outcome.
func RecordReconcileCycle(outcome string, d time.Duration) {
	reconcileCycles.WithLabelValues(outcome).Inc()
	reconcileDuration.Observe(d.Seconds())
}

// RecordReconcileSkipped counts a tick skipped due to a running cycle.
func RecordReconcileSkipped() { reconcileSkipped.Inc() }

// RecordCorrection counts one drift correction.
func RecordCorrection(entity, field string) {
	reconcileCorrections.WithLabelValues(entity, field).Inc()
}
