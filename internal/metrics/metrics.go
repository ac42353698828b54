// Package metrics holds the Prometheus instruments for the reward ledger and
// the task completion pipeline. Instruments register with the default
// registry, which cmd/server exposes on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// AwardsTotal counts AwardXP outcomes: awarded, duplicate, zero, error
	AwardsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redmansion_xp_awards_total",
		Help: "XP award attempts by outcome",
	}, []string{"outcome"})

	// XPAwarded sums XP granted by source tag
	XPAwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redmansion_xp_awarded_total",
		Help: "Total XP granted by source",
	}, []string{"source"})

	// LevelUpsTotal counts level transitions
	LevelUpsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "redmansion_level_ups_total",
		Help: "Total level transitions recorded",
	})

	// EvaluationsTotal counts evaluations by path: shortcut, ai, fallback
	EvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redmansion_evaluations_total",
		Help: "Submission evaluations by scoring path",
	}, []string{"path"})

	// EvaluationDuration tracks grader latency
	EvaluationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "redmansion_evaluation_duration_seconds",
		Help:    "Evaluation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
	}, []string{"path"})

	// CompletionsTotal counts SubmitCompletion results by outcome kind
	CompletionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redmansion_task_completions_total",
		Help: "Task completion requests by outcome",
	}, []string{"outcome"})

	// CatalogCacheTotal counts catalog cache hits and misses
	CatalogCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redmansion_catalog_cache_total",
		Help: "Task catalog cache lookups by result",
	}, []string{"result"})
)

// Handler returns the HTTP handler serving the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
