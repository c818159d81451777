package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AsksTotal counts answered questions.
	// Labels: outcome (cached, generated, no_evidence, error)
	AsksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "pipeline",
			Name:      "asks_total",
			Help:      "Total number of questions by outcome",
		},
		[]string{"outcome"},
	)

	// StageDuration tracks latency per pipeline state.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage"},
	)

	// CacheErrorsTotal counts cache lookups that failed and fell through to
	// retrieval.
	CacheErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "pipeline",
			Name:      "cache_errors_total",
			Help:      "Cache lookups that failed and were treated as misses",
		},
	)

	// IngestedFilesTotal counts ingested files.
	// Labels: mode (evidence, cache), result (success, error)
	IngestedFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "ingest",
			Name:      "files_total",
			Help:      "Total number of ingested files",
		},
		[]string{"mode", "result"},
	)

	// IngestedItemsTotal counts stored chunks and cache entries.
	IngestedItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "ingest",
			Name:      "items_total",
			Help:      "Total number of stored chunks (evidence) or cache entries (cache)",
		},
		[]string{"mode"},
	)
)

func observeStage(stage State, start time.Time) {
	StageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
}
