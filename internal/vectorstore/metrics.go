package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts store operations.
	// Labels: provider (chromem, qdrant), op, result (success, error)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Total number of vector store operations",
		},
		[]string{"provider", "op", "result"},
	)

	// OperationDuration tracks store operation latency.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "op"},
	)
)

// observe starts timing an operation. Call the returned func with a pointer
// to the operation's named error result.
func observe(provider, op string) func(*error) {
	start := time.Now()
	return func(errp *error) {
		OperationDuration.WithLabelValues(provider, op).Observe(time.Since(start).Seconds())
		result := "success"
		if errp != nil && *errp != nil {
			result = "error"
		}
		OperationsTotal.WithLabelValues(provider, op, result).Inc()
	}
}
