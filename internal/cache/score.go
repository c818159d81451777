package cache

import (
	"math"

	"github.com/fyrsmithlabs/docqa/internal/vectorstore"
)

// ScoreToPercent converts a store score into a match percentage in [0, 100].
//
//	cosine similarity  sim * 100
//	cosine distance    (1 - |d|) * 100
//	dot product        dot * 100 (normalized vectors)
//	euclidean          100 / (1 + d)
func ScoreToPercent(metric vectorstore.Metric, score float32) float64 {
	s := float64(score)
	var pct float64
	switch metric {
	case vectorstore.MetricCosineSimilarity, vectorstore.MetricDot:
		pct = s * 100
	case vectorstore.MetricCosineDistance:
		pct = (1 - math.Abs(s)) * 100
	case vectorstore.MetricEuclidean:
		pct = 100 / (1 + math.Abs(s))
	default:
		pct = s * 100
	}
	if math.IsNaN(pct) {
		return 0
	}
	return math.Max(0, math.Min(100, pct))
}
