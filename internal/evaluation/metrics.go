package evaluation

import (
	"math"
	"sort"
)

// DCG calculates Discounted Cumulative Gain at K with exponential gain
// 2^rel - 1 and discount log2(rank + 1).
func DCG(relevances []float64, k int) float64 {
	if k > len(relevances) {
		k = len(relevances)
	}

	var dcg float64
	for i := 0; i < k; i++ {
		dcg += (math.Pow(2, relevances[i]) - 1) / math.Log2(float64(i+2))
	}
	return dcg
}

// NDCG calculates Normalized Discounted Cumulative Gain at K. The ideal
// ordering is the relevances sorted in descending order.
func NDCG(relevances []float64, k int) float64 {
	ideal := make([]float64, len(relevances))
	copy(ideal, relevances)
	sort.Sort(sort.Reverse(sort.Float64Slice(ideal)))

	idcg := DCG(ideal, k)
	if idcg == 0 {
		return 0
	}
	return DCG(relevances, k) / idcg
}

// Precision calculates Precision at K: the share of the top K results whose
// relevance reaches threshold.
func Precision(relevances []float64, k int, threshold float64) float64 {
	if k > len(relevances) {
		k = len(relevances)
	}
	if k == 0 {
		return 0
	}

	relevant := 0
	for i := 0; i < k; i++ {
		if relevances[i] >= threshold {
			relevant++
		}
	}
	return float64(relevant) / float64(k)
}
