package estimator

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/rewired-gh/clickjudge/internal/models"
)

// Bootstrap estimates the pooled prior over context click probability by
// resampling the per-context means with replacement.
//
// Mu is the mean of the bootstrap sample means. Sigma2 is a high percentile of
// the bootstrap sample variances, which widens the prior and shrinks extreme
// pairs harder than the median variance would.
type Bootstrap struct {
	Percentile float64 // in (0, 100]
	SampleSize int     // draws per iteration; <= 0 means the population size
	Iterations int

	src rand.Source
}

// NewBootstrap creates a bootstrap estimator drawing from src.
func NewBootstrap(src rand.Source, percentile float64, sampleSize, iterations int) *Bootstrap {
	return &Bootstrap{
		Percentile: percentile,
		SampleSize: sampleSize,
		Iterations: iterations,
		src:        src,
	}
}

// Estimate runs the bootstrap over cps. When weights is non-nil, element i is
// drawn with probability weights[i]/sum(weights); otherwise draws are uniform.
// The returned prior is not validated: a population without spread yields Sigma2 == 0.
func (b *Bootstrap) Estimate(cps, weights []float64) (models.PriorParams, error) {
	if len(cps) == 0 {
		return models.PriorParams{}, ErrEmptyPriorPopulation
	}
	if b.Iterations < 1 {
		return models.PriorParams{}, fmt.Errorf("invalid iterations %d: must be at least 1", b.Iterations)
	}
	if b.Percentile <= 0 || b.Percentile > 100 {
		return models.PriorParams{}, fmt.Errorf("invalid percentile %v: must be in (0, 100]", b.Percentile)
	}

	draw, err := b.sampler(cps, weights)
	if err != nil {
		return models.PriorParams{}, err
	}

	sampleSize := b.SampleSize
	if sampleSize <= 0 {
		sampleSize = len(cps)
	}

	means := make([]float64, b.Iterations)
	vars := make([]float64, b.Iterations)
	sample := make([]float64, sampleSize)
	for it := 0; it < b.Iterations; it++ {
		for i := range sample {
			sample[i] = cps[draw()]
		}
		means[it] = stat.Mean(sample, nil)
		vars[it] = stat.PopVariance(sample, nil)
	}

	return models.PriorParams{
		Mu:     stat.Mean(means, nil),
		Sigma2: percentile(vars, b.Percentile),
	}, nil
}

// sampler returns a function drawing population indices.
func (b *Bootstrap) sampler(cps, weights []float64) (func() int, error) {
	if weights == nil {
		rng := rand.New(b.src)
		n := len(cps)
		return func() int { return rng.IntN(n) }, nil
	}

	if len(weights) != len(cps) {
		return nil, fmt.Errorf("weights length %d does not match population length %d", len(weights), len(cps))
	}
	var total float64
	for i, w := range weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("invalid weight %v at index %d", w, i)
		}
		total += w
	}
	if total == 0 {
		return nil, fmt.Errorf("weights must not all be zero")
	}

	cat := distuv.NewCategorical(weights, b.src)
	return func() int { return int(cat.Rand()) }, nil
}

// percentile returns the p-th percentile of x using linear interpolation
// between closest ranks, the convention of numpy.percentile.
func percentile(x []float64, p float64) float64 {
	sorted := make([]float64, len(x))
	copy(sorted, x)
	sort.Float64s(sorted)

	h := float64(len(sorted)-1) * p / 100
	lo := math.Floor(h)
	hi := math.Ceil(h)
	if lo == hi {
		return sorted[int(lo)]
	}
	return sorted[int(lo)] + (h-lo)*(sorted[int(hi)]-sorted[int(lo)])
}
