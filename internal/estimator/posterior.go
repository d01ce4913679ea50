package estimator

import (
	"github.com/rewired-gh/clickjudge/internal/models"
)

// PosteriorEstimate is the shrunk click probability of one pair.
type PosteriorEstimate struct {
	WeightedMean float64 // sum of context mean_cp * weight
	Weight       float64 // sum of context weights
	Theta        float64
	Tau2         float64

	// UnweightedContexts counts contexts that contributed weight 0 because
	// their variance is undefined or not usable.
	UnweightedContexts int
}

// ContextWeight is the contribution weight of a pair's context: inverse of the
// context variance, scaled by the share of the pair's views seen in it.
// It is 0 when the context has no usable variance.
func ContextWeight(variance models.Variance, views, pairViews int) float64 {
	if !variance.Usable() || pairViews == 0 {
		return 0
	}
	return (1 / variance.Value) * float64(views) / float64(pairViews)
}

// EstimatePosterior combines the pair's context-weighted click rate with the
// prior. contexts holds the usable context statistics; a pair context missing
// from it contributes weight 0.
func EstimatePosterior(pair *models.QueryDocAggregate, contexts map[models.ContextKey]models.ContextStats, prior models.PriorParams) PosteriorEstimate {
	var est PosteriorEstimate
	for i := range pair.Contexts {
		row := &pair.Contexts[i]
		s, ok := contexts[row.Context]
		if !ok {
			est.UnweightedContexts++
			continue
		}
		w := ContextWeight(s.VarCP, row.Views, pair.Views)
		if w == 0 {
			est.UnweightedContexts++
			continue
		}
		est.Weight += w
		est.WeightedMean += s.MeanCP * w
	}

	est.Theta, est.Tau2 = Shrink(est.WeightedMean, est.Weight, prior)
	return est
}

// Shrink applies the conjugate normal update of the prior (mu, sigma2) with a
// weighted mean. With zero weight it returns the prior unchanged.
func Shrink(weightedMean, weight float64, prior models.PriorParams) (theta, tau2 float64) {
	if weight == 0 {
		return prior.Mu, prior.Sigma2
	}
	precision := weight + 1/prior.Sigma2
	theta = (weightedMean + prior.Mu/prior.Sigma2) / precision
	tau2 = 1 / precision
	return theta, tau2
}
