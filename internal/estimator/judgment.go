package estimator

import (
	"fmt"
	"math"

	"github.com/rewired-gh/clickjudge/internal/models"
)

// AlphaBeta reparameterizes a Beta distribution from its mean and variance by
// the method of moments. It requires mean*(1-mean) > variance.
func AlphaBeta(mean, variance float64) (alpha, beta float64, err error) {
	ab := mean*(1-mean)/variance - 1
	alpha = mean * ab
	beta = (1 - mean) * ab
	if !(alpha > 0) || !(beta > 0) || math.IsInf(ab, 0) {
		return alpha, beta, fmt.Errorf("%w: mean=%g variance=%g alpha=%g beta=%g",
			ErrInvalidShapeParameters, mean, variance, alpha, beta)
	}
	return alpha, beta, nil
}

// Judge turns a pair's posterior estimate into its judgment: the Beta-Binomial
// posterior click probability over the prior-implied one.
func Judge(pair *models.QueryDocAggregate, est PosteriorEstimate) (models.Judgment, error) {
	alpha, beta, err := AlphaBeta(est.Theta, est.Tau2)
	if err != nil {
		return models.Judgment{}, err
	}

	expected := alpha / (alpha + beta)
	posterior := (alpha + float64(pair.Clicks)) / (alpha + beta + float64(pair.Views))
	judgment := posterior / expected

	var position, cp float64
	for i := range pair.Contexts {
		position += float64(pair.Contexts[i].Context.Position)
		cp += pair.Contexts[i].ClickProbability()
	}
	n := float64(len(pair.Contexts))

	return models.Judgment{
		Query:       pair.Pair.Query,
		Document:    pair.Pair.Document,
		Views:       pair.Views,
		Clicks:      pair.Clicks,
		Position:    position / n,
		CP:          cp / n,
		Weight:      est.Weight,
		Theta:       est.Theta,
		Tau2:        est.Tau2,
		Alpha:       alpha,
		Beta:        beta,
		Expected:    expected,
		Posterior:   posterior,
		Judgment:    judgment,
		LogJudgment: math.Log(judgment),
	}, nil
}
