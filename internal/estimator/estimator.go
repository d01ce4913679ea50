// Package estimator turns raw click/impression events into position-debiased
// relevance judgments using empirical-Bayes shrinkage.
//
// A run has four stages, each a pure transform over the previous one's output:
//
//	Aggregate          events → views/clicks per (query, document, context)
//	Bootstrap.Estimate usable context means → prior (mu, sigma2)
//	EstimatePosterior  pair contexts + prior → shrunk click probability (theta, tau2)
//	Judge              (theta, tau2) + pair totals → posterior/expected
//
// The only randomness is in the bootstrap, which draws from the rand.Source
// given to New. Runs with equal seeds and inputs produce equal results.
package estimator

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/rewired-gh/clickjudge/internal/logger"
	"github.com/rewired-gh/clickjudge/internal/models"
)

var (
	// ErrEmptyPriorPopulation is returned when no usable context survives filtering.
	ErrEmptyPriorPopulation = errors.New("no usable contexts to estimate the prior from")
	// ErrDegeneratePrior is returned when the bootstrapped prior cannot be used for shrinkage.
	ErrDegeneratePrior = errors.New("degenerate prior")
	// ErrInvalidShapeParameters is returned when the method of moments yields a
	// non-positive alpha or beta, i.e. mean*(1-mean) <= variance.
	ErrInvalidShapeParameters = errors.New("invalid beta shape parameters")
)

// PairError represents a per-pair error during judgment
type PairError struct {
	Pair models.PairKey
	Err  error
}

func (e PairError) Error() string {
	return fmt.Sprintf("judgment error for pair %s: %v", e.Pair, e.Err)
}

func (e PairError) Unwrap() error {
	return e.Err
}

// EventError represents a raw event rejected before aggregation
type EventError struct {
	Index int
	Err   error
}

func (e EventError) Error() string {
	return fmt.Sprintf("invalid event %d: %v", e.Index, e.Err)
}

// Config holds the estimator parameters.
type Config struct {
	Percentile       float64 // percentile of bootstrap variances used as sigma2
	SampleSize       int     // bootstrap draw size; <= 0 means the number of usable contexts
	Iterations       int     // bootstrap repetitions
	ResultSetSizeCap int     // result-set sizes above this share one context bucket
	Weighted         bool    // weight bootstrap draws by context pair count
}

// DefaultConfig returns the estimator defaults.
func DefaultConfig() Config {
	return Config{
		Percentile:       99,
		SampleSize:       0,
		Iterations:       1000,
		ResultSetSizeCap: models.DefaultResultSetSizeCap,
	}
}

// Parameters renders the config as judgment set parameters.
func (c Config) Parameters() map[string]string {
	return map[string]string{
		"percentile":          strconv.FormatFloat(c.Percentile, 'g', -1, 64),
		"sample_size":         strconv.Itoa(c.SampleSize),
		"iterations":          strconv.Itoa(c.Iterations),
		"result_set_size_cap": strconv.Itoa(c.ResultSetSizeCap),
		"weighted":            strconv.FormatBool(c.Weighted),
	}
}

// NewSource returns a PCG random source. A zero seed yields a time-seeded,
// non-reproducible source.
func NewSource(seed uint64) rand.Source {
	if seed == 0 {
		now := uint64(time.Now().UnixNano())
		return rand.NewPCG(now, now>>1|1)
	}
	return rand.NewPCG(seed, seed)
}

// Estimator runs the judgment pipeline over a batch of events. An Estimator
// owns its random source and must not be shared between goroutines.
type Estimator struct {
	cfg Config
	src rand.Source
}

// New creates a new Estimator. A nil src is replaced by a time-seeded one.
func New(cfg Config, src rand.Source) *Estimator {
	if src == nil {
		src = NewSource(0)
	}
	if cfg.ResultSetSizeCap <= 0 {
		cfg.ResultSetSizeCap = models.DefaultResultSetSizeCap
	}
	return &Estimator{cfg: cfg, src: src}
}

// Config returns the estimator configuration.
func (e *Estimator) Config() Config {
	return e.cfg
}

// Result is the output of one estimator run.
type Result struct {
	Judgments        []models.Judgment
	Prior            models.PriorParams
	Contexts         []models.ContextStats
	RankClickThrough map[int]float64

	Events                  int // events aggregated
	Pairs                   int // distinct (query, document) pairs
	DroppedContexts         int // degenerate contexts excluded from the prior
	UnweightedContributions int // pair contexts that contributed weight 0

	Rejected      []PairError  // pairs excluded from Judgments
	InvalidEvents []EventError // events skipped before aggregation
}

// Run executes all stages over events. Invalid events and pairs with invalid
// shape parameters are reported in the result and skipped; an empty prior
// population or a degenerate prior aborts the run.
func (e *Estimator) Run(events []models.RawEvent) (*Result, error) {
	res := &Result{}

	valid := make([]models.RawEvent, 0, len(events))
	for i := range events {
		if err := events[i].Validate(); err != nil {
			res.InvalidEvents = append(res.InvalidEvents, EventError{Index: i, Err: err})
			continue
		}
		valid = append(valid, events[i])
	}
	res.Events = len(valid)
	res.RankClickThrough = RankClickThrough(valid)

	agg := Aggregate(valid, e.cfg.ResultSetSizeCap)
	res.Pairs = len(agg.Pairs)
	res.Contexts = ContextStatistics(agg.Contexts)

	usable, dropped := UsableContexts(res.Contexts)
	res.DroppedContexts = dropped
	logger.Info("Aggregated %d events into %d pairs over %d contexts (dropped contexts: %d)",
		res.Events, res.Pairs, len(res.Contexts), dropped)

	cps := make([]float64, 0, len(usable))
	var weights []float64
	if e.cfg.Weighted {
		weights = make([]float64, 0, len(usable))
	}
	// res.Contexts is sorted, which keeps the bootstrap population order stable.
	for _, s := range res.Contexts {
		if _, ok := usable[s.Context]; !ok {
			continue
		}
		cps = append(cps, s.MeanCP)
		if e.cfg.Weighted {
			weights = append(weights, float64(s.Count))
		}
	}

	bootstrap := NewBootstrap(e.src, e.cfg.Percentile, e.cfg.SampleSize, e.cfg.Iterations)
	prior, err := bootstrap.Estimate(cps, weights)
	if err != nil {
		return nil, fmt.Errorf("failed to estimate prior: %w", err)
	}
	if err := prior.Validate(); err != nil {
		return nil, fmt.Errorf("%w: mu=%g sigma2=%g: %v", ErrDegeneratePrior, prior.Mu, prior.Sigma2, err)
	}
	res.Prior = prior
	logger.Info("Estimated prior from %d contexts: mu=%.6f sigma2=%.6g", len(cps), prior.Mu, prior.Sigma2)

	res.Judgments = make([]models.Judgment, 0, len(agg.Pairs))
	for i := range agg.Pairs {
		pair := &agg.Pairs[i]
		est := EstimatePosterior(pair, usable, prior)
		res.UnweightedContributions += est.UnweightedContexts

		j, err := Judge(pair, est)
		if err != nil {
			res.Rejected = append(res.Rejected, PairError{Pair: pair.Pair, Err: err})
			continue
		}
		res.Judgments = append(res.Judgments, j)
	}

	logger.Debug("Run: judged=%d rejected=%d unweighted_contributions=%d invalid_events=%d",
		len(res.Judgments), len(res.Rejected), res.UnweightedContributions, len(res.InvalidEvents))

	return res, nil
}
