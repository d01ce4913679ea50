package models

import (
	"errors"
	"math"
	"time"
)

// PriorParams is the pooled prior over context-level click probability.
type PriorParams struct {
	Mu     float64 `json:"mu"`
	Sigma2 float64 `json:"sigma2"`
}

// Validate checks that the prior can be used for shrinkage
func (p *PriorParams) Validate() error {
	if math.IsNaN(p.Mu) || p.Mu <= 0.0 || p.Mu >= 1.0 {
		return errors.New("prior mean must be between 0.0 and 1.0 (exclusive)")
	}
	if math.IsNaN(p.Sigma2) || p.Sigma2 <= 0.0 {
		return errors.New("prior variance must be positive")
	}
	return nil
}

// QueryDocAggregate holds a pair's per-context aggregates and its
// context-independent totals.
type QueryDocAggregate struct {
	Pair     PairKey            `json:"pair"`
	Contexts []ContextAggregate `json:"contexts"`
	Views    int                `json:"views_qd"`
	Clicks   int                `json:"clicks_qd"`
}

// Validate checks that totals match the per-context aggregates
func (a *QueryDocAggregate) Validate() error {
	if len(a.Contexts) == 0 {
		return errors.New("pair must have at least one context")
	}
	views, clicks := 0, 0
	for i := range a.Contexts {
		if a.Contexts[i].Pair != a.Pair {
			return errors.New("context aggregate belongs to another pair")
		}
		views += a.Contexts[i].Views
		clicks += a.Contexts[i].Clicks
	}
	if views != a.Views {
		return errors.New("views_qd must equal the sum of views across contexts")
	}
	if clicks != a.Clicks {
		return errors.New("clicks_qd must equal the sum of clicks across contexts")
	}
	return nil
}

// Judgment is the relevance judgment for one (query, document) pair together
// with the intermediate values it was derived from.
//
// Judgment is posterior/expected: 1 (log 0) means the document is clicked
// exactly as often as its positions predict, above 1 means more relevant.
type Judgment struct {
	Query       string  `json:"query"`
	Document    string  `json:"product"`
	Views       int     `json:"views"`
	Clicks      int     `json:"clicks"`
	Position    float64 `json:"position"` // mean over the pair's contexts
	CP          float64 `json:"cp"`       // mean of per-context click probabilities
	Weight      float64 `json:"weight"`
	Theta       float64 `json:"theta"`
	Tau2        float64 `json:"tau2"`
	Alpha       float64 `json:"alpha"`
	Beta        float64 `json:"beta"`
	Expected    float64 `json:"expected"`
	Posterior   float64 `json:"posterior"`
	Judgment    float64 `json:"judgment"`
	LogJudgment float64 `json:"log_judgment"`
}

// Pair returns the judged (query, document) key.
func (j *Judgment) Pair() PairKey {
	return PairKey{Query: j.Query, Document: j.Document}
}

// Validate checks that all judgment fields are valid
func (j *Judgment) Validate() error {
	if j.Query == "" {
		return errors.New("query must not be empty")
	}
	if j.Document == "" {
		return errors.New("document must not be empty")
	}
	if j.Views < 1 {
		return errors.New("views must be at least 1")
	}
	if j.Clicks < 0 || j.Clicks > j.Views {
		return errors.New("clicks must be between 0 and views")
	}
	if !(j.Alpha > 0) || !(j.Beta > 0) {
		return errors.New("alpha and beta must be positive")
	}
	if !(j.Judgment > 0) || math.IsInf(j.Judgment, 0) {
		return errors.New("judgment must be positive and finite")
	}
	return nil
}

// Judgment set types.
const (
	JudgmentSetTypeImplicit = "IMPLICIT"
	JudgmentSetTypeExplicit = "EXPLICIT"
)

// JudgmentSet describes one estimator run and the judgments it produced.
type JudgmentSet struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Type             string            `json:"type"`
	Generator        string            `json:"generator"`
	Parameters       map[string]string `json:"parameters,omitempty"`
	Prior            PriorParams       `json:"prior"`
	DroppedContexts  int               `json:"dropped_contexts"`
	RejectedPairs    int               `json:"rejected_pairs"`
	JudgmentCount    int               `json:"judgment_count"`
	RankClickThrough map[int]float64   `json:"rank_click_through,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// Validate checks that all judgment set fields are valid
func (s *JudgmentSet) Validate() error {
	if s.ID == "" {
		return errors.New("judgment set ID must not be empty")
	}
	if s.Name == "" {
		return errors.New("judgment set name must not be empty")
	}
	if s.Type != JudgmentSetTypeImplicit && s.Type != JudgmentSetTypeExplicit {
		return errors.New("judgment set type must be 'IMPLICIT' or 'EXPLICIT'")
	}
	if s.Generator == "" {
		return errors.New("judgment set generator must not be empty")
	}
	if s.JudgmentCount < 0 || s.DroppedContexts < 0 || s.RejectedPairs < 0 {
		return errors.New("judgment set counts must not be negative")
	}
	if s.CreatedAt.After(time.Now()) {
		return errors.New("created at must not be in the future")
	}
	return nil
}
