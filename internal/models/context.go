package models

import (
	"errors"
	"fmt"
)

// Variance is a sample variance that may be undefined, e.g. when fewer than
// two observations contributed to it.
type Variance struct {
	Value float64 `json:"value"`
	Valid bool    `json:"valid"`
}

// DefinedVariance wraps a known variance value.
func DefinedVariance(v float64) Variance {
	return Variance{Value: v, Valid: true}
}

// Usable reports whether the variance is defined and strictly positive, which
// is what inverse-variance weighting needs.
func (v Variance) Usable() bool {
	return v.Valid && v.Value > 0
}

func (v Variance) String() string {
	if !v.Valid {
		return "undefined"
	}
	return fmt.Sprintf("%g", v.Value)
}

// ContextAggregate holds the summed views and clicks of one pair in one context.
type ContextAggregate struct {
	Pair    PairKey    `json:"pair"`
	Context ContextKey `json:"context"`
	Views   int        `json:"views"`
	Clicks  int        `json:"clicks"`
}

// ClickProbability returns clicks/views for the aggregate.
func (a *ContextAggregate) ClickProbability() float64 {
	if a.Views == 0 {
		return 0
	}
	return float64(a.Clicks) / float64(a.Views)
}

// Validate checks that all aggregate fields are valid
func (a *ContextAggregate) Validate() error {
	if a.Pair.Query == "" || a.Pair.Document == "" {
		return errors.New("pair must have query and document")
	}
	if a.Views < 1 {
		return errors.New("views must be at least 1")
	}
	if a.Clicks < 0 || a.Clicks > a.Views {
		return errors.New("clicks must be between 0 and views")
	}
	return nil
}

// ContextStats summarizes the per-pair click probabilities observed in one context.
type ContextStats struct {
	Context ContextKey `json:"ctx"`
	Count   int        `json:"cp_count"` // distinct pairs observed in the context
	MeanCP  float64    `json:"cp_mean"`
	VarCP   Variance   `json:"cp_var"` // sample variance, Bessel-corrected
}

// Usable reports whether the context may contribute to prior estimation:
// at least two pairs, some clicks, and a positive spread.
func (s *ContextStats) Usable() bool {
	return s.Count >= 2 && s.MeanCP > 0 && s.VarCP.Usable()
}

// Validate checks that all stats fields are valid
func (s *ContextStats) Validate() error {
	if s.Count < 1 {
		return errors.New("context count must be at least 1")
	}
	if s.MeanCP < 0.0 || s.MeanCP > 1.0 {
		return errors.New("mean click probability must be between 0.0 and 1.0")
	}
	if s.VarCP.Valid && s.VarCP.Value < 0 {
		return errors.New("click probability variance must not be negative")
	}
	if s.Count < 2 && s.VarCP.Valid {
		return errors.New("click probability variance is undefined for fewer than 2 pairs")
	}
	return nil
}
