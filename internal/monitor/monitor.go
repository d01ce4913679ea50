// Package monitor detects judgment drift between two judgment sets and scores it.
//
// A pair drifts when its posterior click probability moves between an older
// and a newer set. Moves above a minimum floor (0.1%) are scored with a
// three-factor composite:
//
//	score = KL(p_new || p_old) × log_view_weight × posterior_snr
//
// KL divergence captures the information content of the posterior update.
// Log view weight scales by how much traffic the newer set saw for the pair.
// Posterior SNR compares the move with the spread of both Beta posteriors.
//
// Use ScoreAndRank to filter, group by query and return the top-K query groups.
package monitor

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rewired-gh/clickjudge/internal/logger"
	"github.com/rewired-gh/clickjudge/internal/models"
	"github.com/rewired-gh/clickjudge/internal/storage"
)

// Change directions.
const (
	DirectionIncrease = "increase"
	DirectionDecrease = "decrease"
)

// Change is the movement of one pair's judgment between two sets.
type Change struct {
	Pair           models.PairKey
	OldPosterior   float64
	NewPosterior   float64
	OldLogJudgment float64
	NewLogJudgment float64
	OldVariance    float64 // variance of the older Beta posterior
	NewVariance    float64
	Views          int // views of the pair in the newer set
	Magnitude      float64
	Direction      string
	SignalScore    float64
}

// Flipped reports whether the pair moved across the expected click rate,
// i.e. its log judgment changed sign.
func (c *Change) Flipped() bool {
	return (c.OldLogJudgment < 0) != (c.NewLogJudgment < 0)
}

// QueryGroup collects the scored changes of one query.
type QueryGroup struct {
	Query     string
	Changes   []Change
	BestScore float64
}

// Comparison is the outcome of comparing two judgment sets.
type Comparison struct {
	Changes   []Change
	Errors    []DetectionError
	Added     int // pairs only in the newer set
	Removed   int // pairs only in the older set
	Unchanged int // pairs in both sets moving less than the floor
}

// Monitor compares stored judgment sets.
type Monitor struct {
	storage *storage.Storage
}

// New creates a new monitor
func New(s *storage.Storage) *Monitor {
	return &Monitor{storage: s}
}

// DetectionError records a pair that could not be compared
type DetectionError struct {
	Pair models.PairKey
	Err  error
}

func (e DetectionError) Error() string {
	return fmt.Sprintf("pair %s: %v", e.Pair, e.Err)
}

func (e DetectionError) Unwrap() error {
	return e.Err
}

// minPosteriorChange is the floor for change detection.
// All moves of at least 0.1% are returned for scoring.
const minPosteriorChange = 0.001

// probEpsilon clamps probabilities away from 0 and 1 to prevent ln(0) in KL divergence.
const probEpsilon = 1e-7

// Compare loads two stored judgment sets and detects the changes between them.
func (m *Monitor) Compare(ctx context.Context, oldID, newID string) (*Comparison, error) {
	if _, err := m.storage.GetJudgmentSet(ctx, oldID); err != nil {
		return nil, err
	}
	if _, err := m.storage.GetJudgmentSet(ctx, newID); err != nil {
		return nil, err
	}

	older, err := m.storage.GetJudgments(ctx, oldID)
	if err != nil {
		return nil, fmt.Errorf("failed to load judgments of %s: %w", oldID, err)
	}
	newer, err := m.storage.GetJudgments(ctx, newID)
	if err != nil {
		return nil, fmt.Errorf("failed to load judgments of %s: %w", newID, err)
	}

	return DetectChanges(older, newer), nil
}

// DetectChanges pairs up judgments present in both sets and returns the moves
// of the posterior click probability that exceed the minimum floor. Changes are
// ordered by pair. Pairs whose posterior is not a probability are reported as
// DetectionErrors and skipped.
func DetectChanges(older, newer []models.Judgment) *Comparison {
	byPair := make(map[models.PairKey]*models.Judgment, len(older))
	for i := range older {
		byPair[older[i].Pair()] = &older[i]
	}

	comp := &Comparison{}
	seen := make(map[models.PairKey]bool, len(newer))
	maxChangeSeen := 0.0

	for i := range newer {
		cur := &newer[i]
		key := cur.Pair()
		seen[key] = true

		prev, ok := byPair[key]
		if !ok {
			comp.Added++
			continue
		}
		if err := checkPosterior(prev); err != nil {
			comp.Errors = append(comp.Errors, DetectionError{Pair: key, Err: fmt.Errorf("older set: %w", err)})
			continue
		}
		if err := checkPosterior(cur); err != nil {
			comp.Errors = append(comp.Errors, DetectionError{Pair: key, Err: fmt.Errorf("newer set: %w", err)})
			continue
		}

		change := math.Abs(cur.Posterior - prev.Posterior)
		maxChangeSeen = math.Max(maxChangeSeen, change)
		if change < minPosteriorChange {
			comp.Unchanged++
			continue
		}

		direction := DirectionIncrease
		if cur.Posterior < prev.Posterior {
			direction = DirectionDecrease
		}
		comp.Changes = append(comp.Changes, Change{
			Pair:           key,
			OldPosterior:   prev.Posterior,
			NewPosterior:   cur.Posterior,
			OldLogJudgment: prev.LogJudgment,
			NewLogJudgment: cur.LogJudgment,
			OldVariance:    PosteriorVariance(prev),
			NewVariance:    PosteriorVariance(cur),
			Views:          cur.Views,
			Magnitude:      change,
			Direction:      direction,
		})
	}

	for key := range byPair {
		if !seen[key] {
			comp.Removed++
		}
	}

	sort.Slice(comp.Changes, func(i, j int) bool {
		a, b := comp.Changes[i].Pair, comp.Changes[j].Pair
		if a.Query != b.Query {
			return a.Query < b.Query
		}
		return a.Document < b.Document
	})

	logger.Debug("DetectChanges: changed=%d, unchanged=%d, added=%d, removed=%d, errors=%d, max_change=%.6f",
		len(comp.Changes), comp.Unchanged, comp.Added, comp.Removed, len(comp.Errors), maxChangeSeen)

	return comp
}

func checkPosterior(j *models.Judgment) error {
	if math.IsNaN(j.Posterior) || j.Posterior <= 0 || j.Posterior >= 1 {
		return fmt.Errorf("posterior %v is not a probability", j.Posterior)
	}
	return nil
}

// PosteriorVariance returns the variance of the pair's Beta posterior
// Beta(alpha+clicks, beta+views-clicks).
func PosteriorVariance(j *models.Judgment) float64 {
	n := j.Alpha + j.Beta + float64(j.Views)
	return j.Posterior * (1 - j.Posterior) / (n + 1)
}

// KLDivergence computes KL(pNew || pOld) for a binary (click/no click) distribution.
// Both probabilities are clamped to [1e-7, 1-1e-7] to avoid ln(0).
// Returns the information gain (in nats) of updating from pOld to pNew.
func KLDivergence(pOld, pNew float64) float64 {
	pOld = math.Max(probEpsilon, math.Min(1-probEpsilon, pOld))
	pNew = math.Max(probEpsilon, math.Min(1-probEpsilon, pNew))
	return pNew*math.Log(pNew/pOld) + (1-pNew)*math.Log((1-pNew)/(1-pOld))
}

// LogViewWeight returns log2(1 + views/vRef), floored at 0.1.
// At vRef views the weight is 1.0; at 4×vRef it is ~2.32; at 0 views it is 0.1.
// When vRef <= 0 it is treated as 1.0.
func LogViewWeight(views int, vRef float64) float64 {
	if vRef <= 0 {
		vRef = 1.0
	}
	return math.Max(0.1, math.Log2(1+float64(views)/vRef))
}

// PosteriorSNR is |Δp| over the combined standard deviation of the two
// posteriors, clamped to [0.5, 5.0]. Falls back to 1.0 when the combined
// deviation is below 1e-4.
func PosteriorSNR(oldVar, newVar, netChange float64) float64 {
	sd := math.Sqrt(oldVar + newVar)
	if math.IsNaN(sd) || sd < 1e-4 {
		return 1.0
	}
	return math.Max(0.5, math.Min(5.0, math.Abs(netChange)/sd))
}

// CompositeScore multiplies the three factors into a single signal quality scalar.
func CompositeScore(kl, vw, snr float64) float64 {
	return kl * vw * snr
}

// groupByQuery groups scored changes by query. Changes within a group are
// sorted by SignalScore descending. Insertion order of groups is preserved.
func groupByQuery(changes []Change) []QueryGroup {
	groupMap := make(map[string]*QueryGroup)
	var order []string

	for _, change := range changes {
		q := change.Pair.Query
		if _, exists := groupMap[q]; !exists {
			groupMap[q] = &QueryGroup{Query: q, Changes: []Change{}}
			order = append(order, q)
		}
		g := groupMap[q]
		g.Changes = append(g.Changes, change)
		if change.SignalScore > g.BestScore {
			g.BestScore = change.SignalScore
		}
	}

	result := make([]QueryGroup, 0, len(order))
	for _, q := range order {
		g := *groupMap[q]
		sort.SliceStable(g.Changes, func(a, b int) bool {
			return g.Changes[a].SignalScore > g.Changes[b].SignalScore
		})
		result = append(result, g)
	}
	return result
}

// ScoreAndRank scores each change with the composite signal score, drops
// changes below minScore, groups them by query and returns at most k groups
// sorted by BestScore descending. Ties are broken by query descending.
// Returns an empty (non-nil) slice when nothing clears the bar.
//
// vRef is the reference view count for log-view weighting; pairs with vRef
// views receive weight ≈ 1.0. minAbsChange discards moves smaller than the
// given posterior change before scoring, unless the pair flipped across its
// expected click rate. Pass 0.0 to disable it.
func ScoreAndRank(changes []Change, minScore float64, k int, vRef float64, minAbsChange float64) []QueryGroup {
	if vRef <= 0 {
		vRef = 100.0
	}

	var candidates []Change
	for _, change := range changes {
		if minAbsChange > 0 && change.Magnitude < minAbsChange && !change.Flipped() {
			continue
		}

		kl := KLDivergence(change.OldPosterior, change.NewPosterior)
		vw := LogViewWeight(change.Views, vRef)
		snr := PosteriorSNR(change.OldVariance, change.NewVariance, change.NewPosterior-change.OldPosterior)

		change.SignalScore = CompositeScore(kl, vw, snr)
		if change.SignalScore >= minScore {
			candidates = append(candidates, change)
		}
	}

	groups := groupByQuery(candidates)

	sort.Slice(groups, func(i, j int) bool {
		if groups[i].BestScore != groups[j].BestScore {
			return groups[i].BestScore > groups[j].BestScore
		}
		return groups[i].Query > groups[j].Query
	})

	if k <= 0 || len(groups) == 0 {
		return []QueryGroup{}
	}
	if k > len(groups) {
		k = len(groups)
	}
	return groups[:k]
}
