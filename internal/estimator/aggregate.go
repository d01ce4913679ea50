package estimator

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/rewired-gh/clickjudge/internal/models"
)

// Aggregation is the grouped view of a batch of raw events.
type Aggregation struct {
	// Contexts holds one row per (query, document, context), ordered by pair then context.
	Contexts []models.ContextAggregate
	// Pairs holds one row per (query, document) with its contexts and totals.
	Pairs []models.QueryDocAggregate
}

type contextRowKey struct {
	pair    models.PairKey
	context models.ContextKey
}

// Aggregate groups events by (query, document, context) and by (query, document),
// summing views and clicks. Result-set sizes above sizeCap share one bucket.
// Events are assumed to be valid; see Estimator.Run for filtering.
func Aggregate(events []models.RawEvent, sizeCap int) *Aggregation {
	rows := make(map[contextRowKey]*models.ContextAggregate)
	for i := range events {
		e := &events[i]
		key := contextRowKey{pair: e.Pair(), context: e.Context(sizeCap)}
		row, ok := rows[key]
		if !ok {
			row = &models.ContextAggregate{Pair: key.pair, Context: key.context}
			rows[key] = row
		}
		row.Views++
		if e.Clicked {
			row.Clicks++
		}
	}

	agg := &Aggregation{Contexts: make([]models.ContextAggregate, 0, len(rows))}
	for _, row := range rows {
		agg.Contexts = append(agg.Contexts, *row)
	}
	sort.Slice(agg.Contexts, func(i, j int) bool {
		a, b := agg.Contexts[i], agg.Contexts[j]
		if a.Pair != b.Pair {
			return lessPair(a.Pair, b.Pair)
		}
		return lessContext(a.Context, b.Context)
	})

	// Contexts are sorted by pair, so each pair's rows are contiguous.
	for i := 0; i < len(agg.Contexts); {
		j := i
		pair := models.QueryDocAggregate{Pair: agg.Contexts[i].Pair}
		for j < len(agg.Contexts) && agg.Contexts[j].Pair == pair.Pair {
			pair.Views += agg.Contexts[j].Views
			pair.Clicks += agg.Contexts[j].Clicks
			j++
		}
		pair.Contexts = agg.Contexts[i:j:j]
		agg.Pairs = append(agg.Pairs, pair)
		i = j
	}

	return agg
}

// ContextStatistics summarizes, per context, the click probabilities of the
// pairs observed in it: pair count, mean and Bessel-corrected sample variance.
// The variance is undefined for contexts with a single pair.
func ContextStatistics(rows []models.ContextAggregate) []models.ContextStats {
	cps := make(map[models.ContextKey][]float64)
	for i := range rows {
		cps[rows[i].Context] = append(cps[rows[i].Context], rows[i].ClickProbability())
	}

	stats := make([]models.ContextStats, 0, len(cps))
	for ctx, values := range cps {
		s := models.ContextStats{
			Context: ctx,
			Count:   len(values),
			MeanCP:  stat.Mean(values, nil),
		}
		if len(values) >= 2 {
			s.VarCP = models.DefinedVariance(stat.Variance(values, nil))
		}
		stats = append(stats, s)
	}
	sort.Slice(stats, func(i, j int) bool {
		return lessContext(stats[i].Context, stats[j].Context)
	})
	return stats
}

// UsableContexts keeps the contexts that can inform the prior and reports how
// many were dropped as degenerate.
func UsableContexts(stats []models.ContextStats) (map[models.ContextKey]models.ContextStats, int) {
	usable := make(map[models.ContextKey]models.ContextStats, len(stats))
	dropped := 0
	for _, s := range stats {
		if !s.Usable() {
			dropped++
			continue
		}
		usable[s.Context] = s
	}
	return usable, dropped
}

// RankClickThrough returns the click-through rate per position over all events,
// regardless of query, document or result-set size.
func RankClickThrough(events []models.RawEvent) map[int]float64 {
	views := make(map[int]int)
	clicks := make(map[int]int)
	for i := range events {
		views[events[i].Position]++
		if events[i].Clicked {
			clicks[events[i].Position]++
		}
	}

	ctr := make(map[int]float64, len(views))
	for pos, v := range views {
		ctr[pos] = float64(clicks[pos]) / float64(v)
	}
	return ctr
}

func lessPair(a, b models.PairKey) bool {
	if a.Query != b.Query {
		return a.Query < b.Query
	}
	return a.Document < b.Document
}

func lessContext(a, b models.ContextKey) bool {
	if a.Position != b.Position {
		return a.Position < b.Position
	}
	return a.SizeBucket < b.SizeBucket
}
