package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/rewired-gh/clickjudge/internal/estimator"
	"github.com/rewired-gh/clickjudge/internal/evaluation"
	"github.com/rewired-gh/clickjudge/internal/models"
	"github.com/rewired-gh/clickjudge/internal/monitor"
)

// TopJudgments returns up to n judgments with the highest log judgment.
// The input is not modified.
func TopJudgments(judgments []models.Judgment, n int) []models.Judgment {
	sorted := make([]models.Judgment, len(judgments))
	copy(sorted, judgments)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].LogJudgment > sorted[j].LogJudgment
	})
	if n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}

// Run writes the summary of one estimator run: counts and prior, click-through
// by rank and the top n judgments.
func Run(w io.Writer, dataset string, res *estimator.Result, n int) error {
	fmt.Fprintf(w, "\n## %s\n\n", dataset)
	summary := [][]string{
		{"events", strconv.Itoa(res.Events)},
		{"invalid events", strconv.Itoa(len(res.InvalidEvents))},
		{"pairs", strconv.Itoa(res.Pairs)},
		{"contexts", strconv.Itoa(len(res.Contexts))},
		{"dropped contexts", strconv.Itoa(res.DroppedContexts)},
		{"unweighted contributions", strconv.Itoa(res.UnweightedContributions)},
		{"judgments", strconv.Itoa(len(res.Judgments))},
		{"rejected pairs", strconv.Itoa(len(res.Rejected))},
		{"prior mu", formatFloat(res.Prior.Mu)},
		{"prior sigma2", formatFloat(res.Prior.Sigma2)},
	}
	if err := render([]string{"Metric", "Value"}, summary, w); err != nil {
		return err
	}

	fmt.Fprintln(w)
	if err := RankClickThrough(w, res.RankClickThrough); err != nil {
		return err
	}

	fmt.Fprintln(w)
	return Judgments(w, TopJudgments(res.Judgments, n))
}

// RankClickThrough writes the click-through rate per position.
func RankClickThrough(w io.Writer, ctr map[int]float64) error {
	positions := make([]int, 0, len(ctr))
	for pos := range ctr {
		positions = append(positions, pos)
	}
	sort.Ints(positions)

	rows := make([][]string, 0, len(positions))
	for _, pos := range positions {
		rows = append(rows, []string{strconv.Itoa(pos), formatFloat(ctr[pos])})
	}
	return render([]string{"Position", "CTR"}, rows, w)
}

// Judgments writes a judgment table in the given order.
func Judgments(w io.Writer, judgments []models.Judgment) error {
	rows := make([][]string, 0, len(judgments))
	for _, j := range judgments {
		rows = append(rows, []string{
			j.Query,
			j.Document,
			strconv.Itoa(j.Views),
			strconv.Itoa(j.Clicks),
			formatFloat(j.Theta),
			formatFloat(j.Posterior),
			formatFloat(j.Judgment),
			formatFloat(j.LogJudgment),
		})
	}
	return render([]string{"Query", "Document", "Views", "Clicks", "Theta", "Posterior", "Judgment", "Log Judgment"}, rows, w)
}

// JudgmentSets writes one row per stored judgment set.
func JudgmentSets(w io.Writer, sets []*models.JudgmentSet) error {
	rows := make([][]string, 0, len(sets))
	for _, s := range sets {
		rows = append(rows, []string{
			s.ID,
			s.Name,
			s.Type,
			s.CreatedAt.Format("2006-01-02 15:04:05"),
			strconv.Itoa(s.JudgmentCount),
			formatFloat(s.Prior.Mu),
			formatFloat(s.Prior.Sigma2),
		})
	}
	return render([]string{"ID", "Name", "Type", "Created", "Judgments", "Mu", "Sigma2"}, rows, w)
}

// Evaluation writes per-query metrics followed by the means.
func Evaluation(w io.Writer, s *evaluation.Summary) error {
	k := strconv.Itoa(s.K)
	rows := make([][]string, 0, len(s.Queries)+1)
	for _, q := range s.Queries {
		rows = append(rows, []string{
			q.Query,
			fmt.Sprintf("%d/%d", q.Judged, q.Results),
			formatFloat(q.DCG),
			formatFloat(q.NDCG),
			formatFloat(q.Precision),
		})
	}
	rows = append(rows, []string{
		"mean",
		fmt.Sprintf("%d unjudged", s.Unjudged),
		formatFloat(s.MeanDCG),
		formatFloat(s.MeanNDCG),
		formatFloat(s.MeanPrecision),
	})
	return render([]string{"Query", "Judged", "DCG@" + k, "NDCG@" + k, "P@" + k}, rows, w)
}

// Drift writes the comparison counts followed by the ranked changes, one row
// per changed pair, grouped by query.
func Drift(w io.Writer, comp *monitor.Comparison, groups []monitor.QueryGroup) error {
	counts := [][]string{
		{"changed", strconv.Itoa(len(comp.Changes))},
		{"unchanged", strconv.Itoa(comp.Unchanged)},
		{"added", strconv.Itoa(comp.Added)},
		{"removed", strconv.Itoa(comp.Removed)},
		{"errors", strconv.Itoa(len(comp.Errors))},
	}
	if err := render([]string{"Pairs", "Count"}, counts, w); err != nil {
		return err
	}

	var rows [][]string
	for _, g := range groups {
		for _, c := range g.Changes {
			rows = append(rows, []string{
				c.Pair.Query,
				c.Pair.Document,
				c.Direction,
				formatFloat(c.OldPosterior),
				formatFloat(c.NewPosterior),
				formatFloat(c.NewLogJudgment - c.OldLogJudgment),
				formatFloat(c.SignalScore),
			})
		}
	}
	fmt.Fprintln(w)
	return render([]string{"Query", "Document", "Direction", "Old", "New", "Δ Log Judgment", "Score"}, rows, w)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 4, 64)
}
