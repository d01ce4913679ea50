package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/clickjudge/internal/estimator"
	"github.com/rewired-gh/clickjudge/internal/evaluation"
	"github.com/rewired-gh/clickjudge/internal/models"
	"github.com/rewired-gh/clickjudge/internal/monitor"
)

func judgmentsFixture() []models.Judgment {
	return []models.Judgment{
		{Query: "q1", Document: "low", Views: 10, Clicks: 0, LogJudgment: -0.5, Judgment: 0.6},
		{Query: "q1", Document: "high", Views: 10, Clicks: 6, LogJudgment: 0.9, Judgment: 2.4},
		{Query: "q2", Document: "mid", Views: 10, Clicks: 2, LogJudgment: 0.1, Judgment: 1.1},
	}
}

func TestTopJudgments(t *testing.T) {
	in := judgmentsFixture()
	top := TopJudgments(in, 2)
	if len(top) != 2 {
		t.Fatalf("Expected 2 judgments, got %d", len(top))
	}
	if top[0].Document != "high" || top[1].Document != "mid" {
		t.Errorf("Expected high, mid, got %s, %s", top[0].Document, top[1].Document)
	}
	if in[0].Document != "low" {
		t.Error("TopJudgments reordered its input")
	}
	if got := TopJudgments(in, 10); len(got) != 3 {
		t.Errorf("Expected all 3 judgments when n exceeds length, got %d", len(got))
	}
}

func TestRun(t *testing.T) {
	res := &estimator.Result{
		Judgments:        judgmentsFixture(),
		Prior:            models.PriorParams{Mu: 0.1234, Sigma2: 0.0042},
		RankClickThrough: map[int]float64{2: 0.2, 1: 0.4},
		Events:           30,
		Pairs:            3,
		DroppedContexts:  1,
	}

	var buf bytes.Buffer
	if err := Run(&buf, "events.csv", res, 1); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	out := buf.String()

	for _, want := range []string{"## events.csv", "prior mu", "0.1234", "dropped contexts", "high"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "low") {
		t.Errorf("Expected only the top judgment in output:\n%s", out)
	}
	if strings.Index(out, "0.4000") > strings.Index(out, "0.2000") {
		t.Errorf("Expected positions in ascending order:\n%s", out)
	}
}

func TestJudgmentSets(t *testing.T) {
	sets := []*models.JudgmentSet{{
		ID:            "4b1f",
		Name:          "nightly",
		Type:          models.JudgmentSetTypeImplicit,
		JudgmentCount: 42,
		CreatedAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}}

	var buf bytes.Buffer
	if err := JudgmentSets(&buf, sets); err != nil {
		t.Fatalf("JudgmentSets failed: %v", err)
	}
	for _, want := range []string{"4b1f", "nightly", "IMPLICIT", "2026-01-02 03:04:05", "42"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("Expected output to contain %q:\n%s", want, buf.String())
		}
	}
}

func TestEvaluation(t *testing.T) {
	s := &evaluation.Summary{
		K:        5,
		Queries:  []evaluation.QueryResult{{Query: "q1", NDCG: 0.75, Judged: 3, Results: 5}},
		MeanNDCG: 0.75,
		Unjudged: 2,
	}

	var buf bytes.Buffer
	if err := Evaluation(&buf, s); err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	for _, want := range []string{"NDCG@5", "3/5", "0.7500", "2 unjudged"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("Expected output to contain %q:\n%s", want, buf.String())
		}
	}
}

func TestDrift(t *testing.T) {
	comp := &monitor.Comparison{
		Changes: []monitor.Change{{
			Pair:           models.PairKey{Query: "q1", Document: "d1"},
			OldPosterior:   0.2,
			NewPosterior:   0.35,
			OldLogJudgment: 0,
			NewLogJudgment: 0.5,
			Direction:      monitor.DirectionIncrease,
			SignalScore:    0.12,
		}},
		Added:   3,
		Removed: 1,
	}
	groups := []monitor.QueryGroup{{Query: "q1", Changes: comp.Changes, BestScore: 0.12}}

	var buf bytes.Buffer
	if err := Drift(&buf, comp, groups); err != nil {
		t.Fatalf("Drift failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"added", "increase", "0.3500", "0.5000", "0.1200"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q:\n%s", want, out)
		}
	}
}
