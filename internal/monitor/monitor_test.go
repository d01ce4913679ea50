package monitor

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rewired-gh/clickjudge/internal/models"
	"github.com/rewired-gh/clickjudge/internal/storage"
)

func mustStorage(t *testing.T, maxSets int) *storage.Storage {
	t.Helper()
	s, err := storage.New(maxSets, ":memory:")
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func judgment(query, doc string, posterior, logJudgment float64, views int) models.Judgment {
	return models.Judgment{
		Query:       query,
		Document:    doc,
		Views:       views,
		Clicks:      int(posterior * float64(views)),
		Alpha:       31.8,
		Beta:        127.2,
		Theta:       0.2,
		Expected:    0.2,
		Posterior:   posterior,
		Judgment:    math.Exp(logJudgment),
		LogJudgment: logJudgment,
	}
}

func change(query, doc string, pOld, pNew float64, views int) Change {
	dir := DirectionIncrease
	if pNew < pOld {
		dir = DirectionDecrease
	}
	return Change{
		Pair:           models.PairKey{Query: query, Document: doc},
		OldPosterior:   pOld,
		NewPosterior:   pNew,
		OldLogJudgment: math.Log(pOld / 0.2),
		NewLogJudgment: math.Log(pNew / 0.2),
		OldVariance:    pOld * (1 - pOld) / 200,
		NewVariance:    pNew * (1 - pNew) / 200,
		Views:          views,
		Magnitude:      math.Abs(pNew - pOld),
		Direction:      dir,
	}
}

func TestDetectChanges(t *testing.T) {
	older := []models.Judgment{
		judgment("q1", "d1", 0.20, 0, 40),
		judgment("q1", "d2", 0.30, 0.4, 40),
		judgment("q2", "d1", 0.25, 0.2, 40),
		judgment("q3", "gone", 0.10, -0.7, 40),
	}
	newer := []models.Judgment{
		judgment("q1", "d1", 0.35, 0.5, 80),
		judgment("q1", "d2", 0.3004, 0.4, 80),
		judgment("q2", "d1", 0.15, -0.3, 80),
		judgment("q4", "new", 0.5, 0.9, 80),
	}

	got := DetectChanges(older, newer)

	if len(got.Errors) != 0 {
		t.Fatalf("Expected no detection errors, got %v", got.Errors)
	}
	if got.Added != 1 || got.Removed != 1 || got.Unchanged != 1 {
		t.Errorf("Expected added=1 removed=1 unchanged=1, got %d %d %d", got.Added, got.Removed, got.Unchanged)
	}
	if len(got.Changes) != 2 {
		t.Fatalf("Expected 2 changes, got %d", len(got.Changes))
	}

	first := got.Changes[0]
	if first.Pair.Query != "q1" || first.Pair.Document != "d1" {
		t.Errorf("Expected changes ordered by pair, got %s first", first.Pair)
	}
	if first.Direction != DirectionIncrease {
		t.Errorf("Expected direction 'increase', got '%s'", first.Direction)
	}
	if math.Abs(first.Magnitude-0.15) > 1e-9 {
		t.Errorf("Expected magnitude 0.15, got %f", first.Magnitude)
	}
	if first.Views != 80 {
		t.Errorf("Expected views of the newer set, got %d", first.Views)
	}
	if first.NewVariance <= 0 || first.OldVariance <= 0 {
		t.Errorf("Expected positive posterior variances, got %v %v", first.OldVariance, first.NewVariance)
	}

	second := got.Changes[1]
	if second.Direction != DirectionDecrease {
		t.Errorf("Expected direction 'decrease', got '%s'", second.Direction)
	}
	if !second.Flipped() {
		t.Error("Expected sign change of log judgment to count as flipped")
	}
}

func TestDetectChanges_InvalidPosterior(t *testing.T) {
	older := []models.Judgment{judgment("q1", "d1", 0.2, 0, 10)}
	bad := judgment("q1", "d1", 0.2, 0, 10)
	bad.Posterior = math.NaN()

	got := DetectChanges(older, []models.Judgment{bad})

	if len(got.Changes) != 0 {
		t.Errorf("Expected no changes, got %d", len(got.Changes))
	}
	if len(got.Errors) != 1 {
		t.Fatalf("Expected 1 detection error, got %d", len(got.Errors))
	}
	var de DetectionError
	if !errors.As(got.Errors[0], &de) || de.Pair.Document != "d1" {
		t.Errorf("Expected DetectionError for q1/d1, got %v", got.Errors[0])
	}
}

func TestDetectChanges_Empty(t *testing.T) {
	got := DetectChanges(nil, nil)
	if len(got.Changes) != 0 || got.Added != 0 || got.Removed != 0 {
		t.Errorf("Expected empty comparison, got %+v", got)
	}
}

func TestMonitor_Compare(t *testing.T) {
	s := mustStorage(t, 10)
	m := New(s)
	ctx := context.Background()

	save := func(id string, at time.Time, js ...models.Judgment) {
		t.Helper()
		set := &models.JudgmentSet{
			ID:            id,
			Name:          "implicit-judgments",
			Type:          models.JudgmentSetTypeImplicit,
			Generator:     "ebayes-coec",
			Prior:         models.PriorParams{Mu: 0.2, Sigma2: 0.001},
			JudgmentCount: len(js),
			CreatedAt:     at,
		}
		if err := s.SaveJudgmentSet(ctx, set, js); err != nil {
			t.Fatalf("SaveJudgmentSet failed: %v", err)
		}
	}
	now := time.Now().Add(-time.Minute)
	save("old", now.Add(-time.Hour), judgment("q1", "d1", 0.2, 0, 40))
	save("new", now, judgment("q1", "d1", 0.4, 0.69, 40))

	got, err := m.Compare(ctx, "old", "new")
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	if len(got.Changes) != 1 || got.Changes[0].Direction != DirectionIncrease {
		t.Errorf("Expected one increase, got %+v", got.Changes)
	}

	if _, err := m.Compare(ctx, "old", "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing set, got %v", err)
	}
}

func TestKLDivergence(t *testing.T) {
	tests := []struct {
		name       string
		pOld, pNew float64
		wantMin    float64
		wantMax    float64
		wantPos    bool // result must be > 0
	}{
		{
			name: "5% move at p=0.5 is small positive",
			pOld: 0.50, pNew: 0.55,
			wantMin: 0.001, wantMax: 0.01,
		},
		{
			name: "10% move at p=0.5 is medium positive",
			pOld: 0.50, pNew: 0.60,
			wantMin: 0.005, wantMax: 0.025,
		},
		{
			name: "KL(0.6||0.5) must be positive",
			pOld: 0.50, pNew: 0.60,
			wantPos: true,
		},
		{
			name: "no change is near zero",
			pOld: 0.70, pNew: 0.70,
			wantMin: 0.0, wantMax: 1e-10,
		},
		{
			name: "boundary p=0.0 does not panic or NaN",
			pOld: 0.0, pNew: 0.05,
		},
		{
			name: "boundary p=1.0 does not panic or NaN",
			pOld: 1.0, pNew: 0.95,
		},
		{
			name: "always non-negative",
			pOld: 0.3, pNew: 0.7,
			wantMin: 0.0, wantMax: math.MaxFloat64,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := KLDivergence(tt.pOld, tt.pNew)
			if math.IsNaN(got) || math.IsInf(got, 0) {
				t.Errorf("KLDivergence(%v, %v) = %v (invalid)", tt.pOld, tt.pNew, got)
				return
			}
			if got < 0 {
				t.Errorf("KLDivergence(%v, %v) = %v, want >= 0", tt.pOld, tt.pNew, got)
			}
			if tt.wantPos && got <= 0 {
				t.Errorf("KLDivergence(%v, %v) = %v, want > 0", tt.pOld, tt.pNew, got)
			}
			if tt.wantMax > 0 && (got < tt.wantMin || got > tt.wantMax) {
				t.Errorf("KLDivergence(%v, %v) = %v, want [%v, %v]", tt.pOld, tt.pNew, got, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestLogViewWeight(t *testing.T) {
	const vRef = 100.0
	tests := []struct {
		name             string
		views            int
		vRef             float64
		wantMin, wantMax float64
	}{
		{name: "views == vRef gives 1.0", views: 100, vRef: vRef, wantMin: 0.99, wantMax: 1.01},
		{name: "no views gives floor 0.1", views: 0, vRef: vRef, wantMin: 0.1, wantMax: 0.1},
		{name: "4×vRef gives ~2.32", views: 400, vRef: vRef, wantMin: 2.20, wantMax: 2.40},
		{name: "vRef = 0 treated as 1.0", views: 3, vRef: 0, wantMin: 1.99, wantMax: 2.01},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LogViewWeight(tt.views, tt.vRef)
			if got < tt.wantMin || got > tt.wantMax {
				t.Errorf("LogViewWeight(%v, %v) = %v, want [%v, %v]", tt.views, tt.vRef, got, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestPosteriorSNR(t *testing.T) {
	tests := []struct {
		name           string
		oldVar, newVar float64
		net            float64
		want           float64
	}{
		{name: "flat posteriors fall back to 1.0", oldVar: 0, newVar: 0, net: 0.2, want: 1.0},
		{name: "move of one deviation", oldVar: 0.0002, newVar: 0.0002, net: 0.02, want: 1.0},
		{name: "large move clamps to 5.0", oldVar: 0.0001, newVar: 0.0001, net: 0.5, want: 5.0},
		{name: "tiny move clamps to 0.5", oldVar: 0.01, newVar: 0.01, net: 0.001, want: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PosteriorSNR(tt.oldVar, tt.newVar, tt.net)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("PosteriorSNR(%v, %v, %v) = %v, want %v", tt.oldVar, tt.newVar, tt.net, got, tt.want)
			}
		})
	}
}

func TestPosteriorVariance(t *testing.T) {
	j := judgment("q1", "d1", 0.2, 0, 41)
	// alpha+beta+views+1 = 31.8+127.2+41+1 = 201
	want := 0.2 * 0.8 / 201
	if got := PosteriorVariance(&j); math.Abs(got-want) > 1e-12 {
		t.Errorf("PosteriorVariance = %v, want %v", got, want)
	}
}

func TestScoreAndRank_TopKLimit(t *testing.T) {
	changes := []Change{
		change("q1", "d1", 0.50, 0.65, 400),
		change("q2", "d1", 0.50, 0.70, 400),
		change("q3", "d1", 0.50, 0.60, 400),
	}

	top := ScoreAndRank(changes, 0.0, 2, 100, 0.0)
	if len(top) != 2 {
		t.Fatalf("Expected 2 results (k=2), got %d", len(top))
	}
	if top[0].Query != "q2" || top[1].Query != "q1" {
		t.Errorf("Expected q2 then q1 by score, got %s, %s", top[0].Query, top[1].Query)
	}
}

func TestScoreAndRank_NeverNil(t *testing.T) {
	if result := ScoreAndRank(nil, 0.0, 5, 100, 0.0); result == nil {
		t.Error("ScoreAndRank should never return nil, got nil")
	}
}

func TestScoreAndRank_MinScoreFilters(t *testing.T) {
	changes := []Change{change("q1", "d1", 0.50, 0.51, 400)}

	if result := ScoreAndRank(changes, 999.0, 5, 100, 0.0); len(result) != 0 {
		t.Errorf("Expected 0 results with minScore=999, got %d", len(result))
	}
}

func TestScoreAndRank_TopKZero(t *testing.T) {
	changes := []Change{change("q1", "d1", 0.50, 0.70, 400)}

	if result := ScoreAndRank(changes, 0.0, 0, 100, 0.0); len(result) != 0 {
		t.Errorf("Expected 0 results when k=0, got %d", len(result))
	}
}

func TestScoreAndRank_MinAbsChange(t *testing.T) {
	changes := []Change{
		// small move that stays above the expected rate
		change("small", "d1", 0.30, 0.31, 400),
		// small move across the expected rate of 0.2
		change("flip", "d1", 0.195, 0.205, 400),
		change("large", "d1", 0.30, 0.50, 400),
	}

	got := ScoreAndRank(changes, 0.0, 10, 100, 0.05)
	queries := map[string]bool{}
	for _, g := range got {
		queries[g.Query] = true
	}
	if queries["small"] {
		t.Error("Expected small move to be filtered")
	}
	if !queries["flip"] || !queries["large"] {
		t.Errorf("Expected flipped and large moves to pass, got %v", queries)
	}
}

func TestScoreAndRank_GroupsByQuery(t *testing.T) {
	changes := []Change{
		change("q1", "d1", 0.50, 0.55, 100),
		change("q1", "d2", 0.50, 0.80, 100),
		change("q2", "d1", 0.50, 0.52, 100),
	}

	got := ScoreAndRank(changes, 0.0, 10, 100, 0.0)
	if len(got) != 2 {
		t.Fatalf("Expected 2 query groups, got %d", len(got))
	}
	g := got[0]
	if g.Query != "q1" || len(g.Changes) != 2 {
		t.Fatalf("Expected q1 with 2 changes first, got %s with %d", g.Query, len(g.Changes))
	}
	if g.Changes[0].Pair.Document != "d2" {
		t.Errorf("Expected changes sorted by score, got %s first", g.Changes[0].Pair.Document)
	}
	if g.BestScore != g.Changes[0].SignalScore {
		t.Errorf("Expected BestScore %v to match top change %v", g.BestScore, g.Changes[0].SignalScore)
	}
}
