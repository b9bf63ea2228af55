package service

import (
	"strings"
	"testing"
	"time"

	"github.com/openrelief/responder/internal/config"
	"github.com/openrelief/responder/internal/domain/alert"
	"github.com/openrelief/responder/internal/domain/disaster"
	"github.com/openrelief/responder/internal/domain/situation"
)

func newTestPrioritizer(t *testing.T) *Prioritizer {
	t.Helper()
	p, err := NewPrioritizer(config.Defaults().Priority)
	if err != nil {
		t.Fatalf("NewPrioritizer: %v", err)
	}
	return p
}

func scoringContext(kind disaster.Kind, severity disaster.Severity, total int64) *situation.Context {
	return &situation.Context{
		Event: disaster.Event{
			ID:         "dx-score",
			Kind:       kind,
			Severity:   severity,
			Location:   disaster.Location{Latitude: 23.8, Longitude: 90.4},
			OccurredAt: time.Now().Add(-5 * time.Minute),
			AffectedAreas: []disaster.Location{
				{Latitude: 23.8, Longitude: 90.4},
				{Latitude: 23.9, Longitude: 90.5},
			},
		},
		Geography:  &situation.Geography{TerrainDifficulty: 0.5, BlockedRoutes: []string{"b1"}},
		Routes:     []situation.Route{{ID: "r1", Capacity: 10000, CurrentLoad: 6000, EstimatedMinutes: 45}},
		Population: &situation.Population{Total: total, Vulnerable: total / 10, DensityPerKM2: 3000},
		BuiltAt:    time.Now(),
	}
}

func TestNewPrioritizerRejectsBadWeights(t *testing.T) {
	cfg := config.Defaults().Priority
	cfg.PopulationWeight = 0.9
	if _, err := NewPrioritizer(cfg); err == nil {
		t.Fatal("weights not summing to 1.0 must be rejected")
	}

	cfg = config.Defaults().Priority
	cfg.HighThreshold = 0.9 // above critical
	if _, err := NewPrioritizer(cfg); err == nil {
		t.Fatal("non-decreasing thresholds must be rejected")
	}
}

func TestAnalyzePriorityMonotonicInScore(t *testing.T) {
	p := newTestPrioritizer(t)

	small := p.AnalyzePriority(scoringContext(disaster.KindFlood, disaster.SeverityLow, 500))
	large := p.AnalyzePriority(scoringContext(disaster.KindFire, disaster.SeverityCritical, 2_000_000))

	if large.Score <= small.Score {
		t.Fatalf("larger disaster scored %.3f <= smaller %.3f", large.Score, small.Score)
	}
	if large.Level.Rank() < small.Level.Rank() {
		t.Fatalf("level ordering inverted: %s < %s", large.Level, small.Level)
	}
}

func TestScoreToLevelThresholds(t *testing.T) {
	p := newTestPrioritizer(t)

	cases := []struct {
		score float64
		want  alert.Level
	}{
		{0.90, alert.LevelCritical},
		{0.85, alert.LevelCritical},
		{0.70, alert.LevelHigh},
		{0.65, alert.LevelHigh},
		{0.50, alert.LevelMedium},
		{0.35, alert.LevelMedium},
		{0.10, alert.LevelLow},
	}
	for _, tc := range cases {
		if got := p.ScoreToLevel(tc.score); got != tc.want {
			t.Errorf("ScoreToLevel(%.2f) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestAnalyzePriorityScoreClamped(t *testing.T) {
	p := newTestPrioritizer(t)

	sc := scoringContext(disaster.KindFire, disaster.SeverityCritical, 50_000_000)
	sc.Population.DensityPerKM2 = 100000
	sc.Routes = nil // no routes, maximum evacuation urgency
	sc.MarkMissing(situation.FieldRoutes)

	pri := p.AnalyzePriority(sc)
	if pri.Score < 0 || pri.Score > 1 {
		t.Fatalf("score %.3f outside [0,1]", pri.Score)
	}
}

func TestMissingInputsDefaultToHigh(t *testing.T) {
	p := newTestPrioritizer(t)

	sc := scoringContext(disaster.KindStorm, disaster.SeverityLow, 100)
	sc.Population = nil
	sc.MarkMissing(situation.FieldPopulation)

	pri := p.AnalyzePriority(sc)
	if pri.Level != alert.LevelHigh {
		t.Fatalf("level = %s, want exactly HIGH on missing inputs", pri.Level)
	}
	if !pri.Uncertain {
		t.Fatal("uncertainty flag must be set")
	}
	found := false
	for _, r := range pri.Reasoning {
		if len(r) > 0 && containsFold(r, "missing") {
			found = true
		}
	}
	if !found {
		t.Fatalf("reasoning lacks uncertainty note: %v", pri.Reasoning)
	}
}

func TestResponseBudgetsPerLevel(t *testing.T) {
	want := map[alert.Level]time.Duration{
		alert.LevelCritical: 5 * time.Minute,
		alert.LevelHigh:     15 * time.Minute,
		alert.LevelMedium:   2 * time.Hour,
		alert.LevelLow:      8 * time.Hour,
	}
	for level, budget := range want {
		if responseBudgets[level] != budget {
			t.Errorf("budget[%s] = %s, want %s", level, responseBudgets[level], budget)
		}
	}
}

func TestRequiredResourcesSortedAndKindSpecific(t *testing.T) {
	got := requiredResources(disaster.KindFire, alert.LevelCritical)

	has := func(r alert.Resource) bool {
		for _, x := range got {
			if x == r {
				return true
			}
		}
		return false
	}
	for _, r := range []alert.Resource{
		alert.ResourceShelter, alert.ResourceCommunication,
		alert.ResourceFireRescue, alert.ResourceMedical,
		alert.ResourceEvacTransport, alert.ResourceUtilities,
	} {
		if !has(r) {
			t.Errorf("fire/critical resources missing %s: %v", r, got)
		}
	}
	for i := 1; i < len(got); i++ {
		if got[i-1] >= got[i] {
			t.Fatalf("resources not sorted: %v", got)
		}
	}
}

func TestRankConcurrentDeterministic(t *testing.T) {
	p := newTestPrioritizer(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mk := func(id string, kind disaster.Kind, sev disaster.Severity, total int64, at time.Time) *situation.Context {
		sc := scoringContext(kind, sev, total)
		sc.Event.ID = id
		sc.Event.OccurredAt = at
		return sc
	}

	contexts := []*situation.Context{
		mk("dx-b", disaster.KindStorm, disaster.SeverityLow, 200, base),
		mk("dx-a", disaster.KindFire, disaster.SeverityCritical, 1_000_000, base),
		mk("dx-c", disaster.KindFire, disaster.SeverityCritical, 1_000_000, base.Add(-time.Hour)),
	}

	first := p.RankConcurrent(contexts)
	second := p.RankConcurrent(contexts)

	if len(first) != 3 {
		t.Fatalf("got %d ranked entries, want 3", len(first))
	}
	for i := range first {
		if first[i].DisasterID != second[i].DisasterID {
			t.Fatalf("ranking not deterministic: %v vs %v", ids(first), ids(second))
		}
		if first[i].Rank != i+1 {
			t.Fatalf("rank[%d] = %d, want %d", i, first[i].Rank, i+1)
		}
	}

	// Equal level and score: the older event ranks first.
	if first[0].DisasterID != "dx-c" || first[1].DisasterID != "dx-a" {
		t.Fatalf("tiebreak order wrong: %v", ids(first))
	}
	if first[2].DisasterID != "dx-b" {
		t.Fatalf("least urgent should rank last: %v", ids(first))
	}
}

func ids(r []Ranked) []string {
	out := make([]string, len(r))
	for i := range r {
		out[i] = r[i].DisasterID
	}
	return out
}

func containsFold(s, sub string) bool {
	return len(s) >= len(sub) && strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
