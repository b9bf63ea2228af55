package service

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/openrelief/responder/internal/config"
	"github.com/openrelief/responder/internal/domain/alert"
	"github.com/openrelief/responder/internal/domain/disaster"
	"github.com/openrelief/responder/internal/domain/situation"
)

// responseBudgets maps priority levels to their response-time budget.
var responseBudgets = map[alert.Level]time.Duration{
	alert.LevelCritical: 5 * time.Minute,
	alert.LevelHigh:     15 * time.Minute,
	alert.LevelMedium:   2 * time.Hour,
	alert.LevelLow:      8 * time.Hour,
}

// kindResources maps disaster kinds to their kind-specific resource needs,
// on top of the base shelter+communication set every alert carries.
var kindResources = map[disaster.Kind][]alert.Resource{
	disaster.KindFire:       {alert.ResourceFireRescue, alert.ResourceMedical},
	disaster.KindChemical:   {alert.ResourceMedical, alert.ResourceUtilities},
	disaster.KindFlood:      {alert.ResourceEvacTransport, alert.ResourceSearchRescue},
	disaster.KindEarthquake: {alert.ResourceSearchRescue, alert.ResourceMedical, alert.ResourceUtilities},
	disaster.KindCyclone:    {alert.ResourceEvacTransport, alert.ResourceSearchRescue},
	disaster.KindStorm:      {alert.ResourceUtilities},
}

// Prioritizer computes alert priorities via weighted scoring over a
// structured context. Weights, thresholds and per-kind scales come from
// configuration, never from call sites.
type Prioritizer struct {
	cfg config.Priority
	now func() time.Time
}

// NewPrioritizer creates a Prioritizer, rejecting weight sets that do not
// sum to 1.0.
func NewPrioritizer(cfg config.Priority) (*Prioritizer, error) {
	sum := cfg.PopulationWeight + cfg.GeographyWeight + cfg.EvacuationWeight + cfg.TimeWeight
	if math.Abs(sum-1.0) > 0.001 {
		return nil, fmt.Errorf("priority weights must sum to 1.0, got %.3f", sum)
	}
	if !(cfg.CriticalThreshold > cfg.HighThreshold && cfg.HighThreshold > cfg.MediumThreshold) {
		return nil, errors.New("priority thresholds must be strictly decreasing")
	}
	return &Prioritizer{cfg: cfg, now: time.Now}, nil
}

// AnalyzePriority scores the context and assigns a priority level. It never
// fails: when required scoring inputs (population, routes) are missing the
// level defaults to HIGH with an uncertainty note appended to the
// reasoning, a documented safety bias toward over-alerting.
func (p *Prioritizer) AnalyzePriority(sc *situation.Context) *alert.Priority {
	scale := p.scaleFor(sc.Event.Kind)

	popScore := p.populationScore(sc)
	geoScore := p.geographyScore(sc)
	evacScore := p.evacuationScore(sc)
	timeScore := p.timeScore(sc, scale)

	weighted := popScore*p.cfg.PopulationWeight +
		geoScore*p.cfg.GeographyWeight +
		evacScore*p.cfg.EvacuationWeight +
		timeScore*p.cfg.TimeWeight

	score := clamp01(weighted * scale.Multiplier)
	level := p.ScoreToLevel(score)

	reasoning := []string{
		fmt.Sprintf("disaster %s (%s) at %.2f,%.2f",
			sc.Event.ID, sc.Event.Kind, sc.Event.Location.Latitude, sc.Event.Location.Longitude),
		fmt.Sprintf("score %.3f = population %.2f + geography %.2f + evacuation %.2f + time %.2f, kind multiplier %.2f",
			score, popScore, geoScore, evacScore, timeScore, scale.Multiplier),
	}

	uncertain := false
	if !sc.Has(situation.FieldPopulation) || !sc.Has(situation.FieldRoutes) {
		uncertain = true
		level = alert.LevelHigh
		reasoning = append(reasoning,
			fmt.Sprintf("required scoring inputs missing (%v); defaulting to HIGH priority", sc.Missing))
	}
	if sc.Partial() && !uncertain {
		reasoning = append(reasoning,
			fmt.Sprintf("context partial (%v); confidence %.2f", sc.Missing, sc.Confidence))
	}

	pri := &alert.Priority{
		Level:          level,
		Score:          score,
		Reasoning:      reasoning,
		ResponseBudget: responseBudgets[level],
		Resources:      requiredResources(sc.Event.Kind, level),
		Uncertain:      uncertain,
		ComputedAt:     p.now(),
	}

	slog.Info("priority analyzed",
		"disaster_id", sc.Event.ID,
		"level", string(level),
		"score", score,
		"uncertain", uncertain,
	)
	return pri
}

// ScoreToLevel maps a score onto a level using the configured thresholds.
// The mapping is monotonic in the score.
func (p *Prioritizer) ScoreToLevel(score float64) alert.Level {
	switch {
	case score >= p.cfg.CriticalThreshold:
		return alert.LevelCritical
	case score >= p.cfg.HighThreshold:
		return alert.LevelHigh
	case score >= p.cfg.MediumThreshold:
		return alert.LevelMedium
	default:
		return alert.LevelLow
	}
}

// Ranked pairs a context with its computed priority and rank position.
type Ranked struct {
	DisasterID string             `json:"disaster_id"`
	Context    *situation.Context `json:"-"`
	Priority   *alert.Priority    `json:"priority"`
	Rank       int                `json:"rank"` // 1 = most urgent
}

// RankConcurrent orders concurrent disasters by urgency: level descending,
// score descending, event timestamp ascending. The sort is stable and all
// tiebreaks deterministic, so the same input always yields the same order.
func (p *Prioritizer) RankConcurrent(contexts []*situation.Context) []Ranked {
	ranked := make([]Ranked, 0, len(contexts))
	for _, sc := range contexts {
		ranked = append(ranked, Ranked{
			DisasterID: sc.Event.ID,
			Context:    sc,
			Priority:   p.AnalyzePriority(sc),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if ar, br := a.Priority.Level.Rank(), b.Priority.Level.Rank(); ar != br {
			return ar > br
		}
		if a.Priority.Score != b.Priority.Score {
			return a.Priority.Score > b.Priority.Score
		}
		if !a.Context.Event.OccurredAt.Equal(b.Context.Event.OccurredAt) {
			return a.Context.Event.OccurredAt.Before(b.Context.Event.OccurredAt)
		}
		return a.DisasterID < b.DisasterID
	})

	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}

func (p *Prioritizer) scaleFor(kind disaster.Kind) config.KindScale {
	if s, ok := p.cfg.Scales[string(kind)]; ok {
		return s
	}
	if s, ok := p.cfg.Scales[string(disaster.KindOther)]; ok {
		return s
	}
	return config.KindScale{Multiplier: 0.75, TimeCriticality: 0.5}
}

// populationScore maps affected population onto [0,1] with a logarithmic
// reference scale plus boosts for vulnerable share and density.
func (p *Prioritizer) populationScore(sc *situation.Context) float64 {
	pop := sc.Population
	if pop == nil || pop.Total <= 0 {
		return 0
	}

	base := math.Min(math.Log10(float64(pop.Total))/5.0, 1.0)

	var vulnerableBoost float64
	if pop.Vulnerable > 0 {
		vulnerableBoost = float64(pop.Vulnerable) / float64(pop.Total) * 0.3
	}

	var densityBoost float64
	if pop.DensityPerKM2 > 1000 {
		densityBoost = math.Min(pop.DensityPerKM2/5000, 0.2)
	}

	return clamp01(base + vulnerableBoost + densityBoost)
}

// geographyScore maps scope and accessibility onto [0,1]. The affected-area
// count comes from the event itself, so a missing geography lookup only
// loses the terrain and blocked-route components.
func (p *Prioritizer) geographyScore(sc *situation.Context) float64 {
	areaScore := math.Min(float64(len(sc.Event.AffectedAreas))/10.0, 0.5)

	var terrainScore, routeScore float64
	if g := sc.Geography; g != nil {
		terrainScore = g.TerrainDifficulty * 0.3
		total := len(g.BlockedRoutes) + len(g.AccessibleRoutes)
		if total > 0 {
			routeScore = float64(len(g.BlockedRoutes)) / float64(total) * 0.4
		}
	}

	return clamp01(areaScore + terrainScore + routeScore)
}

// evacuationScore maps route capacity margin onto [0,1]. No known routes
// means maximum urgency.
func (p *Prioritizer) evacuationScore(sc *situation.Context) float64 {
	if len(sc.Routes) == 0 {
		return 1.0
	}

	capacity, load := sc.RouteCapacity()

	var capacityScore float64
	if capacity > 0 {
		capacityScore = float64(load) / float64(capacity) * 0.5
	} else {
		capacityScore = 1.0
	}

	var demandScore float64
	if pop := sc.Population; pop != nil && capacity > 0 && pop.Total > 0 {
		demandScore = math.Min(float64(pop.Total)/float64(capacity), 1.0) * 0.4
	} else {
		demandScore = 0.5
	}

	var totalMinutes int
	for _, r := range sc.Routes {
		totalMinutes += r.EstimatedMinutes
	}
	avgMinutes := float64(totalMinutes) / float64(len(sc.Routes))
	timeScore := math.Min(avgMinutes/120.0, 0.3)

	return clamp01(capacityScore + demandScore + timeScore)
}

// timeScore combines event severity with the kind's baseline time
// criticality from the configured scales.
func (p *Prioritizer) timeScore(sc *situation.Context, scale config.KindScale) float64 {
	severityScore := float64(sc.Event.Severity.Ordinal()) / 4.0
	return clamp01((severityScore + scale.TimeCriticality) / 2.0)
}

func requiredResources(kind disaster.Kind, level alert.Level) []alert.Resource {
	set := map[alert.Resource]struct{}{
		alert.ResourceShelter:       {},
		alert.ResourceCommunication: {},
	}
	for _, r := range kindResources[kind] {
		set[r] = struct{}{}
	}
	if level == alert.LevelCritical || level == alert.LevelHigh {
		set[alert.ResourceEvacTransport] = struct{}{}
		set[alert.ResourceUtilities] = struct{}{}
	}

	out := make([]alert.Resource, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
