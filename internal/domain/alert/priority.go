// Package alert defines alert priorities and dispatch outcomes.
package alert

import "time"

// Level is the alert priority level, totally ordered
// CRITICAL > HIGH > MEDIUM > LOW.
type Level string

const (
	LevelCritical Level = "critical"
	LevelHigh     Level = "high"
	LevelMedium   Level = "medium"
	LevelLow      Level = "low"
)

// Rank returns the urgency rank of a level, 4 (critical) down to 1 (low).
// Unknown levels rank 0.
func (l Level) Rank() int {
	switch l {
	case LevelCritical:
		return 4
	case LevelHigh:
		return 3
	case LevelMedium:
		return 2
	case LevelLow:
		return 1
	}
	return 0
}

// Resource names a responder resource type an alert may require.
type Resource string

const (
	ResourceMedical       Resource = "medical"
	ResourceFireRescue    Resource = "fire_rescue"
	ResourceSearchRescue  Resource = "search_rescue"
	ResourcePolice        Resource = "police"
	ResourceEvacTransport Resource = "evacuation_transport"
	ResourceShelter       Resource = "emergency_shelter"
	ResourceCommunication Resource = "communication"
	ResourceUtilities     Resource = "utilities"
)

// Priority is the computed alert priority for one structured context.
// It is computed once per context and re-computed only if the context changes.
type Priority struct {
	Level          Level         `json:"level"`
	Score          float64       `json:"score"` // 0..1
	Reasoning      []string      `json:"reasoning"`
	ResponseBudget time.Duration `json:"response_budget"`
	Resources      []Resource    `json:"resources"`

	// Uncertain is set when required scoring inputs were missing and the
	// level was defaulted to HIGH as a safety bias toward over-alerting.
	Uncertain  bool      `json:"uncertain,omitempty"`
	ComputedAt time.Time `json:"computed_at"`
}
