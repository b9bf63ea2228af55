// Package disaster defines the DisasterEvent domain entity.
package disaster

import (
	"errors"
	"fmt"
	"time"
)

// Kind enumerates the disaster categories the engine understands.
type Kind string

const (
	KindFlood      Kind = "flood"
	KindEarthquake Kind = "earthquake"
	KindFire       Kind = "fire"
	KindCyclone    Kind = "cyclone"
	KindStorm      Kind = "storm"
	KindChemical   Kind = "chemical"
	KindOther      Kind = "other"
)

// Valid reports whether k is a known disaster kind.
func (k Kind) Valid() bool {
	switch k {
	case KindFlood, KindEarthquake, KindFire, KindCyclone, KindStorm, KindChemical, KindOther:
		return true
	}
	return false
}

// Severity is the ordinal severity reported with an event.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Ordinal returns the numeric rank of a severity, 1 (low) to 4 (critical).
// Unknown severities rank 0.
func (s Severity) Ordinal() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Location is a geographic point with optional address metadata.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
	AdminArea string  `json:"admin_area,omitempty"`
}

// Zero reports whether the location carries no coordinates.
func (l Location) Zero() bool {
	return l.Latitude == 0 && l.Longitude == 0 && l.Address == ""
}

// Event is an immutable disaster event as ingested from the trigger surface
// or the backend data source. Corrections arrive as a new Version; an Event
// is never mutated after creation.
type Event struct {
	ID                 string     `json:"id"`
	Version            int        `json:"version"`
	Kind               Kind       `json:"kind"`
	Severity           Severity   `json:"severity"`
	Location           Location   `json:"location"`
	OccurredAt         time.Time  `json:"occurred_at"`
	AffectedAreas      []Location `json:"affected_areas,omitempty"`
	ReportedPopulation int64      `json:"reported_population,omitempty"`
	ImpactEstimate     float64    `json:"impact_estimate,omitempty"`
}

// Validate checks the minimum field set required before a workflow may start.
func (e *Event) Validate() error {
	if e == nil {
		return errors.New("event is nil")
	}
	if e.ID == "" {
		return errors.New("event id is required")
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("unknown disaster kind %q", e.Kind)
	}
	if e.Severity.Ordinal() == 0 {
		return fmt.Errorf("unknown severity %q", e.Severity)
	}
	if e.Location.Zero() {
		return errors.New("event location is required")
	}
	if e.OccurredAt.IsZero() {
		return errors.New("event timestamp is required")
	}
	return nil
}
