// Package situation defines the StructuredContext built around a disaster
// event before prioritization and dispatch.
package situation

import (
	"slices"
	"time"

	"github.com/openrelief/responder/internal/domain/disaster"
)

// Field names the independently sourced parts of a context. Any part that
// could not be fetched is listed in Context.Missing rather than left nil
// silently.
type Field string

const (
	FieldGeography  Field = "geography"
	FieldRoutes     Field = "routes"
	FieldPopulation Field = "population"
	FieldResources  Field = "resources"
)

// SafeLocation is a shelter-capable destination near the affected area.
type SafeLocation struct {
	Name     string            `json:"name"`
	Category string            `json:"category"` // hospital, shelter, underground
	Location disaster.Location `json:"location"`
	Capacity int               `json:"capacity"`
}

// Geography describes the affected areas and what surrounds them.
type Geography struct {
	AffectedAreas     []disaster.Location `json:"affected_areas"`
	SafeLocations     []SafeLocation      `json:"safe_locations,omitempty"`
	BlockedRoutes     []string            `json:"blocked_routes,omitempty"`
	AccessibleRoutes  []string            `json:"accessible_routes,omitempty"`
	TerrainDifficulty float64             `json:"terrain_difficulty,omitempty"` // 0..1
}

// Route summarizes one evacuation route.
type Route struct {
	ID               string            `json:"id"`
	From             disaster.Location `json:"from"`
	To               disaster.Location `json:"to"`
	DistanceKM       float64           `json:"distance_km"`
	EstimatedMinutes int               `json:"estimated_minutes"`
	Capacity         int               `json:"capacity"`
	CurrentLoad      int               `json:"current_load"`
}

// Population holds the affected population figures.
type Population struct {
	Total         int64   `json:"total"`
	Vulnerable    int64   `json:"vulnerable"`
	DensityPerKM2 float64 `json:"density_per_km2,omitempty"`
}

// Resources inventories responder and shelter capacity near the event.
type Resources struct {
	Shelters          int `json:"shelters"`
	ShelterCapacity   int `json:"shelter_capacity"`
	MedicalFacilities int `json:"medical_facilities"`
	EmergencyVehicles int `json:"emergency_vehicles"`
}

// Context is the structured situational picture for one disaster event.
// It is owned exclusively by the workflow instance that built it.
type Context struct {
	Event      disaster.Event `json:"event"`
	Geography  *Geography     `json:"geography,omitempty"`
	Routes     []Route        `json:"routes,omitempty"`
	Population *Population    `json:"population,omitempty"`
	Resources  *Resources     `json:"resources,omitempty"`

	// Missing lists every field that could not be sourced, kept sorted so
	// equal contexts compare equal. A context is complete iff Missing is empty.
	Missing    []Field   `json:"missing,omitempty"`
	Confidence float64   `json:"confidence"`
	BuiltAt    time.Time `json:"built_at"`
}

// Complete reports whether every field was sourced.
func (c *Context) Complete() bool { return len(c.Missing) == 0 }

// Partial reports whether at least one field is missing.
func (c *Context) Partial() bool { return len(c.Missing) > 0 }

// Has reports whether the named field was sourced.
func (c *Context) Has(f Field) bool { return !slices.Contains(c.Missing, f) }

// MarkMissing records f as unavailable. Idempotent; keeps Missing sorted.
func (c *Context) MarkMissing(f Field) {
	if slices.Contains(c.Missing, f) {
		return
	}
	c.Missing = append(c.Missing, f)
	slices.Sort(c.Missing)
}

// RouteCapacity sums the remaining capacity across all known routes.
func (c *Context) RouteCapacity() (capacity, load int) {
	for _, r := range c.Routes {
		capacity += r.Capacity
		load += r.CurrentLoad
	}
	return capacity, load
}
