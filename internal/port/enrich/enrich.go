// Package enrich defines the ports for the context-enrichment collaborators.
// Each lookup is independent; the context builder tolerates any subset of
// them failing.
package enrich

import (
	"context"

	"github.com/openrelief/responder/internal/domain/disaster"
	"github.com/openrelief/responder/internal/domain/situation"
)

// GeoService resolves affected areas and nearby safe locations.
type GeoService interface {
	Geography(ctx context.Context, ev *disaster.Event) (*situation.Geography, error)
}

// RouteService resolves evacuation route summaries for an event.
type RouteService interface {
	Routes(ctx context.Context, ev *disaster.Event) ([]situation.Route, error)
}

// PopulationService resolves affected population figures.
type PopulationService interface {
	Population(ctx context.Context, ev *disaster.Event) (*situation.Population, error)
}

// ResourceService resolves responder and shelter capacity near the event.
type ResourceService interface {
	Resources(ctx context.Context, ev *disaster.Event) (*situation.Resources, error)
}

// Services bundles the four collaborators for injection. Nil members are
// treated as unavailable and their fields marked missing.
type Services struct {
	Geo        GeoService
	Routes     RouteService
	Population PopulationService
	Resources  ResourceService
}
