// Package service contains the orchestration engine's application services:
// context building, prioritization, dispatch and the response agent.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/openrelief/responder/internal/config"
	"github.com/openrelief/responder/internal/domain/disaster"
	"github.com/openrelief/responder/internal/domain/situation"
	"github.com/openrelief/responder/internal/port/enrich"
)

// confidencePenalty is the confidence cost of each missing context field.
var confidencePenalty = map[situation.Field]float64{
	situation.FieldGeography:  0.15,
	situation.FieldRoutes:     0.30,
	situation.FieldPopulation: 0.30,
	situation.FieldResources:  0.15,
}

// ContextBuilder merges geographic enrichment, evacuation routes and
// population/resource lookups into a StructuredContext. Each lookup is
// independent: a failing collaborator marks its field missing and the
// context is returned partial rather than discarded.
type ContextBuilder struct {
	services enrich.Services
	timeout  time.Duration
	now      func() time.Time
}

// NewContextBuilder creates a ContextBuilder over the given collaborators.
func NewContextBuilder(services enrich.Services, cfg config.Enrich) *ContextBuilder {
	timeout := cfg.LookupTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ContextBuilder{services: services, timeout: timeout, now: time.Now}
}

// BuildContext enriches the event into a StructuredContext. The four
// lookups run concurrently, each bounded by the configured lookup timeout.
// The only error returned is ctx cancellation; collaborator failures are
// absorbed into the Missing set.
func (b *ContextBuilder) BuildContext(ctx context.Context, ev *disaster.Event) (*situation.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sc := &situation.Context{Event: *ev, BuiltAt: b.now()}

	var (
		mu         sync.Mutex
		wg         sync.WaitGroup
		geography  *situation.Geography
		routes     []situation.Route
		population *situation.Population
		resources  *situation.Resources
		failed     []situation.Field
	)

	// Unbound collaborators are marked missing up front, before any lookup
	// goroutine exists, so failed is only ever appended to under mu once
	// the goroutines are running.
	if b.services.Geo == nil {
		failed = append(failed, situation.FieldGeography)
	}
	if b.services.Routes == nil {
		failed = append(failed, situation.FieldRoutes)
	}
	if b.services.Population == nil {
		failed = append(failed, situation.FieldPopulation)
	}
	if b.services.Resources == nil {
		failed = append(failed, situation.FieldResources)
	}

	markFailed := func(f situation.Field, err error) {
		mu.Lock()
		failed = append(failed, f)
		mu.Unlock()
		slog.Warn("context lookup failed",
			"disaster_id", ev.ID, "field", string(f), "error", err)
	}

	lookup := func(f situation.Field, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lctx, cancel := context.WithTimeout(ctx, b.timeout)
			defer cancel()
			if err := fn(lctx); err != nil {
				markFailed(f, err)
			}
		}()
	}

	if b.services.Geo != nil {
		lookup(situation.FieldGeography, func(lctx context.Context) error {
			g, err := b.services.Geo.Geography(lctx, ev)
			if err != nil {
				return err
			}
			mu.Lock()
			geography = g
			mu.Unlock()
			return nil
		})
	}

	if b.services.Routes != nil {
		lookup(situation.FieldRoutes, func(lctx context.Context) error {
			r, err := b.services.Routes.Routes(lctx, ev)
			if err != nil {
				return err
			}
			mu.Lock()
			routes = r
			mu.Unlock()
			return nil
		})
	}

	if b.services.Population != nil {
		lookup(situation.FieldPopulation, func(lctx context.Context) error {
			p, err := b.services.Population.Population(lctx, ev)
			if err != nil {
				return err
			}
			mu.Lock()
			population = p
			mu.Unlock()
			return nil
		})
	}

	if b.services.Resources != nil {
		lookup(situation.FieldResources, func(lctx context.Context) error {
			r, err := b.services.Resources.Resources(lctx, ev)
			if err != nil {
				return err
			}
			mu.Lock()
			resources = r
			mu.Unlock()
			return nil
		})
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sc.Geography = geography
	sc.Routes = routes
	sc.Population = population
	sc.Resources = resources
	for _, f := range failed {
		sc.MarkMissing(f)
	}

	sc.Confidence = confidence(sc.Missing)

	slog.Info("context built",
		"disaster_id", ev.ID,
		"complete", sc.Complete(),
		"missing", len(sc.Missing),
		"confidence", sc.Confidence,
	)
	return sc, nil
}

// Validate checks the minimum field set required before prioritization:
// a usable location plus at least one of routes or population. A failing
// context stays usable but is re-tagged partial with the missing fields
// surfaced to the caller.
func (b *ContextBuilder) Validate(sc *situation.Context) (ok bool, missing []situation.Field) {
	if sc.Event.Location.Zero() {
		return false, sc.Missing
	}
	if !sc.Has(situation.FieldRoutes) && !sc.Has(situation.FieldPopulation) {
		return false, sc.Missing
	}
	return true, sc.Missing
}

// FallbackContext builds a conservative context from the event alone, used
// when every enrichment collaborator is unreachable. All fields are marked
// missing; the population estimate falls back to the event's own report.
func (b *ContextBuilder) FallbackContext(ev *disaster.Event) *situation.Context {
	sc := &situation.Context{Event: *ev, BuiltAt: b.now()}
	for f := range confidencePenalty {
		sc.MarkMissing(f)
	}
	if ev.ReportedPopulation > 0 {
		// The event's own report is better than nothing, but the field
		// stays marked missing so downstream consumers see the uncertainty.
		sc.Population = &situation.Population{Total: ev.ReportedPopulation}
	}
	sc.Confidence = confidence(sc.Missing)
	return sc
}

func confidence(missing []situation.Field) float64 {
	c := 1.0
	for _, f := range missing {
		c -= confidencePenalty[f]
	}
	if c < 0.1 {
		c = 0.1
	}
	return c
}
