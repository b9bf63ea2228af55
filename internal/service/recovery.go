package service

import (
	"context"
	"fmt"

	rsotel "github.com/openrelief/responder/internal/adapter/otel"
	"github.com/openrelief/responder/internal/domain"
	"github.com/openrelief/responder/internal/domain/alert"
	"github.com/openrelief/responder/internal/domain/disaster"
	"github.com/openrelief/responder/internal/domain/workflow"
)

// RecoverFromFailure attempts to salvage a failed workflow. Depending on the
// stage and error kind it either re-runs the full pipeline with the cached
// event (the builder substitutes fallback inputs for collaborators that are
// still down), or skips straight to dispatch with a conservative default
// priority. Data errors are terminal and never recovered.
func (a *Agent) RecoverFromFailure(ctx context.Context, fc workflow.FailureContext) (*workflow.Response, error) {
	kind := domain.KindOf(fc.Err)
	if kind == domain.KindData {
		return nil, domain.DataErr("recover",
			fmt.Errorf("data errors are terminal: %w", fc.Err))
	}

	ev := fc.Event
	if ev == nil {
		ev = a.cachedEvent(fc.DisasterID)
	}
	if ev == nil {
		return nil, domain.TransientErr("recover",
			fmt.Errorf("no cached event for %s: %w", fc.DisasterID, fc.Err))
	}

	switch fc.Stage {
	case workflow.StageReceived, workflow.StageValidating, workflow.StageContextBuilding:
		return a.ProcessDisasterEvent(ctx, ev)

	case workflow.StagePrioritizing, workflow.StageDispatching:
		return a.dispatchConservative(ctx, ev)

	default:
		return nil, domain.SystemErr("recover",
			fmt.Errorf("no recovery path from stage %s: %w", fc.Stage, fc.Err))
	}
}

// dispatchConservative runs a shortened pipeline that skips enrichment and
// alerts on a fallback context. The fallback marks every field missing, so
// the prioritizer pins the conservative HIGH default.
func (a *Agent) dispatchConservative(ctx context.Context, ev *disaster.Event) (*workflow.Response, error) {
	if err := ev.Validate(); err != nil {
		return nil, domain.DataErr("recover", err)
	}

	inst, err := a.register(ev.ID, ev)
	if err != nil {
		return nil, err
	}

	go func() {
		defer close(inst.done)
		a.runConservative(inst, ev)
	}()

	select {
	case <-inst.done:
	case <-ctx.Done():
		return nil, domain.CancelledErr("recover", ctx.Err())
	}
	return a.Status(ev.ID)
}

func (a *Agent) runConservative(inst *instance, ev *disaster.Event) {
	ctx := inst.ctx
	id := inst.rec.DisasterID

	ctx, span := rsotel.StartWorkflowSpan(ctx, id, inst.rec.WorkflowID)
	defer span.End()

	if err := a.sem.Acquire(ctx, 1); err != nil {
		a.fail(inst, workflow.StageReceived, domain.CancelledErr("acquire slot", err))
		return
	}
	defer a.sem.Release(1)

	a.log.Warn("recovery: dispatching on conservative defaults", "disaster_id", id)

	a.setStage(inst, workflow.StageValidating)
	a.setEvent(inst, ev)

	a.setStage(inst, workflow.StageContextBuilding)
	sc := a.deps.Builder.FallbackContext(ev)
	a.markDegraded(inst)
	a.setContext(inst, sc)

	a.setStage(inst, workflow.StagePrioritizing)
	pri := a.deps.Prioritizer.AnalyzePriority(sc)
	a.setPriority(inst, pri)

	a.setStage(inst, workflow.StageDispatching)
	out, err := a.deps.Dispatcher.DispatchAlerts(ctx, pri, sc)
	a.setOutcome(inst, out)
	if a.deps.Monitor != nil && out != nil {
		a.deps.Monitor.DispatchObserved(out.Status, len(out.Attempts))
	}
	a.auditDispatch(id, out)
	if err != nil {
		a.fail(inst, workflow.StageDispatching, err)
		return
	}
	if out.Status == alert.Partial {
		a.markDegraded(inst)
	}

	a.setStage(inst, workflow.StageCompleted)
	a.finish(inst)
}
