package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	rsotel "github.com/openrelief/responder/internal/adapter/otel"
	"github.com/openrelief/responder/internal/config"
	"github.com/openrelief/responder/internal/domain"
	"github.com/openrelief/responder/internal/domain/alert"
	"github.com/openrelief/responder/internal/domain/disaster"
	"github.com/openrelief/responder/internal/domain/situation"
	"github.com/openrelief/responder/internal/domain/workflow"
	"github.com/openrelief/responder/internal/port/archive"
	"github.com/openrelief/responder/internal/port/audit"
	"github.com/openrelief/responder/internal/port/backend"
	"github.com/openrelief/responder/internal/port/broadcast"
	"github.com/openrelief/responder/internal/port/cache"
	"github.com/openrelief/responder/internal/resilience"
)

// Deps bundles the agent's collaborators for injection. Archive, Audit,
// Broadcast and Events may be nil; the agent then runs with the matching
// capability degraded.
type Deps struct {
	Source      backend.Source
	Events      cache.Cache
	Builder     *ContextBuilder
	Prioritizer *Prioritizer
	Dispatcher  *Dispatcher
	Archive     archive.Store
	Audit       audit.Publisher
	Broadcast   broadcast.Broadcaster
	Monitor     *Monitor
}

// instance is one registered workflow: the record plus the controls of the
// goroutine that owns it.
type instance struct {
	rec    *workflow.Record
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Agent is the orchestration engine. It owns the shared workflow registry,
// runs one goroutine per in-flight disaster, and sequences each workflow
// through validation, context building, prioritization and dispatch.
type Agent struct {
	cfg        config.Agent
	backendCfg config.Backend
	deps       Deps

	sem        *semaphore.Weighted
	srcBreaker *resilience.Breaker
	srcBackoff resilience.Backoff

	mu        sync.RWMutex
	workflows map[string]*instance

	baseCtx context.Context
	now     func() time.Time
	log     *slog.Logger
}

// NewAgent creates the orchestration agent. baseCtx bounds the lifetime of
// all workflow goroutines; cancelling it drains the agent on shutdown.
func NewAgent(baseCtx context.Context, cfg config.Config, deps Deps, log *slog.Logger) *Agent {
	maxConcurrent := cfg.Agent.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Agent{
		cfg:        cfg.Agent,
		backendCfg: cfg.Backend,
		deps:       deps,
		sem:        semaphore.NewWeighted(int64(maxConcurrent)),
		srcBreaker: resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Cooldown),
		srcBackoff: resilience.Backoff{
			Base:     cfg.Backend.RetryBase,
			Factor:   2,
			Max:      30 * time.Second,
			Jitter:   0.25,
			Attempts: cfg.Backend.MaxRetries,
		},
		workflows: make(map[string]*instance),
		baseCtx:   baseCtx,
		now:       time.Now,
		log:       log,
	}
}

// Trigger accepts a disaster id and starts its workflow asynchronously.
// It returns the workflow id immediately; progress is observable via Status.
// A second trigger for an id whose workflow is still in flight is rejected
// with domain.ErrWorkflowActive.
func (a *Agent) Trigger(ctx context.Context, disasterID string) (string, error) {
	if disasterID == "" {
		return "", domain.DataErr("trigger", fmt.Errorf("disaster id is required"))
	}

	inst, err := a.register(disasterID, nil)
	if err != nil {
		return "", err
	}

	go func() {
		defer close(inst.done)
		a.run(inst, nil)
	}()

	return inst.rec.WorkflowID, nil
}

// ProcessDisasterEvent runs the full pipeline synchronously for an already
// materialized event, returning the final workflow response.
func (a *Agent) ProcessDisasterEvent(ctx context.Context, ev *disaster.Event) (*workflow.Response, error) {
	if err := ev.Validate(); err != nil {
		return nil, domain.DataErr("process", err)
	}

	inst, err := a.register(ev.ID, ev)
	if err != nil {
		return nil, err
	}

	go func() {
		defer close(inst.done)
		a.run(inst, ev)
	}()

	select {
	case <-inst.done:
	case <-ctx.Done():
		return nil, domain.CancelledErr("process", ctx.Err())
	}
	return a.Status(ev.ID)
}

// ProcessRawEvent decodes a raw JSON event and runs it through
// ProcessDisasterEvent. Malformed payloads are data errors, never retried.
func (a *Agent) ProcessRawEvent(ctx context.Context, raw []byte) (*workflow.Response, error) {
	var ev disaster.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, domain.DataErr("decode event", err)
	}
	return a.ProcessDisasterEvent(ctx, &ev)
}

// HandleConcurrentDisasters runs one workflow per id concurrently, waits for
// all of them, and returns the responses ranked by priority (most urgent
// first). Each workflow proceeds independently: one failing never blocks
// the others.
func (a *Agent) HandleConcurrentDisasters(ctx context.Context, disasterIDs []string) ([]*workflow.Response, error) {
	if len(disasterIDs) == 0 {
		return nil, nil
	}

	var wg sync.WaitGroup
	for _, id := range disasterIDs {
		inst, err := a.register(id, nil)
		if err != nil {
			a.log.Warn("concurrent trigger rejected", "disaster_id", id, "error", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(inst.done)
			a.run(inst, nil)
		}()
	}

	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-ctx.Done():
		return nil, domain.CancelledErr("handle concurrent", ctx.Err())
	}

	responses := make([]*workflow.Response, 0, len(disasterIDs))
	for _, id := range disasterIDs {
		resp, err := a.Status(id)
		if err != nil {
			continue
		}
		responses = append(responses, resp)
	}

	sort.SliceStable(responses, func(i, j int) bool {
		pi, pj := responses[i].Priority, responses[j].Priority
		switch {
		case pi == nil && pj == nil:
			return responses[i].DisasterID < responses[j].DisasterID
		case pi == nil:
			return false
		case pj == nil:
			return true
		}
		if ri, rj := pi.Level.Rank(), pj.Level.Rank(); ri != rj {
			return ri > rj
		}
		if pi.Score != pj.Score {
			return pi.Score > pj.Score
		}
		return responses[i].DisasterID < responses[j].DisasterID
	})
	return responses, nil
}

// Cancel aborts an in-flight workflow. Terminal workflows cannot be
// cancelled.
func (a *Agent) Cancel(disasterID, reason string) error {
	a.mu.Lock()
	inst, ok := a.workflows[disasterID]
	if !ok {
		a.mu.Unlock()
		return domain.ErrNotFound
	}
	if inst.rec.Stage.Terminal() {
		a.mu.Unlock()
		return domain.DataErr("cancel", fmt.Errorf("workflow for %s already %s", disasterID, inst.rec.Stage))
	}
	inst.rec.CancelReason = reason
	cancel := inst.cancel
	a.mu.Unlock()

	cancel()
	return nil
}

// Status returns a snapshot of the workflow for a disaster id. Ids absent
// from the registry fall back to the archive when one is configured.
func (a *Agent) Status(disasterID string) (*workflow.Response, error) {
	a.mu.RLock()
	inst, ok := a.workflows[disasterID]
	var snap *workflow.Record
	if ok {
		snap = inst.rec.Clone()
	}
	a.mu.RUnlock()

	if ok {
		return workflow.ResponseFrom(snap), nil
	}
	if a.deps.Archive != nil {
		rec, err := a.deps.Archive.GetRecord(context.Background(), disasterID)
		if err == nil {
			return workflow.ResponseFrom(rec), nil
		}
	}
	return nil, domain.ErrNotFound
}

// ActiveDisasters returns the ids of all non-terminal workflows, sorted.
func (a *Agent) ActiveDisasters() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ids := make([]string, 0, len(a.workflows))
	for id, inst := range a.workflows {
		if !inst.rec.Stage.Terminal() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ClearTerminal drops terminal records older than the retention window from
// the in-memory registry and reports how many were removed.
func (a *Agent) ClearTerminal(olderThan time.Duration) int {
	cutoff := a.now().Add(-olderThan)
	a.mu.Lock()
	defer a.mu.Unlock()

	removed := 0
	for id, inst := range a.workflows {
		if inst.rec.Stage.Terminal() && inst.rec.CompletedAt != nil && inst.rec.CompletedAt.Before(cutoff) {
			delete(a.workflows, id)
			removed++
		}
	}
	return removed
}

// register creates and publishes the RECEIVED record for a disaster id.
// An id with a non-terminal workflow is rejected; a terminal one is
// replaced by the new workflow.
func (a *Agent) register(disasterID string, ev *disaster.Event) (*instance, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if existing, ok := a.workflows[disasterID]; ok && !existing.rec.Stage.Terminal() {
		return nil, domain.ErrWorkflowActive
	}

	ctx, cancel := context.WithCancel(a.baseCtx)
	now := a.now()
	inst := &instance{
		rec: &workflow.Record{
			WorkflowID: uuid.NewString(),
			DisasterID: disasterID,
			Stage:      workflow.StageReceived,
			Event:      ev,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	inst.ctx = ctx
	a.workflows[disasterID] = inst

	if a.deps.Monitor != nil {
		a.deps.Monitor.WorkflowStarted()
	}
	a.log.Info("workflow accepted",
		"disaster_id", disasterID, "workflow_id", inst.rec.WorkflowID)
	return inst, nil
}

// run drives one workflow through the pipeline. It is the only goroutine
// that mutates the record; every transition goes through setStage.
func (a *Agent) run(inst *instance, ev *disaster.Event) {
	ctx := inst.ctx
	id := inst.rec.DisasterID

	ctx, span := rsotel.StartWorkflowSpan(ctx, id, inst.rec.WorkflowID)
	defer span.End()

	if err := a.sem.Acquire(ctx, 1); err != nil {
		a.fail(inst, workflow.StageReceived, domain.CancelledErr("acquire slot", err))
		return
	}
	defer a.sem.Release(1)

	// VALIDATING: materialize and validate the event.
	a.setStage(inst, workflow.StageValidating)
	if ev == nil {
		fetched, degraded, err := a.fetchEvent(ctx, id)
		if err != nil {
			a.fail(inst, workflow.StageValidating, err)
			return
		}
		ev = fetched
		if degraded {
			a.markDegraded(inst)
		}
	}
	if err := ev.Validate(); err != nil {
		a.fail(inst, workflow.StageValidating, domain.DataErr("validate event", err))
		return
	}
	a.setEvent(inst, ev)
	a.cacheEvent(ev)

	// CONTEXT_BUILDING.
	a.setStage(inst, workflow.StageContextBuilding)
	sctx, cancel := context.WithTimeout(ctx, a.stageTimeout())
	sc, err := a.deps.Builder.BuildContext(sctx, ev)
	cancel()
	if err != nil {
		a.fail(inst, workflow.StageContextBuilding, domain.CancelledErr("build context", err))
		return
	}
	if ok, missing := a.deps.Builder.Validate(sc); !ok {
		// All collaborators down: continue on the event alone rather
		// than dropping the disaster.
		a.log.Warn("context unusable, falling back to event-only context",
			"disaster_id", id, "missing", missing)
		sc = a.deps.Builder.FallbackContext(ev)
		a.markDegraded(inst)
	} else if sc.Partial() {
		a.markDegraded(inst)
	}
	a.setContext(inst, sc)

	// PRIORITIZING.
	a.setStage(inst, workflow.StagePrioritizing)
	pri := a.deps.Prioritizer.AnalyzePriority(sc)
	if pri.Uncertain {
		a.markDegraded(inst)
	}
	a.setPriority(inst, pri)

	// DISPATCHING.
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

// fetchEvent pulls the event from the backend source with bounded retries.
// When the source stays down, the last-known-good cached event is used and
// the workflow marked degraded.
func (a *Agent) fetchEvent(ctx context.Context, id string) (ev *disaster.Event, degraded bool, err error) {
	if a.deps.Source == nil {
		if cached := a.cachedEvent(id); cached != nil {
			return cached, true, nil
		}
		return nil, false, domain.SystemErr("fetch event", fmt.Errorf("no data source configured"))
	}

	attempts := a.srcBackoff.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for try := 1; try <= attempts; try++ {
		if !a.srcBreaker.Allow() {
			lastErr = resilience.ErrOpen
			break
		}
		fctx, cancel := context.WithTimeout(ctx, a.backendCfg.Timeout)
		ev, lastErr = a.deps.Source.GetDisasterData(fctx, id)
		cancel()

		if lastErr == nil {
			a.srcBreaker.Success()
			return ev, false, nil
		}
		a.srcBreaker.Failure()

		if errorsIsNotFound(lastErr) {
			// Unknown disaster ids are malformed input, not an outage.
			return nil, false, domain.DataErr("fetch event", lastErr)
		}
		if domain.KindOf(lastErr) == domain.KindData {
			return nil, false, lastErr
		}
		if try < attempts {
			if serr := resilience.Sleep(ctx, a.srcBackoff.Delay(try)); serr != nil {
				return nil, false, domain.CancelledErr("fetch event", serr)
			}
		}
	}

	if cached := a.cachedEvent(id); cached != nil {
		a.log.Warn("backend unreachable, using last-known-good event",
			"disaster_id", id, "error", lastErr)
		return cached, true, nil
	}
	return nil, false, domain.TransientErr("fetch event",
		fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, lastErr))
}

func (a *Agent) cacheEvent(ev *disaster.Event) {
	if a.deps.Events == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := a.deps.Events.Set(context.Background(), eventCacheKey(ev.ID), data, a.backendCfg.CacheTTL); err != nil {
		a.log.Warn("event cache write failed", "disaster_id", ev.ID, "error", err)
	}
}

func (a *Agent) cachedEvent(id string) *disaster.Event {
	if a.deps.Events == nil {
		return nil
	}
	data, ok, err := a.deps.Events.Get(context.Background(), eventCacheKey(id))
	if err != nil || !ok {
		return nil
	}
	var ev disaster.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil
	}
	return &ev
}

func eventCacheKey(id string) string { return "event:" + id }

// fail moves the workflow to FAILED, recording the classified error.
func (a *Agent) fail(inst *instance, stage workflow.Stage, err error) {
	kind := domain.KindOf(err)
	if inst.ctx.Err() != nil && kind != domain.KindData {
		kind = domain.KindCancelled
	}

	a.mu.Lock()
	now := a.now()
	inst.rec.RecordError(stage, kind, err.Error(), now)
	inst.rec.Stage = workflow.StageFailed
	inst.rec.CompletedAt = &now
	inst.rec.UpdatedAt = now
	snap := inst.rec.Clone()
	a.mu.Unlock()

	if a.deps.Monitor != nil {
		a.deps.Monitor.ErrorObserved(kind)
		a.deps.Monitor.StageChanged(snap.DisasterID, snap.WorkflowID, workflow.StageFailed, snap.Degraded, now)
		a.deps.Monitor.WorkflowFinished(workflow.StageFailed, snap.Degraded, now.Sub(snap.CreatedAt))
	}
	a.publishStage(snap)
	a.archiveRecord(snap)

	a.log.Error("workflow failed",
		"disaster_id", snap.DisasterID,
		"stage", string(stage),
		"kind", string(kind),
		"error", err,
	)
}

// finish completes the bookkeeping for a COMPLETED workflow.
func (a *Agent) finish(inst *instance) {
	a.mu.Lock()
	now := a.now()
	inst.rec.CompletedAt = &now
	inst.rec.UpdatedAt = now
	snap := inst.rec.Clone()
	a.mu.Unlock()

	if a.deps.Monitor != nil {
		a.deps.Monitor.WorkflowFinished(workflow.StageCompleted, snap.Degraded, now.Sub(snap.CreatedAt))
	}
	a.archiveRecord(snap)

	a.log.Info("workflow completed",
		"disaster_id", snap.DisasterID,
		"workflow_id", snap.WorkflowID,
		"degraded", snap.Degraded,
		"took", now.Sub(snap.CreatedAt),
	)
}

// setStage performs a validated stage transition and fans the update out to
// the monitor, the audit stream and the live broadcast.
func (a *Agent) setStage(inst *instance, to workflow.Stage) {
	a.mu.Lock()
	from := inst.rec.Stage
	if !workflow.CanTransition(from, to) {
		a.mu.Unlock()
		a.log.Error("illegal stage transition dropped",
			"disaster_id", inst.rec.DisasterID, "from", string(from), "to", string(to))
		return
	}
	now := a.now()
	inst.rec.Stage = to
	inst.rec.UpdatedAt = now
	snap := inst.rec.Clone()
	a.mu.Unlock()

	if a.deps.Monitor != nil {
		a.deps.Monitor.StageChanged(snap.DisasterID, snap.WorkflowID, to, snap.Degraded, now)
	}
	a.publishStage(snap)
}

func (a *Agent) setEvent(inst *instance, ev *disaster.Event) {
	a.mu.Lock()
	inst.rec.Event = ev
	inst.rec.UpdatedAt = a.now()
	a.mu.Unlock()
}

func (a *Agent) setContext(inst *instance, sc *situation.Context) {
	a.mu.Lock()
	inst.rec.Context = sc
	inst.rec.UpdatedAt = a.now()
	a.mu.Unlock()
}

func (a *Agent) setPriority(inst *instance, pri *alert.Priority) {
	a.mu.Lock()
	inst.rec.Priority = pri
	inst.rec.UpdatedAt = a.now()
	a.mu.Unlock()
}

func (a *Agent) setOutcome(inst *instance, out *alert.Outcome) {
	a.mu.Lock()
	inst.rec.Outcome = out
	inst.rec.UpdatedAt = a.now()
	a.mu.Unlock()
}

func (a *Agent) markDegraded(inst *instance) {
	a.mu.Lock()
	inst.rec.Degraded = true
	inst.rec.UpdatedAt = a.now()
	a.mu.Unlock()
}

func (a *Agent) publishStage(snap *workflow.Record) {
	now := a.now()
	if a.deps.Broadcast != nil {
		a.deps.Broadcast.WorkflowUpdate(context.Background(), broadcast.Update{
			DisasterID: snap.DisasterID,
			Stage:      snap.Stage,
			Degraded:   snap.Degraded,
			At:         now,
		})
	}
	if a.deps.Audit != nil {
		data, err := json.Marshal(audit.StageChanged{
			DisasterID: snap.DisasterID,
			WorkflowID: snap.WorkflowID,
			Stage:      snap.Stage,
			Degraded:   snap.Degraded,
			At:         now,
		})
		if err == nil {
			if perr := a.deps.Audit.Publish(context.Background(), audit.SubjectStageChanged, data); perr != nil {
				a.log.Warn("audit publish failed", "disaster_id", snap.DisasterID, "error", perr)
			}
		}
	}
}

func (a *Agent) auditDispatch(disasterID string, out *alert.Outcome) {
	if a.deps.Audit == nil || out == nil {
		return
	}
	data, err := json.Marshal(audit.Dispatched{
		DisasterID: disasterID,
		AlertID:    out.AlertID,
		Status:     out.Status,
		Attempts:   len(out.Attempts),
		At:         a.now(),
	})
	if err != nil {
		return
	}
	if perr := a.deps.Audit.Publish(context.Background(), audit.SubjectDispatched, data); perr != nil {
		a.log.Warn("audit publish failed", "disaster_id", disasterID, "error", perr)
	}
}

func (a *Agent) archiveRecord(snap *workflow.Record) {
	if a.deps.Archive == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.deps.Archive.SaveRecord(actx, snap); err != nil {
		a.log.Warn("archive write failed", "disaster_id", snap.DisasterID, "error", err)
	}
}

func (a *Agent) stageTimeout() time.Duration {
	if a.cfg.StageTimeout > 0 {
		return a.cfg.StageTimeout
	}
	return 30 * time.Second
}

// ServiceReport describes the agent's capabilities at a point in time.
// A missing collaborator degrades the matching capability instead of
// failing startup.
type ServiceReport struct {
	Healthy      bool            `json:"healthy"`
	Degraded     bool            `json:"degraded"`
	Capabilities map[string]bool `json:"capabilities"`
	Active       int             `json:"active_workflows"`
}

// ServiceStatus probes the agent's collaborators and reports which
// capabilities are currently available.
func (a *Agent) ServiceStatus(ctx context.Context) ServiceReport {
	caps := map[string]bool{
		"backend":   false,
		"archive":   a.deps.Archive != nil,
		"audit":     a.deps.Audit != nil,
		"broadcast": a.deps.Broadcast != nil,
		"cache":     a.deps.Events != nil,
		"geography": a.deps.Builder != nil && a.deps.Builder.services.Geo != nil,
		"routes":    a.deps.Builder != nil && a.deps.Builder.services.Routes != nil,
		"population": a.deps.Builder != nil &&
			a.deps.Builder.services.Population != nil,
		"resources": a.deps.Builder != nil && a.deps.Builder.services.Resources != nil,
	}
	if a.deps.Source != nil {
		pctx, cancel := context.WithTimeout(ctx, a.backendCfg.Timeout)
		caps["backend"] = a.deps.Source.Ping(pctx) == nil
		cancel()
	}

	degraded := false
	for _, ok := range caps {
		if !ok {
			degraded = true
			break
		}
	}
	return ServiceReport{
		Healthy:      true,
		Degraded:     degraded,
		Capabilities: caps,
		Active:       len(a.ActiveDisasters()),
	}
}

func errorsIsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

