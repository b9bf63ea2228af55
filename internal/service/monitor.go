package service

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/openrelief/responder/internal/domain"
	"github.com/openrelief/responder/internal/domain/alert"
	"github.com/openrelief/responder/internal/domain/workflow"
)

// HistoryEntry is one recorded stage transition for a disaster id.
type HistoryEntry struct {
	WorkflowID string         `json:"workflow_id"`
	Stage      workflow.Stage `json:"stage"`
	Degraded   bool           `json:"degraded,omitempty"`
	At         time.Time      `json:"at"`
}

// Stats is a point-in-time snapshot of the monitoring aggregates.
type Stats struct {
	Started   int64 `json:"started"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Degraded  int64 `json:"degraded"`
	Active    int64 `json:"active"`

	ByStage     map[workflow.Stage]int64      `json:"by_stage"`
	ByErrorKind map[domain.ErrorKind]int64    `json:"by_error_kind"`
	ByOutcome   map[alert.OutcomeStatus]int64 `json:"by_outcome"`

	AvgWorkflowSeconds float64 `json:"avg_workflow_seconds"`
}

// Monitor aggregates workflow observations in memory for the monitoring
// surface and mirrors them onto OpenTelemetry instruments. All methods are
// safe for concurrent use by workflow goroutines.
type Monitor struct {
	mu sync.RWMutex

	started   int64
	completed int64
	failed    int64
	degraded  int64
	active    int64

	byStage     map[workflow.Stage]int64
	byErrorKind map[domain.ErrorKind]int64
	byOutcome   map[alert.OutcomeStatus]int64

	totalDuration time.Duration
	finished      int64

	historyPerID int
	history      map[string][]HistoryEntry

	workflowsTotal   metric.Int64Counter
	workflowsActive  metric.Int64UpDownCounter
	stageTransitions metric.Int64Counter
	dispatchTotal    metric.Int64Counter
	workflowSeconds  metric.Float64Histogram
}

// NewMonitor creates a Monitor. The meter may be a no-op meter when no
// telemetry endpoint is configured; the in-memory aggregates work either way.
func NewMonitor(meter metric.Meter, historyPerID int) (*Monitor, error) {
	if historyPerID <= 0 {
		historyPerID = 50
	}

	workflowsTotal, err := meter.Int64Counter("responder.workflows.total",
		metric.WithDescription("Workflows started, by terminal outcome once finished"))
	if err != nil {
		return nil, err
	}
	workflowsActive, err := meter.Int64UpDownCounter("responder.workflows.active",
		metric.WithDescription("Workflows currently in a non-terminal stage"))
	if err != nil {
		return nil, err
	}
	stageTransitions, err := meter.Int64Counter("responder.stage.transitions",
		metric.WithDescription("Workflow stage transitions"))
	if err != nil {
		return nil, err
	}
	dispatchTotal, err := meter.Int64Counter("responder.dispatch.total",
		metric.WithDescription("Dispatch outcomes"))
	if err != nil {
		return nil, err
	}
	workflowSeconds, err := meter.Float64Histogram("responder.workflow.duration",
		metric.WithDescription("End-to-end workflow duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &Monitor{
		byStage:          make(map[workflow.Stage]int64),
		byErrorKind:      make(map[domain.ErrorKind]int64),
		byOutcome:        make(map[alert.OutcomeStatus]int64),
		historyPerID:     historyPerID,
		history:          make(map[string][]HistoryEntry),
		workflowsTotal:   workflowsTotal,
		workflowsActive:  workflowsActive,
		stageTransitions: stageTransitions,
		dispatchTotal:    dispatchTotal,
		workflowSeconds:  workflowSeconds,
	}, nil
}

// WorkflowStarted records a newly accepted workflow.
func (m *Monitor) WorkflowStarted() {
	m.mu.Lock()
	m.started++
	m.active++
	m.mu.Unlock()

	m.workflowsTotal.Add(context.Background(), 1)
	m.workflowsActive.Add(context.Background(), 1)
}

// StageChanged records one stage transition and appends it to the per-id
// history ring.
func (m *Monitor) StageChanged(disasterID, workflowID string, stage workflow.Stage, degraded bool, at time.Time) {
	m.mu.Lock()
	m.byStage[stage]++
	h := append(m.history[disasterID], HistoryEntry{
		WorkflowID: workflowID,
		Stage:      stage,
		Degraded:   degraded,
		At:         at,
	})
	if len(h) > m.historyPerID {
		h = h[len(h)-m.historyPerID:]
	}
	m.history[disasterID] = h
	m.mu.Unlock()

	m.stageTransitions.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("stage", string(stage))))
}

// WorkflowFinished records a workflow reaching a terminal stage.
func (m *Monitor) WorkflowFinished(stage workflow.Stage, degraded bool, took time.Duration) {
	m.mu.Lock()
	m.active--
	m.finished++
	m.totalDuration += took
	if stage == workflow.StageCompleted {
		m.completed++
	} else {
		m.failed++
	}
	if degraded {
		m.degraded++
	}
	m.mu.Unlock()

	m.workflowsActive.Add(context.Background(), -1)
	m.workflowSeconds.Record(context.Background(), took.Seconds(),
		metric.WithAttributes(attribute.String("stage", string(stage))))
}

// ErrorObserved records a classified stage error.
func (m *Monitor) ErrorObserved(kind domain.ErrorKind) {
	m.mu.Lock()
	m.byErrorKind[kind]++
	m.mu.Unlock()
}

// DispatchObserved records one dispatch outcome.
func (m *Monitor) DispatchObserved(status alert.OutcomeStatus, attempts int) {
	m.mu.Lock()
	m.byOutcome[status]++
	m.mu.Unlock()

	m.dispatchTotal.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("status", string(status)),
			attribute.Int("attempts", attempts),
		))
}

// Snapshot returns a copy of the current aggregates.
func (m *Monitor) Snapshot() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{
		Started:     m.started,
		Completed:   m.completed,
		Failed:      m.failed,
		Degraded:    m.degraded,
		Active:      m.active,
		ByStage:     make(map[workflow.Stage]int64, len(m.byStage)),
		ByErrorKind: make(map[domain.ErrorKind]int64, len(m.byErrorKind)),
		ByOutcome:   make(map[alert.OutcomeStatus]int64, len(m.byOutcome)),
	}
	for k, v := range m.byStage {
		s.ByStage[k] = v
	}
	for k, v := range m.byErrorKind {
		s.ByErrorKind[k] = v
	}
	for k, v := range m.byOutcome {
		s.ByOutcome[k] = v
	}
	if m.finished > 0 {
		s.AvgWorkflowSeconds = m.totalDuration.Seconds() / float64(m.finished)
	}
	return s
}

// History returns the recorded stage transitions for a disaster id,
// oldest first.
func (m *Monitor) History(disasterID string) []HistoryEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]HistoryEntry(nil), m.history[disasterID]...)
}
