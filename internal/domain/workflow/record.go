// Package workflow defines the per-disaster workflow record and its
// stage machine.
package workflow

import (
	"time"

	"github.com/openrelief/responder/internal/domain"
	"github.com/openrelief/responder/internal/domain/alert"
	"github.com/openrelief/responder/internal/domain/disaster"
	"github.com/openrelief/responder/internal/domain/situation"
)

// Stage is the current pipeline stage of a workflow.
type Stage string

const (
	StageReceived        Stage = "received"
	StageValidating      Stage = "validating"
	StageContextBuilding Stage = "context_building"
	StagePrioritizing    Stage = "prioritizing"
	StageDispatching     Stage = "dispatching"
	StageCompleted       Stage = "completed"
	StageFailed          Stage = "failed"
)

// Terminal reports whether the stage ends the workflow.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// next holds the forward pipeline order. FAILED is reachable from any
// non-terminal stage and is not listed here.
var next = map[Stage]Stage{
	StageReceived:        StageValidating,
	StageValidating:      StageContextBuilding,
	StageContextBuilding: StagePrioritizing,
	StagePrioritizing:    StageDispatching,
	StageDispatching:     StageCompleted,
}

// CanTransition reports whether a workflow may move from one stage to another.
func CanTransition(from, to Stage) bool {
	if from.Terminal() {
		return false
	}
	if to == StageFailed {
		return true
	}
	return next[from] == to
}

// StageError is one entry in a workflow's error history.
type StageError struct {
	Stage   Stage            `json:"stage"`
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message"`
	At      time.Time        `json:"at"`
}

// Record tracks one disaster id through the pipeline. A record is created
// when a trigger is accepted and mutated only by the single workflow
// goroutine assigned to that disaster id; readers get cloned snapshots.
type Record struct {
	WorkflowID string `json:"workflow_id"`
	DisasterID string `json:"disaster_id"`
	Stage      Stage  `json:"stage"`

	// Degraded is set when the workflow continued past a partial context
	// or a partially failed dispatch.
	Degraded bool `json:"degraded,omitempty"`

	Event    *disaster.Event    `json:"event,omitempty"`
	Context  *situation.Context `json:"context,omitempty"`
	Priority *alert.Priority    `json:"priority,omitempty"`
	Outcome  *alert.Outcome     `json:"outcome,omitempty"`

	Errors       []StageError `json:"errors,omitempty"`
	CancelReason string       `json:"cancel_reason,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// RecordError appends a stage error to the history.
func (r *Record) RecordError(stage Stage, kind domain.ErrorKind, msg string, at time.Time) {
	r.Errors = append(r.Errors, StageError{Stage: stage, Kind: kind, Message: msg, At: at})
	r.UpdatedAt = at
}

// Clone returns a deep-enough copy for read-side consumers. Nested pointers
// reference immutable values once the owning goroutine has published them.
func (r *Record) Clone() *Record {
	cp := *r
	cp.Errors = append([]StageError(nil), r.Errors...)
	return &cp
}

// Response summarizes a finished (or failing) workflow for callers.
type Response struct {
	DisasterID string             `json:"disaster_id"`
	WorkflowID string             `json:"workflow_id"`
	Stage      Stage              `json:"stage"`
	Degraded   bool               `json:"degraded,omitempty"`
	Context    *situation.Context `json:"context,omitempty"`
	Priority   *alert.Priority    `json:"priority,omitempty"`
	Outcome    *alert.Outcome     `json:"outcome,omitempty"`
	Errors     []StageError       `json:"errors,omitempty"`
}

// ResponseFrom builds a Response from a record snapshot.
func ResponseFrom(r *Record) *Response {
	return &Response{
		DisasterID: r.DisasterID,
		WorkflowID: r.WorkflowID,
		Stage:      r.Stage,
		Degraded:   r.Degraded,
		Context:    r.Context,
		Priority:   r.Priority,
		Outcome:    r.Outcome,
		Errors:     r.Errors,
	}
}

// FailureContext describes a stage failure handed to the recovery path.
type FailureContext struct {
	DisasterID string
	Stage      Stage
	Err        error
	Event      *disaster.Event
}
