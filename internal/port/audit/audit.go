// Package audit defines the port for publishing workflow audit events.
package audit

import (
	"context"
	"time"

	"github.com/openrelief/responder/internal/domain/alert"
	"github.com/openrelief/responder/internal/domain/workflow"
)

// Subjects for the audit stream. Consumers subscribe with "disasters.>".
const (
	SubjectStageChanged = "disasters.stage"
	SubjectDispatched   = "disasters.dispatched"
)

// StageChanged is published on every workflow stage transition.
type StageChanged struct {
	DisasterID string         `json:"disaster_id"`
	WorkflowID string         `json:"workflow_id"`
	Stage      workflow.Stage `json:"stage"`
	Degraded   bool           `json:"degraded,omitempty"`
	At         time.Time      `json:"at"`
}

// Dispatched is published once per dispatch outcome.
type Dispatched struct {
	DisasterID string              `json:"disaster_id"`
	AlertID    string              `json:"alert_id"`
	Status     alert.OutcomeStatus `json:"status"`
	Attempts   int                 `json:"attempts"`
	At         time.Time           `json:"at"`
}

// Publisher publishes audit events. Publishing is best effort; a failed
// publish is logged and never fails the workflow.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}
